package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	OAuthErrorSignatureMismatch  = "OAUTH_SIGNATURE_MISMATCH"
	OAuthErrorNonceReplayed      = "OAUTH_NONCE_REPLAYED"
	OAuthErrorUnknownConsumer    = "OAUTH_UNKNOWN_CONSUMER"
	OAuthErrorTokenNotFound      = "OAUTH_TOKEN_NOT_FOUND"
	OAuthErrorTokenNotAuthorized = "OAUTH_TOKEN_NOT_AUTHORIZED"
	OAuthErrorMissingRecord      = "OAUTH_MISSING_RECORD"
	OAuthErrorConnectInvalid     = "OAUTH_CONNECT_INVALID"
	OAuthErrorBadInput           = "OAUTH_BAD_INPUT"
	OAuthErrorStoreFailure       = "OAUTH_STORE_ERROR"
	OAuthErrorInternal           = "OAUTH_INTERNAL_ERROR"
)

func providerErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureProviderErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrSignatureMismatch):
		return newProviderError(err.Error(), goerrors.CategoryAuth, OAuthErrorSignatureMismatch)
	case errors.Is(err, ErrReplayedNonce):
		return newProviderError(err.Error(), goerrors.CategoryAuth, OAuthErrorNonceReplayed)
	case errors.Is(err, ErrUnknownConsumer):
		return newProviderError(err.Error(), goerrors.CategoryAuth, OAuthErrorUnknownConsumer)
	case errors.Is(err, ErrTokenNotFound):
		return newProviderError(err.Error(), goerrors.CategoryAuth, OAuthErrorTokenNotFound)
	case errors.Is(err, ErrVerifierMismatch):
		return newProviderError(err.Error(), goerrors.CategoryAuth, OAuthErrorSignatureMismatch)
	case errors.Is(err, ErrTokenNotAuthorized):
		return newProviderError(err.Error(), goerrors.CategoryAuthz, OAuthErrorTokenNotAuthorized)
	case errors.Is(err, ErrMissingRecord):
		return newProviderError(err.Error(), goerrors.CategoryBadInput, OAuthErrorMissingRecord)
	case errors.Is(err, ErrInvalidConnectRequest):
		return newProviderError(err.Error(), goerrors.CategoryAuth, OAuthErrorConnectInvalid)
	case errors.Is(err, ErrInvalidPolicyClass), errors.Is(err, ErrInvalidTokenState):
		return newProviderError(err.Error(), goerrors.CategoryBadInput, OAuthErrorBadInput)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "missing"):
		return newProviderError(err.Error(), goerrors.CategoryBadInput, OAuthErrorBadInput)
	case strings.Contains(msg, "store"), strings.Contains(msg, "database"), strings.Contains(msg, "sql"):
		return newProviderError(err.Error(), goerrors.CategoryExternal, OAuthErrorStoreFailure)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureProviderErrorEnvelope(mapped)
}

func newProviderError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureProviderErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureProviderErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = providerHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultProviderTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultProviderTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return OAuthErrorBadInput
	case goerrors.CategoryNotFound:
		return OAuthErrorTokenNotFound
	case goerrors.CategoryAuth:
		return OAuthErrorSignatureMismatch
	case goerrors.CategoryAuthz:
		return OAuthErrorTokenNotAuthorized
	case goerrors.CategoryExternal:
		return OAuthErrorStoreFailure
	default:
		return OAuthErrorInternal
	}
}

func providerHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
