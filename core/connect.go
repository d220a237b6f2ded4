package core

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"
)

// Connect claim parameters carried alongside the oauth_* params of a launch
// request.
const (
	ConnectParamAPIBase     = "smart_container_api_base"
	ConnectParamAppID       = "smart_app_id"
	ConnectParamToken       = "smart_oauth_token"
	ConnectParamTokenSecret = "smart_oauth_token_secret"
	ConnectParamUserID      = "smart_user_id"
	ConnectParamRecordID    = "smart_record_id"
)

type ConnectClaims struct {
	APIBase     string
	AppID       string
	Token       string
	TokenSecret string
	UserID      string
	RecordID    string
}

func (c ConnectClaims) complete() bool {
	return c.APIBase != "" && c.AppID != "" && c.Token != "" &&
		c.TokenSecret != "" && c.UserID != "" && c.RecordID != ""
}

func connectClaimsFromRequest(req SignedRequest) ConnectClaims {
	return ConnectClaims{
		APIBase:     strings.TrimSpace(req.Param(ConnectParamAPIBase)),
		AppID:       strings.TrimSpace(req.Param(ConnectParamAppID)),
		Token:       strings.TrimSpace(req.Param(ConnectParamToken)),
		TokenSecret: strings.TrimSpace(req.Param(ConnectParamTokenSecret)),
		UserID:      strings.TrimSpace(req.Param(ConnectParamUserID)),
		RecordID:    strings.TrimSpace(req.Param(ConnectParamRecordID)),
	}
}

// ConnectVerifier validates in-browser launch requests. These are signed with
// blank consumer and token secrets, so the signature only proves integrity;
// authenticity comes from cross-checking every claim in the bundle against
// stored state. Any inconsistency collapses to the same error so a probing
// client learns nothing about which claim was wrong.
type ConnectVerifier struct {
	server   *Server
	sessions SessionStore
}

func NewConnectVerifier(server *Server) (*ConnectVerifier, error) {
	if server == nil {
		return nil, fmt.Errorf("core: server is required")
	}
	return &ConnectVerifier{server: server}, nil
}

// WithSessionStore enables the login-session binding: a launch that carries an
// oauth_token must present a live session token bound to the asserted user.
func (v *ConnectVerifier) WithSessionStore(store SessionStore) *ConnectVerifier {
	if v != nil {
		v.sessions = store
	}
	return v
}

// Verify authenticates a connect launch request and returns the access token
// with its share. The caller scopes record access to the returned share.
func (v *ConnectVerifier) Verify(ctx context.Context, req SignedRequest) (access AccessToken, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"consumer_key": req.ConsumerKey(),
	}
	defer func() {
		v.server.observeOperation(ctx, startedAt, "verify_connect_request", err, fields)
	}()

	access, err = v.verify(ctx, req)
	if err != nil {
		// One failure mode outward regardless of which check tripped.
		err = v.server.mapError(ErrInvalidConnectRequest)
		return AccessToken{}, err
	}
	return access, nil
}

func (v *ConnectVerifier) verify(ctx context.Context, req SignedRequest) (AccessToken, error) {
	if v == nil || v.server == nil || v.server.tokenStore == nil {
		return AccessToken{}, fmt.Errorf("core: connect verifier is not configured")
	}

	claims := connectClaimsFromRequest(req)
	if !claims.complete() {
		return AccessToken{}, ErrInvalidConnectRequest
	}

	// Blank secrets: the signature binds the params together but carries no
	// shared secret.
	if err := VerifySignature(req, "", ""); err != nil {
		return AccessToken{}, err
	}
	if err := v.server.claimNonce(ctx, req); err != nil {
		return AccessToken{}, err
	}

	apiBase := strings.TrimRight(v.server.config.APIBase, "/")
	if apiBase == "" || strings.TrimRight(claims.APIBase, "/") != apiBase {
		return AccessToken{}, ErrInvalidConnectRequest
	}

	// The app identity claim is the consumer's contact identity, not its key.
	consumer, err := v.server.resolveConsumerByEmail(ctx, claims.AppID)
	if err != nil {
		return AccessToken{}, err
	}

	access, err := v.server.tokenStore.LookupConnectAccessToken(ctx, consumer, claims.Token)
	if err != nil {
		return AccessToken{}, err
	}
	if !access.SmartConnect {
		return AccessToken{}, ErrInvalidConnectRequest
	}
	if subtle.ConstantTimeCompare([]byte(access.Secret), []byte(claims.TokenSecret)) != 1 {
		return AccessToken{}, ErrInvalidConnectRequest
	}
	if access.Share.RecordID != claims.RecordID {
		return AccessToken{}, ErrInvalidConnectRequest
	}
	if access.Share.AccountID != claims.UserID {
		return AccessToken{}, ErrInvalidConnectRequest
	}

	// A launch made from inside a logged-in session carries the session token
	// as oauth_token; the asserted user must be that session's account too.
	if tokenStr := strings.TrimSpace(req.Token()); tokenStr != "" {
		if v.sessions == nil {
			return AccessToken{}, ErrInvalidConnectRequest
		}
		session, err := v.sessions.LookupSessionToken(ctx, tokenStr)
		if err != nil {
			return AccessToken{}, err
		}
		if session.Expired(v.server.now()) {
			return AccessToken{}, ErrInvalidConnectRequest
		}
		if session.AccountID != claims.UserID {
			return AccessToken{}, ErrInvalidConnectRequest
		}
	}
	return access, nil
}
