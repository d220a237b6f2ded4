package command

import (
	"strings"

	"github.com/goliatone/go-oauth-provider/core"
)

const (
	TypeIssueRequestToken     = "oauthprovider.command.request_token.issue"
	TypeAuthorizeRequestToken = "oauthprovider.command.request_token.authorize"
	TypeExchangeRequestToken  = "oauthprovider.command.request_token.exchange"
	TypePreauthorizeAccess    = "oauthprovider.command.access_token.preauthorize"
	TypeRevokeAccessToken     = "oauthprovider.command.access_token.revoke"
	TypeIssueSessionToken     = "oauthprovider.command.session_token.issue"
	TypeApproveSessionToken   = "oauthprovider.command.session_token.approve"
	TypeExchangeSessionToken  = "oauthprovider.command.session_token.exchange"
	TypePurgeNonces           = "oauthprovider.command.nonce.purge"
	TypePurgeSessions         = "oauthprovider.command.session.purge"
)

type IssueRequestTokenMessage struct {
	Request core.SignedRequest
}

func (IssueRequestTokenMessage) Type() string { return TypeIssueRequestToken }

func (m IssueRequestTokenMessage) Validate() error {
	if strings.TrimSpace(m.Request.ConsumerKey()) == "" {
		return commandValidationError("consumer_key", "consumer key is required")
	}
	return nil
}

type AuthorizeRequestTokenMessage struct {
	Token   string
	Record  core.Record
	Account core.Account
	Offline bool
}

func (AuthorizeRequestTokenMessage) Type() string { return TypeAuthorizeRequestToken }

func (m AuthorizeRequestTokenMessage) Validate() error {
	if strings.TrimSpace(m.Token) == "" {
		return commandValidationError("token", "request token is required")
	}
	if m.Account.IsZero() {
		return commandValidationError("account", "account is required")
	}
	return nil
}

type ExchangeRequestTokenMessage struct {
	Request core.SignedRequest
}

func (ExchangeRequestTokenMessage) Type() string { return TypeExchangeRequestToken }

func (m ExchangeRequestTokenMessage) Validate() error {
	if strings.TrimSpace(m.Request.ConsumerKey()) == "" {
		return commandValidationError("consumer_key", "consumer key is required")
	}
	if strings.TrimSpace(m.Request.Token()) == "" {
		return commandValidationError("token", "request token is required")
	}
	return nil
}

type PreauthorizeAccessTokenMessage struct {
	Input core.PreauthorizeAccessTokenInput
}

func (PreauthorizeAccessTokenMessage) Type() string { return TypePreauthorizeAccess }

func (m PreauthorizeAccessTokenMessage) Validate() error {
	if strings.TrimSpace(m.Input.Consumer.ConsumerKey) == "" {
		return commandValidationError("consumer_key", "consumer key is required")
	}
	if m.Input.Record.IsZero() {
		return commandValidationError("record", "record is required")
	}
	return nil
}

type RevokeAccessTokenMessage struct {
	ConsumerKey string
	Token       string
}

func (RevokeAccessTokenMessage) Type() string { return TypeRevokeAccessToken }

func (m RevokeAccessTokenMessage) Validate() error {
	if strings.TrimSpace(m.ConsumerKey) == "" {
		return commandValidationError("consumer_key", "consumer key is required")
	}
	if strings.TrimSpace(m.Token) == "" {
		return commandValidationError("token", "access token is required")
	}
	return nil
}

type IssueSessionTokenMessage struct {
	Request core.SignedRequest
}

func (IssueSessionTokenMessage) Type() string { return TypeIssueSessionToken }

func (m IssueSessionTokenMessage) Validate() error {
	if strings.TrimSpace(m.Request.ConsumerKey()) == "" {
		return commandValidationError("consumer_key", "consumer key is required")
	}
	return nil
}

type ApproveSessionTokenMessage struct {
	Token   string
	Account core.Account
}

func (ApproveSessionTokenMessage) Type() string { return TypeApproveSessionToken }

func (m ApproveSessionTokenMessage) Validate() error {
	if strings.TrimSpace(m.Token) == "" {
		return commandValidationError("token", "session request token is required")
	}
	if m.Account.IsZero() {
		return commandValidationError("account", "account is required")
	}
	return nil
}

type ExchangeSessionTokenMessage struct {
	Request core.SignedRequest
}

func (ExchangeSessionTokenMessage) Type() string { return TypeExchangeSessionToken }

func (m ExchangeSessionTokenMessage) Validate() error {
	if strings.TrimSpace(m.Request.ConsumerKey()) == "" {
		return commandValidationError("consumer_key", "consumer key is required")
	}
	if strings.TrimSpace(m.Request.Token()) == "" {
		return commandValidationError("token", "session request token is required")
	}
	return nil
}

type PurgeNoncesMessage struct {
	Cutoff int64
}

func (PurgeNoncesMessage) Type() string { return TypePurgeNonces }

func (m PurgeNoncesMessage) Validate() error {
	if m.Cutoff <= 0 {
		return commandInvalidInputError("command: purge cutoff is required")
	}
	return nil
}

type PurgeSessionsMessage struct{}

func (PurgeSessionsMessage) Type() string { return TypePurgeSessions }

func (PurgeSessionsMessage) Validate() error { return nil }
