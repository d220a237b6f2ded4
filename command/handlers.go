package command

import (
	"context"
	"time"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-oauth-provider/core"
)

// TokenService is the mutating surface of a policy class server.
// *core.Server satisfies it.
type TokenService interface {
	IssueRequestToken(ctx context.Context, req core.SignedRequest) (core.RequestToken, error)
	AuthorizeRequestToken(ctx context.Context, token string, record core.Record, account core.Account, offline bool) (core.RequestToken, error)
	ExchangeRequestToken(ctx context.Context, req core.SignedRequest) (core.AccessToken, error)
	PreauthorizeAccessToken(ctx context.Context, in core.PreauthorizeAccessTokenInput) (core.AccessToken, error)
	RevokeAccessToken(ctx context.Context, consumerKey string, token string) error
}

// SessionService is the mutating surface of the chrome session server.
// *core.SessionServer satisfies it.
type SessionService interface {
	IssueRequestToken(ctx context.Context, req core.SignedRequest) (core.SessionRequestToken, error)
	ApproveRequestToken(ctx context.Context, token string, account core.Account) (core.SessionRequestToken, error)
	ExchangeRequestToken(ctx context.Context, req core.SignedRequest) (core.SessionToken, error)
	PurgeExpired(ctx context.Context) (int, error)
}

type IssueRequestTokenCommand struct {
	service TokenService
}

func NewIssueRequestTokenCommand(service TokenService) *IssueRequestTokenCommand {
	return &IssueRequestTokenCommand{service: service}
}

func (c *IssueRequestTokenCommand) Execute(ctx context.Context, msg IssueRequestTokenMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: token service is required")
	}
	out, err := c.service.IssueRequestToken(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type AuthorizeRequestTokenCommand struct {
	service TokenService
}

func NewAuthorizeRequestTokenCommand(service TokenService) *AuthorizeRequestTokenCommand {
	return &AuthorizeRequestTokenCommand{service: service}
}

func (c *AuthorizeRequestTokenCommand) Execute(ctx context.Context, msg AuthorizeRequestTokenMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: token service is required")
	}
	out, err := c.service.AuthorizeRequestToken(ctx, msg.Token, msg.Record, msg.Account, msg.Offline)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ExchangeRequestTokenCommand struct {
	service TokenService
}

func NewExchangeRequestTokenCommand(service TokenService) *ExchangeRequestTokenCommand {
	return &ExchangeRequestTokenCommand{service: service}
}

func (c *ExchangeRequestTokenCommand) Execute(ctx context.Context, msg ExchangeRequestTokenMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: token service is required")
	}
	out, err := c.service.ExchangeRequestToken(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type PreauthorizeAccessTokenCommand struct {
	service TokenService
}

func NewPreauthorizeAccessTokenCommand(service TokenService) *PreauthorizeAccessTokenCommand {
	return &PreauthorizeAccessTokenCommand{service: service}
}

func (c *PreauthorizeAccessTokenCommand) Execute(ctx context.Context, msg PreauthorizeAccessTokenMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: token service is required")
	}
	out, err := c.service.PreauthorizeAccessToken(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RevokeAccessTokenCommand struct {
	service TokenService
}

func NewRevokeAccessTokenCommand(service TokenService) *RevokeAccessTokenCommand {
	return &RevokeAccessTokenCommand{service: service}
}

func (c *RevokeAccessTokenCommand) Execute(ctx context.Context, msg RevokeAccessTokenMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: token service is required")
	}
	return c.service.RevokeAccessToken(ctx, msg.ConsumerKey, msg.Token)
}

type IssueSessionTokenCommand struct {
	service SessionService
}

func NewIssueSessionTokenCommand(service SessionService) *IssueSessionTokenCommand {
	return &IssueSessionTokenCommand{service: service}
}

func (c *IssueSessionTokenCommand) Execute(ctx context.Context, msg IssueSessionTokenMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: session service is required")
	}
	out, err := c.service.IssueRequestToken(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ApproveSessionTokenCommand struct {
	service SessionService
}

func NewApproveSessionTokenCommand(service SessionService) *ApproveSessionTokenCommand {
	return &ApproveSessionTokenCommand{service: service}
}

func (c *ApproveSessionTokenCommand) Execute(ctx context.Context, msg ApproveSessionTokenMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: session service is required")
	}
	out, err := c.service.ApproveRequestToken(ctx, msg.Token, msg.Account)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ExchangeSessionTokenCommand struct {
	service SessionService
}

func NewExchangeSessionTokenCommand(service SessionService) *ExchangeSessionTokenCommand {
	return &ExchangeSessionTokenCommand{service: service}
}

func (c *ExchangeSessionTokenCommand) Execute(ctx context.Context, msg ExchangeSessionTokenMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: session service is required")
	}
	out, err := c.service.ExchangeRequestToken(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type PurgeNoncesCommand struct {
	ledger core.NonceLedger
}

func NewPurgeNoncesCommand(ledger core.NonceLedger) *PurgeNoncesCommand {
	return &PurgeNoncesCommand{ledger: ledger}
}

func (c *PurgeNoncesCommand) Execute(ctx context.Context, msg PurgeNoncesMessage) error {
	if c == nil || c.ledger == nil {
		return commandDependencyError("command: nonce ledger is required")
	}
	purged, err := c.ledger.PurgeBefore(ctx, time.Unix(msg.Cutoff, 0).UTC())
	if err != nil {
		return err
	}
	storeResult(ctx, purged)
	return nil
}

type PurgeSessionsCommand struct {
	service SessionService
}

func NewPurgeSessionsCommand(service SessionService) *PurgeSessionsCommand {
	return &PurgeSessionsCommand{service: service}
}

func (c *PurgeSessionsCommand) Execute(ctx context.Context, msg PurgeSessionsMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: session service is required")
	}
	purged, err := c.service.PurgeExpired(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, purged)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
