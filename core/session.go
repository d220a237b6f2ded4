package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// SessionServer runs the login-session variant of the token dance for chrome
// consumers. It issues short-lived session tokens bound to an account rather
// than record shares; expiry is enforced on every read against the configured
// TTL, never by a background sweep alone.
type SessionServer struct {
	server       *Server
	sessionStore SessionStore
}

func NewSessionServer(cfg Config, opts ...Option) (*SessionServer, error) {
	server, err := NewServer(cfg, PolicyClassSession, opts...)
	if err != nil {
		return nil, err
	}
	return &SessionServer{server: server}, nil
}

// WithSessionServerStore attaches the session store after construction.
// Separate from Option because only SessionServer uses it.
func (s *SessionServer) WithStore(store SessionStore) *SessionServer {
	if s != nil {
		s.sessionStore = store
	}
	return s
}

func (s *SessionServer) Server() *Server {
	if s == nil {
		return nil
	}
	return s.server
}

// IssueRequestToken authenticates the chrome consumer and mints a pending
// session request token.
func (s *SessionServer) IssueRequestToken(ctx context.Context, req SignedRequest) (token SessionRequestToken, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"consumer_key": req.ConsumerKey(),
	}
	defer func() {
		s.server.observeOperation(ctx, startedAt, "session_issue_request_token", err, fields)
	}()

	if s == nil || s.sessionStore == nil {
		err = s.server.mapError(fmt.Errorf("core: session store is not configured"))
		return SessionRequestToken{}, err
	}

	if _, err = s.server.authenticate(ctx, req, ""); err != nil {
		err = s.server.mapError(err)
		return SessionRequestToken{}, err
	}

	tokenStr, secret, err := s.server.mintPair()
	if err != nil {
		err = s.server.mapError(err)
		return SessionRequestToken{}, err
	}
	token, err = s.sessionStore.CreateRequestToken(ctx, tokenStr, secret)
	if err != nil {
		err = s.server.mapError(err)
		return SessionRequestToken{}, err
	}
	return token, nil
}

// ApproveRequestToken binds a logged-in account to a pending session request
// token. Called by the login flow after credentials check out.
func (s *SessionServer) ApproveRequestToken(ctx context.Context, tokenStr string, account Account) (token SessionRequestToken, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"token": tokenStr,
	}
	defer func() {
		s.server.observeOperation(ctx, startedAt, "session_approve_request_token", err, fields)
	}()

	if s == nil || s.sessionStore == nil {
		err = s.server.mapError(fmt.Errorf("core: session store is not configured"))
		return SessionRequestToken{}, err
	}
	if account.IsZero() {
		err = s.server.mapError(fmt.Errorf("core: account is required"))
		return SessionRequestToken{}, err
	}

	token, err = s.sessionStore.AuthorizeRequestToken(ctx, tokenStr, account)
	if err != nil {
		err = s.server.mapError(err)
		return SessionRequestToken{}, err
	}
	return token, nil
}

// ExchangeRequestToken swaps an approved session request token for a session
// token that expires after the configured TTL.
func (s *SessionServer) ExchangeRequestToken(ctx context.Context, req SignedRequest) (session SessionToken, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"consumer_key": req.ConsumerKey(),
		"token":        req.Token(),
	}
	defer func() {
		s.server.observeOperation(ctx, startedAt, "session_exchange_request_token", err, fields)
	}()

	if s == nil || s.sessionStore == nil {
		err = s.server.mapError(fmt.Errorf("core: session store is not configured"))
		return SessionToken{}, err
	}

	consumer, err := s.server.resolveConsumer(ctx, req.ConsumerKey())
	if err != nil {
		err = s.server.mapError(err)
		return SessionToken{}, err
	}

	pending, err := s.sessionStore.LookupRequestToken(ctx, req.Token())
	if err != nil {
		err = s.server.mapError(err)
		return SessionToken{}, err
	}
	if err = s.server.verifyProtocol(ctx, req, consumer.Secret, pending.Secret); err != nil {
		err = s.server.mapError(err)
		return SessionToken{}, err
	}
	if !pending.Approved {
		err = s.server.mapError(ErrTokenNotAuthorized)
		return SessionToken{}, err
	}

	if err = s.sessionStore.MarkRequestTokenUsed(ctx, pending.Token); err != nil {
		err = s.server.mapError(err)
		return SessionToken{}, err
	}

	tokenStr, secret, err := s.server.mintPair()
	if err != nil {
		err = s.server.mapError(err)
		return SessionToken{}, err
	}
	expiresAt := s.server.now().Add(s.server.config.Session.TokenTTL)
	session, err = s.sessionStore.CreateSessionToken(ctx, tokenStr, secret, Account{
		ID:    pending.AccountID,
		Email: pending.AccountEmail,
	}, expiresAt)
	if err != nil {
		err = s.server.mapError(err)
		return SessionToken{}, err
	}
	return session, nil
}

// VerifySessionAccess authenticates a request signed with a session token and
// returns the bound account. Expired tokens fail exactly like unknown ones.
func (s *SessionServer) VerifySessionAccess(ctx context.Context, req SignedRequest) (session SessionToken, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"consumer_key": req.ConsumerKey(),
		"token":        req.Token(),
	}
	defer func() {
		s.server.observeOperation(ctx, startedAt, "session_verify_access", err, fields)
	}()

	if s == nil || s.sessionStore == nil {
		err = s.server.mapError(fmt.Errorf("core: session store is not configured"))
		return SessionToken{}, err
	}

	consumer, err := s.server.resolveConsumer(ctx, req.ConsumerKey())
	if err != nil {
		err = s.server.mapError(err)
		return SessionToken{}, err
	}
	session, err = s.sessionStore.LookupSessionToken(ctx, strings.TrimSpace(req.Token()))
	if err != nil {
		err = s.server.mapError(err)
		return SessionToken{}, err
	}
	if session.Expired(s.server.now()) {
		err = s.server.mapError(ErrTokenNotFound)
		return SessionToken{}, err
	}
	if err = s.server.verifyProtocol(ctx, req, consumer.Secret, session.Secret); err != nil {
		err = s.server.mapError(err)
		return SessionToken{}, err
	}
	return session, nil
}

// PurgeExpired removes session tokens past their expiry. Wired to a
// maintenance job, not the request path.
func (s *SessionServer) PurgeExpired(ctx context.Context) (int, error) {
	if s == nil || s.sessionStore == nil {
		return 0, fmt.Errorf("core: session store is not configured")
	}
	return s.sessionStore.PurgeExpired(ctx, s.server.now())
}
