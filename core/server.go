package core

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

// Server runs the provider side of the three-legged flow for one policy
// class. Consumers, request tokens, and access tokens it sees all belong to
// that class; a deployment composes one Server per class over a shared nonce
// ledger.
type Server struct {
	config          Config
	class           PolicyClass
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorFactory    ErrorFactory
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	consumerStore   ConsumerStore
	tokenStore      TokenStore
	nonceLedger     NonceLedger
	recordStore     RecordStore
	accountStore    AccountStore
	tokenSource     TokenSource
	now             func() time.Time
}

type ServerDependencies struct {
	Logger          Logger
	LoggerProvider  LoggerProvider
	MetricsRecorder MetricsRecorder
	ErrorFactory    ErrorFactory
	ErrorMapper     ErrorMapper
	ConfigProvider  ConfigProvider
	OptionsResolver OptionsResolver
	ConsumerStore   ConsumerStore
	TokenStore      TokenStore
	NonceLedger     NonceLedger
	RecordStore     RecordStore
	AccountStore    AccountStore
	TokenSource     TokenSource
}

func NewServer(cfg Config, class PolicyClass, opts ...Option) (*Server, error) {
	if err := class.Validate(); err != nil {
		return nil, err
	}
	builder := defaultServerBuilder(cfg, class)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("oauth-provider", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("oauth-provider." + string(class)); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.tokenSource == nil {
		builder.tokenSource = RandomTokenSource{}
	}
	if builder.nonceLedger == nil {
		builder.nonceLedger = NewMemoryNonceLedger()
	}
	if builder.now == nil {
		builder.now = time.Now
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	return &Server{
		config:          finalConfig,
		class:           class,
		logger:          logger,
		loggerProvider:  provider,
		metricsRecorder: builder.metricsRecorder,
		errorFactory:    builder.errorFactory,
		errorMapper:     builder.errorMapper,
		configProvider:  builder.configProvider,
		optionsResolver: builder.optionsResolver,
		consumerStore:   builder.consumerStore,
		tokenStore:      builder.tokenStore,
		nonceLedger:     builder.nonceLedger,
		recordStore:     builder.recordStore,
		accountStore:    builder.accountStore,
		tokenSource:     builder.tokenSource,
		now:             builder.now,
	}, nil
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Server) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Server) Class() PolicyClass {
	if s == nil {
		return ""
	}
	return s.class
}

func (s *Server) Dependencies() ServerDependencies {
	if s == nil {
		return ServerDependencies{}
	}
	return ServerDependencies{
		Logger:          s.logger,
		LoggerProvider:  s.loggerProvider,
		MetricsRecorder: s.metricsRecorder,
		ErrorFactory:    s.errorFactory,
		ErrorMapper:     s.errorMapper,
		ConfigProvider:  s.configProvider,
		OptionsResolver: s.optionsResolver,
		ConsumerStore:   s.consumerStore,
		TokenStore:      s.tokenStore,
		NonceLedger:     s.nonceLedger,
		RecordStore:     s.recordStore,
		AccountStore:    s.accountStore,
		TokenSource:     s.tokenSource,
	}
}

// VerifySignedRequest authenticates a two-legged request: consumer signature
// over an empty token secret, nonce claim, optional timestamp window. It is
// the entry check for request token issuance and any consumer-only endpoint.
func (s *Server) VerifySignedRequest(ctx context.Context, req SignedRequest) (consumer Consumer, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"consumer_key": req.ConsumerKey(),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "verify_signed_request", err, fields)
	}()

	consumer, err = s.authenticate(ctx, req, "")
	if err != nil {
		err = s.mapError(err)
		return Consumer{}, err
	}
	return consumer, nil
}

// IssueRequestToken mints a request token for an authenticated consumer. A
// smart_record_id parameter binds the token to a record up front; otherwise
// the record is chosen at authorization time. An offline=true parameter asks
// for a long-lived share.
func (s *Server) IssueRequestToken(ctx context.Context, req SignedRequest) (token RequestToken, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"consumer_key": req.ConsumerKey(),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "issue_request_token", err, fields)
	}()

	if s == nil || s.tokenStore == nil {
		err = s.mapError(fmt.Errorf("core: token store is not configured"))
		return RequestToken{}, err
	}

	consumer, err := s.authenticate(ctx, req, "")
	if err != nil {
		err = s.mapError(err)
		return RequestToken{}, err
	}

	recordID := strings.TrimSpace(req.Param("smart_record_id"))
	if recordID != "" {
		fields["record_id"] = recordID
		if s.recordStore != nil {
			if _, lookupErr := s.recordStore.Get(ctx, recordID); lookupErr != nil {
				err = s.mapError(ErrMissingRecord)
				return RequestToken{}, err
			}
		}
	}

	tokenStr, secret, verifier, err := s.mintTriple()
	if err != nil {
		err = s.mapError(err)
		return RequestToken{}, err
	}

	token, err = s.tokenStore.CreateRequestToken(ctx, CreateRequestTokenInput{
		Consumer:       consumer,
		Token:          tokenStr,
		TokenSecret:    secret,
		Verifier:       verifier,
		Callback:       req.Callback(),
		RecordID:       recordID,
		OfflineCapable: strings.EqualFold(strings.TrimSpace(req.Param("offline")), "true"),
	})
	if err != nil {
		err = s.mapError(err)
		return RequestToken{}, err
	}
	return token, nil
}

// AuthorizeRequestToken records the account's consent. It is called from the
// consent UI after login, not from a signed protocol request. The record is
// created on first reference so authorization never fails on a record the
// container has not seen yet.
func (s *Server) AuthorizeRequestToken(
	ctx context.Context,
	tokenStr string,
	record Record,
	account Account,
	offline bool,
) (token RequestToken, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"token":     tokenStr,
		"record_id": record.ID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "authorize_request_token", err, fields)
	}()

	if s == nil || s.tokenStore == nil {
		err = s.mapError(fmt.Errorf("core: token store is not configured"))
		return RequestToken{}, err
	}
	if strings.TrimSpace(tokenStr) == "" {
		err = s.mapError(ErrTokenNotFound)
		return RequestToken{}, err
	}

	pending, err := s.tokenStore.LookupRequestToken(ctx, nil, tokenStr)
	if err != nil {
		err = s.mapError(err)
		return RequestToken{}, err
	}
	if pending.RecordID != "" && record.ID != "" && pending.RecordID != record.ID {
		err = s.mapError(ErrMissingRecord)
		return RequestToken{}, err
	}
	if record.IsZero() && pending.RecordID != "" {
		record = Record{ID: pending.RecordID}
	}
	if record.IsZero() {
		err = s.mapError(ErrMissingRecord)
		return RequestToken{}, err
	}
	if account.IsZero() {
		err = s.mapError(fmt.Errorf("core: account is required"))
		return RequestToken{}, err
	}

	if s.recordStore != nil {
		resolved, _, createErr := s.recordStore.GetOrCreate(ctx, record.ID, record.FullName)
		if createErr != nil {
			err = s.mapError(createErr)
			return RequestToken{}, err
		}
		record = resolved
	}

	if transitionErr := pending.TransitionTo(RequestTokenStateAuthorized, time.Now().UTC()); transitionErr != nil {
		err = s.mapError(transitionErr)
		return RequestToken{}, err
	}

	token, err = s.tokenStore.AuthorizeRequestToken(ctx, AuthorizeRequestTokenInput{
		Token:   tokenStr,
		Record:  record,
		Account: account,
		Offline: offline || pending.Offline,
	})
	if err != nil {
		err = s.mapError(err)
		return RequestToken{}, err
	}
	return token, nil
}

// ExchangeRequestToken turns an authorized request token into an access
// token. The request is signed with the request token secret and must carry
// the verifier handed out at authorization. The store swap is atomic: of two
// concurrent exchanges for the same token exactly one succeeds.
func (s *Server) ExchangeRequestToken(ctx context.Context, req SignedRequest) (access AccessToken, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"consumer_key": req.ConsumerKey(),
		"token":        req.Token(),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "exchange_request_token", err, fields)
	}()

	if s == nil || s.tokenStore == nil {
		err = s.mapError(fmt.Errorf("core: token store is not configured"))
		return AccessToken{}, err
	}

	consumer, err := s.resolveConsumer(ctx, req.ConsumerKey())
	if err != nil {
		err = s.mapError(err)
		return AccessToken{}, err
	}

	pending, err := s.tokenStore.LookupRequestToken(ctx, &consumer, req.Token())
	if err != nil {
		err = s.mapError(err)
		return AccessToken{}, err
	}

	if err = s.verifyProtocol(ctx, req, consumer.Secret, pending.TokenSecret); err != nil {
		err = s.mapError(err)
		return AccessToken{}, err
	}
	if pending.Verifier != "" && req.Verifier() != pending.Verifier {
		err = s.mapError(ErrVerifierMismatch)
		return AccessToken{}, err
	}
	if !pending.Authorized() {
		err = s.mapError(ErrTokenNotAuthorized)
		return AccessToken{}, err
	}

	tokenStr, secret, err := s.mintPair()
	if err != nil {
		err = s.mapError(err)
		return AccessToken{}, err
	}

	access, err = s.tokenStore.ExchangeRequestToken(ctx, ExchangeRequestTokenInput{
		Consumer:          consumer,
		RequestToken:      pending.Token,
		AccessToken:       tokenStr,
		AccessTokenSecret: secret,
	})
	if err != nil {
		err = s.mapError(err)
		return AccessToken{}, err
	}
	return access, nil
}

// VerifyResourceAccess authenticates a three-legged resource request and
// returns the access token, including its share, so callers can scope the
// response to the shared record. Connect-flow tokens are rejected here.
func (s *Server) VerifyResourceAccess(ctx context.Context, req SignedRequest) (access AccessToken, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"consumer_key": req.ConsumerKey(),
		"token":        req.Token(),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "verify_resource_access", err, fields)
	}()

	if s == nil || s.tokenStore == nil {
		err = s.mapError(fmt.Errorf("core: token store is not configured"))
		return AccessToken{}, err
	}

	consumer, err := s.resolveConsumer(ctx, req.ConsumerKey())
	if err != nil {
		err = s.mapError(err)
		return AccessToken{}, err
	}
	access, err = s.tokenStore.LookupAccessToken(ctx, consumer, req.Token())
	if err != nil {
		err = s.mapError(err)
		return AccessToken{}, err
	}
	if err = s.verifyProtocol(ctx, req, consumer.Secret, access.Secret); err != nil {
		err = s.mapError(err)
		return AccessToken{}, err
	}
	return access, nil
}

// PreauthorizeAccessToken mints an access token without the request token
// dance. Helper and machine apps acting on records they already have standing
// access to use this path; the connect launch uses it with SmartConnect set.
func (s *Server) PreauthorizeAccessToken(ctx context.Context, in PreauthorizeAccessTokenInput) (access AccessToken, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"consumer_key": in.Consumer.ConsumerKey,
		"record_id":    in.Record.ID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "preauthorize_access_token", err, fields)
	}()

	if s == nil || s.tokenStore == nil {
		err = s.mapError(fmt.Errorf("core: token store is not configured"))
		return AccessToken{}, err
	}
	if in.Record.IsZero() {
		err = s.mapError(ErrMissingRecord)
		return AccessToken{}, err
	}
	if in.Consumer.ConsumerKey == "" {
		err = s.mapError(ErrUnknownConsumer)
		return AccessToken{}, err
	}

	if s.recordStore != nil {
		resolved, _, createErr := s.recordStore.GetOrCreate(ctx, in.Record.ID, in.Record.FullName)
		if createErr != nil {
			err = s.mapError(createErr)
			return AccessToken{}, err
		}
		in.Record = resolved
	}

	if in.Token == "" || in.Secret == "" {
		tokenStr, secret, mintErr := s.mintPair()
		if mintErr != nil {
			err = s.mapError(mintErr)
			return AccessToken{}, err
		}
		in.Token = tokenStr
		in.Secret = secret
	}

	access, err = s.tokenStore.CreatePreauthorizedAccessToken(ctx, in)
	if err != nil {
		err = s.mapError(err)
		return AccessToken{}, err
	}
	return access, nil
}

// RevokeAccessToken deletes an access token and with it the consumer's
// standing access through that token.
func (s *Server) RevokeAccessToken(ctx context.Context, consumerKey string, tokenStr string) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"consumer_key": consumerKey,
		"token":        tokenStr,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "revoke_access_token", err, fields)
	}()

	if s == nil || s.tokenStore == nil {
		err = s.mapError(fmt.Errorf("core: token store is not configured"))
		return err
	}
	consumer, err := s.resolveConsumer(ctx, consumerKey)
	if err != nil {
		err = s.mapError(err)
		return err
	}
	if err = s.tokenStore.DeleteAccessToken(ctx, consumer, tokenStr); err != nil {
		err = s.mapError(err)
		return err
	}
	return nil
}

// SignedLaunchHeader builds the Authorization header a container sends when
// launching an app against a record: a connect access token is minted for the
// record and account, and the launch request is signed with blank secrets
// carrying the connect claim bundle.
func (s *Server) SignedLaunchHeader(
	ctx context.Context,
	consumerKey string,
	record Record,
	account Account,
	launchURL string,
) (header string, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"consumer_key": consumerKey,
		"record_id":    record.ID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "signed_launch_header", err, fields)
	}()

	consumer, err := s.resolveConsumer(ctx, consumerKey)
	if err != nil {
		err = s.mapError(err)
		return "", err
	}
	access, err := s.PreauthorizeAccessToken(ctx, PreauthorizeAccessTokenInput{
		Consumer:     consumer,
		Record:       record,
		Account:      account,
		SmartConnect: true,
	})
	if err != nil {
		return "", err
	}

	nonce, err := s.tokenSource.Token()
	if err != nil {
		err = s.mapError(err)
		return "", err
	}

	claims := url.Values{}
	claims.Set(ConnectParamAPIBase, s.config.APIBase)
	claims.Set(ConnectParamAppID, consumer.Email)
	claims.Set(ConnectParamToken, access.Token)
	claims.Set(ConnectParamTokenSecret, access.Secret)
	claims.Set(ConnectParamUserID, account.ID)
	claims.Set(ConnectParamRecordID, record.ID)

	signed, err := SignParams(
		"GET",
		launchURL,
		claims,
		consumer.ConsumerKey,
		"",
		"",
		"",
		nonce,
		s.now().Unix(),
	)
	if err != nil {
		err = s.mapError(err)
		return "", err
	}
	return AuthorizationHeader(s.config.OAuth.Realm, signed), nil
}

// RecordToken pairs a record with the access token minted for it during the
// helper walk.
type RecordToken struct {
	Record Record
	Access AccessToken
}

// FirstRecordToken starts the helper record walk: the first record in id
// order gets a preauthorized access token for the consumer and account.
func (s *Server) FirstRecordToken(ctx context.Context, consumerKey string, account Account) (RecordToken, error) {
	return s.recordToken(ctx, consumerKey, account, func(ctx context.Context) (Record, error) {
		return s.recordStore.First(ctx)
	})
}

// NextRecordToken continues the walk with the record following afterRecordID.
// The end of the walk surfaces as a missing-record failure.
func (s *Server) NextRecordToken(ctx context.Context, consumerKey string, account Account, afterRecordID string) (RecordToken, error) {
	return s.recordToken(ctx, consumerKey, account, func(ctx context.Context) (Record, error) {
		return s.recordStore.NextAfter(ctx, afterRecordID)
	})
}

func (s *Server) recordToken(
	ctx context.Context,
	consumerKey string,
	account Account,
	next func(ctx context.Context) (Record, error),
) (token RecordToken, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"consumer_key": consumerKey,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "record_token", err, fields)
	}()

	if s == nil || s.recordStore == nil {
		err = s.mapError(fmt.Errorf("core: record store is not configured"))
		return RecordToken{}, err
	}
	consumer, err := s.resolveConsumer(ctx, consumerKey)
	if err != nil {
		err = s.mapError(err)
		return RecordToken{}, err
	}
	record, err := next(ctx)
	if err != nil {
		err = s.mapError(err)
		return RecordToken{}, err
	}
	fields["record_id"] = record.ID

	access, err := s.PreauthorizeAccessToken(ctx, PreauthorizeAccessTokenInput{
		Consumer: consumer,
		Record:   record,
		Account:  account,
	})
	if err != nil {
		return RecordToken{}, err
	}
	return RecordToken{Record: record, Access: access}, nil
}

// authenticate runs the two-legged check shared by issuance and plain signed
// endpoints: consumer lookup, signature, timestamp window, nonce claim.
func (s *Server) authenticate(ctx context.Context, req SignedRequest, tokenSecret string) (Consumer, error) {
	consumer, err := s.resolveConsumer(ctx, req.ConsumerKey())
	if err != nil {
		return Consumer{}, err
	}
	if err := s.verifyProtocol(ctx, req, consumer.Secret, tokenSecret); err != nil {
		return Consumer{}, err
	}
	return consumer, nil
}

// verifyProtocol orders the checks so replay defense only engages for
// requests with a valid signature; otherwise an attacker could burn a
// victim's nonce without knowing any secret.
func (s *Server) verifyProtocol(ctx context.Context, req SignedRequest, consumerSecret string, tokenSecret string) error {
	if err := VerifySignature(req, consumerSecret, tokenSecret); err != nil {
		return err
	}
	if err := s.checkTimestamp(req); err != nil {
		return err
	}
	return s.claimNonce(ctx, req)
}

func (s *Server) checkTimestamp(req SignedRequest) error {
	skew := s.config.OAuth.TimestampSkew
	if skew <= 0 {
		return nil
	}
	ts, err := req.Timestamp()
	if err != nil {
		return err
	}
	drift := s.now().Sub(time.Unix(ts, 0))
	if drift < 0 {
		drift = -drift
	}
	if drift > skew {
		return fmt.Errorf("core: oauth_timestamp outside allowed window: %w", ErrSignatureMismatch)
	}
	return nil
}

func (s *Server) claimNonce(ctx context.Context, req SignedRequest) error {
	if s.nonceLedger == nil {
		return fmt.Errorf("core: nonce ledger is not configured")
	}
	nonce := strings.TrimSpace(req.Nonce())
	if nonce == "" {
		return fmt.Errorf("core: oauth_nonce is required")
	}
	// Scoping by consumer key keeps one consumer's nonce choices from
	// poisoning another's.
	claimed, err := s.nonceLedger.Claim(ctx, req.ConsumerKey()+"\x00"+nonce)
	if err != nil {
		return err
	}
	if !claimed {
		return ErrReplayedNonce
	}
	return nil
}

func (s *Server) resolveConsumer(ctx context.Context, consumerKey string) (Consumer, error) {
	if s == nil || s.consumerStore == nil {
		return Consumer{}, fmt.Errorf("core: consumer store is not configured")
	}
	consumerKey = strings.TrimSpace(consumerKey)
	if consumerKey == "" {
		return Consumer{}, ErrUnknownConsumer
	}
	consumer, err := s.consumerStore.Lookup(ctx, consumerKey)
	if err != nil {
		if errors.Is(err, ErrUnknownConsumer) {
			return Consumer{}, err
		}
		return Consumer{}, fmt.Errorf("core: consumer lookup failed: %w", err)
	}
	if !s.acceptsConsumer(consumer) {
		return Consumer{}, ErrUnknownConsumer
	}
	return consumer, nil
}

// resolveConsumerByEmail finds a consumer by its contact identity. The connect
// flow asserts app identity this way rather than by consumer key.
func (s *Server) resolveConsumerByEmail(ctx context.Context, email string) (Consumer, error) {
	if s == nil || s.consumerStore == nil {
		return Consumer{}, fmt.Errorf("core: consumer store is not configured")
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return Consumer{}, ErrUnknownConsumer
	}
	consumer, err := s.consumerStore.LookupByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUnknownConsumer) {
			return Consumer{}, err
		}
		return Consumer{}, fmt.Errorf("core: consumer lookup failed: %w", err)
	}
	if !s.acceptsConsumer(consumer) {
		return Consumer{}, ErrUnknownConsumer
	}
	return consumer, nil
}

// acceptsConsumer enforces class isolation. The session server has no
// consumers of its own; chrome machine apps front it.
func (s *Server) acceptsConsumer(consumer Consumer) bool {
	if s.class == PolicyClassSession {
		return consumer.Class == PolicyClassMachineApp &&
			consumer.MachineApp != nil &&
			consumer.MachineApp.Subtype == MachineSubtypeChrome
	}
	return consumer.Class == s.class
}

func (s *Server) mintPair() (string, string, error) {
	tokenStr, err := s.tokenSource.Token()
	if err != nil {
		return "", "", err
	}
	secret, err := s.tokenSource.Secret()
	if err != nil {
		return "", "", err
	}
	return tokenStr, secret, nil
}

func (s *Server) mintTriple() (string, string, string, error) {
	tokenStr, secret, err := s.mintPair()
	if err != nil {
		return "", "", "", err
	}
	verifier, err := s.tokenSource.Verifier()
	if err != nil {
		return "", "", "", err
	}
	return tokenStr, secret, verifier, nil
}

func (s *Server) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}
