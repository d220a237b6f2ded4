package core

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"
)

type memConsumerStore struct {
	mu        sync.Mutex
	consumers map[string]Consumer
}

func newMemConsumerStore(consumers ...Consumer) *memConsumerStore {
	store := &memConsumerStore{consumers: map[string]Consumer{}}
	for _, consumer := range consumers {
		store.consumers[consumer.ConsumerKey] = consumer
	}
	return store
}

func (s *memConsumerStore) Lookup(_ context.Context, consumerKey string) (Consumer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	consumer, ok := s.consumers[consumerKey]
	if !ok {
		return Consumer{}, ErrUnknownConsumer
	}
	return consumer, nil
}

func (s *memConsumerStore) LookupByEmail(_ context.Context, email string) (Consumer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, consumer := range s.consumers {
		if consumer.Email == email {
			return consumer, nil
		}
	}
	return Consumer{}, ErrUnknownConsumer
}

type memTokenStore struct {
	mu            sync.Mutex
	requestTokens map[string]RequestToken
	accessTokens  map[string]AccessToken
	shares        map[string]Share
	nextID        int
}

func newMemTokenStore() *memTokenStore {
	return &memTokenStore{
		requestTokens: map[string]RequestToken{},
		accessTokens:  map[string]AccessToken{},
		shares:        map[string]Share{},
	}
}

func (s *memTokenStore) id(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s_%d", prefix, s.nextID)
}

func (s *memTokenStore) CreateRequestToken(_ context.Context, in CreateRequestTokenInput) (RequestToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token := RequestToken{
		ID:          s.id("rt"),
		Token:       in.Token,
		TokenSecret: in.TokenSecret,
		Verifier:    in.Verifier,
		Callback:    in.Callback,
		ConsumerID:  in.Consumer.ID,
		RecordID:    in.RecordID,
		Offline:     in.OfflineCapable,
		CreatedAt:   time.Now().UTC(),
	}
	s.requestTokens[in.Token] = token
	return token, nil
}

func (s *memTokenStore) LookupRequestToken(_ context.Context, consumer *Consumer, tokenStr string) (RequestToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.requestTokens[tokenStr]
	if !ok {
		return RequestToken{}, ErrTokenNotFound
	}
	if consumer != nil && token.ConsumerID != consumer.ID {
		return RequestToken{}, ErrTokenNotFound
	}
	return token, nil
}

func (s *memTokenStore) AuthorizeRequestToken(_ context.Context, in AuthorizeRequestTokenInput) (RequestToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.requestTokens[in.Token]
	if !ok {
		return RequestToken{}, ErrTokenNotFound
	}
	if token.Authorized() {
		return RequestToken{}, ErrInvalidTokenState
	}
	share := s.ensureShareLocked(in.Record.ID, token.ConsumerID, in.Account, in.Offline)
	now := time.Now().UTC()
	token.RecordID = in.Record.ID
	token.ShareID = share.ID
	token.AuthorizedAt = &now
	token.AuthorizedBy = in.Account.ID
	token.Offline = token.Offline || in.Offline
	s.requestTokens[in.Token] = token
	return token, nil
}

func (s *memTokenStore) MarkRequestTokenUsed(_ context.Context, _ Consumer, tokenStr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.requestTokens[tokenStr]
	if !ok || !token.Authorized() {
		return ErrTokenNotFound
	}
	delete(s.requestTokens, tokenStr)
	return nil
}

func (s *memTokenStore) CreateAccessToken(_ context.Context, requestToken RequestToken, tokenStr string, secret string) (AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	access := AccessToken{
		ID:         s.id("at"),
		Token:      tokenStr,
		Secret:     secret,
		ShareID:    requestToken.ShareID,
		ConsumerID: requestToken.ConsumerID,
		Share:      s.shares[requestToken.ShareID],
		CreatedAt:  time.Now().UTC(),
	}
	s.accessTokens[tokenStr] = access
	return access, nil
}

func (s *memTokenStore) ExchangeRequestToken(_ context.Context, in ExchangeRequestTokenInput) (AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.requestTokens[in.RequestToken]
	if !ok {
		return AccessToken{}, ErrTokenNotFound
	}
	if !token.Authorized() || token.ShareID == "" {
		return AccessToken{}, ErrTokenNotAuthorized
	}
	// Delete-then-insert under one lock mirrors the transactional swap.
	delete(s.requestTokens, in.RequestToken)
	access := AccessToken{
		ID:         s.id("at"),
		Token:      in.AccessToken,
		Secret:     in.AccessTokenSecret,
		ShareID:    token.ShareID,
		ConsumerID: token.ConsumerID,
		Share:      s.shares[token.ShareID],
		CreatedAt:  time.Now().UTC(),
	}
	s.accessTokens[in.AccessToken] = access
	return access, nil
}

func (s *memTokenStore) LookupAccessToken(_ context.Context, consumer Consumer, tokenStr string) (AccessToken, error) {
	return s.lookupAccess(consumer, tokenStr, false)
}

func (s *memTokenStore) LookupConnectAccessToken(_ context.Context, consumer Consumer, tokenStr string) (AccessToken, error) {
	return s.lookupAccess(consumer, tokenStr, true)
}

func (s *memTokenStore) lookupAccess(consumer Consumer, tokenStr string, smartConnect bool) (AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	access, ok := s.accessTokens[tokenStr]
	if !ok || access.ConsumerID != consumer.ID || access.SmartConnect != smartConnect {
		return AccessToken{}, ErrTokenNotFound
	}
	return access, nil
}

func (s *memTokenStore) CreatePreauthorizedAccessToken(_ context.Context, in PreauthorizeAccessTokenInput) (AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	share := s.ensureShareLocked(in.Record.ID, in.Consumer.ID, in.Account, in.Offline)
	access := AccessToken{
		ID:           s.id("at"),
		Token:        in.Token,
		Secret:       in.Secret,
		ShareID:      share.ID,
		ConsumerID:   in.Consumer.ID,
		SmartConnect: in.SmartConnect,
		Share:        share,
		CreatedAt:    time.Now().UTC(),
	}
	s.accessTokens[in.Token] = access
	return access, nil
}

func (s *memTokenStore) DeleteAccessToken(_ context.Context, consumer Consumer, tokenStr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	access, ok := s.accessTokens[tokenStr]
	if !ok || access.ConsumerID != consumer.ID {
		return ErrTokenNotFound
	}
	delete(s.accessTokens, tokenStr)
	return nil
}

func (s *memTokenStore) ensureShareLocked(recordID, consumerID string, account Account, offline bool) Share {
	key := recordID + "|" + consumerID + "|" + account.ID
	if share, ok := s.shares[key]; ok {
		return share
	}
	share := Share{
		ID:           s.id("share"),
		RecordID:     recordID,
		ConsumerID:   consumerID,
		AccountID:    account.ID,
		AccountEmail: account.Email,
		Offline:      offline,
		AuthorizedAt: time.Now().UTC(),
		CreatedAt:    time.Now().UTC(),
	}
	s.shares[key] = share
	s.shares[share.ID] = share
	return share
}

type memRecordStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func newMemRecordStore(records ...Record) *memRecordStore {
	store := &memRecordStore{records: map[string]Record{}}
	for _, record := range records {
		store.records[record.ID] = record
	}
	return store
}

func (s *memRecordStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return Record{}, ErrMissingRecord
	}
	return record, nil
}

func (s *memRecordStore) GetOrCreate(_ context.Context, id string, fullName string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record, ok := s.records[id]; ok {
		return record, false, nil
	}
	record := Record{ID: id, FullName: fullName, CreatedAt: time.Now().UTC()}
	s.records[id] = record
	return record, true, nil
}

func (s *memRecordStore) First(_ context.Context) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first Record
	for _, record := range s.records {
		if first.IsZero() || record.ID < first.ID {
			first = record
		}
	}
	if first.IsZero() {
		return Record{}, ErrMissingRecord
	}
	return first, nil
}

func (s *memRecordStore) NextAfter(_ context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next Record
	for _, record := range s.records {
		if record.ID <= id {
			continue
		}
		if next.IsZero() || record.ID < next.ID {
			next = record
		}
	}
	if next.IsZero() {
		return Record{}, ErrMissingRecord
	}
	return next, nil
}

type memAccountStore struct {
	accounts map[string]Account
}

func newMemAccountStore(accounts ...Account) *memAccountStore {
	store := &memAccountStore{accounts: map[string]Account{}}
	for _, account := range accounts {
		store.accounts[account.ID] = account
	}
	return store
}

func (s *memAccountStore) Get(_ context.Context, id string) (Account, error) {
	account, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrTokenNotFound
	}
	return account, nil
}

func (s *memAccountStore) GetByEmail(_ context.Context, email string) (Account, error) {
	for _, account := range s.accounts {
		if account.Email == email {
			return account, nil
		}
	}
	return Account{}, ErrTokenNotFound
}

type memSessionStore struct {
	mu            sync.Mutex
	requestTokens map[string]SessionRequestToken
	sessionTokens map[string]SessionToken
	nextID        int
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{
		requestTokens: map[string]SessionRequestToken{},
		sessionTokens: map[string]SessionToken{},
	}
}

func (s *memSessionStore) CreateRequestToken(_ context.Context, tokenStr string, secret string) (SessionRequestToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	token := SessionRequestToken{
		ID:        fmt.Sprintf("srt_%d", s.nextID),
		Token:     tokenStr,
		Secret:    secret,
		CreatedAt: time.Now().UTC(),
	}
	s.requestTokens[tokenStr] = token
	return token, nil
}

func (s *memSessionStore) LookupRequestToken(_ context.Context, tokenStr string) (SessionRequestToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.requestTokens[tokenStr]
	if !ok {
		return SessionRequestToken{}, ErrTokenNotFound
	}
	return token, nil
}

func (s *memSessionStore) AuthorizeRequestToken(_ context.Context, tokenStr string, account Account) (SessionRequestToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.requestTokens[tokenStr]
	if !ok {
		return SessionRequestToken{}, ErrTokenNotFound
	}
	token.AccountID = account.ID
	token.AccountEmail = account.Email
	token.Approved = true
	s.requestTokens[tokenStr] = token
	return token, nil
}

func (s *memSessionStore) MarkRequestTokenUsed(_ context.Context, tokenStr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.requestTokens[tokenStr]
	if !ok || !token.Approved {
		return ErrTokenNotFound
	}
	delete(s.requestTokens, tokenStr)
	return nil
}

func (s *memSessionStore) CreateSessionToken(_ context.Context, tokenStr string, secret string, account Account, expiresAt time.Time) (SessionToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	token := SessionToken{
		ID:           fmt.Sprintf("st_%d", s.nextID),
		Token:        tokenStr,
		Secret:       secret,
		AccountID:    account.ID,
		AccountEmail: account.Email,
		ExpiresAt:    expiresAt,
		CreatedAt:    time.Now().UTC(),
	}
	s.sessionTokens[tokenStr] = token
	return token, nil
}

func (s *memSessionStore) LookupSessionToken(_ context.Context, tokenStr string) (SessionToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.sessionTokens[tokenStr]
	if !ok {
		return SessionToken{}, ErrTokenNotFound
	}
	return token, nil
}

func (s *memSessionStore) PurgeExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	purged := 0
	for key, token := range s.sessionTokens {
		if token.Expired(now) {
			delete(s.sessionTokens, key)
			purged++
		}
	}
	return purged, nil
}

// sequenceTokenSource hands out deterministic token material.
type sequenceTokenSource struct {
	mu   sync.Mutex
	next int
}

func (s *sequenceTokenSource) value(prefix string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("%s_%d", prefix, s.next)
}

func (s *sequenceTokenSource) Token() (string, error) { return s.value("token"), nil }

func (s *sequenceTokenSource) Secret() (string, error) { return s.value("secret"), nil }

func (s *sequenceTokenSource) Verifier() (string, error) { return s.value("verifier"), nil }

var testNonceCounter struct {
	mu sync.Mutex
	n  int
}

func nextNonce() string {
	testNonceCounter.mu.Lock()
	defer testNonceCounter.mu.Unlock()
	testNonceCounter.n++
	return fmt.Sprintf("nonce_%d", testNonceCounter.n)
}

func signedTestRequest(
	t *testing.T,
	method string,
	rawURL string,
	params url.Values,
	consumerKey string,
	consumerSecret string,
	token string,
	tokenSecret string,
) SignedRequest {
	t.Helper()
	signed, err := SignParams(method, rawURL, params, consumerKey, consumerSecret, token, tokenSecret, nextNonce(), time.Now().Unix())
	if err != nil {
		t.Fatalf("sign params: %v", err)
	}
	req, err := NewSignedRequest(method, rawURL, signed)
	if err != nil {
		t.Fatalf("build signed request: %v", err)
	}
	return req
}

type testServerEnv struct {
	server    *Server
	consumers *memConsumerStore
	tokens    *memTokenStore
	records   *memRecordStore
	accounts  *memAccountStore
	nonces    *MemoryNonceLedger
}

func newTestServer(t *testing.T, class PolicyClass, consumers []Consumer, records []Record, extra ...Option) testServerEnv {
	t.Helper()
	env := testServerEnv{
		consumers: newMemConsumerStore(consumers...),
		tokens:    newMemTokenStore(),
		records:   newMemRecordStore(records...),
		accounts:  newMemAccountStore(),
		nonces:    NewMemoryNonceLedger(),
	}
	opts := []Option{
		WithConsumerStore(env.consumers),
		WithTokenStore(env.tokens),
		WithRecordStore(env.records),
		WithAccountStore(env.accounts),
		WithNonceLedger(env.nonces),
		WithTokenSource(&sequenceTokenSource{}),
	}
	opts = append(opts, extra...)
	server, err := NewServer(Config{APIBase: "https://container.example.org/api"}, class, opts...)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	env.server = server
	return env
}

func testUserAppConsumer() Consumer {
	return Consumer{
		ID:          "consumer_1",
		ConsumerKey: "app-key",
		Secret:      "app-secret",
		Name:        "Test App",
		Email:       "app@apps.example.org",
		Class:       PolicyClassUserApp,
		UserApp:     &UserAppTraits{Frameable: true},
	}
}
