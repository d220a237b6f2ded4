package sqlstore_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-oauth-provider/core"
	providermigrations "github.com/goliatone/go-oauth-provider/migrations"
	sqlstore "github.com/goliatone/go-oauth-provider/store/sql"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "go-oauth-provider-tests"
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	var tableName string
	if err := client.DB().NewRaw(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
		"oauth_consumers",
	).Scan(context.Background(), &tableName); err != nil {
		t.Fatalf("query sqlite master: %v", err)
	}
	if tableName != "oauth_consumers" {
		t.Fatalf("expected oauth_consumers table, got %q", tableName)
	}
}

func TestConsumerStore_ClassIsolationAndSessionView(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}

	userApp, err := factory.Consumers(core.PolicyClassUserApp).Save(ctx, core.Consumer{
		ConsumerKey: "user-key",
		Secret:      "user-secret",
		Name:        "User App",
		Class:       core.PolicyClassUserApp,
		UserApp:     &core.UserAppTraits{Frameable: true},
	})
	if err != nil {
		t.Fatalf("save user app: %v", err)
	}
	if _, err := factory.Consumers(core.PolicyClassMachineApp).Save(ctx, core.Consumer{
		ConsumerKey: "chrome-key",
		Secret:      "chrome-secret",
		Name:        "Chrome",
		Class:       core.PolicyClassMachineApp,
		MachineApp:  &core.MachineAppTraits{Subtype: core.MachineSubtypeChrome},
	}); err != nil {
		t.Fatalf("save chrome consumer: %v", err)
	}

	found, err := factory.ConsumerStore(core.PolicyClassUserApp).Lookup(ctx, "user-key")
	if err != nil {
		t.Fatalf("lookup user app through user class: %v", err)
	}
	if found.ID != userApp.ID || found.Class != core.PolicyClassUserApp {
		t.Fatalf("unexpected user app consumer %+v", found)
	}

	if _, err := factory.ConsumerStore(core.PolicyClassMachineApp).Lookup(ctx, "user-key"); !errors.Is(err, core.ErrUnknownConsumer) {
		t.Fatalf("expected user key invisible to machine class, got %v", err)
	}

	// The session class has no consumers of its own; it sees chrome machines.
	sessionView := factory.ConsumerStore(core.PolicyClassSession)
	chrome, err := sessionView.Lookup(ctx, "chrome-key")
	if err != nil {
		t.Fatalf("lookup chrome through session class: %v", err)
	}
	if chrome.MachineApp == nil || chrome.MachineApp.Subtype != core.MachineSubtypeChrome {
		t.Fatalf("expected chrome machine traits, got %+v", chrome)
	}
	if _, err := sessionView.Lookup(ctx, "user-key"); !errors.Is(err, core.ErrUnknownConsumer) {
		t.Fatalf("expected user key invisible to session class, got %v", err)
	}

	bySubtype, err := factory.MachineConsumerStore().LookupMachineBySubtype(ctx, core.MachineSubtypeChrome)
	if err != nil {
		t.Fatalf("lookup machine by subtype: %v", err)
	}
	if bySubtype.ConsumerKey != "chrome-key" {
		t.Fatalf("expected chrome consumer by subtype, got %+v", bySubtype)
	}
}

func seedConsumerAndRecord(t *testing.T, factory *sqlstore.RepositoryFactory) (core.Consumer, core.Record) {
	t.Helper()
	ctx := context.Background()
	consumer, err := factory.Consumers(core.PolicyClassUserApp).Save(ctx, core.Consumer{
		ConsumerKey: "app-key",
		Secret:      "app-secret",
		Name:        "App",
		Class:       core.PolicyClassUserApp,
	})
	if err != nil {
		t.Fatalf("save consumer: %v", err)
	}
	record, _, err := factory.RecordStore().GetOrCreate(ctx, "rec-1", "Record One")
	if err != nil {
		t.Fatalf("create record: %v", err)
	}
	return consumer, record
}

func TestTokenStore_ExchangeConsumesExactlyOnce(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	consumer, record := seedConsumerAndRecord(t, factory)
	tokens := factory.TokenStore(core.PolicyClassUserApp)

	pending, err := tokens.CreateRequestToken(ctx, core.CreateRequestTokenInput{
		Consumer:    consumer,
		Token:       "rt-1",
		TokenSecret: "rt-secret",
		Verifier:    "verifier-1",
	})
	if err != nil {
		t.Fatalf("create request token: %v", err)
	}
	if pending.Authorized() {
		t.Fatalf("fresh request token must not be authorized")
	}

	authorized, err := tokens.AuthorizeRequestToken(ctx, core.AuthorizeRequestTokenInput{
		Token:   "rt-1",
		Record:  record,
		Account: core.Account{ID: "acct-1", Email: "one@example.org"},
	})
	if err != nil {
		t.Fatalf("authorize request token: %v", err)
	}
	if authorized.ShareID == "" {
		t.Fatalf("expected share bound during authorization")
	}

	var wg sync.WaitGroup
	var winners int32
	var consumed int32
	for i := 0; i < 4; i++ {
		wg.Add(1)
		token := fmt.Sprintf("at-%d", i)
		go func() {
			defer wg.Done()
			_, exchangeErr := tokens.ExchangeRequestToken(ctx, core.ExchangeRequestTokenInput{
				Consumer:          consumer,
				RequestToken:      "rt-1",
				AccessToken:       token,
				AccessTokenSecret: token + "-secret",
			})
			if exchangeErr == nil {
				atomic.AddInt32(&winners, 1)
				return
			}
			if errors.Is(exchangeErr, core.ErrTokenNotFound) {
				atomic.AddInt32(&consumed, 1)
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("expected exactly one winning exchange, got %d", winners)
	}
	if consumed != 3 {
		t.Fatalf("expected losers to see the token gone, got %d", consumed)
	}

	var accessCount int
	if err := client.DB().NewRaw(
		"SELECT COUNT(*) FROM oauth_access_tokens WHERE consumer_id = ?",
		consumer.ID,
	).Scan(ctx, &accessCount); err != nil {
		t.Fatalf("count access tokens: %v", err)
	}
	if accessCount != 1 {
		t.Fatalf("expected a single access token row, got %d", accessCount)
	}
	if _, err := tokens.LookupRequestToken(ctx, &consumer, "rt-1"); !errors.Is(err, core.ErrTokenNotFound) {
		t.Fatalf("expected request token consumed, got %v", err)
	}
}

func TestTokenStore_ExchangeUnauthorizedRejected(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	consumer, _ := seedConsumerAndRecord(t, factory)
	tokens := factory.TokenStore(core.PolicyClassUserApp)

	if _, err := tokens.CreateRequestToken(ctx, core.CreateRequestTokenInput{
		Consumer:    consumer,
		Token:       "rt-pending",
		TokenSecret: "rt-secret",
	}); err != nil {
		t.Fatalf("create request token: %v", err)
	}
	_, err = tokens.ExchangeRequestToken(ctx, core.ExchangeRequestTokenInput{
		Consumer:          consumer,
		RequestToken:      "rt-pending",
		AccessToken:       "at-x",
		AccessTokenSecret: "at-x-secret",
	})
	if !errors.Is(err, core.ErrTokenNotAuthorized) {
		t.Fatalf("expected unauthorized exchange rejection, got %v", err)
	}
}

func TestShareTriple_IdempotentAndOfflineNeverDowngrades(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	consumer, record := seedConsumerAndRecord(t, factory)
	tokens := factory.TokenStore(core.PolicyClassUserApp)
	account := core.Account{ID: "acct-1", Email: "one@example.org"}

	if _, err := tokens.CreateRequestToken(ctx, core.CreateRequestTokenInput{
		Consumer: consumer, Token: "rt-a", TokenSecret: "sa",
	}); err != nil {
		t.Fatalf("create rt-a: %v", err)
	}
	first, err := tokens.AuthorizeRequestToken(ctx, core.AuthorizeRequestTokenInput{
		Token: "rt-a", Record: record, Account: account, Offline: true,
	})
	if err != nil {
		t.Fatalf("authorize rt-a: %v", err)
	}

	if _, err := tokens.CreateRequestToken(ctx, core.CreateRequestTokenInput{
		Consumer: consumer, Token: "rt-b", TokenSecret: "sb",
	}); err != nil {
		t.Fatalf("create rt-b: %v", err)
	}
	second, err := tokens.AuthorizeRequestToken(ctx, core.AuthorizeRequestTokenInput{
		Token: "rt-b", Record: record, Account: account, Offline: false,
	})
	if err != nil {
		t.Fatalf("authorize rt-b: %v", err)
	}
	if second.ShareID != first.ShareID {
		t.Fatalf("expected one share per triple; got %q and %q", first.ShareID, second.ShareID)
	}

	var offline bool
	if err := client.DB().NewRaw(
		"SELECT offline_p FROM shares WHERE id = ?",
		first.ShareID,
	).Scan(ctx, &offline); err != nil {
		t.Fatalf("load share offline flag: %v", err)
	}
	if !offline {
		t.Fatalf("offline grant must survive a later online-only consent")
	}

	var shareCount int
	if err := client.DB().NewRaw(
		"SELECT COUNT(*) FROM shares WHERE record_id = ? AND consumer_id = ? AND account_id = ?",
		record.ID, consumer.ID, account.ID,
	).Scan(ctx, &shareCount); err != nil {
		t.Fatalf("count shares: %v", err)
	}
	if shareCount != 1 {
		t.Fatalf("expected a single share row for the triple, got %d", shareCount)
	}

	// Reverse order on a second triple: an online-only share stays online even
	// when a later consent asks for offline. Creation fixes the capability.
	online := core.Account{ID: "acct-2", Email: "two@example.org"}
	if _, err := tokens.CreateRequestToken(ctx, core.CreateRequestTokenInput{
		Consumer: consumer, Token: "rt-c", TokenSecret: "sc",
	}); err != nil {
		t.Fatalf("create rt-c: %v", err)
	}
	third, err := tokens.AuthorizeRequestToken(ctx, core.AuthorizeRequestTokenInput{
		Token: "rt-c", Record: record, Account: online, Offline: false,
	})
	if err != nil {
		t.Fatalf("authorize rt-c: %v", err)
	}
	if _, err := tokens.CreateRequestToken(ctx, core.CreateRequestTokenInput{
		Consumer: consumer, Token: "rt-d", TokenSecret: "sd",
	}); err != nil {
		t.Fatalf("create rt-d: %v", err)
	}
	fourth, err := tokens.AuthorizeRequestToken(ctx, core.AuthorizeRequestTokenInput{
		Token: "rt-d", Record: record, Account: online, Offline: true,
	})
	if err != nil {
		t.Fatalf("authorize rt-d: %v", err)
	}
	if fourth.ShareID != third.ShareID {
		t.Fatalf("expected one share per triple; got %q and %q", third.ShareID, fourth.ShareID)
	}
	if err := client.DB().NewRaw(
		"SELECT offline_p FROM shares WHERE id = ?",
		third.ShareID,
	).Scan(ctx, &offline); err != nil {
		t.Fatalf("load second share offline flag: %v", err)
	}
	if offline {
		t.Fatalf("later offline consent must not rewrite an existing share")
	}
}

func TestAccessTokenStore_ConnectTokensAreIsolated(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	consumer, record := seedConsumerAndRecord(t, factory)
	tokens := factory.TokenStore(core.PolicyClassUserApp)

	connect, err := tokens.CreatePreauthorizedAccessToken(ctx, core.PreauthorizeAccessTokenInput{
		Consumer:     consumer,
		Record:       record,
		Account:      core.Account{ID: "acct-1"},
		Token:        "at-connect",
		Secret:       "at-connect-secret",
		SmartConnect: true,
	})
	if err != nil {
		t.Fatalf("create connect token: %v", err)
	}

	if _, err := tokens.LookupAccessToken(ctx, consumer, connect.Token); !errors.Is(err, core.ErrTokenNotFound) {
		t.Fatalf("expected connect token invisible to the resource lookup, got %v", err)
	}
	found, err := tokens.LookupConnectAccessToken(ctx, consumer, connect.Token)
	if err != nil {
		t.Fatalf("lookup connect token: %v", err)
	}
	if !found.SmartConnect || found.Share.RecordID != record.ID {
		t.Fatalf("unexpected connect token %+v", found)
	}
}

func TestNonceStore_SingleWinnerAndPurge(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	ledger := factory.NonceLedger()

	var wg sync.WaitGroup
	var winners int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, claimErr := ledger.Claim(ctx, "app-key\x00nonce-1")
			if claimErr != nil {
				t.Errorf("claim: %v", claimErr)
				return
			}
			if claimed {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("expected exactly one nonce claim winner, got %d", winners)
	}

	purged, err := ledger.PurgeBefore(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("purge nonces: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged nonce, got %d", purged)
	}
	claimed, err := ledger.Claim(ctx, "app-key\x00nonce-1")
	if err != nil {
		t.Fatalf("claim after purge: %v", err)
	}
	if !claimed {
		t.Fatalf("expected purged nonce to be claimable again")
	}
}

func TestSessionStore_LifecycleAndPurge(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	sessions := factory.SessionStore()
	account := core.Account{ID: "acct-1", Email: "one@example.org"}

	if _, err := sessions.CreateRequestToken(ctx, "srt-1", "srt-secret"); err != nil {
		t.Fatalf("create session request token: %v", err)
	}
	if err := sessions.MarkRequestTokenUsed(ctx, "srt-1"); err == nil {
		t.Fatalf("expected unapproved token not consumable")
	}
	approved, err := sessions.AuthorizeRequestToken(ctx, "srt-1", account)
	if err != nil {
		t.Fatalf("approve session request token: %v", err)
	}
	if !approved.Approved || approved.AccountEmail != account.Email {
		t.Fatalf("unexpected approved token %+v", approved)
	}
	if err := sessions.MarkRequestTokenUsed(ctx, "srt-1"); err != nil {
		t.Fatalf("consume session request token: %v", err)
	}
	if err := sessions.MarkRequestTokenUsed(ctx, "srt-1"); err == nil {
		t.Fatalf("expected second consume to fail")
	}

	now := time.Now().UTC()
	if _, err := sessions.CreateSessionToken(ctx, "st-old", "old-secret", account, now.Add(-time.Minute)); err != nil {
		t.Fatalf("create expired session token: %v", err)
	}
	if _, err := sessions.CreateSessionToken(ctx, "st-live", "live-secret", account, now.Add(30*time.Minute)); err != nil {
		t.Fatalf("create live session token: %v", err)
	}

	purged, err := sessions.PurgeExpired(ctx, now)
	if err != nil {
		t.Fatalf("purge expired sessions: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged session, got %d", purged)
	}
	if _, err := sessions.LookupSessionToken(ctx, "st-old"); !errors.Is(err, core.ErrTokenNotFound) {
		t.Fatalf("expected expired session purged, got %v", err)
	}
	if _, err := sessions.LookupSessionToken(ctx, "st-live"); err != nil {
		t.Fatalf("expected live session retained: %v", err)
	}
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:oauth-provider-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	_, err = providermigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != providermigrations.DialectSQLite {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, providermigrations.WithValidationTargets(providermigrations.DialectSQLite))
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}
