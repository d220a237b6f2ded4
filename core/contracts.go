package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// ConsumerStore resolves consumer keys within a single policy class. Each
// server instance is backed by exactly one store, so a key registered for one
// class is inert in every other class's server.
type ConsumerStore interface {
	Lookup(ctx context.Context, consumerKey string) (Consumer, error)
	LookupByEmail(ctx context.Context, email string) (Consumer, error)
}

type CreateRequestTokenInput struct {
	Consumer       Consumer
	Token          string
	TokenSecret    string
	Verifier       string
	Callback       string
	RecordID       string
	OfflineCapable bool
}

type AuthorizeRequestTokenInput struct {
	Token   string
	Record  Record
	Account Account
	Offline bool
}

type ExchangeRequestTokenInput struct {
	Consumer          Consumer
	RequestToken      string
	AccessToken       string
	AccessTokenSecret string
}

type PreauthorizeAccessTokenInput struct {
	Consumer     Consumer
	Record       Record
	Account      Account
	Token        string
	Secret       string
	Offline      bool
	SmartConnect bool
}

// TokenStore owns the request/access token lifecycle for one policy class.
//
// MarkRequestTokenUsed + CreateAccessToken are the legacy two-step exchange;
// callers must order them exactly that way. ExchangeRequestToken collapses the
// pair into one transactional unit and is the preferred path.
type TokenStore interface {
	CreateRequestToken(ctx context.Context, in CreateRequestTokenInput) (RequestToken, error)
	// LookupRequestToken finds a request token by token string. consumer may
	// be nil when the caller does not yet know who signed the request; every
	// other accessor scopes by consumer.
	LookupRequestToken(ctx context.Context, consumer *Consumer, tokenStr string) (RequestToken, error)
	AuthorizeRequestToken(ctx context.Context, in AuthorizeRequestTokenInput) (RequestToken, error)
	MarkRequestTokenUsed(ctx context.Context, consumer Consumer, tokenStr string) error
	CreateAccessToken(ctx context.Context, requestToken RequestToken, tokenStr string, secret string) (AccessToken, error)
	ExchangeRequestToken(ctx context.Context, in ExchangeRequestTokenInput) (AccessToken, error)
	// LookupAccessToken rejects connect-flow tokens; the connect verifier is
	// the only caller allowed to resolve those, via LookupConnectAccessToken.
	LookupAccessToken(ctx context.Context, consumer Consumer, tokenStr string) (AccessToken, error)
	LookupConnectAccessToken(ctx context.Context, consumer Consumer, tokenStr string) (AccessToken, error)
	CreatePreauthorizedAccessToken(ctx context.Context, in PreauthorizeAccessTokenInput) (AccessToken, error)
	DeleteAccessToken(ctx context.Context, consumer Consumer, tokenStr string) error
}

// NonceLedger records nonces and rejects duplicates. Claim must be atomic:
// of N concurrent claims for the same nonce exactly one returns true.
type NonceLedger interface {
	Claim(ctx context.Context, nonce string) (bool, error)
	// PurgeBefore trims old entries. Nothing in the protocol path calls it;
	// retention is a deployment decision.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int, error)
}

type RecordStore interface {
	Get(ctx context.Context, id string) (Record, error)
	GetOrCreate(ctx context.Context, id string, fullName string) (Record, bool, error)
	// First and NextAfter drive the helper-app record token walk, ordered by id.
	First(ctx context.Context) (Record, error)
	NextAfter(ctx context.Context, id string) (Record, error)
}

type AccountStore interface {
	Get(ctx context.Context, id string) (Account, error)
	GetByEmail(ctx context.Context, email string) (Account, error)
}

type SessionStore interface {
	CreateRequestToken(ctx context.Context, tokenStr string, secret string) (SessionRequestToken, error)
	LookupRequestToken(ctx context.Context, tokenStr string) (SessionRequestToken, error)
	AuthorizeRequestToken(ctx context.Context, tokenStr string, account Account) (SessionRequestToken, error)
	MarkRequestTokenUsed(ctx context.Context, tokenStr string) error
	CreateSessionToken(ctx context.Context, tokenStr string, secret string, account Account, expiresAt time.Time) (SessionToken, error)
	// LookupSessionToken returns the raw row; expiry is the caller's read-time
	// check, not a store-side sweep.
	LookupSessionToken(ctx context.Context, tokenStr string) (SessionToken, error)
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

type StoreProvider interface {
	ConsumerStore(class PolicyClass) ConsumerStore
	TokenStore(class PolicyClass) TokenStore
	NonceLedger() NonceLedger
	RecordStore() RecordStore
	AccountStore() AccountStore
	SessionStore() SessionStore
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// TokenSource mints opaque token material. Injectable so tests can pin values.
type TokenSource interface {
	Token() (string, error)
	Secret() (string, error)
	Verifier() (string, error)
}

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}
