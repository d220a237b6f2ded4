package sqlstore

import (
	"fmt"

	"github.com/goliatone/go-oauth-provider/core"
	persistence "github.com/goliatone/go-persistence-bun"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepositoryFactory builds the SQL-backed store set. Token and consumer
// stores are handed out per policy class; the nonce ledger, record, account,
// and session stores are shared.
type RepositoryFactory struct {
	db *bun.DB

	consumerStores map[core.PolicyClass]*ConsumerStore
	tokenStore     *TokenStore
	nonceStore     *NonceStore
	recordStore    *RecordStore
	accountStore   *AccountStore
	sessionStore   *SessionStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.tokenStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) ConsumerStore(class core.PolicyClass) core.ConsumerStore {
	if f == nil {
		return nil
	}
	return f.consumerStores[class]
}

// MachineConsumerStore exposes the machine-class store with its subtype
// lookup, which the session wiring needs to find the chrome consumer.
func (f *RepositoryFactory) MachineConsumerStore() *ConsumerStore {
	if f == nil {
		return nil
	}
	return f.consumerStores[core.PolicyClassMachineApp]
}

func (f *RepositoryFactory) TokenStore(core.PolicyClass) core.TokenStore {
	if f == nil {
		return nil
	}
	return f.tokenStore
}

func (f *RepositoryFactory) NonceLedger() core.NonceLedger {
	if f == nil {
		return nil
	}
	return f.nonceStore
}

func (f *RepositoryFactory) RecordStore() core.RecordStore {
	if f == nil {
		return nil
	}
	return f.recordStore
}

func (f *RepositoryFactory) AccountStore() core.AccountStore {
	if f == nil {
		return nil
	}
	return f.accountStore
}

func (f *RepositoryFactory) SessionStore() core.SessionStore {
	if f == nil {
		return nil
	}
	return f.sessionStore
}

func (f *RepositoryFactory) Accounts() *AccountStore {
	if f == nil {
		return nil
	}
	return f.accountStore
}

func (f *RepositoryFactory) Consumers(class core.PolicyClass) *ConsumerStore {
	if f == nil {
		return nil
	}
	return f.consumerStores[class]
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) initStores() error {
	consumerRepo := repository.NewRepository[*consumerRecord](f.db, consumerHandlers())
	if validator, ok := consumerRepo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("sqlstore: invalid consumer repository wiring: %w", err)
		}
	}
	requestRepo := repository.NewRepository[*requestTokenRecord](f.db, requestTokenHandlers())
	if validator, ok := requestRepo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("sqlstore: invalid request token repository wiring: %w", err)
		}
	}
	accessRepo := repository.NewRepository[*accessTokenRecord](f.db, accessTokenHandlers())
	if validator, ok := accessRepo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("sqlstore: invalid access token repository wiring: %w", err)
		}
	}
	shareRepo := repository.NewRepository[*shareRecord](f.db, shareHandlers())
	if validator, ok := shareRepo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("sqlstore: invalid share repository wiring: %w", err)
		}
	}

	f.consumerStores = map[core.PolicyClass]*ConsumerStore{}
	for _, class := range []core.PolicyClass{
		core.PolicyClassUserApp,
		core.PolicyClassHelperApp,
		core.PolicyClassMachineApp,
		core.PolicyClassSession,
	} {
		f.consumerStores[class] = &ConsumerStore{
			db:    f.db,
			repo:  consumerRepo,
			class: class,
		}
	}
	f.tokenStore = &TokenStore{
		db:          f.db,
		requestRepo: requestRepo,
		accessRepo:  accessRepo,
		shareRepo:   shareRepo,
	}
	f.nonceStore = &NonceStore{db: f.db}
	f.recordStore = &RecordStore{db: f.db}
	f.accountStore = &AccountStore{db: f.db}
	f.sessionStore = &SessionStore{db: f.db}
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}

var (
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
)
