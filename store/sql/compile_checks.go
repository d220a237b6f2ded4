package sqlstore

import "github.com/goliatone/go-oauth-provider/core"

var (
	_ core.ConsumerStore          = (*ConsumerStore)(nil)
	_ core.ConsumerStore          = (*CachedConsumerStore)(nil)
	_ core.TokenStore             = (*TokenStore)(nil)
	_ core.NonceLedger            = (*NonceStore)(nil)
	_ core.RecordStore            = (*RecordStore)(nil)
	_ core.AccountStore           = (*AccountStore)(nil)
	_ core.SessionStore           = (*SessionStore)(nil)
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
)
