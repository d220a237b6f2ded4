package oauthprovider

import (
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-oauth-provider/core"
	sqlstore "github.com/goliatone/go-oauth-provider/store/sql"
)

// NewFromDB wires the provider over a bun connection using the SQL store set.
func NewFromDB(cfg core.Config, db *bun.DB, opts ...core.Option) (*Provider, error) {
	factory, err := sqlstore.NewRepositoryFactoryFromDB(db)
	if err != nil {
		return nil, err
	}
	return New(cfg, factory, opts...)
}

// NewFromPersistence wires the provider over a go-persistence-bun client.
func NewFromPersistence(cfg core.Config, client *persistence.Client, opts ...core.Option) (*Provider, error) {
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		return nil, err
	}
	return New(cfg, factory, opts...)
}
