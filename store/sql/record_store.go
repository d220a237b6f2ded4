package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-oauth-provider/core"
	"github.com/uptrace/bun"
)

type RecordStore struct {
	db *bun.DB
}

func (s *RecordStore) Get(ctx context.Context, id string) (core.Record, error) {
	if s == nil || s.db == nil {
		return core.Record{}, fmt.Errorf("sqlstore: record store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return core.Record{}, core.ErrMissingRecord
	}
	row := &recordRow{}
	if err := s.db.NewSelect().
		Model(row).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Record{}, core.ErrMissingRecord
		}
		return core.Record{}, err
	}
	return row.toDomain(), nil
}

// GetOrCreate inserts the record on first reference. The bool reports whether
// a new row was created.
func (s *RecordStore) GetOrCreate(ctx context.Context, id string, fullName string) (core.Record, bool, error) {
	if s == nil || s.db == nil {
		return core.Record{}, false, fmt.Errorf("sqlstore: record store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return core.Record{}, false, core.ErrMissingRecord
	}

	row := &recordRow{
		ID:        id,
		FullName:  fullName,
		CreatedAt: time.Now().UTC(),
	}
	res, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return core.Record{}, false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return core.Record{}, false, err
	}
	if affected == 1 {
		return row.toDomain(), true, nil
	}

	existing, err := s.Get(ctx, id)
	if err != nil {
		return core.Record{}, false, err
	}
	return existing, false, nil
}

func (s *RecordStore) First(ctx context.Context) (core.Record, error) {
	if s == nil || s.db == nil {
		return core.Record{}, fmt.Errorf("sqlstore: record store is not configured")
	}
	row := &recordRow{}
	if err := s.db.NewSelect().
		Model(row).
		OrderExpr("id ASC").
		Limit(1).
		Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Record{}, core.ErrMissingRecord
		}
		return core.Record{}, err
	}
	return row.toDomain(), nil
}

// NextAfter returns the record with the smallest id greater than the given
// one, driving ordered iteration for bulk token issuance.
func (s *RecordStore) NextAfter(ctx context.Context, id string) (core.Record, error) {
	if s == nil || s.db == nil {
		return core.Record{}, fmt.Errorf("sqlstore: record store is not configured")
	}
	row := &recordRow{}
	if err := s.db.NewSelect().
		Model(row).
		Where("id > ?", strings.TrimSpace(id)).
		OrderExpr("id ASC").
		Limit(1).
		Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Record{}, core.ErrMissingRecord
		}
		return core.Record{}, err
	}
	return row.toDomain(), nil
}

var _ core.RecordStore = (*RecordStore)(nil)

type AccountStore struct {
	db *bun.DB
}

func (s *AccountStore) Get(ctx context.Context, id string) (core.Account, error) {
	if s == nil || s.db == nil {
		return core.Account{}, fmt.Errorf("sqlstore: account store is not configured")
	}
	row := &accountRow{}
	if err := s.db.NewSelect().
		Model(row).
		Where("id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Account{}, fmt.Errorf("sqlstore: account %q not found", id)
		}
		return core.Account{}, err
	}
	return row.toDomain(), nil
}

func (s *AccountStore) GetByEmail(ctx context.Context, email string) (core.Account, error) {
	if s == nil || s.db == nil {
		return core.Account{}, fmt.Errorf("sqlstore: account store is not configured")
	}
	row := &accountRow{}
	if err := s.db.NewSelect().
		Model(row).
		Where("lower(email) = lower(?)", strings.TrimSpace(email)).
		Limit(1).
		Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Account{}, fmt.Errorf("sqlstore: account with email %q not found", email)
		}
		return core.Account{}, err
	}
	return row.toDomain(), nil
}

// Save upserts an account by id.
func (s *AccountStore) Save(ctx context.Context, account core.Account) (core.Account, error) {
	if s == nil || s.db == nil {
		return core.Account{}, fmt.Errorf("sqlstore: account store is not configured")
	}
	if account.IsZero() {
		return core.Account{}, fmt.Errorf("sqlstore: account id is required")
	}
	row := &accountRow{
		ID:        account.ID,
		Email:     account.Email,
		CreatedAt: account.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if _, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (id) DO UPDATE").
		Set("email = EXCLUDED.email").
		Exec(ctx); err != nil {
		return core.Account{}, err
	}
	return row.toDomain(), nil
}

var _ core.AccountStore = (*AccountStore)(nil)
