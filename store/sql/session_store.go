package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-oauth-provider/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SessionStore persists the chrome-session token lifecycle. Expiry filtering
// happens in the caller; PurgeExpired exists for the maintenance job.
type SessionStore struct {
	db *bun.DB
}

func (s *SessionStore) CreateRequestToken(ctx context.Context, tokenStr string, secret string) (core.SessionRequestToken, error) {
	if s == nil || s.db == nil {
		return core.SessionRequestToken{}, fmt.Errorf("sqlstore: session store is not configured")
	}
	record := &sessionRequestTokenRecord{
		ID:          uuid.NewString(),
		Token:       tokenStr,
		TokenSecret: secret,
		CreatedAt:   time.Now().UTC(),
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return core.SessionRequestToken{}, err
	}
	return record.toDomain(), nil
}

func (s *SessionStore) LookupRequestToken(ctx context.Context, tokenStr string) (core.SessionRequestToken, error) {
	if s == nil || s.db == nil {
		return core.SessionRequestToken{}, fmt.Errorf("sqlstore: session store is not configured")
	}
	record := &sessionRequestTokenRecord{}
	if err := s.db.NewSelect().
		Model(record).
		Where("token = ?", strings.TrimSpace(tokenStr)).
		Limit(1).
		Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.SessionRequestToken{}, core.ErrTokenNotFound
		}
		return core.SessionRequestToken{}, err
	}
	return record.toDomain(), nil
}

func (s *SessionStore) AuthorizeRequestToken(ctx context.Context, tokenStr string, account core.Account) (core.SessionRequestToken, error) {
	if s == nil || s.db == nil {
		return core.SessionRequestToken{}, fmt.Errorf("sqlstore: session store is not configured")
	}
	res, err := s.db.NewUpdate().
		Model((*sessionRequestTokenRecord)(nil)).
		Set("account_id = ?", account.ID).
		Set("account_email = ?", account.Email).
		Set("approved_p = ?", true).
		Where("token = ?", strings.TrimSpace(tokenStr)).
		Where("approved_p = ?", false).
		Exec(ctx)
	if err != nil {
		return core.SessionRequestToken{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return core.SessionRequestToken{}, err
	}
	if affected == 0 {
		return core.SessionRequestToken{}, core.ErrTokenNotFound
	}
	return s.LookupRequestToken(ctx, tokenStr)
}

func (s *SessionStore) MarkRequestTokenUsed(ctx context.Context, tokenStr string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: session store is not configured")
	}
	res, err := s.db.NewDelete().
		Model((*sessionRequestTokenRecord)(nil)).
		Where("token = ?", strings.TrimSpace(tokenStr)).
		Where("approved_p = ?", true).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return core.ErrTokenNotFound
	}
	return nil
}

func (s *SessionStore) CreateSessionToken(
	ctx context.Context,
	tokenStr string,
	secret string,
	account core.Account,
	expiresAt time.Time,
) (core.SessionToken, error) {
	if s == nil || s.db == nil {
		return core.SessionToken{}, fmt.Errorf("sqlstore: session store is not configured")
	}
	record := &sessionTokenRecord{
		ID:           uuid.NewString(),
		Token:        tokenStr,
		Secret:       secret,
		AccountID:    account.ID,
		AccountEmail: account.Email,
		ExpiresAt:    expiresAt.UTC(),
		CreatedAt:    time.Now().UTC(),
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return core.SessionToken{}, err
	}
	return record.toDomain(), nil
}

func (s *SessionStore) LookupSessionToken(ctx context.Context, tokenStr string) (core.SessionToken, error) {
	if s == nil || s.db == nil {
		return core.SessionToken{}, fmt.Errorf("sqlstore: session store is not configured")
	}
	record := &sessionTokenRecord{}
	if err := s.db.NewSelect().
		Model(record).
		Where("token = ?", strings.TrimSpace(tokenStr)).
		Limit(1).
		Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.SessionToken{}, core.ErrTokenNotFound
		}
		return core.SessionToken{}, err
	}
	return record.toDomain(), nil
}

func (s *SessionStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: session store is not configured")
	}
	res, err := s.db.NewDelete().
		Model((*sessionTokenRecord)(nil)).
		Where("expires_at < ?", now.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

var _ core.SessionStore = (*SessionStore)(nil)
