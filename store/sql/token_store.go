package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-oauth-provider/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TokenStore owns request tokens, shares, and access tokens. Exchange deletes
// the request token row under a condition on authorized_at and checks rows
// affected, so of N racing exchanges exactly one wins the row.
type TokenStore struct {
	db          *bun.DB
	requestRepo repository.Repository[*requestTokenRecord]
	accessRepo  repository.Repository[*accessTokenRecord]
	shareRepo   repository.Repository[*shareRecord]
}

func (s *TokenStore) CreateRequestToken(ctx context.Context, in core.CreateRequestTokenInput) (core.RequestToken, error) {
	if s == nil || s.requestRepo == nil {
		return core.RequestToken{}, fmt.Errorf("sqlstore: token store is not configured")
	}
	if strings.TrimSpace(in.Token) == "" || strings.TrimSpace(in.TokenSecret) == "" {
		return core.RequestToken{}, fmt.Errorf("sqlstore: token and secret are required")
	}
	if strings.TrimSpace(in.Consumer.ID) == "" {
		return core.RequestToken{}, core.ErrUnknownConsumer
	}

	record := &requestTokenRecord{
		ID:          uuid.NewString(),
		Token:       in.Token,
		TokenSecret: in.TokenSecret,
		Verifier:    in.Verifier,
		Callback:    in.Callback,
		ConsumerID:  in.Consumer.ID,
		RecordID:    strings.TrimSpace(in.RecordID),
		Offline:     in.OfflineCapable,
		CreatedAt:   time.Now().UTC(),
	}
	created, err := s.requestRepo.Create(ctx, record)
	if err != nil {
		return core.RequestToken{}, err
	}
	return created.toDomain(), nil
}

func (s *TokenStore) LookupRequestToken(ctx context.Context, consumer *core.Consumer, tokenStr string) (core.RequestToken, error) {
	if s == nil || s.requestRepo == nil {
		return core.RequestToken{}, fmt.Errorf("sqlstore: token store is not configured")
	}
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return core.RequestToken{}, core.ErrTokenNotFound
	}
	criteria := []repository.SelectCriteria{
		repository.SelectBy("token", "=", tokenStr),
		repository.SelectPaginate(1, 0),
	}
	if consumer != nil {
		criteria = append(criteria, repository.SelectBy("consumer_id", "=", consumer.ID))
	}
	records, _, err := s.requestRepo.List(ctx, criteria...)
	if err != nil {
		return core.RequestToken{}, err
	}
	if len(records) == 0 {
		return core.RequestToken{}, core.ErrTokenNotFound
	}
	return records[0].toDomain(), nil
}

// AuthorizeRequestToken finds or creates the share for the
// record/consumer/account triple, then stamps the token. An existing share
// keeps the capability level it was first granted with; a later consent never
// rewrites its offline flag in either direction.
func (s *TokenStore) AuthorizeRequestToken(ctx context.Context, in core.AuthorizeRequestTokenInput) (core.RequestToken, error) {
	if s == nil || s.db == nil {
		return core.RequestToken{}, fmt.Errorf("sqlstore: token store is not configured")
	}
	if in.Record.IsZero() {
		return core.RequestToken{}, core.ErrMissingRecord
	}
	if in.Account.IsZero() {
		return core.RequestToken{}, fmt.Errorf("sqlstore: account is required")
	}
	now := time.Now().UTC()

	var authorized core.RequestToken
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		pending := &requestTokenRecord{}
		if err := tx.NewSelect().
			Model(pending).
			Where("token = ?", strings.TrimSpace(in.Token)).
			Limit(1).
			Scan(ctx); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return core.ErrTokenNotFound
			}
			return err
		}
		if pending.AuthorizedAt != nil {
			return core.ErrInvalidTokenState
		}

		share, err := s.ensureShareTx(ctx, tx, in.Record.ID, pending.ConsumerID, in.Account, in.Offline || pending.Offline, now)
		if err != nil {
			return err
		}

		res, err := tx.NewUpdate().
			Model((*requestTokenRecord)(nil)).
			Set("record_id = ?", in.Record.ID).
			Set("share_id = ?", share.ID).
			Set("authorized_at = ?", now).
			Set("authorized_by = ?", in.Account.ID).
			Where("token = ?", pending.Token).
			Where("authorized_at IS NULL").
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return core.ErrInvalidTokenState
		}

		pending.RecordID = in.Record.ID
		pending.ShareID = share.ID
		pending.AuthorizedAt = &now
		pending.AuthorizedBy = in.Account.ID
		authorized = pending.toDomain()
		return nil
	})
	if err != nil {
		return core.RequestToken{}, err
	}
	return authorized, nil
}

// MarkRequestTokenUsed deletes the token row; with the legacy two-step
// exchange this is the consume half.
func (s *TokenStore) MarkRequestTokenUsed(ctx context.Context, consumer core.Consumer, tokenStr string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: token store is not configured")
	}
	res, err := s.db.NewDelete().
		Model((*requestTokenRecord)(nil)).
		Where("token = ?", strings.TrimSpace(tokenStr)).
		Where("consumer_id = ?", consumer.ID).
		Where("authorized_at IS NOT NULL").
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

func (s *TokenStore) CreateAccessToken(ctx context.Context, requestToken core.RequestToken, tokenStr string, secret string) (core.AccessToken, error) {
	if s == nil || s.accessRepo == nil {
		return core.AccessToken{}, fmt.Errorf("sqlstore: token store is not configured")
	}
	if strings.TrimSpace(requestToken.ShareID) == "" {
		return core.AccessToken{}, core.ErrTokenNotAuthorized
	}
	record := &accessTokenRecord{
		ID:         uuid.NewString(),
		Token:      tokenStr,
		Secret:     secret,
		ShareID:    requestToken.ShareID,
		ConsumerID: requestToken.ConsumerID,
		CreatedAt:  time.Now().UTC(),
	}
	created, err := s.accessRepo.Create(ctx, record)
	if err != nil {
		return core.AccessToken{}, err
	}
	share, err := s.loadShare(ctx, created.ShareID)
	if err != nil {
		return core.AccessToken{}, err
	}
	return created.toDomain(share), nil
}

// ExchangeRequestToken consumes an authorized request token and mints the
// access token in one transaction.
func (s *TokenStore) ExchangeRequestToken(ctx context.Context, in core.ExchangeRequestTokenInput) (core.AccessToken, error) {
	if s == nil || s.db == nil {
		return core.AccessToken{}, fmt.Errorf("sqlstore: token store is not configured")
	}
	now := time.Now().UTC()

	var access core.AccessToken
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		pending := &requestTokenRecord{}
		if err := tx.NewSelect().
			Model(pending).
			Where("token = ?", strings.TrimSpace(in.RequestToken)).
			Where("consumer_id = ?", in.Consumer.ID).
			Limit(1).
			Scan(ctx); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return core.ErrTokenNotFound
			}
			return err
		}
		if pending.AuthorizedAt == nil || strings.TrimSpace(pending.ShareID) == "" {
			return core.ErrTokenNotAuthorized
		}

		res, err := tx.NewDelete().
			Model((*requestTokenRecord)(nil)).
			Where("token = ?", pending.Token).
			Where("consumer_id = ?", in.Consumer.ID).
			Where("authorized_at IS NOT NULL").
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		// Zero rows means a concurrent exchange already consumed it.
		if affected == 0 {
			return core.ErrTokenNotFound
		}

		record := &accessTokenRecord{
			ID:         uuid.NewString(),
			Token:      in.AccessToken,
			Secret:     in.AccessTokenSecret,
			ShareID:    pending.ShareID,
			ConsumerID: in.Consumer.ID,
			CreatedAt:  now,
		}
		if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
			return err
		}

		share := &shareRecord{}
		if err := tx.NewSelect().
			Model(share).
			Where("id = ?", record.ShareID).
			Limit(1).
			Scan(ctx); err != nil {
			return err
		}
		access = record.toDomain(share.toDomain())
		return nil
	})
	if err != nil {
		return core.AccessToken{}, err
	}
	return access, nil
}

func (s *TokenStore) LookupAccessToken(ctx context.Context, consumer core.Consumer, tokenStr string) (core.AccessToken, error) {
	return s.lookupAccessToken(ctx, consumer, tokenStr, false)
}

func (s *TokenStore) LookupConnectAccessToken(ctx context.Context, consumer core.Consumer, tokenStr string) (core.AccessToken, error) {
	return s.lookupAccessToken(ctx, consumer, tokenStr, true)
}

func (s *TokenStore) lookupAccessToken(ctx context.Context, consumer core.Consumer, tokenStr string, smartConnect bool) (core.AccessToken, error) {
	if s == nil || s.accessRepo == nil {
		return core.AccessToken{}, fmt.Errorf("sqlstore: token store is not configured")
	}
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return core.AccessToken{}, core.ErrTokenNotFound
	}
	records, _, err := s.accessRepo.List(ctx,
		repository.SelectBy("token", "=", tokenStr),
		repository.SelectBy("consumer_id", "=", consumer.ID),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.smart_connect_p = ?", smartConnect)
		}),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.AccessToken{}, err
	}
	if len(records) == 0 {
		return core.AccessToken{}, core.ErrTokenNotFound
	}
	share, err := s.loadShare(ctx, records[0].ShareID)
	if err != nil {
		return core.AccessToken{}, err
	}
	return records[0].toDomain(share), nil
}

// CreatePreauthorizedAccessToken mints an access token without a request
// token, creating the share on the way in. The connect launch path sets
// SmartConnect.
func (s *TokenStore) CreatePreauthorizedAccessToken(ctx context.Context, in core.PreauthorizeAccessTokenInput) (core.AccessToken, error) {
	if s == nil || s.db == nil {
		return core.AccessToken{}, fmt.Errorf("sqlstore: token store is not configured")
	}
	if in.Record.IsZero() {
		return core.AccessToken{}, core.ErrMissingRecord
	}
	now := time.Now().UTC()

	var access core.AccessToken
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		share, err := s.ensureShareTx(ctx, tx, in.Record.ID, in.Consumer.ID, in.Account, in.Offline, now)
		if err != nil {
			return err
		}
		record := &accessTokenRecord{
			ID:           uuid.NewString(),
			Token:        in.Token,
			Secret:       in.Secret,
			ShareID:      share.ID,
			ConsumerID:   in.Consumer.ID,
			SmartConnect: in.SmartConnect,
			CreatedAt:    now,
		}
		if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
			return err
		}
		access = record.toDomain(share.toDomain())
		return nil
	})
	if err != nil {
		return core.AccessToken{}, err
	}
	return access, nil
}

func (s *TokenStore) DeleteAccessToken(ctx context.Context, consumer core.Consumer, tokenStr string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: token store is not configured")
	}
	res, err := s.db.NewDelete().
		Model((*accessTokenRecord)(nil)).
		Where("token = ?", strings.TrimSpace(tokenStr)).
		Where("consumer_id = ?", consumer.ID).
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

// ensureShareTx is the lookup-or-create on the unique
// (record_id, consumer_id, account_id) triple. An existing share is returned
// exactly as stored; offline and authorized_at are set only at creation.
func (s *TokenStore) ensureShareTx(
	ctx context.Context,
	tx bun.Tx,
	recordID string,
	consumerID string,
	account core.Account,
	offline bool,
	now time.Time,
) (*shareRecord, error) {
	share := &shareRecord{}
	err := tx.NewSelect().
		Model(share).
		Where("record_id = ?", recordID).
		Where("consumer_id = ?", consumerID).
		Where("account_id = ?", account.ID).
		Limit(1).
		Scan(ctx)
	if err == nil {
		return share, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	share = &shareRecord{
		ID:           uuid.NewString(),
		RecordID:     recordID,
		ConsumerID:   consumerID,
		AccountID:    account.ID,
		AccountEmail: account.Email,
		Offline:      offline,
		AuthorizedAt: now,
		CreatedAt:    now,
	}
	if _, err := tx.NewInsert().
		Model(share).
		On("CONFLICT (record_id, consumer_id, account_id) DO NOTHING").
		Exec(ctx); err != nil {
		return nil, err
	}
	// A concurrent insert may have won the conflict; read back the row that
	// actually exists.
	existing := &shareRecord{}
	if err := tx.NewSelect().
		Model(existing).
		Where("record_id = ?", recordID).
		Where("consumer_id = ?", consumerID).
		Where("account_id = ?", account.ID).
		Limit(1).
		Scan(ctx); err != nil {
		return nil, err
	}
	return existing, nil
}

func (s *TokenStore) loadShare(ctx context.Context, shareID string) (core.Share, error) {
	if strings.TrimSpace(shareID) == "" {
		return core.Share{}, nil
	}
	records, _, err := s.shareRepo.List(ctx,
		repository.SelectBy("id", "=", shareID),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.Share{}, err
	}
	if len(records) == 0 {
		return core.Share{}, nil
	}
	return records[0].toDomain(), nil
}

var _ core.TokenStore = (*TokenStore)(nil)
