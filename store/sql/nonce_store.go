package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-oauth-provider/core"
	"github.com/uptrace/bun"
)

// NonceStore is the durable nonce ledger shared by every server instance.
// Claim rides on the unique index: an insert that conflicts affects zero rows
// and the claim loses, so concurrent claims across processes still yield one
// winner.
type NonceStore struct {
	db *bun.DB
}

func (s *NonceStore) Claim(ctx context.Context, nonce string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: nonce store is not configured")
	}
	nonce = strings.TrimSpace(nonce)
	if nonce == "" {
		return false, fmt.Errorf("sqlstore: nonce is required")
	}

	res, err := s.db.NewInsert().
		Model(&nonceRecord{
			Nonce:     nonce,
			ClaimedAt: time.Now().UTC(),
		}).
		On("CONFLICT (nonce) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *NonceStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: nonce store is not configured")
	}
	res, err := s.db.NewDelete().
		Model((*nonceRecord)(nil)).
		Where("claimed_at < ?", cutoff).
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

var _ core.NonceLedger = (*NonceStore)(nil)
