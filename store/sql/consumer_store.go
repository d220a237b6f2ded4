package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-oauth-provider/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ConsumerStore resolves consumers for exactly one policy class. Rows from
// other classes are invisible, which is what keeps a key registered as a
// helper app from signing user app requests.
// The session class has no consumer rows of its own: its view is the machine
// class narrowed to the chrome subtype.
type ConsumerStore struct {
	db      *bun.DB
	repo    repository.Repository[*consumerRecord]
	class   core.PolicyClass
	subtype core.MachineSubtype
}

func (s *ConsumerStore) classCriteria() []repository.SelectCriteria {
	if s.class == core.PolicyClassSession {
		return []repository.SelectCriteria{
			repository.SelectBy("policy_class", "=", string(core.PolicyClassMachineApp)),
			repository.SelectBy("machine_subtype", "=", string(core.MachineSubtypeChrome)),
		}
	}
	criteria := []repository.SelectCriteria{
		repository.SelectBy("policy_class", "=", string(s.class)),
	}
	if s.subtype != "" {
		criteria = append(criteria, repository.SelectBy("machine_subtype", "=", string(s.subtype)))
	}
	return criteria
}

func (s *ConsumerStore) Lookup(ctx context.Context, consumerKey string) (core.Consumer, error) {
	if s == nil || s.repo == nil {
		return core.Consumer{}, fmt.Errorf("sqlstore: consumer store is not configured")
	}
	consumerKey = strings.TrimSpace(consumerKey)
	if consumerKey == "" {
		return core.Consumer{}, core.ErrUnknownConsumer
	}
	criteria := append(s.classCriteria(),
		repository.SelectBy("consumer_key", "=", consumerKey),
		repository.SelectPaginate(1, 0),
	)
	records, _, err := s.repo.List(ctx, criteria...)
	if err != nil {
		return core.Consumer{}, err
	}
	if len(records) == 0 {
		return core.Consumer{}, core.ErrUnknownConsumer
	}
	return records[0].toDomain(), nil
}

func (s *ConsumerStore) LookupByEmail(ctx context.Context, email string) (core.Consumer, error) {
	if s == nil || s.repo == nil {
		return core.Consumer{}, fmt.Errorf("sqlstore: consumer store is not configured")
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return core.Consumer{}, core.ErrUnknownConsumer
	}
	criteria := append(s.classCriteria(),
		repository.SelectBy("email", "=", email),
		repository.SelectPaginate(1, 0),
	)
	records, _, err := s.repo.List(ctx, criteria...)
	if err != nil {
		return core.Consumer{}, err
	}
	if len(records) == 0 {
		return core.Consumer{}, core.ErrUnknownConsumer
	}
	return records[0].toDomain(), nil
}

// LookupMachineBySubtype finds the machine app registered for a subtype, for
// example the chrome consumer that fronts the session flow.
func (s *ConsumerStore) LookupMachineBySubtype(ctx context.Context, subtype core.MachineSubtype) (core.Consumer, error) {
	if s == nil || s.repo == nil {
		return core.Consumer{}, fmt.Errorf("sqlstore: consumer store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("machine_subtype", "=", string(subtype)),
		repository.SelectBy("policy_class", "=", string(core.PolicyClassMachineApp)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.Consumer{}, err
	}
	if len(records) == 0 {
		return core.Consumer{}, core.ErrUnknownConsumer
	}
	return records[0].toDomain(), nil
}

// Save registers or updates a consumer. The consumer key is the natural
// identity; the row id is minted when absent.
func (s *ConsumerStore) Save(ctx context.Context, consumer core.Consumer) (core.Consumer, error) {
	if s == nil || s.db == nil || s.repo == nil {
		return core.Consumer{}, fmt.Errorf("sqlstore: consumer store is not configured")
	}
	if err := consumer.Validate(); err != nil {
		return core.Consumer{}, err
	}
	now := time.Now().UTC()

	existing, _, err := s.repo.List(ctx,
		repository.SelectBy("consumer_key", "=", consumer.ConsumerKey),
		repository.SelectBy("policy_class", "=", string(consumer.Class)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.Consumer{}, err
	}

	record := newConsumerRecord(consumer, now)
	if len(existing) > 0 {
		record.ID = existing[0].ID
		record.CreatedAt = existing[0].CreatedAt
		if _, err := s.db.NewUpdate().
			Model(record).
			WherePK().
			Exec(ctx); err != nil {
			return core.Consumer{}, err
		}
		return record.toDomain(), nil
	}

	if strings.TrimSpace(record.ID) == "" {
		record.ID = uuid.NewString()
	}
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.Consumer{}, err
	}
	return created.toDomain(), nil
}

var _ core.ConsumerStore = (*ConsumerStore)(nil)
