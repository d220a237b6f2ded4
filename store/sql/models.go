package sqlstore

import (
	"time"

	"github.com/goliatone/go-oauth-provider/core"
	"github.com/uptrace/bun"
)

type consumerRecord struct {
	bun.BaseModel `bun:"table:oauth_consumers,alias:oc"`

	ID               string    `bun:"id,pk"`
	ConsumerKey      string    `bun:"consumer_key,notnull"`
	Secret           string    `bun:"secret,notnull"`
	Name             string    `bun:"name,notnull"`
	Email            string    `bun:"email"`
	PolicyClass      string    `bun:"policy_class,notnull"`
	Manifest         string    `bun:"manifest"`
	Frameable        bool      `bun:"frameable,notnull,default:false"`
	EnabledByDefault bool      `bun:"enabled_by_default,notnull,default:false"`
	Description      string    `bun:"description"`
	Admin            bool      `bun:"admin_p,notnull,default:false"`
	MachineSubtype   string    `bun:"machine_subtype"`
	CreatedAt        time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt        time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (r *consumerRecord) toDomain() core.Consumer {
	if r == nil {
		return core.Consumer{}
	}
	consumer := core.Consumer{
		ID:          r.ID,
		ConsumerKey: r.ConsumerKey,
		Secret:      r.Secret,
		Name:        r.Name,
		Email:       r.Email,
		Class:       core.PolicyClass(r.PolicyClass),
		Manifest:    r.Manifest,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	switch consumer.Class {
	case core.PolicyClassUserApp:
		consumer.UserApp = &core.UserAppTraits{
			Frameable:        r.Frameable,
			EnabledByDefault: r.EnabledByDefault,
			Description:      r.Description,
		}
	case core.PolicyClassHelperApp:
		consumer.HelperApp = &core.HelperAppTraits{
			Description: r.Description,
			Admin:       r.Admin,
		}
	case core.PolicyClassMachineApp:
		consumer.MachineApp = &core.MachineAppTraits{
			Subtype: core.MachineSubtype(r.MachineSubtype),
		}
	}
	return consumer
}

func newConsumerRecord(consumer core.Consumer, now time.Time) *consumerRecord {
	record := &consumerRecord{
		ID:          consumer.ID,
		ConsumerKey: consumer.ConsumerKey,
		Secret:      consumer.Secret,
		Name:        consumer.Name,
		Email:       consumer.Email,
		PolicyClass: string(consumer.Class),
		Manifest:    consumer.Manifest,
		CreatedAt:   consumer.CreatedAt,
		UpdatedAt:   now,
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if consumer.UserApp != nil {
		record.Frameable = consumer.UserApp.Frameable
		record.EnabledByDefault = consumer.UserApp.EnabledByDefault
		record.Description = consumer.UserApp.Description
	}
	if consumer.HelperApp != nil {
		record.Description = consumer.HelperApp.Description
		record.Admin = consumer.HelperApp.Admin
	}
	if consumer.MachineApp != nil {
		record.MachineSubtype = string(consumer.MachineApp.Subtype)
	}
	return record
}

type recordRow struct {
	bun.BaseModel `bun:"table:records,alias:rec"`

	ID        string    `bun:"id,pk"`
	FullName  string    `bun:"full_name"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func (r *recordRow) toDomain() core.Record {
	if r == nil {
		return core.Record{}
	}
	return core.Record{ID: r.ID, FullName: r.FullName, CreatedAt: r.CreatedAt}
}

type accountRow struct {
	bun.BaseModel `bun:"table:accounts,alias:acc"`

	ID        string    `bun:"id,pk"`
	Email     string    `bun:"email,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func (r *accountRow) toDomain() core.Account {
	if r == nil {
		return core.Account{}
	}
	return core.Account{ID: r.ID, Email: r.Email, CreatedAt: r.CreatedAt}
}

type requestTokenRecord struct {
	bun.BaseModel `bun:"table:oauth_request_tokens,alias:ort"`

	ID           string     `bun:"id,pk"`
	Token        string     `bun:"token,notnull"`
	TokenSecret  string     `bun:"token_secret,notnull"`
	Verifier     string     `bun:"verifier"`
	Callback     string     `bun:"callback"`
	ConsumerID   string     `bun:"consumer_id,notnull"`
	RecordID     string     `bun:"record_id"`
	ShareID      string     `bun:"share_id"`
	Offline      bool       `bun:"offline_p,notnull,default:false"`
	AuthorizedAt *time.Time `bun:"authorized_at,nullzero"`
	AuthorizedBy string     `bun:"authorized_by"`
	CreatedAt    time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func (r *requestTokenRecord) toDomain() core.RequestToken {
	if r == nil {
		return core.RequestToken{}
	}
	return core.RequestToken{
		ID:           r.ID,
		Token:        r.Token,
		TokenSecret:  r.TokenSecret,
		Verifier:     r.Verifier,
		Callback:     r.Callback,
		ConsumerID:   r.ConsumerID,
		RecordID:     r.RecordID,
		ShareID:      r.ShareID,
		Offline:      r.Offline,
		AuthorizedAt: r.AuthorizedAt,
		AuthorizedBy: r.AuthorizedBy,
		CreatedAt:    r.CreatedAt,
	}
}

type shareRecord struct {
	bun.BaseModel `bun:"table:shares,alias:sh"`

	ID           string    `bun:"id,pk"`
	RecordID     string    `bun:"record_id,notnull"`
	ConsumerID   string    `bun:"consumer_id,notnull"`
	AccountID    string    `bun:"account_id,notnull"`
	AccountEmail string    `bun:"account_email"`
	Offline      bool      `bun:"offline_p,notnull,default:false"`
	AuthorizedAt time.Time `bun:"authorized_at,nullzero,notnull"`
	CreatedAt    time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func (r *shareRecord) toDomain() core.Share {
	if r == nil {
		return core.Share{}
	}
	return core.Share{
		ID:           r.ID,
		RecordID:     r.RecordID,
		ConsumerID:   r.ConsumerID,
		AccountID:    r.AccountID,
		AccountEmail: r.AccountEmail,
		Offline:      r.Offline,
		AuthorizedAt: r.AuthorizedAt,
		CreatedAt:    r.CreatedAt,
	}
}

type accessTokenRecord struct {
	bun.BaseModel `bun:"table:oauth_access_tokens,alias:oat"`

	ID           string    `bun:"id,pk"`
	Token        string    `bun:"token,notnull"`
	Secret       string    `bun:"secret,notnull"`
	ShareID      string    `bun:"share_id,notnull"`
	ConsumerID   string    `bun:"consumer_id,notnull"`
	SmartConnect bool      `bun:"smart_connect_p,notnull,default:false"`
	CreatedAt    time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func (r *accessTokenRecord) toDomain(share core.Share) core.AccessToken {
	if r == nil {
		return core.AccessToken{}
	}
	return core.AccessToken{
		ID:           r.ID,
		Token:        r.Token,
		Secret:       r.Secret,
		ShareID:      r.ShareID,
		ConsumerID:   r.ConsumerID,
		SmartConnect: r.SmartConnect,
		Share:        share,
		CreatedAt:    r.CreatedAt,
	}
}

type nonceRecord struct {
	bun.BaseModel `bun:"table:oauth_nonces,alias:non"`

	Nonce     string    `bun:"nonce,pk"`
	ClaimedAt time.Time `bun:"claimed_at,nullzero,notnull,default:current_timestamp"`
}

type sessionRequestTokenRecord struct {
	bun.BaseModel `bun:"table:session_request_tokens,alias:srt"`

	ID           string    `bun:"id,pk"`
	Token        string    `bun:"token,notnull"`
	TokenSecret  string    `bun:"token_secret,notnull"`
	AccountID    string    `bun:"account_id"`
	AccountEmail string    `bun:"account_email"`
	Approved     bool      `bun:"approved_p,notnull,default:false"`
	CreatedAt    time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func (r *sessionRequestTokenRecord) toDomain() core.SessionRequestToken {
	if r == nil {
		return core.SessionRequestToken{}
	}
	return core.SessionRequestToken{
		ID:           r.ID,
		Token:        r.Token,
		Secret:       r.TokenSecret,
		AccountID:    r.AccountID,
		AccountEmail: r.AccountEmail,
		Approved:     r.Approved,
		CreatedAt:    r.CreatedAt,
	}
}

type sessionTokenRecord struct {
	bun.BaseModel `bun:"table:session_tokens,alias:st"`

	ID           string    `bun:"id,pk"`
	Token        string    `bun:"token,notnull"`
	Secret       string    `bun:"secret,notnull"`
	AccountID    string    `bun:"account_id,notnull"`
	AccountEmail string    `bun:"account_email"`
	ExpiresAt    time.Time `bun:"expires_at,nullzero,notnull"`
	CreatedAt    time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func (r *sessionTokenRecord) toDomain() core.SessionToken {
	if r == nil {
		return core.SessionToken{}
	}
	return core.SessionToken{
		ID:           r.ID,
		Token:        r.Token,
		Secret:       r.Secret,
		AccountID:    r.AccountID,
		AccountEmail: r.AccountEmail,
		ExpiresAt:    r.ExpiresAt,
		CreatedAt:    r.CreatedAt,
	}
}
