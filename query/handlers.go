package query

import (
	"context"
	"strings"

	"github.com/goliatone/go-oauth-provider/core"
)

// ProtocolReader is the read side of a policy class server. *core.Server
// satisfies it.
type ProtocolReader interface {
	VerifySignedRequest(ctx context.Context, req core.SignedRequest) (core.Consumer, error)
	VerifyResourceAccess(ctx context.Context, req core.SignedRequest) (core.AccessToken, error)
}

// ConnectReader verifies connect launch requests. *core.ConnectVerifier
// satisfies it.
type ConnectReader interface {
	Verify(ctx context.Context, req core.SignedRequest) (core.AccessToken, error)
}

// SessionReader is the read side of the chrome session server.
// *core.SessionServer satisfies it.
type SessionReader interface {
	VerifySessionAccess(ctx context.Context, req core.SignedRequest) (core.SessionToken, error)
}

type VerifySignedRequestQuery struct {
	reader ProtocolReader
}

func NewVerifySignedRequestQuery(reader ProtocolReader) *VerifySignedRequestQuery {
	return &VerifySignedRequestQuery{reader: reader}
}

func (q *VerifySignedRequestQuery) Query(ctx context.Context, msg VerifySignedRequestMessage) (core.Consumer, error) {
	if q == nil || q.reader == nil {
		return core.Consumer{}, queryDependencyError("query: protocol reader is required")
	}
	return q.reader.VerifySignedRequest(ctx, msg.Request)
}

type VerifyResourceAccessQuery struct {
	reader ProtocolReader
}

func NewVerifyResourceAccessQuery(reader ProtocolReader) *VerifyResourceAccessQuery {
	return &VerifyResourceAccessQuery{reader: reader}
}

func (q *VerifyResourceAccessQuery) Query(ctx context.Context, msg VerifyResourceAccessMessage) (core.AccessToken, error) {
	if q == nil || q.reader == nil {
		return core.AccessToken{}, queryDependencyError("query: protocol reader is required")
	}
	return q.reader.VerifyResourceAccess(ctx, msg.Request)
}

type VerifyConnectLaunchQuery struct {
	reader ConnectReader
}

func NewVerifyConnectLaunchQuery(reader ConnectReader) *VerifyConnectLaunchQuery {
	return &VerifyConnectLaunchQuery{reader: reader}
}

func (q *VerifyConnectLaunchQuery) Query(ctx context.Context, msg VerifyConnectLaunchMessage) (core.AccessToken, error) {
	if q == nil || q.reader == nil {
		return core.AccessToken{}, queryDependencyError("query: connect reader is required")
	}
	return q.reader.Verify(ctx, msg.Request)
}

type VerifySessionAccessQuery struct {
	reader SessionReader
}

func NewVerifySessionAccessQuery(reader SessionReader) *VerifySessionAccessQuery {
	return &VerifySessionAccessQuery{reader: reader}
}

func (q *VerifySessionAccessQuery) Query(ctx context.Context, msg VerifySessionAccessMessage) (core.SessionToken, error) {
	if q == nil || q.reader == nil {
		return core.SessionToken{}, queryDependencyError("query: session reader is required")
	}
	return q.reader.VerifySessionAccess(ctx, msg.Request)
}

type GetRecordQuery struct {
	records core.RecordStore
}

func NewGetRecordQuery(records core.RecordStore) *GetRecordQuery {
	return &GetRecordQuery{records: records}
}

func (q *GetRecordQuery) Query(ctx context.Context, msg GetRecordMessage) (core.Record, error) {
	if q == nil || q.records == nil {
		return core.Record{}, queryDependencyError("query: record store is required")
	}
	return q.records.Get(ctx, msg.RecordID)
}

type GetAccountQuery struct {
	accounts core.AccountStore
}

func NewGetAccountQuery(accounts core.AccountStore) *GetAccountQuery {
	return &GetAccountQuery{accounts: accounts}
}

func (q *GetAccountQuery) Query(ctx context.Context, msg GetAccountMessage) (core.Account, error) {
	if q == nil || q.accounts == nil {
		return core.Account{}, queryDependencyError("query: account store is required")
	}
	if strings.TrimSpace(msg.AccountID) != "" {
		return q.accounts.Get(ctx, msg.AccountID)
	}
	return q.accounts.GetByEmail(ctx, msg.Email)
}
