package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-oauth-provider/core"
)

var (
	_ gocmd.Querier[VerifySignedRequestMessage, core.Consumer]      = (*VerifySignedRequestQuery)(nil)
	_ gocmd.Querier[VerifyResourceAccessMessage, core.AccessToken]  = (*VerifyResourceAccessQuery)(nil)
	_ gocmd.Querier[VerifyConnectLaunchMessage, core.AccessToken]   = (*VerifyConnectLaunchQuery)(nil)
	_ gocmd.Querier[VerifySessionAccessMessage, core.SessionToken]  = (*VerifySessionAccessQuery)(nil)
	_ gocmd.Querier[GetRecordMessage, core.Record]                  = (*GetRecordQuery)(nil)
	_ gocmd.Querier[GetAccountMessage, core.Account]                = (*GetAccountQuery)(nil)
)
