package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[IssueRequestTokenMessage]       = (*IssueRequestTokenCommand)(nil)
	_ gocmd.Commander[AuthorizeRequestTokenMessage]   = (*AuthorizeRequestTokenCommand)(nil)
	_ gocmd.Commander[ExchangeRequestTokenMessage]    = (*ExchangeRequestTokenCommand)(nil)
	_ gocmd.Commander[PreauthorizeAccessTokenMessage] = (*PreauthorizeAccessTokenCommand)(nil)
	_ gocmd.Commander[RevokeAccessTokenMessage]       = (*RevokeAccessTokenCommand)(nil)
	_ gocmd.Commander[IssueSessionTokenMessage]       = (*IssueSessionTokenCommand)(nil)
	_ gocmd.Commander[ApproveSessionTokenMessage]     = (*ApproveSessionTokenCommand)(nil)
	_ gocmd.Commander[ExchangeSessionTokenMessage]    = (*ExchangeSessionTokenCommand)(nil)
	_ gocmd.Commander[PurgeNoncesMessage]             = (*PurgeNoncesCommand)(nil)
	_ gocmd.Commander[PurgeSessionsMessage]           = (*PurgeSessionsCommand)(nil)
)
