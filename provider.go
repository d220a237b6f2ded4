package oauthprovider

import (
	"fmt"
	"net/http"

	provcommand "github.com/goliatone/go-oauth-provider/command"
	"github.com/goliatone/go-oauth-provider/core"
	"github.com/goliatone/go-oauth-provider/dispatch"
	provquery "github.com/goliatone/go-oauth-provider/query"
)

// Commands bundles the mutating handlers for the app-facing server and the
// chrome session server.
type Commands struct {
	IssueRequestToken     *provcommand.IssueRequestTokenCommand
	AuthorizeRequestToken *provcommand.AuthorizeRequestTokenCommand
	ExchangeRequestToken  *provcommand.ExchangeRequestTokenCommand
	PreauthorizeAccess    *provcommand.PreauthorizeAccessTokenCommand
	RevokeAccessToken     *provcommand.RevokeAccessTokenCommand
	IssueSessionToken     *provcommand.IssueSessionTokenCommand
	ApproveSessionToken   *provcommand.ApproveSessionTokenCommand
	ExchangeSessionToken  *provcommand.ExchangeSessionTokenCommand
	PurgeNonces           *provcommand.PurgeNoncesCommand
	PurgeSessions         *provcommand.PurgeSessionsCommand
}

// Queries bundles the read handlers.
type Queries struct {
	VerifySignedRequest  *provquery.VerifySignedRequestQuery
	VerifyResourceAccess *provquery.VerifyResourceAccessQuery
	VerifyConnectLaunch  *provquery.VerifyConnectLaunchQuery
	VerifySessionAccess  *provquery.VerifySessionAccessQuery
	GetRecord            *provquery.GetRecordQuery
	GetAccount           *provquery.GetAccountQuery
}

// Provider composes one server per policy class over a shared store set. Each
// server is constructed once here and handed to callers explicitly; there is
// no process-global registry to consult at request time.
type Provider struct {
	config   core.Config
	stores   core.StoreProvider
	servers  map[core.PolicyClass]*core.Server
	session  *core.SessionServer
	connect  *core.ConnectVerifier
	commands Commands
	queries  Queries
}

// New builds the full provider: user, helper, and machine servers, the chrome
// session server, and the connect verifier, all sharing the store set's nonce
// ledger and record/account stores. Extra options apply to every server.
func New(cfg core.Config, stores core.StoreProvider, opts ...core.Option) (*Provider, error) {
	if stores == nil {
		return nil, fmt.Errorf("oauthprovider: store provider is required")
	}

	servers := map[core.PolicyClass]*core.Server{}
	for _, class := range []core.PolicyClass{
		core.PolicyClassUserApp,
		core.PolicyClassHelperApp,
		core.PolicyClassMachineApp,
	} {
		server, err := core.NewServer(cfg, class, serverOptions(stores, class, opts)...)
		if err != nil {
			return nil, fmt.Errorf("oauthprovider: build %s server: %w", class, err)
		}
		servers[class] = server
	}

	session, err := core.NewSessionServer(cfg, serverOptions(stores, core.PolicyClassSession, opts)...)
	if err != nil {
		return nil, fmt.Errorf("oauthprovider: build session server: %w", err)
	}
	session.WithStore(stores.SessionStore())

	// Connect launches originate from user apps; the session store backs the
	// in-browser login binding.
	connect, err := core.NewConnectVerifier(servers[core.PolicyClassUserApp])
	if err != nil {
		return nil, fmt.Errorf("oauthprovider: build connect verifier: %w", err)
	}
	connect.WithSessionStore(stores.SessionStore())

	provider := &Provider{
		config:  cfg,
		stores:  stores,
		servers: servers,
		session: session,
		connect: connect,
	}
	userApp := servers[core.PolicyClassUserApp]
	provider.commands = Commands{
		IssueRequestToken:     provcommand.NewIssueRequestTokenCommand(userApp),
		AuthorizeRequestToken: provcommand.NewAuthorizeRequestTokenCommand(userApp),
		ExchangeRequestToken:  provcommand.NewExchangeRequestTokenCommand(userApp),
		PreauthorizeAccess:    provcommand.NewPreauthorizeAccessTokenCommand(userApp),
		RevokeAccessToken:     provcommand.NewRevokeAccessTokenCommand(userApp),
		IssueSessionToken:     provcommand.NewIssueSessionTokenCommand(session),
		ApproveSessionToken:   provcommand.NewApproveSessionTokenCommand(session),
		ExchangeSessionToken:  provcommand.NewExchangeSessionTokenCommand(session),
		PurgeNonces:           provcommand.NewPurgeNoncesCommand(stores.NonceLedger()),
		PurgeSessions:         provcommand.NewPurgeSessionsCommand(session),
	}
	provider.queries = Queries{
		VerifySignedRequest:  provquery.NewVerifySignedRequestQuery(userApp),
		VerifyResourceAccess: provquery.NewVerifyResourceAccessQuery(userApp),
		VerifyConnectLaunch:  provquery.NewVerifyConnectLaunchQuery(connect),
		VerifySessionAccess:  provquery.NewVerifySessionAccessQuery(session),
		GetRecord:            provquery.NewGetRecordQuery(stores.RecordStore()),
		GetAccount:           provquery.NewGetAccountQuery(stores.AccountStore()),
	}
	return provider, nil
}

func serverOptions(stores core.StoreProvider, class core.PolicyClass, extra []core.Option) []core.Option {
	opts := []core.Option{
		core.WithConsumerStore(stores.ConsumerStore(class)),
		core.WithTokenStore(stores.TokenStore(class)),
		core.WithNonceLedger(stores.NonceLedger()),
		core.WithRecordStore(stores.RecordStore()),
		core.WithAccountStore(stores.AccountStore()),
	}
	return append(opts, extra...)
}

// Server returns the server for one policy class, or nil for the session
// class, which is reachable through SessionServer.
func (p *Provider) Server(class core.PolicyClass) *core.Server {
	if p == nil {
		return nil
	}
	return p.servers[class]
}

func (p *Provider) SessionServer() *core.SessionServer {
	if p == nil {
		return nil
	}
	return p.session
}

func (p *Provider) ConnectVerifier() *core.ConnectVerifier {
	if p == nil {
		return nil
	}
	return p.connect
}

func (p *Provider) Stores() core.StoreProvider {
	if p == nil {
		return nil
	}
	return p.stores
}

func (p *Provider) Config() core.Config {
	if p == nil {
		return core.Config{}
	}
	return p.config
}

func (p *Provider) Commands() Commands {
	if p == nil {
		return Commands{}
	}
	return p.commands
}

func (p *Provider) Queries() Queries {
	if p == nil {
		return Queries{}
	}
	return p.queries
}

// Endpoints returns the HTTP surface for one policy class. The chrome session
// endpoints ride along on every class so a single table can front a
// deployment.
func (p *Provider) Endpoints(class core.PolicyClass, logger core.Logger) *dispatch.Endpoints {
	if p == nil || p.servers[class] == nil {
		return nil
	}
	return dispatch.NewEndpoints(p.servers[class], logger).WithSessionServer(p.session)
}

// Handler builds the route table for one policy class and returns it ready to
// mount.
func (p *Provider) Handler(class core.PolicyClass, logger core.Logger) (http.Handler, error) {
	endpoints := p.Endpoints(class, logger)
	if endpoints == nil {
		return nil, fmt.Errorf("oauthprovider: no server configured for class %q", class)
	}
	table, err := endpoints.Table()
	if err != nil {
		return nil, err
	}
	return table, nil
}
