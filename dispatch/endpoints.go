package dispatch

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-oauth-provider/core"
)

const (
	PathRequestToken        = "/oauth/request_token"
	PathAccessToken         = "/oauth/access_token"
	PathSessionRequestToken = "/oauth/internal/session_tokens"
	PathSessionAccessToken  = "/oauth/internal/session_tokens/exchange"
)

type contextKey string

const (
	accessTokenContextKey  contextKey = "dispatch.access_token"
	sessionTokenContextKey contextKey = "dispatch.session_token"
)

// Endpoints exposes one policy class server over the standard OAuth token
// endpoints. The consent UI is not served here; authorization happens through
// the command layer and only the protocol endpoints speak HTTP.
type Endpoints struct {
	server  *core.Server
	session *core.SessionServer
	logger  core.Logger
}

func NewEndpoints(server *core.Server, logger core.Logger) *Endpoints {
	return &Endpoints{server: server, logger: glog.Ensure(logger)}
}

// WithSessionServer adds the chrome session token endpoints to the table.
func (e *Endpoints) WithSessionServer(session *core.SessionServer) *Endpoints {
	if e != nil {
		e.session = session
	}
	return e
}

// Table builds the fixed route table for this server's endpoints.
func (e *Endpoints) Table() (*Table, error) {
	routes := []Route{
		{Method: http.MethodPost, Path: PathRequestToken, Name: "oauth.request_token", Handler: http.HandlerFunc(e.RequestToken)},
		{Method: http.MethodPost, Path: PathAccessToken, Name: "oauth.access_token", Handler: http.HandlerFunc(e.AccessToken)},
	}
	if e != nil && e.session != nil {
		routes = append(routes,
			Route{Method: http.MethodPost, Path: PathSessionRequestToken, Name: "session.request_token", Handler: http.HandlerFunc(e.SessionRequestToken)},
			Route{Method: http.MethodPost, Path: PathSessionAccessToken, Name: "session.access_token", Handler: http.HandlerFunc(e.SessionAccessToken)},
		)
	}
	return NewTable(routes...)
}

// RequestToken serves the first leg of the three legged flow.
func (e *Endpoints) RequestToken(w http.ResponseWriter, r *http.Request) {
	signed, err := core.ParseSignedRequest(r)
	if err != nil {
		e.writeError(w, err)
		return
	}
	token, err := e.server.IssueRequestToken(r.Context(), signed)
	if err != nil {
		e.writeError(w, err)
		return
	}
	values := url.Values{}
	values.Set("oauth_token", token.Token)
	values.Set("oauth_token_secret", token.TokenSecret)
	values.Set("oauth_callback_confirmed", "true")
	writeForm(w, http.StatusOK, values)
}

// AccessToken serves the exchange leg. The response carries the record the
// share binds so clients learn their launch context without another call.
func (e *Endpoints) AccessToken(w http.ResponseWriter, r *http.Request) {
	signed, err := core.ParseSignedRequest(r)
	if err != nil {
		e.writeError(w, err)
		return
	}
	access, err := e.server.ExchangeRequestToken(r.Context(), signed)
	if err != nil {
		e.writeError(w, err)
		return
	}
	values := url.Values{}
	values.Set("oauth_token", access.Token)
	values.Set("oauth_token_secret", access.Secret)
	if access.Share.RecordID != "" {
		values.Set("smart_record_id", access.Share.RecordID)
	}
	if access.Share.AccountID != "" {
		values.Set("smart_user_id", access.Share.AccountID)
	}
	writeForm(w, http.StatusOK, values)
}

// SessionRequestToken hands a pending session token to the chrome consumer.
func (e *Endpoints) SessionRequestToken(w http.ResponseWriter, r *http.Request) {
	if e == nil || e.session == nil {
		e.writeError(w, core.ErrTokenNotFound)
		return
	}
	signed, err := core.ParseSignedRequest(r)
	if err != nil {
		e.writeError(w, err)
		return
	}
	pending, err := e.session.IssueRequestToken(r.Context(), signed)
	if err != nil {
		e.writeError(w, err)
		return
	}
	values := url.Values{}
	values.Set("oauth_token", pending.Token)
	values.Set("oauth_token_secret", pending.Secret)
	writeForm(w, http.StatusOK, values)
}

// SessionAccessToken exchanges an approved session request token.
func (e *Endpoints) SessionAccessToken(w http.ResponseWriter, r *http.Request) {
	if e == nil || e.session == nil {
		e.writeError(w, core.ErrTokenNotFound)
		return
	}
	signed, err := core.ParseSignedRequest(r)
	if err != nil {
		e.writeError(w, err)
		return
	}
	session, err := e.session.ExchangeRequestToken(r.Context(), signed)
	if err != nil {
		e.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(session.Encode()))
}

// ResourceMiddleware authenticates a protected resource request and stores
// the resolved access token on the request context.
func (e *Endpoints) ResourceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signed, err := core.ParseSignedRequest(r)
		if err != nil {
			e.writeError(w, err)
			return
		}
		access, err := e.server.VerifyResourceAccess(r.Context(), signed)
		if err != nil {
			e.writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), accessTokenContextKey, access)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SessionMiddleware authenticates a chrome session request and stores the
// session token on the request context.
func (e *Endpoints) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if e == nil || e.session == nil {
			e.writeError(w, core.ErrTokenNotFound)
			return
		}
		signed, err := core.ParseSignedRequest(r)
		if err != nil {
			e.writeError(w, err)
			return
		}
		session, err := e.session.VerifySessionAccess(r.Context(), signed)
		if err != nil {
			e.writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), sessionTokenContextKey, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AccessTokenFromContext returns the token stored by ResourceMiddleware.
func AccessTokenFromContext(ctx context.Context) (core.AccessToken, bool) {
	access, ok := ctx.Value(accessTokenContextKey).(core.AccessToken)
	return access, ok
}

// SessionTokenFromContext returns the token stored by SessionMiddleware.
func SessionTokenFromContext(ctx context.Context) (core.SessionToken, bool) {
	session, ok := ctx.Value(sessionTokenContextKey).(core.SessionToken)
	return session, ok
}

func (e *Endpoints) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	problem := strings.ToLower(core.OAuthErrorInternal)
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		if rich.Code > 0 {
			status = rich.Code
		}
		if rich.TextCode != "" {
			problem = strings.ToLower(rich.TextCode)
		}
	}
	if e != nil && e.logger != nil && status >= http.StatusInternalServerError {
		e.logger.Error("endpoint failure", "status", status, "error", err)
	}
	values := url.Values{}
	values.Set("oauth_problem", problem)
	writeForm(w, status, values)
}

func writeForm(w http.ResponseWriter, status int, values url.Values) {
	w.Header().Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(values.Encode()))
}
