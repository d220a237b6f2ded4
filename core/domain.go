package core

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

var (
	ErrSignatureMismatch     = errors.New("core: oauth signature mismatch")
	ErrReplayedNonce         = errors.New("core: oauth nonce already used")
	ErrUnknownConsumer       = errors.New("core: unknown oauth consumer")
	ErrTokenNotFound         = errors.New("core: oauth token not found")
	ErrTokenNotAuthorized    = errors.New("core: oauth token not authorized")
	ErrMissingRecord         = errors.New("core: record is required to authorize a share")
	ErrInvalidConnectRequest = errors.New("core: not a valid connect request")
	ErrVerifierMismatch      = errors.New("core: oauth verifier mismatch")
	ErrInvalidPolicyClass    = errors.New("core: invalid policy class")
	ErrInvalidTokenState     = errors.New("core: invalid request token state transition")
)

type PolicyClass string

const (
	PolicyClassUserApp    PolicyClass = "user_app"
	PolicyClassHelperApp  PolicyClass = "helper_app"
	PolicyClassMachineApp PolicyClass = "machine_app"
	PolicyClassSession    PolicyClass = "session"
)

func (c PolicyClass) Validate() error {
	switch c {
	case PolicyClassUserApp, PolicyClassHelperApp, PolicyClassMachineApp, PolicyClassSession:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidPolicyClass, string(c))
}

type MachineSubtype string

const (
	MachineSubtypeAdmin  MachineSubtype = "admin"
	MachineSubtypeChrome MachineSubtype = "chrome"
)

// UserAppTraits carries the fields only user-facing apps have.
type UserAppTraits struct {
	Frameable        bool
	EnabledByDefault bool
	Description      string
}

type HelperAppTraits struct {
	Description string
	Admin       bool
}

type MachineAppTraits struct {
	Subtype MachineSubtype
}

// Consumer is a registered client application. The policy class tag plus the
// matching traits pointer replaces the legacy app class hierarchy; exactly one
// traits field may be set and it must agree with Class.
type Consumer struct {
	ID          string
	ConsumerKey string
	Secret      string
	Name        string
	Email       string
	Class       PolicyClass
	Manifest    string
	UserApp     *UserAppTraits
	HelperApp   *HelperAppTraits
	MachineApp  *MachineAppTraits
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (c Consumer) Validate() error {
	if strings.TrimSpace(c.ConsumerKey) == "" {
		return fmt.Errorf("core: consumer key is required")
	}
	if err := c.Class.Validate(); err != nil {
		return err
	}
	traits := 0
	if c.UserApp != nil {
		traits++
		if c.Class != PolicyClassUserApp {
			return fmt.Errorf("%w: user app traits on %s consumer", ErrInvalidPolicyClass, c.Class)
		}
	}
	if c.HelperApp != nil {
		traits++
		if c.Class != PolicyClassHelperApp {
			return fmt.Errorf("%w: helper app traits on %s consumer", ErrInvalidPolicyClass, c.Class)
		}
	}
	if c.MachineApp != nil {
		traits++
		if c.Class != PolicyClassMachineApp {
			return fmt.Errorf("%w: machine app traits on %s consumer", ErrInvalidPolicyClass, c.Class)
		}
		if c.MachineApp.Subtype != MachineSubtypeAdmin && c.MachineApp.Subtype != MachineSubtypeChrome {
			return fmt.Errorf("%w: machine subtype %q", ErrInvalidPolicyClass, c.MachineApp.Subtype)
		}
	}
	if traits > 1 {
		return fmt.Errorf("%w: multiple trait sets", ErrInvalidPolicyClass)
	}
	return nil
}

// Record is the protected resource to which access is shared.
type Record struct {
	ID        string
	FullName  string
	CreatedAt time.Time
}

func (r Record) IsZero() bool {
	return strings.TrimSpace(r.ID) == ""
}

// Account is the principal who authorizes sharing.
type Account struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

func (a Account) IsZero() bool {
	return strings.TrimSpace(a.ID) == ""
}

type RequestTokenState string

const (
	RequestTokenStateCreated    RequestTokenState = "created"
	RequestTokenStateAuthorized RequestTokenState = "authorized"
	RequestTokenStateExchanged  RequestTokenState = "exchanged"
	RequestTokenStateRejected   RequestTokenState = "rejected"
)

func requestTokenTransitionAllowed(current, next RequestTokenState) bool {
	allowed := map[RequestTokenState]map[RequestTokenState]struct{}{
		RequestTokenStateCreated: {
			RequestTokenStateAuthorized: {},
			RequestTokenStateRejected:   {},
		},
		RequestTokenStateAuthorized: {
			RequestTokenStateExchanged: {},
		},
		RequestTokenStateExchanged: {},
		RequestTokenStateRejected:  {},
	}
	_, ok := allowed[current][next]
	return ok
}

// RequestToken is the short-lived credential exchanged for an AccessToken
// after user authorization. Exchange consumes it; the row is deleted.
type RequestToken struct {
	ID           string
	Token        string
	TokenSecret  string
	Verifier     string
	Callback     string
	ConsumerID   string
	RecordID     string
	ShareID      string
	Offline      bool
	AuthorizedAt *time.Time
	AuthorizedBy string
	CreatedAt    time.Time
}

func (t RequestToken) Authorized() bool {
	return t.AuthorizedAt != nil
}

func (t RequestToken) State() RequestTokenState {
	if t.Authorized() {
		return RequestTokenStateAuthorized
	}
	return RequestTokenStateCreated
}

func (t *RequestToken) TransitionTo(state RequestTokenState, now time.Time) error {
	if t == nil {
		return nil
	}
	current := t.State()
	if current == state {
		return nil
	}
	if !requestTokenTransitionAllowed(current, state) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTokenState, current, state)
	}
	if state == RequestTokenStateAuthorized {
		at := now
		t.AuthorizedAt = &at
	}
	return nil
}

// Share binds a record, a consumer and the authorizing account. It is created
// at most once per triple; the offline flag granted first wins.
type Share struct {
	ID           string
	RecordID     string
	ConsumerID   string
	AccountID    string
	AccountEmail string
	Offline      bool
	AuthorizedAt time.Time
	CreatedAt    time.Time
}

// AccessToken is the long-lived credential minted under a Share. Connect-flow
// tokens (SmartConnect true) are only resolvable through the connect verifier.
type AccessToken struct {
	ID           string
	Token        string
	Secret       string
	ShareID      string
	ConsumerID   string
	SmartConnect bool
	Share        Share
	CreatedAt    time.Time
}

type Nonce struct {
	Nonce     string
	CreatedAt time.Time
}

type SessionRequestToken struct {
	ID           string
	Token        string
	Secret       string
	AccountID    string
	AccountEmail string
	Approved     bool
	CreatedAt    time.Time
}

// SessionToken is the chrome-session credential. It has a fixed lifetime
// checked at read time; there is no refresh.
type SessionToken struct {
	ID           string
	Token        string
	Secret       string
	AccountID    string
	AccountEmail string
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

func (t SessionToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// Encode renders the url-encoded wire form consumed by the UI server.
func (t SessionToken) Encode() string {
	values := url.Values{}
	values.Set("oauth_token", t.Token)
	values.Set("oauth_token_secret", t.Secret)
	values.Set("account_id", t.AccountEmail)
	return values.Encode()
}
