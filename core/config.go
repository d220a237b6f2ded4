package core

import (
	"fmt"
	"strings"
	"time"
)

type OAuthConfig struct {
	// Realm appears in WWW-Authenticate challenges emitted by callers.
	Realm string `koanf:"realm" mapstructure:"realm"`
	// TimestampSkew bounds how far oauth_timestamp may drift from server
	// time. Zero disables the check; replay defense rests on the nonce
	// ledger either way.
	TimestampSkew time.Duration `koanf:"timestamp_skew" mapstructure:"timestamp_skew"`
}

type SessionConfig struct {
	TokenTTL time.Duration `koanf:"token_ttl" mapstructure:"token_ttl"`
}

type Config struct {
	ServiceName string        `koanf:"service_name" mapstructure:"service_name"`
	APIBase     string        `koanf:"api_base" mapstructure:"api_base"`
	OAuth       OAuthConfig   `koanf:"oauth" mapstructure:"oauth"`
	Session     SessionConfig `koanf:"session" mapstructure:"session"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "oauth-provider",
		OAuth: OAuthConfig{
			Realm: "oauth-provider",
		},
		Session: SessionConfig{
			TokenTTL: 30 * time.Minute,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Session.TokenTTL <= 0 {
		return fmt.Errorf("core: session token_ttl must be positive")
	}
	if c.OAuth.TimestampSkew < 0 {
		return fmt.Errorf("core: oauth timestamp_skew must not be negative")
	}
	return nil
}
