package oauth

import (
	"fmt"
	"time"

	"github.com/unkn0wn-root/nodeflight/sqldb"
)

// GrantType selects how the token request is built. It never changes how
// the token is coordinated or cached.
type GrantType string

const (
	// GrantClientCredentials sends the client credentials in an
	// Authorization: Basic header.
	GrantClientCredentials GrantType = "client_credentials"
	// GrantOAuth2ClientCredentials is the same grant with the client
	// credentials sent as form fields.
	GrantOAuth2ClientCredentials GrantType = "oauth2_client_credentials"
	// GrantPassword sends username and password as form fields.
	GrantPassword GrantType = "password"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultMargin         = 10 * time.Second
)

type Config struct {
	ID        string    `json:"id" toml:"id" yaml:"id"`
	TokenURL  string    `json:"token_url" toml:"token_url" yaml:"token_url"`
	GrantType GrantType `json:"grant_type" toml:"grant_type" yaml:"grant_type"`

	ClientID     string   `json:"client_id" toml:"client_id" yaml:"client_id"`
	ClientSecret string   `json:"client_secret" toml:"client_secret" yaml:"client_secret"`
	Username     string   `json:"username" toml:"username" yaml:"username"`
	Password     string   `json:"password" toml:"password" yaml:"password"`
	Scopes       []string `json:"scopes" toml:"scopes" yaml:"scopes"`

	// RequestTimeout bounds one call to the token endpoint; 0 => 10s.
	RequestTimeout time.Duration `json:"request_timeout" toml:"request_timeout" yaml:"request_timeout"`
	// LockWait is how long a caller waits for another process's token
	// request; 0 => RequestTimeout.
	LockWait time.Duration `json:"lock_wait" toml:"lock_wait" yaml:"lock_wait"`
	// Margin is subtracted from expires_in so a cached token goes stale
	// before the issuer rejects it; 0 => 10s.
	Margin time.Duration `json:"margin" toml:"margin" yaml:"margin"`

	// APIHost is the base URL NewRequest resolves paths against.
	APIHost string `json:"api_host" toml:"api_host" yaml:"api_host"`

	// TokenCache names the cache holding this client's token. The registry
	// uses its default token cache when empty.
	TokenCache string `json:"cache" toml:"cache" yaml:"cache"`

	// Formats are the timezone and date layouts of the API behind the client.
	Formats sqldb.Formats `json:"formats" toml:"formats" yaml:"formats"`
}

func (c *Config) setDefaults() {
	if c.GrantType == "" {
		c.GrantType = GrantClientCredentials
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.LockWait <= 0 {
		c.LockWait = c.RequestTimeout
	}
	if c.Margin <= 0 {
		c.Margin = defaultMargin
	}
}

func (c Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("oauth: id is required")
	}
	if c.TokenURL == "" {
		return fmt.Errorf("oauth %q: token_url is required", c.ID)
	}
	switch c.GrantType {
	case "", GrantClientCredentials, GrantOAuth2ClientCredentials:
		if c.ClientID == "" {
			return fmt.Errorf("oauth %q: client_id is required for %s", c.ID, c.GrantType)
		}
	case GrantPassword:
		if c.Username == "" {
			return fmt.Errorf("oauth %q: username is required for password grant", c.ID)
		}
	default:
		return fmt.Errorf("oauth %q: unknown grant type %q", c.ID, c.GrantType)
	}
	return nil
}
