// Package oauth fetches bearer tokens for outgoing API calls. Tokens are
// cached in a shared store and fetched by at most one process at a time.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/unkn0wn-root/nodeflight"
	"github.com/unkn0wn-root/nodeflight/sqldb"
)

type Option func(*Client)

// WithHTTPClient sets the client used for token and API requests.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

// WithLogger sets the logger; NopLogger by default.
func WithLogger(l nodeflight.Logger) Option { return func(c *Client) { c.log = l } }

// WithLockRetry retries Token on nodeflight.ErrLockTimeout with a fresh
// backoff from newBackoff per call. Other errors are never retried.
func WithLockRetry(newBackoff func() retry.Backoff) Option {
	return func(c *Client) { c.backoff = newBackoff }
}

type Client struct {
	cfg     Config
	flight  *nodeflight.Flight[string]
	formats *sqldb.Formatter
	http    *http.Client
	log     nodeflight.Logger
	backoff func() retry.Backoff
}

// New builds a client over flight, whose store holds the tokens of every
// client sharing it.
func New(cfg Config, flight *nodeflight.Flight[string], opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if flight == nil {
		return nil, fmt.Errorf("oauth %q: flight is required", cfg.ID)
	}
	cfg.setDefaults()
	formats, err := sqldb.NewFormatter(cfg.Formats)
	if err != nil {
		return nil, fmt.Errorf("oauth %q: %w", cfg.ID, err)
	}
	c := &Client{cfg: cfg, flight: flight, formats: formats, http: http.DefaultClient, log: nodeflight.NopLogger{}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) ID() string { return c.cfg.ID }

// Formats converts dates to and from the layouts the API expects.
func (c *Client) Formats() *sqldb.Formatter { return c.formats }

// ResourceID is the flight id of this client's access token.
func (c *Client) ResourceID() string { return "openid:" + c.cfg.ID + ":access_token" }

// Token returns a valid access token, from the shared cache when possible.
func (c *Client) Token(ctx context.Context) (string, error) {
	if c.backoff == nil {
		return c.flight.Get(ctx, c.ResourceID(), c.cfg.LockWait, c.fetch)
	}
	var tok string
	err := retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		t, err := c.flight.Get(ctx, c.ResourceID(), c.cfg.LockWait, c.fetch)
		if errors.Is(err, nodeflight.ErrLockTimeout) {
			c.log.Info("token lock wait timed out, retrying", nodeflight.Fields{"client": c.cfg.ID})
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		tok = t
		return nil
	})
	return tok, err
}

// AuthHeader returns the Authorization header carrying the access token.
func (c *Client) AuthHeader(ctx context.Context) (http.Header, error) {
	tok, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+tok)
	return h, nil
}

// NewRequest builds an authorized request for path relative to APIHost.
func (c *Client) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	h, err := c.AuthHeader(ctx)
	if err != nil {
		return nil, err
	}
	u := strings.TrimRight(c.cfg.APIHost, "/") + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	for k, v := range h {
		req.Header[k] = v
	}
	return req, nil
}

// Do sends req. A status outside 2xx is returned as *StatusError with the
// response body already closed; a 401 also drops the cached token.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Error("api request failed", nodeflight.Fields{"client": c.cfg.ID, "url": req.URL.String(), "err": err})
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		c.log.Debug("api request", nodeflight.Fields{"client": c.cfg.ID, "url": req.URL.String(), "status": resp.StatusCode})
		return resp, nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	serr := &StatusError{Code: resp.StatusCode, Body: string(body)}
	c.log.Error("api request rejected", nodeflight.Fields{"client": c.cfg.ID, "url": req.URL.String(), "status": resp.StatusCode})
	if resp.StatusCode == http.StatusUnauthorized {
		if err := c.Invalidate(req.Context()); err != nil {
			c.log.Warn("drop cached token failed", nodeflight.Fields{"client": c.cfg.ID, "err": err})
		}
	}
	return nil, serr
}

// Invalidate drops the cached token; the next Token call fetches a new one.
func (c *Client) Invalidate(ctx context.Context) error {
	return c.flight.Forget(ctx, c.ResourceID())
}

// StatusError is a response outside 2xx.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("oauth: unexpected status %d", e.Code)
}

// fetch performs one token request. It only runs in the process holding the
// flight lock.
func (c *Client) fetch(ctx context.Context) (string, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	c.log.Debug("requesting token", nodeflight.Fields{"client": c.cfg.ID, "url": c.cfg.TokenURL, "grant": string(c.cfg.GrantType)})
	tok, err := c.request(ctx)
	if err != nil {
		var rerr *oauth2.RetrieveError
		switch {
		case errors.As(err, &rerr):
			c.log.Error("token request rejected", nodeflight.Fields{"client": c.cfg.ID, "status": rerr.Response.StatusCode})
		case strings.Contains(err.Error(), "missing access_token"):
			// x/oauth2 reports this as an untyped error
			err = c.protocolError("response has no access_token")
		default:
			c.log.Error("token request failed", nodeflight.Fields{"client": c.cfg.ID, "err": err})
		}
		return "", 0, err
	}
	if tok.Expiry.IsZero() {
		return "", 0, c.protocolError("response has no expires_in")
	}

	ttl := time.Until(tok.Expiry) - c.cfg.Margin
	if ttl <= 0 {
		c.log.Warn("token expires within margin, not caching", nodeflight.Fields{"client": c.cfg.ID, "expiry": tok.Expiry})
		ttl = nodeflight.DoNotCache
	}
	c.log.Debug("token issued", nodeflight.Fields{"client": c.cfg.ID, "ttl": ttl})
	return tok.AccessToken, ttl, nil
}

func (c *Client) request(ctx context.Context) (*oauth2.Token, error) {
	switch c.cfg.GrantType {
	case GrantPassword:
		hc := &http.Client{
			Transport: noCache{base: transportOf(c.http)},
			Timeout:   c.http.Timeout,
		}
		ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)
		oc := oauth2.Config{
			ClientID:     c.cfg.ClientID,
			ClientSecret: c.cfg.ClientSecret,
			Scopes:       c.cfg.Scopes,
			Endpoint:     oauth2.Endpoint{TokenURL: c.cfg.TokenURL, AuthStyle: oauth2.AuthStyleInParams},
		}
		return oc.PasswordCredentialsToken(ctx, c.cfg.Username, c.cfg.Password)
	default:
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
		style := oauth2.AuthStyleInHeader
		if c.cfg.GrantType == GrantOAuth2ClientCredentials {
			style = oauth2.AuthStyleInParams
		}
		cc := clientcredentials.Config{
			ClientID:     c.cfg.ClientID,
			ClientSecret: c.cfg.ClientSecret,
			TokenURL:     c.cfg.TokenURL,
			Scopes:       c.cfg.Scopes,
			AuthStyle:    style,
		}
		return cc.Token(ctx)
	}
}

func (c *Client) protocolError(detail string) error {
	err := &nodeflight.ProtocolError{Source: "oauth " + c.cfg.ID, Detail: detail}
	c.log.Error("malformed token response", nodeflight.Fields{"client": c.cfg.ID, "err": err})
	return err
}

// noCache adds Cache-Control: no-cache to token requests of the password grant.
type noCache struct{ base http.RoundTripper }

func (n noCache) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Cache-Control", "no-cache")
	return n.base.RoundTrip(req)
}

func transportOf(hc *http.Client) http.RoundTripper {
	if hc.Transport != nil {
		return hc.Transport
	}
	return http.DefaultTransport
}
