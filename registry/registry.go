// Package registry builds the resources described by a config.Config on
// first use and owns them until Close.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/unkn0wn-root/nodeflight"
	"github.com/unkn0wn-root/nodeflight/codec"
	"github.com/unkn0wn-root/nodeflight/config"
	"github.com/unkn0wn-root/nodeflight/oauth"
	"github.com/unkn0wn-root/nodeflight/sqldb"
	"github.com/unkn0wn-root/nodeflight/store"
	"github.com/unkn0wn-root/nodeflight/store/bigcache"
	redisstore "github.com/unkn0wn-root/nodeflight/store/redis"
	"github.com/unkn0wn-root/nodeflight/store/ristretto"
)

// ErrUnknownResource is returned for an id the config does not define.
var ErrUnknownResource = errors.New("registry: unknown resource")

type Option func(*Registry)

func WithLogger(l nodeflight.Logger) Option     { return func(r *Registry) { r.log = l } }
func WithHooks(h nodeflight.Hooks) Option       { return func(r *Registry) { r.hooks = h } }
func WithHTTPClient(hc *http.Client) Option     { return func(r *Registry) { r.http = hc } }
func WithOAuthOptions(o ...oauth.Option) Option { return func(r *Registry) { r.oauthOpts = o } }

type Registry struct {
	cfg       *config.Config
	log       nodeflight.Logger
	hooks     nodeflight.Hooks
	http      *http.Client
	oauthOpts []oauth.Option

	mu      sync.RWMutex
	closed  bool
	stores  map[string]store.Store
	dbs     map[string]*sqldb.Conn
	clients map[string]*oauth.Client
	tokens  map[string]*nodeflight.Flight[string] // by token cache id
}

// New validates cfg and returns an empty registry; nothing is opened yet.
func New(cfg *config.Config, opts ...Option) (*Registry, error) {
	if cfg == nil {
		return nil, errors.New("registry: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	r := &Registry{
		cfg:     cfg,
		log:     nodeflight.NopLogger{},
		hooks:   nodeflight.NopHooks{},
		http:    http.DefaultClient,
		stores:  make(map[string]store.Store),
		dbs:     make(map[string]*sqldb.Conn),
		clients: make(map[string]*oauth.Client),
		tokens:  make(map[string]*nodeflight.Flight[string]),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Store returns the cache store id, or the default cache for "". Keys are
// namespaced with the configured prefix.
func (r *Registry) Store(id string) (store.Store, error) {
	if id == "" {
		id = r.cfg.Defaults.Cache
	}
	return lookupOrBuild(r, r.stores, id, r.buildStore)
}

// DB returns the database connection id, or the default one for "".
func (r *Registry) DB(id string) (*sqldb.Conn, error) {
	if id == "" {
		id = r.cfg.Defaults.Database
	}
	return lookupOrBuild(r, r.dbs, id, r.buildDB)
}

// OAuth returns the OAuth client id, or the default one for "".
func (r *Registry) OAuth(id string) (*oauth.Client, error) {
	if id == "" {
		id = r.cfg.Defaults.OAuth
	}
	return lookupOrBuild(r, r.clients, id, r.buildOAuth)
}

// Close closes every resource built so far. Later lookups fail with
// nodeflight.ErrRouterClosed.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for id, db := range r.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database %q: %w", id, err))
		}
	}
	for id, s := range r.stores {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("cache %q: %w", id, err))
		}
	}
	r.log.Info("registry closed", nodeflight.Fields{"caches": len(r.stores), "databases": len(r.dbs), "oauth": len(r.clients)})
	return errors.Join(errs...)
}

// lookupOrBuild is the double-checked open shared by every resource kind.
// build runs with r.mu held.
func lookupOrBuild[T any](r *Registry, m map[string]T, id string, build func(string) (T, error)) (T, error) {
	var zero T
	r.mu.RLock()
	v, ok := m[id]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return zero, nodeflight.ErrRouterClosed
	}
	if ok {
		return v, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return zero, nodeflight.ErrRouterClosed
	}
	if v, ok := m[id]; ok {
		return v, nil
	}
	v, err := build(id)
	if err != nil {
		return zero, err
	}
	m[id] = v
	return v, nil
}

func (r *Registry) buildStore(id string) (store.Store, error) {
	cc, ok := r.cfg.Caches[id]
	if !ok {
		return nil, fmt.Errorf("%w: cache %q", ErrUnknownResource, id)
	}

	var (
		s   store.Store
		err error
	)
	switch cc.Driver {
	case config.CacheRedis:
		s, err = redisstore.New(redisstore.Config{
			ID:            id,
			Nodes:         cc.NodeSet,
			ReadFromWrite: cc.ReadFromWrite,
			DialTimeout:   cc.DialTimeout,
			PoolSize:      cc.PoolSize,
			Logger:        r.log,
			Hooks:         r.hooks,
		})
	case config.CacheRistretto:
		rc := ristretto.DefaultConfig()
		if cc.MaxCost > 0 {
			rc.MaxCost = cc.MaxCost
		}
		s, err = ristretto.New(rc)
	case config.CacheBigcache:
		s, err = bigcache.New(bigcache.Config{
			LifeWindow:         cc.LifeWindow,
			HardMaxCacheSizeMB: cc.HardMaxSize,
		})
	default:
		err = fmt.Errorf("unknown driver %q", cc.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("registry: cache %q: %w", id, err)
	}

	prefix := store.ExpandPrefix(cc.Prefix, r.cfg.App, r.cfg.Tenant)
	r.log.Debug("cache opened", nodeflight.Fields{"cache": id, "driver": string(cc.Driver), "prefix": prefix})
	return store.WithPrefix(s, prefix), nil
}

func (r *Registry) buildDB(id string) (*sqldb.Conn, error) {
	dc, ok := r.cfg.Databases[id]
	if !ok {
		return nil, fmt.Errorf("%w: database %q", ErrUnknownResource, id)
	}
	return sqldb.Open(id, dc, sqldb.WithLogger(r.log), sqldb.WithHooks(r.hooks))
}

func (r *Registry) buildOAuth(id string) (*oauth.Client, error) {
	oc, ok := r.cfg.OAuth[id]
	if !ok {
		return nil, fmt.Errorf("%w: oauth %q", ErrUnknownResource, id)
	}
	flight, err := r.tokenFlight(r.cfg.TokenCacheOf(id))
	if err != nil {
		return nil, err
	}
	opts := append([]oauth.Option{oauth.WithHTTPClient(r.http), oauth.WithLogger(r.log)}, r.oauthOpts...)
	return oauth.New(oc, flight, opts...)
}

// tokenFlight returns the flight over token cache id. Must be called with
// r.mu held.
func (r *Registry) tokenFlight(id string) (*nodeflight.Flight[string], error) {
	if f, ok := r.tokens[id]; ok {
		return f, nil
	}
	s, ok := r.stores[id]
	if !ok {
		var err error
		if s, err = r.buildStore(id); err != nil {
			return nil, err
		}
		r.stores[id] = s
	}
	f, err := nodeflight.NewFlight(nodeflight.FlightOptions[string]{
		Store:  s,
		Codec:  codec.String{},
		Logger: r.log,
		Hooks:  r.hooks,
	})
	if err != nil {
		return nil, err
	}
	r.tokens[id] = f
	return f, nil
}
