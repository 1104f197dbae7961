package store

import (
	"context"
	"strings"
	"time"

	"github.com/unkn0wn-root/nodeflight/internal/util"
)

// WithPrefix namespaces every key of s with prefix, so deployments sharing
// one backend do not collide. Optional capabilities (Counter, Releaser) of s
// remain reachable through the returned store.
func WithPrefix(s Store, prefix string) Store {
	if prefix == "" {
		return s
	}
	return &Prefixed{inner: s, prefix: prefix}
}

// Prefixed is the Store returned by WithPrefix.
type Prefixed struct {
	inner  Store
	prefix string
}

var (
	_ Counter  = (*Prefixed)(nil)
	_ Releaser = (*Prefixed)(nil)
	_ Primary  = (*Prefixed)(nil)
)

func (p *Prefixed) key(k string) string { return util.Join(p.prefix, k) }

// Prefix returns the namespace prepended to every key.
func (p *Prefixed) Prefix() string { return p.prefix }

// Unwrap returns the underlying store.
func (p *Prefixed) Unwrap() Store { return p.inner }

func (p *Prefixed) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return p.inner.Get(ctx, p.key(key))
}

func (p *Prefixed) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return p.inner.Set(ctx, p.key(key), value, ttl)
}

func (p *Prefixed) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return p.inner.SetNX(ctx, p.key(key), value, ttl)
}

func (p *Prefixed) Del(ctx context.Context, key string) error {
	return p.inner.Del(ctx, p.key(key))
}

func (p *Prefixed) Exists(ctx context.Context, key string) (bool, error) {
	return p.inner.Exists(ctx, p.key(key))
}

func (p *Prefixed) Close(ctx context.Context) error { return p.inner.Close(ctx) }

// IncrBy forwards to the inner store; ErrUnsupported when it is not a Counter.
func (p *Prefixed) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	c, ok := p.inner.(Counter)
	if !ok {
		return 0, ErrUnsupported
	}
	return c.IncrBy(ctx, p.key(key), delta, ttl)
}

// Primary returns p itself when the inner store has no replica reads.
func (p *Prefixed) Primary() Store {
	pr, ok := p.inner.(Primary)
	if !ok {
		return p
	}
	return &Prefixed{inner: pr.Primary(), prefix: p.prefix}
}

// DelIfEqual forwards to the inner store; ErrUnsupported when it is not a Releaser.
func (p *Prefixed) DelIfEqual(ctx context.Context, key string, value []byte) (bool, error) {
	r, ok := p.inner.(Releaser)
	if !ok {
		return false, ErrUnsupported
	}
	return r.DelIfEqual(ctx, p.key(key), value)
}

// ExpandPrefix substitutes the {app} and {tenant} placeholders of a
// configured prefix template, e.g. "cache:{app}:{tenant}" -> "cache:lms:2".
func ExpandPrefix(tmpl, app, tenant string) string {
	return strings.NewReplacer("{app}", app, "{tenant}", tenant).Replace(tmpl)
}
