package nodeflight

import (
	"context"
	"fmt"
	"time"

	"github.com/unkn0wn-root/nodeflight/codec"
	"github.com/unkn0wn-root/nodeflight/store"
)

type cache[V any] struct {
	store        store.Store
	codec        codec.Codec[V]
	log          Logger
	enabled      bool
	defaultTTL   time.Duration
	rememberWait time.Duration
	flight       *Flight[V]
}

var _ Cache[int] = (*cache[int])(nil)

func newCache[V any](opts CacheOptions[V]) (*cache[V], error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("nodeflight: cache store is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("nodeflight: cache codec is required")
	}

	c := &cache[V]{
		store:   opts.Store,
		codec:   opts.Codec,
		enabled: !opts.Disabled,
	}
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.defaultTTL = coalesce[time.Duration](opts.DefaultTTL, defaultCacheTTL)
	c.rememberWait = coalesce[time.Duration](opts.RememberWait, defaultRememberWait)

	// the flight shares namespace, store and codec, so its value keys are the cache keys
	f, err := NewFlight[V](FlightOptions[V]{
		Store:        opts.Store,
		Codec:        opts.Codec,
		Namespace:    opts.Namespace,
		PollInterval: opts.PollInterval,
		Logger:       c.log,
		Hooks:        opts.Hooks,
	})
	if err != nil {
		return nil, err
	}
	c.flight = f
	return c, nil
}

func (c *cache[V]) Enabled() bool { return c.enabled }

func (c *cache[V]) Close(ctx context.Context) error { return c.store.Close(ctx) }

func (c *cache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	if !c.enabled {
		return zero, false, nil
	}
	return c.flight.Peek(ctx, key)
}

func (c *cache[V]) Has(ctx context.Context, key string) (bool, error) {
	if !c.enabled {
		return false, nil
	}
	return c.store.Exists(ctx, c.key(key))
}

func (c *cache[V]) Put(ctx context.Context, key string, value V, ttl time.Duration) error {
	if !c.enabled {
		return nil
	}
	return c.set(ctx, key, value, c.ttl(ttl))
}

func (c *cache[V]) Forever(ctx context.Context, key string, value V) error {
	if !c.enabled {
		return nil
	}
	return c.set(ctx, key, value, 0)
}

func (c *cache[V]) Add(ctx context.Context, key string, value V, ttl time.Duration) (bool, error) {
	if !c.enabled {
		return false, nil
	}
	b, err := c.codec.Encode(value)
	if err != nil {
		return false, err
	}
	ok, err := c.store.SetNX(ctx, c.key(key), b, c.ttl(ttl))
	if err != nil {
		return false, err
	}
	if !ok {
		c.log.Debug("Add skipped (key exists)", Fields{"key": key})
	}
	return ok, nil
}

func (c *cache[V]) Forget(ctx context.Context, key string) error {
	if !c.enabled {
		return nil
	}
	if err := c.flight.Forget(ctx, key); err != nil {
		return err
	}
	c.log.Debug("forgot key", Fields{"key": key})
	return nil
}

func (c *cache[V]) Pull(ctx context.Context, key string) (V, bool, error) {
	v, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return v, ok, err
	}
	if err := c.store.Del(ctx, c.key(key)); err != nil {
		var zero V
		return zero, false, err
	}
	return v, true, nil
}

func (c *cache[V]) Remember(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) (V, error)) (V, error) {
	if !c.enabled {
		return fn(ctx)
	}
	ttl = c.ttl(ttl)
	return c.flight.Get(ctx, key, c.rememberWait, func(ctx context.Context) (V, time.Duration, error) {
		v, err := fn(ctx)
		return v, ttl, err
	})
}

func (c *cache[V]) Increment(ctx context.Context, key string, by int64) (int64, error) {
	return c.incr(ctx, key, by)
}

func (c *cache[V]) Decrement(ctx context.Context, key string, by int64) (int64, error) {
	return c.incr(ctx, key, -by)
}

func (c *cache[V]) incr(ctx context.Context, key string, delta int64) (int64, error) {
	ctr, ok := c.store.(store.Counter)
	if !ok {
		return 0, ErrUnsupported
	}
	// counters keep their expiry untouched
	return ctr.IncrBy(ctx, c.key(key), delta, 0)
}

func (c *cache[V]) set(ctx context.Context, key string, value V, ttl time.Duration) error {
	b, err := c.codec.Encode(value)
	if err != nil {
		return err
	}
	if err := c.store.Set(ctx, c.key(key), b, ttl); err != nil {
		return err
	}
	c.log.Debug("stored key", Fields{"key": key, "ttl": ttl})
	return nil
}

func (c *cache[V]) ttl(ttl time.Duration) time.Duration {
	if ttl == 0 {
		return c.defaultTTL
	}
	return ttl
}

func (c *cache[V]) key(userKey string) string { return c.flight.ValueKey(userKey) }
