package nodeflight

import (
	"context"
	"time"

	"github.com/unkn0wn-root/nodeflight/codec"
	"github.com/unkn0wn-root/nodeflight/store"
)

// Cache is the typed application cache API over a shared store.
// V is the caller's value type. Serialization is handled by a pluggable Codec[V].
type Cache[V any] interface {
	Enabled() bool
	Close(context.Context) error

	Get(ctx context.Context, key string) (v V, ok bool, err error)
	Has(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, value V, ttl time.Duration) error
	Add(ctx context.Context, key string, value V, ttl time.Duration) (bool, error)
	Forever(ctx context.Context, key string, value V) error
	Forget(ctx context.Context, key string) error
	Pull(ctx context.Context, key string) (v V, ok bool, err error)

	// Remember returns the cached value or computes it with fn. A cold key is
	// computed once across every process sharing the store.
	Remember(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) (V, error)) (V, error)

	// Counters; ErrUnsupported when the store is not a store.Counter.
	Increment(ctx context.Context, key string, by int64) (int64, error)
	Decrement(ctx context.Context, key string, by int64) (int64, error)
}

// CacheOptions tune a Cache. Only Store and Codec are required.
type CacheOptions[V any] struct {
	// Required
	Store store.Store
	Codec codec.Codec[V]

	Namespace    string        // logical namespace, e.g. "course", "user"
	Logger       Logger        // if nil, NopLogger is used
	Hooks        Hooks         // if nil, NopHooks is used
	DefaultTTL   time.Duration // Put with ttl 0; 0 => 10m
	RememberWait time.Duration // lock ttl and follower budget of Remember; 0 => 10s
	PollInterval time.Duration // Remember follower poll step; 0 => 1s
	Disabled     bool          // default false (enabled)
}

func NewCache[V any](opts CacheOptions[V]) (Cache[V], error) {
	return newCache[V](opts)
}
