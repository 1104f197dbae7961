// Package store defines the shared key/value contract used by nodeflight both
// as an application cache and as the coordination substrate for
// single-flight locking.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly
// the bytes previously passed to Set for a key. SetNX MUST be atomic: at most
// one caller observes true for a key within its TTL window. Implementations
// that only coordinate goroutines of one process (ristretto, bigcache) cannot
// provide the cross-process guarantee and say so in their docs.
package store

import (
	"context"
	"errors"
	"time"
)

// Store is the minimal contract. TTL <= 0 means "no expiry".
// Must be safe for concurrent use.
type Store interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value, overwriting any previous value.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX stores value only if key does not exist, atomically, and reports
	// whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Del removes a key. Missing keys are not an error.
	Del(ctx context.Context, key string) error

	// Exists reports whether key currently holds a value.
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases resources.
	Close(ctx context.Context) error
}

// Reader is the read-only subset of Store.
type Reader interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// Counter is implemented by stores with atomic integer increments.
// When ttl > 0 the key expiry is refreshed on every increment.
type Counter interface {
	IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
}

// Releaser is implemented by stores able to delete a key only while it still
// holds an expected value. Used to release single-flight locks without
// removing a lock taken by a later holder after ours expired.
type Releaser interface {
	DelIfEqual(ctx context.Context, key string, value []byte) (bool, error)
}

// Primary is implemented by stores that may serve reads from a replica.
// Primary returns a view of the same store whose reads also go to the
// authoritative node. Lock coordination reads through this view.
type Primary interface {
	Primary() Store
}

// ReadOnly exposes only the read operations of s.
func ReadOnly(s Reader) Reader { return readOnly{s} }

type readOnly struct{ r Reader }

func (ro readOnly) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return ro.r.Get(ctx, key)
}

func (ro readOnly) Exists(ctx context.Context, key string) (bool, error) {
	return ro.r.Exists(ctx, key)
}

// ErrUnsupported is returned when an optional capability is not available.
var ErrUnsupported = errors.New("store: operation not supported")
