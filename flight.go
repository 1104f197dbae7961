package nodeflight

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/nodeflight/codec"
	"github.com/unkn0wn-root/nodeflight/internal/util"
	"github.com/unkn0wn-root/nodeflight/store"
)

// DoNotCache may be returned as ttl by a FetchFunc: the value is handed to
// the caller but never written to the store.
const DoNotCache time.Duration = -1

// FetchFunc produces the value of a resource and how long it may be cached.
// ttl == 0 caches without expiry; ttl < 0 skips caching.
type FetchFunc[V any] func(ctx context.Context) (value V, ttl time.Duration, err error)

// FlightOptions configure a Flight. Store and Codec are required.
type FlightOptions[V any] struct {
	Store     store.Store
	Codec     codec.Codec[V]
	Namespace string // optional key prefix, e.g. "openid"

	PollInterval   time.Duration // follower poll step; 0 => 1s
	ReleaseTimeout time.Duration // budget for the best-effort lock release; 0 => 2s
	Logger         Logger        // if nil, NopLogger is used
	Hooks          Hooks         // if nil, NopHooks is used
}

// Flight coordinates at most one concurrent fetch per resource id across every
// process sharing the same store. Stores implementing store.Primary are read
// through their primary view.
//
// Keys:
//
//	<ns>:<id>          - cached value
//	<ns>:<id>:pending  - lock, SET NX with ttl == maxWait
//
// The lock owner writes the value before deleting the lock, so a follower
// never observes "no lock and no value" for a successful fetch. Followers
// only poll the value key; they never fetch themselves, and give up with
// *LockTimeoutError once maxWait has elapsed. A crashed owner therefore costs
// followers at most maxWait, after which the lock ttl has expired too.
type Flight[V any] struct {
	store          store.Store
	codec          codec.Codec[V]
	ns             string
	poll           time.Duration
	releaseTimeout time.Duration
	log            Logger
	hooks          Hooks

	// coalesces callers of one process before they reach the store lock
	group singleflight.Group
}

func NewFlight[V any](opts FlightOptions[V]) (*Flight[V], error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("nodeflight: flight store is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("nodeflight: flight codec is required")
	}
	st := opts.Store
	if p, ok := st.(store.Primary); ok {
		// a replica may not have the holder's value yet
		st = p.Primary()
	}
	f := &Flight[V]{
		store: st,
		codec: opts.Codec,
		ns:    opts.Namespace,
	}
	f.poll = coalesce[time.Duration](opts.PollInterval, defaultPollInterval)
	f.releaseTimeout = coalesce[time.Duration](opts.ReleaseTimeout, defaultReleaseTimeout)
	f.log = coalesce[Logger](opts.Logger, NopLogger{})
	f.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	return f, nil
}

// ValueKey is the store key holding the cached value of id.
func (f *Flight[V]) ValueKey(id string) string { return util.Join(f.ns, id) }

// LockKey is the store key used as the fetch mutex of id.
func (f *Flight[V]) LockKey(id string) string { return util.Join(f.ns, id, "pending") }

// Get returns the cached value of id, or coordinates a single fetch of it.
//
// maxWait is both the lock ttl and the longest a follower waits for the lock
// owner's value. ctx bounds the whole call: cancelling it aborts a wait early.
//
// Errors: *FetchError when this caller's fetch failed, *LockTimeoutError when
// the owner produced nothing within maxWait, ctx.Err() on cancellation, and
// wrapped store errors.
func (f *Flight[V]) Get(ctx context.Context, id string, maxWait time.Duration, fetch FetchFunc[V]) (V, error) {
	var zero V
	if maxWait <= 0 {
		return zero, fmt.Errorf("nodeflight: %q: maxWait must be positive", id)
	}
	if fetch == nil {
		return zero, fmt.Errorf("nodeflight: %q: fetch func is required", id)
	}

	key := f.ValueKey(id)
	if v, ok, err := f.lookup(ctx, key); err != nil || ok {
		return v, err
	}

	for {
		ch := f.group.DoChan(key, func() (any, error) {
			return f.resolve(ctx, id, maxWait, fetch)
		})
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				// the shared call ran on another caller's ctx; its cancellation is not ours
				if res.Shared && isContextErr(res.Err) && ctx.Err() == nil {
					continue
				}
				return zero, res.Err
			}
			return res.Val.(V), nil
		}
	}
}

// Peek returns the cached value of id without taking part in coordination.
func (f *Flight[V]) Peek(ctx context.Context, id string) (V, bool, error) {
	return f.lookup(ctx, f.ValueKey(id))
}

// Forget drops the cached value of id; the next Get fetches again.
func (f *Flight[V]) Forget(ctx context.Context, id string) error {
	return f.store.Del(ctx, f.ValueKey(id))
}

func (f *Flight[V]) resolve(ctx context.Context, id string, maxWait time.Duration, fetch FetchFunc[V]) (V, error) {
	var zero V
	key, lockKey := f.ValueKey(id), f.LockKey(id)

	token := uuid.NewString()
	won, err := f.store.SetNX(ctx, lockKey, []byte(token), maxWait)
	if err != nil {
		f.log.Error("acquire lock failed", Fields{"key": lockKey, "err": err})
		return zero, fmt.Errorf("nodeflight: %q: acquire lock: %w", key, err)
	}
	if !won {
		f.hooks.LockContended(key)
		f.log.Debug("lock held elsewhere, waiting for value", Fields{"key": key, "maxWait": maxWait})
		return f.wait(ctx, key, maxWait)
	}

	f.hooks.LockAcquired(key)
	f.log.Debug("lock acquired", Fields{"key": key})
	return f.fetchAndStore(ctx, key, lockKey, token, fetch)
}

func (f *Flight[V]) fetchAndStore(ctx context.Context, key, lockKey, token string, fetch FetchFunc[V]) (V, error) {
	var zero V
	// runs after the value is written: write-then-clear
	defer f.release(ctx, lockKey, token)

	// a previous owner may have committed between our miss and our SetNX
	if v, ok, err := f.lookup(ctx, key); err == nil && ok {
		return v, nil
	}

	v, ttl, err := fetch(ctx)
	if err != nil {
		f.hooks.FetchFailed(key, err)
		f.log.Warn("fetch failed", Fields{"key": key, "err": err})
		return zero, &FetchError{Key: key, Err: err}
	}
	if ttl < 0 {
		f.log.Warn("value not cached", Fields{"key": key, "ttl": ttl})
		return v, nil
	}

	b, err := f.codec.Encode(v)
	if err != nil {
		return zero, fmt.Errorf("nodeflight: %q: encode: %w", key, err)
	}
	if err := f.store.Set(ctx, key, b, ttl); err != nil {
		// the value itself is good; followers will time out and retry
		f.log.Error("store value failed", Fields{"key": key, "err": err})
		return v, nil
	}
	f.log.Debug("value stored", Fields{"key": key, "ttl": ttl})
	return v, nil
}

// release is best effort: it survives caller cancellation, and the lock ttl
// is the backstop when it fails.
func (f *Flight[V]) release(ctx context.Context, lockKey, token string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.releaseTimeout)
	defer cancel()

	if r, ok := f.store.(store.Releaser); ok {
		_, err := r.DelIfEqual(rctx, lockKey, []byte(token))
		if err == nil {
			return
		}
		if !errors.Is(err, store.ErrUnsupported) {
			f.log.Warn("lock release failed, lock will expire", Fields{"key": lockKey, "err": err})
			return
		}
	}
	if err := f.store.Del(rctx, lockKey); err != nil {
		f.log.Warn("lock release failed, lock will expire", Fields{"key": lockKey, "err": err})
	}
}

func (f *Flight[V]) wait(ctx context.Context, key string, maxWait time.Duration) (V, error) {
	var zero V
	start := time.Now()
	deadline := start.Add(maxWait)

	timer := time.NewTimer(min(f.poll, maxWait))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-timer.C:
		}

		v, ok, err := f.lookup(ctx, key)
		if err != nil {
			return zero, err
		}
		if ok {
			return v, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			waited := time.Since(start)
			f.hooks.LockTimeout(key, waited)
			f.log.Warn("lock wait timed out", Fields{"key": key, "waited": waited})
			return zero, &LockTimeoutError{Key: key, Waited: waited}
		}
		timer.Reset(min(f.poll, remaining))
	}
}

func (f *Flight[V]) lookup(ctx context.Context, key string) (V, bool, error) {
	var zero V
	raw, ok, err := f.store.Get(ctx, key)
	if err != nil {
		return zero, false, fmt.Errorf("nodeflight: %q: store get: %w", key, err)
	}
	if !ok {
		return zero, false, nil
	}
	v, err := f.codec.Decode(raw)
	if err != nil {
		_ = f.store.Del(ctx, key) // self-heal
		f.hooks.SelfHeal(key, "value_decode")
		f.log.Warn("dropped undecodable value", Fields{"key": key, "err": err})
		return zero, false, nil
	}
	return v, true, nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
