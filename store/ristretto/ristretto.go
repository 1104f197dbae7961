// Package ristretto is an in-process store.Store backend. Its SetNX only
// coordinates goroutines of one process; use store/redis to share locks
// between processes.
package ristretto

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/nodeflight/store"
)

// ErrRejected is returned when ristretto drops a write (buffer contention or
// admission policy).
var ErrRejected = errors.New("ristretto: write rejected")

type Store struct {
	mu sync.Mutex // serializes writes so SetNX and DelIfEqual are atomic
	c  *rc.Cache
}

var (
	_ store.Store    = (*Store)(nil)
	_ store.Releaser = (*Store)(nil)
)

type Config struct {
	NumCounters int64
	MaxCost     int64 // in bytes: every entry costs len(value)
	BufferItems int64
	Metrics     bool
}

// DefaultConfig sizes the cache for roughly 64 MiB of values.
func DefaultConfig() Config {
	return Config{NumCounters: 1e6, MaxCost: 64 << 20, BufferItems: 64}
}

func New(cfg Config) (*Store, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Store{c: c}, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := s.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	if b == nil {
		// self-heal: drop unexpected entry shape
		s.c.Del(key)
		return nil, false, nil
	}
	return b, true, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set(key, value, ttl)
}

func (s *Store) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.c.Get(key); ok {
		return false, nil
	}
	if err := s.set(key, value, ttl); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.Del(key)
	return nil
}

func (s *Store) DelIfEqual(_ context.Context, key string, value []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.c.Get(key)
	if !ok {
		return false, nil
	}
	if b, _ := v.([]byte); !bytes.Equal(b, value) {
		return false, nil
	}
	s.c.Del(key)
	return true, nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

func (s *Store) Close(context.Context) error {
	s.c.Wait()
	s.c.Close()
	return nil
}

// Metrics exposes ristretto counters when Config.Metrics is set.
func (s *Store) Metrics() *rc.Metrics { return s.c.Metrics }

// set must be called with mu held. Wait makes the write visible to the next
// Get, which SetNX relies on.
func (s *Store) set(key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	// ristretto keeps the slice; callers may reuse theirs
	v := append([]byte(nil), value...)
	if !s.c.SetWithTTL(key, v, int64(len(v))+1, ttl) {
		return ErrRejected
	}
	s.c.Wait()
	return nil
}
