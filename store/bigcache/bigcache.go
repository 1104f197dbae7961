// Package bigcache is an in-process store.Store backend. BigCache has no
// per-entry TTL, so every value carries its absolute expiry in a wire
// envelope and expired entries are dropped on read. LifeWindow caps every TTL.
package bigcache

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/unkn0wn-root/nodeflight/internal/wire"
	"github.com/unkn0wn-root/nodeflight/store"
)

const defaultLifeWindow = time.Hour

type Store struct {
	mu  sync.Mutex // serializes writes and deletion of expired entries
	c   *bc.BigCache
	now func() time.Time
}

var (
	_ store.Store    = (*Store)(nil)
	_ store.Releaser = (*Store)(nil)
)

type Config struct {
	LifeWindow         time.Duration // 0 => 1h
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
}

func New(cfg Config) (*Store, error) {
	life := cfg.LifeWindow
	if life <= 0 {
		life = defaultLifeWindow
	}
	conf := bc.DefaultConfig(life)
	conf.Verbose = false
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.New(context.Background(), conf)
	if err != nil {
		return nil, err
	}
	return &Store{c: c, now: time.Now}, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	payload, ok, stale, err := s.peek(key)
	if !stale {
		return payload, ok, err
	}
	// a writer may have replaced the stale entry since peek
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(key)
}

func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.Set(key, s.envelope(value, ttl))
}

func (s *Store) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok, err := s.get(key); err != nil || ok {
		return false, err
	}
	if err := s.c.Set(key, s.envelope(value, ttl)); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.del(key)
}

func (s *Store) DelIfEqual(_ context.Context, key string, value []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok, err := s.get(key)
	if err != nil || !ok || !bytes.Equal(cur, value) {
		return false, err
	}
	return true, s.del(key)
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

func (s *Store) Close(context.Context) error {
	return s.c.Close()
}

func (s *Store) envelope(value []byte, ttl time.Duration) []byte {
	var exp int64
	if ttl > 0 {
		exp = s.now().Add(ttl).UnixNano()
	}
	return wire.EncodeEntry(exp, value)
}

// peek reads key without side effects. stale reports an expired or corrupt
// entry that should be deleted.
func (s *Store) peek(key string) (payload []byte, ok, stale bool, err error) {
	raw, err := s.c.Get(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return nil, false, false, nil
	}
	if err != nil {
		return nil, false, false, err
	}
	exp, payload, err := wire.DecodeEntry(raw)
	if err != nil || wire.Expired(exp, s.now().UnixNano()) {
		return nil, false, true, nil
	}
	return payload, true, false, nil
}

// get is peek plus self-heal. Must be called with mu held.
func (s *Store) get(key string) ([]byte, bool, error) {
	payload, ok, stale, err := s.peek(key)
	if stale {
		_ = s.del(key)
	}
	return payload, ok, err
}

func (s *Store) del(key string) error {
	if err := s.c.Delete(key); err != nil && !errors.Is(err, bc.ErrEntryNotFound) {
		return err
	}
	return nil
}
