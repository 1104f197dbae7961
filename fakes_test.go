package nodeflight

import (
	"bytes"
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/unkn0wn-root/nodeflight/store"
)

type memEntry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

// memStore is a process-local stand-in for a shared store: every Flight built
// on the same memStore behaves like a separate process sharing one Redis.
type memStore struct {
	mu    sync.Mutex
	m     map[string]memEntry
	setnx int
}

var (
	_ store.Store    = (*memStore)(nil)
	_ store.Counter  = (*memStore)(nil)
	_ store.Releaser = (*memStore)(nil)
)

func newMemStore() *memStore { return &memStore{m: make(map[string]memEntry)} }

func (s *memStore) live(key string) (memEntry, bool) {
	e, ok := s.m[key]
	if !ok {
		return memEntry{}, false
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(s.m, key)
		return memEntry{}, false
	}
	return e, true
}

func expiry(ttl time.Duration) time.Time {
	if ttl > 0 {
		return time.Now().Add(ttl)
	}
	return time.Time{}
}

func (s *memStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), e.v...), true, nil
}

func (s *memStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = memEntry{v: append([]byte(nil), value...), exp: expiry(ttl)}
	return nil
}

func (s *memStore) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setnx++
	if _, ok := s.live(key); ok {
		return false, nil
	}
	s.m[key] = memEntry{v: append([]byte(nil), value...), exp: expiry(ttl)}
	return true, nil
}

func (s *memStore) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

func (s *memStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.live(key)
	return ok, nil
}

func (s *memStore) Close(context.Context) error { return nil }

func (s *memStore) IncrBy(_ context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, _ := s.live(key)
	var n int64
	if len(e.v) > 0 {
		var err error
		if n, err = strconv.ParseInt(string(e.v), 10, 64); err != nil {
			return 0, err
		}
	}
	n += delta
	exp := e.exp
	if ttl > 0 {
		exp = expiry(ttl)
	}
	s.m[key] = memEntry{v: []byte(strconv.FormatInt(n, 10)), exp: exp}
	return n, nil
}

func (s *memStore) DelIfEqual(_ context.Context, key string, value []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok || !bytes.Equal(e.v, value) {
		return false, nil
	}
	delete(s.m, key)
	return true, nil
}

func (s *memStore) entry(key string) (memEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live(key)
}

func (s *memStore) setNXCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setnx
}

// basicStore hides the optional capabilities of the wrapped store.
type basicStore struct{ store.Store }

type recordingHooks struct {
	NopHooks
	mu       sync.Mutex
	acquired []string
	timeouts []string
	failed   []string
	healed   []string
	connect  []Mode
}

func (h *recordingHooks) LockAcquired(key string) {
	h.mu.Lock()
	h.acquired = append(h.acquired, key)
	h.mu.Unlock()
}

func (h *recordingHooks) LockTimeout(key string, _ time.Duration) {
	h.mu.Lock()
	h.timeouts = append(h.timeouts, key)
	h.mu.Unlock()
}

func (h *recordingHooks) FetchFailed(key string, _ error) {
	h.mu.Lock()
	h.failed = append(h.failed, key)
	h.mu.Unlock()
}

func (h *recordingHooks) SelfHeal(key, _ string) {
	h.mu.Lock()
	h.healed = append(h.healed, key)
	h.mu.Unlock()
}

func (h *recordingHooks) ConnectFailed(_ string, mode Mode, _ error) {
	h.mu.Lock()
	h.connect = append(h.connect, mode)
	h.mu.Unlock()
}

func (h *recordingHooks) counts() (acquired, timeouts, failed, healed int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.acquired), len(h.timeouts), len(h.failed), len(h.healed)
}
