package ristretto

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestSetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	buf := []byte("value")
	require.NoError(t, s.Set(ctx, "k", buf, time.Minute))
	buf[0] = 'X' // caller reuses its buffer

	for i := 0; i < 2; i++ {
		got, ok, err := s.Get(ctx, "k")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "value", string(got))
	}

	ok, err := s.Exists(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Del(ctx, "k"))
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTTLExpires(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Set(ctx, "k", []byte("v"), 50*time.Millisecond))
	time.Sleep(100 * time.Millisecond)
	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSetNX(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	first, err := s.SetNX(ctx, "lock:svcA", []byte("1"), 5*time.Second)
	require.NoError(t, err)
	require.True(t, first)
	second, err := s.SetNX(ctx, "lock:svcA", []byte("1"), 5*time.Second)
	require.NoError(t, err)
	require.False(t, second)
}

func TestSetNXIsAtomicAcrossGoroutines(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.SetNX(ctx, "lock", []byte("t"), time.Minute)
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
}

func TestDelIfEqual(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Set(ctx, "lock", []byte("mine"), time.Minute))

	ok, err := s.DelIfEqual(ctx, "lock", []byte("theirs"))
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = s.DelIfEqual(ctx, "lock", []byte("mine"))
	require.NoError(t, err)
	require.True(t, ok)

	exists, _ := s.Exists(ctx, "lock")
	require.False(t, exists)
}
