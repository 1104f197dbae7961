package nodeflight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/unkn0wn-root/nodeflight/codec"
)

func newTestFlight(t *testing.T, s *memStore, optsOpt func(*FlightOptions[string])) *Flight[string] {
	t.Helper()
	opts := FlightOptions[string]{
		Store:        s,
		Codec:        codec.String{},
		Namespace:    "openid",
		PollInterval: 10 * time.Millisecond,
	}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	f, err := NewFlight[string](opts)
	if err != nil {
		t.Fatalf("NewFlight: %v", err)
	}
	return f
}

func TestNewFlightRequiresStoreAndCodec(t *testing.T) {
	if _, err := NewFlight[string](FlightOptions[string]{Codec: codec.String{}}); err == nil {
		t.Fatalf("expected error without store")
	}
	if _, err := NewFlight[string](FlightOptions[string]{Store: newMemStore()}); err == nil {
		t.Fatalf("expected error without codec")
	}
}

func TestFlightKeys(t *testing.T) {
	f := newTestFlight(t, newMemStore(), nil)
	if got := f.ValueKey("svcA:access_token"); got != "openid:svcA:access_token" {
		t.Fatalf("ValueKey = %q", got)
	}
	if got := f.LockKey("svcA:access_token"); got != "openid:svcA:access_token:pending" {
		t.Fatalf("LockKey = %q", got)
	}
}

// Each goroutine gets its own Flight so the only thing they share is the
// store, as separate processes would.
func TestFlightSingleFetchAcrossProcesses(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()

	var calls atomic.Int32
	fetch := func(context.Context) (string, time.Duration, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return "tok-1", time.Minute, nil
	}

	const n = 20
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		f := newTestFlight(t, s, nil)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.Get(ctx, "svcA", 2*time.Second, fetch)
		}(i)
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("fetch invoked %d times, want 1", got)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i] != "tok-1" {
			t.Fatalf("caller %d got %q", i, results[i])
		}
	}
	if _, ok := s.entry("openid:svcA:pending"); ok {
		t.Fatalf("lock must be cleared after a successful fetch")
	}
}

func TestFlightCoalescesWithinProcess(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	f := newTestFlight(t, s, nil)

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(context.Context) (string, time.Duration, error) {
		calls.Add(1)
		<-release
		return "v", time.Minute, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, err := f.Get(ctx, "k", time.Second, fetch); err != nil || v != "v" {
				t.Errorf("Get: %q %v", v, err)
			}
		}()
	}
	time.Sleep(30 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("fetch invoked %d times, want 1", calls.Load())
	}
	if n := s.setNXCalls(); n != 1 {
		t.Fatalf("in-process callers took the store lock %d times, want 1", n)
	}
}

// Callers coalesced onto the holder's call share its outcome, failure included.
func TestFlightCoalescedCallersShareFetchError(t *testing.T) {
	ctx := context.Background()
	f := newTestFlight(t, newMemStore(), nil)

	var calls atomic.Int32
	started, release := make(chan struct{}), make(chan struct{})
	fetch := func(context.Context) (string, time.Duration, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return "", 0, errors.New("boom")
	}

	errs := make(chan error, 2)
	go func() {
		_, err := f.Get(ctx, "svcA", time.Second, fetch)
		errs <- err
	}()
	<-started
	go func() {
		_, err := f.Get(ctx, "svcA", time.Second, fetch)
		errs <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	for i := 0; i < 2; i++ {
		if err := <-errs; !errors.Is(err, ErrFetchFailed) {
			t.Fatalf("caller %d: got %v, want the holder's FetchError", i, err)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("fetch invoked %d times, want 1", got)
	}
}

func TestFlightReadyShortCircuits(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	f := newTestFlight(t, s, nil)
	_ = s.Set(ctx, f.ValueKey("k"), []byte("cached"), time.Minute)

	v, err := f.Get(ctx, "k", time.Second, func(context.Context) (string, time.Duration, error) {
		t.Errorf("fetch must not run on a warm key")
		return "", 0, nil
	})
	if err != nil || v != "cached" {
		t.Fatalf("Get: %q %v", v, err)
	}
	if s.setNXCalls() != 0 {
		t.Fatalf("warm key must not touch the lock")
	}
}

func TestFlightFollowerObservesValueWithinOnePoll(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	const poll = 40 * time.Millisecond
	f := newTestFlight(t, s, func(o *FlightOptions[string]) { o.PollInterval = poll })

	// another process holds the lock
	_ = s.Set(ctx, f.LockKey("k"), []byte("other"), 5*time.Second)

	type result struct {
		v   string
		err error
		at  time.Time
	}
	done := make(chan result, 1)
	go func() {
		v, err := f.Get(ctx, "k", 5*time.Second, func(context.Context) (string, time.Duration, error) {
			t.Errorf("follower must not fetch")
			return "", 0, nil
		})
		done <- result{v, err, time.Now()}
	}()

	time.Sleep(100 * time.Millisecond)
	written := time.Now()
	_ = s.Set(ctx, f.ValueKey("k"), []byte("from-holder"), time.Minute)
	_ = s.Del(ctx, f.LockKey("k"))

	select {
	case r := <-done:
		if r.err != nil || r.v != "from-holder" {
			t.Fatalf("follower: %q %v", r.v, r.err)
		}
		if lag := r.at.Sub(written); lag > poll+50*time.Millisecond {
			t.Fatalf("follower saw the value %s after it was written", lag)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("follower never observed the value")
	}
}

func TestFlightLockTimeoutWhenHolderCrashed(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	hooks := &recordingHooks{}
	f := newTestFlight(t, s, func(o *FlightOptions[string]) { o.Hooks = hooks })

	const maxWait = 200 * time.Millisecond
	// a holder that took the lock and died
	_, _ = s.SetNX(ctx, f.LockKey("k"), []byte("dead"), maxWait)

	start := time.Now()
	_, err := f.Get(ctx, "k", maxWait, func(context.Context) (string, time.Duration, error) {
		t.Errorf("follower must not fetch")
		return "", 0, nil
	})
	elapsed := time.Since(start)

	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
	var lte *LockTimeoutError
	if !errors.As(err, &lte) || lte.Key != "openid:k" {
		t.Fatalf("expected *LockTimeoutError for openid:k, got %#v", err)
	}
	if elapsed < maxWait {
		t.Fatalf("timed out after %s, sooner than maxWait %s", elapsed, maxWait)
	}
	if elapsed > maxWait+200*time.Millisecond {
		t.Fatalf("timed out after %s, far later than maxWait %s", elapsed, maxWait)
	}
	if _, timeouts, _, _ := hooks.counts(); timeouts != 1 {
		t.Fatalf("LockTimeout hook calls = %d", timeouts)
	}

	// the lock ttl has self-healed: a fresh call fetches
	v, err := f.Get(ctx, "k", maxWait, func(context.Context) (string, time.Duration, error) {
		return "fresh", time.Minute, nil
	})
	if err != nil || v != "fresh" {
		t.Fatalf("retry after timeout: %q %v", v, err)
	}
}

func TestFlightFetchFailureReleasesLock(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	hooks := &recordingHooks{}
	f := newTestFlight(t, s, func(o *FlightOptions[string]) { o.Hooks = hooks })

	boom := errors.New("token endpoint returned 503")
	_, err := f.Get(ctx, "k", time.Second, func(context.Context) (string, time.Duration, error) {
		return "", 0, boom
	})
	if !errors.Is(err, ErrFetchFailed) || !errors.Is(err, boom) {
		t.Fatalf("expected FetchError wrapping cause, got %v", err)
	}
	if _, ok := s.entry(f.LockKey("k")); ok {
		t.Fatalf("lock must be released after a failed fetch")
	}
	if _, ok := s.entry(f.ValueKey("k")); ok {
		t.Fatalf("failed fetch must not cache anything")
	}
	if _, _, failed, _ := hooks.counts(); failed != 1 {
		t.Fatalf("FetchFailed hook calls = %d", failed)
	}
}

func TestFlightCancelledHolderStillReleasesLock(t *testing.T) {
	s := newMemStore()
	f := newTestFlight(t, s, nil)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := f.Get(ctx, "k", 5*time.Second, func(ctx context.Context) (string, time.Duration, error) {
		cancel()
		return "", 0, ctx.Err()
	})
	if err == nil {
		t.Fatalf("expected an error from a cancelled fetch")
	}

	deadline := time.Now().Add(time.Second)
	for {
		if _, ok := s.entry(f.LockKey("k")); !ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("lock was not released after caller cancellation")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFlightContextCancelAbortsWait(t *testing.T) {
	s := newMemStore()
	f := newTestFlight(t, s, nil)
	_ = s.Set(context.Background(), f.LockKey("k"), []byte("other"), time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := f.Get(ctx, "k", 10*time.Second, func(context.Context) (string, time.Duration, error) {
		return "", 0, errors.New("unreachable")
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline, got %v", err)
	}
	if errors.Is(err, ErrLockTimeout) {
		t.Fatalf("cancellation must not be reported as lock timeout")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("cancellation did not abort the wait early")
	}
}

func TestFlightReleaseKeepsSuccessorLock(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	f := newTestFlight(t, s, nil)

	_, err := f.Get(ctx, "k", time.Second, func(context.Context) (string, time.Duration, error) {
		// our lock expired mid-fetch and someone else took it
		_ = s.Set(ctx, f.LockKey("k"), []byte("successor"), time.Minute)
		return "v", time.Minute, nil
	})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	e, ok := s.entry(f.LockKey("k"))
	if !ok || string(e.v) != "successor" {
		t.Fatalf("release removed a lock it does not own")
	}
}

func TestFlightReleaseFallsBackToDel(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	f, err := NewFlight[string](FlightOptions[string]{Store: basicStore{s}, Codec: codec.String{}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Get(ctx, "k", time.Second, func(context.Context) (string, time.Duration, error) {
		return "v", time.Minute, nil
	}); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, ok := s.entry(f.LockKey("k")); ok {
		t.Fatalf("lock must be released through Del when DelIfEqual is unavailable")
	}
}

func TestFlightTTLHandling(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	f := newTestFlight(t, s, nil)

	if _, err := f.Get(ctx, "nocache", time.Second, func(context.Context) (string, time.Duration, error) {
		return "v", DoNotCache, nil
	}); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.entry(f.ValueKey("nocache")); ok {
		t.Fatalf("DoNotCache value was stored")
	}

	if _, err := f.Get(ctx, "forever", time.Second, func(context.Context) (string, time.Duration, error) {
		return "v", 0, nil
	}); err != nil {
		t.Fatal(err)
	}
	if e, ok := s.entry(f.ValueKey("forever")); !ok || !e.exp.IsZero() {
		t.Fatalf("ttl 0 must store without expiry, got %+v ok=%v", e, ok)
	}

	if _, err := f.Get(ctx, "ttl", time.Second, func(context.Context) (string, time.Duration, error) {
		return "v", time.Hour, nil
	}); err != nil {
		t.Fatal(err)
	}
	if e, ok := s.entry(f.ValueKey("ttl")); !ok || time.Until(e.exp) < 59*time.Minute {
		t.Fatalf("value ttl not applied: %+v", e)
	}
}

func TestFlightSelfHealsUndecodableValue(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	hooks := &recordingHooks{}
	f, err := NewFlight[string](FlightOptions[string]{
		Store: s, Codec: codec.JSON[string]{}, Namespace: "openid", Hooks: hooks,
	})
	if err != nil {
		t.Fatal(err)
	}
	_ = s.Set(ctx, f.ValueKey("k"), []byte("{not json"), time.Minute)

	v, err := f.Get(ctx, "k", time.Second, func(context.Context) (string, time.Duration, error) {
		return "healed", time.Minute, nil
	})
	if err != nil || v != "healed" {
		t.Fatalf("Get: %q %v", v, err)
	}
	if _, _, _, healed := hooks.counts(); healed != 1 {
		t.Fatalf("SelfHeal hook calls = %d", healed)
	}
	raw, _, _ := s.Get(ctx, f.ValueKey("k"))
	if string(raw) != `"healed"` {
		t.Fatalf("store holds %q", raw)
	}
}

func TestFlightRejectsBadArguments(t *testing.T) {
	f := newTestFlight(t, newMemStore(), nil)
	fetch := func(context.Context) (string, time.Duration, error) { return "", 0, nil }
	if _, err := f.Get(context.Background(), "k", 0, fetch); err == nil {
		t.Fatalf("expected error for maxWait 0")
	}
	if _, err := f.Get(context.Background(), "k", time.Second, nil); err == nil {
		t.Fatalf("expected error for nil fetch")
	}
}

func TestFlightForget(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	f := newTestFlight(t, s, nil)
	var calls atomic.Int32
	fetch := func(context.Context) (string, time.Duration, error) {
		calls.Add(1)
		return "v", time.Minute, nil
	}
	for i := 0; i < 2; i++ {
		if _, err := f.Get(ctx, "k", time.Second, fetch); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.Forget(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := f.Peek(ctx, "k"); ok {
		t.Fatalf("Peek after Forget should miss")
	}
	if _, err := f.Get(ctx, "k", time.Second, fetch); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Fatalf("fetch calls = %d, want 2", calls.Load())
	}
}
