// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    ContendedEvery: 100, // sample logs: ~every 100th contended lock
//	})
//
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	flight, _ := nodeflight.NewFlight[string](nodeflight.FlightOptions[string]{
//	    Store:     redisStore,
//	    Codec:     codec.String{},
//	    Namespace: "openid",
//	    Hooks:     hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"
	"time"

	"github.com/unkn0wn-root/nodeflight"
)

// Hooks moves events off the hot path onto a bounded queue. When the queue is
// full events are dropped; Dropped reports how many.
type Hooks struct {
	inner nodeflight.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once

	mu      sync.Mutex
	closed  bool
	dropped uint64
}

var _ nodeflight.Hooks = (*Hooks)(nil)

func New(inner nodeflight.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Later events are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

func (h *Hooks) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

func (h *Hooks) try(f func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		h.dropped++
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped++
	}
}

func (h *Hooks) ConnectFailed(router string, mode nodeflight.Mode, err error) {
	h.try(func() { h.inner.ConnectFailed(router, mode, err) })
}
func (h *Hooks) LockAcquired(k string)  { h.try(func() { h.inner.LockAcquired(k) }) }
func (h *Hooks) LockContended(k string) { h.try(func() { h.inner.LockContended(k) }) }
func (h *Hooks) LockTimeout(k string, waited time.Duration) {
	h.try(func() { h.inner.LockTimeout(k, waited) })
}
func (h *Hooks) FetchFailed(k string, err error) { h.try(func() { h.inner.FetchFailed(k, err) }) }
func (h *Hooks) SelfHeal(k, r string)            { h.try(func() { h.inner.SelfHeal(k, r) }) }
