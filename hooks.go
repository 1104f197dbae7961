package nodeflight

import "time"

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The router and the flight call them on hot paths.
type Hooks interface {
	// A physical connection could not be opened.
	ConnectFailed(router string, mode Mode, err error)

	// This process won the single-flight lock for key.
	LockAcquired(key string)

	// Another holder owns the lock; the caller started waiting.
	LockContended(key string)

	// A follower waited out its budget without seeing a value.
	LockTimeout(key string, waited time.Duration)

	// The lock holder's fetch failed (lock was released).
	FetchFailed(key string, err error)

	// A cached value could not be decoded and was deleted on read.
	// reason ∈ {"value_decode"}
	SelfHeal(key, reason string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) ConnectFailed(string, Mode, error) {}
func (NopHooks) LockAcquired(string)               {}
func (NopHooks) LockContended(string)              {}
func (NopHooks) LockTimeout(string, time.Duration) {}
func (NopHooks) FetchFailed(string, error)         {}
func (NopHooks) SelfHeal(string, string)           {}
