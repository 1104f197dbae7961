// Package nodeflight routes work across a write node and an optional read
// replica, and coordinates expensive shared resources (access tokens, computed
// cache values) so that at most one process fetches them at a time.
//
// Components:
//   - Router[C]: lazily opened write/read connections of any client type,
//     with transactions pinned to the write node.
//   - Flight[V]: a single-flight resource over a store.Store. The first caller
//     takes a SET NX lock, fetches, writes the value, then clears the lock.
//     Everyone else polls for the value until maxWait elapses.
//   - Cache[V]: a typed application cache whose Remember is backed by Flight.
//   - store.Store: byte store with TTL and atomic SetNX (Redis, Ristretto, BigCache).
//   - codec.Codec[V]: (de)serializes V <-> []byte.
//
// Keys:
//
//	<ns>:<id>          - cached value
//	<ns>:<id>:pending  - fetch lock
//
// Single-flight pattern:
//
//	tok, err := flight.Get(ctx, "openid:lms:access_token", 10*time.Second, fetchToken)
//	if errors.Is(err, nodeflight.ErrLockTimeout) {
//		// the holder produced nothing in time; retry later
//	}
package nodeflight
