package nodeflight

import (
	"errors"
	"fmt"
	"time"

	"github.com/unkn0wn-root/nodeflight/store"
)

var (
	// ErrConnect matches every *ConnectError.
	ErrConnect = errors.New("nodeflight: connect failed")
	// ErrLockTimeout matches every *LockTimeoutError. It is recoverable: the
	// caller may retry with a fresh call. It never means "resource does not exist".
	ErrLockTimeout = errors.New("nodeflight: lock wait timed out")
	// ErrFetchFailed matches every *FetchError.
	ErrFetchFailed = errors.New("nodeflight: fetch failed")
	// ErrProtocol matches every *ProtocolError.
	ErrProtocol = errors.New("nodeflight: protocol error")

	ErrRouterClosed  = errors.New("nodeflight: router closed")
	ErrNoWriteNode   = errors.New("nodeflight: write node is required")
	ErrTxUnsupported = errors.New("nodeflight: transactions not supported by this router")
	ErrUnsupported   = store.ErrUnsupported
)

// ConnectError reports a physical connection that could not be established.
type ConnectError struct {
	Router   string
	Mode     Mode
	Endpoint string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("nodeflight: router %q: open %s node %s: %v", e.Router, e.Mode, e.Endpoint, e.Err)
}

func (e *ConnectError) Unwrap() error        { return e.Err }
func (e *ConnectError) Is(target error) bool { return target == ErrConnect }

// LockTimeoutError is returned to a single-flight follower that waited out its
// budget without the lock holder producing a value.
type LockTimeoutError struct {
	Key    string
	Waited time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("nodeflight: %q: no value after waiting %s for lock holder", e.Key, e.Waited)
}

func (e *LockTimeoutError) Is(target error) bool { return target == ErrLockTimeout }

// FetchError wraps the failure of the lock holder's own fetch. Only the
// holder observes it.
type FetchError struct {
	Key string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("nodeflight: %q: fetch: %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() error        { return e.Err }
func (e *FetchError) Is(target error) bool { return target == ErrFetchFailed }

// ProtocolError reports a malformed response from a remote collaborator,
// e.g. a token response without access_token.
type ProtocolError struct {
	Source string
	Detail string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("nodeflight: %s: malformed response: %s", e.Source, e.Detail)
}

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }
