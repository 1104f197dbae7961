package nodeflight

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Dialer opens and releases the protocol-specific connection behind a Handle.
// Dial must not retry: retry policy belongs to the caller of the router.
type Dialer[C any] interface {
	Dial(ctx context.Context, mode Mode, ep Endpoint) (C, error)
	Close(conn C) error
}

// Transactor starts and finishes transactions on an opened write connection.
// Routers built without one return ErrTxUnsupported from Begin.
type Transactor[C any] interface {
	Begin(ctx context.Context, conn C) error
	Commit(ctx context.Context, conn C) error
	Rollback(ctx context.Context, conn C) error
}

// Handle is an opened connection to one node. It is owned by the router that
// created it and must not be closed by callers.
type Handle[C any] struct {
	Mode     Mode
	Endpoint Endpoint
	Conn     C
}

// RouterOptions tune a Router. Only the dialer passed to NewRouter is required.
type RouterOptions[C any] struct {
	Logger     Logger        // if nil, NopLogger is used
	Hooks      Hooks         // if nil, NopHooks is used
	Transactor Transactor[C] // nil => Begin returns ErrTxUnsupported
}

// Router hands out exactly one live connection per mode and pins every
// operation to the write node while a transaction is active.
//
// Connections are opened lazily on first use of their mode. A failed open is
// reported as *ConnectError and is not retried; the next call dials again.
// Once Close is called the router is unusable.
type Router[C any] struct {
	id     string
	nodes  NodeSet
	dialer Dialer[C]
	tx     Transactor[C]
	log    Logger
	hooks  Hooks

	mu      sync.RWMutex // guards handles, inTx, closed
	handles [2]*Handle[C]
	inTx    bool
	closed  bool

	openMu [2]sync.Mutex // one dial in flight per slot
	txMu   sync.Mutex    // serializes Begin/Commit/Rollback
}

const (
	writeSlot = 0
	readSlot  = 1
)

func NewRouter[C any](id string, nodes NodeSet, dialer Dialer[C], opts RouterOptions[C]) (*Router[C], error) {
	if dialer == nil {
		return nil, fmt.Errorf("nodeflight: router %q: dialer is required", id)
	}
	if err := nodes.Validate(); err != nil {
		return nil, fmt.Errorf("nodeflight: router %q: %w", id, err)
	}
	r := &Router[C]{
		id:     id,
		nodes:  nodes,
		dialer: dialer,
		tx:     opts.Transactor,
	}
	r.log = coalesce[Logger](opts.Logger, NopLogger{})
	r.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	return r, nil
}

func (r *Router[C]) ID() string       { return r.id }
func (r *Router[C]) Nodes() NodeSet   { return r.nodes }
func (r *Router[C]) HasReplica() bool { return r.nodes.HasReplica() }

// Open ensures the connection serving mode exists. It is idempotent.
// Without a replica, opening ModeRead opens the write connection.
func (r *Router[C]) Open(ctx context.Context, mode Mode) error {
	_, err := r.handle(ctx, r.slotFor(mode))
	return err
}

// IsOpen reports whether the connection serving mode is already established.
func (r *Router[C]) IsOpen(mode Mode) bool {
	slot := r.slotFor(mode)
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handles[slot] != nil
}

// Select returns the handle that must serve an operation requesting mode.
// The write handle is returned when a transaction is active, when ModeWrite
// is requested, or when no replica is configured.
func (r *Router[C]) Select(ctx context.Context, requested Mode) (*Handle[C], error) {
	slot := r.slotFor(requested)
	if slot == readSlot && r.InTransaction() {
		slot = writeSlot
	}
	return r.handle(ctx, slot)
}

// InTransaction reports whether a transaction is active on this router.
func (r *Router[C]) InTransaction() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.inTx
}

// Begin starts a transaction on the write connection. Calling Begin while a
// transaction is active is absorbed: nothing is stacked.
func (r *Router[C]) Begin(ctx context.Context) error {
	if r.tx == nil {
		return ErrTxUnsupported
	}
	r.txMu.Lock()
	defer r.txMu.Unlock()

	if r.InTransaction() {
		r.log.Debug("begin absorbed, transaction already active", Fields{"router": r.id})
		return nil
	}
	h, err := r.handle(ctx, writeSlot)
	if err != nil {
		return err
	}
	if err := r.tx.Begin(ctx, h.Conn); err != nil {
		r.log.Error("begin transaction failed", Fields{"router": r.id, "mode": ModeWrite.String(), "err": err})
		return fmt.Errorf("nodeflight: router %q: begin: %w", r.id, err)
	}
	r.mu.Lock()
	r.inTx = true
	r.mu.Unlock()
	r.log.Debug("transaction started", Fields{"router": r.id})
	return nil
}

// Commit commits the active transaction; it is a no-op when none is active.
func (r *Router[C]) Commit(ctx context.Context) error {
	return r.finish(ctx, "commit", func(c C) error { return r.tx.Commit(ctx, c) })
}

// Rollback aborts the active transaction; it is a no-op when none is active.
// Failed operations never roll back implicitly: callers must call Rollback.
func (r *Router[C]) Rollback(ctx context.Context) error {
	return r.finish(ctx, "rollback", func(c C) error { return r.tx.Rollback(ctx, c) })
}

func (r *Router[C]) finish(_ context.Context, op string, fn func(C) error) error {
	if r.tx == nil {
		return ErrTxUnsupported
	}
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.RLock()
	active, closed, h := r.inTx, r.closed, r.handles[writeSlot]
	r.mu.RUnlock()
	if closed {
		return ErrRouterClosed
	}
	if !active || h == nil {
		return nil
	}

	err := fn(h.Conn)

	// the underlying transaction is over either way
	r.mu.Lock()
	r.inTx = false
	r.mu.Unlock()

	if err != nil {
		r.log.Error(op+" transaction failed", Fields{"router": r.id, "mode": ModeWrite.String(), "err": err})
		return fmt.Errorf("nodeflight: router %q: %s: %w", r.id, op, err)
	}
	r.log.Debug("transaction finished", Fields{"router": r.id, "op": op})
	return nil
}

// Close releases both connections. The router cannot be reopened.
func (r *Router[C]) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.inTx = false
	handles := r.handles
	r.handles = [2]*Handle[C]{}
	r.mu.Unlock()

	var errs []error
	for _, h := range handles {
		if h == nil {
			continue
		}
		if err := r.dialer.Close(h.Conn); err != nil {
			r.log.Warn("close connection failed", Fields{"router": r.id, "mode": h.Mode.String(), "err": err})
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Router[C]) slotFor(mode Mode) int {
	if mode == ModeRead && r.nodes.HasReplica() {
		return readSlot
	}
	return writeSlot
}

// handle returns the connection of slot, dialing it on first use.
// check -> lock -> re-check so a slot is never dialed twice concurrently.
func (r *Router[C]) handle(ctx context.Context, slot int) (*Handle[C], error) {
	r.mu.RLock()
	h, closed := r.handles[slot], r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrRouterClosed
	}
	if h != nil {
		return h, nil
	}

	r.openMu[slot].Lock()
	defer r.openMu[slot].Unlock()

	r.mu.RLock()
	h, closed = r.handles[slot], r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrRouterClosed
	}
	if h != nil {
		return h, nil
	}

	mode := ModeWrite
	if slot == readSlot {
		mode = ModeRead
	}
	ep := r.nodes.Endpoint(mode)

	conn, err := r.dialer.Dial(ctx, mode, ep)
	if err != nil {
		cerr := &ConnectError{Router: r.id, Mode: mode, Endpoint: ep.String(), Err: err}
		r.log.Error("open connection failed", Fields{"router": r.id, "mode": mode.String(), "endpoint": ep.String(), "err": err})
		r.hooks.ConnectFailed(r.id, mode, err)
		return nil, cerr
	}

	h = &Handle[C]{Mode: mode, Endpoint: ep, Conn: conn}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = r.dialer.Close(conn)
		return nil, ErrRouterClosed
	}
	r.handles[slot] = h
	r.mu.Unlock()

	r.log.Debug("connection opened", Fields{"router": r.id, "mode": mode.String(), "endpoint": ep.String()})
	return h, nil
}
