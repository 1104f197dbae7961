// Package sqldb is a relational facade over a master and an optional read
// replica. Writes go to the master, reads to the replica, and everything runs
// on the master while a transaction is active.
//
// A Conn is a session: Begin/Commit/Rollback affect every caller sharing it.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/unkn0wn-root/nodeflight"
)

type Option func(*options)

type options struct {
	log   nodeflight.Logger
	hooks nodeflight.Hooks
}

func WithLogger(l nodeflight.Logger) Option { return func(o *options) { o.log = l } }
func WithHooks(h nodeflight.Hooks) Option   { return func(o *options) { o.hooks = h } }

type Conn struct {
	id      string
	driver  Driver
	router  *nodeflight.Router[*sqlConn]
	log     nodeflight.Logger
	formats *Formatter
}

// Open validates cfg and prepares the connection. No node is contacted until
// the first statement needs it.
func Open(id string, cfg Config, opts ...Option) (*Conn, error) {
	o := options{log: nodeflight.NopLogger{}}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("sqldb %q: %w", id, err)
	}
	f, err := NewFormatter(cfg.Formats)
	if err != nil {
		return nil, fmt.Errorf("sqldb %q: %w", id, err)
	}
	r, err := nodeflight.NewRouter[*sqlConn](id, cfg.NodeSet, dialer{cfg: cfg}, nodeflight.RouterOptions[*sqlConn]{
		Logger:     o.log,
		Hooks:      o.hooks,
		Transactor: transactor{},
	})
	if err != nil {
		return nil, err
	}
	return &Conn{id: id, driver: cfg.Driver, router: r, log: o.log, formats: f}, nil
}

func (c *Conn) ID() string { return c.id }

// Formats returns the date and boolean helpers of this database.
func (c *Conn) Formats() *Formatter { return c.formats }

// Open eagerly connects the node serving mode.
func (c *Conn) Open(ctx context.Context, mode nodeflight.Mode) error {
	return c.router.Open(ctx, mode)
}

// Exec runs a statement on the master.
func (c *Conn) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	e, err := c.ext(ctx, nodeflight.ModeWrite, "exec", query, args)
	if err != nil {
		return nil, err
	}
	res, err := e.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, c.fail("exec", query, err)
	}
	return res, nil
}

// ExecNamed runs a statement with :name parameters bound from a struct or map.
func (c *Conn) ExecNamed(ctx context.Context, query string, arg any) (sql.Result, error) {
	e, err := c.ext(ctx, nodeflight.ModeWrite, "exec_named", query, []any{arg})
	if err != nil {
		return nil, err
	}
	res, err := sqlx.NamedExecContext(ctx, e, query, arg)
	if err != nil {
		return nil, c.fail("exec_named", query, err)
	}
	return res, nil
}

// Insert runs an insert on the master and returns the new row id. Postgres
// drivers have no LastInsertId: their queries must end in RETURNING <id>.
func (c *Conn) Insert(ctx context.Context, query string, args ...any) (int64, error) {
	e, err := c.ext(ctx, nodeflight.ModeWrite, "insert", query, args)
	if err != nil {
		return 0, err
	}
	if c.driver.returning() {
		var id int64
		if err := e.QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
			return 0, c.fail("insert", query, err)
		}
		return id, nil
	}
	res, err := e.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, c.fail("insert", query, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, c.fail("insert", query, err)
	}
	return id, nil
}

// Select scans every row into dest, a pointer to a slice.
func (c *Conn) Select(ctx context.Context, dest any, query string, args ...any) error {
	e, err := c.ext(ctx, nodeflight.ModeRead, "select", query, args)
	if err != nil {
		return err
	}
	if err := sqlx.SelectContext(ctx, e, dest, query, args...); err != nil {
		return c.fail("select", query, err)
	}
	return nil
}

// Get scans the first row into dest and reports whether there was one.
func (c *Conn) Get(ctx context.Context, dest any, query string, args ...any) (bool, error) {
	e, err := c.ext(ctx, nodeflight.ModeRead, "get", query, args)
	if err != nil {
		return false, err
	}
	err = sqlx.GetContext(ctx, e, dest, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, c.fail("get", query, err)
	}
	return true, nil
}

// Rows returns every row as a column -> value map. Text and blob columns
// come back as strings.
func (c *Conn) Rows(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	e, err := c.ext(ctx, nodeflight.ModeRead, "rows", query, args)
	if err != nil {
		return nil, err
	}
	rows, err := e.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, c.fail("rows", query, err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		m := make(map[string]any)
		if err := rows.MapScan(m); err != nil {
			return nil, c.fail("rows", query, err)
		}
		for k, v := range m {
			if b, ok := v.([]byte); ok {
				m[k] = string(b)
			}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, c.fail("rows", query, err)
	}
	return out, nil
}

func (c *Conn) Begin(ctx context.Context) error    { return c.router.Begin(ctx) }
func (c *Conn) Commit(ctx context.Context) error   { return c.router.Commit(ctx) }
func (c *Conn) Rollback(ctx context.Context) error { return c.router.Rollback(ctx) }
func (c *Conn) InTransaction() bool                { return c.router.InTransaction() }

// Close closes both pools; an open transaction is rolled back by the driver.
func (c *Conn) Close() error { return c.router.Close() }

func (c *Conn) ext(ctx context.Context, mode nodeflight.Mode, op, query string, args []any) (sqlx.ExtContext, error) {
	h, err := c.router.Select(ctx, mode)
	if err != nil {
		return nil, err
	}
	c.log.Debug("sql", nodeflight.Fields{"conn": c.id, "op": op, "mode": h.Mode.String(), "query": query, "args": args})
	return h.Conn.ext(), nil
}

func (c *Conn) fail(op, query string, err error) error {
	c.log.Error("sql failed", nodeflight.Fields{"conn": c.id, "op": op, "query": query, "err": err})
	return fmt.Errorf("sqldb %q: %s: %w", c.id, op, err)
}

// sqlConn is one node's pool plus the transaction open on it, if any.
type sqlConn struct {
	db *sqlx.DB

	mu sync.Mutex
	tx *sqlx.Tx
}

func (s *sqlConn) ext() sqlx.ExtContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

type dialer struct{ cfg Config }

func (d dialer) Dial(ctx context.Context, _ nodeflight.Mode, ep nodeflight.Endpoint) (*sqlConn, error) {
	dsn, err := d.cfg.dsn(ep)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open(string(d.cfg.Driver), dsn)
	if err != nil {
		return nil, err
	}
	if d.cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(d.cfg.MaxOpenConns)
	}
	if d.cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(d.cfg.MaxIdleConns)
	}
	if d.cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(d.cfg.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqlConn{db: db}, nil
}

func (dialer) Close(c *sqlConn) error {
	c.mu.Lock()
	if c.tx != nil {
		_ = c.tx.Rollback()
		c.tx = nil
	}
	c.mu.Unlock()
	return c.db.Close()
}

type transactor struct{}

func (transactor) Begin(ctx context.Context, c *sqlConn) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.tx = tx
	c.mu.Unlock()
	return nil
}

func (transactor) Commit(_ context.Context, c *sqlConn) error {
	return c.end(func(tx *sqlx.Tx) error { return tx.Commit() })
}

func (transactor) Rollback(_ context.Context, c *sqlConn) error {
	return c.end(func(tx *sqlx.Tx) error { return tx.Rollback() })
}

func (s *sqlConn) end(fn func(*sqlx.Tx) error) error {
	s.mu.Lock()
	tx := s.tx
	s.tx = nil
	s.mu.Unlock()
	if tx == nil {
		return nil
	}
	return fn(tx)
}
