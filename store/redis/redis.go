// Package redis is the cross-process store.Store backend. It is the only
// backend whose SetNX coordinates separate processes.
package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/nodeflight"
	"github.com/unkn0wn-root/nodeflight/store"
)

var ErrNilClient = errors.New("redis store: nil client")

const defaultDialTimeout = 5 * time.Second

// Config builds a store that routes writes to the master node and reads to the
// replica, opening each lazily.
type Config struct {
	ID    string // router id used in logs and errors; "redis" if empty
	Nodes nodeflight.NodeSet

	// ReadFromWrite sends Get/Exists to the master too. A Flight over this
	// store always reads the master, see Primary.
	ReadFromWrite bool

	DialTimeout time.Duration // budget of the connect ping; 0 => 5s
	PoolSize    int           // 0 => go-redis default

	Logger nodeflight.Logger
	Hooks  nodeflight.Hooks
}

// ClientConfig wraps an existing client.
type ClientConfig struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this store exclusively owns the client
}

type Store struct {
	router   *nodeflight.Router[goredis.UniversalClient]
	readMode nodeflight.Mode

	static      goredis.UniversalClient
	closeClient bool
}

var (
	_ store.Store    = (*Store)(nil)
	_ store.Counter  = (*Store)(nil)
	_ store.Releaser = (*Store)(nil)
	_ store.Primary  = (*Store)(nil)
)

func New(cfg Config) (*Store, error) {
	id := cfg.ID
	if id == "" {
		id = "redis"
	}
	d := dialer{
		timeout:  cfg.DialTimeout,
		poolSize: cfg.PoolSize,
	}
	if d.timeout <= 0 {
		d.timeout = defaultDialTimeout
	}
	r, err := nodeflight.NewRouter[goredis.UniversalClient](id, cfg.Nodes, d, nodeflight.RouterOptions[goredis.UniversalClient]{
		Logger: cfg.Logger,
		Hooks:  cfg.Hooks,
	})
	if err != nil {
		return nil, err
	}
	s := &Store{router: r, readMode: nodeflight.ModeRead}
	if cfg.ReadFromWrite {
		s.readMode = nodeflight.ModeWrite
	}
	return s, nil
}

// Primary returns a view sharing this store's connections whose Get and
// Exists go to the master. It is s itself when reads already do.
func (s *Store) Primary() store.Store {
	if s.readMode == nodeflight.ModeWrite {
		return s
	}
	v := *s
	v.readMode = nodeflight.ModeWrite
	return &v
}

// NewFromClient serves every operation from one existing client.
func NewFromClient(cfg ClientConfig) (*Store, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Store{static: cfg.Client, closeClient: cfg.CloseClient}, nil
}

// Router exposes the underlying connection router; nil for NewFromClient stores.
func (s *Store) Router() *nodeflight.Router[goredis.UniversalClient] { return s.router }

func (s *Store) client(ctx context.Context, mode nodeflight.Mode) (goredis.UniversalClient, error) {
	if s.router == nil {
		return s.static, nil
	}
	h, err := s.router.Select(ctx, mode)
	if err != nil {
		return nil, err
	}
	return h.Conn, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c, err := s.client(ctx, s.readMode)
	if err != nil {
		return nil, false, err
	}
	b, err := c.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil // miss
	}
	if err != nil {
		return nil, false, err // transport/server error
	}
	return b, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c, err := s.client(ctx, nodeflight.ModeWrite)
	if err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0 // non-positive TTLs mean "no expiry" per store contract
	}
	return c.Set(ctx, key, value, ttl).Err()
}

// SetNX is SET key value NX PX ttl.
func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	c, err := s.client(ctx, nodeflight.ModeWrite)
	if err != nil {
		return false, err
	}
	if ttl < 0 {
		ttl = 0
	}
	return c.SetNX(ctx, key, value, ttl).Result()
}

func (s *Store) Del(ctx context.Context, key string) error {
	c, err := s.client(ctx, nodeflight.ModeWrite)
	if err != nil {
		return err
	}
	return c.Del(ctx, key).Err()
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	c, err := s.client(ctx, s.readMode)
	if err != nil {
		return false, err
	}
	n, err := c.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// IncrBy atomically adds delta. When ttl > 0, INCRBY + EXPIRE are pipelined
// in a single round-trip.
func (s *Store) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	c, err := s.client(ctx, nodeflight.ModeWrite)
	if err != nil {
		return 0, err
	}
	if ttl <= 0 {
		return c.IncrBy(ctx, key, delta).Result()
	}

	var incr *goredis.IntCmd
	_, err = c.Pipelined(ctx, func(p goredis.Pipeliner) error {
		incr = p.IncrBy(ctx, key, delta)
		p.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

var delIfEqual = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// DelIfEqual deletes key only while it still holds value.
func (s *Store) DelIfEqual(ctx context.Context, key string, value []byte) (bool, error) {
	c, err := s.client(ctx, nodeflight.ModeWrite)
	if err != nil {
		return false, err
	}
	n, err := delIfEqual.Run(ctx, c, []string{key}, value).Int64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close releases the routed connections, or the wrapped client when this
// store owns it. Safe to call multiple times.
func (s *Store) Close(context.Context) error {
	if s.router != nil {
		return s.router.Close()
	}
	if s.closeClient {
		if err := s.static.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

type dialer struct {
	timeout  time.Duration
	poolSize int
}

func (d dialer) Dial(ctx context.Context, _ nodeflight.Mode, ep nodeflight.Endpoint) (goredis.UniversalClient, error) {
	var opts *goredis.Options
	if ep.DSN != "" {
		o, err := goredis.ParseURL(ep.DSN)
		if err != nil {
			return nil, err
		}
		opts = o
	} else {
		opts = &goredis.Options{
			Addr:     ep.Addr(),
			Username: ep.Username,
			Password: ep.Password,
			DB:       ep.DB,
		}
	}
	if d.poolSize > 0 {
		opts.PoolSize = d.poolSize
	}
	opts.DialTimeout = d.timeout

	c := goredis.NewClient(opts)
	pctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := c.Ping(pctx).Err(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (d dialer) Close(c goredis.UniversalClient) error {
	if err := c.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		return err
	}
	return nil
}
