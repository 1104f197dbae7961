package sqldb

import (
	"fmt"
	"net/url"
	"time"

	"github.com/unkn0wn-root/nodeflight"
)

// Driver names a database/sql driver registered by this package.
type Driver string

const (
	DriverPgx      Driver = "pgx"      // github.com/jackc/pgx/v5/stdlib
	DriverPostgres Driver = "postgres" // github.com/lib/pq
	DriverSQLite3  Driver = "sqlite3"  // github.com/mattn/go-sqlite3
)

func (d Driver) valid() bool {
	switch d {
	case DriverPgx, DriverPostgres, DriverSQLite3:
		return true
	}
	return false
}

// returning reports whether inserted ids come back through RETURNING rather
// than sql.Result.LastInsertId.
func (d Driver) returning() bool { return d == DriverPgx || d == DriverPostgres }

// Config describes one logical database: a master, an optional replica and
// session settings shared by both.
type Config struct {
	Driver Driver `json:"driver" toml:"driver" yaml:"driver"`

	nodeflight.NodeSet `yaml:",inline"`

	// Database and Params complete DSNs built from host/port endpoints,
	// e.g. Params{"sslmode": "disable"}. Ignored for endpoints with a DSN.
	Database string            `json:"database" toml:"database" yaml:"database"`
	Params   map[string]string `json:"params" toml:"params" yaml:"params"`

	MaxOpenConns    int           `json:"max_open_conns" toml:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" toml:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" toml:"conn_max_lifetime" yaml:"conn_max_lifetime"`

	Formats Formats `json:"formats" toml:"formats" yaml:"formats"`
}

func (c Config) Validate() error {
	if !c.Driver.valid() {
		return fmt.Errorf("sqldb: unknown driver %q", c.Driver)
	}
	return c.NodeSet.Validate()
}

// dsn resolves the data source name of one node.
func (c Config) dsn(ep nodeflight.Endpoint) (string, error) {
	if ep.DSN != "" {
		return ep.DSN, nil
	}
	if c.Driver == DriverSQLite3 {
		return "", fmt.Errorf("sqldb: sqlite3 endpoint %s needs a dsn", ep)
	}
	u := url.URL{Scheme: "postgres", Host: ep.Addr(), Path: "/" + c.Database}
	if ep.Username != "" {
		u.User = url.UserPassword(ep.Username, ep.Password)
	}
	if len(c.Params) > 0 {
		q := url.Values{}
		for k, v := range c.Params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
