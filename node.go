package nodeflight

import (
	"net"
	"strconv"
)

// Mode selects which physical node of a NodeSet serves an operation.
type Mode int

const (
	// ModeWrite is the authoritative node. It is the zero value.
	ModeWrite Mode = iota
	// ModeRead is the read-only replica, when one is configured.
	ModeRead
)

func (m Mode) String() string {
	switch m {
	case ModeWrite:
		return "write"
	case ModeRead:
		return "read"
	default:
		return "mode(" + strconv.Itoa(int(m)) + ")"
	}
}

// Endpoint is one physical node. Network backends use Host/Port, SQL
// backends usually carry a DSN instead.
type Endpoint struct {
	Host     string `json:"host" toml:"host" yaml:"host"`
	Port     int    `json:"port" toml:"port" yaml:"port"`
	Username string `json:"username" toml:"username" yaml:"username"`
	Password string `json:"password" toml:"password" yaml:"password"`
	DSN      string `json:"dsn" toml:"dsn" yaml:"dsn"`
	DB       int    `json:"db" toml:"db" yaml:"db"`
}

// Addr returns host:port.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// IsZero reports whether neither an address nor a DSN is set.
func (e Endpoint) IsZero() bool { return e.Host == "" && e.DSN == "" }

// String is safe for logs: it never includes credentials.
func (e Endpoint) String() string {
	if e.Host != "" {
		return e.Addr()
	}
	if e.DSN != "" {
		return "dsn"
	}
	return "<none>"
}

// NodeSet describes the physical endpoints of one logical resource: a
// mandatory write node and an optional read replica.
type NodeSet struct {
	Write Endpoint  `json:"master" toml:"master" yaml:"master"`
	Read  *Endpoint `json:"replica,omitempty" toml:"replica,omitempty" yaml:"replica,omitempty"`
}

func (n NodeSet) Validate() error {
	if n.Write.IsZero() {
		return ErrNoWriteNode
	}
	return nil
}

// HasReplica reports whether reads can be served by a distinct node.
func (n NodeSet) HasReplica() bool { return n.Read != nil && !n.Read.IsZero() }

// Endpoint resolves the node serving mode. Without a replica every mode
// resolves to the write node.
func (n NodeSet) Endpoint(m Mode) Endpoint {
	if m == ModeRead && n.HasReplica() {
		return *n.Read
	}
	return n.Write
}
