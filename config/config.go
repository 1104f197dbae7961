// Package config loads the resource description of a process: caches,
// databases and OAuth clients, each addressed by id. A Config is not
// modified after Load returns.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v2"

	"github.com/unkn0wn-root/nodeflight"
	"github.com/unkn0wn-root/nodeflight/oauth"
	"github.com/unkn0wn-root/nodeflight/sqldb"
)

// CacheDriver selects the store backing a cache.
type CacheDriver string

const (
	CacheRedis     CacheDriver = "redis"
	CacheRistretto CacheDriver = "ristretto"
	CacheBigcache  CacheDriver = "bigcache"
)

type Config struct {
	// App and Tenant fill the {app} and {tenant} placeholders of cache prefixes.
	App    string `json:"app" toml:"app" yaml:"app"`
	Tenant string `json:"tenant" toml:"tenant" yaml:"tenant"`

	Defaults Defaults `json:"defaults" toml:"defaults" yaml:"defaults"`

	Caches    map[string]Cache        `json:"caches" toml:"caches" yaml:"caches"`
	Databases map[string]sqldb.Config `json:"databases" toml:"databases" yaml:"databases"`
	OAuth     map[string]oauth.Config `json:"oauth" toml:"oauth" yaml:"oauth"`
}

// Defaults name the resource used when a caller asks for the empty id.
type Defaults struct {
	Cache    string `json:"cache" toml:"cache" yaml:"cache"`
	Database string `json:"database" toml:"database" yaml:"database"`
	OAuth    string `json:"oauth" toml:"oauth" yaml:"oauth"`

	// TokenCache holds access tokens of every OAuth client; Cache when empty.
	TokenCache string `json:"token_cache" toml:"token_cache" yaml:"token_cache"`
}

type Cache struct {
	Driver CacheDriver `json:"driver" toml:"driver" yaml:"driver"`
	// Prefix is prepended to every key, e.g. "cache:{app}:{tenant}".
	Prefix string `json:"prefix" toml:"prefix" yaml:"prefix"`

	// redis
	nodeflight.NodeSet `yaml:",inline"`
	ReadFromWrite      bool          `json:"read_from_write" toml:"read_from_write" yaml:"read_from_write"`
	DialTimeout        time.Duration `json:"dial_timeout" toml:"dial_timeout" yaml:"dial_timeout"`
	PoolSize           int           `json:"pool_size" toml:"pool_size" yaml:"pool_size"`

	// ristretto
	MaxCost int64 `json:"max_cost" toml:"max_cost" yaml:"max_cost"`

	// bigcache
	LifeWindow  time.Duration `json:"life_window" toml:"life_window" yaml:"life_window"`
	HardMaxSize int           `json:"hard_max_size_mb" toml:"hard_max_size_mb" yaml:"hard_max_size_mb"`
}

func (c Cache) Validate() error {
	switch c.Driver {
	case CacheRedis:
		return c.NodeSet.Validate()
	case CacheRistretto, CacheBigcache:
		return nil
	default:
		return fmt.Errorf("unknown cache driver %q", c.Driver)
	}
}

// Load reads the file at path. The format follows the extension:
// .toml, .yaml/.yml or .json.
//
// Durations are strings such as "10s" in TOML and YAML. encoding/json reads
// time.Duration only as an integer count of nanoseconds, so JSON files write
// request_timeout: 10000000000 and a string is a decode error.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	switch filepath.Ext(path) {
	case ".toml":
		_, err = toml.NewDecoder(f).Decode(&cfg)
	case ".yaml", ".yml":
		err = yaml.NewDecoder(f).Decode(&cfg)
	case ".json":
		err = json.NewDecoder(f).Decode(&cfg)
	default:
		return nil, fmt.Errorf("config: unknown format of %s, use .toml, .yaml or .json", path)
	}
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Prepare(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

// Prepare fills ids and defaults, then validates. Load calls it; callers
// building a Config in code call it themselves.
func (c *Config) Prepare() error {
	for id, oc := range c.OAuth {
		if oc.ID == "" {
			oc.ID = id
			c.OAuth[id] = oc
		}
	}
	if c.Defaults.Cache == "" {
		c.Defaults.Cache = single(c.Caches)
	}
	if c.Defaults.Database == "" {
		c.Defaults.Database = single(c.Databases)
	}
	if c.Defaults.OAuth == "" {
		c.Defaults.OAuth = single(c.OAuth)
	}
	if c.Defaults.TokenCache == "" {
		c.Defaults.TokenCache = c.Defaults.Cache
	}
	return c.Validate()
}

func (c *Config) Validate() error {
	for _, id := range sortedKeys(c.Caches) {
		if err := c.Caches[id].Validate(); err != nil {
			return fmt.Errorf("cache %q: %w", id, err)
		}
	}
	for _, id := range sortedKeys(c.Databases) {
		if err := c.Databases[id].Validate(); err != nil {
			return fmt.Errorf("database %q: %w", id, err)
		}
	}
	for _, id := range sortedKeys(c.OAuth) {
		oc := c.OAuth[id]
		if err := oc.Validate(); err != nil {
			return err
		}
		cache := c.TokenCacheOf(id)
		if cache == "" {
			return fmt.Errorf("oauth %q: no token cache configured", id)
		}
		if _, ok := c.Caches[cache]; !ok {
			return fmt.Errorf("oauth %q: token cache %q is not configured", id, cache)
		}
	}

	if err := known("cache", c.Defaults.Cache, c.Caches); err != nil {
		return err
	}
	if err := known("database", c.Defaults.Database, c.Databases); err != nil {
		return err
	}
	if err := known("oauth", c.Defaults.OAuth, c.OAuth); err != nil {
		return err
	}
	return known("token cache", c.Defaults.TokenCache, c.Caches)
}

// TokenCacheOf returns the cache id holding the token of OAuth client id.
func (c *Config) TokenCacheOf(id string) string {
	if oc, ok := c.OAuth[id]; ok && oc.TokenCache != "" {
		return oc.TokenCache
	}
	return c.Defaults.TokenCache
}

// single returns the only key of m, or "" when m has zero or several.
func single[T any](m map[string]T) string {
	if len(m) != 1 {
		return ""
	}
	for k := range m {
		return k
	}
	return ""
}

func known[T any](kind, id string, m map[string]T) error {
	if id == "" {
		return nil
	}
	if _, ok := m[id]; !ok {
		return fmt.Errorf("default %s %q is not configured", kind, id)
	}
	return nil
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
