package nodeflight

import "time"

const (
	defaultPollInterval   = time.Second
	defaultReleaseTimeout = 2 * time.Second
	defaultCacheTTL       = 10 * time.Minute
	defaultRememberWait   = 10 * time.Second
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
