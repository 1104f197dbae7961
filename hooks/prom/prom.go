// Package prom exports nodeflight hook events as Prometheus counters.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/unkn0wn-root/nodeflight"
)

type Hooks struct {
	connectFailed *prometheus.CounterVec
	lockAcquired  prometheus.Counter
	lockContended prometheus.Counter
	lockTimeout   prometheus.Counter
	lockWaited    prometheus.Histogram
	fetchFailed   prometheus.Counter
	selfHeal      *prometheus.CounterVec
}

var _ nodeflight.Hooks = (*Hooks)(nil)

// New registers the collectors on reg; nil means prometheus.DefaultRegisterer.
// Keys are never used as labels.
func New(reg prometheus.Registerer, namespace string) *Hooks {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Hooks{
		connectFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodeflight_connect_failures_total",
			Help:      "Connections that could not be opened, by router and mode.",
		}, []string{"router", "mode"}),
		lockAcquired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodeflight_lock_acquired_total",
			Help:      "Single-flight locks won by this process.",
		}),
		lockContended: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodeflight_lock_contended_total",
			Help:      "Callers that found the lock held and started waiting.",
		}),
		lockTimeout: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodeflight_lock_timeouts_total",
			Help:      "Followers that waited out maxWait without a value.",
		}),
		lockWaited: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "nodeflight_lock_timeout_wait_seconds",
			Help:      "How long timed-out followers waited.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 8),
		}),
		fetchFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodeflight_fetch_failures_total",
			Help:      "Fetches by the lock holder that returned an error.",
		}),
		selfHeal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodeflight_self_heal_total",
			Help:      "Undecodable cached values dropped on read.",
		}, []string{"reason"}),
	}
}

func (h *Hooks) ConnectFailed(router string, mode nodeflight.Mode, _ error) {
	h.connectFailed.WithLabelValues(router, mode.String()).Inc()
}
func (h *Hooks) LockAcquired(string)  { h.lockAcquired.Inc() }
func (h *Hooks) LockContended(string) { h.lockContended.Inc() }
func (h *Hooks) LockTimeout(_ string, waited time.Duration) {
	h.lockTimeout.Inc()
	h.lockWaited.Observe(waited.Seconds())
}
func (h *Hooks) FetchFailed(string, error)   { h.fetchFailed.Inc() }
func (h *Hooks) SelfHeal(_ string, r string) { h.selfHeal.WithLabelValues(r).Inc() }
