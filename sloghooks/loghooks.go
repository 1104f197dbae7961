// Package sloghooks logs nodeflight hook events to a *slog.Logger with
// sampling for the noisy ones and key redaction.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/nodeflight"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	AcquiredEvery  uint64
	ContendedEvery uint64
	SelfHealEvery  uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	acquiredCtr  atomic.Uint64
	contendedCtr atomic.Uint64
	selfHealCtr  atomic.Uint64
}

var _ nodeflight.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) ConnectFailed(router string, mode nodeflight.Mode, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("nodeflight.connect_failed",
		"router", router,
		"mode", mode.String(),
		"err", err)
}

func (h *Hooks) LockAcquired(key string) {
	if h.l == nil || !sample(h.opts.AcquiredEvery, &h.acquiredCtr) {
		return
	}
	h.l.Debug("nodeflight.lock_acquired", "key", h.redact(key))
}

func (h *Hooks) LockContended(key string) {
	if h.l == nil || !sample(h.opts.ContendedEvery, &h.contendedCtr) {
		return
	}
	h.l.Debug("nodeflight.lock_contended", "key", h.redact(key))
}

func (h *Hooks) LockTimeout(key string, waited time.Duration) {
	if h.l == nil {
		return
	}
	h.l.Warn("nodeflight.lock_timeout",
		"key", h.redact(key),
		"waited", waited)
}

func (h *Hooks) FetchFailed(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("nodeflight.fetch_failed",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) SelfHeal(key, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("nodeflight.self_heal",
		"key", h.redact(key),
		"reason", reason)
}
