// Package ratelimit implements per-source admission control for pulse writes.
//
// Each source key holds a counter and the instant its window resets. The
// first request after the reset instant starts a new window, so bursts of up
// to twice the maximum are possible around a boundary. That is accepted.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"mood-pulse-backend/internal/metrics"
)

// Config holds the limiter policy
type Config struct {
	Window        time.Duration
	Max           int
	SweepInterval time.Duration
}

type entry struct {
	count   int
	resetAt time.Time
}

// Limiter tracks per-source counters under one lock. Contention is low
// because callers rarely share a key.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	cfg     Config
	now     func() time.Time
}

// Option customizes a Limiter
type Option func(*Limiter)

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a limiter. A zero SweepInterval defaults to the window.
func New(cfg Config, opts ...Option) *Limiter {
	if cfg.SweepInterval <= 0 || cfg.SweepInterval > cfg.Window {
		cfg.SweepInterval = cfg.Window
	}
	l := &Limiter{
		entries: make(map[string]*entry),
		cfg:     cfg,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records one request for key and reports whether it is admitted
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[key]
	if !ok || now.After(e.resetAt) {
		l.entries[key] = &entry{count: 1, resetAt: now.Add(l.cfg.Window)}
		return true
	}
	if e.count < l.cfg.Max {
		e.count++
		return true
	}
	return false
}

// RetryAfter returns how long until key's window resets, zero if untracked
func (l *Limiter) RetryAfter(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		return 0
	}
	if d := e.resetAt.Sub(l.now()); d > 0 {
		return d
	}
	return 0
}

// Sweep drops every entry whose window has passed and returns how many went
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, e := range l.entries {
		if now.After(e.resetAt) {
			delete(l.entries, key)
			removed++
		}
	}
	metrics.RateLimitSources.Set(float64(len(l.entries)))
	return removed
}

// Len returns the number of tracked sources
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Serve sweeps on SweepInterval until ctx is done. Implements suture.Service.
func (l *Limiter) Serve(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if removed := l.Sweep(); removed > 0 {
				log.Debug().
					Int("removed", removed).
					Int("tracked", l.Len()).
					Msg("Rate limit entries swept")
			}
		}
	}
}

// String names the service for supervisor logs
func (l *Limiter) String() string {
	return "rate-limit-sweeper"
}
