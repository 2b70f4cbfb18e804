package services

import (
	"context"
	"time"

	"mood-pulse-backend/internal/metrics"

	"github.com/rs/zerolog/log"
)

// Sweeper deletes expired pulses and reports how many were removed
type Sweeper interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// RetentionScheduler runs the expiry sweep shortly after start and then on a fixed interval.
// It implements suture.Service so the supervisor owns its lifecycle.
type RetentionScheduler struct {
	sweeper      Sweeper
	interval     time.Duration
	initialDelay time.Duration
}

// NewRetentionScheduler creates a new retention scheduler
func NewRetentionScheduler(sweeper Sweeper, interval, initialDelay time.Duration) *RetentionScheduler {
	if initialDelay < 0 {
		initialDelay = 0
	}
	return &RetentionScheduler{
		sweeper:      sweeper,
		interval:     interval,
		initialDelay: initialDelay,
	}
}

// Serve blocks until ctx is cancelled. A failed sweep is logged and retried on the next tick.
func (r *RetentionScheduler) Serve(ctx context.Context) error {
	log.Info().
		Dur("interval", r.interval).
		Dur("initial_delay", r.initialDelay).
		Msg("Retention scheduler started")

	first := time.NewTimer(r.initialDelay)
	defer first.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-first.C:
		r.RunOnce(ctx)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Retention scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep and returns the number of pulses removed
func (r *RetentionScheduler) RunOnce(ctx context.Context) int64 {
	start := time.Now()
	removed, err := r.sweeper.DeleteExpired(ctx)
	elapsed := time.Since(start)
	metrics.RecordSweep(removed, elapsed, err)

	if err != nil {
		if ctx.Err() != nil {
			log.Warn().Err(err).Msg("Retention sweep abandoned on shutdown")
			return 0
		}
		log.Error().Err(err).Dur("duration", elapsed).Msg("Retention sweep failed")
		return 0
	}

	log.Info().
		Int64("removed", removed).
		Dur("duration", elapsed).
		Msg("Retention sweep completed")
	return removed
}

// String implements fmt.Stringer for supervisor logging
func (r *RetentionScheduler) String() string {
	return "retention-scheduler"
}
