package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mood-pulse-backend/internal/models"
	"mood-pulse-backend/internal/token"
)

// MemoryRepository keeps pulses in process memory. It honors the same
// contract as PulseRepository and backs the "memory" driver and unit tests.
type MemoryRepository struct {
	mu     sync.RWMutex
	pulses map[string]models.Pulse
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{pulses: make(map[string]models.Pulse)}
}

// Create stores a copy of pulse
func (r *MemoryRepository) Create(_ context.Context, pulse *models.Pulse) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pulses[pulse.ID]; exists {
		return fmt.Errorf("failed to create pulse: duplicate id %s", pulse.ID)
	}
	p := *pulse
	if pulse.Text != nil {
		text := *pulse.Text
		p.Text = &text
	}
	r.pulses[p.ID] = p
	return nil
}

// Query returns live pulses newest first with delete tokens blanked
func (r *MemoryRepository) Query(_ context.Context, f Filter) ([]models.Pulse, error) {
	r.mu.RLock()
	matched := make([]models.Pulse, 0)
	for _, p := range r.pulses {
		if p.CreatedAt.Before(f.Since) || !p.ExpiresAt.After(f.Now) {
			continue
		}
		if f.BBox != nil && !f.BBox.Contains(p.Lat, p.Lng) {
			continue
		}
		p.DeleteToken = ""
		matched = append(matched, p)
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	if f.Offset >= len(matched) {
		return []models.Pulse{}, nil
	}
	matched = matched[f.Offset:]
	if f.Limit >= 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

// DeleteWithToken removes a live pulse if supplied matches its token.
// Lookup, check and delete happen under one lock.
func (r *MemoryRepository) DeleteWithToken(_ context.Context, id, supplied string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pulses[id]
	if !ok || !p.ExpiresAt.After(now) {
		return ErrNotFound
	}
	if !token.Verify(p.DeleteToken, supplied) {
		return ErrTokenMismatch
	}
	delete(r.pulses, id)
	return nil
}

// DeleteExpired removes pulses with expires_at <= cutoff or created_at < hardCutoff
func (r *MemoryRepository) DeleteExpired(_ context.Context, cutoff, hardCutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	for id, p := range r.pulses {
		if !p.ExpiresAt.After(cutoff) || p.CreatedAt.Before(hardCutoff) {
			delete(r.pulses, id)
			removed++
		}
	}
	return removed, nil
}

// Ping always succeeds
func (r *MemoryRepository) Ping(context.Context) error {
	return nil
}

// Len returns the number of stored pulses, expired or not
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pulses)
}
