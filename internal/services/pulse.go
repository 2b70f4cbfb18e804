package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mood-pulse-backend/internal/config"
	"mood-pulse-backend/internal/metrics"
	"mood-pulse-backend/internal/models"
	"mood-pulse-backend/internal/proximity"
	"mood-pulse-backend/internal/ratelimit"
	"mood-pulse-backend/internal/repository"
	"mood-pulse-backend/internal/token"
	"mood-pulse-backend/internal/validation"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	// ErrRateLimited means the source exhausted its write budget for the current window
	ErrRateLimited = errors.New("rate limited")
	// ErrNotFound means the pulse is absent, expired or already deleted
	ErrNotFound = errors.New("pulse not found")
	// ErrForbidden means the supplied delete token did not match
	ErrForbidden = errors.New("invalid delete token")
	// ErrStore is the opaque failure surfaced when persistence fails
	ErrStore = errors.New("storage failure")
)

// RateLimitedError carries how long the caller should wait. It matches ErrRateLimited.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error {
	return ErrRateLimited
}

// PulseStore is the persistence contract shared by the postgres and memory repositories
type PulseStore interface {
	Create(ctx context.Context, pulse *models.Pulse) error
	Query(ctx context.Context, f repository.Filter) ([]models.Pulse, error)
	DeleteWithToken(ctx context.Context, id, supplied string, now time.Time) error
	DeleteExpired(ctx context.Context, cutoff, hardCutoff time.Time) (int64, error)
	Ping(ctx context.Context) error
}

// Broadcaster receives pulse lifecycle events for connected viewers. Delivery is best-effort.
type Broadcaster interface {
	PulseCreated(pulse models.PulseDTO)
	PulseDeleted(id string)
}

// QueryResult is one page of live pulses
type QueryResult struct {
	Pulses  []models.PulseDTO `json:"pulses"`
	Count   int               `json:"count"`
	Limit   int               `json:"limit"`
	Offset  int               `json:"offset"`
	HasMore bool              `json:"has_more"`
}

// GraphQuery combines a pulse query with graph options
type GraphQuery struct {
	models.PulseQuery
	RadiusKm float64
	GroupBy  proximity.GroupKey
}

// GraphResult is the pulse set plus the edges derived from it
type GraphResult struct {
	Pulses       []models.PulseDTO `json:"pulses"`
	Edges        []models.Edge     `json:"edges"`
	RadiusKm     float64           `json:"radius_km"`
	GroupBy      string            `json:"group_by"`
	CappedGroups int               `json:"capped_groups,omitempty"`
}

// PulseService handles pulse business logic
type PulseService struct {
	store       PulseStore
	validator   *validation.Validator
	limiter     *ratelimit.Limiter
	broadcaster Broadcaster
	pulses      config.PulsesConfig
	proximity   config.ProximityConfig
	now         func() time.Time
}

// PulseOption customizes a PulseService
type PulseOption func(*PulseService)

// WithClock replaces the wall clock, mainly for tests
func WithClock(now func() time.Time) PulseOption {
	return func(s *PulseService) {
		s.now = now
	}
}

// NewPulseService creates a new pulse service. broadcaster may be nil.
func NewPulseService(
	store PulseStore,
	validator *validation.Validator,
	limiter *ratelimit.Limiter,
	broadcaster Broadcaster,
	cfg *config.Config,
	opts ...PulseOption,
) *PulseService {
	s := &PulseService{
		store:       store,
		validator:   validator,
		limiter:     limiter,
		broadcaster: broadcaster,
		pulses:      cfg.Pulses,
		proximity:   cfg.Proximity,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates a submission, admits it against the source's budget and persists it.
// The returned delete token is never available again.
func (s *PulseService) Create(ctx context.Context, source string, raw validation.RawPulse) (*models.Created, error) {
	np, err := s.validator.Validate(raw)
	if err != nil {
		metrics.PulsesRejected.WithLabelValues("validation").Inc()
		return nil, err
	}

	if !s.limiter.Allow(source) {
		metrics.PulsesRejected.WithLabelValues("rate_limited").Inc()
		log.Debug().Str("source", source).Msg("Pulse submission rate limited")
		return nil, &RateLimitedError{RetryAfter: s.limiter.RetryAfter(source)}
	}

	deleteToken, err := token.Issue()
	if err != nil {
		log.Error().Err(err).Msg("Failed to issue delete token")
		return nil, ErrStore
	}

	now := s.now().UTC()
	pulse := &models.Pulse{
		ID:           uuid.New().String(),
		Lat:          np.Lat,
		Lng:          np.Lng,
		Mood:         np.Mood,
		Energy:       np.Energy,
		Text:         np.Text,
		AllowConnect: np.AllowConnect,
		DeleteToken:  deleteToken,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.pulses.RetentionWindow),
	}

	if err := s.store.Create(ctx, pulse); err != nil {
		metrics.PulsesRejected.WithLabelValues("store").Inc()
		log.Error().Err(err).Str("pulse_id", pulse.ID).Msg("Failed to persist pulse")
		return nil, ErrStore
	}
	metrics.PulsesCreated.Inc()

	dto := pulse.Public()
	if s.broadcaster != nil {
		s.broadcaster.PulseCreated(dto)
	}

	log.Info().
		Str("pulse_id", pulse.ID).
		Str("mood", string(pulse.Mood)).
		Int("energy", pulse.Energy).
		Msg("Pulse created")

	return &models.Created{Pulse: dto, DeleteToken: deleteToken}, nil
}

// Query returns one page of live pulses, newest first
func (s *PulseService) Query(ctx context.Context, q models.PulseQuery) (*QueryResult, error) {
	q = s.bound(q)

	// One extra row tells us whether another page exists.
	pulses, err := s.store.Query(ctx, s.filter(q, q.Limit+1))
	if err != nil {
		log.Error().Err(err).Msg("Failed to query pulses")
		return nil, ErrStore
	}

	hasMore := len(pulses) > q.Limit
	if hasMore {
		pulses = pulses[:q.Limit]
	}

	return &QueryResult{
		Pulses:  toDTOs(pulses),
		Count:   len(pulses),
		Limit:   q.Limit,
		Offset:  q.Offset,
		HasMore: hasMore,
	}, nil
}

// Graph queries live pulses and links those sharing a group within the radius
func (s *PulseService) Graph(ctx context.Context, q GraphQuery) (*GraphResult, error) {
	pq := s.bound(q.PulseQuery)
	radius := q.RadiusKm
	if radius <= 0 {
		radius = s.proximity.DefaultRadiusKm
	}
	if radius > s.proximity.MaxRadiusKm {
		radius = s.proximity.MaxRadiusKm
	}
	groupBy := q.GroupBy
	if groupBy == "" {
		groupBy = proximity.GroupByMood
	}

	pulses, err := s.store.Query(ctx, s.filter(pq, pq.Limit))
	if err != nil {
		log.Error().Err(err).Msg("Failed to query pulses for graph")
		return nil, ErrStore
	}

	graph := proximity.Build(pulses, proximity.Options{
		RadiusKm:     radius,
		GroupBy:      groupBy,
		MaxGroupSize: s.proximity.MaxGroupSize,
	})
	if graph.CappedGroups > 0 {
		log.Warn().
			Int("capped_groups", graph.CappedGroups).
			Int("max_group_size", s.proximity.MaxGroupSize).
			Msg("Proximity graph groups capped")
	}

	return &GraphResult{
		Pulses:       toDTOs(pulses),
		Edges:        graph.Edges,
		RadiusKm:     radius,
		GroupBy:      string(groupBy),
		CappedGroups: graph.CappedGroups,
	}, nil
}

// Delete removes a live pulse when the supplied token matches
func (s *PulseService) Delete(ctx context.Context, id, suppliedToken string) error {
	err := s.store.DeleteWithToken(ctx, id, suppliedToken, s.now())
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNotFound):
		metrics.PulseDeletes.WithLabelValues("not_found").Inc()
		return ErrNotFound
	case errors.Is(err, repository.ErrTokenMismatch):
		metrics.PulseDeletes.WithLabelValues("forbidden").Inc()
		log.Warn().Str("pulse_id", id).Msg("Pulse delete rejected: token mismatch")
		return ErrForbidden
	default:
		metrics.PulseDeletes.WithLabelValues("error").Inc()
		log.Error().Err(err).Str("pulse_id", id).Msg("Failed to delete pulse")
		return ErrStore
	}

	metrics.PulseDeletes.WithLabelValues("ok").Inc()
	if s.broadcaster != nil {
		s.broadcaster.PulseDeleted(id)
	}
	log.Info().Str("pulse_id", id).Msg("Pulse deleted by owner")
	return nil
}

// DeleteExpired purges pulses past their expiry or older than the hard cap
func (s *PulseService) DeleteExpired(ctx context.Context) (int64, error) {
	now := s.now()
	removed, err := s.store.DeleteExpired(ctx, now, now.Add(-s.pulses.HardCapAge))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired pulses: %w", err)
	}
	return removed, nil
}

// Ping reports whether the store is reachable
func (s *PulseService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// bound applies defaults and server maxima to a query
func (s *PulseService) bound(q models.PulseQuery) models.PulseQuery {
	if q.Window <= 0 {
		q.Window = s.pulses.DefaultWindow
	}
	if q.Window > s.pulses.MaxWindow {
		q.Window = s.pulses.MaxWindow
	}
	if q.Limit <= 0 {
		q.Limit = s.pulses.DefaultPageSize
	}
	if q.Limit > s.pulses.MaxPageSize {
		q.Limit = s.pulses.MaxPageSize
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

func (s *PulseService) filter(q models.PulseQuery, limit int) repository.Filter {
	now := s.now()
	return repository.Filter{
		Since:  now.Add(-q.Window),
		Now:    now,
		BBox:   q.BBox,
		Limit:  limit,
		Offset: q.Offset,
	}
}

func toDTOs(pulses []models.Pulse) []models.PulseDTO {
	dtos := make([]models.PulseDTO, len(pulses))
	for i := range pulses {
		dtos[i] = pulses[i].Public()
	}
	return dtos
}
