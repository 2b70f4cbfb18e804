package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mood-pulse-backend/internal/models"
	"mood-pulse-backend/internal/token"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
	CREATE TABLE IF NOT EXISTS pulses (
		id            TEXT PRIMARY KEY,
		lat           DOUBLE PRECISION NOT NULL CHECK (lat BETWEEN -90 AND 90),
		lng           DOUBLE PRECISION NOT NULL CHECK (lng BETWEEN -180 AND 180),
		mood          TEXT NOT NULL,
		energy        SMALLINT CHECK (energy BETWEEN 1 AND 5),
		text          TEXT,
		delete_token  TEXT NOT NULL,
		allow_connect BOOLEAN NOT NULL DEFAULT TRUE,
		created_at    TIMESTAMPTZ NOT NULL,
		expires_at    TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS pulses_created_at_idx ON pulses (created_at DESC);
	CREATE INDEX IF NOT EXISTS pulses_expires_at_idx ON pulses (expires_at);
`

// PulseRepository handles database operations for pulses
type PulseRepository struct {
	db *pgxpool.Pool
}

// NewPulseRepository creates a new pulse repository
func NewPulseRepository(db *pgxpool.Pool) *PulseRepository {
	return &PulseRepository{db: db}
}

// Migrate creates the pulses table and its indexes if missing
func (r *PulseRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate pulses schema: %w", err)
	}
	return nil
}

// Create persists a fully populated pulse
func (r *PulseRepository) Create(ctx context.Context, pulse *models.Pulse) error {
	query := `
		INSERT INTO pulses (id, lat, lng, mood, energy, text, delete_token, allow_connect, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Exec(ctx, query,
		pulse.ID, pulse.Lat, pulse.Lng, string(pulse.Mood), pulse.Energy, pulse.Text,
		pulse.DeleteToken, pulse.AllowConnect, pulse.CreatedAt, pulse.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create pulse: %w", err)
	}
	return nil
}

// Query returns live pulses newest first. The delete token is never selected.
func (r *PulseRepository) Query(ctx context.Context, f Filter) ([]models.Pulse, error) {
	var b strings.Builder
	b.WriteString(`
		SELECT id, lat, lng, mood, energy, text, allow_connect, created_at, expires_at
		FROM pulses
		WHERE created_at >= $1 AND expires_at > $2`)
	args := []any{f.Since, f.Now}

	if f.BBox != nil {
		b.WriteString(` AND lat BETWEEN $3 AND $4 AND lng BETWEEN $5 AND $6`)
		args = append(args, f.BBox.MinLat, f.BBox.MaxLat, f.BBox.MinLng, f.BBox.MaxLng)
	}
	fmt.Fprintf(&b, ` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pulses: %w", err)
	}
	defer rows.Close()

	pulses := make([]models.Pulse, 0, f.Limit)
	for rows.Next() {
		var p models.Pulse
		var mood string
		err := rows.Scan(
			&p.ID, &p.Lat, &p.Lng, &mood, &p.Energy, &p.Text,
			&p.AllowConnect, &p.CreatedAt, &p.ExpiresAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pulse: %w", err)
		}
		p.Mood = models.Mood(mood)
		pulses = append(pulses, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pulses: %w", err)
	}

	return pulses, nil
}

// DeleteWithToken removes a live pulse if supplied matches its delete token.
// The final DELETE re-checks the token so two racing callers cannot both succeed.
func (r *PulseRepository) DeleteWithToken(ctx context.Context, id, supplied string, now time.Time) error {
	var stored string
	err := r.db.QueryRow(ctx,
		`SELECT delete_token FROM pulses WHERE id = $1 AND expires_at > $2`, id, now,
	).Scan(&stored)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to get pulse: %w", err)
	}

	if !token.Verify(stored, supplied) {
		return ErrTokenMismatch
	}

	result, err := r.db.Exec(ctx, `DELETE FROM pulses WHERE id = $1 AND delete_token = $2`, id, stored)
	if err != nil {
		return fmt.Errorf("failed to delete pulse: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpired removes pulses whose expiry is at or before cutoff, or that
// were created before hardCutoff regardless of expiry
func (r *PulseRepository) DeleteExpired(ctx context.Context, cutoff, hardCutoff time.Time) (int64, error) {
	result, err := r.db.Exec(ctx,
		`DELETE FROM pulses WHERE expires_at <= $1 OR created_at < $2`, cutoff, hardCutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired pulses: %w", err)
	}
	return result.RowsAffected(), nil
}

// Ping checks database connectivity
func (r *PulseRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}
