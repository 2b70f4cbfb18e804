package repository

import (
	"errors"
	"time"

	"mood-pulse-backend/internal/models"
)

var (
	// ErrNotFound means the pulse does not exist, has expired, or was already deleted
	ErrNotFound = errors.New("pulse not found")
	// ErrTokenMismatch means the supplied delete token does not match
	ErrTokenMismatch = errors.New("delete token mismatch")
)

// Filter selects the live pulses returned by Query
type Filter struct {
	Since  time.Time // created_at >= Since
	Now    time.Time // expires_at > Now
	BBox   *models.BBox
	Limit  int
	Offset int
}
