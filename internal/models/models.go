package models

import "time"

// Pulse represents a single anonymous mood submission pinned to a location
type Pulse struct {
	ID           string    `json:"id"`
	Lat          float64   `json:"lat"`
	Lng          float64   `json:"lng"`
	Mood         Mood      `json:"mood"`
	Energy       int       `json:"energy"`
	Text         *string   `json:"text,omitempty"`
	AllowConnect bool      `json:"allow_connect"`
	DeleteToken  string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// PulseDTO is the public shape of a pulse. It never carries the delete token.
type PulseDTO struct {
	ID           string    `json:"id"`
	Lat          float64   `json:"lat"`
	Lng          float64   `json:"lng"`
	Mood         Mood      `json:"mood"`
	Energy       int       `json:"energy"`
	Text         *string   `json:"text,omitempty"`
	AllowConnect bool      `json:"allow_connect"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Public strips the pulse down to its DTO
func (p *Pulse) Public() PulseDTO {
	return PulseDTO{
		ID:           p.ID,
		Lat:          p.Lat,
		Lng:          p.Lng,
		Mood:         p.Mood,
		Energy:       p.Energy,
		Text:         p.Text,
		AllowConnect: p.AllowConnect,
		CreatedAt:    p.CreatedAt,
		ExpiresAt:    p.ExpiresAt,
	}
}

// NewPulse holds validated, normalized submission fields before the store assigns identity
type NewPulse struct {
	Lat          float64
	Lng          float64
	Mood         Mood
	Energy       int
	Text         *string
	AllowConnect bool
}

// Created is returned once to the submitter; it is the only place the delete token appears
type Created struct {
	Pulse       PulseDTO `json:"pulse"`
	DeleteToken string   `json:"delete_token"`
}

// BBox is a longitude/latitude bounding box filter
type BBox struct {
	MinLng float64 `json:"min_lng"`
	MinLat float64 `json:"min_lat"`
	MaxLng float64 `json:"max_lng"`
	MaxLat float64 `json:"max_lat"`
}

// Contains reports whether the point lies inside the box, edges included
func (b BBox) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

// PulseQuery describes a bounded look-back read
type PulseQuery struct {
	Window time.Duration
	BBox   *BBox
	Limit  int
	Offset int
}

// Edge links two pulses in the proximity graph. From sorts before To.
type Edge struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	DistanceKm float64 `json:"distance_km"`
}
