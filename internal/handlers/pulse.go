package handlers

import (
	"bytes"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mood-pulse-backend/internal/middleware"
	"mood-pulse-backend/internal/models"
	"mood-pulse-backend/internal/proximity"
	"mood-pulse-backend/internal/services"
	"mood-pulse-backend/internal/validation"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// DeleteTokenHeader carries the capability token on DELETE requests
const DeleteTokenHeader = "X-Delete-Token"

// PulseHandler handles pulse-related HTTP requests
type PulseHandler struct {
	pulseService *services.PulseService
	maxBodyBytes int64
}

// NewPulseHandler creates a new pulse handler
func NewPulseHandler(pulseService *services.PulseService, maxBodyBytes int64) *PulseHandler {
	return &PulseHandler{
		pulseService: pulseService,
		maxBodyBytes: maxBodyBytes,
	}
}

// CreatePulse handles POST /api/v1/pulses
func (h *PulseHandler) CreatePulse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	source := middleware.GetSource(ctx)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, ErrCodePayloadTooLarge, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		respondError(w, r, ErrCodeBadRequest, "Invalid request body", http.StatusBadRequest)
		return
	}

	// Numbers stay json.Number so the validator can tell 2 from 2.5.
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw validation.RawPulse
	if err := dec.Decode(&raw); err != nil {
		respondError(w, r, ErrCodeBadRequest, "Invalid request body", http.StatusBadRequest)
		return
	}

	created, err := h.pulseService.Create(ctx, source, raw)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, created)
}

// ListPulses handles GET /api/v1/pulses
func (h *PulseHandler) ListPulses(w http.ResponseWriter, r *http.Request) {
	q, _, err := parseReadParams(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	result, err := h.pulseService.Query(r.Context(), q)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// GetGraph handles GET /api/v1/pulses/graph
func (h *PulseHandler) GetGraph(w http.ResponseWriter, r *http.Request) {
	q, p, err := parseReadParams(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	groupBy, _ := proximity.ParseGroupKey(p.Group)
	result, err := h.pulseService.Graph(r.Context(), services.GraphQuery{
		PulseQuery: q,
		RadiusKm:   p.RadiusKm,
		GroupBy:    groupBy,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// DeletePulse handles DELETE /api/v1/pulses/{id}
func (h *PulseHandler) DeletePulse(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	supplied := r.Header.Get(DeleteTokenHeader)
	if supplied == "" {
		supplied = r.URL.Query().Get("token")
	}
	if supplied == "" {
		respondValidation(w, r, &validation.Errors{Fields: []validation.FieldError{
			{Field: "token", Reason: "is required"},
		}})
		return
	}

	if err := h.pulseService.Delete(r.Context(), id, supplied); err != nil {
		respondServiceError(w, r, err)
		return
	}

	log.Debug().Str("pulse_id", id).Msg("Delete request served")
	w.WriteHeader(http.StatusNoContent)
}

// readParams are the query parameters shared by list and graph reads
type readParams struct {
	Window   time.Duration `json:"window" validate:"gte=0"`
	Limit    int           `json:"limit" validate:"gte=0"`
	Offset   int           `json:"offset" validate:"gte=0"`
	RadiusKm float64       `json:"radius_km" validate:"gte=0"`
	Group    string        `json:"group" validate:"omitempty,oneof=mood energy"`
	BBox     *bboxParams   `json:"bbox" validate:"omitempty"`
}

type bboxParams struct {
	MinLng float64 `json:"min_lng" validate:"gte=-180,lte=180"`
	MinLat float64 `json:"min_lat" validate:"gte=-90,lte=90"`
	MaxLng float64 `json:"max_lng" validate:"gte=-180,lte=180,gtefield=MinLng"`
	MaxLat float64 `json:"max_lat" validate:"gte=-90,lte=90,gtefield=MinLat"`
}

// parseReadParams decodes and validates the read query string.
// Windows and limits above the server maxima are clamped by the service.
func parseReadParams(r *http.Request) (models.PulseQuery, readParams, error) {
	values := r.URL.Query()
	errs := &validation.Errors{}
	var p readParams

	if raw := values.Get("window"); raw != "" {
		d, err := parseWindow(raw)
		if err != nil {
			errs.Fields = append(errs.Fields, validation.FieldError{Field: "window", Reason: "must be a duration such as 6h or a number of hours"})
		} else {
			p.Window = d
		}
	}
	p.Limit = parseIntParam(errs, values.Get("limit"), "limit")
	p.Offset = parseIntParam(errs, values.Get("offset"), "offset")
	if raw := values.Get("radius_km"); raw != "" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			errs.Fields = append(errs.Fields, validation.FieldError{Field: "radius_km", Reason: "must be a number"})
		} else {
			p.RadiusKm = f
		}
	}
	p.Group = values.Get("group")
	if raw := values.Get("bbox"); raw != "" {
		box, ok := parseBBox(raw)
		if !ok {
			errs.Fields = append(errs.Fields, validation.FieldError{Field: "bbox", Reason: "must be minLng,minLat,maxLng,maxLat"})
		} else {
			p.BBox = box
		}
	}

	if err := validation.ValidateStruct(p); err != nil {
		var tagErrs *validation.Errors
		if !errors.As(err, &tagErrs) {
			return models.PulseQuery{}, p, err
		}
		errs.Fields = append(errs.Fields, tagErrs.Fields...)
	}
	if len(errs.Fields) > 0 {
		return models.PulseQuery{}, p, errs
	}

	q := models.PulseQuery{
		Window: p.Window,
		Limit:  p.Limit,
		Offset: p.Offset,
	}
	if p.BBox != nil {
		q.BBox = &models.BBox{
			MinLng: p.BBox.MinLng,
			MinLat: p.BBox.MinLat,
			MaxLng: p.BBox.MaxLng,
			MaxLat: p.BBox.MaxLat,
		}
	}
	return q, p, nil
}

// maxWindowHours keeps hour counts inside time.Duration's range
const maxWindowHours = float64(math.MaxInt64 / int64(time.Hour))

// parseWindow accepts a Go duration ("90m") or a bare number of hours ("24")
func parseWindow(raw string) (time.Duration, error) {
	if hours, err := strconv.ParseFloat(raw, 64); err == nil {
		if math.IsNaN(hours) || math.Abs(hours) > maxWindowHours {
			return 0, errors.New("window out of range")
		}
		return time.Duration(hours * float64(time.Hour)), nil
	}
	return time.ParseDuration(raw)
}

func parseIntParam(errs *validation.Errors, raw, field string) int {
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		errs.Fields = append(errs.Fields, validation.FieldError{Field: field, Reason: "must be an integer"})
		return 0
	}
	return n
}

func parseBBox(raw string) (*bboxParams, bool) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return nil, false
	}
	var vals [4]float64
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, false
		}
		vals[i] = f
	}
	return &bboxParams{MinLng: vals[0], MinLat: vals[1], MaxLng: vals[2], MaxLat: vals[3]}, true
}
