package handlers

import (
	"context"
	"net/http"
	"time"

	"mood-pulse-backend/internal/config"
	"mood-pulse-backend/internal/middleware"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports backing store health
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter wires the HTTP API. ws may be nil when broadcast is disabled.
func NewRouter(cfg *config.Config, pulses *PulseHandler, ws *WebSocketHandler, health Pinger) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", DeleteTokenHeader},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         86400,
	}))
	r.Use(middleware.Source)

	readGuard := readRateLimit(cfg.RateLimit)

	// Routes
	r.Route("/api/v1/pulses", func(r chi.Router) {
		r.Post("/", pulses.CreatePulse)
		r.Delete("/{id}", pulses.DeletePulse)

		r.Group(func(r chi.Router) {
			r.Use(readGuard)
			r.Get("/", pulses.ListPulses)
			r.Get("/graph", pulses.GetGraph)
		})
	})

	if ws != nil {
		r.Get("/ws", ws.HandleWebSocket)
	}

	r.Get("/healthz", healthHandler(health))
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// readRateLimit is a coarse per-IP guard for read endpoints. Writes go
// through the pulse service's own admission controller instead.
func readRateLimit(cfg config.RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.DisableReadRate || cfg.ReadsPerMinute <= 0 {
		return func(next http.Handler) http.Handler {
			return next
		}
	}
	return httprate.Limit(
		cfg.ReadsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			respondError(w, r, ErrCodeTooManyRequests, "too many requests", http.StatusTooManyRequests)
		}),
	)
}

func healthHandler(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			respondError(w, r, ErrCodeUnavailable, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
