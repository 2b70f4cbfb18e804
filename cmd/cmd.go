package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mood-pulse-backend/internal/config"
	"mood-pulse-backend/internal/handlers"
	"mood-pulse-backend/internal/logging"
	"mood-pulse-backend/internal/ratelimit"
	"mood-pulse-backend/internal/repository"
	"mood-pulse-backend/internal/services"
	"mood-pulse-backend/internal/supervisor"
	"mood-pulse-backend/internal/validation"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

func Run() {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logger
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Open the pulse store; an unreachable store at boot is fatal
	store, closeStore := openStore(ctx, cfg.Database)
	defer closeStore()

	// Initialize core components
	limiter := ratelimit.New(ratelimit.Config{
		Window:        cfg.RateLimit.Window,
		Max:           cfg.RateLimit.Max,
		SweepInterval: cfg.RateLimit.SweepInterval,
	})
	validator := validation.New(cfg.Pulses.MaxTextLength)

	var (
		wsHub       *services.WSHub
		broadcaster services.Broadcaster
	)
	if cfg.Broadcast.Enabled {
		wsHub = services.NewWSHub(cfg.Broadcast)
		broadcaster = wsHub
	}

	pulseService := services.NewPulseService(store, validator, limiter, broadcaster, cfg)
	retention := services.NewRetentionScheduler(pulseService, cfg.Retention.Interval, cfg.Retention.InitialDelay)

	// Initialize handlers
	pulseHandler := handlers.NewPulseHandler(pulseService, cfg.Server.MaxBodyBytes)
	var wsHandler *handlers.WebSocketHandler
	if wsHub != nil {
		wsHandler = handlers.NewWebSocketHandler(wsHub, cfg.Server.CORSOrigins)
	}
	router := handlers.NewRouter(cfg, pulseHandler, wsHandler, pulseService)

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Assemble the supervisor tree
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddDataService(retention)
	tree.AddDataService(limiter)
	if wsHub != nil {
		tree.AddMessagingService(wsHub)
	}
	tree.AddAPIService(supervisor.NewHTTPServerService(srv, cfg.Server.Addr(), cfg.Server.ShutdownTimeout))

	log.Info().
		Str("driver", cfg.Database.Driver).
		Dur("retention_window", cfg.Pulses.RetentionWindow).
		Int("rate_limit_max", cfg.RateLimit.Max).
		Dur("rate_limit_window", cfg.RateLimit.Window).
		Bool("broadcast", cfg.Broadcast.Enabled).
		Msg("Mood pulse service starting")

	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("Supervisor stopped unexpectedly")
	}

	if unstopped, err := tree.UnstoppedServiceReport(); err == nil && len(unstopped) > 0 {
		for _, svc := range unstopped {
			log.Warn().Str("service", svc.Name).Msg("Service did not stop within shutdown timeout")
		}
	}
	log.Info().Msg("Mood pulse service exited")
}

// openStore connects the configured store and returns a close function
func openStore(ctx context.Context, cfg config.DatabaseConfig) (services.PulseStore, func()) {
	if cfg.Driver == "memory" {
		log.Warn().Msg("Using in-memory pulse store; pulses are lost on restart")
		return repository.NewMemoryRepository(), func() {}
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to parse database config")
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	db, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}

	// Test database connection
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.Ping(pingCtx); err != nil {
		db.Close()
		log.Fatal().Err(err).Msg("Failed to ping database")
	}
	log.Info().Msg("Database connection established")

	repo := repository.NewPulseRepository(db)
	if err := repo.Migrate(pingCtx); err != nil {
		db.Close()
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}

	return repo, db.Close
}
