package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"bankflow/internal/common/backoff"
	"bankflow/internal/common/cache"
	"bankflow/internal/common/database"
	"bankflow/internal/common/kafka"
	"bankflow/internal/common/middleware"
	"bankflow/internal/common/migrations"
	"bankflow/internal/common/nats"
	"bankflow/internal/common/outbox"
	"bankflow/internal/identity"
	"bankflow/internal/wallet"
)

// Config holds service configuration
type Config struct {
	Port           int      `envconfig:"PORT" default:"8080"`
	Environment    string   `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel       string   `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat      string   `envconfig:"LOG_FORMAT" default:"json"`
	Stages         []string `envconfig:"BANKFLOW_STAGES" default:"registration,document,credit,card,wallet,notification"`
	BusDriver      string   `envconfig:"BUS_DRIVER" default:"jetstream"`
	MigrateOnStart bool     `envconfig:"MIGRATE_ON_START" default:"true"`
	AuthRequired   bool     `envconfig:"AUTH_REQUIRED" default:"false"`
	AllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	InternalToken  string   `envconfig:"INTERNAL_SERVICE_TOKEN"`

	CardIssuerPrefix   string        `envconfig:"CARD_ISSUER_PREFIX" default:"4"`
	IdempotencyTTL     time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
	RateLimitPerMinute int64         `envconfig:"RATE_LIMIT_PER_MINUTE" default:"60"`

	Database database.Config
	NATS     nats.Config
	Kafka    kafka.Config
	Redis    cache.Config
	Identity identity.Config
	Outbox   outbox.Config
	Retry    backoff.Config
	Cards    wallet.CardClientConfig
}

func main() {
	// a missing .env is fine; the environment wins either way
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to process config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, logger); err != nil {
		logger.Error("bankflow stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("bankflow stopped")
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MigrateOnStart {
		if err := migrations.Up(cfg.Database.URL, logger); err != nil {
			return err
		}
	}

	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	bus, err := openBus(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer bus.close()

	var redis *cache.Cache
	if cfg.Redis.Enabled() {
		redis, err = cache.New(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer redis.Close()
	}

	var directory identity.Directory = identity.NewClient(cfg.Identity)
	var cachedDirectory *identity.CachedDirectory
	if redis != nil {
		cachedDirectory = identity.NewCachedDirectory(directory, redis, cfg.Redis.TTL, logger)
		directory = cachedDirectory
	}

	app := newStages(cfg, db, directory, logger)
	if cachedDirectory != nil {
		app.subscribe("identity", cachedDirectory.Routes())
	}

	relay := outbox.NewRelay(outbox.NewPostgresStore(db), bus, cfg.Outbox, logger)
	app.subscribe(outbox.Group, relay.Routes())

	g, gctx := errgroup.WithContext(ctx)

	for _, c := range app.consumers {
		c := c
		g.Go(func() error {
			if err := bus.Consume(gctx, c.sub, c.handler); err != nil && gctx.Err() == nil {
				return fmt.Errorf("consumer %s: %w", c.sub.Name(), err)
			}
			return nil
		})
	}

	g.Go(func() error { return relay.Run(gctx) })

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      newRouter(cfg, app, db, bus, redis, directory, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g.Go(func() error {
		logger.Info("starting bankflow",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"stages", cfg.Stages,
			"bus", cfg.BusDriver,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newRouter(cfg Config, app *stages, db *database.DB, bus *eventBus, redis *cache.Cache, directory identity.Directory, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", middleware.HeaderCorrelationID, middleware.HeaderOwnerID,
			middleware.HeaderOwnerSecret, middleware.HeaderIdempotencyKey, middleware.HeaderServiceToken},
		ExposedHeaders: []string{middleware.HeaderCorrelationID},
		MaxAge:         300,
	}))
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Logger(logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.HealthCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := bus.healthCheck(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"not ready"}`))
			return
		}
		if redis != nil {
			if err := redis.HealthCheck(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"not ready"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Handle("/metrics", promhttp.Handler())

	var verify middleware.CredentialVerifier
	if cfg.AuthRequired {
		verify = directory.VerifyCredential
	}
	owner := middleware.Owner(verify)

	walletMW := []func(http.Handler) http.Handler{owner}
	if redis != nil {
		walletMW = append(walletMW,
			middleware.RateLimit(cache.NewFixedWindowLimiter(redis, cfg.RateLimitPerMinute, time.Minute)),
			middleware.Idempotency(cache.NewIdempotencyStore(redis), cfg.IdempotencyTTL, logger),
		)
	}

	r.Route("/api/v1", func(r chi.Router) {
		app.mount(r, owner, walletMW)
	})

	if cfg.InternalToken == "" {
		logger.Warn("INTERNAL_SERVICE_TOKEN not set, internal routes refuse every caller")
	}
	r.Route("/internal/v1", func(r chi.Router) {
		app.mountInternal(r, middleware.ServiceToken(cfg.InternalToken))
	})

	return r
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
