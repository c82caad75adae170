package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/nexacare/nexacare/internal/config"
	"github.com/nexacare/nexacare/internal/domain/appointment"
	"github.com/nexacare/nexacare/internal/platform/auth"
	"github.com/nexacare/nexacare/internal/platform/db"
	"github.com/nexacare/nexacare/internal/platform/events"
	"github.com/nexacare/nexacare/internal/platform/metrics"
	"github.com/nexacare/nexacare/internal/platform/middleware"
)

// deps are the long-lived collaborators a server is built from.
type deps struct {
	repo      appointment.Repository
	publisher events.Publisher
	pool      *pgxpool.Pool
	registry  *prometheus.Registry
}

func runServer(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}
	cfg.WarnIfDev()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d := deps{registry: prometheus.NewRegistry()}
	d.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	switch cfg.Store {
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")
		d.pool = pool
		d.repo = appointment.NewRepoPG(pool)
	case config.StoreMemory:
		logger.Warn().Msg("using in-memory appointment store; data is lost on restart")
		d.repo = appointment.NewMemoryRepository()
	}

	pub, closePub, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closePub()
	d.publisher = pub

	e, err := newServer(cfg, logger, d)
	if err != nil {
		return err
	}

	addr := ":" + cfg.Port
	go func() {
		logger.Info().Str("addr", addr).Str("store", cfg.Store).Str("events", cfg.EventsSink).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newPublisher builds the configured event sink. The returned func releases
// any client it opened.
func newPublisher(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (events.Publisher, func(), error) {
	switch cfg.EventsSink {
	case config.SinkRedis:
		client, err := newRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return events.NewRedisStreamPublisher(client, cfg.EventsStream, cfg.EventsMaxLen), func() { _ = client.Close() }, nil
	case config.SinkSQS:
		client, err := events.NewSQSClient(ctx, cfg.AWSRegion, cfg.AWSEndpointURL)
		if err != nil {
			return nil, nil, err
		}
		return events.NewSQSPublisher(client, cfg.EventsQueueURL), func() {}, nil
	default:
		return events.NewLogPublisher(logger), func() {}, nil
	}
}

func newRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// newServer wires middleware, auth and routes. It never touches the network.
func newServer(cfg *config.Config, logger zerolog.Logger, d deps) (*echo.Echo, error) {
	policy, err := policyFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	httpMetrics := metrics.NewHTTPMetrics(d.registry)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(httpMetrics.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	if cfg.AuthIssuer != "" || cfg.AuthSigningKey != "" {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	} else {
		e.Use(auth.DevAuthMiddleware())
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "store": cfg.Store})
	})
	if d.pool != nil {
		e.GET("/health/db", db.HealthHandler(d.pool))
	}
	e.GET("/metrics", metrics.Handler(d.registry))

	rl := middleware.RateLimitConfig{RequestsPerSecond: cfg.RateLimitRPS, BurstSize: cfg.RateLimitBurst}
	if rl.RequestsPerSecond <= 0 {
		rl = middleware.DefaultRateLimitConfig()
	}
	apiV1 := e.Group("/api/v1", middleware.RateLimit(rl))

	svc := appointment.NewService(d.repo, policy,
		appointment.WithPublisher(d.publisher),
		appointment.WithMetrics(metrics.NewAppointmentMetrics(d.registry)),
		appointment.WithLogger(logger.With().Str("component", "appointment").Logger()),
	)
	appointment.NewHandler(svc).RegisterRoutes(apiV1)

	return e, nil
}
