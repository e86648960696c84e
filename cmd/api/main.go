package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/buildappswith/booking-engine/internal/api/router"
	"github.com/buildappswith/booking-engine/internal/bookings"
	appconfig "github.com/buildappswith/booking-engine/internal/config"
	"github.com/buildappswith/booking-engine/internal/events"
	"github.com/buildappswith/booking-engine/internal/faults"
	"github.com/buildappswith/booking-engine/internal/http/handlers"
	"github.com/buildappswith/booking-engine/internal/lifecycle"
	"github.com/buildappswith/booking-engine/internal/observability/metrics"
	"github.com/buildappswith/booking-engine/internal/recovery"
	"github.com/buildappswith/booking-engine/internal/secure"
	"github.com/buildappswith/booking-engine/pkg/logging"
)

func main() {
	// Load .env in development; production injects real env vars.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting booking-engine API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	box, err := secure.NewBox(secure.Keys{
		EncryptionKey: cfg.BookingEncryptionKey,
		SigningKey:    cfg.StateTokenSigningKey,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize encryption", "error", err)
		os.Exit(1)
	}

	machine := lifecycle.NewMachine(logger)
	bookingMetrics := metrics.NewBookingMetrics(prometheus.DefaultRegisterer)

	// Storage: Postgres when configured, in-memory for local development.
	var store bookings.Store
	if cfg.DatabaseURL != "" {
		retryOpts := recovery.RetryOptions{
			MaxRetries:   cfg.RetryMaxAttempts,
			InitialDelay: cfg.RetryInitialDelay,
			MaxDelay:     cfg.RetryMaxDelay,
			Multiplier:   cfg.RetryMultiplier,
		}
		pool, err := recovery.Retry(context.Background(), logger, retryOpts, func(ctx context.Context) (*pgxpool.Pool, error) {
			pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return nil, err
			}
			if err := pool.Ping(ctx); err != nil {
				pool.Close()
				return nil, faults.Tag(err, faults.CategoryDatabase)
			}
			return pool, nil
		})
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		store = bookings.NewRepository(pool, box, logger)
		logger.Info("using postgres booking store")
	} else {
		store = bookings.NewInMemoryStore()
		logger.Warn("DATABASE_URL not set; using in-memory booking store")
	}

	// Webhook dedup ledger: disabled without Redis.
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		redisClient = redis.NewClient(opts)
		defer func() { _ = redisClient.Close() }()
		logger.Info("webhook deduplication enabled", "redis_addr", cfg.RedisAddr)
	} else {
		logger.Warn("REDIS_ADDR not set; webhook deduplication disabled")
	}
	ledger := events.NewLedger(redisClient, cfg.WebhookDedupTTL)

	service := bookings.NewService(store, machine, bookingMetrics, logger)
	recoveryMgr := recovery.NewManager(store, machine, box, bookingMetrics, cfg.PublicBaseURL, logger)

	r := router.New(&router.Config{
		Logger:             logger,
		BookingsHandler:    handlers.NewBookingsHandler(service, recoveryMgr, logger),
		AdminHandler:       handlers.NewAdminHandler(service, logger),
		StripeWebhook:      bookings.NewStripeWebhookHandler(cfg.StripeWebhookSecret, service, ledger, logger),
		CalendlyWebhook:    bookings.NewCalendlyWebhookHandler(cfg.CalendlyWebhookSecret, service, ledger, logger),
		AdminAuthSecret:    cfg.AdminJWTSecret,
		MetricsHandler:     promhttp.Handler(),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
