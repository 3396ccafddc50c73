/**
 * @description
 * This is the main entry point for the payroll-service.
 * It wires configuration, the Postgres pool, the Grid and Solana clients, the
 * notification producer and the optional Redis rate limiter, then serves the
 * HTTP API until it receives a termination signal.
 */
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/transfa/payroll-service/internal/api"
	"github.com/transfa/payroll-service/internal/app"
	"github.com/transfa/payroll-service/internal/config"
	"github.com/transfa/payroll-service/internal/store"
	"github.com/transfa/payroll-service/migrations"
	"github.com/transfa/payroll-service/pkg/chainclient"
	"github.com/transfa/payroll-service/pkg/gridclient"
	"github.com/transfa/payroll-service/pkg/rabbitmq"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	if cfg.InternalAPIKey == "" {
		logger.Warn("INTERNAL_API_KEY is not set; internal sync endpoint will refuse requests")
	}

	ctx := context.Background()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = cfg.DatabaseMaxConns
	poolConfig.MinConns = minConns(cfg.DatabaseMaxConns)
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	// Disable prepared statement caching to stay compatible with transaction poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	if cfg.DatabaseAutoMigrate {
		if err := migrations.Apply(ctx, dbpool); err != nil {
			logger.Error("failed to apply migrations", "error", err)
			os.Exit(1)
		}
		logger.Info("database migrations applied")
	}

	gridClient := gridclient.NewClient(cfg.GridAPIBaseURL, cfg.GridAPIKey, cfg.GridRequestTimeout())
	gridClient.Logger = logger

	var publisher rabbitmq.Publisher
	producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Warn("failed to create RabbitMQ producer; notifications will be skipped", "error", err)
		publisher = &rabbitmq.EventProducerFallback{Logger: logger}
	} else {
		publisher = producer
		logger.Info("RabbitMQ producer connected")
	}
	defer publisher.Close()

	service := app.NewService(
		store.NewPostgresRepository(dbpool),
		gridClient,
		chainclient.NewVerifier(cfg.SolanaRPCURL),
		publisher,
		logger,
		app.Options{
			Currency:             cfg.PayrollCurrency,
			NotificationExchange: cfg.NotificationExchange,
			GatewayMaxAttempts:   cfg.GatewayMaxAttempts,
			GatewayRetryBackoff:  cfg.GatewayRetryBackoff(),
			ConfirmAttempts:      cfg.SignatureConfirmAttempts,
			ConfirmBackoff:       cfg.SignatureConfirmBackoff(),
			SyncConcurrency:      cfg.SyncConcurrency,
			WriteRateLimit:       cfg.WriteRateLimit,
			WriteRateLimitWindow: cfg.WriteRateLimitWindow(),
			IdempotencyTTL:       cfg.IdempotencyTTL(),
		},
	)

	redisClient, err := connectRedis(ctx, cfg.RedisURL)
	switch {
	case err != nil:
		logger.Warn("redis unavailable; write rate limiting disabled", "error", err)
	case redisClient != nil:
		defer redisClient.Close()
		service.SetRateLimiter(app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix))
		logger.Info("redis rate limiter enabled", "prefix", cfg.RedisRateLimitPrefix, "limit", cfg.WriteRateLimit, "window", cfg.WriteRateLimitWindow())
	default:
		logger.Info("REDIS_URL not set; write rate limiting disabled")
	}

	handler := api.NewHandler(service, logger)
	router := api.NewRouter(handler, api.AuthConfig{
		JWKSURL:  cfg.AuthJWKSURL,
		Audience: cfg.AuthAudience,
		Issuer:   cfg.AuthIssuer,
	}, cfg.InternalAPIKey)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("payroll-service starting", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("could not start server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	logger.Info("server exiting")
}

// connectRedis returns nil without error when no URL is configured.
func connectRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	if rawURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func minConns(maxConns int32) int32 {
	if maxConns <= 4 {
		return 1
	}
	return maxConns / 4
}
