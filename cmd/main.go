package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"referral_service/internal/auth"
	"referral_service/internal/config"
	"referral_service/internal/http_server/router"
	"referral_service/internal/lib/hasher"
	"referral_service/internal/lib/jwt"
	sl "referral_service/internal/lib/logger"
	"referral_service/internal/observability/metrics"
	"referral_service/internal/rabbitmq"
	"referral_service/internal/referral"
	"referral_service/internal/storage/postgres"
	"referral_service/internal/storage/redis"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	cfg := config.MustLoad()

	log := setupLogger(cfg.Env)

	log.Info("starting referral service", slog.String("env", cfg.Env))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !cfg.Postgres.SkipMigrate {
		if err := postgres.Migrate(cfg); err != nil {
			log.Error("failed to apply migrations", sl.Err(err))
			os.Exit(1)
		}
		log.Info("migrations applied")
	}

	storage, err := postgres.New(ctx, cfg)
	if err != nil {
		log.Error("failed to connect postgres", sl.Err(err))
		os.Exit(1)
	}
	defer storage.Close()

	health := map[string]router.Pinger{"postgres": storage}

	var cache referral.Cache
	if cfg.Redis.Address != "" {
		codeCache, err := redis.New(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Referral.CacheTTL)
		if err != nil {
			log.Error("failed to connect redis", sl.Err(err))
			os.Exit(1)
		}
		defer codeCache.Close()

		cache = codeCache
		health["redis"] = codeCache
	} else {
		log.Warn("redis address is empty, referral lookups are not cached")
	}

	var publisher auth.Publisher
	if cfg.RabbitMQ.URL != "" {
		msgBroker, err := rabbitmq.New(cfg.RabbitMQ.URL, cfg.RabbitMQ.QueueName)
		if err != nil {
			log.Error("failed to connect rabbitmq", sl.Err(err))
			os.Exit(1)
		}
		defer msgBroker.Close()

		publisher = msgBroker
	} else {
		log.Warn("rabbitmq url is empty, referral notifications are disabled")
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	authService := auth.New(
		log,
		storage,
		storage,
		storage,
		hasher.New(cfg.Hasher.Cost),
		jwt.NewManager(cfg.Tokens.Secret, cfg.Tokens.AccessTokenTTL),
		publisher,
	)

	referralService := referral.New(log, cfg.Referral, storage, storage, storage, cache)

	r := router.New(log, router.Deps{
		Auth:     authService,
		Referral: referralService,
		TokenTTL: cfg.Tokens.AccessTokenTTL,
		Health:   health,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      r,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		log.Info("HTTP server is running", slog.String("address", cfg.HTTPServer.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed", sl.Err(err))
			cancel()
		}
	}()

	<-ctx.Done()

	log.Info("Shutting down HTTP server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", sl.Err(err))
	} else {
		log.Info("Server stopped gracefully")
	}

	log.Info("Main service stopped")
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}
