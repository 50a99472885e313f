package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/lumipay/lumipay/internal/cards"
	"github.com/lumipay/lumipay/internal/config"
	"github.com/lumipay/lumipay/internal/infra"
	"github.com/lumipay/lumipay/internal/ledger"
	"github.com/lumipay/lumipay/internal/logging"
	"github.com/lumipay/lumipay/internal/notification"
	"github.com/lumipay/lumipay/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.AppName+"-api")
	if err := run(cfg, logger); err != nil {
		logger.Error("api exited", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("server exited cleanly")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.AppName)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := ledger.Migrate(ctx, pool); err != nil {
			return err
		}
		db = pool
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory ledger")
	}

	cache, closeCache, err := openCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	var notifier notification.Notifier
	if cfg.RabbitMQURL != "" {
		mq, err := infra.NewRabbitMQ(cfg.RabbitMQURL, cfg.AppName+"-api")
		if err != nil {
			return err
		}
		defer func() {
			if err := mq.Close(); err != nil {
				logger.Warn("close rabbitmq", slog.Any("error", err))
			}
		}()
		publisher, err := notification.NewRabbitPublisher(mq.Channel)
		if err != nil {
			return err
		}
		notifier = publisher
	} else {
		logger.Warn("RABBITMQ_URL not set, notifications are logged only")
	}

	var sealer *cards.Sealer
	if cfg.CardSecretKey != "" {
		sealer, err = cards.NewSealer(cfg.CardSecretKey)
	} else {
		logger.Warn("CARD_SECRET_KEY not set, sealed card codes will not survive a restart")
		sealer, err = cards.NewEphemeralSealer()
	}
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, db, cache, notifier, sealer, logger)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-srvErrCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openCache connects to Redis, or in development starts an in-process stand-in.
func openCache(ctx context.Context, cfg config.Config, logger *slog.Logger) (*redis.Client, func(), error) {
	if cfg.RedisURL != "" {
		cache, err := infra.NewRedisClient(ctx, cfg.RedisURL, cfg.AppName+"-api")
		if err != nil {
			return nil, nil, err
		}
		return cache, func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", slog.Any("error", err))
			}
		}, nil
	}

	logger.Warn("REDIS_URL not set, using in-process redis")
	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start in-process redis: %w", err)
	}
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return cache, func() {
		_ = cache.Close()
		mr.Close()
	}, nil
}
