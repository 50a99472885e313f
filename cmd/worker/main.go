package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lumipay/lumipay/internal/audit"
	"github.com/lumipay/lumipay/internal/config"
	"github.com/lumipay/lumipay/internal/infra"
	"github.com/lumipay/lumipay/internal/logging"
)

func main() {
	cfg, err := config.LoadWorker()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.AppName+"-audit-worker")
	if err := run(cfg, logger); err != nil {
		logger.Error("worker exited", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker exited cleanly")
}

func run(cfg config.WorkerConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := infra.NewMongoClient(connectCtx, cfg.MongoURL)
	if err != nil {
		return err
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
		defer cancel()
		if err := client.Disconnect(disconnectCtx); err != nil {
			logger.Warn("disconnect mongo", slog.Any("error", err))
		}
	}()

	mq, err := infra.NewRabbitMQ(cfg.RabbitMQURL, cfg.AppName+"-audit-worker")
	if err != nil {
		return err
	}
	defer func() {
		if err := mq.Close(); err != nil {
			logger.Warn("close rabbitmq", slog.Any("error", err))
		}
	}()

	consumer := audit.NewConsumer(audit.NewMongoStore(client, cfg.MongoDatabase), logger, 0)
	return consumer.Run(ctx, mq.Channel)
}
