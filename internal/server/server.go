package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/lumipay/lumipay/internal/cards"
	"github.com/lumipay/lumipay/internal/config"
	"github.com/lumipay/lumipay/internal/httpx"
	"github.com/lumipay/lumipay/internal/notification"
	"github.com/lumipay/lumipay/internal/routes"
)

const notificationTimeout = 5 * time.Second

// Server wraps the Fiber application and shared dependencies.
type Server struct {
	app        *fiber.App
	cfg        config.Config
	dispatcher *notification.Dispatcher
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
// A nil notifier logs notifications instead of publishing them.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, notifier notification.Notifier, sealer *cards.Sealer, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: httpx.ErrorHandler(logger),
	})

	if notifier == nil {
		notifier = notification.NewLoggerNotifier(logger)
	}
	dispatcher := notification.NewDispatcher(notifier, logger, notificationTimeout)

	err := routes.Setup(app, routes.Deps{
		Cfg:        cfg,
		DB:         db,
		Cache:      cache,
		Dispatcher: dispatcher,
		Sealer:     sealer,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg, dispatcher: dispatcher}, nil
}

// App exposes the underlying Fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown stops accepting requests and then waits for in-flight notifications.
func (s *Server) Shutdown(ctx context.Context) error {
	httpErr := s.app.ShutdownWithContext(ctx)
	return errors.Join(httpErr, s.dispatcher.Close(ctx))
}
