package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/lumipay/lumipay/internal/cards"
	"github.com/lumipay/lumipay/internal/config"
	"github.com/lumipay/lumipay/internal/history"
	"github.com/lumipay/lumipay/internal/idgen"
	"github.com/lumipay/lumipay/internal/ledger"
	"github.com/lumipay/lumipay/internal/middleware"
	"github.com/lumipay/lumipay/internal/notification"
	"github.com/lumipay/lumipay/internal/payments"
	"github.com/lumipay/lumipay/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg        config.Config
	DB         *pgxpool.Pool
	Cache      *redis.Client
	Dispatcher *notification.Dispatcher
	Sealer     *cards.Sealer
	Logger     *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.IsDevelopment() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Sealer == nil {
		return fmt.Errorf("card sealer is required")
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	var (
		store    ledger.Store
		cardRepo cards.Repository
	)
	storeOpts := []ledger.Option{ledger.WithOperationTimeout(d.Cfg.OperationTimeout)}
	if d.DB != nil {
		store = ledger.NewPostgresStore(d.DB, storeOpts...)
		cardRepo = cards.NewPostgresRepository(d.DB)
	} else {
		store = ledger.NewInMemory(storeOpts...)
		cardRepo = cards.NewMemoryRepository()
	}

	ids := idgen.New()
	walletSvc := wallet.NewService(store, ids, wallet.Options{
		OpeningBalance: d.Cfg.WalletOpeningBalance,
		MaxAttempts:    d.Cfg.IDMaxAttempts,
	}, d.Logger)
	paymentSvc := payments.NewService(store, ids, d.Dispatcher, d.Logger, d.Cfg.IDMaxAttempts)
	cardSvc := cards.NewService(store, cardRepo, ids, d.Sealer, d.Dispatcher, d.Logger, cards.Options{
		IssuanceFee: d.Cfg.CardIssuanceFee,
		DailyLimit:  d.Cfg.CardDailyLimit,
		MaxActive:   d.Cfg.CardMaxActive,
		MaxAttempts: d.Cfg.IDMaxAttempts,
	})
	historySvc := history.NewService(store, d.Cfg.HistoryPageSize, d.Cfg.HistoryMaxPageSize)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals(middleware.RequestIDHeader).(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	protected := api.Group("", middleware.JWTAuth(d.Cfg.JWTSecret))
	if d.Cache != nil {
		protected.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	RegisterWalletRoutes(protected, wallet.NewHandler(walletSvc))
	RegisterTransferRoutes(protected, payments.NewHandler(paymentSvc),
		middleware.RateLimit(d.Cache, "transfers", d.Cfg.TransferRateLimit, d.Logger))
	RegisterHistoryRoutes(protected, history.NewHandler(historySvc))
	RegisterCardRoutes(protected, cards.NewHandler(cardSvc))

	return nil
}
