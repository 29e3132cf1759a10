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

	"github.com/congo-pay/custody-gateway/internal/config"
	"github.com/congo-pay/custody-gateway/internal/ledger"
	"github.com/congo-pay/custody-gateway/internal/middleware"
	"github.com/congo-pay/custody-gateway/internal/monitor"
	"github.com/congo-pay/custody-gateway/internal/notification"
	"github.com/congo-pay/custody-gateway/internal/payments"
	"github.com/congo-pay/custody-gateway/internal/wallet"
)

// CycleReporter exposes the reconciliation monitor's latest cycle.
type CycleReporter interface {
	LastCycle() (monitor.CycleResult, bool)
}

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger

	Store    ledger.Store
	Ledger   *ledger.Ledger
	Chains   ledger.Chains
	Vault    wallet.Vault
	Notifier notification.Notifier
	Monitor  CycleReporter
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Store == nil || d.Ledger == nil {
		return fmt.Errorf("ledger store is required")
	}
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Notifier == nil {
		d.Notifier = notification.NewLoggerNotifier(d.Logger)
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	walletSvc := wallet.NewService(d.Store, d.Chains, d.Vault, d.Logger, d.Cfg.ChainCallTimeout)
	paymentSvc := payments.NewService(d.Ledger, d.Notifier, d.Logger)
	walletHandler := wallet.NewHandler(walletSvc)
	paymentHandler := payments.NewHandler(paymentSvc)

	idempotent := func(c *fiber.Ctx) error { return c.Next() }
	if d.Cache != nil {
		idempotent = middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	} else {
		d.Logger.Warn("redis not configured, idempotency keys are not enforced")
	}

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterWalletRoutes(api, walletHandler)
	RegisterPaymentRoutes(api, paymentHandler, idempotent)

	return nil
}
