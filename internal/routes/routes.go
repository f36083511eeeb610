package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/upi_settle/internal/account"
	"github.com/congo-pay/upi_settle/internal/auth"
	"github.com/congo-pay/upi_settle/internal/codec"
	"github.com/congo-pay/upi_settle/internal/config"
	"github.com/congo-pay/upi_settle/internal/identity"
	"github.com/congo-pay/upi_settle/internal/ids"
	"github.com/congo-pay/upi_settle/internal/ledger"
	"github.com/congo-pay/upi_settle/internal/middleware"
	"github.com/congo-pay/upi_settle/internal/notification"
	"github.com/congo-pay/upi_settle/internal/secret"
	"github.com/congo-pay/upi_settle/internal/settlement"
	"github.com/congo-pay/upi_settle/internal/store"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg      config.Config
	DB       *pgxpool.Pool
	Cache    *redis.Client
	Logger   *slog.Logger
	Notifier notification.Notifier
	// Backend overrides the store chosen from DB; tests inject one.
	Backend Backend
}

// Backend is the persistence surface the services run on.
type Backend interface {
	account.Repository
	ledger.Store
	settlement.UnitOfWork
}

// NewBackend selects Postgres when a pool is configured and the in-memory
// store otherwise.
func NewBackend(ctx context.Context, db *pgxpool.Pool) (Backend, error) {
	if db == nil {
		return store.NewMemory(), nil
	}
	if err := store.EnsureSchema(ctx, db); err != nil {
		return nil, err
	}
	return store.NewPostgres(db), nil
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though config also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	backend := d.Backend
	if backend == nil {
		var err error
		if backend, err = NewBackend(ctx, d.DB); err != nil {
			return err
		}
	}

	// Services and handlers
	hasher := secret.NewBcrypt(d.Cfg.BcryptCost)
	gen := ids.New(nil)
	accountSvc := account.NewService(backend, hasher, gen)
	ledgerSvc := ledger.NewService(backend, d.Logger, d.Cfg.HaltOnTamper)

	// Chain anything a crashed or legacy writer left behind, then check the
	// chain once so a tampered ledger is reported at boot.
	if _, err := ledgerSvc.Reconcile(ctx); err != nil {
		return fmt.Errorf("reconcile ledger: %w", err)
	}
	if _, err := ledgerSvc.Verify(ctx); err != nil {
		return fmt.Errorf("verify ledger: %w", err)
	}

	notifier := d.Notifier
	if notifier == nil {
		notifier = notification.NewLoggerNotifier(d.Logger)
	}
	merchantCodec, err := codec.NewSealed(d.Cfg.MerchantCodecKey)
	if err != nil {
		return err
	}
	resolver, err := identity.NewResolver(backend, hasher)
	if err != nil {
		return err
	}
	settlementSvc := settlement.NewService(backend, accountSvc, resolver, settlement.Options{
		IDs:        gen,
		Notifier:   notifier,
		Logger:     d.Logger,
		Halt:       ledgerSvc,
		IDAttempts: d.Cfg.IDAttempts,
	})
	authSvc := auth.NewService(accountSvc, hasher, d.Cfg.JWTSecret, d.Cfg.AccessTokenTTL, d.Cfg.RefreshTokenTTL)

	accountHandler := account.NewHandler(accountSvc)
	codecHandler := codec.NewHandler(merchantCodec, accountSvc)
	settlementHandler := settlement.NewHandler(settlementSvc, merchantCodec)
	ledgerHandler := ledger.NewHandler(ledgerSvc)
	authHandler := auth.NewHandler(authSvc)

	// Health
	RegisterHealthRoutes(app, d, ledgerSvc)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.GetRequestID(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	jwtmw := middleware.JWTAuth(authSvc)
	RegisterAuthRoutes(api, authHandler, middleware.AttemptLimit(d.Cache, "login", "account_id", d.Cfg.PINAttemptsPerMinute))
	RegisterAccountRoutes(api, accountHandler, codecHandler, jwtmw)

	// Replays are answered before the PIN limiter sees them.
	var guards []fiber.Handler
	if d.Cache != nil {
		guards = append(guards, middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	guards = append(guards, middleware.AttemptLimit(d.Cache, "pin", "mmid", d.Cfg.PINAttemptsPerMinute))
	RegisterSettlementRoutes(api, settlementHandler, codecHandler, ledgerHandler, guards...)

	return nil
}
