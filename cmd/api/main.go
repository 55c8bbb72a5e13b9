package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/redis/go-redis/v9"

	"github.com/rhenofebrian/fullstack-bank-app-sub000/internal/adapter/handler"
	"github.com/rhenofebrian/fullstack-bank-app-sub000/internal/adapter/middleware"
	"github.com/rhenofebrian/fullstack-bank-app-sub000/internal/adapter/storage"
	"github.com/rhenofebrian/fullstack-bank-app-sub000/internal/core/config"
	"github.com/rhenofebrian/fullstack-bank-app-sub000/internal/core/domain"
	"github.com/rhenofebrian/fullstack-bank-app-sub000/internal/core/engine"
	"github.com/rhenofebrian/fullstack-bank-app-sub000/internal/core/security"
	"github.com/rhenofebrian/fullstack-bank-app-sub000/internal/core/worker"
)

func main() {
	// 1. Config and logger
	cfg := config.LoadConfig()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if cfg.JWTSecret == "" {
		slog.Error("❌ JWT_SECRET is not set")
		os.Exit(1)
	}

	// 2. Database
	dbPool, err := storage.ConnectDB(cfg.DatabaseURL)
	if err != nil {
		slog.Error("❌ Database connection failed", "error", err)
		os.Exit(1)
	}
	if err := storage.Migrate(context.Background(), dbPool); err != nil {
		slog.Error("❌ Schema migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("✅ Connected to Postgres")

	// 3. Optional Redis for the idempotency fast path
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Warn("Invalid REDIS_URL, idempotency cache disabled", "error", err)
		} else {
			rdb = redis.NewClient(opts)
		}
	}

	// 4. Repos, engine, handlers
	accountRepo := storage.NewAccountRepository(dbPool)
	ledgerRepo := storage.NewLedgerRepository(dbPool, cfg.WebhookURL)
	tokens := security.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL)

	var feePolicy domain.FeePolicy = domain.NoFee
	if cfg.TransferFee > 0 {
		feePolicy = domain.FlatFeeForStandard(cfg.TransferFee)
	}
	transferEngine := engine.NewService(accountRepo, ledgerRepo, feePolicy)

	authHandler := &handler.AuthHandler{Repo: accountRepo, Tokens: tokens}
	accountHandler := &handler.AccountHandler{Repo: accountRepo}
	transferHandler := &handler.TransferHandler{Service: transferEngine}

	// 5. Fiber
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	// 6. Routes
	api := app.Group("/v1")

	// Public
	api.Post("/auth/register", authHandler.Register)
	api.Post("/auth/login", authHandler.Login)

	// Protected
	private := api.Use(middleware.Protected(tokens))
	private.Get("/accounts/me", accountHandler.Me)
	private.Post("/transfers", middleware.Idempotency(rdb), transferHandler.Create)
	private.Get("/transfers/history", transferHandler.History)

	// Admin
	admin := private.Group("/admin", middleware.AdminOnly())
	admin.Get("/accounts", accountHandler.List)
	admin.Post("/accounts/:id/adjust", accountHandler.Adjust)
	admin.Delete("/accounts/:id", accountHandler.Delete)

	// 7. Background notification worker
	workerStop := make(chan struct{})
	worker.StartNotificationWorker(dbPool, cfg.WebhookSecret, workerStop)

	// 8. Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("🚀 Server starting", "env", cfg.Env, "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("Server forced to shutdown", "error", err)
		}
	}()

	<-stop
	slog.Info("🛑 Shutting down server...")

	close(workerStop)

	if err := app.Shutdown(); err != nil {
		slog.Error("Server shutdown failed", "error", err)
	}

	dbPool.Close()
	if rdb != nil {
		rdb.Close()
	}
	slog.Info("👋 Server exited successfully")
}
