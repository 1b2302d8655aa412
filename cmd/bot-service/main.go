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

	"github.com/getsentry/sentry-go"

	"approve-bot/internal/config"
	"approve-bot/internal/db"
	"approve-bot/internal/gates/razorpay"
	"approve-bot/internal/health"
	"approve-bot/internal/lock"
	"approve-bot/internal/metrics"
	"approve-bot/internal/paytest"
	"approve-bot/internal/plans"
	"approve-bot/internal/scheduler"
	"approve-bot/internal/subscription"
	"approve-bot/internal/telegram"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:     slog.LevelInfo,
		AddSource: true,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting bot-service", "version", "1.0.0", "pid", os.Getpid())

	cfg := config.Load()
	slog.Info("Configuration loaded",
		"db_driver", cfg.DBDriver,
		"health_addr", cfg.HealthAddr,
		"payments_configured", cfg.PaymentsConfigured(),
		"has_redis", cfg.RedisAddr != "",
		"has_super_admin", cfg.SuperAdminID != "",
		"has_bot_token", cfg.BotToken != "",
	)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Release:          "approve-bot@1.0.0",
			AttachStacktrace: true,
		})
		if err != nil {
			slog.Warn("Sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	metrics.InitMetrics()

	repo, err := db.NewRepository(cfg.DBDriver, cfg.DBDsn)
	if err != nil {
		slog.Error("Failed to initialize database repository", "error", err, "driver", cfg.DBDriver)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("Database repository initialized successfully")

	if err := repo.AutoMigrate(); err != nil {
		slog.Error("Database migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database migrations completed successfully")

	catalog := plans.FromConfig(cfg)

	rzp, err := razorpay.NewFromConfig(cfg)
	if err != nil {
		slog.Error("Failed to create Razorpay client", "error", err)
		os.Exit(1)
	}

	// keep the interfaces nil, not typed-nil, when payments are off
	var provider subscription.Provider
	var prober scheduler.Prober
	var startupProber paytest.Prober
	if rzp != nil {
		provider, prober, startupProber = rzp, rzp, rzp
	} else {
		slog.Warn("Razorpay credentials missing, purchases are disabled")
	}

	opts := []subscription.Option{
		subscription.WithTimeout(cfg.ProviderTimeout),
		subscription.WithCurrency(cfg.Currency),
		subscription.WithBrand(cfg.BrandName),
		subscription.WithDefaultDuration(cfg.PlanDurationDays),
	}

	if cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rdb, err := lock.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		cancel()
		if err != nil {
			slog.Warn("Continuing without purchase lock", "error", err)
		} else {
			defer rdb.Close()
			opts = append(opts, subscription.WithLocker(lock.NewRedisLocker(rdb, 0)))
			slog.Info("Purchase lock enabled", "redis_addr", cfg.RedisAddr)
		}
	}

	engine := subscription.NewEngine(repo, provider, opts...)

	telegramService, err := telegram.New(cfg, repo, engine, catalog)
	if err != nil {
		slog.Error("Failed to create Telegram service", "error", err)
		os.Exit(1)
	}
	slog.Info("Telegram service created successfully")

	sched := scheduler.NewScheduler(repo, telegramService.Bot(), prober, cfg)

	healthServer := health.NewServer(cfg.HealthAddr, repo)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Health server failed", "error", err)
		}
	}()
	defer func() {
		slog.Info("Stopping health server")
		if err := healthServer.Stop(); err != nil {
			slog.Error("Failed to stop health server", "error", err)
		}
	}()

	if err := sched.Start(); err != nil {
		slog.Error("Failed to start scheduler", "error", err)
		slog.Warn("Continuing without scheduler")
	} else {
		defer func() {
			slog.Info("Stopping scheduler")
			sched.Stop()
		}()
	}

	go func() {
		startup := paytest.NewIntegrationTest(repo, startupProber, cfg.ProviderTimeout, telegramService.NotifyAdmin)
		if err := startup.RunStartupTest(ctx); err != nil {
			slog.Warn("Startup checks reported problems", "error", err)
		}
	}()

	slog.Info("Starting Telegram bot...")
	if err := telegramService.Start(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Info("Telegram bot stopped by signal")
		} else {
			slog.Error("Telegram bot failed", "error", err)
			os.Exit(1)
		}
	}

	slog.Info("Bot service shutdown completed")
}
