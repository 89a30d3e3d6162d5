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

	"consult-platform/internal/audit"
	"consult-platform/internal/auth"
	"consult-platform/internal/availability"
	"consult-platform/internal/billing"
	"consult-platform/internal/config"
	"consult-platform/internal/httpapi"
	"consult-platform/internal/media"
	"consult-platform/internal/pricing"
	"consult-platform/internal/reporting"
	"consult-platform/internal/wallet"
	"consult-platform/pkg/logger"
	"consult-platform/pkg/monitoring"
	"consult-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	metrics := monitoring.NewMetricsCollector()

	walletSvc := wallet.NewService(db)
	pricingSvc := pricing.NewService(pricing.NewPostgresRepo(db))
	availSvc := availability.NewService(availability.NewRedisStore(rdb, cfg.Billing.BusyTTL))
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))

	engine := billing.NewEngine(
		billing.NewPostgresStore(db),
		wallet.NewCallLedger(walletSvc, cfg.Billing.Currency),
		pricing.NewRateSource(pricingSvc),
		availSvc,
		metrics,
		log,
		billing.Config{
			TickInterval:         cfg.Billing.TickInterval,
			ProviderSharePercent: cfg.Billing.ProviderSharePercent,
			MinBalanceMinutes:    cfg.Billing.MinBalanceMinutes,
			PendingTimeout:       cfg.Billing.PendingTimeout,
		},
	)

	reportsSvc := reporting.NewService(reporting.NewPostgresRepo(db))

	health := monitoring.NewHealthChecker("consult-api")
	health.AddCheck("postgres", monitoring.DatabaseHealthCheck(db))
	health.AddCheck("redis", monitoring.RedisHealthCheck(rdb))

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.Use(metrics.MetricsMiddleware())

	handlers := httpapi.Handlers{
		Auth:         authManager,
		Engine:       engine,
		Wallet:       walletSvc,
		Reports:      reportsSvc,
		Availability: availSvc,
		Audit:        auditSvc,
	}
	webhook := media.WebhookHandler{Engine: engine, Token: cfg.RTC.WebhookToken}

	registerRoutes(r, handlers, webhook,
		auth.RequireAccessToken(authManager),
		wallet.RequireSufficientBalance(walletSvc),
		health, metrics)

	// Background sweep: cancel calls that never connected in time.
	go func() {
		t := time.NewTicker(cfg.Billing.SweepInterval)
		defer t.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-t.C:
				n, err := engine.SweepStaleCalls(rootCtx)
				if err != nil {
					log.Warn("stale call sweep failed", "err", err)
					continue
				}
				if n > 0 {
					log.Info("stale calls swept", "count", n)
				}
			}
		}
	}()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	// Settle live tickers before the process exits so no metered second is
	// left uncommitted.
	if err := engine.Shutdown(shutdownCtx); err != nil {
		log.Error("billing shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
