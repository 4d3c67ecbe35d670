// Package app assembles the engine: configuration, stores, domain services,
// HTTP transport and the expiry scheduler, all under one lifecycle.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"trialguard/internal/config"
	"trialguard/internal/guard"
	"trialguard/internal/infrastructure"
	"trialguard/internal/ledger"
	custommw "trialguard/internal/middleware"
	"trialguard/internal/notify"
	"trialguard/internal/scheduler"
	"trialguard/internal/services"
	transporthttp "trialguard/internal/transport/http"
	"trialguard/internal/trial"
)

// Version is set at build time via -ldflags
var (
	Version   = "dev"
	BuildTime = ""
)

// Application is the dependency container for the whole engine
type Application struct {
	Config      *config.Config
	Logger      *slog.Logger
	Router      *chi.Mux
	Server      *http.Server
	LedgerStore *ledger.Store
	TrialStore  *trial.Store
	Scheduler   *scheduler.Scheduler
	OTel        *infrastructure.OTelProviders
}

// New builds the application from configuration
func New(cfg *config.Config) (*Application, error) {
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.DefaultOTelConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	metrics, err := infrastructure.NewMetrics(otelProviders.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	ledgerStore, err := ledger.NewStore(
		ledger.NewFileStore(cfg.Guard.LedgerFile, cfg.Guard.FingerprintArchive), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open abuse ledger: %w", err)
	}

	trialStore, err := trial.NewStore(cfg.Trial.DatabaseFile)
	if err != nil {
		ledgerStore.Close()
		return nil, fmt.Errorf("failed to open trial store: %w", err)
	}

	g := guard.New(ledgerStore, logger,
		guard.WithFailClosed(cfg.Guard.FailClosed),
		guard.WithMetrics(metrics))

	registry := trial.NewRegistry(trialStore, ledgerStore, logger,
		trial.WithTrialDays(cfg.Trial.DefaultTrialDays, cfg.Trial.CourseTrialDays),
		trial.WithMetrics(metrics))

	notifier := notify.NewLogNotifier(logger)
	sched, err := scheduler.New(cfg.Scheduler, trialStore, notifier, logger,
		scheduler.WithMetrics(metrics))
	if err != nil {
		ledgerStore.Close()
		trialStore.Close()
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	app := &Application{
		Config:      cfg,
		Logger:      logger,
		LedgerStore: ledgerStore,
		TrialStore:  trialStore,
		Scheduler:   sched,
		OTel:        otelProviders,
	}

	app.setupRouter(
		services.NewGuardService(g, logger),
		services.NewTrialService(registry, g, logger),
		services.NewLedgerService(ledgerStore, logger),
		services.NewHealthService(Version, BuildTime, ledgerStore, trialStore, logger))

	app.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      app.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return app, nil
}

func (a *Application) setupRouter(guardSvc *services.GuardService, trialSvc *services.TrialService, ledgerSvc *services.LedgerService, healthSvc *services.HealthService) {
	logger := a.Logger

	guardHandler := transporthttp.NewGuardHandler(guardSvc, logger)
	trialHandler := transporthttp.NewTrialHandler(trialSvc, logger)
	adminHandler := transporthttp.NewAdminHandler(trialSvc, ledgerSvc, logger)
	healthHandler := transporthttp.NewHealthHandler(healthSvc, logger)

	r := chi.NewRouter()

	r.Use(custommw.RequestID)
	r.Use(custommw.RealIP)
	r.Use(custommw.StructuredLogger(logger))
	r.Use(custommw.Recoverer(logger))
	if a.Config.Security.RateLimit.Enabled {
		rl := custommw.NewRateLimiter(a.Config.Security.RateLimit.RPS, a.Config.Security.RateLimit.Burst, logger)
		r.Use(rl.Handler)
	}
	r.Use(custommw.SecurityHeaders)
	r.Use(custommw.Compress(5))

	r.Route("/api", func(r chi.Router) {
		r.Post("/guard/check", guardHandler.Check)

		r.Route("/trials", func(r chi.Router) {
			r.Post("/", trialHandler.Start)
			r.Get("/status", trialHandler.Status)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/trials", adminHandler.ListTrials)
			r.Delete("/trials/{id}", adminHandler.DeleteTrial)
			r.Get("/ledger/suspicions", adminHandler.ListSuspicions)
			r.Get("/ledger/blocklist", adminHandler.ListBlocklist)
		})

		r.Get("/health", healthHandler.HealthCheck)
		r.Get("/health/ready", healthHandler.ReadinessCheck)
		r.Get("/health/live", healthHandler.LivenessCheck)
		r.Get("/version", healthHandler.Version)
	})

	r.Method(http.MethodGet, "/metrics", a.OTel.PrometheusHTTP)

	a.Router = r
}

// Run starts the HTTP server and the scheduler, blocking until a shutdown
// signal arrives or one of them fails
func (a *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		a.Logger.Info("http server starting", slog.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		err := a.Scheduler.Run(ctx)
		if err == context.Canceled {
			return nil
		}
		return err
	})

	group.Go(func() error {
		<-ctx.Done()
		return a.shutdown()
	})

	err := group.Wait()
	a.Logger.Info("application stopped")
	return err
}

func (a *Application) shutdown() error {
	a.Logger.Info("shutting down",
		slog.Duration("timeout", a.Config.Server.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()

	var firstErr error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error("http server shutdown failed", slog.String("error", err.Error()))
		firstErr = err
	}

	a.Scheduler.Stop()
	a.LedgerStore.Close()

	if err := a.TrialStore.Close(); err != nil {
		a.Logger.Warn("trial store close failed", slog.String("error", err.Error()))
	}
	if err := a.OTel.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
	}
	infrastructure.CloseLogFile()

	return firstErr
}
