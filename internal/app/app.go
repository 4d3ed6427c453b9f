// Package app wires configuration, storage, services, and the HTTP
// router into a runnable application.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"keymint/internal/config"
	"keymint/internal/db"
	"keymint/internal/db/migrate"
	"keymint/internal/infrastructure"
	"keymint/internal/license"
	customMiddleware "keymint/internal/middleware"
	"keymint/internal/ratelimit"
	"keymint/internal/services"
	handlers "keymint/internal/transport/http"
	"keymint/internal/usage"

	"keymint/internal/secrets"
)

// Version is set at build time via -ldflags
var Version = "dev"

// Application is the main application container
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	DB            *sql.DB
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Services      *ServiceContainer
}

// ServiceContainer holds the application service layer
type ServiceContainer struct {
	License services.LicenseService
	Usage   services.UsageService
	Health  services.HealthService
}

// NewApplication builds the full application from configuration
func NewApplication(cfg *config.Config) (*Application, error) {
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	otelCfg := infrastructure.DefaultOTelConfig()
	otelCfg.EnableTracing = cfg.Logging.Development
	providers, err := infrastructure.InitializeOTel(otelCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize opentelemetry: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: providers,
	}

	if err := app.initializeServices(); err != nil {
		return nil, err
	}

	app.setupRouter()
	app.createServer()

	return app, nil
}

// initializeServices builds the storage and domain layers
func (a *Application) initializeServices() error {
	ctx := context.Background()
	cfg := a.Config

	codec, err := secrets.NewCodec(cfg.Secrets.MasterKey, cfg.Secrets.KeyPepper, cfg.Secrets.RecoveryPepper)
	if err != nil {
		return fmt.Errorf("initialize secret codec: %w", err)
	}

	var (
		licenseStore license.Store
		usageStore   usage.Store
		pinger       services.Pinger
	)

	if cfg.Database.DSN != "" {
		if err := migrate.Run(cfg.Database.DSN, "up"); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}

		database, err := db.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		a.DB = database
		licenseStore = license.NewPostgresStore(database)
		usageStore = usage.NewPostgresStore(database)
		pinger = database
		a.Logger.InfoContext(ctx, "using postgres storage")
	} else {
		licenseStore = license.NewMemoryStore()
		usageStore = usage.NewMemoryStore()
		a.Logger.WarnContext(ctx, "no database configured, using in-memory storage")
	}

	metrics, err := license.NewMetrics()
	if err != nil {
		return fmt.Errorf("initialize license metrics: %w", err)
	}

	deliverer := &license.LogDeliverer{Logger: a.Logger}
	core := license.NewService(licenseStore, codec, deliverer, a.Logger, metrics, license.Options{
		MaxActivations:    cfg.License.MaxActivations,
		RecoveryCodeCount: cfg.License.RecoveryCodeCount,
	})

	meter, err := usage.NewMeter(usageStore, cfg.Usage.ExportLimit, a.Logger)
	if err != nil {
		return fmt.Errorf("initialize usage meter: %w", err)
	}

	a.Services = &ServiceContainer{
		License: services.NewLicenseService(core, a.Logger),
		Usage:   services.NewUsageService(meter),
		Health:  services.NewHealthService(pinger, Version),
	}

	return nil
}

// setupRouter configures the chi router and middleware chain
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)
	r.Use(customMiddleware.Identity)

	r.Group(func(r chi.Router) {
		otelMiddleware, err := customMiddleware.NewOTelMiddleware(a.OTelProviders)
		if err != nil {
			a.Logger.Error("failed to create OpenTelemetry middleware", slog.String("error", err.Error()))
		} else {
			r.Use(otelMiddleware.Handler)
		}

		r.Use(customMiddleware.StructuredLogger(a.Logger))
		r.Use(customMiddleware.Recoverer(a.Logger))
		r.Use(customMiddleware.SecurityHeaders)
		r.Use(customMiddleware.Compress(5))

		if a.Config.Security.RateLimit.Enabled {
			limiter := ratelimit.NewPerKey(a.Config.Security.RateLimit.RPS, a.Config.Security.RateLimit.Burst)
			r.Use(customMiddleware.RateLimit(limiter, a.Logger))
		}

		a.setupAPIRoutes(r)
	})

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	a.Router = r
}

// setupAPIRoutes configures API endpoints
func (a *Application) setupAPIRoutes(r chi.Router) {
	validation := customMiddleware.NewValidationMiddleware(a.Logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(customMiddleware.Timeout(a.Config.Server.RequestTimeout, a.Logger))
		r.Use(validation.GuardBody)

		healthHandler := handlers.NewHealthHandler(a.Services.Health, a.Logger)
		r.Get("/health", healthHandler.Health)

		licenseHandler := handlers.NewLicenseHandler(a.Services.License, a.Logger)
		r.Mount("/license", licenseHandler.Routes())

		usageHandler := handlers.NewUsageHandler(a.Services.Usage, a.Logger)
		r.Mount("/usage", usageHandler.Routes())

		webhookHandler := handlers.NewWebhookHandler(a.Services.License, a.Config.Security.WebhookSecret, a.Logger)
		r.Mount("/webhooks", webhookHandler.Routes())
	})
}

// createServer builds the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Start starts the HTTP server
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "starting application",
		slog.String("version", Version),
		slog.Int("port", a.Config.Server.Port),
		slog.String("level", a.Config.Logging.Level))

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.ErrorContext(ctx, "server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	a.Logger.InfoContext(ctx, "application started",
		slog.String("address", fmt.Sprintf("http://localhost:%d", a.Config.Server.Port)))

	return nil
}

// Stop gracefully stops the application
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.ErrorContext(ctx, "error closing database", slog.String("error", err.Error()))
		}
	}

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}

	infrastructure.CloseLogFile()

	a.Logger.InfoContext(ctx, "application shutdown complete")
	return nil
}

// Run runs the application until interrupted
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	select {
	case sig := <-sigChan:
		a.Logger.Info("received signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
	}

	return a.Stop(context.Background())
}
