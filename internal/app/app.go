package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"licensekit/internal/config"
	apierrors "licensekit/internal/errors"
	"licensekit/internal/infrastructure"
	"licensekit/internal/license"
	customMiddleware "licensekit/internal/middleware"
	"licensekit/internal/services"
	"licensekit/internal/storage"
	handlers "licensekit/internal/transport/http"
	"licensekit/internal/updater"
	"licensekit/pkg/contracts"
)

// maxRequestBody bounds activation and deactivation payloads
const maxRequestBody = 64 << 10

// Application represents the license authority and everything it owns
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Metrics       *infrastructure.LicenseMetrics
	Store         storage.Store
	Catalog       *updater.Catalog
	Guard         *license.Guard
	RateLimiter   *customMiddleware.RateLimiter
	ErrorHandler  *apierrors.ErrorHandler
	Services      *ServiceContainer
}

// ServiceContainer holds all application services
type ServiceContainer struct {
	License services.LicenseService
	Update  services.UpdateService
	Health  *services.HealthService
}

// NewApplication wires the authority from cfg. The caller owns logger
// initialization; a nil logger falls back to the infrastructure logger.
func NewApplication(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	a := &Application{
		Config:       cfg,
		Logger:       logger,
		ErrorHandler: apierrors.NewErrorHandler(logger, cfg.Logging.Development),
	}

	otelCfg := infrastructure.OTelConfigFromTelemetry(cfg.Telemetry)
	providers, err := infrastructure.InitializeOTel(otelCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	a.OTelProviders = providers

	metrics, err := infrastructure.CreateLicenseMetrics(providers.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create license metrics: %w", err)
	}
	a.Metrics = metrics

	if err := a.initializeServices(context.Background()); err != nil {
		a.release(context.Background())
		return nil, err
	}

	a.setupRouter()
	a.createServer()

	return a, nil
}

// initializeServices opens the store and builds the services on top of it
func (a *Application) initializeServices(ctx context.Context) error {
	store, err := storage.Open(a.Config.Store, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to open entitlement store: %w", err)
	}
	a.Store = store

	if a.Config.Store.SeedFile != "" {
		n, err := storage.Seed(ctx, store, a.Config.Store.SeedFile, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to seed licenses: %w", err)
		}
		a.Logger.InfoContext(ctx, "licenses seeded", slog.Int("count", n))
	}

	catalog, err := a.loadCatalog()
	if err != nil {
		return err
	}
	a.Catalog = catalog
	a.verifyPackages(ctx)

	var guard services.KeyGuard
	if a.Config.Security.Guard.Enabled {
		a.Guard = license.NewGuard(license.GuardConfig{
			MaxFailures:   a.Config.Security.Guard.MaxFailures,
			Window:        a.Config.Security.Guard.Window,
			BlockDuration: a.Config.Security.Guard.BlockDuration,
		}, a.Logger)
		guard = a.Guard
	}

	controller := license.NewController(store, license.WithLogger(a.Logger))
	resolver := updater.NewResolver(
		controller,
		catalog,
		updater.NewFilePackageStore(a.Config.Updates.PackagesDir),
		a.Config.Server.PublicURL,
		a.Logger,
	)

	a.Services = &ServiceContainer{
		License: services.NewLicenseService(controller, guard, a.Metrics, a.Logger),
		Update:  services.NewUpdateService(resolver, guard, a.Metrics, a.Logger),
		Health:  services.NewHealthService(store, catalog, a.Logger),
	}
	return nil
}

// loadCatalog reads the release catalog. A missing file yields an empty
// catalog so the license endpoints still serve.
func (a *Application) loadCatalog() (*updater.Catalog, error) {
	path := a.Config.Updates.CatalogFile
	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			a.Logger.Warn("release catalog not found; update endpoints report no releases",
				slog.String("path", path))
			path = ""
		}
	}

	catalog, err := updater.LoadCatalog(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load release catalog: %w", err)
	}
	a.Logger.Info("release catalog loaded",
		slog.String("path", path),
		slog.Int("products", len(catalog.Products())))
	return catalog, nil
}

// verifyPackages warns about catalog entries whose archive is missing or
// unreadable. Downloads of those releases fail with 500 until fixed.
func (a *Application) verifyPackages(ctx context.Context) {
	for _, slug := range a.Catalog.Products() {
		release, ok := a.Catalog.Lookup(slug)
		if !ok {
			continue
		}
		path := filepath.Join(a.Config.Updates.PackagesDir, release.Package)
		if err := updater.VerifyArchive(path); err != nil {
			a.Logger.WarnContext(ctx, "release package failed verification",
				slog.String("product", slug),
				slog.String("version", release.LatestVersion),
				slog.String("error", err.Error()))
		}
	}
}

// setupRouter configures the middleware chain and routes.
// Order: RequestID → RealIP → OTel → Logger → Recoverer → RateLimit → Timeout
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)
	r.Use(customMiddleware.NewOTelMiddleware(a.OTelProviders.Tracer, a.Metrics).Handler)
	r.Use(customMiddleware.StructuredLogger(a.Logger))
	r.Use(a.ErrorHandler.Recoverer)
	r.Use(customMiddleware.SecurityHeaders)

	if a.Config.Security.EnableCORS {
		r.Use(customMiddleware.CORS(customMiddleware.CORSConfig{
			AllowedOrigins: a.Config.Security.AllowedOrigins,
			Logger:         a.Logger,
		}))
	}

	r.NotFound(a.ErrorHandler.NotFound)
	r.MethodNotAllowed(a.ErrorHandler.MethodNotAllowed)

	healthHandler := handlers.NewHealthHandler(a.Services.Health, a.ErrorHandler, a.Logger)
	r.Group(func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Get("/health", healthHandler.HealthCheck)
		r.Get("/health/ready", healthHandler.ReadinessCheck)
		r.Get("/health/live", healthHandler.LivenessCheck)
		r.Get("/version", healthHandler.Version)
	})

	r.Group(func(r chi.Router) {
		if a.Config.Security.RateLimit.Enabled {
			a.RateLimiter = customMiddleware.NewRateLimiter(
				a.Config.Security.RateLimit.RPS,
				a.Config.Security.RateLimit.Burst,
				a.Logger,
			)
			r.Use(a.RateLimiter.Handler)
		}
		r.Use(customMiddleware.Timeout(a.Config.Server.RequestTimeout))
		r.Use(customMiddleware.MaxBodySize(maxRequestBody))
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Mount("/license", handlers.NewLicenseHandler(a.Services.License, a.ErrorHandler, a.Logger).Routes())
		r.Mount("/update", handlers.NewUpdateHandler(a.Services.Update, a.ErrorHandler, a.Logger).Routes())
	})

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	a.Router = r
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:           a.Router,
		ReadTimeout:       a.Config.Server.ReadTimeout,
		ReadHeaderTimeout: a.Config.Server.ReadTimeout,
		WriteTimeout:      a.Config.Server.WriteTimeout,
		IdleTimeout:       a.Config.Server.IdleTimeout,
		MaxHeaderBytes:    a.Config.Server.MaxHeaderBytes,
	}
}

// Start starts serving in the background. cancel is called if the listener
// fails.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "Starting license authority",
		slog.String("name", config.AppName),
		slog.String("version", contracts.Version),
		slog.Int("port", a.Config.Server.Port),
		slog.String("store", a.Config.Store.Driver),
		slog.String("public_url", a.Config.Server.PublicURL))

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.ErrorContext(ctx, "Server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	return nil
}

// Stop gracefully stops the application
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down license authority")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var shutdownErr error
	if a.Server != nil {
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}
	}

	a.release(shutdownCtx)

	a.Logger.InfoContext(ctx, "License authority shutdown complete")
	return shutdownErr
}

// release stops background workers and closes the store and telemetry
func (a *Application) release(ctx context.Context) {
	if a.RateLimiter != nil {
		a.RateLimiter.Stop()
	}
	if a.Guard != nil {
		a.Guard.Stop()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.ErrorContext(ctx, "Error closing entitlement store", slog.String("error", err.Error()))
		}
	}
	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(ctx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}
}

// ReloadCatalog re-reads the release catalog and re-verifies its packages.
// On error the previous catalog stays in effect.
func (a *Application) ReloadCatalog(ctx context.Context) error {
	if err := a.Catalog.Reload(); err != nil {
		a.Logger.ErrorContext(ctx, "release catalog reload failed", slog.String("error", err.Error()))
		return err
	}
	a.Logger.InfoContext(ctx, "release catalog reloaded", slog.Int("products", len(a.Catalog.Products())))
	a.verifyPackages(ctx)
	return nil
}

// Run serves until SIGINT or SIGTERM. SIGHUP reloads the release catalog.
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	var runErr error
	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				_ = a.ReloadCatalog(ctx)
				continue
			}
			a.Logger.InfoContext(ctx, "Received shutdown signal", slog.String("signal", sig.String()))
		case <-ctx.Done():
			runErr = errors.New("server stopped unexpectedly")
		}
		break
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout+time.Second)
	defer stopCancel()
	return errors.Join(runErr, a.Stop(stopCtx))
}
