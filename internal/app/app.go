// Package app provides application initialization and wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jobrunner/geodb-openeo/internal/adapters/geodb"
	"github.com/jobrunner/geodb-openeo/internal/adapters/geopackage"
	httpAdapter "github.com/jobrunner/geodb-openeo/internal/adapters/http"
	"github.com/jobrunner/geodb-openeo/internal/adapters/metrics"
	"github.com/jobrunner/geodb-openeo/internal/adapters/storage"
	tlsAdapter "github.com/jobrunner/geodb-openeo/internal/adapters/tls"
	"github.com/jobrunner/geodb-openeo/internal/adapters/watcher"
	"github.com/jobrunner/geodb-openeo/internal/application"
	"github.com/jobrunner/geodb-openeo/internal/config"
	"github.com/jobrunner/geodb-openeo/internal/domain"
	"github.com/jobrunner/geodb-openeo/internal/ports/output"
)

// App holds all application components.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Metrics    *metrics.Collector
	Catalog    *application.CatalogService
	Processing *application.ProcessingService
	Health     *application.HealthService
	HTTPServer *httpAdapter.Server
	Server     *tlsAdapter.Server

	// GeoPackage provider only
	Repository  *geopackage.Repository
	Registry    *application.PackageRegistry
	Transformer *geopackage.Transformer
	Sync        *application.SyncService
	Watcher     *watcher.Watcher

	loaded atomic.Bool
}

// New creates and initializes a new application.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	var collector output.MetricsCollector = &output.NoOpMetrics{}
	var httpMetrics httpAdapter.Metrics
	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewCollector(nil, metrics.DefaultNamespace)
		collector = app.Metrics
		httpMetrics = app.Metrics
	}

	var checks map[string]application.ComponentCheck
	var factory output.ProviderFactory
	switch cfg.Provider.Type {
	case config.ProviderGeoPackage:
		f, err := app.initGeoPackages(ctx, collector)
		if err != nil {
			return nil, err
		}
		factory = f
		checks = map[string]application.ComponentCheck{"geopackages": app.checkPackages}
	default:
		client := geodb.NewClient(geodb.Config{
			URL:             cfg.GeoDB.URL,
			Port:            cfg.GeoDB.Port,
			Timeout:         cfg.GeoDB.Timeout,
			Retries:         cfg.GeoDB.Retries,
			RetryWait:       cfg.GeoDB.RetryWait,
			BreakerFailures: cfg.GeoDB.Breaker.Failures,
			BreakerTimeout:  cfg.GeoDB.Breaker.Timeout,
			BreakerHalfOpen: cfg.GeoDB.Breaker.HalfOpen,
		}, collector, logger)
		factory = geodb.NewProviderFactory(client)
		checks = map[string]application.ComponentCheck{"geodb": client.Check}
		app.loaded.Store(true)
	}

	cubeOpts := application.CubeOptions{
		DimensionCacheSize: cfg.Cache.Dimensions,
		PageCacheSize:      cfg.Cache.Pages,
		FeatureCacheSize:   cfg.Cache.Features,
		Metrics:            collector,
	}

	connections := application.NewConnectionCache(factory, collector, logger, application.ConnectionCacheConfig{
		Capacity: cfg.Cache.Connections,
		TTL:      cfg.Cache.ConnectionTTL,
	})

	catalog, err := application.NewCatalogService(connections, collector, logger, application.CatalogServiceConfig{
		CubeCacheSize: cfg.Cache.Cubes,
		Cube:          cubeOpts,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing catalog: %w", err)
	}
	app.Catalog = catalog
	if app.Registry != nil {
		// Cached cubes may describe packages that changed on disk.
		app.Registry.OnChange(catalog.Reset)
	}

	processes, err := application.NewDefaultProcessRegistry()
	if err != nil {
		return nil, fmt.Errorf("loading processes: %w", err)
	}
	app.Processing = application.NewProcessingService(processes, catalog, cubeOpts, collector, logger)

	capabilities := application.NewCapabilitiesService(application.BackendInfo{
		ID:             cfg.API.ID,
		Title:          cfg.API.Title,
		Description:    cfg.API.Description,
		URL:            cfg.API.URL,
		APIVersion:     cfg.API.APIVersion,
		BackendVersion: cfg.API.BackendVersion,
		OIDC:           oidcProviders(cfg.Auth.OIDC),
	})

	app.Health = application.NewHealthService(cfg.Provider.Type, catalog)
	for name, check := range checks {
		app.Health.AddCheck(name, check)
	}

	app.HTTPServer = httpAdapter.NewServer(httpAdapter.Config{
		Server:      cfg.Server,
		STAC:        cfg.STAC,
		Auth:        cfg.Auth,
		MetricsPath: cfg.Metrics.Path,
	}, httpAdapter.Services{
		Catalog:      catalog,
		Processing:   app.Processing,
		Capabilities: capabilities,
		Health:       app.Health,
	}, httpMetrics, logger)

	server, err := tlsAdapter.NewServer(tlsAdapter.Config{
		Enabled:  cfg.TLS.Enabled,
		Domains:  cfg.TLS.Domains,
		Email:    cfg.TLS.Email,
		CacheDir: cfg.TLS.CacheDir,
		Staging:  cfg.TLS.Staging,
		DNS: tlsAdapter.DNSConfig{
			SubscriptionID:    cfg.TLS.DNS.SubscriptionID,
			ResourceGroupName: cfg.TLS.DNS.ResourceGroupName,
			ClientID:          cfg.TLS.DNS.ClientID,
		},
	}, app.HTTPServer, tlsAdapter.Timeouts{
		Read:  cfg.Server.ReadTimeout,
		Write: cfg.Server.WriteTimeout,
		Idle:  cfg.Server.IdleTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing server: %w", err)
	}
	app.Server = server

	return app, nil
}

// initGeoPackages wires storage, repository and registry of the
// GeoPackage provider. Every token shares the same registry.
func (a *App) initGeoPackages(ctx context.Context, collector output.MetricsCollector) (output.ProviderFactory, error) {
	cfg := a.Config.GeoPackage

	store, err := storage.New(ctx, storage.Config{
		Type:      output.StorageType(cfg.Storage.Type),
		LocalPath: cfg.Dir,
		S3: storage.S3Config{
			Bucket:          cfg.Storage.S3.Bucket,
			Region:          cfg.Storage.S3.Region,
			Prefix:          cfg.Storage.S3.Prefix,
			Endpoint:        cfg.Storage.S3.Endpoint,
			AccessKeyID:     cfg.Storage.S3.AccessKeyID,
			SecretAccessKey: cfg.Storage.S3.SecretAccessKey,
		},
		Azure: storage.AzureConfig{
			Container:        cfg.Storage.Azure.Container,
			AccountName:      cfg.Storage.Azure.AccountName,
			AccountKey:       cfg.Storage.Azure.AccountKey,
			ConnectionString: cfg.Storage.Azure.ConnectionString,
			Prefix:           cfg.Storage.Azure.Prefix,
		},
		HTTP: storage.HTTPConfig{
			BaseURL:   cfg.Storage.HTTP.BaseURL,
			IndexFile: cfg.Storage.HTTP.IndexFile,
			Timeout:   cfg.Storage.HTTP.Timeout,
			Retries:   cfg.Storage.HTTP.Retries,
			Username:  cfg.Storage.HTTP.Username,
			Password:  cfg.Storage.HTTP.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}

	geopackage.RegisterSpatiaLite(cfg.SpatiaLitePath)
	var transformer output.BBoxTransformer
	if t, err := geopackage.NewTransformer(ctx); err != nil {
		a.Logger.Warn("SpatiaLite unavailable, bounding boxes are not reprojected", "error", err)
	} else {
		a.Transformer = t
		transformer = t
	}

	a.Repository = geopackage.NewRepository(transformer, a.Logger)
	a.Registry = application.NewPackageRegistry(a.Repository, store, transformer, collector, a.Logger, cfg.Dir)

	if cfg.SyncInterval > 0 && cfg.Storage.Type != string(output.StorageTypeLocal) {
		a.Sync = application.NewSyncService(a.Registry, cfg.SyncInterval, a.Logger)
	}

	if cfg.Watch {
		w, err := watcher.New(watcher.Config{
			Paths:    []string{cfg.Dir},
			Debounce: cfg.WatchDebounce,
		}, a.handleFileEvents, a.Logger)
		if err != nil {
			a.Logger.Warn("failed to initialize file watcher", "error", err)
		} else {
			a.Watcher = w
		}
	}

	registry := a.Registry
	return func(context.Context, string) (output.VectorCubeProvider, error) {
		return registry, nil
	}, nil
}

// Start loads packages, starts background services and serves requests
// until the server is shut down.
func (a *App) Start(ctx context.Context) error {
	if a.Registry != nil {
		if err := a.Registry.LoadAll(ctx); err != nil {
			a.Logger.Warn("failed to load packages", "error", err)
		}
		a.loaded.Store(true)
		a.Logger.Info("packages loaded", "count", a.Registry.PackageCount())
	}

	if a.Sync != nil {
		a.Sync.Start(ctx)
	}

	if a.Watcher != nil {
		if err := a.Watcher.Start(ctx); err != nil {
			a.Logger.Warn("failed to start file watcher", "error", err)
		}
	}

	if err := a.Server.ManageCertificates(ctx); err != nil {
		return fmt.Errorf("obtaining certificates: %w", err)
	}
	a.Logger.Info("server listening", "address", a.Config.Server.Address(), "tls", a.Server.TLSEnabled())
	return a.Server.ListenAndServe(a.Config.Server.Address())
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	if a.Watcher != nil {
		_ = a.Watcher.Stop()
	}
	if a.Sync != nil {
		a.Sync.Stop()
	}

	var errs []error
	if err := a.Server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	if a.Repository != nil {
		if err := a.Repository.CloseAll(); err != nil {
			errs = append(errs, fmt.Errorf("closing packages: %w", err))
		}
	}
	if a.Transformer != nil {
		if err := a.Transformer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing transformer: %w", err))
		}
	}
	return errors.Join(errs...)
}

// handleFileEvents applies a batch of package file changes.
func (a *App) handleFileEvents(ctx context.Context, events []watcher.Event) {
	for _, event := range events {
		a.Logger.Info("file event", "path", event.Path, "operation", event.Operation.String())

		var err error
		switch event.Operation {
		case watcher.OpCreate, watcher.OpModify:
			err = a.Registry.ReloadPackage(ctx, event.Path)
		case watcher.OpDelete:
			err = a.Registry.UnloadPackage(ctx, geopackage.DerivePackageID(event.Path))
		}
		if err != nil {
			a.Logger.Warn("failed to apply file event", "path", event.Path, "error", err)
		}
	}
}

// checkPackages reports not ready until the initial load finished.
func (a *App) checkPackages(_ context.Context) error {
	if !a.loaded.Load() {
		return domain.ErrNotReady
	}
	return nil
}

func oidcProviders(cfg config.OIDCConfig) []application.OIDCProvider {
	if cfg.ID == "" || cfg.Issuer == "" {
		return nil
	}
	return []application.OIDCProvider{{
		ID:          cfg.ID,
		Issuer:      cfg.Issuer,
		Title:       cfg.Title,
		Description: cfg.Description,
		Scopes:      cfg.Scopes,
	}}
}
