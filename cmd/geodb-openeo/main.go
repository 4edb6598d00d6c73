// Package main provides the entry point of the geoDB openEO backend.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jobrunner/geodb-openeo/internal/app"
	"github.com/jobrunner/geodb-openeo/internal/config"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd(viper.New()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "geodb-openeo",
		Short: "openEO backend for geoDB vector collections",
		Long: `geodb-openeo serves vector collections through the openEO and STAC APIs.

Collections come from a geoDB PostgREST service or from GeoPackage files
held locally, on AWS S3, on Azure Blob Storage or behind plain HTTP.

Features:
  - STAC collections and items with paging and bbox filters
  - Synchronous process graphs (load_collection, aggregate_temporal, ...)
  - Token pass-through to geoDB
  - Hot-reload of GeoPackages
  - TLS with automatic certificate management
  - Prometheus metrics`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd.Context(), v, cfgFile)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "json", "log format (json, text)")

	serve := root.Flags()
	serve.String("host", "0.0.0.0", "server host")
	serve.Int("port", 8080, "server port")
	serve.String("base-url", "", "public base URL used in links")
	serve.String("provider", config.ProviderGeoDB, "collection provider (geodb, geopackage)")
	serve.String("geodb-url", "http://localhost", "geoDB PostgREST URL")
	serve.Int("geodb-port", 3000, "geoDB PostgREST port")
	serve.String("geopackage-dir", "./data", "GeoPackage directory")
	serve.Bool("watch", false, "reload GeoPackages on file changes")
	serve.StringSlice("cors", nil, "allowed CORS origins (e.g., https://editor.openeo.org,*.example.com)")
	serve.Bool("metrics", false, "expose Prometheus metrics")
	serve.Bool("tls", false, "enable TLS")
	serve.StringSlice("tls-domains", nil, "TLS domains")
	serve.String("tls-email", "", "TLS email for Let's Encrypt")

	bindings := map[string]string{
		"logging.level":               "log-level",
		"logging.format":              "log-format",
		"server.host":                 "host",
		"server.port":                 "port",
		"server.base_url":             "base-url",
		"provider.type":               "provider",
		"geodb.url":                   "geodb-url",
		"geodb.port":                  "geodb-port",
		"geopackage.dir":              "geopackage-dir",
		"geopackage.watch":            "watch",
		"server.cors.allowed_origins": "cors",
		"metrics.enabled":             "metrics",
		"tls.enabled":                 "tls",
		"tls.domains":                 "tls-domains",
		"tls.email":                   "tls-email",
	}
	for key, name := range bindings {
		flag := root.Flags().Lookup(name)
		if flag == nil {
			flag = root.PersistentFlags().Lookup(name)
		}
		_ = v.BindPFlag(key, flag)
	}

	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "geodb-openeo %s\n", version)
			fmt.Fprintf(out, "  Commit:     %s\n", commit)
			fmt.Fprintf(out, "  Build Date: %s\n", buildDate)
		},
	}
}

func runServer(ctx context.Context, v *viper.Viper, cfgFile string) error {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting geodb-openeo",
		"version", version,
		"provider", cfg.Provider.Type,
		"address", cfg.Server.Address(),
	)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- application.Start(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case runErr = <-serverErr:
		if runErr != nil {
			logger.Error("server error", "error", runErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		if runErr == nil {
			runErr = err
		}
	}

	logger.Info("server stopped")
	return runErr
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
