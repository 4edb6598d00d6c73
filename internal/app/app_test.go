package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/viper"

	"github.com/jobrunner/geodb-openeo/internal/config"
	"github.com/jobrunner/geodb-openeo/internal/domain"
)

func testConfig(t *testing.T, modify func(*config.Config)) *config.Config {
	t.Helper()
	v := viper.New()
	config.Defaults(v)
	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if modify != nil {
		modify(&cfg)
	}
	return &cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewGeoDBProvider(t *testing.T) {
	a, err := New(context.Background(), testConfig(t, nil), discardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if a.Registry != nil || a.Repository != nil {
		t.Error("geodb provider should not set up GeoPackages")
	}
	if a.Server.TLSEnabled() {
		t.Error("TLS should be disabled by default")
	}

	details := a.Health.GetHealthDetails(context.Background())
	if details.Provider != config.ProviderGeoDB {
		t.Errorf("provider = %q", details.Provider)
	}
	if _, ok := details.Components["geodb"]; !ok {
		t.Errorf("components = %v, want geodb check", details.Components)
	}

	rr := httptest.NewRecorder()
	a.HTTPServer.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/.well-known/openeo", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("GET /.well-known/openeo = %d", rr.Code)
	}
}

func TestNewWithMetrics(t *testing.T) {
	a, err := New(context.Background(), testConfig(t, func(c *config.Config) {
		c.Metrics.Enabled = true
	}), discardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if a.Metrics == nil {
		t.Fatal("metrics collector missing")
	}

	rr := httptest.NewRecorder()
	a.HTTPServer.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("GET /metrics = %d", rr.Code)
	}
}

func TestNewGeoPackageProvider(t *testing.T) {
	dir := t.TempDir()
	a, err := New(context.Background(), testConfig(t, func(c *config.Config) {
		c.Provider.Type = config.ProviderGeoPackage
		c.GeoPackage.Dir = dir
	}), discardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = a.Shutdown(context.Background()) }()

	if a.Registry == nil || a.Repository == nil {
		t.Fatal("GeoPackage components missing")
	}
	if a.Sync != nil {
		t.Error("local storage should not be synced")
	}
	if err := a.checkPackages(context.Background()); !errors.Is(err, domain.ErrNotReady) {
		t.Errorf("checkPackages() before load = %v, want ErrNotReady", err)
	}
	if a.Health.IsReady(context.Background()) {
		t.Error("service should not be ready before packages are loaded")
	}

	if err := a.Registry.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	a.loaded.Store(true)
	if err := a.checkPackages(context.Background()); err != nil {
		t.Errorf("checkPackages() after load = %v", err)
	}
}

func TestNewRejectsUnknownStorage(t *testing.T) {
	_, err := New(context.Background(), testConfig(t, func(c *config.Config) {
		c.Provider.Type = config.ProviderGeoPackage
		c.GeoPackage.Storage.Type = "ftp"
	}), discardLogger())

	var cfgErr *domain.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("New() error = %v, want ConfigError", err)
	}
}

func TestOIDCProviders(t *testing.T) {
	if got := oidcProviders(config.OIDCConfig{}); got != nil {
		t.Errorf("empty config = %v, want nil", got)
	}
	got := oidcProviders(config.OIDCConfig{ID: "BC", Issuer: "https://example.org/auth", Scopes: []string{"openid"}})
	if len(got) != 1 || got[0].ID != "BC" || got[0].Scopes[0] != "openid" {
		t.Errorf("providers = %+v", got)
	}
}
