// Package config provides configuration management using Viper.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/jobrunner/geodb-openeo/internal/domain"
)

// EnvPrefix prefixes environment variables, e.g. GEODB_OPENEO_SERVER_PORT.
const EnvPrefix = "GEODB_OPENEO"

// Provider types.
const (
	ProviderGeoDB      = "geodb"
	ProviderGeoPackage = "geopackage"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	API        APIConfig        `mapstructure:"api"`
	STAC       STACConfig       `mapstructure:"stac"`
	Provider   ProviderConfig   `mapstructure:"provider"`
	GeoDB      GeoDBConfig      `mapstructure:"geodb"`
	GeoPackage GeoPackageConfig `mapstructure:"geopackage"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Auth       AuthConfig       `mapstructure:"auth"`
	TLS        TLSConfig        `mapstructure:"tls"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string          `mapstructure:"host"`
	Port            int             `mapstructure:"port" validate:"min=1,max=65535"`
	BaseURL         string          `mapstructure:"base_url" validate:"omitempty,url"` // public URL, derived from the request when empty
	ReadTimeout     time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration   `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration   `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
	CORS            CORSConfig      `mapstructure:"cors"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"` // e.g., ["https://example.com", "*.sub.domain.tld"]
}

// Enabled returns true if CORS is configured with at least one allowed origin.
func (c *CORSConfig) Enabled() bool {
	return len(c.AllowedOrigins) > 0
}

// RateLimitConfig holds per client rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Rate    float64 `mapstructure:"rate" validate:"gte=0"`
	Burst   int     `mapstructure:"burst" validate:"gte=0"`
}

// APIConfig describes the backend in the capabilities document.
type APIConfig struct {
	ID             string `mapstructure:"id"`
	Title          string `mapstructure:"title"`
	Description    string `mapstructure:"description"`
	URL            string `mapstructure:"url"`
	APIVersion     string `mapstructure:"api_version"`
	BackendVersion string `mapstructure:"backend_version"`
}

// STACConfig bounds the item page size.
type STACConfig struct {
	DefaultItemsLimit int `mapstructure:"default_items_limit" validate:"min=1"`
	MinItemsLimit     int `mapstructure:"min_items_limit" validate:"min=1"`
	MaxItemsLimit     int `mapstructure:"max_items_limit" validate:"min=1"`
}

// ProviderConfig selects the vector cube provider.
type ProviderConfig struct {
	Type string `mapstructure:"type" validate:"oneof=geodb geopackage"`
}

// GeoDBConfig holds the PostgREST connection settings.
type GeoDBConfig struct {
	URL       string        `mapstructure:"url"`
	Port      int           `mapstructure:"port" validate:"gte=0,max=65535"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Retries   int           `mapstructure:"retries" validate:"gte=0"`
	RetryWait time.Duration `mapstructure:"retry_wait"`
	Breaker   BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig configures the circuit breaker around the remote store.
type BreakerConfig struct {
	Failures uint32        `mapstructure:"failures"`
	Timeout  time.Duration `mapstructure:"timeout"`
	HalfOpen uint32        `mapstructure:"half_open"`
}

// GeoPackageConfig holds the settings of the GeoPackage provider.
type GeoPackageConfig struct {
	Dir            string        `mapstructure:"dir"` // local directory holding the packages
	Storage        StorageConfig `mapstructure:"storage"`
	Watch          bool          `mapstructure:"watch"`
	WatchDebounce  time.Duration `mapstructure:"watch_debounce"`
	SyncInterval   time.Duration `mapstructure:"sync_interval"` // 0 disables periodic sync
	SpatiaLitePath string        `mapstructure:"spatialite_path"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	Type  string      `mapstructure:"type" validate:"omitempty,oneof=s3 azure http local"`
	S3    S3Config    `mapstructure:"s3"`
	Azure AzureConfig `mapstructure:"azure"`
	HTTP  HTTPConfig  `mapstructure:"http"`
}

// S3Config holds AWS S3 configuration.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string `mapstructure:"container"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	ConnectionString string `mapstructure:"connection_string"`
	Prefix           string `mapstructure:"prefix"`
}

// HTTPConfig holds HTTP download configuration.
type HTTPConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	IndexFile string        `mapstructure:"index_file"` // default: index.txt
	Timeout   time.Duration `mapstructure:"timeout"`
	Retries   int           `mapstructure:"retries"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
}

// CacheConfig sizes the in-memory caches.
type CacheConfig struct {
	Cubes         int           `mapstructure:"cubes" validate:"gte=0"`
	Dimensions    int           `mapstructure:"dimensions" validate:"gte=0"`
	Pages         int           `mapstructure:"pages" validate:"gte=0"`
	Features      int           `mapstructure:"features" validate:"gte=0"`
	Connections   int           `mapstructure:"connections" validate:"gte=0"`
	ConnectionTTL time.Duration `mapstructure:"connection_ttl"`
}

// AuthConfig controls how access tokens are obtained.
type AuthConfig struct {
	Required    bool       `mapstructure:"required"`
	StaticToken string     `mapstructure:"static_token"` // used when a request carries no token
	OIDC        OIDCConfig `mapstructure:"oidc"`
}

// OIDCConfig describes the identity provider offered to clients.
type OIDCConfig struct {
	ID          string   `mapstructure:"id"`
	Issuer      string   `mapstructure:"issuer" validate:"omitempty,url"`
	Title       string   `mapstructure:"title"`
	Description string   `mapstructure:"description"`
	Scopes      []string `mapstructure:"scopes"`
}

// TLSConfig holds TLS/CertMagic configuration.
type TLSConfig struct {
	Enabled  bool         `mapstructure:"enabled"`
	Domains  []string     `mapstructure:"domains"`
	Email    string       `mapstructure:"email" validate:"omitempty,email"`
	CacheDir string       `mapstructure:"cache_dir"`
	Staging  bool         `mapstructure:"staging"` // Use Let's Encrypt staging
	DNS      TLSDNSConfig `mapstructure:"dns"`
}

// TLSDNSConfig identifies the Azure DNS zone used for DNS-01 challenges.
type TLSDNSConfig struct {
	SubscriptionID    string `mapstructure:"subscription_id"`
	ResourceGroupName string `mapstructure:"resource_group_name"`
	ClientID          string `mapstructure:"client_id"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

// Defaults sets the default configuration values on v.
func Defaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.rate_limit.enabled", false)
	v.SetDefault("server.rate_limit.rate", 100.0)
	v.SetDefault("server.rate_limit.burst", 200)
	v.SetDefault("server.cors.allowed_origins", []string{})

	// API description
	v.SetDefault("api.id", "xcube-geodb-openeo")
	v.SetDefault("api.title", "xcube geoDB Server, openEO API")
	v.SetDefault("api.description", "Catalog of geoDB collections.")
	v.SetDefault("api.url", "")
	v.SetDefault("api.api_version", "1.1.0")
	v.SetDefault("api.backend_version", "")

	// STAC paging
	v.SetDefault("stac.default_items_limit", 10)
	v.SetDefault("stac.min_items_limit", 1)
	v.SetDefault("stac.max_items_limit", 10000)

	v.SetDefault("provider.type", ProviderGeoDB)

	// GeoDB defaults
	v.SetDefault("geodb.url", "http://localhost")
	v.SetDefault("geodb.port", 3000)
	v.SetDefault("geodb.timeout", 30*time.Second)
	v.SetDefault("geodb.retries", 3)
	v.SetDefault("geodb.retry_wait", 200*time.Millisecond)
	v.SetDefault("geodb.breaker.failures", 5)
	v.SetDefault("geodb.breaker.timeout", 30*time.Second)
	v.SetDefault("geodb.breaker.half_open", 1)

	// GeoPackage defaults
	v.SetDefault("geopackage.dir", "./data")
	v.SetDefault("geopackage.storage.type", "local")
	v.SetDefault("geopackage.storage.http.index_file", "index.txt")
	v.SetDefault("geopackage.storage.http.timeout", 5*time.Minute)
	v.SetDefault("geopackage.storage.http.retries", 3)
	v.SetDefault("geopackage.watch", false)
	v.SetDefault("geopackage.watch_debounce", 500*time.Millisecond)
	v.SetDefault("geopackage.sync_interval", time.Duration(0))
	v.SetDefault("geopackage.spatialite_path", "")

	// Cache defaults
	v.SetDefault("cache.cubes", 1024)
	v.SetDefault("cache.dimensions", 64)
	v.SetDefault("cache.pages", 256)
	v.SetDefault("cache.features", 1024)
	v.SetDefault("cache.connections", 256)
	v.SetDefault("cache.connection_ttl", 10*time.Minute)

	// Auth defaults
	v.SetDefault("auth.required", false)
	v.SetDefault("auth.static_token", "")
	v.SetDefault("auth.oidc.id", "BC")
	v.SetDefault("auth.oidc.issuer", "https://kc.brockmann-consult.de/auth/realms/bc-services")
	v.SetDefault("auth.oidc.title", "BC - xcube geoDB")
	v.SetDefault("auth.oidc.description", "Login with your xcube geoDB account.")
	v.SetDefault("auth.oidc.scopes", []string{"openid"})

	// TLS defaults
	v.SetDefault("tls.enabled", false)
	v.SetDefault("tls.cache_dir", "./.certmagic")
	v.SetDefault("tls.staging", false)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Load loads configuration from environment and config file. Values
// already set on v, such as bound command line flags, take precedence.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	Defaults(v)

	// Environment variable binding
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/geodb-openeo")
	}

	// Try to read config file (not required)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate checks struct tags first, then rules spanning several fields.
func (c *Config) Validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" {
			return fld.Name
		}
		return name
	})
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			e := fieldErrs[0]
			return &domain.ConfigError{
				Field:   strings.TrimPrefix(e.Namespace(), "Config."),
				Message: fmt.Sprintf("value %q failed %q validation", fmt.Sprint(e.Value()), e.ActualTag()),
			}
		}
		return err
	}

	stac := c.STAC
	if stac.MinItemsLimit > stac.DefaultItemsLimit || stac.DefaultItemsLimit > stac.MaxItemsLimit {
		return &domain.ConfigError{
			Field:   "stac",
			Message: fmt.Sprintf("items limits must satisfy min <= default <= max, got %d, %d, %d", stac.MinItemsLimit, stac.DefaultItemsLimit, stac.MaxItemsLimit),
		}
	}

	if c.TLS.Enabled {
		if len(c.TLS.Domains) == 0 {
			return &domain.ConfigError{Field: "tls.domains", Message: "TLS enabled but no domains specified"}
		}
		if c.TLS.Email == "" {
			return &domain.ConfigError{Field: "tls.email", Message: "TLS enabled but no email specified"}
		}
	}

	switch c.Provider.Type {
	case ProviderGeoDB:
		if c.GeoDB.URL == "" {
			return &domain.ConfigError{Field: "geodb.url", Message: "geoDB URL is required"}
		}
	case ProviderGeoPackage:
		return c.GeoPackage.validate()
	}

	return nil
}

func (c *GeoPackageConfig) validate() error {
	if c.Dir == "" {
		return &domain.ConfigError{Field: "geopackage.dir", Message: "package directory is required"}
	}

	s := c.Storage
	switch s.Type {
	case "", "local":
	case "s3":
		if s.S3.Bucket == "" {
			return &domain.ConfigError{Field: "geopackage.storage.s3.bucket", Message: "S3 bucket is required"}
		}
		if s.S3.Region == "" {
			return &domain.ConfigError{Field: "geopackage.storage.s3.region", Message: "S3 region is required"}
		}
	case "azure":
		if s.Azure.Container == "" {
			return &domain.ConfigError{Field: "geopackage.storage.azure.container", Message: "azure container is required"}
		}
		if s.Azure.AccountName == "" && s.Azure.ConnectionString == "" {
			return &domain.ConfigError{Field: "geopackage.storage.azure", Message: "azure account name or connection string is required"}
		}
	case "http":
		if s.HTTP.BaseURL == "" {
			return &domain.ConfigError{Field: "geopackage.storage.http.base_url", Message: "HTTP base URL is required"}
		}
	}
	return nil
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

