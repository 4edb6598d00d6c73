// Package tls serves the API over HTTPS with certificates obtained through
// ACME DNS-01 challenges against Azure DNS.
package tls

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/caddyserver/certmagic"
	"github.com/libdns/azure"

	"github.com/jobrunner/geodb-openeo/internal/domain"
)

// Config holds TLS configuration.
type Config struct {
	Enabled  bool
	Domains  []string
	Email    string
	CacheDir string
	Staging  bool // Use Let's Encrypt staging environment
	DNS      DNSConfig
}

// DNSConfig holds Azure DNS provider configuration for DNS-01 challenges.
type DNSConfig struct {
	SubscriptionID    string
	ResourceGroupName string
	ClientID          string // User Assigned Managed Identity client ID (optional)
}

// Timeouts bound the lifetime of client connections.
type Timeouts struct {
	Read  time.Duration
	Write time.Duration
	Idle  time.Duration
}

// Validate reports the first missing setting of an enabled configuration.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Domains) == 0 {
		return &domain.ConfigError{Field: "tls.domains", Message: "TLS enabled but no domains specified"}
	}
	if c.Email == "" {
		return &domain.ConfigError{Field: "tls.email", Message: "TLS enabled but no email specified"}
	}
	if c.DNS.SubscriptionID == "" || c.DNS.ResourceGroupName == "" {
		return &domain.ConfigError{Field: "tls.dns", Message: "DNS-01 needs subscription_id and resource_group_name"}
	}
	return nil
}

// Server wraps an HTTP server with optional automatic TLS.
type Server struct {
	config   Config
	handler  http.Handler
	logger   *slog.Logger
	timeouts Timeouts
	magic    *certmagic.Config

	mu     sync.Mutex
	server *http.Server
}

// NewServer creates a server for handler. With TLS disabled it serves
// plain HTTP.
func NewServer(cfg Config, handler http.Handler, timeouts Timeouts, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		config:   cfg,
		handler:  handler,
		logger:   logger,
		timeouts: timeouts,
	}
	if cfg.Enabled {
		s.magic = newMagic(cfg)
	}
	return s, nil
}

// newMagic builds a certmagic configuration private to this server.
func newMagic(cfg Config) *certmagic.Config {
	magic := certmagic.NewDefault()
	if cfg.CacheDir != "" {
		magic.Storage = &certmagic.FileStorage{Path: cfg.CacheDir}
	}

	ca := certmagic.LetsEncryptProductionCA
	if cfg.Staging {
		ca = certmagic.LetsEncryptStagingCA
	}

	// An empty client id selects the system assigned managed identity.
	provider := &azure.Provider{
		SubscriptionId:    cfg.DNS.SubscriptionID,
		ResourceGroupName: cfg.DNS.ResourceGroupName,
		ClientId:          cfg.DNS.ClientID,
	}
	magic.Issuers = []certmagic.Issuer{
		certmagic.NewACMEIssuer(magic, certmagic.ACMEIssuer{
			CA:     ca,
			Email:  cfg.Email,
			Agreed: true,
			DNS01Solver: &certmagic.DNS01Solver{
				DNSManager: certmagic.DNSManager{DNSProvider: provider},
			},
		}),
	}
	return magic
}

// TLSEnabled reports whether the server terminates TLS.
func (s *Server) TLSEnabled() bool {
	return s.magic != nil
}

// ManageCertificates obtains certificates for the configured domains and
// keeps them renewed in the background.
func (s *Server) ManageCertificates(ctx context.Context) error {
	if s.magic == nil {
		return nil
	}

	s.logger.Info("obtaining certificates", "domains", s.config.Domains)
	if err := s.magic.ManageSync(ctx, s.config.Domains); err != nil {
		return fmt.Errorf("managing certificates: %w", err)
	}
	s.logger.Info("certificates obtained successfully")
	return nil
}

// TLSConfig returns the TLS configuration, nil when TLS is disabled.
func (s *Server) TLSConfig() *tls.Config {
	if s.magic == nil {
		return nil
	}
	cfg := s.magic.TLSConfig()
	cfg.NextProtos = append([]string{"h2", "http/1.1"}, cfg.NextProtos...)
	return cfg
}

// ListenAndServe serves until Shutdown is called. A server closed by
// Shutdown returns nil.
func (s *Server) ListenAndServe(addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.timeouts.Read,
		WriteTimeout:      s.timeouts.Write,
		IdleTimeout:       s.timeouts.Idle,
		TLSConfig:         s.TLSConfig(),
	}
	s.mu.Lock()
	s.server = server
	s.mu.Unlock()

	var err error
	if server.TLSConfig == nil {
		s.logger.Info("starting HTTP server (TLS disabled)", "address", addr)
		err = server.ListenAndServe()
	} else {
		s.logger.Info("starting HTTPS server with DNS-01 challenge",
			"address", addr,
			"domains", s.config.Domains,
		)
		err = server.ListenAndServeTLS("", "")
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops a running server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}
