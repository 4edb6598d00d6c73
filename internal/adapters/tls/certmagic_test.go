package tls

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/jobrunner/geodb-openeo/internal/domain"
)

func TestConfigValidate(t *testing.T) {
	dns := DNSConfig{SubscriptionID: "sub", ResourceGroupName: "rg"}

	tests := []struct {
		name      string
		cfg       Config
		wantField string
	}{
		{name: "disabled", cfg: Config{}},
		{name: "complete", cfg: Config{Enabled: true, Domains: []string{"geo.example.org"}, Email: "ops@example.org", DNS: dns}},
		{name: "no domains", cfg: Config{Enabled: true, Email: "ops@example.org", DNS: dns}, wantField: "tls.domains"},
		{name: "no email", cfg: Config{Enabled: true, Domains: []string{"geo.example.org"}, DNS: dns}, wantField: "tls.email"},
		{name: "no dns zone", cfg: Config{Enabled: true, Domains: []string{"geo.example.org"}, Email: "ops@example.org"}, wantField: "tls.dns"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			var cfgErr *domain.ConfigError
			if !errors.As(err, &cfgErr) || cfgErr.Field != tt.wantField {
				t.Errorf("Validate() error = %v, want ConfigError for %s", err, tt.wantField)
			}
		})
	}
}

func TestNewServerRejectsInvalidConfig(t *testing.T) {
	_, err := NewServer(Config{Enabled: true}, http.NotFoundHandler(), Timeouts{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil {
		t.Fatal("NewServer() should reject TLS without domains")
	}
}

func TestServerPlainHTTP(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})

	s, err := NewServer(Config{}, handler, Timeouts{Read: time.Second}, logger)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	if s.TLSEnabled() || s.TLSConfig() != nil {
		t.Fatal("disabled TLS should not build a TLS config")
	}
	if err := s.ManageCertificates(context.Background()); err != nil {
		t.Errorf("ManageCertificates() error = %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(addr) }()

	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://" + addr + "/")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if string(body) != "ok" {
		t.Errorf("body = %q", body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("ListenAndServe() after Shutdown = %v, want nil", err)
	}
}
