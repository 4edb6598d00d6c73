package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"github.com/jobrunner/geodb-openeo/internal/config"
)

func TestVersionCommand(t *testing.T) {
	root := newRootCmd(viper.New())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.HasPrefix(out.String(), "geodb-openeo dev") {
		t.Errorf("output = %q", out.String())
	}
}

func TestFlagsBindToConfig(t *testing.T) {
	v := viper.New()
	root := newRootCmd(v)
	if err := root.ParseFlags([]string{"--port", "9000", "--provider", "geopackage", "--log-format", "text"}); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}
	config.Defaults(v)

	if got := v.GetInt("server.port"); got != 9000 {
		t.Errorf("server.port = %d, want 9000", got)
	}
	if got := v.GetString("provider.type"); got != config.ProviderGeoPackage {
		t.Errorf("provider.type = %q", got)
	}
	if got := v.GetString("logging.format"); got != "text" {
		t.Errorf("logging.format = %q", got)
	}
	if got := v.GetString("geodb.url"); got != "http://localhost" {
		t.Errorf("geodb.url = %q, want default", got)
	}
}

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := setupLogger(config.LoggingConfig{Level: tt.level, Format: "json"})
			if !logger.Enabled(context.Background(), tt.want) {
				t.Errorf("level %v should be enabled", tt.want)
			}
			if tt.want > slog.LevelDebug && logger.Enabled(context.Background(), tt.want-4) {
				t.Errorf("level below %v should be disabled", tt.want)
			}
		})
	}
}
