package app

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.HTTPAddr != "0.0.0.0:8080" {
		t.Fatalf("HTTPAddr default: got %q", cfg.HTTPAddr)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "json" {
		t.Fatalf("log defaults: got level=%q format=%q", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.ReadHeaderTimeout != 5*time.Second {
		t.Fatalf("ReadHeaderTimeout default: got %v", cfg.ReadHeaderTimeout)
	}
	if cfg.DatabaseURL != "" || cfg.ReadinessRequireDB {
		t.Fatalf("db defaults: got url=%q require=%v", cfg.DatabaseURL, cfg.ReadinessRequireDB)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("PARLEY_HTTP_ADDR", "127.0.0.1:9090")
	t.Setenv("PARLEY_LOG_FORMAT", "text")
	t.Setenv("PARLEY_HTTP_READ_TIMEOUT", "30s")
	t.Setenv("PARLEY_DB_MAX_CONNS", "25")
	t.Setenv("PARLEY_HTTP_MAX_HEADER_BYTES", "not a number")

	cfg := LoadConfig()

	if cfg.HTTPAddr != "127.0.0.1:9090" {
		t.Fatalf("HTTPAddr: got %q", cfg.HTTPAddr)
	}
	if cfg.LogFormat != "text" {
		t.Fatalf("LogFormat: got %q", cfg.LogFormat)
	}
	if cfg.ReadTimeout != 30*time.Second {
		t.Fatalf("ReadTimeout: got %v", cfg.ReadTimeout)
	}
	if cfg.DBMaxConns != 25 {
		t.Fatalf("DBMaxConns: got %d", cfg.DBMaxConns)
	}
	// Unparsable values fall back to the default.
	if cfg.MaxHeaderBytes != 1<<20 {
		t.Fatalf("MaxHeaderBytes: got %d", cfg.MaxHeaderBytes)
	}
}
