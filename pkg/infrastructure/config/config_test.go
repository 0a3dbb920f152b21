package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nonexistent.json"))
	if err != nil {
		t.Fatalf("missing config file should fall back to defaults: %v", err)
	}
	if cfg.Server.ListenAddr != ":8480" {
		t.Errorf("expected default listen addr, got %s", cfg.Server.ListenAddr)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{"server": {"listen_addr": ":9090", "max_upload_bytes": 1048576, "default_timeout_ms": 5000}, "storage": {"backend": "memory", "timeout_seconds": 10}}`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("expected :9090, got %s", cfg.Server.ListenAddr)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("expected memory backend, got %s", cfg.Storage.Backend)
	}
	// Unset fields keep defaults
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default log level, got %s", cfg.Logging.Level)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("TRUNET_LISTEN_ADDR", ":7070")
	t.Setenv("TRUNET_STORAGE_BACKEND", "memory")
	t.Setenv("TRUNET_PROVIDER_URLS", "http://a.example/v1,http://b.example/v1")
	t.Setenv("TRUNET_LOG_LEVEL", "debug")
	t.Setenv("TRUNET_AUDIT_DSN", "postgres://trunet@localhost/trunet")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Server.ListenAddr != ":7070" {
		t.Errorf("env override for listen addr not applied: %s", cfg.Server.ListenAddr)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("env override for backend not applied: %s", cfg.Storage.Backend)
	}
	if len(cfg.Matching.ProviderURLs) != 2 {
		t.Errorf("expected 2 provider URLs, got %d", len(cfg.Matching.ProviderURLs))
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("env override for log level not applied: %s", cfg.Logging.Level)
	}
	if !cfg.Audit.Enabled || cfg.Audit.ConnectionString == "" {
		t.Error("audit DSN override should enable audit")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen addr", func(c *Config) { c.Server.ListenAddr = "" }},
		{"zero upload limit", func(c *Config) { c.Server.MaxUploadBytes = 0 }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "s3" }},
		{"empty ipfs endpoint", func(c *Config) { c.Storage.APIEndpoint = "" }},
		{"negative retries", func(c *Config) { c.Matching.MaxRetries = -1 }},
		{"audit without dsn", func(c *Config) { c.Audit.Enabled = true; c.Audit.ConnectionString = "" }},
		{"search without path", func(c *Config) { c.Search.Enabled = true; c.Search.IndexPath = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log output", func(c *Config) { c.Logging.Output = "syslog" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.json")
	cfg := DefaultConfig()
	cfg.Server.ListenAddr = ":6060"
	cfg.Search.Enabled = true
	cfg.Search.IndexPath = "/tmp/idx"

	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to reload config: %v", err)
	}
	if loaded.Server.ListenAddr != ":6060" {
		t.Errorf("round trip lost listen addr: %s", loaded.Server.ListenAddr)
	}
	if !loaded.Search.Enabled || loaded.Search.IndexPath != "/tmp/idx" {
		t.Error("round trip lost search config")
	}
}
