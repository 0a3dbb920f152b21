package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all TruNet pipeline configuration
type Config struct {
	// HTTP API surface
	Server ServerConfig `json:"server"`

	// Content-addressed archive backend
	Storage StorageConfig `json:"storage"`

	// Reverse-search providers for the leak matcher
	Matching MatchingConfig `json:"matching"`

	// Text moderation
	Moderation ModerationConfig `json:"moderation"`

	// Verdict audit database (optional)
	Audit AuditConfig `json:"audit"`

	// Verdict search index (optional)
	Search SearchConfig `json:"search"`

	// System configuration
	Logging LoggingConfig `json:"logging"`
}

// ServerConfig holds HTTP API settings
type ServerConfig struct {
	ListenAddr       string `json:"listen_addr"`
	MaxUploadBytes   int64  `json:"max_upload_bytes"`
	DefaultTimeoutMs int    `json:"default_timeout_ms"`
	RateLimitPerMin  int    `json:"rate_limit_per_min"`
	RateLimitBurst   int    `json:"rate_limit_burst"`
}

// StorageConfig holds content-addressed storage settings
type StorageConfig struct {
	Backend     string `json:"backend"` // "ipfs" or "memory"
	APIEndpoint string `json:"api_endpoint"`
	Timeout     int    `json:"timeout_seconds"`
}

// MatchingConfig holds leak matcher settings
type MatchingConfig struct {
	ProviderURLs   []string `json:"provider_urls"`
	BloomIndexPath string   `json:"bloom_index_path,omitempty"`
	SOCKSProxy     string   `json:"socks_proxy,omitempty"`
	RequestTimeout int      `json:"request_timeout_seconds"`
	MaxRetries     int      `json:"max_retries"`
}

// ModerationConfig holds moderation classifier settings
type ModerationConfig struct {
	ModelURL     string `json:"model_url,omitempty"`
	ModelTimeout int    `json:"model_timeout_seconds"`
}

// AuditConfig holds verdict audit database settings
type AuditConfig struct {
	Enabled          bool   `json:"enabled"`
	ConnectionString string `json:"connection_string,omitempty"`
	MigrationsPath   string `json:"migrations_path,omitempty"`
}

// SearchConfig holds verdict search index settings
type SearchConfig struct {
	Enabled   bool   `json:"enabled"`
	IndexPath string `json:"index_path,omitempty"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Output string `json:"output"` // console, file, both
	File   string `json:"file,omitempty"`
	Format string `json:"format"` // text, json
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:       ":8480",
			MaxUploadBytes:   100 * 1024 * 1024,
			DefaultTimeoutMs: 30000,
			RateLimitPerMin:  60,
			RateLimitBurst:   10,
		},
		Storage: StorageConfig{
			Backend:     "ipfs",
			APIEndpoint: "127.0.0.1:5001",
			Timeout:     30,
		},
		Matching: MatchingConfig{
			ProviderURLs:   nil,
			RequestTimeout: 10,
			MaxRetries:     3,
		},
		Moderation: ModerationConfig{
			ModelTimeout: 5,
		},
		Audit: AuditConfig{
			Enabled:        false,
			MigrationsPath: "file://migrations",
		},
		Search: SearchConfig{
			Enabled: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "console",
			Format: "text",
		},
	}
}

// LoadConfig loads configuration from file with environment variable overrides
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		if err := config.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	config.applyEnvironmentOverrides()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromFile loads configuration from a JSON file
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, use defaults
			return nil
		}
		return err
	}

	return json.Unmarshal(data, c)
}

// applyEnvironmentOverrides applies TRUNET_* environment variable overrides
func (c *Config) applyEnvironmentOverrides() {
	// Server overrides
	if val := os.Getenv("TRUNET_LISTEN_ADDR"); val != "" {
		c.Server.ListenAddr = val
	}
	if val := os.Getenv("TRUNET_MAX_UPLOAD_BYTES"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			c.Server.MaxUploadBytes = n
		}
	}
	if val := os.Getenv("TRUNET_DEFAULT_TIMEOUT_MS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Server.DefaultTimeoutMs = n
		}
	}

	// Storage overrides
	if val := os.Getenv("TRUNET_STORAGE_BACKEND"); val != "" {
		c.Storage.Backend = val
	}
	if val := os.Getenv("TRUNET_IPFS_API"); val != "" {
		c.Storage.APIEndpoint = val
	}
	if val := os.Getenv("TRUNET_STORAGE_TIMEOUT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Storage.Timeout = n
		}
	}

	// Matching overrides
	if val := os.Getenv("TRUNET_PROVIDER_URLS"); val != "" {
		c.Matching.ProviderURLs = strings.Split(val, ",")
	}
	if val := os.Getenv("TRUNET_BLOOM_INDEX"); val != "" {
		c.Matching.BloomIndexPath = val
	}
	if val := os.Getenv("TRUNET_SOCKS_PROXY"); val != "" {
		c.Matching.SOCKSProxy = val
	}

	// Moderation overrides
	if val := os.Getenv("TRUNET_MODEL_URL"); val != "" {
		c.Moderation.ModelURL = val
	}

	// Audit overrides
	if val := os.Getenv("TRUNET_AUDIT_DSN"); val != "" {
		c.Audit.Enabled = true
		c.Audit.ConnectionString = val
	}

	// Search overrides
	if val := os.Getenv("TRUNET_SEARCH_INDEX"); val != "" {
		c.Search.Enabled = true
		c.Search.IndexPath = val
	}

	// Logging overrides
	if val := os.Getenv("TRUNET_LOG_LEVEL"); val != "" {
		c.Logging.Level = val
	}
	if val := os.Getenv("TRUNET_LOG_OUTPUT"); val != "" {
		c.Logging.Output = val
	}
	if val := os.Getenv("TRUNET_LOG_FILE"); val != "" {
		c.Logging.File = val
	}
	if val := os.Getenv("TRUNET_LOG_FORMAT"); val != "" {
		c.Logging.Format = val
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server listen address cannot be empty")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be positive")
	}
	if c.Server.DefaultTimeoutMs <= 0 {
		return fmt.Errorf("default timeout must be positive")
	}

	switch c.Storage.Backend {
	case "ipfs", "memory":
	default:
		return fmt.Errorf("unknown storage backend '%s' (expected 'ipfs' or 'memory')", c.Storage.Backend)
	}
	if c.Storage.Backend == "ipfs" && c.Storage.APIEndpoint == "" {
		return fmt.Errorf("IPFS API endpoint cannot be empty")
	}
	if c.Storage.Timeout <= 0 {
		return fmt.Errorf("storage timeout must be positive")
	}

	if c.Matching.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.Matching.RequestTimeout <= 0 {
		return fmt.Errorf("provider request timeout must be positive")
	}

	if c.Audit.Enabled && c.Audit.ConnectionString == "" {
		return fmt.Errorf("audit database enabled but connection string is empty")
	}
	if c.Search.Enabled && c.Search.IndexPath == "" {
		return fmt.Errorf("search index enabled but index path is empty")
	}

	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Output {
	case "console", "file", "both":
	default:
		return fmt.Errorf("unknown logging output '%s'", c.Logging.Output)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown logging format '%s'", c.Logging.Format)
	}

	return nil
}

func parseLogLevel(level string) (string, error) {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error":
		return strings.ToLower(level), nil
	default:
		return "", fmt.Errorf("invalid log level '%s'", level)
	}
}

// SaveToFile saves the configuration to a JSON file
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
