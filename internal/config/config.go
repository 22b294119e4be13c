// Package config loads and validates the gateway configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the CTE_ prefix (e.g., CTE_REGISTRY_HOST
// overrides registry.host in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment variables
// in containerized deployments.
//
// The home_org.org_uid key is special: it starts empty on a fresh install and is
// written back to the config file by SaveHomeOrg once an organization has been
// connected, so a restarted gateway comes back up already connected.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Registry     UpstreamConfig     `mapstructure:"registry"`
	Driver       UpstreamConfig     `mapstructure:"driver"`
	HomeOrg      HomeOrgConfig      `mapstructure:"home_org"`
	Tokenization TokenizationConfig `mapstructure:"tokenization"`
	Security     SecurityConfig     `mapstructure:"security"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// UpstreamConfig holds the base address of one of the two collaborator
// services (the registry/warehouse service and the token driver service).
type UpstreamConfig struct {
	Host string `mapstructure:"host"`
}

// HomeOrgConfig holds the persisted home organization identity. OrgUID is
// empty until a successful /connect call writes it.
type HomeOrgConfig struct {
	OrgUID string `mapstructure:"org_uid"`
}

// TokenizationConfig holds the confirmation-polling policy for the token
// lifecycle workflow. The budget is attempt-count based, not wall-clock based:
// PollAttempts polls spaced PollInterval apart (default 60 x 30s).
type TokenizationConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PollAttempts int           `mapstructure:"poll_attempts"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested
// structs during Unmarshal. viper.BindEnv only errors when called with zero
// keys; since every key here is a non-empty hardcoded string, any error
// indicates a programming bug and is surfaced to the caller.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Server
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",

		// Upstream services
		"registry.host",
		"driver.host",

		// Home organization identity
		"home_org.org_uid",

		// Tokenization workflow
		"tokenization.poll_interval",
		"tokenization.poll_attempts",

		// Security
		"security.cors.allowed_origins",
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",

		// Logging
		"logging.level",
		"logging.format",

		// Telemetry
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config.yaml in common locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/climate-tokenization-engine")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	v.SetEnvPrefix("CTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// SaveHomeOrg persists the connected home organization id back to the config
// file so the gateway comes back connected after a restart. The write merges
// into the existing file (or creates it) rather than replacing unrelated keys.
//
// This is durability only: the in-memory identity store is authoritative for
// the running process, and a failed save does not roll the merge back.
func SaveHomeOrg(configPath, orgUID string) error {
	v := viper.New()

	path := configPath
	if path == "" {
		path = "config.yaml"
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Best effort read so existing keys survive the write. A missing file is
	// fine; it will be created.
	_ = v.ReadInConfig()

	v.Set("home_org.org_uid", orgUID)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults. 31311 is the port the gateway has always listened on,
	// one above the registry's default 31310.
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 31311)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Upstream service defaults
	v.SetDefault("registry.host", "http://localhost:31310")
	v.SetDefault("driver.host", "http://localhost:31312")

	// Home org defaults (unset until /connect succeeds)
	v.SetDefault("home_org.org_uid", "")

	// Tokenization polling defaults: 60 attempts 30 seconds apart, roughly a
	// 30-minute ceiling
	v.SetDefault("tokenization.poll_interval", "30s")
	v.SetDefault("tokenization.poll_attempts", 60)

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 200)
	v.SetDefault("security.rate_limiting.burst", 50)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if err := validateHostURL("registry.host", c.Registry.Host); err != nil {
		return err
	}
	if err := validateHostURL("driver.host", c.Driver.Host); err != nil {
		return err
	}

	if c.Tokenization.PollInterval <= 0 {
		return fmt.Errorf("tokenization.poll_interval must be positive")
	}
	if c.Tokenization.PollAttempts < 1 {
		return fmt.Errorf("tokenization.poll_attempts must be at least 1")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// validateHostURL checks that an upstream base address is a usable http(s) URL
func validateHostURL(key, rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("%s is required", key)
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", key, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme", key)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must have a host", key)
	}
	return nil
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
