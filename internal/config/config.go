// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	chat "github.com/kingidy/kingidy/internal"
)

// Config is the top-level service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Providers ProvidersConfig `yaml:"providers"`
	Tokenizer TokenizerConfig `yaml:"tokenizer"`
	Cache     CacheConfig     `yaml:"cache"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Workers   WorkersConfig   `yaml:"workers"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DatabaseConfig selects the store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`    // file path, ":memory:", or a postgres URL
}

// ProvidersConfig holds vendor credentials and call limits.
type ProvidersConfig struct {
	OpenAI         OpenAIConfig  `yaml:"openai"`
	Google         GoogleConfig  `yaml:"google"`
	RequestTimeout time.Duration `yaml:"request_timeout"` // upper bound on one provider call
	DefaultModel   string        `yaml:"default_model"`
}

// OpenAIConfig configures the standard-completion backend.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// Google auth modes.
const (
	AuthAPIKey   = "api_key"
	AuthGCPOAuth = "gcp_oauth"
)

// GoogleConfig configures the generative-text backend.
type GoogleConfig struct {
	APIKey   string `yaml:"api_key"`
	Project  string `yaml:"project"`
	Location string `yaml:"location"`
	BaseURL  string `yaml:"base_url"`
	Auth     string `yaml:"auth"` // "api_key" (default) or "gcp_oauth"
}

// TokenizerConfig selects the BPE encoding used for estimates.
type TokenizerConfig struct {
	Encoding string `yaml:"encoding"`
}

// CacheConfig holds token summary cache settings.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	MaxSize int           `yaml:"max_size"`
	TTL     time.Duration `yaml:"ttl"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// WorkersConfig controls background workers.
type WorkersConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// BootstrapConfig controls demo data seeding.
type BootstrapConfig struct {
	Demo bool `yaml:"demo"`
}

// Credentials returns the immutable credential value handed to the router.
func (c *Config) Credentials() chat.Credentials {
	g := c.Providers.Google
	creds := chat.Credentials{OpenAIKey: c.Providers.OpenAI.APIKey}
	if g.Auth == AuthGCPOAuth {
		creds.GoogleOAuth = true
	} else {
		creds.GoogleKey = g.APIKey
	}
	return creds
}

// Validate reports configuration values that cannot work.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("database.driver %q: want sqlite or postgres", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	switch c.Providers.Google.Auth {
	case AuthAPIKey, AuthGCPOAuth:
	default:
		errs = append(errs, fmt.Errorf("providers.google.auth %q: want api_key or gcp_oauth", c.Providers.Google.Auth))
	}
	if c.Providers.Google.Auth == AuthGCPOAuth && c.Providers.Google.Project == "" {
		errs = append(errs, errors.New("providers.google.project is required for gcp_oauth"))
	}
	if r := c.Telemetry.Tracing.SampleRate; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.tracing.sample_rate %v: want 0..1", r))
	}
	if c.Cache.Enabled && c.Cache.MaxSize <= 0 {
		errs = append(errs, errors.New("cache.max_size must be positive when enabled"))
	}
	return errors.Join(errs...)
}

// envPattern matches ${VAR} and ${VAR:-default}.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
// Unset variables expand to their default, or to the empty string.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		sub := envPattern.FindSubmatch(match)
		if val, ok := os.LookupEnv(string(sub[1])); ok && val != "" {
			return []byte(val)
		}
		return sub[2]
	})
}

// Load reads and parses a YAML config file, expanding environment variables.
// A missing file is not an error. Precedence is file, then environment
// fallbacks, then defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(expandEnv(data), cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

// applyEnv fills empty settings from the process environment.
func applyEnv(cfg *Config) {
	setIfEmpty(&cfg.Providers.OpenAI.APIKey, "OPENAI_API_KEY")
	setIfEmpty(&cfg.Providers.Google.APIKey, "GOOGLE_API_KEY")
	setIfEmpty(&cfg.Providers.Google.Project, "GOOGLE_PROJECT_ID")
	setIfEmpty(&cfg.Providers.Google.Location, "GOOGLE_LOCATION")
	setIfEmpty(&cfg.Database.DSN, "DATABASE_URL")
	if cfg.Server.Addr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.Server.Addr = ":" + port
		}
	}
}

func setIfEmpty(dst *string, env string) {
	if *dst == "" {
		*dst = os.Getenv(env)
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":4000"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 120 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverSQLite
		if strings.HasPrefix(cfg.Database.DSN, "postgres://") || strings.HasPrefix(cfg.Database.DSN, "postgresql://") {
			cfg.Database.Driver = DriverPostgres
		}
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == DriverSQLite {
		cfg.Database.DSN = "kingidy.db"
	}
	if cfg.Providers.RequestTimeout == 0 {
		cfg.Providers.RequestTimeout = 60 * time.Second
	}
	if cfg.Providers.DefaultModel == "" {
		cfg.Providers.DefaultModel = "gpt-3.5-turbo"
	}
	if cfg.Providers.Google.Auth == "" {
		cfg.Providers.Google.Auth = AuthAPIKey
	}
	if cfg.Providers.Google.Location == "" {
		cfg.Providers.Google.Location = "us-central1"
	}
	if cfg.Tokenizer.Encoding == "" {
		cfg.Tokenizer.Encoding = "cl100k_base"
	}
	if cfg.Cache.MaxSize == 0 {
		cfg.Cache.MaxSize = 10_000
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 30 * time.Second
	}
	if cfg.Workers.SweepInterval == 0 {
		cfg.Workers.SweepInterval = time.Minute
	}
}
