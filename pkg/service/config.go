// Package service loads the facilitator's configuration and assembles
// its components: stores, managers, auth, audit, and the REST handler.
package service

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agoramesh/facilitator/pkg/auth"
)

// Config holds the complete facilitator configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Sessions SessionsConfig `yaml:"sessions"`
	Audit    AuditConfig    `yaml:"audit"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Name            string        `yaml:"name"`
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TLS             TLSConfig     `yaml:"tls"`
}

// TLSConfig configures TLS.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AuthConfig configures authentication.
type AuthConfig struct {
	APIKeys        APIKeyAuthConfig `yaml:"api_keys"`
	JWT            JWTAuthConfig    `yaml:"jwt"`
	AllowAnonymous bool             `yaml:"allow_anonymous"`

	// AdminRole gates the audit endpoint. Defaults to "admin".
	AdminRole string `yaml:"admin_role"`
}

// APIKeyAuthConfig configures API key authentication. Each key entry
// carries either a plaintext key or a bcrypt hash.
type APIKeyAuthConfig struct {
	Enabled bool          `yaml:"enabled"`
	Keys    []auth.APIKey `yaml:"keys"`
}

// JWTAuthConfig configures the service-token authenticator.
type JWTAuthConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Secret   string `yaml:"secret"`
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
}

// DatabaseConfig configures the PostgreSQL connection. An empty DSN runs
// the facilitator on in-memory stores.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// SessionsConfig configures session admission.
type SessionsConfig struct {
	// RateWindow is the fixed rate-limit window length, aligned to each
	// session's creation time.
	RateWindow time.Duration `yaml:"rate_window"`
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	Enabled         bool          `yaml:"enabled"`
	RetentionDays   int           `yaml:"retention_days"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// LoadConfig loads configuration from a file.
// The path is expected to come from command line arguments, controlled by
// the operator.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns the configuration used when no file is given:
// in-memory stores, anonymous auth, slog-only audit. Local development
// shape.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Auth.AllowAnonymous = true
	applyDefaults(cfg)
	return cfg
}

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.Server.Name == "" {
		cfg.Server.Name = "facilitatord"
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Auth.AdminRole == "" {
		cfg.Auth.AdminRole = "admin"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Sessions.RateWindow == 0 {
		cfg.Sessions.RateWindow = time.Minute
	}
	if cfg.Audit.RetentionDays == 0 {
		cfg.Audit.RetentionDays = 90
	}
	if cfg.Audit.CleanupInterval == 0 {
		cfg.Audit.CleanupInterval = time.Hour
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "" {
			errs = append(errs, "server.tls.cert_file and server.tls.key_file are required when TLS is enabled")
		}
	}

	if c.Auth.APIKeys.Enabled && len(c.Auth.APIKeys.Keys) == 0 {
		errs = append(errs, "auth.api_keys.keys is required when API keys are enabled")
	}
	for i, k := range c.Auth.APIKeys.Keys {
		if k.Key == "" && k.Hash == "" {
			errs = append(errs, fmt.Sprintf("auth.api_keys.keys[%d] needs a key or a hash", i))
		}
	}

	if c.Auth.JWT.Enabled && c.Auth.JWT.Secret == "" {
		errs = append(errs, "auth.jwt.secret is required when JWT is enabled")
	}

	if !c.Auth.APIKeys.Enabled && !c.Auth.JWT.Enabled && !c.Auth.AllowAnonymous {
		errs = append(errs, "no authenticator configured; enable api_keys, jwt, or allow_anonymous")
	}

	if c.Audit.RetentionDays < 0 {
		errs = append(errs, "audit.retention_days must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
