// Package config holds the typed runtime configuration for pressgate. Values
// are layered: built-in defaults, then an optional YAML file, then
// PRESSGATE_* environment variables, then command-line flags bound by the
// CLI.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Environments. Production tightens validation; everything else is treated
// as development.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Config is the full runtime configuration.
type Config struct {
	Environment string    `mapstructure:"environment" yaml:"environment"`
	Server      Server    `mapstructure:"server" yaml:"server"`
	Auth        Auth      `mapstructure:"auth" yaml:"auth"`
	Store       Store     `mapstructure:"store" yaml:"store"`
	RateLimit   RateLimit `mapstructure:"ratelimit" yaml:"ratelimit"`
	Logging     Logging   `mapstructure:"logging" yaml:"logging"`
}

// Server controls the HTTP listener.
type Server struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
	FloodRPM        int           `mapstructure:"flood_rpm" yaml:"flood_rpm"`
}

// Auth controls token issuance.
type Auth struct {
	// TokenSecret signs access tokens. Must be set in production.
	TokenSecret string `mapstructure:"token_secret" yaml:"token_secret"`
}

// Store controls the persistence backend. Driver is one of sqlite, postgres,
// or mysql. For sqlite an empty DSN places the database under DataDir.
type Store struct {
	Driver  string `mapstructure:"driver" yaml:"driver"`
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
}

// RateLimit controls the admission controller's default windows and its
// housekeeping.
type RateLimit struct {
	PerMinute     int           `mapstructure:"per_minute" yaml:"per_minute"`
	PerHour       int           `mapstructure:"per_hour" yaml:"per_hour"`
	AuthPerMinute int           `mapstructure:"auth_per_minute" yaml:"auth_per_minute"`
	IPPerMinute   int           `mapstructure:"ip_per_minute" yaml:"ip_per_minute"`
	OverrideTTL   time.Duration `mapstructure:"override_ttl" yaml:"override_ttl"`
	IdleTTL       time.Duration `mapstructure:"idle_ttl" yaml:"idle_ttl"`
	MaxEntries    int           `mapstructure:"max_entries" yaml:"max_entries"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

// Logging controls log output.
type Logging struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// SetDefaults registers the built-in defaults on a viper instance. Called
// before reading the config file so file and environment values win.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("environment", EnvDevelopment)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.flood_rpm", 1000)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("ratelimit.per_minute", 100)
	v.SetDefault("ratelimit.per_hour", 1000)
	v.SetDefault("ratelimit.auth_per_minute", 10)
	v.SetDefault("ratelimit.ip_per_minute", 10)
	v.SetDefault("ratelimit.override_ttl", "60s")
	v.SetDefault("ratelimit.idle_ttl", "2h")
	v.SetDefault("ratelimit.max_entries", 10000)
	v.SetDefault("ratelimit.sweep_interval", "5m")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// FromViper unmarshals and validates the effective configuration.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that would run but misbehave. A missing
// token secret is tolerated in development (a throwaway secret is generated
// at startup) and fatal in production.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported store driver %q", c.Store.Driver)
	}
	if c.Store.Driver != "sqlite" && c.Store.DSN == "" {
		return fmt.Errorf("store driver %q requires a DSN", c.Store.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Production() {
		if c.Auth.TokenSecret == "" {
			return fmt.Errorf("auth.token_secret must be set in production (PRESSGATE_AUTH_TOKEN_SECRET)")
		}
		if len(c.Auth.TokenSecret) < 32 {
			return fmt.Errorf("auth.token_secret must be at least 32 characters")
		}
	}
	return nil
}

// Production reports whether the environment is production.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Environment, EnvProduction)
}

// LogLevel maps the configured level string to a comparable rank via slog
// naming. Unknown levels fall back to info.
func (c *Config) LogLevel() string {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
		return strings.ToLower(c.Logging.Level)
	default:
		return "info"
	}
}
