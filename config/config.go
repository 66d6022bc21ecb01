// Package config loads runtime configuration from defaults, an optional
// config.yaml and environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the full application configuration.
type Config struct {
	Server    Server
	Database  Database
	Redis     Redis
	JWT       JWT
	Chat      Chat
	RateLimit RateLimit
	LogLevel  string
}

// Server holds HTTP and lifecycle settings.
type Server struct {
	Port            string
	AllowedOrigins  string
	ShutdownTimeout time.Duration
	ServiceTimeout  time.Duration
	CookieSecure    bool
}

// Database selects and configures the persistence backend.
type Database struct {
	Driver       string
	Path         string
	URL          string
	StoreTimeout time.Duration
}

// Redis configures the optional cache and rate limiter backend. An empty
// Addr disables both.
type Redis struct {
	Addr     string
	CacheTTL time.Duration
}

// Enabled reports whether a Redis address is configured.
func (r Redis) Enabled() bool {
	return r.Addr != ""
}

// JWT configures token signing.
type JWT struct {
	SecretKey        string
	Issuer           string
	TokenTTL         time.Duration
	RememberTokenTTL time.Duration
}

// Chat holds messaging limits.
type Chat struct {
	HistoryLimit    int
	MaxHistoryLimit int
}

// RateLimit holds per-window request budgets.
type RateLimit struct {
	MessagesPerWindow int
	LoginsPerWindow   int
	Window            time.Duration
}

const defaultSecret = "change-me-in-production"

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "3000")
	v.SetDefault("cors_allowed_origins", "http://localhost:5173")
	v.SetDefault("shutdown_timeout", "30s")
	v.SetDefault("service_timeout", "10s")
	v.SetDefault("cookie_secure", true)

	v.SetDefault("db_driver", DriverSQLite)
	v.SetDefault("db_path", "chatapp.db")
	v.SetDefault("database_url", "")
	v.SetDefault("store_timeout", "5s")

	v.SetDefault("redis_addr", "")
	v.SetDefault("cache_ttl", "10m")

	v.SetDefault("jwt_secret_key", defaultSecret)
	v.SetDefault("jwt_issuer", "chatapp-server")
	v.SetDefault("token_ttl", "24h")
	v.SetDefault("remember_token_ttl", "168h")

	v.SetDefault("history_limit", 50)
	v.SetDefault("max_history_limit", 200)

	v.SetDefault("message_rate_limit", 30)
	v.SetDefault("login_rate_limit", 10)
	v.SetDefault("rate_limit_window", "1m")

	v.SetDefault("log_level", "info")
}

// Load reads configuration. A missing config.yaml is not an error.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("config")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.AutomaticEnv()
	return Parse(v)
}

// Parse builds a Config from an already populated viper instance.
func Parse(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Server: Server{
			Port:            v.GetString("port"),
			AllowedOrigins:  v.GetString("cors_allowed_origins"),
			ShutdownTimeout: v.GetDuration("shutdown_timeout"),
			ServiceTimeout:  v.GetDuration("service_timeout"),
			CookieSecure:    v.GetBool("cookie_secure"),
		},
		Database: Database{
			Driver:       strings.ToLower(v.GetString("db_driver")),
			Path:         v.GetString("db_path"),
			URL:          v.GetString("database_url"),
			StoreTimeout: v.GetDuration("store_timeout"),
		},
		Redis: Redis{
			Addr:     v.GetString("redis_addr"),
			CacheTTL: v.GetDuration("cache_ttl"),
		},
		JWT: JWT{
			SecretKey:        v.GetString("jwt_secret_key"),
			Issuer:           v.GetString("jwt_issuer"),
			TokenTTL:         v.GetDuration("token_ttl"),
			RememberTokenTTL: v.GetDuration("remember_token_ttl"),
		},
		Chat: Chat{
			HistoryLimit:    v.GetInt("history_limit"),
			MaxHistoryLimit: v.GetInt("max_history_limit"),
		},
		RateLimit: RateLimit{
			MessagesPerWindow: v.GetInt("message_rate_limit"),
			LoginsPerWindow:   v.GetInt("login_rate_limit"),
			Window:            v.GetDuration("rate_limit_window"),
		},
		LogLevel: strings.ToLower(v.GetString("log_level")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("db_path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.URL == "" {
			return errors.New("database_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported db_driver %q", c.Database.Driver)
	}

	if c.JWT.SecretKey == "" {
		return errors.New("jwt_secret_key must not be empty")
	}
	if c.Database.StoreTimeout <= 0 {
		return errors.New("store_timeout must be positive")
	}
	if c.Chat.HistoryLimit <= 0 || c.Chat.MaxHistoryLimit < c.Chat.HistoryLimit {
		return errors.New("history_limit must be positive and not exceed max_history_limit")
	}
	return nil
}

// UsingDefaultSecret reports whether the signing key was left at its
// development default.
func (c *Config) UsingDefaultSecret() bool {
	return c.JWT.SecretKey == defaultSecret
}
