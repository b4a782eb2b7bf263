package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/ehr/drg/internal/domain/drg"
)

type Config struct {
	Port                  string        `mapstructure:"PORT"`
	Env                   string        `mapstructure:"ENV"`
	LogLevel              string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL           string        `mapstructure:"DATABASE_URL"`
	DBMaxConns            int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns            int32         `mapstructure:"DB_MIN_CONNS"`
	CatalogFile           string        `mapstructure:"CATALOG_FILE"`
	CatalogReloadInterval time.Duration `mapstructure:"CATALOG_RELOAD_INTERVAL"`
	MatchTopK             int           `mapstructure:"MATCH_TOP_K"`
	MatchCodeMode         string        `mapstructure:"MATCH_CODE_MODE"`
	MatchBatchLimit       int           `mapstructure:"MATCH_BATCH_LIMIT"`
	BodyLimit             string        `mapstructure:"BODY_LIMIT"`
	BatchBodyLimit        string        `mapstructure:"BATCH_BODY_LIMIT"`
	RedisURL              string        `mapstructure:"REDIS_URL"`
	ReloadChannel         string        `mapstructure:"RELOAD_CHANNEL"`
	AuthSigningKey        string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer            string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience          string        `mapstructure:"AUTH_AUDIENCE"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"CATALOG_FILE", "CATALOG_RELOAD_INTERVAL",
	"MATCH_TOP_K", "MATCH_CODE_MODE", "MATCH_BATCH_LIMIT",
	"BODY_LIMIT", "BATCH_BODY_LIMIT",
	"REDIS_URL", "RELOAD_CHANNEL",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
}

// Load reads .env (if present) and the environment. It does not validate; call Validate.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CATALOG_RELOAD_INTERVAL", "0s")
	v.SetDefault("MATCH_TOP_K", drg.NoTopK)
	v.SetDefault("MATCH_CODE_MODE", "exact")
	v.SetDefault("MATCH_BATCH_LIMIT", drg.DefaultBatchLimit)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("BATCH_BODY_LIMIT", "16M")
	v.SetDefault("RELOAD_CHANNEL", "drg:catalog:reload")

	// Unmarshal only sees env vars that are bound
	for _, k := range keys {
		v.BindEnv(k)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// CodeMatchMode returns the parsed MATCH_CODE_MODE.
func (c *Config) CodeMatchMode() (drg.CodeMatchMode, error) {
	return drg.ParseCodeMatchMode(c.MatchCodeMode)
}

// ZerologLevel returns the parsed LOG_LEVEL, or info when it is empty.
func (c *Config) ZerologLevel() (zerolog.Level, error) {
	if strings.TrimSpace(c.LogLevel) == "" {
		return zerolog.InfoLevel, nil
	}
	return zerolog.ParseLevel(strings.ToLower(c.LogLevel))
}

// Validate checks that the configuration can run. A catalog source is always required;
// outside development a signing key is required so the API is not left open.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" && c.CatalogFile == "" {
		return fmt.Errorf("DATABASE_URL or CATALOG_FILE is required")
	}
	switch c.Env {
	case "development", "staging", "production", "test":
	default:
		return fmt.Errorf("ENV must be development, staging, production or test, got %q", c.Env)
	}
	if _, err := c.ZerologLevel(); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if _, err := c.CodeMatchMode(); err != nil {
		return fmt.Errorf("MATCH_CODE_MODE: %w", err)
	}
	if c.CatalogReloadInterval < 0 {
		return fmt.Errorf("CATALOG_RELOAD_INTERVAL must not be negative, got %s", c.CatalogReloadInterval)
	}
	if c.CatalogReloadInterval > 0 && c.CatalogReloadInterval < time.Second {
		return fmt.Errorf("CATALOG_RELOAD_INTERVAL must be at least 1s, got %s", c.CatalogReloadInterval)
	}
	if c.MatchBatchLimit < 1 {
		return fmt.Errorf("MATCH_BATCH_LIMIT must be at least 1, got %d", c.MatchBatchLimit)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes, got %d", len(c.AuthSigningKey))
	}
	return nil
}
