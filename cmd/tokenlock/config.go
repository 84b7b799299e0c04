// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenlock Contributors

package main

import (
	"net/url"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/tokenlock/tokenlock/internal/auth"
	"github.com/tokenlock/tokenlock/internal/xdg"
)

// Environment variables consulted when the config leaves a value empty.
const (
	envDatabaseURL  = "DATABASE_URL"
	envAPIToken     = "TOKENLOCK_API_TOKEN"
	envPromptSecret = "TOKENLOCK_PROMPT_SECRET"
	envRedisPass    = "TOKENLOCK_REDIS_PASSWORD"
)

// Cache backends.
const (
	cacheMemory = "memory"
	cacheRedis  = "redis"
)

// Default values for flags.
const (
	defaultAPIAddr         = "127.0.0.1:8080"
	defaultMetricsAddr     = "127.0.0.1:9100"
	defaultLogFormat       = "json"
	defaultLogLevel        = "info"
	defaultCacheBackend    = cacheMemory
	defaultRedisKeyPrefix  = "tokenlock:"
	defaultPromptTimeout   = 5 * time.Second
	defaultPromptRetries   = 3
	defaultConnectAttempts = 5
)

// Config is the tokenlock configuration, merged from the config file and
// command-line flags. Flags set explicitly win over the file.
type Config struct {
	Database DatabaseConfig `koanf:"database"`
	API      APIConfig      `koanf:"api"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Log      LogConfig      `koanf:"log"`
	Auth     AuthConfig     `koanf:"auth"`
	Cache    CacheConfig    `koanf:"cache"`
	Prompt   PromptConfig   `koanf:"prompt"`
}

// DatabaseConfig selects the PostgreSQL database.
type DatabaseConfig struct {
	URL             string `koanf:"url"`
	MaxConns        int32  `koanf:"max_conns"`
	ConnectAttempts uint64 `koanf:"connect_attempts"`
}

// APIConfig configures the HTTP API.
type APIConfig struct {
	Addr  string `koanf:"addr"`
	Token string `koanf:"token"`
}

// MetricsConfig configures the observability server. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// AuthConfig tunes the authentication flow.
type AuthConfig struct {
	Timeout  time.Duration `koanf:"timeout"`
	CacheTTL time.Duration `koanf:"cache_ttl"`
}

// CacheConfig selects the credential cache backend.
type CacheConfig struct {
	Backend string      `koanf:"backend"`
	Redis   RedisConfig `koanf:"redis"`
}

// RedisConfig selects the Redis server used by the redis cache backend.
type RedisConfig struct {
	Addr      string `koanf:"addr"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	KeyPrefix string `koanf:"key_prefix"`
}

// PromptConfig points tokenlock at the bridge that shows passphrase prompts.
type PromptConfig struct {
	WebhookURL string        `koanf:"webhook_url"`
	Secret     string        `koanf:"secret"`
	Timeout    time.Duration `koanf:"timeout"`
	MaxRetries uint64        `koanf:"max_retries"`
}

// flagKeys maps command-line flags to config keys. Flags not listed here are
// not part of the config.
var flagKeys = map[string]string{
	"database-url":     "database.url",
	"db-max-conns":     "database.max_conns",
	"db-connect-tries": "database.connect_attempts",
	"api-addr":         "api.addr",
	"api-token":        "api.token",
	"metrics-addr":     "metrics.addr",
	"log-format":       "log.format",
	"log-level":        "log.level",
	"auth-timeout":     "auth.timeout",
	"cache-ttl":        "auth.cache_ttl",
	"cache-backend":    "cache.backend",
	"redis-addr":       "cache.redis.addr",
	"redis-db":         "cache.redis.db",
	"redis-key-prefix": "cache.redis.key_prefix",
	"prompt-url":       "prompt.webhook_url",
	"prompt-timeout":   "prompt.timeout",
	"prompt-retries":   "prompt.max_retries",
}

// registerDatabaseFlags adds the flags every database-backed command shares.
func registerDatabaseFlags(fs *pflag.FlagSet) {
	fs.String("database-url", "", "PostgreSQL connection URL (default: $DATABASE_URL)")
	fs.Int32("db-max-conns", 0, "maximum pool connections (0 = pgx default)")
	fs.Uint64("db-connect-tries", defaultConnectAttempts, "connection attempts before giving up")
	fs.String("log-format", defaultLogFormat, "log format (json or text)")
	fs.String("log-level", defaultLogLevel, "log level (debug, info, warn, error)")
}

// registerCacheFlags adds the credential cache flags.
func registerCacheFlags(fs *pflag.FlagSet) {
	fs.String("cache-backend", defaultCacheBackend, "credential cache backend (memory or redis)")
	fs.String("redis-addr", "", "Redis address for the redis cache backend")
	fs.Int("redis-db", 0, "Redis database number")
	fs.String("redis-key-prefix", defaultRedisKeyPrefix, "prefix for Redis keys")
}

// loadConfig merges the config file at path with fs. An empty path falls back
// to the XDG config file when one exists.
func loadConfig(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = defaultConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("path", path).Wrap(err)
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("source", "flags").Wrap(err)
		}
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	cfg.applyEnv()
	return cfg, nil
}

// defaultConfigFile returns the XDG config file if it exists, or "".
func defaultConfigFile() string {
	path, err := xdg.ConfigFile()
	if err != nil {
		return ""
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// applyEnv fills secrets and the database URL from the environment when the
// config leaves them empty.
func (c *Config) applyEnv() {
	fill := func(dst *string, env string) {
		if *dst == "" {
			*dst = os.Getenv(env)
		}
	}
	fill(&c.Database.URL, envDatabaseURL)
	fill(&c.API.Token, envAPIToken)
	fill(&c.Prompt.Secret, envPromptSecret)
	fill(&c.Cache.Redis.Password, envRedisPass)
}

// requireDatabase checks the settings every database-backed command needs.
func (c *Config) requireDatabase() error {
	if c.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").
			Errorf("database URL is required: set database.url, --database-url or the %s environment variable", envDatabaseURL)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return oops.Code("CONFIG_INVALID").Errorf("log format must be 'json' or 'text', got %q", c.Log.Format)
	}
	return nil
}

// requireCache checks the credential cache settings.
func (c *Config) requireCache() error {
	switch c.Cache.Backend {
	case cacheMemory:
	case cacheRedis:
		if c.Cache.Redis.Addr == "" {
			return oops.Code("CONFIG_INVALID").Errorf("redis cache backend requires cache.redis.addr")
		}
	default:
		return oops.Code("CONFIG_INVALID").
			Errorf("cache backend must be %q or %q, got %q", cacheMemory, cacheRedis, c.Cache.Backend)
	}
	return nil
}

// Validate checks the configuration needed by serve.
func (c *Config) Validate() error {
	if err := c.requireDatabase(); err != nil {
		return err
	}
	if err := c.requireCache(); err != nil {
		return err
	}
	if c.API.Addr == "" {
		return oops.Code("CONFIG_INVALID").Errorf("api address is required")
	}
	if c.Prompt.WebhookURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("prompt webhook URL is required")
	}
	if u, err := url.Parse(c.Prompt.WebhookURL); err != nil || !u.IsAbs() {
		return oops.Code("CONFIG_INVALID").
			With("url", c.Prompt.WebhookURL).
			Errorf("prompt webhook URL must be absolute")
	}
	if c.Auth.Timeout < 0 || c.Auth.CacheTTL < 0 {
		return oops.Code("CONFIG_INVALID").Errorf("auth durations cannot be negative")
	}
	return nil
}

// authConfig converts to the service configuration. Zero values keep the
// service defaults.
func (c *Config) authConfig() auth.Config {
	return auth.Config{Timeout: c.Auth.Timeout, CacheTTL: c.Auth.CacheTTL}
}
