package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	"github.com/goliatone/go-shims/adapters/gologger"
	"github.com/goliatone/go-shims/core"
)

const (
	driverSQLite   = "sqlite3"
	driverPostgres = "postgres"
)

type DatabaseConfig struct {
	Driver             string `koanf:"driver" mapstructure:"driver"`
	DSN                string `koanf:"dsn" mapstructure:"dsn"`
	Debug              bool   `koanf:"debug" mapstructure:"debug"`
	PingTimeoutSeconds int    `koanf:"ping_timeout_seconds" mapstructure:"ping_timeout_seconds"`
}

func (c DatabaseConfig) GetDebug() bool            { return c.Debug }
func (c DatabaseConfig) GetDriver() string         { return c.Driver }
func (c DatabaseConfig) GetServer() string         { return c.DSN }
func (c DatabaseConfig) GetOtelIdentifier() string { return "shimsd" }

func (c DatabaseConfig) GetPingTimeout() time.Duration {
	if c.PingTimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.PingTimeoutSeconds) * time.Second
}

type RedisConfig struct {
	URL      string `koanf:"url" mapstructure:"url"`
	PoolSize int    `koanf:"pool_size" mapstructure:"pool_size"`
}

type AuthConfig struct {
	SigningKey string `koanf:"signing_key" mapstructure:"signing_key"`
	Issuer     string `koanf:"issuer" mapstructure:"issuer"`
	Audience   string `koanf:"audience" mapstructure:"audience"`
}

// SecretsConfig enables sealing of stored provider tokens when AppKey is set.
type SecretsConfig struct {
	AppKey  string `koanf:"app_key" mapstructure:"app_key"`
	KeyID   string `koanf:"key_id" mapstructure:"key_id"`
	Version int    `koanf:"version" mapstructure:"version"`
}

type CacheConfig struct {
	TokenTTLSeconds int `koanf:"token_ttl_seconds" mapstructure:"token_ttl_seconds"`
}

const (
	queueMemory = "memory"
	queueSQL    = "sql"
)

// WorkerConfig drives the refresh worker. Queue "sql" keeps jobs in the
// database next to the stores; "memory" loses them on restart.
type WorkerConfig struct {
	Enabled             bool   `koanf:"enabled" mapstructure:"enabled"`
	Queue               string `koanf:"queue" mapstructure:"queue"`
	Concurrency         int    `koanf:"concurrency" mapstructure:"concurrency"`
	MaxAttempts         int    `koanf:"max_attempts" mapstructure:"max_attempts"`
	RetryBackoffSeconds int    `koanf:"retry_backoff_seconds" mapstructure:"retry_backoff_seconds"`
	PollIntervalSeconds int    `koanf:"poll_interval_seconds" mapstructure:"poll_interval_seconds"`
}

func (c WorkerConfig) PollInterval() time.Duration {
	if c.PollIntervalSeconds <= 0 {
		return time.Second
	}
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

type DaemonConfig struct {
	Addr      string         `koanf:"addr" mapstructure:"addr"`
	LogLevel  string         `koanf:"log_level" mapstructure:"log_level"`
	LogFormat string         `koanf:"log_format" mapstructure:"log_format"`
	Database  DatabaseConfig `koanf:"database" mapstructure:"database"`
	Redis     RedisConfig    `koanf:"redis" mapstructure:"redis"`
	Auth      AuthConfig     `koanf:"auth" mapstructure:"auth"`
	Secrets   SecretsConfig  `koanf:"secrets" mapstructure:"secrets"`
	Cache     CacheConfig    `koanf:"cache" mapstructure:"cache"`
	Worker    WorkerConfig   `koanf:"worker" mapstructure:"worker"`
	Shims     core.Config    `koanf:"shims" mapstructure:"shims"`
}

func DefaultDaemonConfig() DaemonConfig {
	return DaemonConfig{
		Addr:      ":8083",
		LogLevel:  "info",
		LogFormat: gologger.FormatJSON,
		Database: DatabaseConfig{
			Driver: driverSQLite,
			DSN:    "file:shims.db?_foreign_keys=on",
		},
		Auth:  AuthConfig{Issuer: "shims"},
		Cache: CacheConfig{TokenTTLSeconds: 60},
		Worker: WorkerConfig{
			Enabled:             true,
			Queue:               queueSQL,
			Concurrency:         1,
			MaxAttempts:         3,
			RetryBackoffSeconds: 30,
			PollIntervalSeconds: 1,
		},
		Shims: core.DefaultConfig(),
	}
}

func (c *DaemonConfig) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("shimsd: addr is required")
	}
	switch c.Database.Driver {
	case driverSQLite, driverPostgres:
	default:
		return fmt.Errorf("shimsd: database.driver %q is not supported", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("shimsd: database.dsn is required")
	}
	if strings.TrimSpace(c.Auth.SigningKey) == "" {
		return fmt.Errorf("shimsd: auth.signing_key is required")
	}
	if !gologger.ValidFormat(c.LogFormat) {
		return fmt.Errorf("shimsd: log_format %q is not supported", c.LogFormat)
	}
	switch c.Worker.Queue {
	case queueMemory, queueSQL:
	default:
		return fmt.Errorf("shimsd: worker.queue %q is not supported", c.Worker.Queue)
	}
	if c.Worker.Concurrency < 0 || c.Worker.MaxAttempts < 0 || c.Worker.RetryBackoffSeconds < 0 {
		return fmt.Errorf("shimsd: worker settings must not be negative")
	}
	return c.Shims.Validate()
}

func (c DaemonConfig) TokenCacheTTL() time.Duration {
	if c.Cache.TokenTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Cache.TokenTTLSeconds) * time.Second
}

// envOverrides maps environment variables onto dotted config keys.
var envOverrides = map[string]string{
	"SHIMSD_ADDR":                              "addr",
	"SHIMSD_LOG_LEVEL":                         "log_level",
	"SHIMSD_LOG_FORMAT":                        "log_format",
	"SHIMSD_WORKER_QUEUE":                      "worker.queue",
	"SHIMSD_DATABASE_DRIVER":                   "database.driver",
	"SHIMSD_DATABASE_DSN":                      "database.dsn",
	"SHIMSD_REDIS_URL":                         "redis.url",
	"SHIMSD_AUTH_SIGNING_KEY":                  "auth.signing_key",
	"SHIMSD_SECRETS_APP_KEY":                   "secrets.app_key",
	"SHIMSD_SHIMS_CALLBACK_URL":                "shims.callback_url",
	"SHIMSD_SHIMS_DEFAULT_CLIENT_REDIRECT_URL": "shims.default_client_redirect_url",
}

// LoadConfig reads an optional JSON file, applies environment overrides and
// builds the daemon config over its defaults.
func LoadConfig(path string, getenv func(string) string) (DaemonConfig, error) {
	raw := map[string]any{}
	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return DaemonConfig{}, fmt.Errorf("shimsd: read config: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return DaemonConfig{}, fmt.Errorf("shimsd: decode config %s: %w", path, err)
		}
	}
	if getenv != nil {
		for env, key := range envOverrides {
			if value := strings.TrimSpace(getenv(env)); value != "" {
				setPath(raw, key, value)
			}
		}
	}
	return cfgx.Build[DaemonConfig](raw,
		cfgx.WithDefaults(DefaultDaemonConfig()),
		cfgx.WithValidator[DaemonConfig]((*DaemonConfig).Validate),
	)
}

func setPath(target map[string]any, key string, value any) {
	parts := strings.Split(key, ".")
	current := target
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}
