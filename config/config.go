package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds all configuration for the coordination server.
// Tags use mapstructure for Viper unmarshalling; every field is also
// bindable from the environment with the same name.
type ServerConfig struct {
	HTTPPort  string `mapstructure:"HTTP_PORT"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`

	// AdminAPIKey is the shared secret required on every /admin route.
	// It may be a plain value or a bcrypt hash of the value; the
	// middleware detects which form is configured.
	AdminAPIKey string `mapstructure:"ADMIN_API_KEY"`

	// LogErrorDetails enables full internal error logging (message,
	// kind, caller context). Safe messages are returned to callers
	// regardless of this flag.
	LogErrorDetails bool `mapstructure:"LOG_ERROR_DETAILS"`

	// Session registry settings. SessionStore selects the backend:
	// "memory" (default) or "redis".
	SessionStore        string `mapstructure:"SESSION_STORE"`
	SessionRetentionMin int    `mapstructure:"SESSION_RETENTION_MIN"`
	RedisAddr           string `mapstructure:"REDIS_ADDR"`
	RedisPassword       string `mapstructure:"REDIS_PASSWORD"`
	RedisKeyPrefix      string `mapstructure:"REDIS_KEY_PREFIX"`

	// Mongo-backed execution audit. Disabled when MONGO_URI is empty.
	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`

	// Job-trigger endpoints for the service control dispatcher.
	ScraperTriggerURL     string `mapstructure:"SCRAPER_TRIGGER_URL"`
	ValidatorTriggerURL   string `mapstructure:"VALIDATOR_TRIGGER_URL"`
	RevalidatorTriggerURL string `mapstructure:"REVALIDATOR_TRIGGER_URL"`

	// Status providers queried by the admin aggregator.
	KeyPoolStatsURL     string `mapstructure:"KEYPOOL_STATS_URL"`
	TokenStatsURL       string `mapstructure:"TOKEN_STATS_URL"`
	ExecutionHistoryURL string `mapstructure:"EXECUTION_HISTORY_URL"`
	SystemStatusURL     string `mapstructure:"SYSTEM_STATUS_URL"`

	// Timeout applied to every outbound HTTP call (providers and
	// job triggers).
	OutboundTimeoutSec int `mapstructure:"OUTBOUND_TIMEOUT_SEC"`

	OtelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
}

// SessionRetention returns the registry retention window as a duration.
func (c *ServerConfig) SessionRetention() time.Duration {
	return time.Duration(c.SessionRetentionMin) * time.Minute
}

// OutboundTimeout returns the outbound HTTP timeout as a duration.
func (c *ServerConfig) OutboundTimeout() time.Duration {
	return time.Duration(c.OutboundTimeoutSec) * time.Second
}

// LoadConfig reads configuration from file, environment variables, and defaults.
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("/etc/frogbytes/")
	v.AddConfigPath("$HOME/.frogbytes")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("LOG_ERROR_DETAILS", false)
	v.SetDefault("ADMIN_API_KEY", "")
	v.SetDefault("SESSION_STORE", "memory")
	v.SetDefault("SESSION_RETENTION_MIN", 60)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_KEY_PREFIX", "frogbytes")
	v.SetDefault("MONGO_URI", "")
	v.SetDefault("MONGO_DB_NAME", "frogbytes")
	v.SetDefault("SCRAPER_TRIGGER_URL", "http://localhost:9001/api/cron/scrape")
	v.SetDefault("VALIDATOR_TRIGGER_URL", "http://localhost:9001/api/cron/validate")
	v.SetDefault("REVALIDATOR_TRIGGER_URL", "http://localhost:9001/api/cron/revalidate")
	v.SetDefault("KEYPOOL_STATS_URL", "http://localhost:9001/api/admin/keypool/stats")
	v.SetDefault("TOKEN_STATS_URL", "http://localhost:9001/api/admin/tokens/stats")
	v.SetDefault("EXECUTION_HISTORY_URL", "http://localhost:9001/api/admin/executions")
	v.SetDefault("SYSTEM_STATUS_URL", "http://localhost:9001/api/admin/system")
	v.SetDefault("OUTBOUND_TIMEOUT_SEC", 30)
	v.SetDefault("OTEL_SERVICE_NAME", "frogbytes-coordinator")

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults and env vars apply.
		// Anything else (permissions, malformed YAML) is a real error.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if cfg.SessionStore != "memory" && cfg.SessionStore != "redis" {
		return nil, fmt.Errorf("invalid SESSION_STORE %q: must be \"memory\" or \"redis\"", cfg.SessionStore)
	}
	if cfg.SessionStore == "redis" && cfg.RedisAddr == "" {
		return nil, fmt.Errorf("SESSION_STORE is \"redis\" but REDIS_ADDR is empty")
	}

	return &cfg, nil
}
