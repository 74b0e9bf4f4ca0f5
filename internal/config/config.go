package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/veridia-health/psur-cli/internal/narrative"
	"github.com/veridia-health/psur-cli/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig       `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig   `yaml:"anthropic" mapstructure:"anthropic"`
	Draft     narrative.Options `yaml:"draft" mapstructure:"draft"`
	Ingest    IngestConfig      `yaml:"ingest" mapstructure:"ingest"`
	Batch     BatchConfig       `yaml:"batch" mapstructure:"batch"`
	Server    ServerConfig      `yaml:"server" mapstructure:"server"`
	Log       LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string           `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key string `yaml:"key" mapstructure:"key"`
}

// IngestConfig configures evidence file parsing defaults.
type IngestConfig struct {
	Charset   string `yaml:"charset" mapstructure:"charset"`
	Delimiter string `yaml:"delimiter" mapstructure:"delimiter"`
}

// BatchConfig configures concurrent drafting and adjudication.
type BatchConfig struct {
	MaxConcurrentSlots int `yaml:"max_concurrent_slots" mapstructure:"max_concurrent_slots"`
}

// ServerConfig configures the HTTP submission server.
type ServerConfig struct {
	Port              int     `yaml:"port" mapstructure:"port"`
	SubmitRatePerSec  float64 `yaml:"submit_rate_per_sec" mapstructure:"submit_rate_per_sec"`
	SubmitBurst       int     `yaml:"submit_burst" mapstructure:"submit_burst"`
	ShutdownGraceSecs int     `yaml:"shutdown_grace_secs" mapstructure:"shutdown_grace_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PSUR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "psur.db")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 2)
	v.SetDefault("draft.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("draft.max_tokens", 2048)
	v.SetDefault("ingest.charset", "utf-8")
	v.SetDefault("ingest.delimiter", ",")
	v.SetDefault("batch.max_concurrent_slots", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.submit_rate_per_sec", 5)
	v.SetDefault("server.submit_burst", 10)
	v.SetDefault("server.shutdown_grace_secs", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the configuration is sufficient for the given
// command mode. Modes: "store", "draft", "serve".
func (c *Config) Validate(mode string) error {
	var missing []string

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			missing = append(missing, "store.sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			missing = append(missing, "store.database_url is required for the postgres driver")
		}
	default:
		missing = append(missing, "store.driver must be sqlite or postgres")
	}

	if c.Batch.MaxConcurrentSlots < 1 || c.Batch.MaxConcurrentSlots > 32 {
		missing = append(missing, "batch.max_concurrent_slots must be between 1 and 32")
	}

	switch mode {
	case "store":
	case "draft":
		if c.Anthropic.Key == "" {
			missing = append(missing, "anthropic.key is required")
		}
	case "serve":
		if c.Server.Port <= 0 {
			missing = append(missing, "server.port must be > 0")
		}
		if c.Server.SubmitRatePerSec <= 0 {
			missing = append(missing, "server.submit_rate_per_sec must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(missing) > 0 {
		return eris.Errorf("config: %s", strings.Join(missing, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
