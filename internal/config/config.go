// Package config loads application configuration from file and
// environment and owns the global logger.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/partsledger/partsledger/internal/orchestrator"
	"github.com/partsledger/partsledger/internal/source"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig              `yaml:"store" mapstructure:"store"`
	Redis     RedisConfig              `yaml:"redis" mapstructure:"redis"`
	Temporal  TemporalConfig           `yaml:"temporal" mapstructure:"temporal"`
	DigiKey   DigiKeyConfig            `yaml:"digikey" mapstructure:"digikey"`
	Mouser    MouserConfig             `yaml:"mouser" mapstructure:"mouser"`
	Octopart  OctopartConfig           `yaml:"octopart" mapstructure:"octopart"`
	Anthropic AnthropicConfig          `yaml:"anthropic" mapstructure:"anthropic"`
	Scrape    ScrapeConfig             `yaml:"scrape" mapstructure:"scrape"`
	Notion    NotionConfig             `yaml:"notion" mapstructure:"notion"`
	Feeds     FeedsConfig              `yaml:"feeds" mapstructure:"feeds"`
	Pipeline  orchestrator.Config      `yaml:"pipeline" mapstructure:"pipeline"`
	Throttle  ThrottleConfig           `yaml:"throttle" mapstructure:"throttle"`
	RateLimit map[string]RateLimitRule `yaml:"rate_limit" mapstructure:"rate_limit"`
	Server    ServerConfig             `yaml:"server" mapstructure:"server"`
	Log       LogConfig                `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// RedisConfig configures the shared counter backend.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// TemporalConfig configures the durable-execution client.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
}

// DigiKeyConfig holds Digi-Key OAuth credentials.
type DigiKeyConfig struct {
	ClientID     string  `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string  `yaml:"client_secret" mapstructure:"client_secret"`
	RateLimitRPS float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
}

// MouserConfig holds the Mouser Search API key.
type MouserConfig struct {
	APIKey       string  `yaml:"api_key" mapstructure:"api_key"`
	RateLimitRPS float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
}

// OctopartConfig holds the Octopart (Nexar) token.
type OctopartConfig struct {
	Token string `yaml:"token" mapstructure:"token"`
}

// AnthropicConfig holds Anthropic API settings for the inference tier.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// ScrapeConfig configures the web-scrape fallback tier.
type ScrapeConfig struct {
	ReaderKey      string `yaml:"reader_key" mapstructure:"reader_key"`
	TargetTemplate string `yaml:"target_template" mapstructure:"target_template"`
}

// NotionConfig holds the staging review queue settings.
type NotionConfig struct {
	Token    string `yaml:"token" mapstructure:"token"`
	ReviewDB string `yaml:"review_db" mapstructure:"review_db"`
}

// FeedsConfig configures supplier price-file ingestion over FTP.
type FeedsConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Dir      string `yaml:"dir" mapstructure:"dir"`
}

// ThrottleConfig bounds concurrent enrichment per organization.
type ThrottleConfig struct {
	MaxConcurrent int64 `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// RateLimitRule is a per-trigger-source request budget.
type RateLimitRule struct {
	Limit  int64         `yaml:"limit" mapstructure:"limit"`
	Window time.Duration `yaml:"window" mapstructure:"window"`
}

// ServerConfig configures the trigger API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("PARTSLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "partsledger.db")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("digikey.rate_limit_rps", 4.0)
	v.SetDefault("mouser.rate_limit_rps", 2.0)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("scrape.target_template", "https://www.digikey.com/en/products/result?keywords=%s")
	v.SetDefault("pipeline.enabled_tiers", source.TierOrder)
	v.SetDefault("pipeline.tier_retries", 2)
	v.SetDefault("pipeline.tier_timeout", "30s")
	v.SetDefault("pipeline.retry_backoff", "500ms")
	v.SetDefault("pipeline.quality_weights.completeness", 32)
	v.SetDefault("pipeline.quality_weights.compliance", 8)
	v.SetDefault("pipeline.quality_weights.pricing", 35)
	v.SetDefault("pipeline.quality_weights.description", 25)
	v.SetDefault("throttle.max_concurrent", 5)
	v.SetDefault("rate_limit.customer.limit", 60)
	v.SetDefault("rate_limit.customer.window", "1m")
	v.SetDefault("rate_limit.staff.limit", 600)
	v.SetDefault("rate_limit.staff.window", "1m")
	v.SetDefault("server.port", 8080)
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
