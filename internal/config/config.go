// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Auth          AuthConfig          `mapstructure:"auth"`
	WeChat        WeChatConfig        `mapstructure:"wechat"`
	Crawler       CrawlerConfig       `mapstructure:"crawler"`
	HTTP          HTTPConfig          `mapstructure:"http"`
	Headless      HeadlessConfig      `mapstructure:"headless"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Mongo         MongoConfig         `mapstructure:"mongo"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	PubSub        PubSubConfig        `mapstructure:"pubsub"`
	RateLimit     RateLimitConfig     `mapstructure:"ratelimit"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// WeChatConfig holds the authenticated session used against the public
// account platform.
type WeChatConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	Token     string `mapstructure:"token"`
	Cookie    string `mapstructure:"cookie"`
	UserAgent string `mapstructure:"user_agent"`
}

// CrawlerConfig governs coordinator behavior.
type CrawlerConfig struct {
	Workers int `mapstructure:"workers"`
}

// HTTPConfig configures the detail-page fetch budget.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// StorageConfig selects and configures the snapshot backend.
type StorageConfig struct {
	// Backend is one of gcs, local, memory.
	Backend     string `mapstructure:"backend"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	LocalDir    string `mapstructure:"local_dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DatabaseConfig controls access to the relational run-history store.
type DatabaseConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MinConns     int    `mapstructure:"min_conns"`
}

// MongoConfig controls the article document store.
type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// ElasticsearchConfig controls the full-text search index.
type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
}

// PubSubConfig holds metadata for persisted-article notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// RateLimitConfig bounds outbound request rates per domain.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MPHARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("wechat.base_url", "https://mp.weixin.qq.com")
	v.SetDefault("crawler.workers", 3)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "articles")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("mongo.database", "mpharvest")
	v.SetDefault("mongo.collection", "articles")
	v.SetDefault("elasticsearch.index", "mpharvest-articles")
	v.SetDefault("ratelimit.rps", 0.5)
	v.SetDefault("ratelimit.burst", 1)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.WeChat.Token == "" {
		return fmt.Errorf("wechat.token is required")
	}
	if c.WeChat.Cookie == "" {
		return fmt.Errorf("wechat.cookie is required")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for the local backend")
		}
	case "memory", "":
	default:
		return fmt.Errorf("storage.backend must be gcs, local, or memory")
	}
	return nil
}

// FetchBudget converts the HTTP timeout config into a duration.
func (c Config) FetchBudget() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
