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
	Server     ServerConfig     `mapstructure:"server"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Politeness PolitenessConfig `mapstructure:"politeness"`
	PageRank   PageRankConfig   `mapstructure:"pagerank"`
	Ranking    RankingConfig    `mapstructure:"ranking"`
	DB         DBConfig         `mapstructure:"db"`
	Cache      CacheConfig      `mapstructure:"cache"`
	TextIndex  TextIndexConfig  `mapstructure:"textindex"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlerConfig governs the crawl run loop.
type CrawlerConfig struct {
	Concurrency     int    `mapstructure:"concurrency"`
	UserAgent       string `mapstructure:"user_agent"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	MaxRedirects    int    `mapstructure:"max_redirects"`
	BatchSize       int    `mapstructure:"batch_size"`
	MaxPagesDefault int    `mapstructure:"max_pages_default"`
	MaxTextBytes    int    `mapstructure:"max_text_bytes"`
	IdleWaitMs      int    `mapstructure:"idle_wait_ms"`
}

// PolitenessConfig governs per-host throttling and robots caching.
type PolitenessConfig struct {
	MinIntervalMs    int `mapstructure:"min_interval_ms"`
	RobotsTTLSeconds int `mapstructure:"robots_ttl_seconds"`
	RobotsTimeoutSec int `mapstructure:"robots_timeout_seconds"`
}

// PageRankConfig tunes the iterative computation.
type PageRankConfig struct {
	Damping       float64 `mapstructure:"damping"`
	Threshold     float64 `mapstructure:"threshold"`
	MaxIterations int     `mapstructure:"max_iterations"`
}

// RankingConfig carries the fusion and frontier-priority knobs. The defaults
// are inherited tuning values without a documented derivation; they stay
// overridable rather than hard-coded.
type RankingConfig struct {
	SameDomainPriority  float64 `mapstructure:"same_domain_priority"`
	CrossDomainPriority float64 `mapstructure:"cross_domain_priority"`
	AuthorityScale      float64 `mapstructure:"authority_scale"`
	RecencyHalfLifeDays float64 `mapstructure:"recency_half_life_days"`
	CacheTTLSeconds     int     `mapstructure:"cache_ttl_seconds"`
	SnippetLength       int     `mapstructure:"snippet_length"`
}

// DBConfig controls access to the relational store.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	ConnLifetimeMin int    `mapstructure:"conn_lifetime_minutes"`
}

// CacheConfig selects and configures the short-TTL cache. An empty RedisAddr
// falls back to the in-process cache.
type CacheConfig struct {
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

// TextIndexConfig points at the external text-search service. An empty
// BaseURL falls back to the in-process index.
type TextIndexConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// PubSubConfig holds metadata for crawl-event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ArchiveConfig controls optional raw-page archiving.
type ArchiveConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WEBRANK")
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
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.user_agent", "webrank-bot/0.1")
	v.SetDefault("crawler.timeout_seconds", 15)
	v.SetDefault("crawler.max_redirects", 5)
	v.SetDefault("crawler.batch_size", 16)
	v.SetDefault("crawler.max_pages_default", 100)
	v.SetDefault("crawler.max_text_bytes", 50_000)
	v.SetDefault("crawler.idle_wait_ms", 500)
	v.SetDefault("politeness.min_interval_ms", 1000)
	v.SetDefault("politeness.robots_ttl_seconds", 3600)
	v.SetDefault("politeness.robots_timeout_seconds", 5)
	v.SetDefault("pagerank.damping", 0.85)
	v.SetDefault("pagerank.threshold", 1e-6)
	v.SetDefault("pagerank.max_iterations", 100)
	v.SetDefault("ranking.same_domain_priority", 0.5)
	v.SetDefault("ranking.cross_domain_priority", 0.3)
	v.SetDefault("ranking.authority_scale", 1000)
	v.SetDefault("ranking.recency_half_life_days", 30)
	v.SetDefault("ranking.cache_ttl_seconds", 300)
	v.SetDefault("ranking.snippet_length", 200)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.conn_lifetime_minutes", 30)
	v.SetDefault("textindex.timeout_seconds", 10)
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("archive.content_type", "text/html; charset=utf-8")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if c.PageRank.Damping <= 0 || c.PageRank.Damping >= 1 {
		return fmt.Errorf("pagerank.damping must be in (0, 1)")
	}
	if c.PageRank.MaxIterations <= 0 {
		return fmt.Errorf("pagerank.max_iterations must be > 0")
	}
	if c.Politeness.MinIntervalMs < 0 {
		return fmt.Errorf("politeness.min_interval_ms must be >= 0")
	}
	if c.Archive.Enabled && c.Archive.GCSBucket == "" {
		return fmt.Errorf("archive.gcs_bucket must be set when archiving is enabled")
	}
	return nil
}

// FetchTimeout converts the crawler timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Crawler.TimeoutSeconds) * time.Second
}

// MinHostInterval converts politeness config into a duration.
func (c Config) MinHostInterval() time.Duration {
	return time.Duration(c.Politeness.MinIntervalMs) * time.Millisecond
}

// RobotsTTL converts the robots cache lifetime into a duration.
func (c Config) RobotsTTL() time.Duration {
	return time.Duration(c.Politeness.RobotsTTLSeconds) * time.Second
}

// ResultCacheTTL converts the search cache lifetime into a duration.
func (c Config) ResultCacheTTL() time.Duration {
	return time.Duration(c.Ranking.CacheTTLSeconds) * time.Second
}
