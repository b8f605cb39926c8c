// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	DB      DBConfig      `mapstructure:"db"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Pruning PruningConfig `mapstructure:"pruning"`
	Ops     OpsConfig     `mapstructure:"ops"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// DBConfig controls access to the Postgres queue store. An empty DSN selects
// the in-memory store, which is only useful for local experiments.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// CrawlerConfig governs the worker pool and the per-job pipeline.
type CrawlerConfig struct {
	Workers           int    `mapstructure:"workers"`
	Concurrency       int    `mapstructure:"concurrency"`
	MaxRetries        int    `mapstructure:"max_retries"`
	DelayMs           int    `mapstructure:"delay_ms"`
	SleepMs           int    `mapstructure:"sleep_ms"`
	UserAgent         string `mapstructure:"user_agent"`
	RequestTimeoutSec int    `mapstructure:"request_timeout_seconds"`
	NavTimeoutSec     int    `mapstructure:"nav_timeout_seconds"`
}

// PruningConfig tunes the bad-source circuit breaker.
type PruningConfig struct {
	Enabled            bool  `mapstructure:"enabled"`
	FailureThreshold   int64 `mapstructure:"failure_threshold"`
	DoneCountThreshold int64 `mapstructure:"done_count_threshold"`
}

// OpsConfig configures the operational HTTP endpoint (metrics, health, status).
type OpsConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features. Level, when set,
// overrides the mode's default (debug in development, info in production).
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLD")
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
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("crawler.workers", 0)
	v.SetDefault("crawler.concurrency", 5)
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.delay_ms", 1000)
	v.SetDefault("crawler.sleep_ms", 5000)
	v.SetDefault("crawler.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")
	v.SetDefault("crawler.request_timeout_seconds", 30)
	v.SetDefault("crawler.nav_timeout_seconds", 60)
	v.SetDefault("pruning.enabled", true)
	v.SetDefault("pruning.failure_threshold", 500)
	v.SetDefault("pruning.done_count_threshold", 0)
	v.SetDefault("ops.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.MaxRetries < 0 {
		return fmt.Errorf("crawler.max_retries must be >= 0")
	}
	if c.Crawler.Workers < 0 {
		return fmt.Errorf("crawler.workers must be >= 0")
	}
	if c.Crawler.NavTimeoutSec <= 0 {
		return fmt.Errorf("crawler.nav_timeout_seconds must be > 0")
	}
	if c.Pruning.Enabled && c.Pruning.FailureThreshold <= 0 {
		return fmt.Errorf("pruning.failure_threshold must be > 0 when pruning is enabled")
	}
	if c.Ops.Port <= 0 {
		return fmt.Errorf("ops.port must be > 0")
	}
	return nil
}

// Delay returns the fixed pause applied between claim batches.
func (c CrawlerConfig) Delay() time.Duration {
	return time.Duration(c.DelayMs) * time.Millisecond
}

// Sleep returns the backoff applied when the queue has no eligible jobs.
func (c CrawlerConfig) Sleep() time.Duration {
	return time.Duration(c.SleepMs) * time.Millisecond
}

// RequestTimeout bounds a lightweight HTTP fetch.
func (c CrawlerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// NavTimeout bounds a browser navigation.
func (c CrawlerConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSec) * time.Second
}
