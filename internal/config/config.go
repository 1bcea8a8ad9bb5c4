// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper. Every
// component receives the slice of configuration it needs explicitly; there is
// no process-wide mutable credential state.
type Config struct {
	Site     SiteConfig     `mapstructure:"site"`
	Vision   VisionConfig   `mapstructure:"vision"`
	OCR      OCRConfig      `mapstructure:"ocr"`
	Captcha  CaptchaConfig  `mapstructure:"captcha"`
	Runner   RunnerConfig   `mapstructure:"runner"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SiteConfig describes the target posting site and session behavior.
type SiteConfig struct {
	BaseURL        string            `mapstructure:"base_url"`
	SearchRoute    string            `mapstructure:"search_route"`
	UserAgent      string            `mapstructure:"user_agent"`
	TimeoutSeconds int               `mapstructure:"timeout_seconds"`
	PageDelayMs    int               `mapstructure:"page_delay_ms"`
	CountyIDs      map[string]string `mapstructure:"county_ids"`
}

// VisionConfig configures the vision-model recognizer strategy.
type VisionConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// OCRConfig configures the remote image-to-text engine used as the classical
// OCR fallback strategy.
type OCRConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	PollIntervalMs int    `mapstructure:"poll_interval_ms"`
	MaxPolls       int    `mapstructure:"max_polls"`
}

// CaptchaConfig governs the challenge-solve loop.
type CaptchaConfig struct {
	MaxAttempts   int `mapstructure:"max_attempts"`
	BackoffBaseMs int `mapstructure:"backoff_base_ms"`
	BackoffMaxMs  int `mapstructure:"backoff_max_ms"`
	MinGuessLen   int `mapstructure:"min_guess_len"`
	MaxGuessLen   int `mapstructure:"max_guess_len"`
}

// RunnerConfig governs run sequencing.
type RunnerConfig struct {
	InterRunDelaySeconds int `mapstructure:"inter_run_delay_seconds"`
}

// HeadlessConfig configures the chromedp fallback renderer.
type HeadlessConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	MaxParallel    int      `mapstructure:"max_parallel"`
	NavTimeoutSec  int      `mapstructure:"nav_timeout_seconds"`
	DomainQPS      float64  `mapstructure:"domain_qps"`
	MinHTMLBytes   int      `mapstructure:"min_html_bytes"`
	MarkerKeywords []string `mapstructure:"marker_keywords"`
}

// StorageConfig sets backend and paths for blob persistence.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	LocalDir    string `mapstructure:"local_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
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

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SALECRAWLER")
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
	v.SetDefault("site.base_url", "https://elitepostandpub.com")
	v.SetDefault("site.search_route", "orders/search")
	v.SetDefault("site.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("site.timeout_seconds", 30)
	v.SetDefault("site.page_delay_ms", 1000)
	v.SetDefault("site.county_ids", map[string]string{"king": "94"})
	v.SetDefault("vision.model", "gpt-4o")
	v.SetDefault("vision.timeout_seconds", 30)
	v.SetDefault("ocr.timeout_seconds", 30)
	v.SetDefault("ocr.poll_interval_ms", 2000)
	v.SetDefault("ocr.max_polls", 15)
	v.SetDefault("captcha.max_attempts", 3)
	v.SetDefault("captcha.backoff_base_ms", 500)
	v.SetDefault("captcha.backoff_max_ms", 5000)
	v.SetDefault("captcha.min_guess_len", 4)
	v.SetDefault("captcha.max_guess_len", 8)
	v.SetDefault("runner.inter_run_delay_seconds", 3)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.domain_qps", 0.5)
	v.SetDefault("headless.min_html_bytes", 2000)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_dir", "data/results")
	v.SetDefault("storage.prefix", "results")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("db.table", "payloads")
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Site.BaseURL == "" {
		return fmt.Errorf("site.base_url must be set")
	}
	if c.Site.TimeoutSeconds <= 0 {
		return fmt.Errorf("site.timeout_seconds must be > 0")
	}
	if c.Captcha.MaxAttempts <= 0 {
		return fmt.Errorf("captcha.max_attempts must be > 0")
	}
	if c.Captcha.MinGuessLen <= 0 || c.Captcha.MaxGuessLen < c.Captcha.MinGuessLen {
		return fmt.Errorf("captcha guess length bounds are invalid")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Storage.Backend {
	case "local", "memory":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of local, memory, gcs")
	}
	return nil
}

// SiteTimeout returns the per-call timeout for site requests.
func (c Config) SiteTimeout() time.Duration {
	return time.Duration(c.Site.TimeoutSeconds) * time.Second
}

// InterRunDelay returns the enforced delay between sequential runs.
func (c Config) InterRunDelay() time.Duration {
	return time.Duration(c.Runner.InterRunDelaySeconds) * time.Second
}

// CountyID resolves the site's numeric county identifier, case-insensitively.
func (c Config) CountyID(county string) (string, bool) {
	id, ok := c.Site.CountyIDs[strings.ToLower(strings.TrimSpace(county))]
	return id, ok
}
