// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nvisser/tablehawk/internal/crawl"
	"github.com/nvisser/tablehawk/internal/sink"
)

const defaultUserAgent = "tablehawk/1.0 (+https://github.com/nvisser/tablehawk)"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Site     SiteConfig     `mapstructure:"site"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Output   OutputConfig   `mapstructure:"output"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Ops      OpsConfig      `mapstructure:"ops"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SiteConfig identifies the listing site being crawled.
type SiteConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	NotFoundTitle string `mapstructure:"not_found_title"`
}

// CrawlerConfig governs pipeline behavior.
type CrawlerConfig struct {
	Mode             string        `mapstructure:"mode"`
	UserAgent        string        `mapstructure:"user_agent"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	PageDelay        time.Duration `mapstructure:"page_delay"`
	MaxParallelPages int           `mapstructure:"max_parallel_pages"`
	ResultLimit      int           `mapstructure:"result_limit"`
	Enrich           bool          `mapstructure:"enrich"`
	RespectRobots    bool          `mapstructure:"respect_robots"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	MaxParallel   int           `mapstructure:"max_parallel"`
	NavTimeout    time.Duration `mapstructure:"nav_timeout"`
	BodyThreshold int           `mapstructure:"body_threshold"`
}

// OutputConfig selects where and how result documents are written.
type OutputConfig struct {
	Backend   string `mapstructure:"backend"`
	Format    string `mapstructure:"format"`
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// NotifyConfig holds metadata for run-completion notifications.
type NotifyConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// OpsConfig controls the operational HTTP listener.
type OpsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment. An empty path skips the config
// file and relies on defaults plus TABLEHAWK_* environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TABLEHAWK")
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
	v.SetDefault("site.base_url", crawl.DefaultBaseURL)
	v.SetDefault("site.not_found_title", crawl.DefaultNotFoundTitle)
	v.SetDefault("crawler.mode", string(crawl.ModeSequential))
	v.SetDefault("crawler.user_agent", defaultUserAgent)
	v.SetDefault("crawler.request_timeout", "10s")
	v.SetDefault("crawler.page_delay", "2s")
	v.SetDefault("crawler.max_parallel_pages", 4)
	v.SetDefault("crawler.result_limit", 0)
	v.SetDefault("crawler.enrich", true)
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout", "25s")
	v.SetDefault("headless.body_threshold", 2048)
	v.SetDefault("output.backend", "local")
	v.SetDefault("output.format", string(sink.FormatJSON))
	v.SetDefault("output.dir", "data/listings")
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.topic", "crawl-completed")
	v.SetDefault("ops.enabled", false)
	v.SetDefault("ops.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	u, err := url.Parse(c.Site.BaseURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("site.base_url must be an absolute URL")
	}
	switch crawl.Mode(c.Crawler.Mode) {
	case crawl.ModeSequential, crawl.ModeConcurrent:
	default:
		return fmt.Errorf("crawler.mode must be sequential or concurrent")
	}
	if c.Crawler.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	if c.Crawler.PageDelay < 0 {
		return fmt.Errorf("crawler.page_delay must be >= 0")
	}
	if crawl.Mode(c.Crawler.Mode) == crawl.ModeConcurrent && c.Crawler.MaxParallelPages <= 0 {
		return fmt.Errorf("crawler.max_parallel_pages must be > 0 in concurrent mode")
	}
	if c.Crawler.ResultLimit < 0 {
		return fmt.Errorf("crawler.result_limit must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}

	switch sink.Format(c.Output.Format) {
	case sink.FormatJSON:
	case sink.FormatCSV:
		if c.Crawler.Enrich {
			return fmt.Errorf("output.format csv requires crawler.enrich=false")
		}
	default:
		return fmt.Errorf("output.format must be json or csv")
	}
	switch c.Output.Backend {
	case "local":
		if c.Output.Dir == "" {
			return fmt.Errorf("output.dir must be set for the local backend")
		}
	case "gcs":
		if c.Output.GCSBucket == "" {
			return fmt.Errorf("output.gcs_bucket must be set for the gcs backend")
		}
	case "memory":
	default:
		return fmt.Errorf("output.backend must be local, gcs, or memory")
	}

	if c.Notify.Enabled {
		if c.Notify.ProjectID == "" {
			return fmt.Errorf("notify.project_id must be set when notify is enabled")
		}
		if c.Notify.Topic == "" {
			return fmt.Errorf("notify.topic must be set when notify is enabled")
		}
	}
	if c.Ops.Enabled && c.Ops.Port <= 0 {
		return fmt.Errorf("ops.port must be > 0 when ops is enabled")
	}
	return nil
}

// CrawlConfig converts the loaded settings into the pipeline's config.
func (c Config) CrawlConfig() crawl.Config {
	topic := ""
	if c.Notify.Enabled {
		topic = c.Notify.Topic
	}
	return crawl.Config{
		BaseURL:          c.Site.BaseURL,
		NotFoundTitle:    c.Site.NotFoundTitle,
		Mode:             crawl.Mode(c.Crawler.Mode),
		PageDelay:        c.Crawler.PageDelay,
		MaxParallelPages: c.Crawler.MaxParallelPages,
		ResultLimit:      c.Crawler.ResultLimit,
		Enrich:           c.Crawler.Enrich,
		Format:           sink.Format(c.Output.Format),
		Topic:            topic,
		HeadlessEnabled:  c.Headless.Enabled,
	}
}
