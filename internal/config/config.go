// Package config loads and validates linkcrawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/linkcrawler/internal/checker"
	"github.com/JakeFAU/linkcrawler/internal/progress"
	"github.com/JakeFAU/linkcrawler/internal/report"
)

// EnvPrefix namespaces environment overrides, e.g. LINKCRAWLER_CRAWLER_MAX_DEPTH.
const EnvPrefix = "LINKCRAWLER"

// Config captures every configuration knob.
type Config struct {
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
	Service   ServiceConfig   `mapstructure:"service"`
	Report    ReportConfig    `mapstructure:"report"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// CrawlerConfig holds the crawl defaults.
type CrawlerConfig struct {
	BaseURL             string     `mapstructure:"base_url"`
	MaxDepth            int        `mapstructure:"max_depth"`
	MaxWorkers          int        `mapstructure:"max_workers"`
	TimeoutSeconds      int        `mapstructure:"timeout_seconds"`
	UserAgent           string     `mapstructure:"user_agent"`
	Auth                AuthConfig `mapstructure:"auth"`
	IncludeSubdomains   bool       `mapstructure:"include_subdomains"`
	AllowedHosts        []string   `mapstructure:"allowed_hosts"`
	CrawlTimeoutSeconds int        `mapstructure:"crawl_timeout_seconds"`
	PollIntervalMs      int        `mapstructure:"poll_interval_ms"`
}

// AuthConfig is the optional HTTP Basic credential pair sent on every request.
type AuthConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
}

// ServiceConfig sizes the background run executor.
type ServiceConfig struct {
	Executors  int `mapstructure:"executors"`
	QueueDepth int `mapstructure:"queue_depth"`
}

// ReportConfig selects report format, output, and archive storage.
type ReportConfig struct {
	Format    string `mapstructure:"format"`
	Output    string `mapstructure:"output"`
	Store     string `mapstructure:"store"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls Postgres result archiving. An empty DSN disables it.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	RunsTable       string        `mapstructure:"runs_table"`
	BrokenTable     string        `mapstructure:"broken_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds completion notification settings. Both fields are
// needed to publish to Google Pub/Sub.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	LogEnabled    bool `mapstructure:"log_enabled"`
	BufferSize    int  `mapstructure:"buffer_size"`
	SinkTimeoutMs int  `mapstructure:"sink_timeout_ms"`
	Batch         struct {
		MaxEvents       int `mapstructure:"max_events"`
		FlushIntervalMs int `mapstructure:"flush_interval_ms"`
	} `mapstructure:"batch"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// NewViper returns a Viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load reads the optional config file at path into v and decodes it. A nil
// v uses NewViper.
func Load(v *viper.Viper, path string) (Config, error) {
	if v == nil {
		v = NewViper()
	}
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
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.base_url", "")
	v.SetDefault("crawler.max_depth", checker.DefaultMaxDepth)
	v.SetDefault("crawler.max_workers", checker.DefaultMaxWorkers)
	v.SetDefault("crawler.timeout_seconds", int(checker.DefaultTimeout/time.Second))
	v.SetDefault("crawler.user_agent", checker.DefaultUserAgent)
	v.SetDefault("crawler.auth.username", "")
	v.SetDefault("crawler.auth.password", "")
	v.SetDefault("crawler.include_subdomains", false)
	v.SetDefault("crawler.allowed_hosts", []string{})
	v.SetDefault("crawler.crawl_timeout_seconds", 0)
	v.SetDefault("crawler.poll_interval_ms", 25)
	v.SetDefault("logging.development", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("service.executors", 2)
	v.SetDefault("service.queue_depth", 64)
	v.SetDefault("report.format", string(report.FormatText))
	v.SetDefault("report.output", "")
	v.SetDefault("report.store", "memory")
	v.SetDefault("report.base_dir", "data/reports")
	v.SetDefault("report.gcs_bucket", "")
	v.SetDefault("report.prefix", "reports")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.runs_table", "crawl_runs")
	v.SetDefault("db.broken_table", "broken_resources")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", time.Hour)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", false)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.sink_timeout_ms", 2000)
	v.SetDefault("progress.batch.max_events", 500)
	v.SetDefault("progress.batch.flush_interval_ms", 250)
	v.SetDefault("telemetry.service_name", "linkcrawler")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces values every command needs. The crawl command also
// requires crawler.base_url; see ValidateCrawl.
func (c Config) Validate() error {
	var errs []error
	if c.Crawler.MaxDepth < 0 {
		errs = append(errs, errors.New("crawler.max_depth must be >= 0"))
	}
	if c.Crawler.MaxWorkers < 1 {
		errs = append(errs, errors.New("crawler.max_workers must be >= 1"))
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("crawler.timeout_seconds must be > 0"))
	}
	if c.Crawler.CrawlTimeoutSeconds < 0 {
		errs = append(errs, errors.New("crawler.crawl_timeout_seconds must be >= 0"))
	}
	if (c.Crawler.Auth.Username == "") != (c.Crawler.Auth.Password == "") {
		errs = append(errs, errors.New("crawler.auth needs both username and password"))
	}
	if _, err := report.ParseFormat(c.Report.Format); err != nil {
		errs = append(errs, fmt.Errorf("report.format: %w", err))
	}
	switch c.Report.Store {
	case "memory", "local":
	case "gcs":
		if c.Report.GCSBucket == "" {
			errs = append(errs, errors.New("report.gcs_bucket must be set when report.store is gcs"))
		}
	default:
		errs = append(errs, fmt.Errorf("report.store %q must be memory, local, or gcs", c.Report.Store))
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		errs = append(errs, errors.New("pubsub needs both project_id and topic_name"))
	}
	return errors.Join(errs...)
}

// ValidateServe adds the checks specific to the HTTP service.
func (c Config) ValidateServe() error {
	var errs []error
	if err := c.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if c.Service.Executors < 1 {
		errs = append(errs, errors.New("service.executors must be >= 1"))
	}
	return errors.Join(errs...)
}

// ValidateCrawl adds the checks specific to a one-shot crawl.
func (c Config) ValidateCrawl() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if _, err := checker.NormalizeConfig(c.CheckerConfig()); err != nil {
		return fmt.Errorf("crawler: %w", err)
	}
	return nil
}

// CheckerConfig converts the crawler section into a checker.Config.
func (c Config) CheckerConfig() checker.Config {
	return checker.Config{
		BaseURL:           c.Crawler.BaseURL,
		MaxDepth:          c.Crawler.MaxDepth,
		MaxWorkers:        c.Crawler.MaxWorkers,
		Timeout:           time.Duration(c.Crawler.TimeoutSeconds) * time.Second,
		UserAgent:         c.Crawler.UserAgent,
		Username:          c.Crawler.Auth.Username,
		Password:          c.Crawler.Auth.Password,
		IncludeSubdomains: c.Crawler.IncludeSubdomains,
		AllowedHosts:      append([]string(nil), c.Crawler.AllowedHosts...),
		CrawlTimeout:      time.Duration(c.Crawler.CrawlTimeoutSeconds) * time.Second,
		PollInterval:      time.Duration(c.Crawler.PollIntervalMs) * time.Millisecond,
	}
}

// ReportFormat returns the parsed report format.
func (c Config) ReportFormat() report.Format {
	format, err := report.ParseFormat(c.Report.Format)
	if err != nil {
		return report.FormatText
	}
	return format
}

// HubConfig converts the progress section into a progress.Config.
func (c Config) HubConfig() progress.Config {
	return progress.Config{
		BufferSize:     c.Progress.BufferSize,
		MaxBatchEvents: c.Progress.Batch.MaxEvents,
		FlushInterval:  time.Duration(c.Progress.Batch.FlushIntervalMs) * time.Millisecond,
		SinkTimeout:    time.Duration(c.Progress.SinkTimeoutMs) * time.Millisecond,
	}
}
