// Package config loads and validates archiver configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Admission AdmissionConfig `mapstructure:"admission"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Discover  DiscoverConfig  `mapstructure:"discover"`
	State     StateConfig     `mapstructure:"state"`
	Output    OutputConfig    `mapstructure:"output"`
	Metadata  MetadataConfig  `mapstructure:"metadata"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the optional status HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// EntryPoint names a seed URL and the section its links belong to.
type EntryPoint struct {
	URL     string `mapstructure:"url"`
	Section string `mapstructure:"section"`
}

// CrawlerConfig governs queueing and the crawl pipeline.
type CrawlerConfig struct {
	EntryPoints    []EntryPoint  `mapstructure:"entry_points"`
	Concurrency    int           `mapstructure:"concurrency"`
	Interval       time.Duration `mapstructure:"interval"`
	IntervalCap    int           `mapstructure:"interval_cap"`
	UserAgent      string        `mapstructure:"user_agent"`
	NavTimeout     time.Duration `mapstructure:"nav_timeout"`
	RetryFailed    bool          `mapstructure:"retry_failed"`
	MaxTaskHistory int           `mapstructure:"max_task_history"`
	// TranslateScript optionally runs in each page after extraction.
	TranslateScript string `mapstructure:"translate_script"`
}

// AdmissionConfig restricts which discovered URLs are crawlable.
type AdmissionConfig struct {
	AllowedDomains     []string `mapstructure:"allowed_domains"`
	IncludeSubdomains  bool     `mapstructure:"include_subdomains"`
	BasePath           string   `mapstructure:"base_path"`
	IgnoredURLs        []string `mapstructure:"ignored_urls"`
	IgnoredURLPatterns []string `mapstructure:"ignored_url_patterns"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	MaxTabs   int     `mapstructure:"max_tabs"`
	DomainQPS float64 `mapstructure:"domain_qps"`
	ExecPath  string  `mapstructure:"exec_path"`
	PDF       PDF     `mapstructure:"pdf"`
}

// PDF holds print-to-PDF options.
type PDF struct {
	Landscape       bool    `mapstructure:"landscape"`
	PrintBackground bool    `mapstructure:"print_background"`
	Scale           float64 `mapstructure:"scale"`
}

// DiscoverConfig tunes the entry-point link collector.
type DiscoverConfig struct {
	Delay   time.Duration `mapstructure:"delay"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// StateConfig controls crawl-state persistence.
type StateConfig struct {
	Dir              string        `mapstructure:"dir"`
	SaveDebounce     time.Duration `mapstructure:"save_debounce"`
	AutosaveInterval time.Duration `mapstructure:"autosave_interval"`
}

// OutputConfig sets artifact formats and the blob backend.
type OutputConfig struct {
	Formats []string `mapstructure:"formats"`
	// ObjectPrefix namespaces artifact object names within the provider.
	ObjectPrefix string `mapstructure:"object_prefix"`
	Provider     string `mapstructure:"provider"`
	Dir          string `mapstructure:"dir"`
	GCSBucket    string `mapstructure:"gcs_bucket"`
	GCSPrefix    string `mapstructure:"gcs_prefix"`
}

// MetadataConfig selects the metadata repository backend.
type MetadataConfig struct {
	Backend      string `mapstructure:"backend"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// PublisherConfig holds notification publisher settings.
type PublisherConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DOCS_ARCHIVER")
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
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.concurrency", 3)
	v.SetDefault("crawler.interval", "1s")
	v.SetDefault("crawler.interval_cap", 0)
	v.SetDefault("crawler.user_agent", "docs-archiver/1.0 (+https://github.com/JakeFAU/docs-archiver)")
	v.SetDefault("crawler.nav_timeout", "30s")
	v.SetDefault("crawler.retry_failed", true)
	v.SetDefault("crawler.max_task_history", 1000)
	v.SetDefault("admission.include_subdomains", false)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.max_tabs", 3)
	v.SetDefault("headless.domain_qps", 1)
	v.SetDefault("headless.pdf.print_background", true)
	v.SetDefault("headless.pdf.scale", 1)
	v.SetDefault("discover.delay", "250ms")
	v.SetDefault("discover.timeout", "20s")
	v.SetDefault("state.dir", "data/state")
	v.SetDefault("state.save_debounce", "5s")
	v.SetDefault("state.autosave_interval", "30s")
	v.SetDefault("output.formats", []string{"markdown", "pdf"})
	v.SetDefault("output.provider", "local")
	v.SetDefault("output.dir", "data/docs")
	v.SetDefault("metadata.backend", "file")
	v.SetDefault("metadata.max_open_conns", 4)
	v.SetDefault("publisher.provider", "noop")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the server is enabled")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.IntervalCap < 0 {
		return fmt.Errorf("crawler.interval_cap must be >= 0")
	}
	if c.Crawler.IntervalCap > 0 && c.Crawler.Interval <= 0 {
		return fmt.Errorf("crawler.interval must be > 0 when interval_cap is set")
	}
	if c.Headless.Enabled && c.Headless.MaxTabs <= 0 {
		return fmt.Errorf("headless.max_tabs must be > 0 when headless is enabled")
	}
	for _, f := range c.Output.Formats {
		if f != "markdown" && f != "pdf" {
			return fmt.Errorf("output.formats: unknown format %q", f)
		}
	}
	switch c.Output.Provider {
	case "local", "gcs", "memory", "noop":
	default:
		return fmt.Errorf("output.provider: unknown provider %q", c.Output.Provider)
	}
	if c.Output.Provider == "gcs" && c.Output.GCSBucket == "" {
		return fmt.Errorf("output.gcs_bucket must be set when output.provider is gcs")
	}
	switch c.Metadata.Backend {
	case "file", "postgres", "noop":
	default:
		return fmt.Errorf("metadata.backend: unknown backend %q", c.Metadata.Backend)
	}
	if c.Metadata.Backend == "postgres" && c.Metadata.DSN == "" {
		return fmt.Errorf("metadata.dsn must be set when metadata.backend is postgres")
	}
	switch c.Publisher.Provider {
	case "noop", "memory", "pubsub":
	default:
		return fmt.Errorf("publisher.provider: unknown provider %q", c.Publisher.Provider)
	}
	if c.Publisher.Provider == "pubsub" && (c.Publisher.ProjectID == "" || c.Publisher.TopicName == "") {
		return fmt.Errorf("publisher.project_id and publisher.topic_name must be set when publisher.provider is pubsub")
	}
	return nil
}

// WantsFormat reports whether the named artifact format is enabled.
func (c OutputConfig) WantsFormat(name string) bool {
	for _, f := range c.Formats {
		if f == name {
			return true
		}
	}
	return false
}
