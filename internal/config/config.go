// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/JakeFAU/quote-crawler/internal/planner"
	"github.com/JakeFAU/quote-crawler/internal/site"
)

// Defaults applied to crawl input that is missing or not numeric.
const (
	DefaultMaxPages = 5
	DefaultMaxItems = 200
)

// Sink kinds accepted in sink.kinds.
const (
	SinkMemory   = "memory"
	SinkJSONL    = "jsonl"
	SinkGCS      = "gcs"
	SinkPostgres = "postgres"
	SinkPubSub   = "pubsub"
)

// DefaultUserAgents are rotated per request when crawler.user_agents is unset.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14.2; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
}

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Input    InputConfig    `mapstructure:"input"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Site     SiteConfig     `mapstructure:"site"`
	Sink     SinkConfig     `mapstructure:"sink"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// InputConfig is the raw crawl request. Loosely typed fields are coerced by Request.
type InputConfig struct {
	Topic              any         `mapstructure:"topic"`
	Topics             any         `mapstructure:"topics"`
	Author             string      `mapstructure:"author"`
	StartURLs          any         `mapstructure:"startUrls"`
	MaxPages           any         `mapstructure:"maxPages"`
	MaxItems           any         `mapstructure:"maxItems"`
	PreferAPI          bool        `mapstructure:"preferApi"`
	ProxyConfiguration ProxyConfig `mapstructure:"proxyConfiguration"`
}

// ProxyConfig is handed to the fetchers untouched.
type ProxyConfig struct {
	ProxyURLs []string `mapstructure:"proxyUrls"`
}

// CrawlerConfig governs dispatch and politeness.
type CrawlerConfig struct {
	Concurrency    int      `mapstructure:"concurrency"`
	UserAgents     []string `mapstructure:"user_agents"`
	RespectRobots  bool     `mapstructure:"respect_robots"`
	RateLimitRPS   float64  `mapstructure:"rate_limit_rps"`
	RateLimitBurst int      `mapstructure:"rate_limit_burst"`
}

// HTTPConfig configures the static and API fetcher.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// HeadlessConfig configures the rendered fetcher.
type HeadlessConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	MaxParallel     int      `mapstructure:"max_parallel"`
	NavTimeoutSec   int      `mapstructure:"nav_timeout_seconds"`
	ContentWaitSec  int      `mapstructure:"content_wait_seconds"`
	ContentSelector string   `mapstructure:"content_selector"`
	BlockResources  bool     `mapstructure:"block_resources"`
	BlockedHosts    []string `mapstructure:"blocked_hosts"`
}

// SiteConfig points the crawler at the quote site.
type SiteConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// SinkConfig selects and configures record sinks.
type SinkConfig struct {
	Kinds    []string       `mapstructure:"kinds"`
	JSONL    JSONLConfig    `mapstructure:"jsonl"`
	GCS      GCSConfig      `mapstructure:"gcs"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
}

// JSONLConfig sets the local output file.
type JSONLConfig struct {
	Path string `mapstructure:"path"`
}

// GCSConfig sets the destination bucket.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PostgresConfig controls the Postgres sink.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// PubSubConfig holds the destination topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// MetricsConfig controls the ops HTTP endpoint. Empty ListenAddr disables it.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	APIKey     string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Request is the coerced crawl input.
type Request struct {
	Plan      planner.Input
	MaxItems  int
	PreferAPI bool
	ProxyURLs []string
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	return LoadWith(viper.New(), path, "")
}

// LoadWith reads configuration through v, which may already carry bound
// flags. inputPath names an optional JSON/YAML file holding the input section
// at its top level.
func LoadWith(v *viper.Viper, path, inputPath string) (Config, error) {
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	if inputPath != "" {
		in := viper.New()
		in.SetConfigFile(inputPath)
		if err := in.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read input: %w", err)
		}
		if err := v.MergeConfigMap(map[string]any{"input": in.AllSettings()}); err != nil {
			return Config{}, fmt.Errorf("merge input: %w", err)
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
	v.SetDefault("input.topic", "")
	v.SetDefault("input.topics", "")
	v.SetDefault("input.author", "")
	v.SetDefault("input.startUrls", "")
	v.SetDefault("input.proxyConfiguration.proxyUrls", []string{})
	v.SetDefault("input.maxPages", DefaultMaxPages)
	v.SetDefault("input.maxItems", DefaultMaxItems)
	v.SetDefault("input.preferApi", true)
	v.SetDefault("crawler.concurrency", 1)
	v.SetDefault("crawler.user_agents", DefaultUserAgents)
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.rate_limit_rps", 2.0)
	v.SetDefault("crawler.rate_limit_burst", 1)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("headless.content_wait_seconds", 10)
	v.SetDefault("headless.content_selector", "a.b-qt")
	v.SetDefault("headless.block_resources", true)
	v.SetDefault("headless.blocked_hosts", []string{})
	v.SetDefault("site.base_url", site.DefaultBaseURL)
	v.SetDefault("sink.kinds", []string{SinkJSONL})
	v.SetDefault("sink.jsonl.path", "output/quotes.jsonl")
	v.SetDefault("sink.gcs.bucket", "")
	v.SetDefault("sink.gcs.prefix", "quotes")
	v.SetDefault("sink.postgres.dsn", "")
	v.SetDefault("sink.postgres.table", "quotes")
	v.SetDefault("sink.postgres.ensure_schema", true)
	v.SetDefault("sink.pubsub.project_id", "")
	v.SetDefault("sink.pubsub.topic_id", "")
	v.SetDefault("metrics.listen_addr", "")
	v.SetDefault("metrics.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.RateLimitRPS < 0 {
		return fmt.Errorf("crawler.rate_limit_rps must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if _, err := site.New(c.Site.BaseURL); err != nil {
		return fmt.Errorf("site.base_url: %w", err)
	}
	return c.Sink.validate()
}

func (s SinkConfig) validate() error {
	if len(s.Kinds) == 0 {
		return fmt.Errorf("sink.kinds must name at least one sink")
	}
	seen := make(map[string]bool, len(s.Kinds))
	for _, kind := range s.Kinds {
		if seen[kind] {
			return fmt.Errorf("sink.kinds lists %q twice", kind)
		}
		seen[kind] = true
		switch kind {
		case SinkMemory:
		case SinkJSONL:
			if strings.TrimSpace(s.JSONL.Path) == "" {
				return fmt.Errorf("sink.jsonl.path is required for the jsonl sink")
			}
		case SinkGCS:
			if s.GCS.Bucket == "" {
				return fmt.Errorf("sink.gcs.bucket is required for the gcs sink")
			}
		case SinkPostgres:
			if s.Postgres.DSN == "" {
				return fmt.Errorf("sink.postgres.dsn is required for the postgres sink")
			}
		case SinkPubSub:
			if s.PubSub.ProjectID == "" || s.PubSub.TopicID == "" {
				return fmt.Errorf("sink.pubsub.project_id and sink.pubsub.topic_id are required for the pubsub sink")
			}
		default:
			return fmt.Errorf("unknown sink kind %q", kind)
		}
	}
	return nil
}

// Request coerces the input section into planner input. Malformed topic or
// start URL values are reported as *crawler.PlanningError.
func (c Config) Request() (Request, error) {
	topics, err := planner.ParseTopics(c.Input.Topic)
	if err != nil {
		return Request{}, err
	}
	more, err := planner.ParseTopics(c.Input.Topics)
	if err != nil {
		return Request{}, err
	}
	startURLs, err := planner.ParseStartURLs(c.Input.StartURLs)
	if err != nil {
		return Request{}, err
	}
	return Request{
		Plan: planner.Input{
			Topics:    append(topics, more...),
			Author:    c.Input.Author,
			StartURLs: startURLs,
			MaxPages:  min(coerceCount(c.Input.MaxPages, DefaultMaxPages), planner.MaxPagesLimit),
		},
		MaxItems:  coerceCount(c.Input.MaxItems, DefaultMaxItems),
		PreferAPI: c.Input.PreferAPI,
		ProxyURLs: c.Input.ProxyConfiguration.ProxyURLs,
	}, nil
}

// HTTPTimeout converts http.timeout_seconds.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// coerceCount reads a numeric option: missing or non-numeric values take def,
// anything below 1 becomes 1.
func coerceCount(raw any, def int) int {
	switch v := raw.(type) {
	case nil:
		return def
	case string:
		if strings.TrimSpace(v) == "" {
			return def
		}
		raw = strings.TrimSpace(v)
	}
	n, err := cast.ToFloat64E(raw)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return def
	}
	if n < 1 {
		return 1
	}
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(n)
}
