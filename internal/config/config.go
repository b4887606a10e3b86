// Package config loads and validates cache warmer configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig `mapstructure:"logging"`
	Warmer    WarmerConfig  `mapstructure:"warmer"`
	Countries []Country     `mapstructure:"countries"`
	Sitemap   SitemapConfig `mapstructure:"sitemap"`
	Purge     PurgeConfig   `mapstructure:"purge"`
	RunLog    RunLogConfig  `mapstructure:"runlog"`
	Notify    NotifyConfig  `mapstructure:"notify"`
	Metrics   MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// WarmerConfig governs the pool and the retrying fetch client.
type WarmerConfig struct {
	Concurrency      int           `mapstructure:"concurrency"`
	Pause            time.Duration `mapstructure:"pause"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	MaxRetries       int           `mapstructure:"max_retries"`
	BackoffBase      time.Duration `mapstructure:"backoff_base"`
	BackoffMax       time.Duration `mapstructure:"backoff_max"`
	Jitter           time.Duration `mapstructure:"jitter"`
	RateLimitPerHost float64       `mapstructure:"rate_limit_per_host"`
	RateLimitBurst   int           `mapstructure:"rate_limit_burst"`
	UserAgent        string        `mapstructure:"user_agent"`
}

// Country is one egress route. Proxy may be given inline or through the
// environment variable named by ProxyEnv.
type Country struct {
	Code      string `mapstructure:"code"`
	Domain    string `mapstructure:"domain"`
	Proxy     string `mapstructure:"proxy"`
	ProxyEnv  string `mapstructure:"proxy_env"`
	UserAgent string `mapstructure:"user_agent"`
}

// ResolveProxy returns the inline proxy or the value of ProxyEnv. An empty
// result means the country has no route and is skipped.
func (c Country) ResolveProxy(lookup func(string) (string, bool)) string {
	if p := strings.TrimSpace(c.Proxy); p != "" {
		return p
	}
	if c.ProxyEnv == "" || lookup == nil {
		return ""
	}
	v, _ := lookup(c.ProxyEnv)
	return strings.TrimSpace(v)
}

// SitemapConfig controls URL discovery.
type SitemapConfig struct {
	IndexPath   string `mapstructure:"index_path"`
	MaxURLs     int    `mapstructure:"max_urls"`
	Parallelism int    `mapstructure:"parallelism"`
	Shuffle     bool   `mapstructure:"shuffle"`
}

// PurgeConfig holds CDN purge credentials and batching.
type PurgeConfig struct {
	Provider  string        `mapstructure:"provider"`
	BaseURL   string        `mapstructure:"base_url"`
	ZoneID    string        `mapstructure:"zone_id"`
	APIToken  string        `mapstructure:"api_token"`
	BatchSize int           `mapstructure:"batch_size"`
	Pause     time.Duration `mapstructure:"pause"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// Configured reports whether credentials are present.
func (p PurgeConfig) Configured() bool {
	return p.Provider != "" && p.Provider != "none" && p.ZoneID != "" && p.APIToken != ""
}

// RunLogConfig selects and configures the run log sink.
type RunLogConfig struct {
	Sink       string         `mapstructure:"sink"`
	ZoneName   string         `mapstructure:"zone_name"`
	ZoneOffset time.Duration  `mapstructure:"zone_offset"`
	Webhook    WebhookConfig  `mapstructure:"webhook"`
	Postgres   PostgresConfig `mapstructure:"postgres"`
	GCS        GCSConfig      `mapstructure:"gcs"`
	File       FileConfig     `mapstructure:"file"`
}

// WebhookConfig points at the spreadsheet web app.
type WebhookConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// PostgresConfig controls the Postgres sink.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	CreateTable     bool          `mapstructure:"create_table"`
}

// GCSConfig controls the Cloud Storage sink.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// FileConfig controls the local archive sink.
type FileConfig struct {
	Dir    string `mapstructure:"dir"`
	Prefix string `mapstructure:"prefix"`
}

// NotifyConfig controls run summary notifications.
type NotifyConfig struct {
	PubSub PubSubConfig `mapstructure:"pubsub"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Enabled reports whether a topic is configured.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.Topic != ""
}

// MetricsConfig exposes run metrics.
type MetricsConfig struct {
	Addr           string `mapstructure:"addr"`
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// Run log sink names.
const (
	SinkNone     = "none"
	SinkLog      = "log"
	SinkWebhook  = "webhook"
	SinkPostgres = "postgres"
	SinkGCS      = "gcs"
	SinkFile     = "file"
)

var knownSinks = []string{"", SinkNone, SinkLog, SinkWebhook, SinkPostgres, SinkGCS, SinkFile}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CACHEWARMER")
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
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")

	v.SetDefault("warmer.concurrency", 6)
	v.SetDefault("warmer.pause", "100ms")
	v.SetDefault("warmer.request_timeout", "15s")
	v.SetDefault("warmer.max_retries", 3)
	v.SetDefault("warmer.backoff_base", "2s")
	v.SetDefault("warmer.backoff_max", "10s")
	v.SetDefault("warmer.jitter", "300ms")
	v.SetDefault("warmer.rate_limit_per_host", 0)
	v.SetDefault("warmer.rate_limit_burst", 1)
	v.SetDefault("warmer.user_agent", "CacheWarmer/1.0")

	v.SetDefault("sitemap.index_path", "/sitemap_index.xml")
	v.SetDefault("sitemap.max_urls", 5000)
	v.SetDefault("sitemap.parallelism", 4)
	v.SetDefault("sitemap.shuffle", true)

	v.SetDefault("purge.provider", "cloudflare")
	v.SetDefault("purge.base_url", "https://api.cloudflare.com/client/v4")
	v.SetDefault("purge.zone_id", "")
	v.SetDefault("purge.api_token", "")
	v.SetDefault("purge.batch_size", 30)
	v.SetDefault("purge.pause", "500ms")
	v.SetDefault("purge.timeout", "20s")

	v.SetDefault("runlog.sink", SinkNone)
	v.SetDefault("runlog.zone_name", "WITA")
	v.SetDefault("runlog.zone_offset", "8h")
	v.SetDefault("runlog.webhook.url", "")
	v.SetDefault("runlog.webhook.timeout", "20s")
	v.SetDefault("runlog.postgres.dsn", "")
	v.SetDefault("runlog.postgres.table", "warm_log")
	v.SetDefault("runlog.postgres.max_conns", 2)
	v.SetDefault("runlog.postgres.create_table", false)
	v.SetDefault("runlog.gcs.bucket", "")
	v.SetDefault("runlog.gcs.prefix", "warm-logs")
	v.SetDefault("runlog.file.dir", "")
	v.SetDefault("runlog.file.prefix", "")

	v.SetDefault("notify.pubsub.project_id", "")
	v.SetDefault("notify.pubsub.topic", "")

	v.SetDefault("metrics.addr", "")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "cache-warmer")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if len(c.Countries) == 0 {
		return errors.New("countries must list at least one country")
	}
	seen := make(map[string]struct{}, len(c.Countries))
	for i, country := range c.Countries {
		if strings.TrimSpace(country.Code) == "" {
			return fmt.Errorf("countries[%d].code is required", i)
		}
		if _, dup := seen[country.Code]; dup {
			return fmt.Errorf("countries[%d].code %q is duplicated", i, country.Code)
		}
		seen[country.Code] = struct{}{}
		u, err := url.Parse(country.Domain)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("countries[%d].domain must be an absolute url", i)
		}
	}
	if c.Warmer.Concurrency <= 0 {
		return errors.New("warmer.concurrency must be > 0")
	}
	if c.Warmer.RequestTimeout <= 0 {
		return errors.New("warmer.request_timeout must be > 0")
	}
	if c.Warmer.MaxRetries < 0 {
		return errors.New("warmer.max_retries must be >= 0")
	}
	if c.Warmer.RateLimitPerHost < 0 {
		return errors.New("warmer.rate_limit_per_host must be >= 0")
	}
	if c.Purge.BatchSize <= 0 {
		return errors.New("purge.batch_size must be > 0")
	}
	if c.Purge.Provider != "" && c.Purge.Provider != "none" && c.Purge.Provider != "cloudflare" {
		return fmt.Errorf("purge.provider %q is not supported", c.Purge.Provider)
	}
	return c.RunLog.validate()
}

func (r RunLogConfig) validate() error {
	if !slices.Contains(knownSinks, r.Sink) {
		return fmt.Errorf("runlog.sink %q is not supported", r.Sink)
	}
	if r.ZoneName == "" {
		return errors.New("runlog.zone_name is required")
	}
	if r.ZoneOffset < -14*time.Hour || r.ZoneOffset > 14*time.Hour {
		return errors.New("runlog.zone_offset must be within ±14h")
	}
	switch r.Sink {
	case SinkWebhook:
		if r.Webhook.URL == "" {
			return errors.New("runlog.webhook.url is required for the webhook sink")
		}
	case SinkPostgres:
		if r.Postgres.DSN == "" {
			return errors.New("runlog.postgres.dsn is required for the postgres sink")
		}
	case SinkGCS:
		if r.GCS.Bucket == "" {
			return errors.New("runlog.gcs.bucket is required for the gcs sink")
		}
	case SinkFile:
		if r.File.Dir == "" {
			return errors.New("runlog.file.dir is required for the file sink")
		}
	}
	return nil
}

// Select returns the configured countries whose codes appear in codes, in
// config order. An empty codes list selects every country.
func (c Config) Select(codes []string) ([]Country, error) {
	if len(codes) == 0 {
		return c.Countries, nil
	}
	want := make(map[string]bool, len(codes))
	for _, code := range codes {
		want[strings.TrimSpace(code)] = true
	}
	var out []Country
	for _, country := range c.Countries {
		if want[country.Code] {
			out = append(out, country)
			delete(want, country.Code)
		}
	}
	if len(want) > 0 {
		missing := make([]string, 0, len(want))
		for code := range want {
			missing = append(missing, code)
		}
		slices.Sort(missing)
		return nil, fmt.Errorf("unknown countries: %s", strings.Join(missing, ","))
	}
	return out, nil
}

// EnvLookup is the default proxy lookup.
func EnvLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}
