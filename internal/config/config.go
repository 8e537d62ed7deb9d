// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/danfs-crawler/internal/crawler"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Site        SiteConfig                    `mapstructure:"site"`
	HTTP        HTTPConfig                    `mapstructure:"http"`
	Crawler     CrawlerConfig                 `mapstructure:"crawler"`
	Extract     ExtractConfig                 `mapstructure:"extract"`
	Collections map[string]crawler.Collection `mapstructure:"collections"`
	Sink        SinkConfig                    `mapstructure:"sink"`
	Archive     ArchiveConfig                 `mapstructure:"archive"`
	Progress    ProgressConfig                `mapstructure:"progress"`
	Server      ServerConfig                  `mapstructure:"server"`
	Telemetry   TelemetryConfig               `mapstructure:"telemetry"`
	Logging     LoggingConfig                 `mapstructure:"logging"`
}

// SiteConfig identifies the crawled site.
type SiteConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	UserAgent string `mapstructure:"user_agent"`
}

// HTTPConfig configures timeouts, retries and pacing for every outbound request.
type HTTPConfig struct {
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	MaxRetries        int     `mapstructure:"max_retries"`
	BackoffInitialMs  int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs      int     `mapstructure:"backoff_max_ms"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	RespectRobots     bool    `mapstructure:"respect_robots"`
}

// CrawlerConfig governs the discovery/resolution pipeline.
type CrawlerConfig struct {
	Concurrency   int  `mapstructure:"concurrency"`
	QueueDepth    int  `mapstructure:"queue_depth"`
	IndexFailFast bool `mapstructure:"index_fail_fast"`
}

// ExtractConfig holds the selectors locating the history fragment.
type ExtractConfig struct {
	BodyContainer string `mapstructure:"body_container"`
	Section       string `mapstructure:"section"`
}

// Sink kinds.
const (
	SinkSQLite   = "sqlite"
	SinkPostgres = "postgres"
	SinkJSON     = "json"
	SinkPubSub   = "pubsub"
	SinkMemory   = "memory"
)

// SinkConfig selects where records are written.
type SinkConfig struct {
	Kind     string         `mapstructure:"kind"`
	Reset    bool           `mapstructure:"reset"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	JSON     JSONConfig     `mapstructure:"json"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
}

// SQLiteConfig points at the database file.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// JSONConfig names the directory JSON array files are written to.
type JSONConfig struct {
	Dir string `mapstructure:"dir"`
}

// PubSubConfig holds the topic records are published to.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Archive providers.
const (
	ArchiveNone   = "none"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
	ArchiveMemory = "memory"
)

// ArchiveConfig sets where raw detail pages are archived, if anywhere.
type ArchiveConfig struct {
	Provider    string             `mapstructure:"provider"`
	Prefix      string             `mapstructure:"prefix"`
	ContentType string             `mapstructure:"content_type"`
	Local       ArchiveLocalConfig `mapstructure:"local"`
	GCS         ArchiveGCSConfig   `mapstructure:"gcs"`
}

// ArchiveLocalConfig configures the filesystem archive.
type ArchiveLocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// ArchiveGCSConfig configures the bucket archive.
type ArchiveGCSConfig struct {
	Bucket string `mapstructure:"bucket"`
}

// Progress stores.
const (
	ProgressMemory   = "memory"
	ProgressPostgres = "postgres"
)

// ProgressConfig selects where run progress is recorded for the ops API.
type ProgressConfig struct {
	Store    string         `mapstructure:"store"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// ServerConfig controls the ops HTTP server that runs alongside a crawl.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// TelemetryConfig configures OTLP trace export. An empty endpoint disables it.
type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	Insecure     bool   `mapstructure:"insecure"`
	ServiceName  string `mapstructure:"service_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
	// Level overrides the mode's default level (debug, info, warn, error).
	Level string `mapstructure:"level"`
}

// Index API paths of the two collections the site publishes.
const (
	DANFSAPIPath       = "research/histories/ship-histories/danfs/jcr:content/api.json"
	ConfederateAPIPath = "research/histories/ship-histories/confederate_ships/jcr:content.rollup.json"
)

var validTableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Load builds a Config from defaults, an optional file and DANFS_* env vars.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DANFS")
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
	for name, coll := range cfg.Collections {
		coll.Name = name
		cfg.Collections[name] = coll
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("site.base_url", "http://www.history.navy.mil")
	v.SetDefault("site.user_agent", "danfs-crawler/0.1")

	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 0)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("http.requests_per_second", 0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("http.respect_robots", false)

	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.index_fail_fast", false)

	v.SetDefault("extract.body_container", "div.bodyContainer")
	v.SetDefault("extract.section", "div.text.parbase.section")

	v.SetDefault("collections.danfs.enabled", true)
	v.SetDefault("collections.danfs.kind", string(crawler.KindPrimary))
	v.SetDefault("collections.danfs.api_path", DANFSAPIPath)
	v.SetDefault("collections.danfs.table", "danfs_ships")
	v.SetDefault("collections.danfs.exclude_titles", []string{"What's New"})
	v.SetDefault("collections.confederate.enabled", true)
	v.SetDefault("collections.confederate.kind", string(crawler.KindSecondary))
	v.SetDefault("collections.confederate.api_path", ConfederateAPIPath)
	v.SetDefault("collections.confederate.table", "confederate_ships")
	v.SetDefault("collections.confederate.exclude_titles", []string{})

	v.SetDefault("sink.kind", SinkSQLite)
	v.SetDefault("sink.reset", false)
	v.SetDefault("sink.sqlite.path", "danfs.sqlite3")
	v.SetDefault("sink.postgres.dsn", "")
	v.SetDefault("sink.postgres.max_conns", 4)
	v.SetDefault("sink.json.dir", ".")
	v.SetDefault("sink.pubsub.project_id", "")
	v.SetDefault("sink.pubsub.topic", "danfs-records")

	v.SetDefault("archive.provider", ArchiveNone)
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("archive.content_type", "text/html; charset=utf-8")
	v.SetDefault("archive.local.base_dir", "archive")
	v.SetDefault("archive.gcs.bucket", "")

	v.SetDefault("progress.store", ProgressMemory)
	v.SetDefault("progress.postgres.dsn", "")

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.insecure", false)
	v.SetDefault("telemetry.service_name", "danfs-crawler")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	base, err := url.Parse(c.Site.BaseURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return fmt.Errorf("site.base_url must be an absolute http(s) URL, got %q", c.Site.BaseURL)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return errors.New("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return errors.New("http.max_retries must be >= 0")
	}
	if c.HTTP.RequestsPerSecond < 0 {
		return errors.New("http.requests_per_second must be >= 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return errors.New("crawler.concurrency must be > 0")
	}
	if c.Crawler.QueueDepth <= 0 {
		return errors.New("crawler.queue_depth must be > 0")
	}
	if len(c.Collections) == 0 {
		return errors.New("at least one collection must be configured")
	}
	for name, coll := range c.Collections {
		if err := validateCollection(name, coll); err != nil {
			return err
		}
	}
	if err := c.Sink.validate(); err != nil {
		return err
	}
	if err := c.Archive.validate(); err != nil {
		return err
	}
	switch c.Progress.Store {
	case "", ProgressMemory:
	case ProgressPostgres:
		if strings.TrimSpace(c.Progress.Postgres.DSN) == "" {
			return errors.New("progress.postgres.dsn is required")
		}
	default:
		return fmt.Errorf("unknown progress.store %q", c.Progress.Store)
	}
	if c.Server.Enabled && strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("server.addr must be set when the server is enabled")
	}
	return nil
}

func validateCollection(name string, coll crawler.Collection) error {
	switch coll.Kind {
	case crawler.KindPrimary, crawler.KindSecondary:
	default:
		return fmt.Errorf("collections.%s.kind must be %q or %q", name, crawler.KindPrimary, crawler.KindSecondary)
	}
	if strings.TrimSpace(coll.APIPath) == "" {
		return fmt.Errorf("collections.%s.api_path is required", name)
	}
	if !validTableName.MatchString(coll.Table) {
		return fmt.Errorf("collections.%s.table %q is not a valid table name", name, coll.Table)
	}
	return nil
}

func (s SinkConfig) validate() error {
	switch s.Kind {
	case SinkSQLite:
		if strings.TrimSpace(s.SQLite.Path) == "" {
			return errors.New("sink.sqlite.path is required")
		}
	case SinkPostgres:
		if strings.TrimSpace(s.Postgres.DSN) == "" {
			return errors.New("sink.postgres.dsn is required")
		}
	case SinkJSON:
		if strings.TrimSpace(s.JSON.Dir) == "" {
			return errors.New("sink.json.dir is required")
		}
	case SinkPubSub:
		if s.PubSub.ProjectID == "" || s.PubSub.Topic == "" {
			return errors.New("sink.pubsub.project_id and sink.pubsub.topic are required")
		}
	case SinkMemory:
	default:
		return fmt.Errorf("unknown sink.kind %q", s.Kind)
	}
	return nil
}

func (a ArchiveConfig) validate() error {
	switch a.Provider {
	case "", ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if strings.TrimSpace(a.Local.BaseDir) == "" {
			return errors.New("archive.local.base_dir is required")
		}
	case ArchiveGCS:
		if strings.TrimSpace(a.GCS.Bucket) == "" {
			return errors.New("archive.gcs.bucket is required")
		}
	default:
		return fmt.Errorf("unknown archive.provider %q", a.Provider)
	}
	return nil
}

// Timeout returns the per-request HTTP timeout.
func (c HTTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BackoffInitial returns the first retry delay.
func (c HTTPConfig) BackoffInitial() time.Duration {
	return time.Duration(c.BackoffInitialMs) * time.Millisecond
}

// BackoffMax returns the retry delay cap.
func (c HTTPConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMs) * time.Millisecond
}

// SelectCollections returns the collections to crawl, sorted by name. With no
// names it returns every enabled collection; explicit names must exist and
// are crawled even when disabled.
func (c Config) SelectCollections(names []string) ([]crawler.Collection, error) {
	var out []crawler.Collection
	if len(names) == 0 {
		for _, coll := range c.Collections {
			if coll.Enabled {
				out = append(out, coll)
			}
		}
	} else {
		seen := make(map[string]struct{}, len(names))
		for _, raw := range names {
			name := strings.ToLower(strings.TrimSpace(raw))
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			coll, ok := c.Collections[name]
			if !ok {
				return nil, fmt.Errorf("unknown collection %q", raw)
			}
			out = append(out, coll)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no collections selected")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
