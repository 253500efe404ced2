// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Snapshot backends.
const (
	BackendFile     = "file"
	BackendGCS      = "gcs"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Playback PlaybackConfig `mapstructure:"playback"`
	Audio    AudioConfig    `mapstructure:"audio"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int    `mapstructure:"port"`
	StaticDir              string `mapstructure:"static_dir"`
	APIKey                 string `mapstructure:"api_key"`
	RequestTimeoutSeconds  int    `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
}

// UpstreamConfig describes the crawled site.
type UpstreamConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	FeedPath          string  `mapstructure:"feed_path"`
	PageSize          int     `mapstructure:"page_size"`
	Concurrency       int     `mapstructure:"concurrency"`
	UserAgent         string  `mapstructure:"user_agent"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	RespectRobots     bool    `mapstructure:"respect_robots"`
}

// CatalogConfig governs the catalog lifecycle.
type CatalogConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	RefreshBackoff  time.Duration `mapstructure:"refresh_backoff"`
	StartupBackoff  time.Duration `mapstructure:"startup_backoff"`
}

// SnapshotConfig selects where the catalog snapshot is persisted.
type SnapshotConfig struct {
	Backend       string `mapstructure:"backend"`
	Path          string `mapstructure:"path"`
	GCSBucket     string `mapstructure:"gcs_bucket"`
	GCSObject     string `mapstructure:"gcs_object"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	PostgresTable string `mapstructure:"postgres_table"`
}

// PubSubConfig holds metadata for catalog notifications. An empty topic
// keeps notifications in memory.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// PlaybackConfig names the external player.
type PlaybackConfig struct {
	Player string   `mapstructure:"player"`
	Args   []string `mapstructure:"args"`
}

// AudioConfig configures the normalization tool.
type AudioConfig struct {
	FFmpeg         string  `mapstructure:"ffmpeg"`
	IntegratedLUFS float64 `mapstructure:"integrated_lufs"`
	LoudnessRange  float64 `mapstructure:"loudness_range"`
	TruePeak       float64 `mapstructure:"true_peak"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment. An empty path searches the
// working directory, /etc/taped and $HOME/.taped for config.yaml and falls
// back to defaults when none exists.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TAPED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/taped/")
		v.AddConfigPath("$HOME/.taped")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
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
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("upstream.base_url", "https://www.kasetophono.com")
	v.SetDefault("upstream.feed_path", "/feeds/posts/default")
	v.SetDefault("upstream.page_size", 25)
	v.SetDefault("upstream.concurrency", 5)
	v.SetDefault("upstream.user_agent", "taped/1.0")
	v.SetDefault("upstream.timeout_seconds", 15)
	v.SetDefault("upstream.requests_per_second", 0)
	v.SetDefault("upstream.burst", 1)
	v.SetDefault("upstream.respect_robots", false)
	v.SetDefault("catalog.refresh_interval", "24h")
	v.SetDefault("catalog.refresh_backoff", "30s")
	v.SetDefault("catalog.startup_backoff", "5s")
	v.SetDefault("snapshot.backend", BackendFile)
	v.SetDefault("snapshot.path", "metadata.json")
	v.SetDefault("snapshot.gcs_object", "metadata.json")
	v.SetDefault("snapshot.postgres_table", "catalog_snapshots")
	v.SetDefault("playback.player", "mpv")
	v.SetDefault("playback.args", []string{"--no-video", "--shuffle"})
	v.SetDefault("audio.ffmpeg", "ffmpeg")
	v.SetDefault("audio.integrated_lufs", -23.0)
	v.SetDefault("audio.loudness_range", 7.0)
	v.SetDefault("audio.true_peak", -2.0)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("upstream.base_url must be an absolute url")
	}
	if c.Upstream.PageSize <= 0 {
		return fmt.Errorf("upstream.page_size must be > 0")
	}
	if c.Upstream.Concurrency <= 0 {
		return fmt.Errorf("upstream.concurrency must be > 0")
	}
	if c.Upstream.TimeoutSeconds <= 0 {
		return fmt.Errorf("upstream.timeout_seconds must be > 0")
	}
	if c.Upstream.RequestsPerSecond < 0 {
		return fmt.Errorf("upstream.requests_per_second must be >= 0")
	}
	if c.Catalog.RefreshInterval < 0 {
		return fmt.Errorf("catalog.refresh_interval must be >= 0")
	}
	if c.Catalog.RefreshBackoff <= 0 {
		return fmt.Errorf("catalog.refresh_backoff must be > 0")
	}
	if c.Catalog.StartupBackoff <= 0 {
		return fmt.Errorf("catalog.startup_backoff must be > 0")
	}
	switch c.Snapshot.Backend {
	case BackendFile:
		if c.Snapshot.Path == "" {
			return fmt.Errorf("snapshot.path is required for the file backend")
		}
	case BackendGCS:
		if c.Snapshot.GCSBucket == "" {
			return fmt.Errorf("snapshot.gcs_bucket is required for the gcs backend")
		}
	case BackendPostgres:
		if c.Snapshot.PostgresDSN == "" {
			return fmt.Errorf("snapshot.postgres_dsn is required for the postgres backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("snapshot.backend %q is not one of file, gcs, postgres, memory", c.Snapshot.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is")
	}
	if c.Playback.Player == "" {
		return fmt.Errorf("playback.player must be set")
	}
	return nil
}

// UpstreamTimeout converts the per-request timeout to a duration.
func (c Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.Upstream.TimeoutSeconds) * time.Second
}

// RequestTimeout bounds one HTTP handler.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful HTTP shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
