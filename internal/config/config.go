// Package config loads the washer YAML configuration: process-wide settings
// plus the ordered list of stage descriptors.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CurrentVersion is the only configuration version Load accepts.
const CurrentVersion = "1"

// Config is the root configuration. It is built once and passed explicitly to
// every component that needs it.
type Config struct {
	Version    string           `yaml:"version"`
	DataDir    string           `yaml:"data_dir"`
	Database   string           `yaml:"database"`
	Bus        string           `yaml:"bus"`
	Files      FilesConfig      `yaml:"files"`
	Downloads  DownloadsConfig  `yaml:"downloads"`
	HTTP       HTTPConfig       `yaml:"http"`
	Retry      RetryConfig      `yaml:"retry"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Stages     []StageConfig    `yaml:"stages"`
}

// FilesConfig selects the default durable storage backend. Conn is a local
// path (with ~ expansion) or s3://KEY:SECRET@host/bucket.
type FilesConfig struct {
	Conn string `yaml:"conn"`
	URL  string `yaml:"url"`
}

// DownloadsConfig tunes the download manager.
type DownloadsConfig struct {
	PoolSize  int    `yaml:"pool_size"`
	Attempts  int    `yaml:"attempts"`
	TempDir   string `yaml:"temp_dir"`
	ToolsDir  string `yaml:"tools_dir"`
	YtDlp     string `yaml:"ytdlp"`
	FFmpeg    string `yaml:"ffmpeg"`
	UserAgent string `yaml:"user_agent"`
	// ReleasesURL is the API endpoint queried for the latest extraction tool release.
	ReleasesURL string `yaml:"releases_url"`
	// FFmpegReleasesURL is the same for the transcode toolchain.
	FFmpegReleasesURL string `yaml:"ffmpeg_releases_url"`
}

// HTTPConfig tunes outbound requests made through the request queue.
type HTTPConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	UserAgent       string        `yaml:"user_agent"`
	RateLimitMargin time.Duration `yaml:"rate_limit_margin"`
	// MinInterval paces requests sharing a queue key. Zero disables pacing.
	MinInterval time.Duration `yaml:"min_interval"`
}

// RetryConfig describes backoff between retry attempts.
type RetryConfig struct {
	Backoff RetryBackoffMode `yaml:"backoff"`
	Initial time.Duration    `yaml:"initial"`
	Max     time.Duration    `yaml:"max"`
}

// MonitoringConfig covers metrics and logging.
type MonitoringConfig struct {
	MetricsAddr string            `yaml:"metrics_addr"`
	Logging     MonitoringLogging `yaml:"logging"`
}

// MonitoringLogging represents logging configuration.
type MonitoringLogging struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

// Load reads, expands, defaults and validates a configuration file.
func Load(configPath string) (*Config, error) {
	if err := loadEnvFile(); err != nil {
		fmt.Fprintf(os.Stderr, "Note: .env file not found or couldn't be loaded: %v\n", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s", configPath)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Version == "" {
		cfg.Version = CurrentVersion
	}
	if cfg.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported configuration version: %s (expected %s)", cfg.Version, CurrentVersion)
	}

	cfg.Retry.Backoff = NormalizeRetryBackoff(string(cfg.Retry.Backoff))
	cfg.Monitoring.Logging.Level = NormalizeLogLevel(string(cfg.Monitoring.Logging.Level))
	cfg.Monitoring.Logging.Format = NormalizeLogFormat(string(cfg.Monitoring.Logging.Format))

	if err := NewDefaultApplier().ApplyDefaults(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	if err := ValidateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}
