package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// DefaultApplier applies defaults for one configuration domain.
type DefaultApplier interface {
	ApplyDefaults(cfg *Config) error
	Domain() string
}

// CompositeDefaultApplier runs every domain applier in order.
type CompositeDefaultApplier struct {
	appliers []DefaultApplier
}

// NewDefaultApplier returns the applier chain used by Load.
func NewDefaultApplier() *CompositeDefaultApplier {
	return &CompositeDefaultApplier{appliers: []DefaultApplier{
		&PathsDefaultApplier{},
		&DownloadsDefaultApplier{},
		&HTTPDefaultApplier{},
		&RetryDefaultApplier{},
	}}
}

func (c *CompositeDefaultApplier) ApplyDefaults(cfg *Config) error {
	for _, a := range c.appliers {
		if err := a.ApplyDefaults(cfg); err != nil {
			return fmt.Errorf("applying defaults for %s: %w", a.Domain(), err)
		}
	}
	return nil
}

// PathsDefaultApplier derives storage locations from data_dir.
type PathsDefaultApplier struct{}

func (p *PathsDefaultApplier) Domain() string { return "paths" }

func (p *PathsDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".washer")
	}
	if cfg.Database == "" {
		cfg.Database = filepath.Join(cfg.DataDir, "washer.db")
	}
	if cfg.Files.Conn == "" {
		cfg.Files.Conn = filepath.Join(cfg.DataDir, "files")
	}
	return nil
}

// DownloadsDefaultApplier sets pool size, attempts and tool locations.
type DownloadsDefaultApplier struct{}

func (d *DownloadsDefaultApplier) Domain() string { return "downloads" }

func (d *DownloadsDefaultApplier) ApplyDefaults(cfg *Config) error {
	dl := &cfg.Downloads
	if dl.PoolSize <= 0 {
		dl.PoolSize = max(2, runtime.NumCPU())
	}
	if dl.Attempts <= 0 {
		dl.Attempts = 2
	}
	if dl.TempDir == "" {
		dl.TempDir = filepath.Join(os.TempDir(), "washer")
	}
	if dl.ToolsDir == "" {
		dl.ToolsDir = filepath.Join(cfg.DataDir, "bin")
	}
	if dl.YtDlp == "" {
		dl.YtDlp = filepath.Join(dl.ToolsDir, "yt-dlp")
	}
	if dl.FFmpeg == "" {
		dl.FFmpeg = filepath.Join(dl.ToolsDir, "ffmpeg")
	}
	if dl.UserAgent == "" {
		dl.UserAgent = cfg.HTTP.UserAgent
	}
	if dl.ReleasesURL == "" {
		dl.ReleasesURL = "https://api.github.com/repos/yt-dlp/yt-dlp/releases/latest"
	}
	if dl.FFmpegReleasesURL == "" {
		dl.FFmpegReleasesURL = "https://api.github.com/repos/eugeneware/ffmpeg-static/releases/latest"
	}
	return nil
}

// HTTPDefaultApplier sets request queue defaults.
type HTTPDefaultApplier struct{}

func (h *HTTPDefaultApplier) Domain() string { return "http" }

func (h *HTTPDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.HTTP.Timeout <= 0 {
		cfg.HTTP.Timeout = 30 * time.Second
	}
	if cfg.HTTP.UserAgent == "" {
		cfg.HTTP.UserAgent = "washer/1.0"
	}
	if cfg.Downloads.UserAgent == "" {
		cfg.Downloads.UserAgent = cfg.HTTP.UserAgent
	}
	if cfg.HTTP.RateLimitMargin <= 0 {
		cfg.HTTP.RateLimitMargin = time.Second
	}
	return nil
}

// RetryDefaultApplier sets backoff defaults.
type RetryDefaultApplier struct{}

func (r *RetryDefaultApplier) Domain() string { return "retry" }

func (r *RetryDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Retry.Backoff == "" {
		cfg.Retry.Backoff = RetryBackoffLinear
	}
	if cfg.Retry.Initial <= 0 {
		cfg.Retry.Initial = time.Second
	}
	if cfg.Retry.Max <= 0 {
		cfg.Retry.Max = 30 * time.Second
	}
	return nil
}
