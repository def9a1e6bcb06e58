// Package download runs fetch jobs for items: plain byte copies for direct
// URLs and extraction-tool fetches for media pages.
//
// Every job gets its own temp directory below the configured temp root. The
// caller's callback must move what it needs into durable storage before it
// returns; the directory is removed right after, whether the fetch succeeded
// or not. Concurrency is bounded by one pool shared by all stages.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/semaphore"

	"git.home.luguber.info/inful/washer/internal/config"
	ferrors "git.home.luguber.info/inful/washer/internal/foundation/errors"
	"git.home.luguber.info/inful/washer/internal/httpqueue"
	"git.home.luguber.info/inful/washer/internal/logfields"
	"git.home.luguber.info/inful/washer/internal/metrics"
	"git.home.luguber.info/inful/washer/internal/model"
	"git.home.luguber.info/inful/washer/internal/retry"
	"git.home.luguber.info/inful/washer/internal/storage"
)

// Callback receives the fetched result. Files named in the result live in
// res.Dir, which is deleted once the callback returns.
type Callback func(ctx context.Context, res model.DownloadResult) error

// Runner executes an external command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Prober returns the playback duration of a media file in seconds.
type Prober func(path string) (float64, error)

// Manager runs download jobs.
type Manager struct {
	cfg      config.DownloadsConfig
	queue    *httpqueue.Queue
	pool     *semaphore.Weighted
	policy   retry.Policy
	sleep    retry.Sleeper
	run      Runner
	probe    Prober
	recorder metrics.Recorder
	logger   *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithRunner replaces the command runner used for the extraction tool.
func WithRunner(r Runner) Option { return func(m *Manager) { m.run = r } }

// WithProber replaces the media duration probe.
func WithProber(p Prober) Option { return func(m *Manager) { m.probe = p } }

// WithSleeper replaces the sleep used between attempts.
func WithSleeper(s retry.Sleeper) Option { return func(m *Manager) { m.sleep = s } }

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option { return func(m *Manager) { m.recorder = r } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

// NewManager creates a Manager. HTTP fetches go through queue.
func NewManager(cfg config.DownloadsConfig, rc config.RetryConfig, queue *httpqueue.Queue, opts ...Option) *Manager {
	size := int64(max(cfg.PoolSize, 1))
	m := &Manager{
		cfg:    cfg,
		queue:  queue,
		pool:   semaphore.NewWeighted(size),
		policy: retry.FromConfig(rc, max(cfg.Attempts, 1)),
		sleep:  retry.Sleep,
		run:    execRunner,
		probe:  ffprobeDuration,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	m.recorder = metrics.OrNoop(m.recorder)
	return m
}

// TempRoot is the directory holding per-job workspaces.
func (m *Manager) TempRoot() string { return m.cfg.TempDir }

// Download fetches d and hands the result to fn. An invalid URL produces an
// empty result without any fetch. The temp workspace is always removed.
func (m *Manager) Download(ctx context.Context, d model.Download, fn Callback) error {
	if err := m.pool.Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.pool.Release(1)

	if err := os.MkdirAll(m.cfg.TempDir, 0o750); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryStorage, "create download temp root").Build()
	}
	dir, err := os.MkdirTemp(m.cfg.TempDir, "job-*")
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryStorage, "create download workspace").Build()
	}
	defer func() {
		if rerr := os.RemoveAll(dir); rerr != nil {
			m.logger.Warn("Failed to remove download workspace", logfields.Path(dir), logfields.Error(rerr))
		}
	}()

	if !validURL(d.URL) {
		return fn(ctx, model.DownloadResult{ItemURL: d.ItemURL, Dir: dir})
	}

	var res model.DownloadResult
	err = m.policy.Do(ctx, m.sleep, func(attempt int) error {
		if attempt > 1 {
			if err := clearDir(dir); err != nil {
				return err
			}
		}
		var ferr error
		res, ferr = m.fetch(ctx, d, dir)
		return ferr
	}, func(attempt int, delay time.Duration, err error) {
		m.logger.Warn("Download failed, retrying",
			logfields.URL(d.URL), logfields.Attempt(attempt), logfields.Delay(delay), logfields.Error(err))
	})
	if err != nil {
		m.recorder.IncDownload(metrics.DownloadFailed)
		return fmt.Errorf("download %s: %w", d.URL, err)
	}
	m.recorder.IncDownload(metrics.DownloadFetched)
	return fn(ctx, res)
}

func (m *Manager) fetch(ctx context.Context, d model.Download, dir string) (model.DownloadResult, error) {
	var (
		res model.DownloadResult
		err error
	)
	if d.IsDirect() {
		res, err = m.fetchDirect(ctx, d, dir)
	} else {
		res, err = m.fetchTool(ctx, d, dir)
	}
	if err != nil {
		return model.DownloadResult{}, err
	}
	res.ItemURL = d.ItemURL
	res.URL = d.URL
	return m.describe(res), nil
}

func (m *Manager) fetchDirect(ctx context.Context, d model.Download, dir string) (model.DownloadResult, error) {
	resp, err := m.queue.Stream(ctx, "download", "", httpqueue.Get(d.URL), nil)
	if err != nil {
		return model.DownloadResult{}, err
	}
	defer resp.Body.Close()

	name := fileName(d.URL)
	out, err := os.Create(filepath.Join(dir, name)) // #nosec G304 - name is sanitized
	if err != nil {
		return model.DownloadResult{}, err
	}
	n, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return model.DownloadResult{}, ferrors.WrapError(err, ferrors.CategoryNetwork, "copy response body").
			Retryable().WithContext("url", d.URL).Build()
	}

	res := model.DownloadResult{Dir: dir, Size: n}
	mt, err := mimetype.DetectFile(filepath.Join(dir, name))
	if err == nil && strings.HasPrefix(mt.String(), "image/") {
		res.Image = name
	} else {
		res.Media = name
	}
	return res, nil
}

// describe fills size, type and duration for the media part.
func (m *Manager) describe(res model.DownloadResult) model.DownloadResult {
	if res.Media == "" {
		return res
	}
	p := filepath.Join(res.Dir, res.Media)
	if fi, err := os.Stat(p); err == nil {
		res.Size = fi.Size()
	}
	if mt, err := mimetype.DetectFile(p); err == nil {
		res.Type = mt.String()
	}
	if strings.HasPrefix(res.Type, "audio/") || strings.HasPrefix(res.Type, "video/") {
		if dur, err := m.probe(p); err == nil {
			res.Duration = dur
		} else {
			m.logger.Debug("Media probe failed", logfields.Path(p), logfields.Error(err))
		}
	}
	return res
}

// Fetch resolves d against store: an already stored result is returned
// without fetching, otherwise d is downloaded and promoted into store. d.Done
// is called with the final result.
func (m *Manager) Fetch(ctx context.Context, store *storage.Store, d model.Download) (model.DownloadResult, error) {
	res, ok, err := store.Existing(ctx, d)
	if err != nil {
		return model.DownloadResult{}, err
	}
	if ok {
		m.recorder.IncDownload(metrics.DownloadDeduped)
		m.logger.Debug("Download already stored", logfields.URL(d.URL))
	} else {
		err = m.Download(ctx, d, func(ctx context.Context, fetched model.DownloadResult) error {
			if fetched.Empty() {
				res = fetched
				return nil
			}
			var perr error
			res, perr = store.Downloaded(ctx, d, fetched)
			return perr
		})
		if err != nil {
			return model.DownloadResult{}, err
		}
	}
	res.Dir = ""
	if d.Done != nil {
		d.Done(res)
	}
	return res, nil
}

// Clean deletes the whole temp workspace root.
func (m *Manager) Clean() error {
	if m.cfg.TempDir == "" {
		return nil
	}
	if err := os.RemoveAll(m.cfg.TempDir); err != nil {
		return fmt.Errorf("remove %s: %w", m.cfg.TempDir, err)
	}
	m.logger.Info("Removed download workspace", logfields.Path(m.cfg.TempDir))
	return nil
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func fileName(raw string) string {
	name := "download"
	if u, err := url.Parse(raw); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" && base != "" {
			name = base
		}
	}
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
	if len(name) > 100 {
		name = name[len(name)-100:]
	}
	return name
}

func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var errs []error
	for _, e := range entries {
		errs = append(errs, os.RemoveAll(filepath.Join(dir, e.Name())))
	}
	return errors.Join(errs...)
}
