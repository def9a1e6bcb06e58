// Package daemon runs the orchestrator as a long-lived process: it holds the
// data directory lock, serves metrics, and rebuilds the stage graph when the
// configuration file changes.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"git.home.luguber.info/inful/washer/internal/config"
	ferrors "git.home.luguber.info/inful/washer/internal/foundation/errors"
	"git.home.luguber.info/inful/washer/internal/logfields"
	"git.home.luguber.info/inful/washer/internal/orchestrator"
	"git.home.luguber.info/inful/washer/internal/version"
	"git.home.luguber.info/inful/washer/internal/washer"
)

// Status represents the current state of the daemon.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	// StatusDegraded means a reload failed and no stages are running.
	StatusDegraded Status = "degraded"
)

const lockName = "washer.lock"

// Options tunes a Daemon.
type Options struct {
	// ConfigPath enables reloading from, and watching, the file it names.
	ConfigPath string
	Debounce   time.Duration
	Logger     *slog.Logger
}

// Daemon owns the runtime and the current orchestrator.
type Daemon struct {
	opts     Options
	registry *washer.Registry
	logger   *slog.Logger
	lockPath string
	lock     *flock.Flock

	// startStages starts a freshly built orchestrator.
	startStages func(context.Context, *orchestrator.Orchestrator) error

	// reloadMu serializes reloads against each other and against Stop. It
	// is never taken while holding mu.
	reloadMu  sync.Mutex
	mu        sync.Mutex
	cfg       *config.Config
	rt        *Runtime
	orch      *orchestrator.Orchestrator
	watcher   *ConfigWatcher
	server    *http.Server
	addr      net.Addr
	startTime time.Time
	reloads   atomic.Int64
	status    atomic.Value
}

// New creates a stopped daemon for cfg.
func New(cfg *config.Config, reg *washer.Registry, opts Options) *Daemon {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lockPath := filepath.Join(cfg.DataDir, lockName)
	d := &Daemon{
		opts:     opts,
		registry: reg,
		logger:   logger,
		cfg:      cfg,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.startStages = func(ctx context.Context, o *orchestrator.Orchestrator) error {
		return o.Start(ctx)
	}
	d.status.Store(StatusStopped)
	return d
}

// AcquireLock takes the single-instance lock on dataDir for a one-shot
// command. Release it with Unlock.
func AcquireLock(dataDir string) (*flock.Flock, error) {
	l := flock.New(filepath.Join(dataDir, lockName))
	if err := tryLock(l, dataDir); err != nil {
		return nil, err
	}
	return l, nil
}

func tryLock(l *flock.Flock, dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	ok, err := l.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another washer process holds %s", l.Path())
	}
	return nil
}

// Status reports the lifecycle state.
func (d *Daemon) Status() Status { return d.status.Load().(Status) }

// Orchestrator returns the orchestrator currently running.
func (d *Daemon) Orchestrator() *orchestrator.Orchestrator {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.orch
}

// MetricsAddr is the bound metrics listener address, or nil.
func (d *Daemon) MetricsAddr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addr
}

// Start acquires the data directory lock, opens the runtime and starts the
// stages.
func (d *Daemon) Start(ctx context.Context) (err error) {
	d.status.Store(StatusStarting)
	defer func() {
		if err != nil {
			d.status.Store(StatusStopped)
		}
	}()

	if err := tryLock(d.lock, d.cfg.DataDir); err != nil {
		return err
	}
	rt, err := NewRuntime(ctx, d.cfg, d.logger)
	if err != nil {
		_ = d.lock.Unlock()
		return err
	}

	o, err := orchestrator.New(d.cfg, d.registry, rt.Env(d.cfg))
	if err == nil {
		err = d.startStages(ctx, o)
	}
	if err != nil {
		_ = rt.Close()
		_ = d.lock.Unlock()
		return err
	}

	d.mu.Lock()
	d.rt, d.orch, d.startTime = rt, o, time.Now()
	d.mu.Unlock()

	if err := d.startMetrics(); err != nil {
		_ = d.Stop(ctx)
		return err
	}
	if d.opts.ConfigPath != "" {
		w, err := NewConfigWatcher(d.opts.ConfigPath, d.opts.Debounce, d.Reload)
		if err == nil {
			err = w.Start(ctx)
		}
		if err != nil {
			_ = d.Stop(ctx)
			return err
		}
		d.mu.Lock()
		d.watcher = w
		d.mu.Unlock()
	}

	d.status.Store(StatusRunning)
	d.logger.Info("Daemon started",
		logfields.Version(version.Version), slog.Int("stages", len(o.Stages())), slog.String("lock", d.lockPath))
	return nil
}

// Run starts the daemon and blocks until ctx is cancelled, then stops it
// within grace.
func (d *Daemon) Run(ctx context.Context, grace time.Duration) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()
	return d.Stop(stopCtx)
}

// Reload re-reads the configuration file and applies it.
func (d *Daemon) Reload(ctx context.Context) error {
	if d.opts.ConfigPath == "" {
		return errors.New("daemon has no configuration file")
	}
	cfg, err := config.Load(d.opts.ConfigPath)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryConfig, "load configuration").Build()
	}
	return d.ReloadConfig(ctx, cfg)
}

// ReloadConfig swaps the stage graph for the one described by cfg. An invalid
// graph leaves the running orchestrator untouched. When the new graph fails
// to start, the previous configuration is started again; if that fails too
// the daemon is degraded until a later reload succeeds. Process-wide
// settings such as the database and bus only take effect after a restart.
func (d *Daemon) ReloadConfig(ctx context.Context, cfg *config.Config) error {
	d.reloadMu.Lock()
	defer d.reloadMu.Unlock()

	d.mu.Lock()
	rt, prev, prevCfg := d.rt, d.orch, d.cfg
	d.mu.Unlock()
	if rt == nil {
		return errors.New("daemon is not running")
	}
	if restart := restartFields(prevCfg, cfg); len(restart) > 0 {
		d.logger.Warn("Configuration changes need a restart", slog.Any("fields", restart))
	}

	next, err := orchestrator.New(cfg, d.registry, rt.Env(cfg))
	if err != nil {
		d.logger.Error("Keeping current stages, new configuration is invalid", logfields.Error(err))
		return err
	}
	if prev != nil {
		if err := prev.Stop(ctx); err != nil {
			d.logger.Warn("Previous stages did not stop cleanly", logfields.Error(err))
		}
	}
	if err := d.startStages(ctx, next); err != nil {
		err = fmt.Errorf("start reloaded stages: %w", err)
		d.logger.Error("Reloaded stages failed to start, restoring previous configuration", logfields.Error(err))
		return d.restore(ctx, rt, prevCfg, err)
	}

	d.mu.Lock()
	d.orch, d.cfg = next, cfg
	d.mu.Unlock()
	d.status.CompareAndSwap(StatusDegraded, StatusRunning)
	d.reloads.Add(1)
	d.logger.Info("Configuration reloaded", slog.Int("stages", len(next.Stages())))
	return nil
}

// restore rebuilds and starts the stages of cfg after a failed reload and
// returns cause, joined with any error hit while restoring.
func (d *Daemon) restore(ctx context.Context, rt *Runtime, cfg *config.Config, cause error) error {
	o, err := orchestrator.New(cfg, d.registry, rt.Env(cfg))
	if err == nil {
		err = d.startStages(ctx, o)
	}
	if err != nil {
		d.mu.Lock()
		d.orch = nil
		d.mu.Unlock()
		d.status.Store(StatusDegraded)
		d.logger.Error("Previous stages failed to restart, no stages are running", logfields.Error(err))
		return errors.Join(cause, fmt.Errorf("restore previous stages: %w", err))
	}
	d.mu.Lock()
	d.orch = o
	d.mu.Unlock()
	return cause
}

// Reloads counts applied configuration reloads.
func (d *Daemon) Reloads() int64 { return d.reloads.Load() }

func restartFields(old, next *config.Config) []string {
	var out []string
	if old.DataDir != next.DataDir {
		out = append(out, "data_dir")
	}
	if old.Database != next.Database {
		out = append(out, "database")
	}
	if old.Bus != next.Bus {
		out = append(out, "bus")
	}
	if old.Downloads != next.Downloads {
		out = append(out, "downloads")
	}
	if old.HTTP != next.HTTP {
		out = append(out, "http")
	}
	if old.Monitoring.MetricsAddr != next.Monitoring.MetricsAddr {
		out = append(out, "monitoring.metrics_addr")
	}
	return out
}

// Stop stops the watcher, the stages and the metrics server, then releases
// the runtime and the lock.
func (d *Daemon) Stop(ctx context.Context) error {
	d.status.Store(StatusStopping)
	defer d.status.Store(StatusStopped)

	d.mu.Lock()
	w := d.watcher
	d.watcher = nil
	d.mu.Unlock()

	var errs []error
	if w != nil {
		errs = append(errs, w.Stop())
	}

	d.reloadMu.Lock()
	defer d.reloadMu.Unlock()
	d.mu.Lock()
	o, srv, rt := d.orch, d.server, d.rt
	d.orch, d.server, d.rt, d.addr = nil, nil, nil, nil
	d.mu.Unlock()

	if o != nil {
		errs = append(errs, o.Stop(ctx))
	}
	if srv != nil {
		errs = append(errs, srv.Shutdown(ctx))
	}
	if rt != nil {
		errs = append(errs, rt.Close())
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("Failed to release lock", logfields.Error(err))
	}
	d.logger.Info("Daemon stopped")
	return errors.Join(errs...)
}

func (d *Daemon) startMetrics() error {
	addr := d.cfg.Monitoring.MetricsAddr
	if addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", d.rt.MetricsHandler())
	mux.HandleFunc("/healthz", d.handleHealth)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	d.mu.Lock()
	d.server, d.addr = srv, ln.Addr()
	d.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("Metrics server failed", logfields.Error(err))
		}
	}()
	d.logger.Info("Serving metrics", slog.String("addr", ln.Addr().String()))
	return nil
}

// Health is the /healthz response.
type Health struct {
	Status  Status `json:"status"`
	Uptime  string `json:"uptime"`
	Stages  int    `json:"stages"`
	Reloads int64  `json:"reloads"`
}

func (d *Daemon) handleHealth(w http.ResponseWriter, _ *http.Request) {
	d.mu.Lock()
	h := Health{Status: d.Status(), Reloads: d.reloads.Load()}
	if !d.startTime.IsZero() {
		h.Uptime = time.Since(d.startTime).Truncate(time.Second).String()
	}
	if d.orch != nil {
		h.Stages = len(d.orch.Stages())
	}
	d.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if h.Status != StatusRunning {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(h)
}
