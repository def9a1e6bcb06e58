package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"

	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"

	"git.home.luguber.info/inful/washer/internal/bus"
	"git.home.luguber.info/inful/washer/internal/config"
	"git.home.luguber.info/inful/washer/internal/download"
	"git.home.luguber.info/inful/washer/internal/httpqueue"
	"git.home.luguber.info/inful/washer/internal/logfields"
	"git.home.luguber.info/inful/washer/internal/metrics"
	"git.home.luguber.info/inful/washer/internal/persist"
	"git.home.luguber.info/inful/washer/internal/storage"
	"git.home.luguber.info/inful/washer/internal/washer"
)

// Runtime holds the process-wide collaborators that outlive a configuration
// reload: the database, the notification bus, the request queue and the
// download manager.
type Runtime struct {
	Port      *persist.SQLiteStore
	Queue     *httpqueue.Queue
	Downloads *download.Manager
	Recorder  metrics.Recorder
	Registry  *prom.Registry
	Logger    *slog.Logger
}

// NewRuntime opens everything cfg points at. The caller must Close it.
func NewRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	b, err := bus.Open(ctx, cfg.Bus, logger)
	if err != nil {
		return nil, fmt.Errorf("open bus: %w", err)
	}
	port, err := persist.NewSQLiteStore(cfg.Database, b, persist.WithLogger(logger))
	if err != nil {
		_ = b.Close()
		return nil, err
	}

	reg := prom.NewRegistry()
	reg.MustRegister(promcollect.NewGoCollector(), promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}))
	rec := metrics.NewPrometheusRecorder(reg)

	queue := httpqueue.New(httpqueue.Options{
		Client:      &http.Client{Timeout: cfg.HTTP.Timeout},
		UserAgent:   cfg.HTTP.UserAgent,
		Margin:      cfg.HTTP.RateLimitMargin,
		MinInterval: cfg.HTTP.MinInterval,
		Recorder:    rec,
		Logger:      logger,
	})
	dl := download.NewManager(cfg.Downloads, cfg.Retry, queue,
		download.WithRecorder(rec),
		download.WithLogger(logger),
	)

	logger.Info("Runtime ready",
		logfields.Path(cfg.Database),
		slog.String("bus", busName(cfg.Bus)),
		logfields.Store(storage.RedactConn(cfg.Files.Conn)))

	return &Runtime{
		Port:      port,
		Queue:     queue,
		Downloads: dl,
		Recorder:  rec,
		Registry:  reg,
		Logger:    logger,
	}, nil
}

// Env returns the stage environment for cfg on top of the runtime.
func (rt *Runtime) Env(cfg *config.Config) *washer.Env {
	return &washer.Env{
		Config:    cfg,
		Port:      rt.Port,
		Queue:     rt.Queue,
		Downloads: rt.Downloads,
		Recorder:  rt.Recorder,
		Logger:    rt.Logger,
	}
}

// MetricsHandler serves the runtime's Prometheus registry.
func (rt *Runtime) MetricsHandler() http.Handler {
	return metrics.HTTPHandler(rt.Registry)
}

func (rt *Runtime) Close() error {
	if rt == nil || rt.Port == nil {
		return nil
	}
	return rt.Port.Close()
}

func busName(conn string) string {
	if conn == "" {
		return "local"
	}
	u, err := url.Parse(conn)
	if err != nil {
		return "invalid"
	}
	return u.Redacted()
}
