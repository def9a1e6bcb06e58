package washer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/washer/internal/config"
	"git.home.luguber.info/inful/washer/internal/download"
	ferrors "git.home.luguber.info/inful/washer/internal/foundation/errors"
	"git.home.luguber.info/inful/washer/internal/httpqueue"
	"git.home.luguber.info/inful/washer/internal/logfields"
	"git.home.luguber.info/inful/washer/internal/metrics"
	"git.home.luguber.info/inful/washer/internal/model"
	"git.home.luguber.info/inful/washer/internal/persist"
	"git.home.luguber.info/inful/washer/internal/query"
	"git.home.luguber.info/inful/washer/internal/settings"
	"git.home.luguber.info/inful/washer/internal/storage"
)

// Env holds the process-wide collaborators shared by every stage.
type Env struct {
	Config    *config.Config
	Port      persist.Port
	Queue     *httpqueue.Queue
	Downloads *download.Manager
	Recorder  metrics.Recorder
	Logger    *slog.Logger
	Now       func() time.Time
	// Peers lists the stages of the running orchestrator.
	Peers func() []*Base
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Base is the lifecycle helper embedded by concrete stages.
type Base struct {
	ID       string
	Type     Type
	Settings settings.Values
	Memory   model.Memory
	Files    *storage.Store
	Env      *Env
	Logger   *slog.Logger
}

// NewBase prepares the shared state of a stage instance.
func NewBase(env *Env, t Type, id string, vals settings.Values) *Base {
	logger := env.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Base{
		ID:       id,
		Type:     t,
		Settings: vals,
		Memory:   model.NewMemory(),
		Env:      env,
		Logger:   logger.With(logfields.StageID(id), logfields.StageType(t.Name)),
	}
}

// Stage returns b. Embedding *Base makes every stage satisfy Washer.Stage.
func (b *Base) Stage() *Base { return b }

func (b *Base) Init(context.Context) error    { return nil }
func (b *Base) Cleanup(context.Context) error { return nil }

func (b *Base) Kind() Kind { return b.Type.Kind }

// Title is the configured title, falling back to the type title.
func (b *Base) Title() string {
	if t := b.Settings.String(SettingTitle); t != "" {
		return t
	}
	return b.Type.Title
}

func (b *Base) Retain() int { return b.Settings.Int(SettingRetain) }

// RetainFiles is the file retention in days, defaulting to Retain.
func (b *Base) RetainFiles() int {
	if b.Settings.Has(SettingRetainFiles) {
		return b.Settings.Int(SettingRetainFiles)
	}
	return b.Retain()
}

func (b *Base) Schedule() string           { return b.Settings.String(SettingSchedule) }
func (b *Base) Subscriptions() []string    { return b.Settings.Strings(SettingSubscribe) }
func (b *Base) Filter() *query.Filter      { return b.Settings.Filter(SettingFilter) }
func (b *Base) Now() time.Time             { return b.Env.now() }
func (b *Base) Recorder() metrics.Recorder { return metrics.OrNoop(b.Env.Recorder) }

// Open loads the stage's memory and opens and validates its file store.
func (b *Base) Open(ctx context.Context) error {
	mem, err := b.Env.Port.LoadMemory(ctx, b.ID)
	if err != nil {
		return ferrors.StorageError(b.ID, "load memory").WithCause(err).Build()
	}
	b.Memory = mem

	conn, publicURL := "", ""
	if b.Env.Config != nil {
		conn, publicURL = b.Env.Config.Files.Conn, b.Env.Config.Files.URL
	}
	if c := b.Settings.String(SettingFiles); c != "" {
		conn = c
	}
	if u := b.Settings.String(SettingFilesURL); u != "" {
		publicURL = u
	}
	if conn == "" {
		return ferrors.ConfigError(b.ID, SettingFiles, "no file store configured").Build()
	}
	files, err := storage.Open(ctx, conn, b.ID, publicURL)
	if err != nil {
		return err
	}
	if err := files.Validate(ctx); err != nil {
		return err
	}
	b.Files = files
	return nil
}

// SaveMemory records the run that started at start and persists the memory.
func (b *Base) SaveMemory(ctx context.Context, start time.Time, took time.Duration) error {
	b.Memory.LastRun = start.UTC()
	b.Memory.LastDuration = took.Milliseconds()
	b.Memory.Config = b.Settings.Snapshot()
	if err := b.Env.Port.SaveMemory(ctx, b.ID, b.Memory); err != nil {
		return fmt.Errorf("save memory of %s: %w", b.ID, err)
	}
	return nil
}

// HTTP sends req through the shared request queue on behalf of this stage.
func (b *Base) HTTP(ctx context.Context, key string, req httpqueue.Request, onRetry httpqueue.RetryFunc) (*httpqueue.Response, error) {
	return b.Env.Queue.Do(ctx, b.ID, key, req, onRetry)
}

// ResolveDownloads runs every pending download of items and copies the
// stored locations onto them. A failed download is logged and leaves the
// item without that attachment.
func (b *Base) ResolveDownloads(ctx context.Context, items []model.Item) []model.Item {
	if b.Env.Downloads == nil || b.Files == nil {
		for i := range items {
			items[i].Downloads = nil
		}
		return items
	}
	results := make([][]model.DownloadResult, len(items))
	g, gctx := errgroup.WithContext(ctx)
	for i := range items {
		results[i] = make([]model.DownloadResult, len(items[i].Downloads))
		for j, d := range items[i].Downloads {
			g.Go(func() error {
				res, err := b.Env.Downloads.Fetch(gctx, b.Files, d)
				if err != nil {
					b.Logger.Warn("Download failed", logfields.URL(d.URL), logfields.Error(err))
					return nil
				}
				results[i][j] = res
				return nil
			})
		}
	}
	_ = g.Wait()
	for i := range items {
		for _, res := range results[i] {
			if !res.Empty() {
				items[i].ApplyDownload(res)
			}
		}
		items[i].Downloads = nil
	}
	return items
}

// Log appends an entry for this stage to the log stream.
func (b *Base) Log(ctx context.Context, level, message string, cause error) {
	entry := model.LogEntry{
		Time:      b.Now().UTC(),
		Level:     level,
		StageID:   b.ID,
		StageType: b.Type.Name,
		Message:   message,
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	if err := b.Env.Port.WriteLog(ctx, entry); err != nil {
		b.Logger.Error("Failed to write log entry", logfields.Error(err))
	}
}
