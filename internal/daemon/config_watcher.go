package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/washer/internal/logfields"
)

// DefaultDebounce coalesces bursts of editor writes into one reload.
const DefaultDebounce = 2 * time.Second

// ConfigWatcher calls reload after the configuration file settles.
type ConfigWatcher struct {
	configPath string
	reload     func(ctx context.Context) error
	watcher    *fsnotify.Watcher
	debounce   time.Duration

	mu       sync.Mutex
	stopOnce sync.Once
	stopChan chan struct{}
	pending  chan struct{}
	done     sync.WaitGroup
}

// NewConfigWatcher prepares a watcher for configPath.
func NewConfigWatcher(configPath string, debounce time.Duration, reload func(ctx context.Context) error) (*ConfigWatcher, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &ConfigWatcher{
		configPath: absPath,
		reload:     reload,
		watcher:    watcher,
		debounce:   debounce,
		stopChan:   make(chan struct{}),
		pending:    make(chan struct{}, 1),
	}, nil
}

// Start watches the directory holding the file. Editors that replace the file
// on save would otherwise drop a watch placed on the file itself.
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	dir := filepath.Dir(cw.configPath)
	if err := cw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch config directory %s: %w", dir, err)
	}
	slog.Info("Watching configuration", logfields.Path(cw.configPath))

	cw.done.Add(2)
	go cw.watchLoop(ctx)
	go cw.reloadLoop(ctx)
	return nil
}

// Stop ends both loops and closes the watcher.
func (cw *ConfigWatcher) Stop() error {
	var err error
	cw.stopOnce.Do(func() {
		close(cw.stopChan)
		err = cw.watcher.Close()
		cw.done.Wait()
	})
	return err
}

func (cw *ConfigWatcher) watchLoop(ctx context.Context) {
	defer cw.done.Done()
	name := filepath.Base(cw.configPath)
	for {
		select {
		case <-ctx.Done():
			return
		case <-cw.stopChan:
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			switch {
			case event.Has(fsnotify.Write), event.Has(fsnotify.Create), event.Has(fsnotify.Rename):
				slog.Debug("Configuration changed", logfields.Path(event.Name), slog.String("op", event.Op.String()))
				cw.trigger()
			case event.Has(fsnotify.Remove):
				slog.Warn("Configuration file removed", logfields.Path(event.Name))
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Config watcher error", logfields.Error(err))
		}
	}
}

func (cw *ConfigWatcher) reloadLoop(ctx context.Context) {
	defer cw.done.Done()
	var timer *time.Timer
	stop := func() {
		cw.mu.Lock()
		defer cw.mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
	}
	for {
		select {
		case <-ctx.Done():
			stop()
			return
		case <-cw.stopChan:
			stop()
			return
		case <-cw.pending:
			cw.mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(cw.debounce, func() {
				if err := cw.reload(ctx); err != nil {
					slog.Error("Failed to reload configuration", logfields.Error(err))
				}
			})
			cw.mu.Unlock()
		}
	}
}

func (cw *ConfigWatcher) trigger() {
	select {
	case cw.pending <- struct{}{}:
	default:
	}
}
