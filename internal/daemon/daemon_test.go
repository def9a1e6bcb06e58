package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/washer/internal/config"
	ferrors "git.home.luguber.info/inful/washer/internal/foundation/errors"
	"git.home.luguber.info/inful/washer/internal/orchestrator"
	"git.home.luguber.info/inful/washer/internal/washers"
)

func writeConfig(t *testing.T, dir string, stages string) string {
	t.Helper()
	path := filepath.Join(dir, "washer.yaml")
	content := `version: "1"
data_dir: ` + filepath.Join(dir, "data") + `
files:
  conn: ` + filepath.Join(dir, "files") + `
downloads:
  temp_dir: ` + filepath.Join(dir, "tmp") + `
monitoring:
  metrics_addr: 127.0.0.1:0
stages:
` + stages
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const cleanStage = `  - type: clean
    schedule: "0 0 3 * * *"
`

const sinkStage = `  - type: archive
    subscribe: log
`

func startDaemon(t *testing.T, path string, opts Options) *Daemon {
	t.Helper()
	cfg, err := config.Load(path)
	require.NoError(t, err)
	opts.ConfigPath = path
	d := New(cfg, washers.NewRegistry(), opts)
	require.NoError(t, d.Start(t.Context()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Stop(ctx)
	})
	return d
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url) // #nosec G107 - test server address
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp.StatusCode
}

func TestStartServesHealthAndMetrics(t *testing.T) {
	dir := t.TempDir()
	d := startDaemon(t, writeConfig(t, dir, cleanStage), Options{})
	assert.Equal(t, StatusRunning, d.Status())
	require.NotNil(t, d.MetricsAddr())
	base := "http://" + d.MetricsAddr().String()

	var h Health
	assert.Equal(t, http.StatusOK, getJSON(t, base+"/healthz", &h))
	assert.Equal(t, StatusRunning, h.Status)
	assert.Equal(t, 1, h.Stages)

	resp, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}

func TestSecondDaemonCannotTakeLock(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, cleanStage)
	startDaemon(t, path, Options{})

	cfg, err := config.Load(path)
	require.NoError(t, err)
	cfg.Monitoring.MetricsAddr = ""
	second := New(cfg, washers.NewRegistry(), Options{})
	err = second.Start(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another washer process")
	assert.Equal(t, StatusStopped, second.Status())
}

func TestReloadSwapsStagesAndKeepsThemOnError(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, cleanStage)
	d := startDaemon(t, path, Options{Debounce: time.Hour})
	require.Len(t, d.Orchestrator().Stages(), 1)

	writeConfig(t, dir, cleanStage+sinkStage)
	require.NoError(t, d.Reload(t.Context()))
	require.Len(t, d.Orchestrator().Stages(), 2)
	_, ok := d.Orchestrator().Stage("archive")
	assert.True(t, ok)

	writeConfig(t, dir, cleanStage+`  - type: nope
`)
	err := d.Reload(t.Context())
	require.Error(t, err)
	assert.True(t, ferrors.IsConfigError(err), "%v", err)
	assert.Len(t, d.Orchestrator().Stages(), 2)
	assert.Equal(t, int64(1), d.Reloads())
}

func TestReloadRestoresPreviousStagesWhenStartFails(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, cleanStage)
	d := startDaemon(t, path, Options{Debounce: time.Hour})
	prev := d.Orchestrator()
	health := "http://" + d.MetricsAddr().String() + "/healthz"

	boom := errors.New("scheduler unavailable")
	d.startStages = func(ctx context.Context, o *orchestrator.Orchestrator) error {
		if len(o.Stages()) == 2 {
			return boom
		}
		return o.Start(ctx)
	}
	writeConfig(t, dir, cleanStage+sinkStage)
	err := d.Reload(t.Context())
	require.ErrorIs(t, err, boom)

	cur := d.Orchestrator()
	require.NotNil(t, cur)
	assert.NotSame(t, prev, cur)
	assert.Len(t, cur.Stages(), 1)
	assert.Equal(t, StatusRunning, d.Status())
	assert.Equal(t, int64(0), d.Reloads())
	var h Health
	assert.Equal(t, http.StatusOK, getJSON(t, health, &h))
	assert.Equal(t, 1, h.Stages)

	// neither graph starts
	d.startStages = func(context.Context, *orchestrator.Orchestrator) error { return boom }
	require.ErrorIs(t, d.Reload(t.Context()), boom)
	assert.Nil(t, d.Orchestrator())
	assert.Equal(t, StatusDegraded, d.Status())
	h = Health{}
	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, health, &h))
	assert.Equal(t, StatusDegraded, h.Status)
	assert.Zero(t, h.Stages)

	d.startStages = func(ctx context.Context, o *orchestrator.Orchestrator) error { return o.Start(ctx) }
	require.NoError(t, d.Reload(t.Context()))
	assert.Equal(t, StatusRunning, d.Status())
	require.NotNil(t, d.Orchestrator())
	assert.Len(t, d.Orchestrator().Stages(), 2)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, cleanStage)
	d := startDaemon(t, path, Options{Debounce: 20 * time.Millisecond})

	writeConfig(t, dir, cleanStage+sinkStage)
	require.Eventually(t, func() bool { return d.Reloads() >= 1 }, 10*time.Second, 20*time.Millisecond)
	assert.Len(t, d.Orchestrator().Stages(), 2)
}

func TestRestartFields(t *testing.T) {
	a := &config.Config{Database: "a.db", Bus: "local"}
	b := &config.Config{Database: "b.db", Bus: "local"}
	assert.Equal(t, []string{"database"}, restartFields(a, b))
	assert.Empty(t, restartFields(a, a))
}

func TestAcquireLockExcludesDaemon(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, cleanStage)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	l, err := AcquireLock(cfg.DataDir)
	require.NoError(t, err)
	d := New(cfg, washers.NewRegistry(), Options{})
	require.Error(t, d.Start(t.Context()))

	require.NoError(t, l.Unlock())
	_, err = AcquireLock(cfg.DataDir)
	require.NoError(t, err)
}
