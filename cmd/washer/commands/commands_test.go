package commands

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/washer/internal/config"
	"git.home.luguber.info/inful/washer/internal/model"
	"git.home.luguber.info/inful/washer/internal/persist"
)

func parseConfig(t *testing.T, stages string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	files := filepath.Join(dir, "files")
	require.NoError(t, os.MkdirAll(files, 0o750))
	cfg, err := config.Parse([]byte(fmt.Sprintf(`data_dir: %s
files:
  conn: %s
downloads:
  temp_dir: %s
stages:
%s`, filepath.Join(dir, "data"), files, filepath.Join(dir, "tmp"), stages)))
	require.NoError(t, err)
	return cfg
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(config.MonitoringLogging{Level: config.LogLevelWarn, Format: config.LogFormatJSON}, false, &buf)
	l.Info("hidden")
	l.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	l = NewLogger(config.MonitoringLogging{Level: config.LogLevelError, Format: config.LogFormatText}, true, &buf)
	l.Debug("detail")
	assert.Contains(t, buf.String(), "msg=detail")
}

func TestTypesListsRegistry(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&TypesCmd{Settings: true}).Run(&Global{Out: &buf}, nil))
	out := buf.String()
	for _, name := range []string{"rss", "fulltext", "archive", "clean", "source (abstract)", "url*", "schedule*"} {
		assert.Contains(t, out, name)
	}
}

func TestDescribeStages(t *testing.T) {
	cfg := parseConfig(t, `  - type: rss
    id: feed
    schedule: "0 */10 * * * *"
    url: https://example.com/feed.xml
  - type: archive
    subscribe: feed
    retain: 30
`)
	out, err := DescribeStages(cfg, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "feed")
	assert.Contains(t, out, "← feed")
	assert.Contains(t, out, "0 */10 * * * *")
	assert.Contains(t, out, "30")

	bad := parseConfig(t, `  - type: archive
    subscribe: missing
`)
	_, err = DescribeStages(bad, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestEnsureStage(t *testing.T) {
	cfg := &config.Config{Stages: []config.StageConfig{{Type: "clean", ID: "nightly"}}}
	assert.Equal(t, "nightly", ensureStage(cfg, "clean"))
	assert.Len(t, cfg.Stages, 1)

	cfg = &config.Config{Stages: []config.StageConfig{{Type: "archive", ID: "upgrade"}}}
	assert.Equal(t, "upgrade-2", ensureStage(cfg, "upgrade"))
	require.Len(t, cfg.Stages, 2)
	assert.Equal(t, onceSchedule, cfg.Stages[1].Settings["schedule"])
}

func TestShowMemory(t *testing.T) {
	store, err := persist.NewSQLiteStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	mem := model.NewMemory()
	mem.LastRun = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mem.LastDuration = 1500
	mem.Set("etag", `"abc"`)
	require.NoError(t, store.SaveMemory(ctx, "feed", mem))

	list, err := ShowMemory(ctx, store, "", false)
	require.NoError(t, err)
	assert.Contains(t, list, "feed")
	assert.Contains(t, list, "2024-05-01T12:00:00Z")

	table, err := ShowMemory(ctx, store, "feed", false)
	require.NoError(t, err)
	assert.Contains(t, table, "etag")
	assert.Contains(t, table, "1500ms")

	raw, err := ShowMemory(ctx, store, "feed", true)
	require.NoError(t, err)
	assert.Contains(t, raw, `"lastRun"`)
	assert.Contains(t, raw, `"etag"`)

	fresh, err := ShowMemory(ctx, store, "unknown", false)
	require.NoError(t, err)
	assert.Contains(t, fresh, "never")
}

func TestRunOnceClean(t *testing.T) {
	cfg := parseConfig(t, "")
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.Downloads.TempDir, "job"), 0o750))

	require.NoError(t, RunOnce(t.Context(), cfg, nil, "clean"))
	_, err := os.Stat(cfg.Downloads.TempDir)
	assert.True(t, os.IsNotExist(err))

	store, err := persist.NewSQLiteStore(cfg.Database, nil)
	require.NoError(t, err)
	defer store.Close()
	mem, err := store.LoadMemory(t.Context(), "clean")
	require.NoError(t, err)
	assert.Positive(t, mem.LastRun.Unix())
}
