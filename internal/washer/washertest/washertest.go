// Package washertest builds stage instances against in-memory collaborators
// for tests of concrete stage types.
package washertest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/washer/internal/config"
	"git.home.luguber.info/inful/washer/internal/download"
	"git.home.luguber.info/inful/washer/internal/httpqueue"
	"git.home.luguber.info/inful/washer/internal/persist"
	"git.home.luguber.info/inful/washer/internal/washer"
)

// NoSleep is a retry.Sleeper that returns immediately.
func NoSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// Env returns an environment backed by an in-memory SQLite store, a local
// file store and a request queue that never waits.
func Env(t testing.TB) *washer.Env {
	t.Helper()
	port, err := persist.NewSQLiteStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = port.Close() })

	cfg := config.Config{
		DataDir: t.TempDir(),
		Files:   config.FilesConfig{Conn: t.TempDir(), URL: "https://files.test"},
		Downloads: config.DownloadsConfig{
			PoolSize: 2,
			Attempts: 1,
			TempDir:  t.TempDir(),
			ToolsDir: t.TempDir(),
		},
	}
	queue := httpqueue.New(httpqueue.Options{Sleep: NoSleep})
	return &washer.Env{
		Config:    &cfg,
		Port:      port,
		Queue:     queue,
		Downloads: download.NewManager(cfg.Downloads, cfg.Retry, queue, download.WithSleeper(NoSleep)),
		Now:       func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
}

// New parses raw with typ's settings, constructs the stage as id and opens it.
func New(t testing.TB, env *washer.Env, typ washer.Type, id string, raw map[string]any) washer.Washer {
	t.Helper()
	vals, err := typ.Settings.Parse(id, raw)
	require.NoError(t, err)
	b := washer.NewBase(env, typ, id, vals)
	w, err := typ.New(b)
	require.NoError(t, err)
	require.NoError(t, b.Open(t.Context()))
	require.NoError(t, w.Init(t.Context()))
	return w
}
