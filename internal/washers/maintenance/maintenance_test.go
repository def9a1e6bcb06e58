package maintenance

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/washer/internal/download"
	"git.home.luguber.info/inful/washer/internal/settings"
	"git.home.luguber.info/inful/washer/internal/storage"
	"git.home.luguber.info/inful/washer/internal/washer"
	"git.home.luguber.info/inful/washer/internal/washer/washertest"
)

func TestCleanRemovesWorkspaceAndExpiredFiles(t *testing.T) {
	env := washertest.Env(t)
	tmp := env.Config.Downloads.TempDir
	require.NoError(t, os.WriteFile(filepath.Join(tmp, "leftover"), []byte("x"), 0o600))

	backend := storage.NewMockBackend()
	peer := washer.NewBase(env, washer.Type{Name: "rss", Kind: washer.KindSource}, "feed",
		settings.NewValues(map[string]any{washer.SettingRetain: 1}))
	peer.Files = storage.New(backend, "feed", "")

	now := env.Now()
	fresh := "feed/" + storage.Bucket(now) + "/b/media.mp3"
	require.NoError(t, backend.Put(t.Context(), "feed/2000-01-01/a/media.mp3", []byte("old")))
	require.NoError(t, backend.Put(t.Context(), fresh, []byte("new")))

	w := washertest.New(t, env, CleanType, "clean", map[string]any{"schedule": "0 0 3 * * *"})
	env.Peers = func() []*washer.Base { return []*washer.Base{w.Stage(), peer} }

	require.NoError(t, w.(*Clean).Run(t.Context()))

	_, err := os.Stat(tmp)
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, []string{fresh}, backend.Keys())
}

func TestUpgradeRecordsVersionsInMemory(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/latest":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"tag_name": "2025.01.15",
				"assets": []map[string]string{
					{"name": "yt-dlp", "browser_download_url": srv.URL + "/bin"},
					{"name": "yt-dlp.exe", "browser_download_url": srv.URL + "/bin"},
				},
			})
		case "/bin":
			_, _ = w.Write([]byte("#!/bin/sh\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	env := washertest.Env(t)
	env.Config.Downloads.YtDlp = filepath.Join(env.Config.Downloads.ToolsDir, "yt-dlp")
	env.Config.Downloads.ReleasesURL = srv.URL + "/latest"
	env.Config.Downloads.FFmpegReleasesURL = ""
	env.Downloads = download.NewManager(env.Config.Downloads, env.Config.Retry, env.Queue)

	w := washertest.New(t, env, UpgradeType, "upgrade", map[string]any{"schedule": "@daily"})
	u := w.(*Upgrade)
	require.NoError(t, u.Run(t.Context()))

	assert.Equal(t, "2025.01.15", u.Memory.GetString("yt-dlp"))
	data, err := os.ReadFile(env.Config.Downloads.YtDlp)
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\n", string(data))
}
