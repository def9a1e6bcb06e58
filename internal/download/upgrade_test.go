package download

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpgradeSkipsCurrentRelease(t *testing.T) {
	var assetHits atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/releases/latest":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"tag_name": "2024.10.07",
				"assets": []map[string]string{
					{"name": "tool-bin", "browser_download_url": srv.URL + "/asset"},
				},
			})
		case "/asset":
			assetHits.Add(1)
			_, _ = w.Write([]byte("#!/bin/sh\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	m := newTestManager(t, srv.Client())
	m.cfg.YtDlp = m.cfg.ToolsDir + "/yt-dlp"
	m.cfg.FFmpeg = m.cfg.ToolsDir + "/ffmpeg"
	m.cfg.ReleasesURL = srv.URL + "/releases/latest"
	m.cfg.FFmpegReleasesURL = ""

	tool := Tool{Name: "yt-dlp", Path: m.cfg.YtDlp, ReleasesURL: m.cfg.ReleasesURL, Assets: []string{"missing", "tool-bin"}}
	res, err := m.upgradeTool(t.Context(), tool, "")
	require.NoError(t, err)
	assert.True(t, res.Upgraded)
	assert.Equal(t, "2024.10.07", res.Version)
	data, err := os.ReadFile(m.cfg.YtDlp)
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\n", string(data))

	res, err = m.upgradeTool(t.Context(), tool, "2024.10.07")
	require.NoError(t, err)
	assert.False(t, res.Upgraded)
	assert.Equal(t, int32(1), assetHits.Load())
}

func TestUpgradeRecordsVersions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"tag_name": "v1", "assets": []any{}})
	}))
	defer srv.Close()

	m := newTestManager(t, srv.Client())
	m.cfg.ReleasesURL = srv.URL
	m.cfg.FFmpegReleasesURL = ""

	_, err := m.Upgrade(t.Context())
	require.Error(t, err, "release without a matching asset")

	require.NoError(t, os.MkdirAll(m.cfg.ToolsDir, 0o750))
	require.NoError(t, m.writeVersions(map[string]string{"ffmpeg": "b6"}))
	v, err := m.readVersions()
	require.NoError(t, err)
	assert.Equal(t, "b6", v["ffmpeg"])
}
