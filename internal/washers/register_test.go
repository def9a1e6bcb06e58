package washers

import (
	"context"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/washer/internal/config"
	"git.home.luguber.info/inful/washer/internal/orchestrator"
	"git.home.luguber.info/inful/washer/internal/washer"
	"git.home.luguber.info/inful/washer/internal/washer/washertest"
)

const feedXML = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Notes</title><link>https://notes.example.com/</link>
<item><title>Alpha</title><link>https://notes.example.com/alpha</link><description>*first* note</description></item>
<item><title>Beta</title><link>https://notes.example.com/beta</link><description>second note</description></item>
</channel></rss>`

func TestRegistryHoldsBuiltins(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"rss", "fulltext", "markdown", "archive", "webhook", "clean", "upgrade", "source", "sink"} {
		_, ok := r.Lookup(name)
		assert.True(t, ok, name)
	}
	for _, typ := range Types() {
		assert.False(t, typ.Abstract, typ.Name)
		assert.NotNil(t, typ.New, typ.Name)
		assert.NotEmpty(t, typ.Description, typ.Name)
	}
	require.Error(t, Register(r), "registering twice must fail")

	feedType, _ := r.Lookup("rss")
	assert.Equal(t, washer.KindSource, feedType.Kind)
}

func TestFeedToArchivePipeline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(feedXML))
	}))
	defer srv.Close()

	env := washertest.Env(t)
	cfg := &config.Config{Stages: []config.StageConfig{
		{Type: "rss", ID: "feed", Settings: map[string]any{"schedule": "0 0 0 1 1 *", "url": srv.URL}},
		{Type: "markdown", ID: "md", Settings: map[string]any{"subscribe": "feed", "field": "summary"}},
		{Type: "archive", Settings: map[string]any{"subscribe": "md"}},
	}}
	o, err := orchestrator.New(cfg, NewRegistry(), env)
	require.NoError(t, err)
	require.NoError(t, o.Start(t.Context()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Stop(ctx)
	})

	require.NoError(t, o.RunNow(t.Context(), "feed"))

	docs := func() []string {
		var out []string
		_ = filepath.WalkDir(env.Config.Files.Conn, func(path string, d fs.DirEntry, err error) error {
			if err == nil && !d.IsDir() && strings.HasSuffix(path, ".md") {
				out = append(out, path)
			}
			return nil
		})
		return out
	}
	require.Eventually(t, func() bool { return len(docs()) == 2 }, 10*time.Second, 10*time.Millisecond)

	rendered, err := env.Port.LoadItems(t.Context(), "md", time.Time{}, nil)
	require.NoError(t, err)
	require.Len(t, rendered, 2)
	for _, it := range rendered {
		assert.Contains(t, it.HTML, "<p>")
	}
}
