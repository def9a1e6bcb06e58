package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/washer/internal/model"
	"git.home.luguber.info/inful/washer/internal/washer/washertest"
)

func TestRunRendersText(t *testing.T) {
	env := washertest.Env(t)
	w := washertest.New(t, env, Type, "md", map[string]any{"subscribe": "feed"})

	in := []model.Item{
		{URL: "https://example.com/a", Text: "# Hello\n\nSome *emphasis* and ![pic](img/p.png)\n\n- [x] done"},
		{URL: "https://example.com/b"},
	}
	out, err := w.(*Renderer).Run(t.Context(), in)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Contains(t, out[0].HTML, "<h1>Hello</h1>")
	assert.Contains(t, out[0].HTML, "<em>emphasis</em>")
	assert.Contains(t, out[0].HTML, `type="checkbox"`)
	assert.Equal(t, "https://example.com/img/p.png", out[0].Image)
	assert.Empty(t, out[1].HTML)
}

func TestRunRendersSummary(t *testing.T) {
	env := washertest.Env(t)
	w := washertest.New(t, env, Type, "md", map[string]any{"subscribe": "feed", "field": "summary"})

	out, err := w.(*Renderer).Run(t.Context(), []model.Item{
		{URL: "https://example.com/a", Text: "plain", Summary: "**bold**", Image: "keep.jpg"},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "<p><strong>bold</strong></p>\n", out[0].HTML)
	assert.Equal(t, "keep.jpg", out[0].Image)
}

func TestFieldSettingIsValidated(t *testing.T) {
	_, err := Type.Settings.Parse("md", map[string]any{"subscribe": "feed", "field": "html"})
	require.Error(t, err)
}
