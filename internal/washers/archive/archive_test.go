package archive

import (
	"testing"
	"time"

	"github.com/inful/mdfp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/washer/internal/model"
	"git.home.luguber.info/inful/washer/internal/washer/washertest"
)

func sampleItem() model.Item {
	return model.Item{
		URL:     "https://example.com/posts/1",
		Created: time.Date(2025, 4, 2, 8, 30, 0, 0, time.UTC),
		Title:   "Crème brûlée: a history!",
		Tags:    []string{"food", "history"},
		Text:    "Sugar, cream and fire.",
		Summary: "Sugar.",
		Source:  &model.Source{Title: "Kitchen", URL: "https://example.com"},
		Media:   &model.Media{File: "https://files.test/a.mp3", Type: "audio/mpeg", Size: 42},
	}
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "creme-brulee-a-history", Slug("Crème brûlée: a history!", 0))
	assert.Equal(t, "abc", Slug("  abc  ", 0))
	assert.Equal(t, "", Slug("!!!", 0))
	assert.Equal(t, "hello", Slug("Hello world", 5))
}

func TestFileName(t *testing.T) {
	name := FileName(sampleItem())
	assert.Regexp(t, `^2025/creme-brulee-a-history-[0-9a-f]{8}\.md$`, name)

	untitled := sampleItem()
	untitled.Title = ""
	assert.Regexp(t, `^2025/[0-9a-f]{8}\.md$`, FileName(untitled))
}

func TestDocumentRoundTrip(t *testing.T) {
	doc := NewDocument(sampleItem())
	out, err := doc.Render()
	require.NoError(t, err)
	assert.Contains(t, out, "---\n")

	back, err := ParseDocument(out)
	require.NoError(t, err)
	assert.Equal(t, "Sugar, cream and fire.\n", back.Body)
	assert.Equal(t, "https://example.com/posts/1", back.Fields["url"])
	assert.Equal(t, "Crème brûlée: a history!", back.Fields["title"])
	assert.Equal(t, "2025-04-02T08:30:00Z", back.Fields["date"])
	assert.Equal(t, []any{"food", "history"}, back.Fields["tags"])

	_, err = ParseDocument("no front matter")
	require.ErrorIs(t, err, errNoFrontMatter)
}

func TestFingerprintIgnoresBookkeeping(t *testing.T) {
	doc := NewDocument(sampleItem())
	fp1, err := doc.Fingerprint()
	require.NoError(t, err)
	doc.Fields[fieldArchived] = "2030-01-01T00:00:00Z"
	doc.Fields[mdfp.FingerprintField] = "stale"
	fp2, err := doc.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, fp1, fp2)

	doc.Body = "changed\n"
	fp3, err := doc.Fingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, fp1, fp3)
}

func TestRunSkipsUnchangedDocuments(t *testing.T) {
	env := washertest.Env(t)
	w := washertest.New(t, env, Type, "archive", map[string]any{"subscribe": "feed"})
	a := w.(*Archive)
	item := sampleItem()

	changed, err := a.Write(t.Context(), item)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = a.Write(t.Context(), item)
	require.NoError(t, err)
	assert.False(t, changed)

	item.Text = "Sugar, cream, fire and patience."
	changed, err = a.Write(t.Context(), item)
	require.NoError(t, err)
	assert.True(t, changed)

	content, ok, err := a.Files.ReadString(t.Context(), FileName(item))
	require.NoError(t, err)
	require.True(t, ok)
	doc, err := ParseDocument(content)
	require.NoError(t, err)
	assert.Equal(t, "Sugar, cream, fire and patience.\n", doc.Body)
	assert.NotEmpty(t, doc.Fields[mdfp.FingerprintField])

	require.NoError(t, a.Run(t.Context(), []model.Item{item}))
	assert.InDelta(t, 0.0, a.Memory.Values[memoryWritten], 0.001)
}
