package rss

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/washer/internal/washer/washertest"
)

const feedXML = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd">
<channel>
  <title>Example</title>
  <link>https://example.com/</link>
  <item>
    <title>First</title>
    <link>https://example.com/1</link>
    <pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate>
    <category>news</category>
    <description><![CDATA[<p>Hello <b>there</b></p><img src="/a.jpg">]]></description>
  </item>
  <item>
    <title>Episode</title>
    <link>https://example.com/ep</link>
    <enclosure url="https://cdn.example.com/ep.mp3" length="1234" type="audio/mpeg"/>
    <itunes:duration>01:02</itunes:duration>
  </item>
  <item>
    <title>No link</title>
  </item>
</channel>
</rss>`

func TestRunUsesConditionalGet(t *testing.T) {
	var hits, notModified atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(feedXML))
	}))
	defer srv.Close()

	env := washertest.Env(t)
	w := washertest.New(t, env, Type, "feed", map[string]any{
		"schedule": "0 */5 * * * *",
		"url":      srv.URL + "/feed.xml",
	})
	feed := w.(*Feed)

	items, err := feed.Run(t.Context())
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, `"v1"`, feed.Memory.GetString(memoryETag))

	items, err = feed.Run(t.Context())
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, int32(1), notModified.Load())
}

func TestRunFailsOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	env := washertest.Env(t)
	w := washertest.New(t, env, Type, "feed", map[string]any{"schedule": "@hourly", "url": srv.URL})
	_, err := w.(*Feed).Run(t.Context())
	require.Error(t, err)
}

func TestItemsNormalizesEntries(t *testing.T) {
	feed, err := gofeed.NewParser().ParseString(feedXML)
	require.NoError(t, err)
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	items := Items(feed, "https://example.com/feed.xml", false, now)
	require.Len(t, items, 2)

	first := items[0]
	assert.Equal(t, "https://example.com/1", first.URL)
	assert.Equal(t, "First", first.Title)
	assert.Equal(t, time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC), first.Created)
	assert.Equal(t, []string{"news"}, first.Tags)
	assert.Equal(t, "Hello there", first.Text)
	assert.Equal(t, "https://example.com/a.jpg", first.Image)
	assert.Equal(t, "Example", first.Source.Title)
	assert.Nil(t, first.Media)
	assert.Empty(t, first.Downloads)

	ep := items[1]
	assert.Equal(t, now, ep.Created)
	require.NotNil(t, ep.Media)
	assert.Equal(t, "https://cdn.example.com/ep.mp3", ep.Media.File)
	assert.Equal(t, int64(1234), ep.Media.Size)
	assert.Equal(t, "audio/mpeg", ep.Media.Type)
	assert.InDelta(t, 62.0, ep.Media.Duration, 0.001)
}

func TestItemsAddsDownloads(t *testing.T) {
	feed, err := gofeed.NewParser().ParseString(feedXML)
	require.NoError(t, err)

	items := Items(feed, "https://example.com/feed.xml", true, time.Now())
	require.Len(t, items, 2)
	require.Len(t, items[0].Downloads, 1)
	assert.Equal(t, "https://example.com/a.jpg", items[0].Downloads[0].URL)
	assert.True(t, items[0].Downloads[0].IsDirect())
	require.Len(t, items[1].Downloads, 1)
	assert.Equal(t, "https://cdn.example.com/ep.mp3", items[1].Downloads[0].URL)
	assert.Equal(t, "https://example.com/ep", items[1].Downloads[0].ItemURL)
}

func TestParseDuration(t *testing.T) {
	assert.InDelta(t, 3723.0, parseDuration("1:02:03"), 0.001)
	assert.InDelta(t, 95.0, parseDuration("95"), 0.001)
	assert.Zero(t, parseDuration("soon"))
	assert.True(t, strings.HasPrefix(queueKey("https://example.com/x"), "rss:example.com"))
}
