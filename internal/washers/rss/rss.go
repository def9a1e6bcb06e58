// Package rss is a source stage that polls an RSS, Atom or JSON feed.
package rss

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mmcdole/gofeed"

	"git.home.luguber.info/inful/washer/internal/httpqueue"
	"git.home.luguber.info/inful/washer/internal/logfields"
	"git.home.luguber.info/inful/washer/internal/model"
	"git.home.luguber.info/inful/washer/internal/settings"
	"git.home.luguber.info/inful/washer/internal/washer"
)

const (
	settingURL      = "url"
	settingDownload = "download"

	memoryETag         = "etag"
	memoryLastModified = "lastModified"

	summaryLength = 400
)

// Type registers the stage.
var Type = washer.Type{
	Name:        "rss",
	Title:       "RSS",
	Description: "Polls an RSS, Atom or JSON feed.",
	Kind:        washer.KindSource,
	Settings: washer.SourceSettings.With(
		settings.Option{Name: settingURL, Description: "Feed URL", Required: true, Parse: settings.URL},
		settings.Option{Name: settingDownload, Description: "Store enclosures and images in the file store", Default: false, Parse: settings.Bool},
	),
	New: New,
}

// Feed is the stage implementation.
type Feed struct {
	*washer.Base
	parser *gofeed.Parser
}

// New constructs the stage.
func New(b *washer.Base) (washer.Washer, error) {
	return &Feed{Base: b, parser: gofeed.NewParser()}, nil
}

// Run fetches the feed. An unchanged feed produces no items.
func (f *Feed) Run(ctx context.Context) ([]model.Item, error) {
	feedURL := f.Settings.String(settingURL)

	req := httpqueue.Get(feedURL)
	req.Header = http.Header{}
	if etag := f.Memory.GetString(memoryETag); etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lm := f.Memory.GetString(memoryLastModified); lm != "" {
		req.Header.Set("If-Modified-Since", lm)
	}

	resp, err := f.HTTP(ctx, queueKey(feedURL), req, nil)
	var se *httpqueue.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusNotModified {
		f.Logger.Debug("Feed not modified", logfields.URL(feedURL))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}

	feed, err := f.parser.Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feedURL, err)
	}

	f.Memory.Set(memoryETag, resp.Header.Get("ETag"))
	f.Memory.Set(memoryLastModified, resp.Header.Get("Last-Modified"))

	return Items(feed, feedURL, f.Settings.Bool(settingDownload), f.Now()), nil
}

// queueKey paces requests per host.
func queueKey(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil {
		return ""
	}
	return "rss:" + u.Host
}
