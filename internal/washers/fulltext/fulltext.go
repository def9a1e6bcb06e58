// Package fulltext is a transform that replaces upstream item bodies with
// the readable article found at the item URL.
package fulltext

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-shiori/go-readability"

	"git.home.luguber.info/inful/washer/internal/htmltext"
	"git.home.luguber.info/inful/washer/internal/httpqueue"
	"git.home.luguber.info/inful/washer/internal/logfields"
	"git.home.luguber.info/inful/washer/internal/model"
	"git.home.luguber.info/inful/washer/internal/washer"
)

const summaryLength = 400

var Type = washer.Type{
	Name:        "fulltext",
	Title:       "Full text",
	Description: "Fetches each item's page and keeps the readable article.",
	Kind:        washer.KindTransform,
	Settings:    washer.TransformSettings,
	New:         New,
}

type Extractor struct {
	*washer.Base
}

func New(b *washer.Base) (washer.Washer, error) {
	return &Extractor{Base: b}, nil
}

// Run extracts every input item. Items this stage already extracted are
// passed on as stored. Items whose page cannot be fetched or parsed are
// logged and left out.
func (e *Extractor) Run(ctx context.Context, in []model.Item) ([]model.Item, error) {
	out := make([]model.Item, 0, len(in))
	for _, item := range in {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if prev, ok := e.extracted(ctx, item.URL); ok {
			out = append(out, prev)
			continue
		}
		next, err := e.extract(ctx, item)
		if err != nil {
			e.Logger.Warn("Full text extraction failed", logfields.URL(item.URL), logfields.Error(err))
			continue
		}
		out = append(out, next)
	}
	return out, nil
}

// extracted returns the stored copy of url when it already carries an article.
func (e *Extractor) extracted(ctx context.Context, u string) (model.Item, bool) {
	prev, ok, err := e.Env.Port.Existing(ctx, e.ID, u)
	if err != nil {
		e.Logger.Warn("Failed to look up stored item", logfields.URL(u), logfields.Error(err))
		return model.Item{}, false
	}
	return prev, ok && prev.HTML != ""
}

func (e *Extractor) extract(ctx context.Context, item model.Item) (model.Item, error) {
	page, err := url.Parse(item.URL)
	if err != nil || (page.Scheme != "http" && page.Scheme != "https") {
		return item, fmt.Errorf("not a web page: %q", item.URL)
	}
	resp, err := e.HTTP(ctx, "fulltext:"+page.Host, httpqueue.Get(item.URL), nil)
	if err != nil {
		return item, err
	}
	article, err := readability.FromReader(bytes.NewReader(resp.Body), page)
	if err != nil {
		return item, fmt.Errorf("extract: %w", err)
	}
	if strings.TrimSpace(article.Content) == "" {
		return item, fmt.Errorf("no readable content")
	}
	return apply(item, article), nil
}

// apply copies the extraction onto a copy of item. Existing titles, authors
// and images win over extracted ones.
func apply(item model.Item, a readability.Article) model.Item {
	item.HTML = a.Content
	item.Text = cmp.Or(htmltext.Text(a.Content), strings.TrimSpace(a.TextContent))
	item.Summary = htmltext.Excerpt(cmp.Or(a.Excerpt, item.Text), summaryLength)
	item.Title = cmp.Or(item.Title, strings.TrimSpace(a.Title))
	item.Author = cmp.Or(item.Author, strings.TrimSpace(a.Byline))
	item.Image = cmp.Or(item.Image, a.Image)
	item.Downloads = nil
	return item
}
