package rss

import (
	"cmp"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"git.home.luguber.info/inful/washer/internal/htmltext"
	"git.home.luguber.info/inful/washer/internal/model"
)

// Items normalizes the entries of feed. Entries without a link or GUID are
// dropped. When download is set, enclosures and images become download jobs.
func Items(feed *gofeed.Feed, feedURL string, download bool, now time.Time) []model.Item {
	src := &model.Source{
		URL:   cmp.Or(feed.Link, feedURL),
		Title: strings.TrimSpace(feed.Title),
	}
	if feed.Image != nil {
		src.Image = feed.Image.URL
	}

	items := make([]model.Item, 0, len(feed.Items))
	for _, entry := range feed.Items {
		if entry == nil {
			continue
		}
		item, ok := normalize(entry, src, now)
		if !ok {
			continue
		}
		if download {
			addDownloads(&item)
		}
		items = append(items, item)
	}
	return items
}

func normalize(entry *gofeed.Item, src *model.Source, now time.Time) (model.Item, bool) {
	link := strings.TrimSpace(cmp.Or(entry.Link, entry.GUID))
	if link == "" {
		return model.Item{}, false
	}
	link = htmltext.Resolve(link, src.URL)

	item := model.Item{
		URL:     link,
		Created: created(entry, now),
		Title:   strings.TrimSpace(entry.Title),
		Tags:    entry.Categories,
		Author:  author(entry),
		Source:  src,
	}

	body := cmp.Or(entry.Content, entry.Description)
	item.HTML = body
	item.Text = htmltext.Text(body)
	item.Summary = htmltext.Excerpt(cmp.Or(htmltext.Text(entry.Description), item.Text), summaryLength)

	switch {
	case entry.Image != nil && entry.Image.URL != "":
		item.Image = entry.Image.URL
	case entry.ITunesExt != nil && entry.ITunesExt.Image != "":
		item.Image = entry.ITunesExt.Image
	default:
		item.Image = htmltext.FirstImage(body, link)
	}

	for _, enc := range entry.Enclosures {
		if enc == nil || enc.URL == "" {
			continue
		}
		switch {
		case strings.HasPrefix(enc.Type, "image/") && item.Image == "":
			item.Image = enc.URL
		case strings.HasPrefix(enc.Type, "audio/"), strings.HasPrefix(enc.Type, "video/"):
			if item.Media != nil {
				continue
			}
			item.Media = &model.Media{File: enc.URL, Type: enc.Type}
			if n, err := strconv.ParseInt(enc.Length, 10, 64); err == nil {
				item.Media.Size = n
			}
			if entry.ITunesExt != nil {
				item.Media.Duration = parseDuration(entry.ITunesExt.Duration)
			}
		}
	}
	return item, true
}

// created prefers the publication date, then the update date. Entries
// without either are stamped with now.
func created(entry *gofeed.Item, now time.Time) time.Time {
	switch {
	case entry.PublishedParsed != nil:
		return entry.PublishedParsed.UTC()
	case entry.UpdatedParsed != nil:
		return entry.UpdatedParsed.UTC()
	}
	return now.UTC()
}

func author(entry *gofeed.Item) string {
	names := make([]string, 0, len(entry.Authors))
	for _, a := range entry.Authors {
		if a == nil {
			continue
		}
		if n := cmp.Or(strings.TrimSpace(a.Name), strings.TrimSpace(a.Email)); n != "" {
			names = append(names, n)
		}
	}
	return strings.Join(names, ", ")
}

// parseDuration reads iTunes durations: seconds, MM:SS or HH:MM:SS.
func parseDuration(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	total := 0.0
	for _, part := range strings.Split(s, ":") {
		n, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return 0
		}
		total = total*60 + n
	}
	return total
}

// addDownloads stores the attachment and image alongside the item. The
// stored copies replace the remote locations once promoted.
func addDownloads(item *model.Item) {
	if item.Media != nil {
		item.AddDownload(model.Download{URL: item.Media.File})
	}
	if item.Image != "" {
		item.AddDownload(model.Download{URL: item.Image})
	}
}
