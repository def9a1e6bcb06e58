package model

import (
	"time"
)

// LogCollection is the reserved producer name of the append-only log stream.
const LogCollection = "log"

// Item is a normalized content record produced by a source or transform stage.
// URL is the dedup key within the owning stage's collection.
type Item struct {
	URL      string         `json:"url"`
	Created  time.Time      `json:"created,omitzero"`
	Saved    time.Time      `json:"saved,omitzero"`
	Title    string         `json:"title,omitempty"`
	Tags     []string       `json:"tags,omitempty"`
	Image    string         `json:"image,omitempty"`
	Text     string         `json:"text,omitempty"`
	Summary  string         `json:"summary,omitempty"`
	HTML     string         `json:"html,omitempty"`
	Embed    string         `json:"embed,omitempty"`
	Author   string         `json:"author,omitempty"`
	Location *Location      `json:"location,omitempty"`
	Media    *Media         `json:"media,omitempty"`
	Source   *Source        `json:"source,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`

	// Downloads are pending fetch jobs. They are resolved before the item is
	// persisted and never stored.
	Downloads []Download `json:"-"`
}

// Media describes an audio or video attachment.
type Media struct {
	File     string  `json:"file"`
	Size     int64   `json:"size,omitempty"`
	Type     string  `json:"type,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// Source describes where an item came from.
type Source struct {
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`
	Image string `json:"image,omitempty"`
}

// Location is a named point.
type Location struct {
	Name      string  `json:"name,omitempty"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// AddDownload queues a fetch job owned by the item.
func (i *Item) AddDownload(d Download) {
	d.ItemURL = i.URL
	d.Created = i.Created
	i.Downloads = append(i.Downloads, d)
}

// ApplyDownload copies the public locations of a promoted download onto the item.
func (i *Item) ApplyDownload(res DownloadResult) {
	if res.Image != "" {
		i.Image = res.Image
	}
	if res.Media != "" {
		if i.Media == nil {
			i.Media = &Media{}
		}
		i.Media.File = res.Media
		if res.Size > 0 {
			i.Media.Size = res.Size
		}
		if res.Type != "" {
			i.Media.Type = res.Type
		}
		if res.Duration > 0 {
			i.Media.Duration = res.Duration
		}
	}
	if res.Data != nil {
		if i.Meta == nil {
			i.Meta = map[string]any{}
		}
		i.Meta["download"] = res.Data
	}
}

// Key identifies an item across producers.
func Key(producer, url string) string {
	return producer + "\x00" + url
}
