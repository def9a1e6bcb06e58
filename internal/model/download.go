package model

import "time"

// Download is a unit of fetch work owned by an item.
type Download struct {
	ItemURL string
	Created time.Time
	URL     string

	JSON      bool
	Media     bool
	Image     bool
	Audio     bool
	Transcode bool

	// Done is invoked with the final result once the download has been
	// promoted to durable storage.
	Done func(DownloadResult)
}

// IsDirect reports whether the job is a plain byte fetch rather than an
// extraction-tool fetch.
func (d Download) IsDirect() bool {
	return !d.JSON && !d.Media && !d.Image && !d.Audio && !d.Transcode
}

// DownloadResult describes fetched data as it moves from the temp workspace to
// durable storage. Each pipeline step returns a new value.
type DownloadResult struct {
	ItemURL  string
	URL      string
	Dir      string
	JSON     string
	Image    string
	Media    string
	Data     any
	Size     int64
	Type     string
	Duration float64
}

// Empty reports whether nothing was fetched.
func (r DownloadResult) Empty() bool {
	return r.URL == "" && r.JSON == "" && r.Image == "" && r.Media == ""
}

// WithDir returns a copy of r whose files live in dir.
func (r DownloadResult) WithDir(dir string) DownloadResult {
	r.Dir = dir
	return r
}
