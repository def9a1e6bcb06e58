// Package washers collects the compiled-in stage types.
package washers

import (
	"git.home.luguber.info/inful/washer/internal/washer"
	"git.home.luguber.info/inful/washer/internal/washers/archive"
	"git.home.luguber.info/inful/washer/internal/washers/fulltext"
	"git.home.luguber.info/inful/washer/internal/washers/maintenance"
	"git.home.luguber.info/inful/washer/internal/washers/markdown"
	"git.home.luguber.info/inful/washer/internal/washers/rss"
	"git.home.luguber.info/inful/washer/internal/washers/webhook"
)

// Types lists every built-in concrete type.
func Types() []washer.Type {
	return []washer.Type{
		rss.Type,
		fulltext.Type,
		markdown.Type,
		archive.Type,
		webhook.Type,
		maintenance.CleanType,
		maintenance.UpgradeType,
	}
}

// Register adds the built-in types to r.
func Register(r *washer.Registry) error {
	for _, t := range Types() {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding the abstract and built-in types.
func NewRegistry() *washer.Registry {
	r := washer.NewRegistry()
	r.MustRegister(Types()...)
	return r
}
