// Package persist defines the persistence contract the orchestrator depends
// on and a SQLite implementation of it.
//
// Items are stored per producing stage and keyed by URL. Writes are committed
// before change notifications are published, so a subscriber that reacts to a
// notification can always load the item it was told about.
package persist

import (
	"context"
	"time"

	"git.home.luguber.info/inful/washer/internal/bus"
	"git.home.luguber.info/inful/washer/internal/model"
	"git.home.luguber.info/inful/washer/internal/query"
)

// Port is the persistence contract.
type Port interface {
	// LoadMemory returns the stage's memory, or a fresh one when none exists.
	LoadMemory(ctx context.Context, stageID string) (model.Memory, error)
	SaveMemory(ctx context.Context, stageID string, m model.Memory) error

	// LoadItems returns the stage's items saved after since and matching f,
	// newest first.
	LoadItems(ctx context.Context, stageID string, since time.Time, f *query.Filter) ([]model.Item, error)

	// SaveItems upserts items by URL, then deletes the stage's items older
	// than the retention cutoff. It returns the number of items written.
	SaveItems(ctx context.Context, stageID string, items []model.Item, retain int) (int, error)

	// WriteLog appends an entry to the log stream.
	WriteLog(ctx context.Context, entry model.LogEntry) error

	// Subscribe delivers committed inserts and replaces on collection that
	// match f. collection is a stage id or model.LogCollection.
	Subscribe(collection string, f *query.Filter, fn func(model.Item)) (bus.Subscription, error)

	// Existing looks up one stored item.
	Existing(ctx context.Context, stageID, url string) (model.Item, bool, error)

	Close() error
}
