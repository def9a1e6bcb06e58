// Package archive is a sink that keeps every upstream item as a Markdown
// document with YAML front matter in the stage's file store.
//
// Each document carries a content fingerprint. A document whose fingerprint
// is unchanged is not written again.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/inful/mdfp"

	"git.home.luguber.info/inful/washer/internal/logfields"
	"git.home.luguber.info/inful/washer/internal/model"
	"git.home.luguber.info/inful/washer/internal/washer"
)

const memoryWritten = "written"

var Type = washer.Type{
	Name:        "archive",
	Title:       "Archive",
	Description: "Stores items as Markdown documents with front matter.",
	Kind:        washer.KindSink,
	Settings:    washer.SinkSettings,
	New:         New,
}

// Archive is the stage implementation.
type Archive struct {
	*washer.Base
}

func New(b *washer.Base) (washer.Washer, error) {
	return &Archive{Base: b}, nil
}

// Run writes new and changed documents.
func (a *Archive) Run(ctx context.Context, in []model.Item) error {
	written := 0
	for _, item := range in {
		changed, err := a.Write(ctx, item)
		if err != nil {
			return err
		}
		if changed {
			written++
		}
	}
	prev, _ := a.Memory.Get(memoryWritten)
	total, _ := prev.(float64)
	if n, ok := prev.(int); ok {
		total = float64(n)
	}
	a.Memory.Set(memoryWritten, total+float64(written))
	a.Logger.Info("Archived items", logfields.Items(written))
	return nil
}

// Write stores item and reports whether the stored document changed.
func (a *Archive) Write(ctx context.Context, item model.Item) (bool, error) {
	doc := NewDocument(item)
	fp, err := doc.Fingerprint()
	if err != nil {
		return false, fmt.Errorf("fingerprint %s: %w", item.URL, err)
	}

	name := FileName(item)
	existing, ok, err := a.Files.ReadString(ctx, name)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", name, err)
	}
	if ok {
		if prev, perr := ParseDocument(existing); perr == nil && prev.Fields[mdfp.FingerprintField] == fp {
			return false, nil
		}
	}

	doc.Fields[mdfp.FingerprintField] = fp
	doc.Fields[fieldArchived] = a.Now().UTC().Format(time.RFC3339)
	content, err := doc.Render()
	if err != nil {
		return false, fmt.Errorf("render %s: %w", item.URL, err)
	}
	if err := a.Files.SaveString(ctx, name, content); err != nil {
		return false, fmt.Errorf("save %s: %w", name, err)
	}
	return true, nil
}
