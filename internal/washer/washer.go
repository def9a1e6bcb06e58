package washer

import (
	"context"

	"git.home.luguber.info/inful/washer/internal/model"
)

// Washer is the lifecycle shared by every stage. Concrete stages embed *Base,
// which supplies no-op Init and Cleanup, and add the Run method of their kind.
type Washer interface {
	Stage() *Base
	// Init prepares the stage after its memory and file store are ready.
	Init(ctx context.Context) error
	// Cleanup releases resources when the orchestrator stops.
	Cleanup(ctx context.Context) error
}

// Source pulls items with no upstream input.
type Source interface {
	Washer
	Run(ctx context.Context) ([]model.Item, error)
}

// Transform turns upstream items into new items.
type Transform interface {
	Washer
	Run(ctx context.Context, in []model.Item) ([]model.Item, error)
}

// Sink performs side effects for upstream items and emits nothing.
type Sink interface {
	Washer
	Run(ctx context.Context, in []model.Item) error
}

// Maintenance performs an administrative task while every other stage is idle.
type Maintenance interface {
	Washer
	Run(ctx context.Context) error
}

// Implements reports whether w provides the Run method required by kind.
func Implements(w Washer, kind Kind) bool {
	switch kind {
	case KindSource:
		_, ok := w.(Source)
		return ok
	case KindTransform:
		_, ok := w.(Transform)
		return ok
	case KindSink:
		_, ok := w.(Sink)
		return ok
	case KindMaintenance:
		_, ok := w.(Maintenance)
		return ok
	}
	return false
}
