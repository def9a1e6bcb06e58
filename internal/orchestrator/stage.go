package orchestrator

import (
	"sync"
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/washer/internal/bus"
	"git.home.luguber.info/inful/washer/internal/model"
	"git.home.luguber.info/inful/washer/internal/washer"
)

// delivery is an upstream item together with the producer it came from.
type delivery struct {
	producer string
	item     model.Item
}

func (d delivery) key() string { return model.Key(d.producer, d.item.URL) }

// stage is the orchestrator's bookkeeping around one stage instance.
type stage struct {
	w    washer.Washer
	base *washer.Base

	// running guards against overlapping runs of this instance.
	running atomic.Bool

	mu      sync.Mutex
	pending []delivery
	// rerun asks a running maintenance stage for one more pass.
	rerun bool
	// delivered holds the saved time of every item handed to the last run,
	// so a live notification racing the catch-up poll is not processed twice.
	delivered map[string]time.Time
	subs      []bus.Subscription
	failed    bool
}

func newStage(w washer.Washer) *stage {
	return &stage{w: w, base: w.Stage(), delivered: map[string]time.Time{}}
}

func (s *stage) id() string        { return s.base.ID }
func (s *stage) kind() washer.Kind { return s.base.Kind() }

// takePending drains the buffer. Later versions of an item replace earlier
// ones and items already delivered unchanged are dropped. Callers hold mu.
func (s *stage) takePending() []delivery {
	if len(s.pending) == 0 {
		return nil
	}
	latest := make(map[string]int, len(s.pending))
	out := make([]delivery, 0, len(s.pending))
	for _, d := range s.pending {
		k := d.key()
		if saved, ok := s.delivered[k]; ok && saved.Equal(d.item.Saved) {
			continue
		}
		if i, ok := latest[k]; ok {
			out[i] = d
			continue
		}
		latest[k] = len(out)
		out = append(out, d)
	}
	s.pending = nil
	return out
}

// markDelivered records what the current run received.
func (s *stage) markDelivered(in []delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = make(map[string]time.Time, len(in))
	for _, d := range in {
		s.delivered[d.key()] = d.item.Saved
	}
}

func items(in []delivery) []model.Item {
	out := make([]model.Item, len(in))
	for i, d := range in {
		out[i] = d.item
	}
	return out
}
