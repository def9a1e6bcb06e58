package bus

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned when publishing on a closed bus.
var ErrClosed = errors.New("bus closed")

// Local delivers changes in-process. Each subscriber has its own unbounded
// mailbox drained by a dedicated goroutine so a slow consumer never blocks the
// publisher or other consumers.
type Local struct {
	mu     sync.RWMutex
	subs   map[string]map[*mailbox]struct{}
	closed bool
}

// NewLocal returns an empty in-process bus.
func NewLocal() *Local {
	return &Local{subs: map[string]map[*mailbox]struct{}{}}
}

func (l *Local) Publish(_ context.Context, c Change) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	for mb := range l.subs[c.Collection] {
		mb.push(c)
	}
	return nil
}

func (l *Local) Subscribe(collection string, h Handler) (Subscription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	mb := newMailbox(h)
	if l.subs[collection] == nil {
		l.subs[collection] = map[*mailbox]struct{}{}
	}
	l.subs[collection][mb] = struct{}{}
	go mb.run()
	return &localSub{bus: l, collection: collection, mb: mb}, nil
}

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	for _, set := range l.subs {
		for mb := range set {
			mb.close()
		}
	}
	l.subs = nil
	return nil
}

type localSub struct {
	bus        *Local
	collection string
	mb         *mailbox
	once       sync.Once
}

func (s *localSub) Unsubscribe() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		if set := s.bus.subs[s.collection]; set != nil {
			delete(set, s.mb)
		}
		s.bus.mu.Unlock()
		s.mb.close()
	})
	return nil
}

type mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Change
	closed bool
	h      Handler
}

func newMailbox(h Handler) *mailbox {
	mb := &mailbox{h: h}
	mb.cond = sync.NewCond(&mb.mu)
	return mb
}

func (m *mailbox) push(c Change) {
	m.mu.Lock()
	if !m.closed {
		m.queue = append(m.queue, c)
		m.cond.Signal()
	}
	m.mu.Unlock()
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()
}

func (m *mailbox) run() {
	for {
		m.mu.Lock()
		for len(m.queue) == 0 && !m.closed {
			m.cond.Wait()
		}
		if m.closed {
			m.mu.Unlock()
			return
		}
		c := m.queue[0]
		m.queue[0] = Change{}
		m.queue = m.queue[1:]
		m.mu.Unlock()
		m.h(c)
	}
}
