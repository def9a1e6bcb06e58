package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/washer/internal/logfields"
)

// SubjectPrefix prefixes every change subject.
const SubjectPrefix = "washer.items."

// NATS publishes changes as JSON on washer.items.<collection>.
type NATS struct {
	nc     *nats.Conn
	logger *slog.Logger
}

// DialNATS connects to the server at url.
func DialNATS(url string, logger *slog.Logger) (*NATS, error) {
	nc, err := nats.Connect(url, nats.Name("washer"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return NewNATS(nc, logger), nil
}

// NewNATS wraps an existing connection.
func NewNATS(nc *nats.Conn, logger *slog.Logger) *NATS {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATS{nc: nc, logger: logger}
}

func subject(collection string) string {
	return SubjectPrefix + subjectToken(collection)
}

func (n *NATS) Publish(_ context.Context, c Change) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return n.nc.Publish(subject(c.Collection), data)
}

// Subscribe registers an async subscription. NATS dispatches messages of one
// subscription sequentially, which keeps publish order.
func (n *NATS) Subscribe(collection string, h Handler) (Subscription, error) {
	sub, err := n.nc.Subscribe(subject(collection), func(msg *nats.Msg) {
		var c Change
		if err := json.Unmarshal(msg.Data, &c); err != nil {
			n.logger.Warn("Dropping malformed change", logfields.Producer(collection), logfields.Error(err))
			return
		}
		if c.Collection != collection {
			return
		}
		h(c)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", collection, err)
	}
	return sub, nil
}

func (n *NATS) Close() error {
	if err := n.nc.Drain(); err != nil {
		n.nc.Close()
		return err
	}
	return nil
}
