// Package bus carries change notifications from the persistence layer to live
// subscribers. Delivery preserves per-collection publish order for each
// subscriber; nothing is ordered across collections.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"git.home.luguber.info/inful/washer/internal/model"
)

// Op is the kind of write that produced a change.
type Op string

const (
	OpInsert  Op = "insert"
	OpReplace Op = "replace"
)

// Change is a committed write to a collection.
type Change struct {
	Op         Op         `json:"op"`
	Collection string     `json:"collection"`
	Item       model.Item `json:"item"`
}

// Handler consumes changes. Handlers for one subscription are never invoked
// concurrently.
type Handler func(Change)

// Subscription is an active registration.
type Subscription interface {
	Unsubscribe() error
}

// Bus publishes and fans out changes.
type Bus interface {
	Publish(ctx context.Context, c Change) error
	Subscribe(collection string, h Handler) (Subscription, error)
	Close() error
}

// Open selects a bus implementation from a connection string: empty or
// "local" for in-process delivery, nats:// or redis:// for cross-process.
func Open(ctx context.Context, conn string, logger *slog.Logger) (Bus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn = strings.TrimSpace(conn)
	if conn == "" || conn == "local" {
		return NewLocal(), nil
	}
	u, err := url.Parse(conn)
	if err != nil {
		return nil, fmt.Errorf("parse bus connection: %w", err)
	}
	switch u.Scheme {
	case "nats", "tls":
		return DialNATS(conn, logger)
	case "redis", "rediss":
		return DialRedis(ctx, conn, logger)
	}
	return nil, fmt.Errorf("unsupported bus scheme %q", u.Scheme)
}

// subjectToken makes a collection id safe for use in a subject or channel.
func subjectToken(collection string) string {
	r := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")
	return r.Replace(collection)
}
