package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"git.home.luguber.info/inful/washer/internal/logfields"
)

// ChannelPrefix prefixes every change channel.
const ChannelPrefix = "washer:items:"

// Redis publishes changes as JSON on Redis pub/sub channels.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
	wg     sync.WaitGroup

	mu   sync.Mutex
	subs map[*redis.PubSub]struct{}
}

// DialRedis connects using a redis:// URL.
func DialRedis(ctx context.Context, rawURL string, logger *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedis(client, logger), nil
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, logger: logger, subs: map[*redis.PubSub]struct{}{}}
}

func channel(collection string) string {
	return ChannelPrefix + subjectToken(collection)
}

func (r *Redis) Publish(ctx context.Context, c Change) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, channel(c.Collection), data).Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

func (r *Redis) Subscribe(collection string, h Handler) (Subscription, error) {
	ctx := context.Background()
	ps := r.client.Subscribe(ctx, channel(collection))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", collection, err)
	}

	r.mu.Lock()
	r.subs[ps] = struct{}{}
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for msg := range ps.Channel() {
			var c Change
			if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
				r.logger.Warn("Dropping malformed change", logfields.Producer(collection), logfields.Error(err))
				continue
			}
			if c.Collection == collection {
				h(c)
			}
		}
	}()
	return &redisSub{bus: r, ps: ps}, nil
}

func (r *Redis) Close() error {
	r.mu.Lock()
	for ps := range r.subs {
		_ = ps.Close()
	}
	r.subs = map[*redis.PubSub]struct{}{}
	r.mu.Unlock()
	r.wg.Wait()
	return r.client.Close()
}

type redisSub struct {
	bus *Redis
	ps  *redis.PubSub
}

func (s *redisSub) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.ps)
	s.bus.mu.Unlock()
	return s.ps.Close()
}
