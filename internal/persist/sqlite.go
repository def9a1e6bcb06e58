package persist

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"

	"git.home.luguber.info/inful/washer/internal/bus"
	"git.home.luguber.info/inful/washer/internal/logfields"
	"git.home.luguber.info/inful/washer/internal/model"
	"git.home.luguber.info/inful/washer/internal/query"
)

// DefaultLogRetain is the retention in days applied to the log stream.
const DefaultLogRetain = 30

var regexCache sync.Map

func init() {
	sqlite.MustRegisterDeterministicScalarFunction(query.RegexpFunc, 2, sqlRegexp)
}

// sqlRegexp implements regexp(pattern, value) for $regex filters.
func sqlRegexp(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	pattern, ok := args[0].(string)
	if !ok {
		return int64(0), nil
	}
	var subject string
	switch v := args[1].(type) {
	case string:
		subject = v
	case []byte:
		subject = string(v)
	default:
		return int64(0), nil
	}
	var re *regexp.Regexp
	if cached, ok := regexCache.Load(pattern); ok {
		re = cached.(*regexp.Regexp)
	} else {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		regexCache.Store(pattern, compiled)
		re = compiled
	}
	if re.MatchString(subject) {
		return int64(1), nil
	}
	return int64(0), nil
}

// SQLiteStore implements Port on SQLite, publishing changes on a bus.
type SQLiteStore struct {
	db        *sql.DB
	bus       bus.Bus
	logger    *slog.Logger
	now       func() time.Time
	logRetain int

	mu        sync.Mutex
	lastSaved time.Time
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *SQLiteStore) { s.logger = l }
}

// WithLogRetain sets the log stream retention in days.
func WithLogRetain(days int) Option {
	return func(s *SQLiteStore) { s.logRetain = days }
}

// NewSQLiteStore opens the database at path. Use ":memory:" for an in-memory
// database. A nil bus gets an in-process one.
func NewSQLiteStore(path string, b bus.Bus, opts ...Option) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" && !strings.Contains(path, "?") {
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if b == nil {
		b = bus.NewLocal()
	}
	s := &SQLiteStore{db: db, bus: b, logger: slog.Default(), now: time.Now, logRetain: DefaultLogRetain}
	for _, o := range opts {
		o(s)
	}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		stage TEXT NOT NULL,
		url TEXT NOT NULL,
		created INTEGER NOT NULL,
		saved INTEGER NOT NULL,
		data TEXT NOT NULL,
		PRIMARY KEY (stage, url)
	);
	CREATE INDEX IF NOT EXISTS idx_items_saved ON items(stage, saved);
	CREATE INDEX IF NOT EXISTS idx_items_created ON items(stage, created);
	CREATE TABLE IF NOT EXISTS memory (
		stage TEXT PRIMARY KEY,
		updated INTEGER NOT NULL,
		data TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Bus returns the bus changes are published on.
func (s *SQLiteStore) Bus() bus.Bus { return s.bus }

func (s *SQLiteStore) Close() error {
	return errors.Join(s.bus.Close(), s.db.Close())
}

func (s *SQLiteStore) LoadMemory(ctx context.Context, stageID string) (model.Memory, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM memory WHERE stage = ?", stageID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.NewMemory(), nil
	}
	if err != nil {
		return model.Memory{}, fmt.Errorf("load memory %s: %w", stageID, err)
	}
	var m model.Memory
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return model.Memory{}, fmt.Errorf("decode memory %s: %w", stageID, err)
	}
	return m, nil
}

func (s *SQLiteStore) SaveMemory(ctx context.Context, stageID string, m model.Memory) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode memory %s: %w", stageID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memory (stage, updated, data) VALUES (?, ?, ?)
		 ON CONFLICT(stage) DO UPDATE SET updated = excluded.updated, data = excluded.data`,
		stageID, s.now().UnixNano(), string(data))
	if err != nil {
		return fmt.Errorf("save memory %s: %w", stageID, err)
	}
	return nil
}

// MemoryStages lists the stage ids that have stored memory.
func (s *SQLiteStore) MemoryStages(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT stage FROM memory ORDER BY stage")
	if err != nil {
		return nil, fmt.Errorf("query memory: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LoadItems(ctx context.Context, stageID string, since time.Time, f *query.Filter) ([]model.Item, error) {
	where, args := f.SQL("data")
	q := "SELECT data FROM items WHERE stage = ? AND saved > ? AND " + where + " ORDER BY saved DESC"
	args = append([]any{stageID, since.UnixNano()}, args...)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query items %s: %w", stageID, err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var it model.Item
		if err := json.Unmarshal([]byte(data), &it); err != nil {
			return nil, fmt.Errorf("decode item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) Existing(ctx context.Context, stageID, url string) (model.Item, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM items WHERE stage = ? AND url = ?", stageID, url).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Item{}, false, nil
	}
	if err != nil {
		return model.Item{}, false, fmt.Errorf("lookup item: %w", err)
	}
	var it model.Item
	if err := json.Unmarshal([]byte(data), &it); err != nil {
		return model.Item{}, false, fmt.Errorf("decode item: %w", err)
	}
	return it, true, nil
}

// nextSaved returns a strictly increasing save timestamp.
func (s *SQLiteStore) nextSaved() time.Time {
	t := s.now().UTC()
	if !t.After(s.lastSaved) {
		t = s.lastSaved.Add(time.Nanosecond)
	}
	s.lastSaved = t
	return t
}

func (s *SQLiteStore) SaveItems(ctx context.Context, stageID string, items []model.Item, retain int) (int, error) {
	s.mu.Lock()
	changes, err := s.saveItems(ctx, stageID, items, retain)
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	for _, c := range changes {
		if err := s.bus.Publish(ctx, c); err != nil {
			s.logger.Warn("Failed to publish change", logfields.StageID(stageID), logfields.URL(c.Item.URL), logfields.Error(err))
		}
	}
	return len(changes), nil
}

func (s *SQLiteStore) saveItems(ctx context.Context, stageID string, items []model.Item, retain int) ([]bus.Change, error) {
	cutoff, purge := model.RetentionCutoff(s.now(), retain)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var changes []bus.Change
	for _, it := range items {
		if it.URL == "" {
			continue
		}
		it.Downloads = nil
		it.Created = it.Created.UTC()

		op := bus.OpInsert
		var prevData string
		err := tx.QueryRowContext(ctx, "SELECT data FROM items WHERE stage = ? AND url = ?", stageID, it.URL).Scan(&prevData)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return nil, fmt.Errorf("lookup item: %w", err)
		default:
			op = bus.OpReplace
			var prev model.Item
			if err := json.Unmarshal([]byte(prevData), &prev); err != nil {
				return nil, fmt.Errorf("decode item: %w", err)
			}
			// created is fixed by the first save.
			it.Created = prev.Created
			it.Saved = prev.Saved
			if unchanged(prev, it) {
				continue
			}
		}
		if it.Created.IsZero() {
			it.Created = s.now().UTC()
		}
		if purge && retain > 0 && it.Created.Before(cutoff) {
			continue
		}
		it.Saved = s.nextSaved()

		data, err := json.Marshal(it)
		if err != nil {
			return nil, fmt.Errorf("encode item: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO items (stage, url, created, saved, data) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(stage, url) DO UPDATE SET saved = excluded.saved, data = excluded.data`,
			stageID, it.URL, it.Created.UnixNano(), it.Saved.UnixNano(), string(data))
		if err != nil {
			return nil, fmt.Errorf("upsert item: %w", err)
		}
		changes = append(changes, bus.Change{Op: op, Collection: stageID, Item: it})
	}

	if purge {
		if _, err := tx.ExecContext(ctx, "DELETE FROM items WHERE stage = ? AND created < ?", stageID, cutoff.UnixNano()); err != nil {
			return nil, fmt.Errorf("delete expired items: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return changes, nil
}

func unchanged(prev, next model.Item) bool {
	a, errA := json.Marshal(prev)
	b, errB := json.Marshal(next)
	return errA == nil && errB == nil && string(a) == string(b)
}

func (s *SQLiteStore) WriteLog(ctx context.Context, entry model.LogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Time.IsZero() {
		entry.Time = s.now().UTC()
	}
	if entry.Level == "" {
		entry.Level = model.LevelInfo
	}
	_, err := s.SaveItems(ctx, model.LogCollection, []model.Item{entry.Item()}, s.logRetain)
	return err
}

func (s *SQLiteStore) Subscribe(collection string, f *query.Filter, fn func(model.Item)) (bus.Subscription, error) {
	return s.bus.Subscribe(collection, func(c bus.Change) {
		if c.Op != bus.OpInsert && c.Op != bus.OpReplace {
			return
		}
		if !f.Match(c.Item) {
			return
		}
		fn(c.Item)
	})
}

var _ Port = (*SQLiteStore)(nil)
