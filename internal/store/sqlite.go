// Package store persists the keyword map and enabled flag in SQLite and
// notifies subscribers when either changes, including commits made by
// other processes sharing the database file.
package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"handy/internal/keywords"
	"handy/internal/metrics"
)

// DefaultBusyTimeout is how long a connection waits on a locked database.
const DefaultBusyTimeout = 5 * time.Second

// changeLogRetention is how many change rows are kept.
const changeLogRetention = 1000

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.HandyMetrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithBusyTimeout sets the SQLite busy timeout.
func WithBusyTimeout(d time.Duration) Option {
	return func(s *Store) { s.busyTimeout = d }
}

// WithWatchDebounce sets how long the database files must be quiet before
// Watch polls for changes.
func WithWatchDebounce(d time.Duration) Option {
	return func(s *Store) { s.debounce = d }
}

// Store represents the SQLite settings store.
type Store struct {
	db          *sql.DB
	path        string
	logger      *slog.Logger
	metrics     *metrics.HandyMetrics
	busyTimeout time.Duration
	debounce    time.Duration

	// pollMu serializes change polling and subscriber delivery.
	pollMu     sync.Mutex
	lastChange int64

	subMu   sync.Mutex
	subs    map[int]func(Change)
	nextSub int

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

// Open opens or creates the SQLite database at the given path and runs
// migrations. Commits made before Open are not reported to subscribers.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:        path,
		busyTimeout: DefaultBusyTimeout,
		subs:        make(map[int]func(Change)),
		closed:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = metrics.GetMetrics()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=%d",
		path, s.busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx := context.Background()
	if err := MigrateDB(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) FROM changes").Scan(&s.lastChange); err != nil {
		db.Close()
		return nil, fmt.Errorf("read change log: %w", err)
	}

	s.db = db
	return s, nil
}

// Path returns the database path.
func (s *Store) Path() string { return s.path }

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB { return s.db }

// Close stops any watchers and closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *Store) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Get returns the raw value stored under key.
func (s *Store) Get(ctx context.Context, key string) (Setting, bool, error) {
	var (
		st        = Setting{Key: key}
		value     string
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT value, revision, updated_at FROM settings WHERE key = ?", key,
	).Scan(&value, &st.Revision, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Setting{}, false, nil
	}
	if err != nil {
		return Setting{}, false, fmt.Errorf("get %s: %w", key, err)
	}
	st.Value = json.RawMessage(value)
	st.UpdatedAt = time.Unix(0, updatedAt)
	return st, true, nil
}

// Settings returns every stored key in key order.
func (s *Store) Settings(ctx context.Context) ([]Setting, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, value, revision, updated_at FROM settings ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	var out []Setting
	for rows.Next() {
		var (
			st        Setting
			value     string
			updatedAt int64
		)
		if err := rows.Scan(&st.Key, &value, &st.Revision, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		st.Value = json.RawMessage(value)
		st.UpdatedAt = time.Unix(0, updatedAt)
		out = append(out, st)
	}
	return out, rows.Err()
}

// Load returns the stored data. A missing map is empty and a missing flag
// means enabled.
func (s *Store) Load(ctx context.Context) (keywords.Data, error) {
	return s.load(ctx, s.db)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) load(ctx context.Context, q querier) (keywords.Data, error) {
	data := keywords.DefaultData()

	var raw string
	err := q.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", KeyReplacements).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return keywords.Data{}, fmt.Errorf("load %s: %w", KeyReplacements, err)
	default:
		var m keywords.Map
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return keywords.Data{}, fmt.Errorf("decode %s: %w", KeyReplacements, err)
		}
		if m != nil {
			data.Replacements = m
		}
	}

	err = q.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", KeyEnabled).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return keywords.Data{}, fmt.Errorf("load %s: %w", KeyEnabled, err)
	default:
		if err := json.Unmarshal([]byte(raw), &data.Enabled); err != nil {
			return keywords.Data{}, fmt.Errorf("decode %s: %w", KeyEnabled, err)
		}
	}
	return data, nil
}

// Fetch loads the data on its own goroutine and hands it to deliver. It
// lets a Store feed a session directly.
func (s *Store) Fetch(ctx context.Context, deliver func(keywords.Data, error)) {
	go func() { deliver(s.Load(ctx)) }()
}

// SaveReplacements stores m as the keyword map.
func (s *Store) SaveReplacements(ctx context.Context, m keywords.Map) error {
	if m == nil {
		m = keywords.Map{}
	}
	return s.commit(ctx, func(*sql.Tx) (map[string]any, error) {
		return map[string]any{KeyReplacements: m}, nil
	})
}

// SetEnabled stores the enabled flag.
func (s *Store) SetEnabled(ctx context.Context, enabled bool) error {
	return s.commit(ctx, func(*sql.Tx) (map[string]any, error) {
		return map[string]any{KeyEnabled: enabled}, nil
	})
}

// Save stores the map and the flag in one transaction.
func (s *Store) Save(ctx context.Context, data keywords.Data) error {
	m := data.Replacements
	if m == nil {
		m = keywords.Map{}
	}
	return s.commit(ctx, func(*sql.Tx) (map[string]any, error) {
		return map[string]any{KeyReplacements: m, KeyEnabled: data.Enabled}, nil
	})
}

// UpdateReplacements reads the keyword map, passes it to fn and stores the
// result, all in one transaction. Nothing is written when fn fails.
func (s *Store) UpdateReplacements(ctx context.Context, fn func(keywords.Map) (keywords.Map, error)) error {
	return s.commit(ctx, func(tx *sql.Tx) (map[string]any, error) {
		data, err := s.load(ctx, tx)
		if err != nil {
			return nil, err
		}
		m, err := fn(data.Replacements)
		if err != nil {
			return nil, err
		}
		if m == nil {
			m = keywords.Map{}
		}
		return map[string]any{KeyReplacements: m}, nil
	})
}

// commit writes the values build returns. Keys whose encoded value is
// unchanged are skipped; when nothing changed no transaction is recorded.
func (s *Store) commit(ctx context.Context, build func(tx *sql.Tx) (map[string]any, error)) error {
	if s.isClosed() {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	values, err := build(tx)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	now := time.Now().UnixNano()
	var changed []string
	for _, key := range keys {
		raw, err := json.Marshal(values[key])
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}

		var current string
		err = tx.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&current)
		if err == nil && bytes.Equal([]byte(current), raw) {
			continue
		}
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read %s: %w", key, err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO settings (key, value, revision, updated_at) VALUES (?, ?, 1, ?)
			ON CONFLICT(key) DO UPDATE SET
				value = excluded.value,
				revision = settings.revision + 1,
				updated_at = excluded.updated_at`,
			key, string(raw), now,
		); err != nil {
			return fmt.Errorf("write %s: %w", key, err)
		}
		changed = append(changed, key)
	}
	if len(changed) == 0 {
		return nil
	}

	res, err := tx.ExecContext(ctx,
		"INSERT INTO changes (keys, committed_at) VALUES (?, ?)",
		strings.Join(changed, ","), now,
	)
	if err != nil {
		return fmt.Errorf("record change: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("get change id: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM changes WHERE id <= ?", id-changeLogRetention); err != nil {
		return fmt.Errorf("prune change log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.metrics.RecordStoreWrite()
	s.logger.Debug("settings committed", "keys", changed, "revision", id)

	if _, err := s.Poll(ctx); err != nil {
		s.logger.Warn("change poll failed", "error", err)
	}
	return nil
}

// Subscribe registers fn for change notifications. fn runs on the
// goroutine that observed the change, so it must not block or call back
// into the store.
func (s *Store) Subscribe(fn func(Change)) (remove func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

// Poll reads commits recorded since the last poll and notifies subscribers
// once with their combined keys. It returns the number of commits seen.
func (s *Store) Poll(ctx context.Context) (int, error) {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, keys FROM changes WHERE id > ? ORDER BY id", s.lastChange)
	if err != nil {
		return 0, fmt.Errorf("query changes: %w", err)
	}
	var (
		n      int
		latest = s.lastChange
		keys   = make(map[string]bool)
	)
	for rows.Next() {
		var (
			id     int64
			joined string
		)
		if err := rows.Scan(&id, &joined); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan change: %w", err)
		}
		for _, k := range strings.Split(joined, ",") {
			if k != "" {
				keys[k] = true
			}
		}
		latest = id
		n++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("read changes: %w", err)
	}
	if n == 0 {
		return 0, nil
	}

	data, err := s.Load(ctx)
	if err != nil {
		return 0, err
	}
	s.lastChange = latest

	change := Change{Data: data, Revision: latest}
	for k := range keys {
		change.Keys = append(change.Keys, k)
	}
	sort.Strings(change.Keys)

	s.subMu.Lock()
	subs := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()

	for _, fn := range subs {
		c := change
		c.Data = data.Clone()
		fn(c)
	}
	return n, nil
}

// Status summarizes the stored data.
func (s *Store) Status(ctx context.Context) (*Status, error) {
	data, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	st := &Status{
		Path:     s.path,
		Keywords: len(data.Replacements),
		Enabled:  data.Enabled,
	}
	if st.SchemaVersion, err = schemaVersion(ctx, s.db); err != nil {
		return nil, err
	}

	var committedAt sql.NullInt64
	err = s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(id), 0), MAX(committed_at) FROM changes",
	).Scan(&st.Revision, &committedAt)
	if err != nil {
		return nil, fmt.Errorf("read change log: %w", err)
	}
	if committedAt.Valid {
		st.UpdatedAt = time.Unix(0, committedAt.Int64)
	}
	return st, nil
}
