package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/betterseqta/settings-go/internal/models"
)

const (
	sqliteFileName      = "settings.db"
	defaultPollInterval = time.Second
)

// SQLiteAdapter stores one row per setting. Commits made by other processes
// are detected by polling PRAGMA data_version on a dedicated connection.
type SQLiteAdapter struct {
	mu     sync.Mutex
	db     *sql.DB
	poll   *sql.Conn
	path   string
	data   models.Namespace
	closed bool

	disp   *dispatcher
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSQLiteAdapter opens (creating if needed) settings.db in dir.
// pollInterval <= 0 uses one second.
func NewSQLiteAdapter(ctx context.Context, dir string, pollInterval time.Duration) (*SQLiteAdapter, error) {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	dbPath := filepath.Join(dir, sqliteFileName)

	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteAdapter{
		db:   db,
		path: dbPath,
		disp: newDispatcher(),
		done: make(chan struct{}),
	}
	if err := s.initSchema(ctx); err != nil {
		s.disp.close()
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.data, err = s.load(ctx)
	if err != nil {
		s.disp.close()
		db.Close()
		return nil, err
	}

	s.poll, err = db.Conn(ctx)
	if err != nil {
		s.disp.close()
		db.Close()
		return nil, fmt.Errorf("failed to reserve poll connection: %w", err)
	}
	version, err := s.dataVersion(ctx)
	if err != nil {
		s.poll.Close()
		s.disp.close()
		db.Close()
		return nil, err
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.pollLoop(pollCtx, pollInterval, version)
	return s, nil
}

// Path returns the database file path.
func (s *SQLiteAdapter) Path() string { return s.path }

func (s *SQLiteAdapter) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);`)
	return err
}

func (s *SQLiteAdapter) load(ctx context.Context) (models.Namespace, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	ns := make(models.Namespace)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			slog.Warn("storage: skipping undecodable setting", "key", key, "err", err)
			continue
		}
		if v != nil {
			ns[key] = v
		}
	}
	return ns, rows.Err()
}

func (s *SQLiteAdapter) dataVersion(ctx context.Context) (int64, error) {
	var v int64
	if err := s.poll.QueryRowContext(ctx, `PRAGMA data_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read data_version: %w", err)
	}
	return v, nil
}

// ReadAll returns a copy of the namespace as last loaded or written.
func (s *SQLiteAdapter) ReadAll(ctx context.Context) (models.Namespace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.data.Clone(), nil
}

// WriteAll upserts ns in one transaction.
func (s *SQLiteAdapter) WriteAll(ctx context.Context, ns models.Namespace) error {
	return s.mutate(ctx, func(next models.Namespace) models.Changes {
		return next.Merge(ns)
	})
}

// Remove deletes keys in one transaction.
func (s *SQLiteAdapter) Remove(ctx context.Context, keys ...string) error {
	return s.mutate(ctx, func(next models.Namespace) models.Changes {
		return next.Remove(keys...)
	})
}

func (s *SQLiteAdapter) mutate(ctx context.Context, fn func(models.Namespace) models.Changes) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	next := s.data.Clone()
	changes := fn(next)
	if len(changes) == 0 {
		return nil
	}
	if err := s.commit(ctx, changes); err != nil {
		return err
	}
	s.data = next
	s.disp.publish(changes)
	return nil
}

func (s *SQLiteAdapter) commit(ctx context.Context, changes models.Changes) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, key := range changes.Keys() {
		c := changes[key]
		if c.Removed() {
			if _, err := tx.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
				return fmt.Errorf("failed to delete %q: %w", key, err)
			}
			continue
		}
		raw, err := json.Marshal(c.NewValue)
		if err != nil {
			return fmt.Errorf("failed to encode %q: %w", key, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, string(raw), now)
		if err != nil {
			return fmt.Errorf("failed to upsert %q: %w", key, err)
		}
	}
	return tx.Commit()
}

// OnChange subscribes fn to change batches.
func (s *SQLiteAdapter) OnChange(fn ChangeFunc) func() {
	return s.disp.subscribe(fn)
}

// Close stops polling and closes the database.
func (s *SQLiteAdapter) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	<-s.done
	s.disp.close()
	s.poll.Close()
	return s.db.Close()
}

func (s *SQLiteAdapter) pollLoop(ctx context.Context, interval time.Duration, last int64) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v, err := s.dataVersion(ctx)
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("storage: data_version poll failed", "err", err)
				}
				continue
			}
			if v == last {
				continue
			}
			last = v
			s.reload(ctx)
		}
	}
}

// reload re-reads the table and reports rows another connection changed.
func (s *SQLiteAdapter) reload(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	fresh, err := s.load(ctx)
	if err != nil {
		slog.Warn("storage: failed to reload settings", "path", s.path, "err", err)
		return
	}
	changes := models.Diff(s.data, fresh)
	s.data = fresh
	if len(changes) > 0 {
		slog.Debug("storage: external settings change", "path", s.path, "keys", changes.Keys())
	}
	s.disp.publish(changes)
}

var _ Adapter = (*SQLiteAdapter)(nil)
