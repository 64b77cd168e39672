package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrJobNotRunning = errors.New("job is not running")
)

// timeLayout is fixed-width so that lexical order of stored values equals time order.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries holds every repository operation. It runs either directly on the
// connection pool or inside a transaction handed out by InTx.
type Queries struct {
	q execer
}

type DB struct {
	*sql.DB
	*Queries
}

// New creates a new database connection and initializes schema
func New(dbPath string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	dsn := "file:" + dbPath +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	d := &DB{DB: sqlDB, Queries: &Queries{q: sqlDB}}
	if err := d.initSchema(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return d, nil
}

// InTx runs fn in one transaction. The transaction commits when fn returns nil
// and rolls back otherwise; fn's error is returned unchanged.
func (db *DB) InTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Queries{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rolling back: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// initSchema creates database tables if they don't exist
func (db *DB) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sources (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL,
			name TEXT NOT NULL,
			url TEXT NOT NULL UNIQUE,
			category TEXT NOT NULL DEFAULT 'general',
			enabled INTEGER NOT NULL DEFAULT 1,
			weight REAL NOT NULL DEFAULT 1.0,
			last_fetched_at TEXT
		);

		CREATE TABLE IF NOT EXISTS items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_id INTEGER NOT NULL,
			canonical_url TEXT NOT NULL UNIQUE,
			url TEXT NOT NULL,
			title TEXT NOT NULL,
			translated_title TEXT,
			summary TEXT NOT NULL DEFAULT '',
			published_at TEXT,
			fetched_at TEXT NOT NULL,
			language TEXT NOT NULL DEFAULT 'en',
			dedupe_key TEXT NOT NULL,
			score REAL NOT NULL DEFAULT 0,
			FOREIGN KEY (source_id) REFERENCES sources(id)
		);

		CREATE TABLE IF NOT EXISTS feeds (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			feed_date TEXT NOT NULL,
			slot TEXT NOT NULL,
			generated_at TEXT NOT NULL,
			UNIQUE (feed_date, slot)
		);

		CREATE TABLE IF NOT EXISTS feed_items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			feed_id INTEGER NOT NULL,
			item_id INTEGER NOT NULL,
			rank INTEGER NOT NULL,
			short_reason TEXT NOT NULL,
			UNIQUE (feed_id, item_id),
			UNIQUE (feed_id, rank),
			FOREIGN KEY (feed_id) REFERENCES feeds(id) ON DELETE CASCADE,
			FOREIGN KEY (item_id) REFERENCES items(id)
		);

		CREATE TABLE IF NOT EXISTS feedback (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			item_id INTEGER NOT NULL,
			action TEXT NOT NULL CHECK (action IN ('saved', 'skipped', 'liked', 'disliked')),
			created_at TEXT NOT NULL,
			slot TEXT,
			rank INTEGER,
			source_id INTEGER,
			category TEXT,
			feed_id INTEGER,
			FOREIGN KEY (item_id) REFERENCES items(id)
		);

		CREATE TABLE IF NOT EXISTS item_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			item_id INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			slot TEXT,
			rank INTEGER,
			source_id INTEGER,
			category TEXT,
			feed_id INTEGER,
			created_at TEXT NOT NULL,
			FOREIGN KEY (item_id) REFERENCES items(id)
		);

		CREATE TABLE IF NOT EXISTS jobs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_type TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			status TEXT NOT NULL CHECK (status IN ('running', 'success', 'failed')),
			error_message TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_items_fetched_at ON items(fetched_at);
		CREATE INDEX IF NOT EXISTS idx_items_score ON items(score DESC, id DESC);
		CREATE INDEX IF NOT EXISTS idx_items_source_id ON items(source_id);
		CREATE INDEX IF NOT EXISTS idx_feedback_item_action ON feedback(item_id, action);
		CREATE INDEX IF NOT EXISTS idx_item_events_type_created_at ON item_events(event_type, created_at);
		CREATE INDEX IF NOT EXISTS idx_jobs_status_started_at ON jobs(status, started_at);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored time %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullStringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullInt64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullIntPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
