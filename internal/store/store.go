// Package store persists bookmarks, preferences, the export history and
// cached API responses in a local SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

// PrefExcludePortraits drops character portraits from bulk image downloads.
const PrefExcludePortraits = "exclude_portraits"

var ErrEmptyKey = errors.New("empty key")

const schema = `
CREATE TABLE IF NOT EXISTS bookmarks (
    position INTEGER PRIMARY KEY AUTOINCREMENT,
    chat_id TEXT NOT NULL UNIQUE,
    added_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS preferences (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS export_log (
    id TEXT PRIMARY KEY,
    chat_id TEXT NOT NULL,
    format TEXT NOT NULL,
    location TEXT NOT NULL,
    bytes INTEGER NOT NULL DEFAULT 0,
    timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_export_log_chat_id ON export_log(chat_id);
CREATE INDEX IF NOT EXISTS idx_export_log_timestamp ON export_log(timestamp);

CREATE TABLE IF NOT EXISTS cache_entries (
    namespace TEXT NOT NULL,
    key TEXT NOT NULL,
    data BLOB NOT NULL,
    stored_at INTEGER NOT NULL,
    ttl_ms INTEGER NOT NULL,
    PRIMARY KEY (namespace, key)
);
`

type Bookmark struct {
	ChatID  string
	AddedAt time.Time
}

// ExportEntry records one artifact written by an export or download.
type ExportEntry struct {
	ID        string
	ChatID    string
	Format    string
	Location  string
	Bytes     int64
	Timestamp time.Time
}

type Store struct {
	db *sql.DB
}

// Open creates the database at dbPath and its parent directory if needed.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// AddBookmark appends chatID; bookmarking it again keeps its position.
func (s *Store) AddBookmark(ctx context.Context, chatID string) error {
	if chatID == "" {
		return ErrEmptyKey
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO bookmarks (chat_id, added_at) VALUES (?, ?)`,
		chatID, time.Now().UTC())
	return err
}

// RemoveBookmark reports whether chatID was bookmarked.
func (s *Store) RemoveBookmark(ctx context.Context, chatID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bookmarks WHERE chat_id = ?`, chatID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Bookmarks lists bookmarks in the order they were added.
func (s *Store) Bookmarks(ctx context.Context) ([]Bookmark, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, added_at FROM bookmarks ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Bookmark
	for rows.Next() {
		var b Bookmark
		if err := rows.Scan(&b.ChatID, &b.AddedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) IsBookmarked(ctx context.Context, chatID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookmarks WHERE chat_id = ?`, chatID).Scan(&n)
	return n > 0, err
}

func (s *Store) SetPref(ctx context.Context, key string, value bool) error {
	if key == "" {
		return ErrEmptyKey
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO preferences (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, strconv.FormatBool(value))
	return err
}

// Pref returns the stored toggle, or def when it was never set.
func (s *Store) Pref(ctx context.Context, key string, def bool) (bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM preferences WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return def, err
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def, fmt.Errorf("preference %s: %w", key, err)
	}
	return v, nil
}

func (s *Store) LogExport(ctx context.Context, e *ExportEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO export_log (id, chat_id, format, location, bytes, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.ChatID, e.Format, e.Location, e.Bytes, e.Timestamp)
	return err
}

// Exports lists the newest entries first; an empty chatID lists all chats.
func (s *Store) Exports(ctx context.Context, chatID string, limit int) ([]*ExportEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, chat_id, format, location, bytes, timestamp FROM export_log`
	args := []any{}
	if chatID != "" {
		query += ` WHERE chat_id = ?`
		args = append(args, chatID)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ExportEntry
	for rows.Next() {
		e := &ExportEntry{}
		if err := rows.Scan(&e.ID, &e.ChatID, &e.Format, &e.Location, &e.Bytes, &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
