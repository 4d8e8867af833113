// Package sqlite persists agent histories in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/reagent/core"
	"github.com/hupe1980/reagent/session"
)

const timeFormat = time.RFC3339Nano

const schema = `
CREATE TABLE IF NOT EXISTS histories (
	key        TEXT PRIMARY KEY,
	messages   TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

// Store is a session.Store backed by SQLite. One row holds one history.
type Store struct {
	db *sql.DB
}

var _ session.Store = (*Store)(nil)

// New opens (or creates) the database at path and ensures the schema.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Save replaces the history stored under key.
func (s *Store) Save(ctx context.Context, key string, msgs []core.Message) error {
	b, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO histories (key, messages, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET messages=excluded.messages, updated_at=excluded.updated_at`,
		key, string(b), time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	return nil
}

// Load returns the history stored under key or session.ErrNotFound.
func (s *Store) Load(ctx context.Context, key string) ([]core.Message, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT messages FROM histories WHERE key=?", key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	var msgs []core.Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return msgs, nil
}

// Delete removes the history stored under key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM histories WHERE key=?", key); err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	return nil
}

// Keys lists the stored history keys, most recently updated first.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM histories ORDER BY updated_at DESC")
	if err != nil {
		return nil, fmt.Errorf("query keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
