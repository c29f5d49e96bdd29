// Package sqlite implements the conversation store on a single SQLite file
// (modernc.org/sqlite, no cgo). The state blob is stored as JSON; the schema
// is created on open so the backend needs no migration step.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vendaflow/vendaflow/internal/flow"
	"github.com/vendaflow/vendaflow/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	contact    TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);`

// Store persists conversations in one SQLite database file.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at path.
func New(path string) (*Store, error) {
	path = expandHome(path)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// The engine serializes writes per contact; a single connection keeps
	// SQLite's own locking out of the picture.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Load reads one conversation, mapping corruption to absence.
func (s *Store) Load(ctx context.Context, contact string) (*flow.State, error) {
	var blob string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM conversations WHERE contact = ?`, contact).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", contact, err)
	}

	var st flow.State
	if err := json.Unmarshal([]byte(blob), &st); err != nil {
		slog.Warn("store: corrupted conversation blob, treating as absent",
			"contact", contact, "error", err)
		return nil, store.ErrNotFound
	}
	return &st, nil
}

// Save upserts the conversation.
func (s *Store) Save(ctx context.Context, contact string, st *flow.State) error {
	blob, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal conversation %s: %w", contact, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (contact, state, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (contact) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		contact, string(blob), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save conversation %s: %w", contact, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
