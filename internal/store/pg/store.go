// Package pg implements the conversation store on Postgres via the pgx stdlib
// driver. Schema lives in migrations/ and is applied with the migrate command.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vendaflow/vendaflow/internal/flow"
	"github.com/vendaflow/vendaflow/internal/store"
)

// Store persists conversations in a Postgres table with a JSONB state column.
type Store struct {
	db *sql.DB
}

// New opens a connection pool for the DSN and verifies connectivity.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: db}, nil
}

// Load reads one conversation, mapping corruption to absence.
func (s *Store) Load(ctx context.Context, contact string) (*flow.State, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM conversations WHERE contact = $1`, contact).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", contact, err)
	}

	var st flow.State
	if err := json.Unmarshal(blob, &st); err != nil {
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
		`INSERT INTO conversations (contact, state, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (contact) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
		contact, blob, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save conversation %s: %w", contact, err)
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() error { return s.db.Close() }
