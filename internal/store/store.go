// Package store defines the durable conversation-state interface and its
// backends. Any durable key-value store suffices; the engine only needs
// read-then-write consistency within a single queue-slot execution, which the
// per-contact queue already guarantees.
package store

import (
	"context"
	"errors"

	"github.com/vendaflow/vendaflow/internal/flow"
)

// ErrNotFound is returned by Load when no conversation exists for the contact.
// A corrupted persisted blob is reported the same way (after a diagnostic
// log), so the caller creates a fresh state instead of crashing.
var ErrNotFound = errors.New("conversation not found")

// ConversationStore persists one flow.State per contact identity.
type ConversationStore interface {
	Load(ctx context.Context, contact string) (*flow.State, error)
	Save(ctx context.Context, contact string, st *flow.State) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Driver: "file" (default), "sqlite", or "postgres".
	Driver string `json:"driver,omitempty"`
	// Path is the storage directory (file) or database file (sqlite).
	Path string `json:"path,omitempty"`
	// PostgresDSN comes from env only, never from the config file.
	PostgresDSN string `json:"-"`
}
