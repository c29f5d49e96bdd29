// Package file implements the conversation store as one JSON document per
// contact, written atomically (temp file + rename). It is the standalone
// default: no external dependencies, safe across process restarts.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/vendaflow/vendaflow/internal/flow"
	"github.com/vendaflow/vendaflow/internal/store"
)

// Store persists conversations under a directory, one file per contact.
type Store struct {
	dir string
}

// New creates the directory if needed and returns the store.
func New(dir string) (*Store, error) {
	dir = expandHome(dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Load reads a conversation. A missing file returns store.ErrNotFound; a file
// that fails to parse is treated as absent with a diagnostic, never as fatal.
func (s *Store) Load(_ context.Context, contact string) (*flow.State, error) {
	path, err := s.path(contact)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("read conversation %s: %w", contact, err)
	}

	var st flow.State
	if err := json.Unmarshal(data, &st); err != nil {
		slog.Warn("store: corrupted conversation blob, treating as absent",
			"contact", contact, "path", path, "error", err)
		return nil, store.ErrNotFound
	}
	return &st, nil
}

// Save writes the conversation atomically: temp file, fsync, rename.
func (s *Store) Save(_ context.Context, contact string, st *flow.State) error {
	path, err := s.path(contact)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal conversation %s: %w", contact, err)
	}

	tmp, err := os.CreateTemp(s.dir, "conversation-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	tmp.Close()

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	cleanup = false
	return nil
}

// Close is a no-op for the file backend.
func (s *Store) Close() error { return nil }

// path validates the contact key before using it as a filename. Keys are
// digits-only after normalization, but the check guards against a caller
// bypassing the normalizer.
func (s *Store) path(contact string) (string, error) {
	if contact == "" || !filepath.IsLocal(contact) || strings.ContainsAny(contact, `/\:`) {
		return "", fmt.Errorf("invalid contact key %q", contact)
	}
	return filepath.Join(s.dir, contact+".json"), nil
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
