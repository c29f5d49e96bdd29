package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/vendaflow/vendaflow/internal/flow"
	"github.com/vendaflow/vendaflow/internal/store"
)

// TestStore_SaveLoad verifies the basic round trip.
func TestStore_SaveLoad(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	st := flow.NewState("5584996250203")
	st.CurrentPhase = flow.PhaseBusinessDiscovery
	st.LastProcessedMessageID = "MSG-7"

	if err := s.Save(ctx, st.Contact, st); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Load(ctx, st.Contact)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.CurrentPhase != flow.PhaseBusinessDiscovery || got.LastProcessedMessageID != "MSG-7" {
		t.Fatalf("loaded state differs: %+v", got)
	}
}

// TestStore_AbsentIsNotFound verifies a never-seen contact returns ErrNotFound.
func TestStore_AbsentIsNotFound(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := s.Load(context.Background(), "5511999990000"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

// TestStore_CorruptedBlobTreatedAsAbsent verifies a blob that fails to parse
// is reported as absent, not as a fatal error.
func TestStore_CorruptedBlobTreatedAsAbsent(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "5584996250203.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt blob: %v", err)
	}

	if _, err := s.Load(context.Background(), "5584996250203"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("corrupted blob: want ErrNotFound, got %v", err)
	}
}

// TestStore_RejectsUnsafeKeys verifies path traversal attempts are refused.
func TestStore_RejectsUnsafeKeys(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	for _, key := range []string{"", "../escape", "a/b", `a\b`} {
		if err := s.Save(context.Background(), key, flow.NewState(key)); err == nil {
			t.Errorf("Save accepted unsafe key %q", key)
		}
	}
}
