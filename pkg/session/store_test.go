package session

import (
	"context"
	"errors"
	"testing"

	"github.com/storyloom/storyloom/pkg/narration"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return store
}

func TestCreateAndLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record, err := store.Create(ctx, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if record.Title != "Untitled Session" || record.IsTitleUserSet {
		t.Fatalf("unexpected default record: %+v", record)
	}

	nc, err := store.Load(ctx, record.SessionID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if nc.SessionID != record.SessionID {
		t.Fatalf("session id mismatch: %q", nc.SessionID)
	}
	if nc.PriorNarration == nil || nc.Metadata == nil {
		t.Fatal("loaded context must have non-nil history and metadata")
	}
}

func TestCreateWithTitleMarksUserSet(t *testing.T) {
	store := newTestStore(t)
	record, err := store.Create(context.Background(), "My Campaign")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if record.Title != "My Campaign" || !record.IsTitleUserSet {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestLoadMissingSessionReturnsSentinel(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Load(context.Background(), "does-not-exist")
	if !errors.Is(err, narration.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestLoadRejectsPathTraversalIDs(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Load(context.Background(), "../escape")
	if !errors.Is(err, narration.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for invalid id, got %v", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	record, err := store.Create(ctx, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	nc := narration.Context{
		SessionID:      record.SessionID,
		PriorNarration: []string{"The gate opens. ", "A shadow moves."},
		Metadata:       map[string]string{"tone": "dark"},
	}
	if err := store.Save(ctx, nc); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load(ctx, record.SessionID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.PriorNarration) != 2 || loaded.PriorNarration[1] != "A shadow moves." {
		t.Fatalf("history lost: %v", loaded.PriorNarration)
	}
	if loaded.Metadata["tone"] != "dark" {
		t.Fatalf("metadata lost: %v", loaded.Metadata)
	}
}

func TestListOrdersByUpdatedAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.Create(ctx, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	second, err := store.Create(ctx, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Touch the first session so it becomes the most recently updated.
	if err := store.Save(ctx, narration.Context{SessionID: first.SessionID, PriorNarration: []string{"x"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	records, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].SessionID != first.SessionID {
		t.Fatalf("expected most recently saved first, got %+v", records)
	}
	_ = second
}

func TestRenameAndFind(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	record, err := store.Create(ctx, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := store.Rename(ctx, record.SessionID, "Chapter One", true); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	found, err := store.Find(ctx, record.SessionID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if found.Title != "Chapter One" || !found.IsTitleUserSet {
		t.Fatalf("rename not applied: %+v", found)
	}

	if err := store.Rename(ctx, "missing", "x", false); !errors.Is(err, narration.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestDeleteRemovesSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	record, err := store.Create(ctx, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := store.Delete(ctx, record.SessionID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Load(ctx, record.SessionID); !errors.Is(err, narration.ErrSessionNotFound) {
		t.Fatalf("expected session gone, got %v", err)
	}
	if _, err := store.Find(ctx, record.SessionID); !errors.Is(err, narration.ErrSessionNotFound) {
		t.Fatalf("expected catalog entry gone, got %v", err)
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()
	record, err := store.Create(ctx, "Persistent")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	reopened, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	found, err := reopened.Find(ctx, record.SessionID)
	if err != nil {
		t.Fatalf("Find after reopen: %v", err)
	}
	if found.Title != "Persistent" {
		t.Fatalf("title lost across reopen: %+v", found)
	}
}
