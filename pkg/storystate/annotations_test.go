package storystate

import (
	"testing"

	"github.com/storyloom/storyloom/pkg/pipeline"
)

func TestReadOrCreateMissingAnnotation(t *testing.T) {
	meta := pipeline.Metadata{}.WithAnnotation(SessionIDKey, "sess-1")
	s := ReadOrCreate(meta, "bootstrap")
	if s.SessionID != "sess-1" || s.Version != 0 {
		t.Fatalf("expected fresh state for annotated session, got %+v", s)
	}
}

func TestReadOrCreateBadJSONFallsBack(t *testing.T) {
	meta := pipeline.Metadata{}.
		WithAnnotation(SessionIDKey, "sess-1").
		WithAnnotation(StateJSONKey, "{broken")
	s := ReadOrCreate(meta, "bootstrap")
	if s.Version != 0 || s.SessionID != "sess-1" {
		t.Fatalf("expected fallback to empty state, got %+v", s)
	}
}

func TestWriteToThenReadOrCreate(t *testing.T) {
	state := Empty("sess-1", "bootstrap")
	state.Version = 3
	state.Summary = "Underway."

	meta := WriteTo(pipeline.Metadata{}, state)
	if v, _ := meta.Annotation(SchemaVersionKey); v != SchemaVersion {
		t.Fatalf("schema version not stamped, got %q", v)
	}

	back := ReadOrCreate(meta, "bootstrap")
	if back.Version != 3 || back.Summary != "Underway." {
		t.Fatalf("state did not survive metadata round trip: %+v", back)
	}
}

func TestTurnIndex(t *testing.T) {
	if _, ok := TurnIndex(pipeline.Metadata{}); ok {
		t.Fatal("expected missing turn index to report false")
	}
	meta := pipeline.Metadata{}.WithAnnotation(TurnIndexKey, "7")
	if v, ok := TurnIndex(meta); !ok || v != 7 {
		t.Fatalf("expected turn index 7, got %d ok=%v", v, ok)
	}
	meta = pipeline.Metadata{}.WithAnnotation(TurnIndexKey, "-1")
	if _, ok := TurnIndex(meta); ok {
		t.Fatal("expected negative turn index to be rejected")
	}
}

func TestCorrelationFields(t *testing.T) {
	meta := pipeline.Metadata{}.
		WithAnnotation(SessionIDKey, "sess-1").
		WithAnnotation(RunIDKey, "run-9")
	fields := CorrelationFields(meta)
	if fields[SessionIDKey] != "sess-1" || fields[RunIDKey] != "run-9" {
		t.Fatalf("unexpected correlation fields: %+v", fields)
	}
	if _, ok := fields[TurnIDKey]; ok {
		t.Fatal("absent annotations must not appear")
	}
}
