package storystate

import (
	"strconv"

	"github.com/storyloom/storyloom/pkg/pipeline"
)

// Annotation keys used to carry story state and correlation ids through
// chunk metadata. The state itself travels as serialized JSON so that
// transforms stay stateless between chunks.
const (
	StateJSONKey     = "storyloom.story_state_json"
	SchemaVersionKey = "storyloom.story_state_schema_version"
	SchemaVersion    = "storyloom/story-state/v1"
	OriginalTextKey  = "storyloom.original_text"
	SessionIDKey     = "storyloom.session_id"
	TurnIDKey        = "storyloom.turn_id"
	TurnIndexKey     = "storyloom.turn_index"
	RunIDKey         = "storyloom.run_id"
)

// ReadOrCreate loads the state carried by chunk metadata, falling back to an
// empty state for the annotated session when the annotation is absent or
// unparseable.
func ReadOrCreate(meta pipeline.Metadata, transformName string) State {
	sessionID, ok := meta.Annotation(SessionIDKey)
	if !ok {
		sessionID = "default"
	}

	if raw, ok := meta.Annotation(StateJSONKey); ok {
		if state, ok := TryDeserialize(raw); ok {
			return state
		}
	}

	return Empty(sessionID, transformName)
}

// WriteTo stamps the serialized state onto metadata for the next stage.
func WriteTo(meta pipeline.Metadata, state State) pipeline.Metadata {
	return meta.
		WithAnnotation(StateJSONKey, Serialize(state)).
		WithAnnotation(SchemaVersionKey, SchemaVersion)
}

// TurnIndex reads the annotated turn index, if present and non-negative.
func TurnIndex(meta pipeline.Metadata) (int, bool) {
	raw, ok := meta.Annotation(TurnIndexKey)
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// CorrelationFields extracts the session/turn/run annotations for log lines.
func CorrelationFields(meta pipeline.Metadata) map[string]any {
	fields := map[string]any{}
	for _, key := range []string{SessionIDKey, TurnIDKey, TurnIndexKey, RunIDKey} {
		if v, ok := meta.Annotation(key); ok {
			fields[key] = v
		}
	}
	return fields
}
