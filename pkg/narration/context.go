// Package narration implements the turn pipeline: an ordered middleware
// chain that loads a session, prepares provider context segments, streams
// tokens from a narration provider, and persists the merged turn once the
// caller has drained the stream.
package narration

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Trace carries the correlation ids stamped on every log line and telemetry
// event for one turn.
type Trace struct {
	TraceID   string
	RequestID string
}

func NewTrace() Trace {
	return Trace{TraceID: uuid.NewString(), RequestID: uuid.NewString()}
}

// Segment is one provider context entry. Role is the provider-facing role
// (system, instruction, history, user); Source names the middleware that
// produced it.
type Segment struct {
	Role    string
	Content string
	Source  string
}

// Context is the per-turn narration state threaded through the middleware
// chain. Middleware never mutate a context in place; every update returns a
// fresh value.
//
// PriorNarration is durable history. WorkingNarration is the current turn's
// not-yet-persisted output; it is reset at the start of every run and merged
// into PriorNarration only on successful persistence. A nil WorkingSegments
// slice means the segment list is structurally unavailable, which the
// injection middlewares treat as a context error; an empty non-nil slice is
// a valid, empty list.
type Context struct {
	SessionID        string
	PlayerPrompt     string
	PriorNarration   []string
	WorkingNarration []string
	WorkingSegments  []Segment
	Metadata         map[string]string
	Trace            Trace
}

// Request is what a caller submits for one turn.
type Request struct {
	SessionID    string
	PlayerPrompt string
	Metadata     map[string]string
	Trace        Trace
}

var ErrSessionNotFound = errors.New("narration: session not found")

// SessionStore persists narration contexts between turns. Load returns
// ErrSessionNotFound (possibly wrapped) when the session id has no record.
type SessionStore interface {
	Load(ctx context.Context, sessionID string) (Context, error)
	Save(ctx context.Context, nc Context) error
}

// SessionRecord is the directory entry for one session.
type SessionRecord struct {
	SessionID      string    `json:"sessionId"`
	Title          string    `json:"title"`
	IsTitleUserSet bool      `json:"isTitleUserSet"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// SessionDirectory exposes the session catalog used by the title middleware
// and the CLI surface.
type SessionDirectory interface {
	Find(ctx context.Context, sessionID string) (SessionRecord, error)
	List(ctx context.Context) ([]SessionRecord, error)
	Rename(ctx context.Context, sessionID, title string, userSet bool) error
}

// WithMetadataValue returns a copy of the context with one metadata key set.
func (c Context) WithMetadataValue(key, value string) Context {
	merged := make(map[string]string, len(c.Metadata)+1)
	for k, v := range c.Metadata {
		merged[k] = v
	}
	merged[key] = value
	c.Metadata = merged
	return c
}

// WithSegments returns a copy of the context with the given segment list.
func (c Context) WithSegments(segments []Segment) Context {
	c.WorkingSegments = segments
	return c
}

// MetadataValue reads a metadata key.
func (c Context) MetadataValue(key string) (string, bool) {
	if c.Metadata == nil {
		return "", false
	}
	v, ok := c.Metadata[key]
	return v, ok
}

func mergeMetadata(stored, request map[string]string) map[string]string {
	merged := make(map[string]string, len(stored)+len(request))
	for k, v := range stored {
		merged[k] = v
	}
	for k, v := range request {
		merged[k] = v
	}
	return merged
}
