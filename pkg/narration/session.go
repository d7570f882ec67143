package narration

import (
	"context"
	"errors"
	"strings"
	"time"
)

const (
	loadStage    = "session_load"
	persistStage = "persist_context"
)

// Metadata under these prefixes belongs to a single run and never reaches
// durable storage.
var ephemeralMetadataPrefixes = []string{
	"system_prompt_",
	"content_guardian_",
}

// PersistenceMiddleware is the outermost chain step. It loads the durable
// session context before anything else runs and writes the merged context
// back only after the inner stream has been fully drained. A session id with
// no stored record fails the run immediately with a missing_session error;
// sessions are created explicitly, never as a side effect of narrating.
type PersistenceMiddleware struct {
	sessions SessionStore
	observer Observer
}

func NewPersistenceMiddleware(sessions SessionStore, observer Observer) *PersistenceMiddleware {
	if observer == nil {
		observer = NopObserver{}
	}
	return &PersistenceMiddleware{sessions: sessions, observer: observer}
}

func (m *PersistenceMiddleware) Invoke(ctx context.Context, nc Context, result Result, next Next) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	loadStart := time.Now()
	loaded, err := m.sessions.Load(ctx, nc.SessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			perr := &PipelineError{
				Class:     ClassMissingSession,
				Message:   "no session record for session id",
				SessionID: nc.SessionID,
				Trace:     nc.Trace,
				Stage:     loadStage,
				Err:       err,
			}
			m.observer.OnError(perr)
			m.observer.OnStageCompleted(StageTelemetry{loadStage, "failure", string(ClassMissingSession), nc.SessionID, nc.Trace, time.Since(loadStart)})
			return Result{}, perr
		}
		perr := &PipelineError{
			Class:     ClassPersistenceError,
			Message:   "failed to load narration context",
			SessionID: nc.SessionID,
			Trace:     nc.Trace,
			Stage:     loadStage,
			Err:       err,
		}
		m.observer.OnError(perr)
		m.observer.OnStageCompleted(StageTelemetry{loadStage, "failure", string(ClassPersistenceError), nc.SessionID, nc.Trace, time.Since(loadStart)})
		return Result{}, perr
	}

	merged := loaded
	merged.PlayerPrompt = nc.PlayerPrompt
	merged.Metadata = stripEphemeralMetadata(mergeMetadata(loaded.Metadata, nc.Metadata))
	merged.Trace = nc.Trace
	merged.WorkingNarration = []string{}
	merged.WorkingSegments = []Segment{}

	m.observer.OnStageCompleted(StageTelemetry{loadStage, "success", "none", merged.SessionID, merged.Trace, time.Since(loadStart)})

	downstream, err := next(ctx, merged, FromContext(merged))
	if err != nil {
		return Result{}, err
	}

	persistStart := time.Now()
	final := NewFuture(func() (Context, error) {
		return m.persistWhenComplete(ctx, downstream, merged, persistStart)
	})

	out := make(chan string)
	go func() {
		defer close(out)
		for tok := range downstream.Stream {
			select {
			case out <- tok:
			case <-ctx.Done():
				// Keep draining so the upstream pump can finish; the
				// tokens have nowhere to go anymore.
				for range downstream.Stream {
				}
			}
		}
		// The inner stream is fully drained; persistence may now run.
		// Resolving here guarantees telemetry even if the caller never
		// awaits the final context.
		final.Await()
	}()

	return Result{Stream: out, Final: final}, nil
}

// persistWhenComplete waits for the downstream final context, then merges
// the working narration into durable history and saves. Any downstream
// failure, cancellation included, skips the save entirely.
func (m *PersistenceMiddleware) persistWhenComplete(ctx context.Context, downstream Result, merged Context, start time.Time) (Context, error) {
	final, err := downstream.Final.Await()
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			m.observer.OnStageCompleted(StageTelemetry{persistStage, "canceled", "operation_canceled", merged.SessionID, merged.Trace, time.Since(start)})
		} else {
			m.observer.OnStageCompleted(StageTelemetry{persistStage, "skipped", string(ClassOf(err)), merged.SessionID, merged.Trace, time.Since(start)})
		}
		return Context{}, err
	}

	persistable := final
	persistable.PriorNarration = append(append([]string{}, final.PriorNarration...), final.WorkingNarration...)
	persistable.WorkingNarration = []string{}
	persistable.WorkingSegments = []Segment{}
	persistable.Metadata = stripEphemeralMetadata(final.Metadata)

	if err := m.sessions.Save(ctx, persistable); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			m.observer.OnStageCompleted(StageTelemetry{persistStage, "canceled", "operation_canceled", merged.SessionID, merged.Trace, time.Since(start)})
			return Context{}, err
		}
		perr := &PipelineError{
			Class:     ClassPersistenceError,
			Message:   "failed to persist narration context",
			SessionID: merged.SessionID,
			Trace:     merged.Trace,
			Stage:     persistStage,
			Err:       err,
		}
		m.observer.OnError(perr)
		m.observer.OnStageCompleted(StageTelemetry{persistStage, "failure", string(ClassPersistenceError), merged.SessionID, merged.Trace, time.Since(start)})
		return Context{}, perr
	}

	m.observer.OnStageCompleted(StageTelemetry{persistStage, "success", "none", persistable.SessionID, persistable.Trace, time.Since(start)})
	return persistable, nil
}

func stripEphemeralMetadata(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return map[string]string{}
	}
	stripped := make(map[string]string, len(metadata))
	for k, v := range metadata {
		ephemeral := false
		for _, prefix := range ephemeralMetadataPrefixes {
			if strings.HasPrefix(k, prefix) {
				ephemeral = true
				break
			}
		}
		if !ephemeral {
			stripped[k] = v
		}
	}
	return stripped
}
