package narration

import (
	"context"
	"strings"
	"time"

	"github.com/storyloom/storyloom/pkg/logger"
)

const (
	systemPromptStage  = "system_prompt_injection"
	systemPromptSource = "system_prompt_middleware"

	metaKeyProfileID      = "system_prompt_profile_id"
	metaKeyProfileVersion = "system_prompt_version"
)

// Profile is a versioned system prompt. Instructions become separate
// instruction segments after the main prompt.
type Profile struct {
	ProfileID    string
	PromptText   string
	Instructions []string
	Version      string
}

// ProfileResolver finds the system prompt profile for a session.
type ProfileResolver interface {
	Resolve(ctx context.Context, sessionID string) (Profile, error)
}

// SystemPromptMiddleware prepends the resolved system prompt ahead of all
// existing segments. It is idempotent per profile id and version: the
// applied profile is recorded in context metadata and a rerun carrying the
// same marker skips re-insertion.
type SystemPromptMiddleware struct {
	resolver ProfileResolver
	observer Observer
}

func NewSystemPromptMiddleware(resolver ProfileResolver, observer Observer) *SystemPromptMiddleware {
	if observer == nil {
		observer = NopObserver{}
	}
	return &SystemPromptMiddleware{resolver: resolver, observer: observer}
}

func (m *SystemPromptMiddleware) Invoke(ctx context.Context, nc Context, result Result, next Next) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	start := time.Now()

	if nc.WorkingSegments == nil {
		return Result{}, m.contextError(nc, "working context segments are unavailable", start)
	}

	profile, err := m.resolver.Resolve(ctx, nc.SessionID)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, m.contextError(nc, "system prompt profile unavailable", start)
	}
	if strings.TrimSpace(profile.PromptText) == "" {
		return Result{}, m.contextError(nc, "system prompt profile has empty prompt text", start)
	}

	existingID, _ := nc.MetadataValue(metaKeyProfileID)
	existingVersion, _ := nc.MetadataValue(metaKeyProfileVersion)
	if existingID == profile.ProfileID && existingVersion == profile.Version {
		logger.InfoCF("narration", "system prompt already applied", map[string]any{
			"session_id": nc.SessionID,
			"trace_id":   nc.Trace.TraceID,
			"profile_id": profile.ProfileID,
			"version":    profile.Version,
		})
		m.observer.OnStageCompleted(StageTelemetry{systemPromptStage, "skipped", "none", nc.SessionID, nc.Trace, time.Since(start)})
		return next(ctx, nc, result)
	}

	segments := make([]Segment, 0, len(nc.WorkingSegments)+1+len(profile.Instructions))
	segments = append(segments, Segment{Role: "system", Content: profile.PromptText, Source: systemPromptSource})
	for _, instruction := range profile.Instructions {
		if strings.TrimSpace(instruction) == "" {
			continue
		}
		segments = append(segments, Segment{Role: "instruction", Content: instruction, Source: systemPromptSource})
	}
	segments = append(segments, nc.WorkingSegments...)

	updated := nc.
		WithSegments(segments).
		WithMetadataValue(metaKeyProfileID, profile.ProfileID).
		WithMetadataValue(metaKeyProfileVersion, profile.Version)

	logger.InfoCF("narration", "system prompt injected", map[string]any{
		"session_id": nc.SessionID,
		"trace_id":   nc.Trace.TraceID,
		"profile_id": profile.ProfileID,
		"version":    profile.Version,
	})
	m.observer.OnStageCompleted(StageTelemetry{systemPromptStage, "success", "none", nc.SessionID, nc.Trace, time.Since(start)})
	return next(ctx, updated, result)
}

func (m *SystemPromptMiddleware) contextError(nc Context, message string, start time.Time) error {
	perr := &PipelineError{
		Class:     ClassContextError,
		Message:   message,
		SessionID: nc.SessionID,
		Trace:     nc.Trace,
		Stage:     systemPromptStage,
	}
	m.observer.OnError(perr)
	m.observer.OnStageCompleted(StageTelemetry{systemPromptStage, "failure", string(ClassContextError), nc.SessionID, nc.Trace, time.Since(start)})
	return perr
}

// StaticProfileResolver always serves the same profile. The CLI uses it with
// the configured prompt file.
type StaticProfileResolver struct {
	Profile Profile
}

func (r StaticProfileResolver) Resolve(ctx context.Context, sessionID string) (Profile, error) {
	return r.Profile, nil
}
