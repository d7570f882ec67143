package narration

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const attachmentStage = "attachment_context_injection"

// ProcessedAttachment is the slice of the attachment store this middleware
// needs: enough to render one context segment.
type ProcessedAttachment struct {
	ID             string
	FileName       string
	MIMEType       string
	NormalizedText string
}

// AttachmentSource lists the processed attachments of a session.
type AttachmentSource interface {
	ListBySession(ctx context.Context, sessionID string) ([]ProcessedAttachment, error)
}

// AttachmentInjectionMiddleware appends one system segment per requested
// attachment after the existing segments. Missing ids are skipped silently
// and store failures degrade to a skip; attachments are context enrichment,
// never a reason to fail the turn.
type AttachmentInjectionMiddleware struct {
	source        AttachmentSource
	attachmentIDs []string
	observer      Observer
}

func NewAttachmentInjectionMiddleware(source AttachmentSource, attachmentIDs []string, observer Observer) *AttachmentInjectionMiddleware {
	if observer == nil {
		observer = NopObserver{}
	}
	return &AttachmentInjectionMiddleware{source: source, attachmentIDs: attachmentIDs, observer: observer}
}

func (m *AttachmentInjectionMiddleware) Invoke(ctx context.Context, nc Context, result Result, next Next) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	start := time.Now()

	if len(m.attachmentIDs) == 0 {
		m.observer.OnStageCompleted(StageTelemetry{attachmentStage, "skipped", "none", nc.SessionID, nc.Trace, time.Since(start)})
		return next(ctx, nc, result)
	}

	listed, err := m.source.ListBySession(ctx, nc.SessionID)
	if err != nil {
		if ctx.Err() != nil {
			m.observer.OnStageCompleted(StageTelemetry{attachmentStage, "canceled", "operation_canceled", nc.SessionID, nc.Trace, time.Since(start)})
			return Result{}, ctx.Err()
		}
		m.observer.OnStageCompleted(StageTelemetry{attachmentStage, "skipped", string(ClassPersistenceError), nc.SessionID, nc.Trace, time.Since(start)})
		return next(ctx, nc, result)
	}

	byID := make(map[string]ProcessedAttachment, len(listed))
	for _, a := range listed {
		byID[a.ID] = a
	}

	var segments []Segment
	for _, id := range m.attachmentIDs {
		if strings.TrimSpace(id) == "" {
			continue
		}
		attachment, ok := byID[id]
		if !ok {
			continue
		}
		segments = append(segments, Segment{
			Role:    "system",
			Content: attachmentSegmentContent(attachment),
			Source:  attachmentStage,
		})
	}

	if len(segments) == 0 {
		m.observer.OnStageCompleted(StageTelemetry{attachmentStage, "skipped", "none", nc.SessionID, nc.Trace, time.Since(start)})
		return next(ctx, nc, result)
	}

	baseline := nc.WorkingSegments
	if baseline == nil {
		baseline = []Segment{}
	}
	updated := nc.WithSegments(append(append([]Segment{}, baseline...), segments...))

	m.observer.OnStageCompleted(StageTelemetry{attachmentStage, "success", "none", nc.SessionID, nc.Trace, time.Since(start)})
	return next(ctx, updated, result)
}

func attachmentSegmentContent(a ProcessedAttachment) string {
	return fmt.Sprintf("ATTACHMENT\nid: %s\nname: %s\nmime: %s\n\n%s", a.ID, a.FileName, a.MIMEType, a.NormalizedText)
}
