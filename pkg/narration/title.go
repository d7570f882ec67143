package narration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/storyloom/storyloom/pkg/logger"
	"github.com/storyloom/storyloom/pkg/textgen"
)

const titleStage = "session_title_update"

// TitleOptions bounds the generated session title.
type TitleOptions struct {
	MaxChars int
}

func DefaultTitleOptions() TitleOptions {
	return TitleOptions{MaxChars: 64}
}

// TitleMiddleware derives a short session title from the persisted narration
// once a turn completes. It never overrides a title the user set, and every
// failure degrades to a skip; titling is cosmetic.
type TitleMiddleware struct {
	directory SessionDirectory
	service   textgen.Service
	opts      TitleOptions
	observer  Observer
}

func NewTitleMiddleware(directory SessionDirectory, service textgen.Service, opts TitleOptions, observer Observer) *TitleMiddleware {
	if observer == nil {
		observer = NopObserver{}
	}
	if opts.MaxChars <= 0 {
		opts = DefaultTitleOptions()
	}
	return &TitleMiddleware{directory: directory, service: service, opts: opts, observer: observer}
}

func (m *TitleMiddleware) Invoke(ctx context.Context, nc Context, result Result, next Next) (Result, error) {
	downstream, err := next(ctx, nc, result)
	if err != nil {
		return Result{}, err
	}

	final := NewFuture(func() (Context, error) {
		finalCtx, err := downstream.Final.Await()
		if err != nil {
			return finalCtx, err
		}
		m.updateTitle(ctx, finalCtx)
		return finalCtx, nil
	})

	return Result{Stream: downstream.Stream, Final: final}, nil
}

func (m *TitleMiddleware) updateTitle(ctx context.Context, nc Context) {
	start := time.Now()

	record, err := m.directory.Find(ctx, nc.SessionID)
	if err != nil {
		m.observer.OnStageCompleted(StageTelemetry{titleStage, "skipped", string(ClassMissingSession), nc.SessionID, nc.Trace, time.Since(start)})
		return
	}
	if record.IsTitleUserSet {
		m.observer.OnStageCompleted(StageTelemetry{titleStage, "skipped", "user_title_guard", nc.SessionID, nc.Trace, time.Since(start)})
		return
	}

	text := strings.Join(nc.PriorNarration, "")
	if strings.TrimSpace(text) == "" {
		m.observer.OnStageCompleted(StageTelemetry{titleStage, "skipped", "none", nc.SessionID, nc.Trace, time.Since(start)})
		return
	}

	prompt := fmt.Sprintf("Summarize the session in a short, user-friendly title under %d characters.\n\n%s", m.opts.MaxChars, text)
	resp, err := m.service.Generate(ctx, textgen.Request{Prompt: prompt})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			m.observer.OnStageCompleted(StageTelemetry{titleStage, "skipped", "operation_canceled", nc.SessionID, nc.Trace, time.Since(start)})
			return
		}
		logger.WarnCF("narration", "session title update failed", map[string]any{
			"session_id": nc.SessionID,
			"trace_id":   nc.Trace.TraceID,
			"error":      err.Error(),
		})
		m.observer.OnStageCompleted(StageTelemetry{titleStage, "skipped", string(ClassProviderError), nc.SessionID, nc.Trace, time.Since(start)})
		return
	}

	title := strings.TrimSpace(resp.Text)
	if title == "" {
		m.observer.OnStageCompleted(StageTelemetry{titleStage, "skipped", "none", nc.SessionID, nc.Trace, time.Since(start)})
		return
	}
	if runes := []rune(title); len(runes) > m.opts.MaxChars {
		title = string(runes[:m.opts.MaxChars])
	}

	if err := m.directory.Rename(ctx, nc.SessionID, title, false); err != nil {
		m.observer.OnStageCompleted(StageTelemetry{titleStage, "skipped", string(ClassPersistenceError), nc.SessionID, nc.Trace, time.Since(start)})
		return
	}

	m.observer.OnStageCompleted(StageTelemetry{titleStage, "success", "none", nc.SessionID, nc.Trace, time.Since(start)})
}
