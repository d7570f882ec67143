package narration

import (
	"time"

	"github.com/storyloom/storyloom/pkg/logger"
)

// StageTelemetry is one completed-stage event. Status is success, skipped,
// failure or canceled; ErrorClass is "none" unless the stage failed.
type StageTelemetry struct {
	Stage      string
	Status     string
	ErrorClass string
	SessionID  string
	Trace      Trace
	Elapsed    time.Duration
}

// Observer receives stage telemetry and classified errors as the chain runs.
type Observer interface {
	OnStageCompleted(t StageTelemetry)
	OnError(err *PipelineError)
	OnTokensStreamed(sessionID string, count int)
}

// NopObserver discards everything.
type NopObserver struct{}

func (NopObserver) OnStageCompleted(StageTelemetry) {}
func (NopObserver) OnError(*PipelineError)          {}
func (NopObserver) OnTokensStreamed(string, int)    {}

// LogObserver writes telemetry through the structured logger.
type LogObserver struct{}

func (LogObserver) OnStageCompleted(t StageTelemetry) {
	logger.InfoCF("narration", "stage completed", map[string]any{
		"stage":       t.Stage,
		"status":      t.Status,
		"error_class": t.ErrorClass,
		"session_id":  t.SessionID,
		"trace_id":    t.Trace.TraceID,
		"request_id":  t.Trace.RequestID,
		"elapsed_ms":  t.Elapsed.Milliseconds(),
	})
}

func (LogObserver) OnError(err *PipelineError) {
	logger.ErrorCF("narration", err.Message, map[string]any{
		"error_class": string(err.Class),
		"stage":       err.Stage,
		"session_id":  err.SessionID,
		"trace_id":    err.Trace.TraceID,
		"request_id":  err.Trace.RequestID,
	})
}

func (LogObserver) OnTokensStreamed(sessionID string, count int) {
	logger.DebugCF("narration", "tokens streamed", map[string]any{
		"session_id": sessionID,
		"count":      count,
	})
}
