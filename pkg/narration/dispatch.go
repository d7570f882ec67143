package narration

import (
	"context"
	"errors"
	"time"

	"github.com/storyloom/storyloom/pkg/logger"
)

const dispatchStage = "provider_dispatch"

// Provider streams narration tokens for a prepared context. Implementations
// push each token through emit and return when the stream ends; a decode
// failure in the provider payload is reported wrapped with ErrDecode.
type Provider interface {
	Stream(ctx context.Context, nc Context, emit func(token string) error) error
}

// DispatchOptions tunes the provider call. A zero Timeout disables the
// independent provider timeout.
type DispatchOptions struct {
	Timeout time.Duration
}

var errProviderTimeout = errors.New("narration: provider timeout elapsed")

// DispatchMiddleware runs the provider. Tokens flow through a channel of
// capacity one, so the provider never runs more than one token ahead of the
// consumer. The provider call races two clocks: the caller's context and an
// independent timeout. When both fire, the caller's cancellation wins
// classification; the timeout alone surfaces as provider_timeout.
type DispatchMiddleware struct {
	provider Provider
	opts     DispatchOptions
	observer Observer
}

func NewDispatchMiddleware(provider Provider, opts DispatchOptions, observer Observer) *DispatchMiddleware {
	if observer == nil {
		observer = NopObserver{}
	}
	return &DispatchMiddleware{provider: provider, opts: opts, observer: observer}
}

func (m *DispatchMiddleware) Invoke(ctx context.Context, nc Context, result Result, next Next) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	tokens := make(chan string, 1)
	runCtx, cancelRun := context.WithCancelCause(ctx)

	var timer *time.Timer
	if m.opts.Timeout > 0 {
		timer = time.AfterFunc(m.opts.Timeout, func() {
			cancelRun(errProviderTimeout)
		})
	}

	type pumpResult struct {
		nc  Context
		err error
	}
	done := make(chan pumpResult, 1)

	go func() {
		final, err := m.pump(ctx, runCtx, nc, tokens)
		if timer != nil {
			timer.Stop()
		}
		cancelRun(nil)
		close(tokens)
		done <- pumpResult{nc: final, err: err}
	}()

	final := NewFuture(func() (Context, error) {
		r := <-done
		return r.nc, r.err
	})

	return next(ctx, nc, Result{Stream: tokens, Final: final})
}

func (m *DispatchMiddleware) pump(callerCtx, runCtx context.Context, nc Context, tokens chan<- string) (Context, error) {
	start := time.Now()
	var collected []string

	logger.InfoCF("narration", "provider dispatch start", map[string]any{
		"session_id": nc.SessionID,
		"trace_id":   nc.Trace.TraceID,
		"request_id": nc.Trace.RequestID,
	})

	err := m.provider.Stream(runCtx, nc, func(token string) error {
		select {
		case tokens <- token:
			collected = append(collected, token)
			m.observer.OnTokensStreamed(nc.SessionID, 1)
			return nil
		case <-runCtx.Done():
			return runCtx.Err()
		}
	})

	if err == nil && runCtx.Err() != nil {
		err = runCtx.Err()
	}

	if err == nil {
		m.observer.OnStageCompleted(StageTelemetry{dispatchStage, "success", "none", nc.SessionID, nc.Trace, time.Since(start)})
		final := nc
		final.WorkingNarration = collected
		return final, nil
	}

	// Classification order: the caller's cancellation always wins, then
	// the independent timeout, then payload decode failures, and finally
	// generic provider errors.
	if callerCtx.Err() != nil {
		m.observer.OnStageCompleted(StageTelemetry{dispatchStage, "canceled", "operation_canceled", nc.SessionID, nc.Trace, time.Since(start)})
		return Context{}, callerCtx.Err()
	}

	var perr *PipelineError
	switch {
	case errors.Is(context.Cause(runCtx), errProviderTimeout):
		perr = &PipelineError{Class: ClassProviderTimeout, Message: "provider call timed out", SessionID: nc.SessionID, Trace: nc.Trace, Stage: dispatchStage, Err: err}
	case errors.Is(err, ErrDecode):
		perr = &PipelineError{Class: ClassDecodeError, Message: "unable to decode provider response", SessionID: nc.SessionID, Trace: nc.Trace, Stage: dispatchStage, Err: err}
	default:
		perr = &PipelineError{Class: ClassProviderError, Message: "provider call failed", SessionID: nc.SessionID, Trace: nc.Trace, Stage: dispatchStage, Err: err}
	}

	m.observer.OnError(perr)
	m.observer.OnStageCompleted(StageTelemetry{dispatchStage, "failure", string(perr.Class), nc.SessionID, nc.Trace, time.Since(start)})
	return Context{}, perr
}
