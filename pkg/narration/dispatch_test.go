package narration

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func dispatchContext() Context {
	return Context{
		SessionID:       "sess-1",
		PlayerPrompt:    "open the door",
		WorkingSegments: []Segment{},
		Trace:           NewTrace(),
	}
}

func TestDispatchStreamsTokensInOrder(t *testing.T) {
	provider := &scriptedProvider{tokens: []string{"The ", "door ", "creaks."}}
	mw := NewDispatchMiddleware(provider, DispatchOptions{}, &recordingObserver{})

	nc := dispatchContext()
	result, err := mw.Invoke(context.Background(), nc, FromContext(nc), passNext)
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	tokens := drain(result)
	if len(tokens) != 3 || tokens[0] != "The " || tokens[2] != "creaks." {
		t.Fatalf("unexpected tokens: %v", tokens)
	}

	final, err := result.Final.Await()
	if err != nil {
		t.Fatalf("final failed: %v", err)
	}
	if len(final.WorkingNarration) != 3 {
		t.Fatalf("working narration not captured: %v", final.WorkingNarration)
	}
}

func TestDispatchTimeoutClassifiesAsProviderTimeout(t *testing.T) {
	// The provider keeps emitting; nobody drains the capacity-one stream, so
	// it blocks until the independent timeout cancels the run.
	provider := &scriptedProvider{fn: func(ctx context.Context, nc Context, emit func(string) error) error {
		for {
			if err := emit("tok"); err != nil {
				return err
			}
		}
	}}
	mw := NewDispatchMiddleware(provider, DispatchOptions{Timeout: 20 * time.Millisecond}, &recordingObserver{})

	nc := dispatchContext()
	result, err := mw.Invoke(context.Background(), nc, FromContext(nc), passNext)
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	_, err = result.Final.Await()
	var perr *PipelineError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PipelineError, got %v", err)
	}
	if perr.Class != ClassProviderTimeout {
		t.Fatalf("expected provider_timeout, got %s", perr.Class)
	}
}

func TestDispatchCallerCancelWinsClassification(t *testing.T) {
	provider := &scriptedProvider{fn: func(ctx context.Context, nc Context, emit func(string) error) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	// A timeout is armed too; the caller cancels first and must win.
	mw := NewDispatchMiddleware(provider, DispatchOptions{Timeout: time.Minute}, &recordingObserver{})

	ctx, cancel := context.WithCancel(context.Background())
	nc := dispatchContext()
	result, err := mw.Invoke(ctx, nc, FromContext(nc), passNext)
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	cancel()
	_, err = result.Final.Await()
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected caller cancellation, got %v", err)
	}
	var perr *PipelineError
	if errors.As(err, &perr) {
		t.Fatalf("cancellation must not be wrapped as a pipeline error: %v", perr)
	}
}

func TestDispatchDecodeErrorClassification(t *testing.T) {
	provider := &scriptedProvider{err: fmt.Errorf("%w: bad frame", ErrDecode)}
	mw := NewDispatchMiddleware(provider, DispatchOptions{}, &recordingObserver{})

	nc := dispatchContext()
	result, err := mw.Invoke(context.Background(), nc, FromContext(nc), passNext)
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	drain(result)

	_, err = result.Final.Await()
	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Class != ClassDecodeError {
		t.Fatalf("expected decode_error, got %v", err)
	}
}

func TestDispatchGenericFailureClassification(t *testing.T) {
	observer := &recordingObserver{}
	provider := &scriptedProvider{err: errors.New("upstream 500")}
	mw := NewDispatchMiddleware(provider, DispatchOptions{}, observer)

	nc := dispatchContext()
	result, err := mw.Invoke(context.Background(), nc, FromContext(nc), passNext)
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	drain(result)

	_, err = result.Final.Await()
	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Class != ClassProviderError {
		t.Fatalf("expected provider_error, got %v", err)
	}
	if observer.stageStatus(dispatchStage) != "failure" {
		t.Fatalf("expected failure telemetry, got %q", observer.stageStatus(dispatchStage))
	}
}

func TestDispatchAppliesBackpressure(t *testing.T) {
	finished := make(chan struct{})
	provider := &scriptedProvider{fn: func(ctx context.Context, nc Context, emit func(string) error) error {
		defer close(finished)
		for i := 0; i < 5; i++ {
			if err := emit("tok"); err != nil {
				return err
			}
		}
		return nil
	}}
	mw := NewDispatchMiddleware(provider, DispatchOptions{}, &recordingObserver{})

	nc := dispatchContext()
	result, err := mw.Invoke(context.Background(), nc, FromContext(nc), passNext)
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	// With a capacity-one stream and no consumer, the provider cannot run
	// ahead; it must still be blocked on its second token.
	select {
	case <-finished:
		t.Fatal("provider finished without a consumer; no backpressure")
	case <-time.After(50 * time.Millisecond):
	}

	if got := drain(result); len(got) != 5 {
		t.Fatalf("expected 5 tokens after draining, got %d", len(got))
	}
	<-finished
}
