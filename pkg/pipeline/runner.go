package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// EmitFunc hands one chunk to the next stage. It blocks until the downstream
// stage accepts the chunk or the run is torn down, in which case it returns
// the run's cancellation error.
type EmitFunc func(Chunk) error

// Source produces the chunk stream. Stream must return promptly once emit
// reports an error; deferred cleanup inside Stream is guaranteed to run even
// when the sink stops consuming early.
type Source interface {
	OutputKind() ChunkKind
	Stream(ctx context.Context, emit EmitFunc) error
}

// Transform maps the incoming chunk sequence to an outgoing one. Transforms
// must not hold chunks across calls unless they are explicitly accumulating,
// and must flush any buffered data before returning at end of stream.
type Transform interface {
	InputKind() ChunkKind
	OutputKind() ChunkKind
	Run(ctx context.Context, in <-chan Chunk, emit EmitFunc) error
}

// Sink consumes the final chunk sequence and produces the run's result. A
// sink may return before the input channel is closed; the runner tears the
// upstream stages down in that case.
type Sink[T any] interface {
	InputKind() ChunkKind
	Consume(ctx context.Context, in <-chan Chunk) (T, error)
}

// Definition wires one run: a source, an ordered transform list, and a sink.
type Definition[T any] struct {
	Source     Source
	Transforms []Transform
	Sink       Sink[T]
}

// Run validates adjacent stage kind contracts, then streams chunks from the
// source through each transform in order into the sink. Stages are connected
// with unbuffered channels, so no stage runs more than one chunk ahead of
// its consumer. The outcome is terminal and produced exactly once.
func Run[T any](ctx context.Context, def Definition[T]) (Outcome, T) {
	var zero T

	if msg := validateKinds(def.Source, def.Transforms, def.Sink.InputKind()); msg != "" {
		return Failed(FailureTypeMismatch, msg), zero
	}

	stageCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	stageErrs := make([]error, len(def.Transforms)+1)

	in := make(chan Chunk)
	wg.Add(1)
	go func(out chan<- Chunk) {
		defer wg.Done()
		defer close(out)
		stageErrs[0] = runStage(func() error {
			return def.Source.Stream(stageCtx, emitter(stageCtx, out))
		})
	}(in)

	for i, tr := range def.Transforms {
		out := make(chan Chunk)
		wg.Add(1)
		go func(slot int, tr Transform, in <-chan Chunk, out chan<- Chunk) {
			defer wg.Done()
			defer close(out)
			stageErrs[slot] = runStage(func() error {
				return tr.Run(stageCtx, in, emitter(stageCtx, out))
			})
		}(i+1, tr, in, out)
		in = out
	}

	result, sinkErr := consumeSink(stageCtx, def.Sink, in)

	// Tear down upstream stages. When the sink stopped early this is what
	// unblocks pending emits so that source cleanup runs promptly.
	cancel()
	wg.Wait()

	if ctx.Err() != nil {
		// External (or sink-triggered) cancellation wins classification.
		return Canceled(), result
	}

	if outcome, ok := classifyError(sinkErr, true); ok {
		return outcome, result
	}
	for _, err := range stageErrs {
		if outcome, ok := classifyError(err, false); ok {
			return outcome, result
		}
	}

	return Completed(), result
}

func validateKinds(source Source, transforms []Transform, sinkKind ChunkKind) string {
	current := source.OutputKind()
	for _, tr := range transforms {
		if tr.InputKind() != current {
			return fmt.Sprintf("transform input kind mismatch: expected %q, got %q", current, tr.InputKind())
		}
		current = tr.OutputKind()
	}
	if sinkKind != current {
		return fmt.Sprintf("sink input kind mismatch: expected %q, got %q", current, sinkKind)
	}
	return ""
}

func emitter(ctx context.Context, out chan<- Chunk) EmitFunc {
	return func(c Chunk) error {
		select {
		case out <- c:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runStage converts stage panics into errors so a misbehaving stage cannot
// take down the whole process.
func runStage(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage panic: %v", r)
		}
	}()
	return fn()
}

func consumeSink[T any](ctx context.Context, sink Sink[T], in <-chan Chunk) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return sink.Consume(ctx, in)
}

// classifyError maps a stage error to an outcome. Cancellation errors from
// the run's own teardown are not failures and map to nothing here.
func classifyError(err error, fromSink bool) (Outcome, bool) {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Outcome{}, false
	}

	var blocked *BlockedError
	if errors.As(err, &blocked) {
		return Blocked(blocked.SafeMessage), true
	}

	var decode *DecodeError
	if errors.As(err, &decode) {
		return Failed(FailureDecode, decode.SafeMessage), true
	}

	var stage *StageError
	if errors.As(err, &stage) {
		return Failed(stage.Kind, stage.SafeMessage), true
	}

	kind := FailureUnknown
	origin := "stage"
	if fromSink {
		origin = "sink"
	}
	return Failed(kind, fmt.Sprintf("pipeline %s failed with unexpected error of type %T", origin, err)), true
}
