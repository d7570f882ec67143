package narration

import (
	"context"
	"sync"
)

// Future resolves to the final merged context of a run exactly once, no
// matter how many goroutines await it. Resolution is lazy: the underlying
// function runs on the first Await.
type Future struct {
	once sync.Once
	fn   func() (Context, error)
	nc   Context
	err  error
}

func NewFuture(fn func() (Context, error)) *Future {
	return &Future{fn: fn}
}

func ResolvedFuture(nc Context) *Future {
	return &Future{fn: func() (Context, error) { return nc, nil }}
}

// Await resolves the future, blocking until the final context is available.
func (f *Future) Await() (Context, error) {
	f.once.Do(func() {
		f.nc, f.err = f.fn()
	})
	return f.nc, f.err
}

// Result is what flows back out of the chain: the token stream the caller
// drains, and the future holding the final merged context. The stream always
// ends (close) even on failure; the failure itself surfaces from Final. The
// caller must either drain Stream to its close or cancel the run's context;
// a stream that is simply abandoned leaves the run's goroutines blocked on
// their next token hand-off.
type Result struct {
	Stream <-chan string
	Final  *Future
}

// FromContext builds an empty result around a context: a closed stream and
// an already-resolved future.
func FromContext(nc Context) Result {
	stream := make(chan string)
	close(stream)
	return Result{Stream: stream, Final: ResolvedFuture(nc)}
}

// Next invokes the remainder of the chain.
type Next func(ctx context.Context, nc Context, result Result) (Result, error)

// Middleware is one chain step. It may transform the context before calling
// next, wrap the result coming back, or both.
type Middleware func(ctx context.Context, nc Context, result Result, next Next) (Result, error)

// Service runs a fixed middleware chain over one turn.
type Service struct {
	chain Next
}

func NewService(middleware ...Middleware) *Service {
	next := Next(func(ctx context.Context, nc Context, result Result) (Result, error) {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		return result, nil
	})

	for i := len(middleware) - 1; i >= 0; i-- {
		mw := middleware[i]
		inner := next
		next = func(ctx context.Context, nc Context, result Result) (Result, error) {
			return mw(ctx, nc, result, inner)
		}
	}

	return &Service{chain: next}
}

// Run executes the chain for one request-shaped context.
func (s *Service) Run(ctx context.Context, nc Context) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return s.chain(ctx, nc, FromContext(nc))
}

// ContextFromRequest shapes an incoming request into the initial context.
func ContextFromRequest(req Request) Context {
	return Context{
		SessionID:       req.SessionID,
		PlayerPrompt:    req.PlayerPrompt,
		Metadata:        req.Metadata,
		WorkingSegments: []Segment{},
		Trace:           req.Trace,
	}
}
