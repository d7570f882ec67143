package narration

import (
	"context"
	"fmt"
	"sync"
)

// memStore is an in-memory SessionStore for chain tests.
type memStore struct {
	mu       sync.Mutex
	contexts map[string]Context
	saved    []Context
	loadErr  error
	saveErr  error
}

func newMemStore(contexts ...Context) *memStore {
	s := &memStore{contexts: map[string]Context{}}
	for _, nc := range contexts {
		s.contexts[nc.SessionID] = nc
	}
	return s
}

func (s *memStore) Load(ctx context.Context, sessionID string) (Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return Context{}, s.loadErr
	}
	nc, ok := s.contexts[sessionID]
	if !ok {
		return Context{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nc, nil
}

func (s *memStore) Save(ctx context.Context, nc Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, nc)
	s.contexts[nc.SessionID] = nc
	return nil
}

func (s *memStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func (s *memStore) lastSaved() Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved[len(s.saved)-1]
}

// recordingObserver captures telemetry for assertions.
type recordingObserver struct {
	mu     sync.Mutex
	stages []StageTelemetry
	errs   []*PipelineError
	tokens int
}

func (o *recordingObserver) OnStageCompleted(t StageTelemetry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stages = append(o.stages, t)
}

func (o *recordingObserver) OnError(err *PipelineError) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs = append(o.errs, err)
}

func (o *recordingObserver) OnTokensStreamed(sessionID string, count int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tokens += count
}

func (o *recordingObserver) stageStatus(stage string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.stages) - 1; i >= 0; i-- {
		if o.stages[i].Stage == stage {
			return o.stages[i].Status
		}
	}
	return ""
}

func (o *recordingObserver) stageIndex(stage string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.stages) - 1; i >= 0; i-- {
		if o.stages[i].Stage == stage {
			return i
		}
	}
	return -1
}

// scriptedProvider emits fixed tokens, then an optional error. A custom fn
// overrides the default behavior entirely.
type scriptedProvider struct {
	tokens []string
	err    error
	fn     func(ctx context.Context, nc Context, emit func(string) error) error

	mu   sync.Mutex
	seen []Context
}

func (p *scriptedProvider) Stream(ctx context.Context, nc Context, emit func(string) error) error {
	p.mu.Lock()
	p.seen = append(p.seen, nc)
	p.mu.Unlock()

	if p.fn != nil {
		return p.fn(ctx, nc, emit)
	}
	for _, tok := range p.tokens {
		if err := emit(tok); err != nil {
			return err
		}
	}
	return p.err
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}

func (p *scriptedProvider) lastContext() Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seen[len(p.seen)-1]
}

// passNext is the identity next step for direct middleware tests.
func passNext(ctx context.Context, nc Context, result Result) (Result, error) {
	return result, nil
}

// captureNext records the context it was invoked with.
type captureNext struct {
	called bool
	nc     Context
}

func (c *captureNext) next(ctx context.Context, nc Context, result Result) (Result, error) {
	c.called = true
	c.nc = nc
	return result, nil
}

func drain(result Result) []string {
	var out []string
	for tok := range result.Stream {
		out = append(out, tok)
	}
	return out
}
