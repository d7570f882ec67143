package narration

import (
	"context"
	"errors"
	"testing"
	"time"
)

func storedContext(sessionID string, prior ...string) Context {
	if prior == nil {
		prior = []string{}
	}
	return Context{
		SessionID:      sessionID,
		PriorNarration: prior,
		Metadata:       map[string]string{},
	}
}

func persistenceChain(store SessionStore, provider Provider, observer Observer, opts DispatchOptions) *Service {
	return NewService(
		NewPersistenceMiddleware(store, observer).Invoke,
		NewDispatchMiddleware(provider, opts, observer).Invoke,
	)
}

func TestPersistenceMissingSessionFailsFast(t *testing.T) {
	store := newMemStore()
	provider := &scriptedProvider{tokens: []string{"never"}}
	observer := &recordingObserver{}
	svc := persistenceChain(store, provider, observer, DispatchOptions{})

	_, err := svc.Run(context.Background(), ContextFromRequest(Request{SessionID: "ghost", PlayerPrompt: "hi", Trace: NewTrace()}))

	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Class != ClassMissingSession {
		t.Fatalf("expected missing_session, got %v", err)
	}
	if provider.calls() != 0 {
		t.Fatal("provider must not run for a missing session")
	}
	if store.saveCount() != 0 {
		t.Fatal("nothing may be saved for a missing session")
	}
	if observer.stageStatus(loadStage) != "failure" {
		t.Fatalf("expected load failure telemetry, got %q", observer.stageStatus(loadStage))
	}
}

func TestPersistenceLoadFailureIsPersistenceError(t *testing.T) {
	store := newMemStore()
	store.loadErr = errors.New("disk offline")
	svc := persistenceChain(store, &scriptedProvider{}, &recordingObserver{}, DispatchOptions{})

	_, err := svc.Run(context.Background(), ContextFromRequest(Request{SessionID: "sess-1", Trace: NewTrace()}))
	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Class != ClassPersistenceError {
		t.Fatalf("expected persistence_error, got %v", err)
	}
}

func TestPersistenceSavesOnlyAfterFullDrain(t *testing.T) {
	store := newMemStore(storedContext("sess-1", "Once. "))
	provider := &scriptedProvider{tokens: []string{"New ", "words ", "arrive."}}
	observer := &recordingObserver{}
	svc := persistenceChain(store, provider, observer, DispatchOptions{})

	result, err := svc.Run(context.Background(), ContextFromRequest(Request{SessionID: "sess-1", PlayerPrompt: "go on", Trace: NewTrace()}))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	// Three tokens on a capacity-one stream cannot have finished pumping,
	// so nothing can be persisted yet.
	time.Sleep(20 * time.Millisecond)
	if store.saveCount() != 0 {
		t.Fatal("saved before the stream was drained")
	}

	tokens := drain(result)
	if len(tokens) != 3 {
		t.Fatalf("expected 3 tokens, got %v", tokens)
	}

	final, err := result.Final.Await()
	if err != nil {
		t.Fatalf("final failed: %v", err)
	}
	if store.saveCount() != 1 {
		t.Fatalf("expected exactly one save, got %d", store.saveCount())
	}

	saved := store.lastSaved()
	want := []string{"Once. ", "New ", "words ", "arrive."}
	if len(saved.PriorNarration) != len(want) {
		t.Fatalf("unexpected persisted history: %v", saved.PriorNarration)
	}
	for i, line := range want {
		if saved.PriorNarration[i] != line {
			t.Fatalf("history mismatch at %d: %q", i, saved.PriorNarration[i])
		}
	}
	if len(saved.WorkingNarration) != 0 || len(saved.WorkingSegments) != 0 {
		t.Fatalf("working state must be cleared before save: %+v", saved)
	}
	if len(final.WorkingNarration) != 0 {
		t.Fatalf("final context must be the persisted one: %+v", final)
	}
	if observer.stageStatus(persistStage) != "success" {
		t.Fatalf("expected persist success telemetry, got %q", observer.stageStatus(persistStage))
	}
}

func TestPersistenceSkipsSaveOnProviderFailure(t *testing.T) {
	store := newMemStore(storedContext("sess-1"))
	provider := &scriptedProvider{tokens: []string{"partial "}, err: errors.New("upstream 500")}
	observer := &recordingObserver{}
	svc := persistenceChain(store, provider, observer, DispatchOptions{})

	result, err := svc.Run(context.Background(), ContextFromRequest(Request{SessionID: "sess-1", Trace: NewTrace()}))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	drain(result)

	_, err = result.Final.Await()
	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Class != ClassProviderError {
		t.Fatalf("expected provider_error, got %v", err)
	}
	if store.saveCount() != 0 {
		t.Fatal("failed turn must not be persisted")
	}
	if observer.stageStatus(persistStage) != "skipped" {
		t.Fatalf("expected persist skip telemetry, got %q", observer.stageStatus(persistStage))
	}
}

func TestPersistenceCancelMidStreamSkipsSave(t *testing.T) {
	store := newMemStore(storedContext("sess-1"))
	provider := &scriptedProvider{fn: func(ctx context.Context, nc Context, emit func(string) error) error {
		for {
			if err := emit("tok "); err != nil {
				return err
			}
		}
	}}
	observer := &recordingObserver{}
	svc := persistenceChain(store, provider, observer, DispatchOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	result, err := svc.Run(ctx, ContextFromRequest(Request{SessionID: "sess-1", Trace: NewTrace()}))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	<-result.Stream
	<-result.Stream
	cancel()
	drain(result)

	_, err = result.Final.Await()
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if store.saveCount() != 0 {
		t.Fatal("canceled turn must not be persisted")
	}
	if observer.stageStatus(dispatchStage) != "canceled" {
		t.Fatalf("expected dispatch canceled telemetry, got %q", observer.stageStatus(dispatchStage))
	}
	if observer.stageStatus(persistStage) != "canceled" {
		t.Fatalf("expected persist canceled telemetry, got %q", observer.stageStatus(persistStage))
	}
	if observer.stageIndex(dispatchStage) > observer.stageIndex(persistStage) {
		t.Fatal("dispatch telemetry must come before persistence telemetry")
	}
}

func TestPersistenceSaveFailureSurfaces(t *testing.T) {
	store := newMemStore(storedContext("sess-1"))
	store.saveErr = errors.New("disk full")
	svc := persistenceChain(store, &scriptedProvider{tokens: []string{"x"}}, &recordingObserver{}, DispatchOptions{})

	result, err := svc.Run(context.Background(), ContextFromRequest(Request{SessionID: "sess-1", Trace: NewTrace()}))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	drain(result)

	_, err = result.Final.Await()
	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Class != ClassPersistenceError {
		t.Fatalf("expected persistence_error, got %v", err)
	}
}

func TestPersistenceResetsWorkingStateAndMergesMetadata(t *testing.T) {
	stored := storedContext("sess-1", "old line")
	stored.Metadata = map[string]string{"tone": "dark", "system_prompt_profile_id": "stale"}
	stored.WorkingNarration = []string{"leftover"}
	store := newMemStore(stored)
	provider := &scriptedProvider{tokens: []string{"new"}}
	svc := persistenceChain(store, provider, &recordingObserver{}, DispatchOptions{})

	req := Request{
		SessionID:    "sess-1",
		PlayerPrompt: "continue",
		Metadata:     map[string]string{"pace": "fast"},
		Trace:        NewTrace(),
	}
	result, err := svc.Run(context.Background(), ContextFromRequest(req))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	drain(result)
	if _, err := result.Final.Await(); err != nil {
		t.Fatalf("final failed: %v", err)
	}

	seen := provider.lastContext()
	if seen.PlayerPrompt != "continue" {
		t.Fatalf("player prompt not threaded, got %q", seen.PlayerPrompt)
	}
	if len(seen.WorkingNarration) != 0 {
		t.Fatalf("stale working narration survived load: %v", seen.WorkingNarration)
	}
	if seen.Metadata["tone"] != "dark" || seen.Metadata["pace"] != "fast" {
		t.Fatalf("metadata not merged: %v", seen.Metadata)
	}
	if _, ok := seen.Metadata["system_prompt_profile_id"]; ok {
		t.Fatal("stale ephemeral metadata survived load")
	}

	saved := store.lastSaved()
	if _, ok := saved.Metadata["system_prompt_profile_id"]; ok {
		t.Fatal("ephemeral metadata persisted")
	}
	if saved.Metadata["tone"] != "dark" || saved.Metadata["pace"] != "fast" {
		t.Fatalf("durable metadata lost: %v", saved.Metadata)
	}
}
