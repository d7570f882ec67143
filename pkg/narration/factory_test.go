package narration

import (
	"context"
	"testing"
)

func TestFactoryRequiresSessionID(t *testing.T) {
	f := Factory{}
	if _, err := f.Create(BuildRequest{}); err == nil {
		t.Fatal("expected error for empty session id")
	}
}

func TestFullChainTurn(t *testing.T) {
	stored := storedContext("sess-1", "The village sleeps. ")
	store := newMemStore(stored)
	directory := newStubDirectory(SessionRecord{SessionID: "sess-1", Title: "Untitled Session"})
	provider := &scriptedProvider{tokens: []string{"A bell ", "tolls."}}
	attachments := &stubAttachmentSource{attachments: []ProcessedAttachment{
		{ID: "att_1", FileName: "map.txt", NormalizedText: "a worn map"},
	}}
	observer := &recordingObserver{}

	factory := Factory{
		Sessions:     store,
		Directory:    directory,
		Profiles:     StaticProfileResolver{Profile: testProfile()},
		Provider:     provider,
		Attachments:  attachments,
		TitleService: &stubTextgen{text: "The Bell Tolls"},
	}
	svc, err := factory.Create(BuildRequest{SessionID: "sess-1", AttachmentIDs: []string{"att_1"}, Observer: observer})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	result, err := svc.Run(context.Background(), ContextFromRequest(Request{
		SessionID:    "sess-1",
		PlayerPrompt: "listen",
		Trace:        NewTrace(),
	}))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	tokens := drain(result)
	if len(tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %v", tokens)
	}
	final, err := result.Final.Await()
	if err != nil {
		t.Fatalf("final failed: %v", err)
	}

	// Provider saw the fully prepared context: guardian first, then the
	// system prompt block, then the attachment appended last.
	seen := provider.lastContext()
	if len(seen.WorkingSegments) == 0 || seen.WorkingSegments[0].Source != guardianSource {
		t.Fatalf("guardian not first: %+v", seen.WorkingSegments)
	}
	foundPrompt, foundAttachment := false, false
	for _, seg := range seen.WorkingSegments {
		if seg.Source == systemPromptSource && seg.Role == "system" {
			foundPrompt = true
		}
		if seg.Source == attachmentStage {
			foundAttachment = true
		}
	}
	if !foundPrompt || !foundAttachment {
		t.Fatalf("expected system prompt and attachment segments: %+v", seen.WorkingSegments)
	}
	if seen.WorkingSegments[len(seen.WorkingSegments)-1].Source != attachmentStage {
		t.Fatalf("attachment must come last: %+v", seen.WorkingSegments)
	}

	// Durable outcome: history merged, ephemeral metadata stripped, title set.
	if store.saveCount() != 1 {
		t.Fatalf("expected one save, got %d", store.saveCount())
	}
	saved := store.lastSaved()
	if len(saved.PriorNarration) != 3 {
		t.Fatalf("history not merged: %v", saved.PriorNarration)
	}
	for k := range saved.Metadata {
		if k == "system_prompt_profile_id" || k == metaKeyGuardian {
			t.Fatalf("ephemeral metadata persisted: %v", saved.Metadata)
		}
	}
	record, _ := directory.Find(context.Background(), "sess-1")
	if record.Title != "The Bell Tolls" {
		t.Fatalf("title not updated: %q", record.Title)
	}
	if len(final.PriorNarration) != 3 {
		t.Fatalf("final context missing merged history: %v", final.PriorNarration)
	}
}

func TestFactoryGuardianCanBeDisabled(t *testing.T) {
	store := newMemStore(storedContext("sess-1"))
	provider := &scriptedProvider{tokens: []string{"x"}}

	factory := Factory{
		Sessions:        store,
		Profiles:        StaticProfileResolver{Profile: testProfile()},
		Provider:        provider,
		Attachments:     &stubAttachmentSource{},
		DisableGuardian: true,
	}
	svc, err := factory.Create(BuildRequest{SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	result, err := svc.Run(context.Background(), ContextFromRequest(Request{SessionID: "sess-1", Trace: NewTrace()}))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	drain(result)
	if _, err := result.Final.Await(); err != nil {
		t.Fatalf("final failed: %v", err)
	}

	for _, seg := range provider.lastContext().WorkingSegments {
		if seg.Source == guardianSource {
			t.Fatalf("guardian segment present despite being disabled: %+v", seg)
		}
	}
}
