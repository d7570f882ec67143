package storystate

import "testing"

func TestParseUpdatePlainJSON(t *testing.T) {
	raw := `{"summary": "The gates fall.", "charactersToUpsert": [{"id": "ava", "displayName": "Ava"}]}`
	u, ok := ParseUpdate(raw)
	if !ok {
		t.Fatal("expected parse to succeed")
	}
	if u.Summary == nil || *u.Summary != "The gates fall." {
		t.Fatalf("summary not parsed: %+v", u.Summary)
	}
	if len(u.CharactersToUpsert) != 1 || u.CharactersToUpsert[0].ID != "ava" {
		t.Fatalf("characters not parsed: %+v", u.CharactersToUpsert)
	}
}

func TestParseUpdateStripsCodeFence(t *testing.T) {
	raw := "```json\n{\"summary\": \"Fenced.\"}\n```"
	u, ok := ParseUpdate(raw)
	if !ok {
		t.Fatal("expected fenced JSON to parse")
	}
	if u.Summary == nil || *u.Summary != "Fenced." {
		t.Fatalf("unexpected update: %+v", u)
	}
}

func TestParseUpdateRejectsNonJSON(t *testing.T) {
	for _, raw := range []string{"", "I cannot answer that.", "```\nnope\n```"} {
		if _, ok := ParseUpdate(raw); ok {
			t.Fatalf("expected parse failure for %q", raw)
		}
	}
}

func TestParseUpdateRejectsUnknownOperation(t *testing.T) {
	raw := `{"inventoryUpdates": [{"operation": "increment", "item": {"id": "coin"}}]}`
	if _, ok := ParseUpdate(raw); ok {
		t.Fatal("expected unknown operation to be rejected")
	}
}
