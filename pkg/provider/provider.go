// Package provider adapts hosted model APIs to the narration.Provider
// streaming interface.
package provider

import (
	"strings"

	"github.com/storyloom/storyloom/pkg/narration"
)

// promptParts is the provider-neutral shape of a narration context: one
// system prompt plus an alternating message transcript.
type promptParts struct {
	System   string
	Messages []message
}

type message struct {
	Role    string // "user" or "assistant"
	Content string
}

// buildPrompt folds the working context segments into provider messages.
// System and instruction segments merge into the system prompt, history
// segments become assistant turns, everything else speaks for the player.
// A context with no segments falls back to prior narration plus the prompt.
func buildPrompt(nc narration.Context) promptParts {
	segments := nc.WorkingSegments
	if len(segments) == 0 {
		segments = make([]narration.Segment, 0, len(nc.PriorNarration)+1)
		for _, line := range nc.PriorNarration {
			segments = append(segments, narration.Segment{Role: "history", Content: line})
		}
		if nc.PlayerPrompt != "" {
			segments = append(segments, narration.Segment{Role: "user", Content: nc.PlayerPrompt})
		}
	}

	var system []string
	var messages []message
	for _, seg := range segments {
		if strings.TrimSpace(seg.Content) == "" {
			continue
		}
		switch seg.Role {
		case "system", "instruction":
			system = append(system, seg.Content)
		case "history":
			messages = append(messages, message{Role: "assistant", Content: seg.Content})
		default:
			messages = append(messages, message{Role: "user", Content: seg.Content})
		}
	}

	if len(messages) == 0 {
		// Providers reject empty transcripts; give the narrator an
		// explicit continuation request instead.
		messages = append(messages, message{Role: "user", Content: "Continue the story."})
	}

	return promptParts{System: strings.Join(system, "\n\n"), Messages: messages}
}
