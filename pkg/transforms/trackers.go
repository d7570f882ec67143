package transforms

import (
	"strings"
	"time"

	"github.com/storyloom/storyloom/pkg/pipeline"
	"github.com/storyloom/storyloom/pkg/storystate"
	"github.com/storyloom/storyloom/pkg/textgen"
)

const (
	summaryName   = "story_summary"
	characterName = "character_tracker"
	inventoryName = "inventory_tracker"
)

// NewSummaryTransform maintains a rolling story summary. The model returns
// plain text, which is applied as an unconditional summary replacement.
func NewSummaryTransform(service textgen.Service, clock Clock) pipeline.Transform {
	if clock == nil {
		clock = time.Now
	}
	return &trackerTransform{
		name:    summaryName,
		service: service,
		prompt: func(state storystate.State, narration string) string {
			return buildSummaryPrompt(state.Summary, narration)
		},
		apply: func(current storystate.State, generated string, _ pipeline.Metadata) storystate.State {
			summary := strings.TrimSpace(generated)
			if summary == "" {
				return current
			}
			update := storystate.Update{Summary: &summary}
			return storystate.ApplyUpdate(current, update, summaryName, clock())
		},
	}
}

// NewCharacterTransform extracts character upserts as a JSON update.
func NewCharacterTransform(service textgen.Service, clock Clock) pipeline.Transform {
	if clock == nil {
		clock = time.Now
	}
	return &trackerTransform{
		name:    characterName,
		service: service,
		prompt: func(state storystate.State, narration string) string {
			return buildCharacterPrompt(state.Summary, narration)
		},
		apply: func(current storystate.State, generated string, meta pipeline.Metadata) storystate.State {
			return applyParsedUpdate(current, generated, characterName, meta, clock)
		},
	}
}

// NewInventoryTransform extracts inventory upserts and removals as a JSON
// update.
func NewInventoryTransform(service textgen.Service, clock Clock) pipeline.Transform {
	if clock == nil {
		clock = time.Now
	}
	return &trackerTransform{
		name:    inventoryName,
		service: service,
		prompt: func(state storystate.State, narration string) string {
			return buildInventoryPrompt(state.Summary, narration)
		},
		apply: func(current storystate.State, generated string, meta pipeline.Metadata) storystate.State {
			return applyParsedUpdate(current, generated, inventoryName, meta, clock)
		},
	}
}
