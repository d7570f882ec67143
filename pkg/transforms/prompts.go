package transforms

import "fmt"

const (
	rewriteInstructions = "You are a rewriting assistant for a narrated interactive story. " +
		"Rewrite the input narration to be grammatically correct and narration-ready while preserving meaning. " +
		"Make minimal changes when the text is already good. " +
		"Return ONLY the rewritten narration text, with no additional commentary."

	summaryInstructions = "You are a story summarizer. Given the prior summary (may be empty) and new narration text, " +
		"produce an updated rolling summary that preserves important prior context and adds new key events. " +
		"Return ONLY the updated summary text."

	characterInstructions = "You extract and update a structured character roster from story narration. " +
		"Return ONLY valid JSON matching the requested schema. Do not invent characters or facts; " +
		"if uncertain, set confidence low and include a supporting sourceSnippet."

	inventoryInstructions = "You extract and update the player's inventory from story narration. " +
		"Return ONLY valid JSON matching the requested schema. Do not invent items; " +
		"if uncertain, set confidence low and include a supporting sourceSnippet."
)

func buildRewritePrompt(narration string) string {
	if narration == "" {
		return rewriteInstructions
	}
	return fmt.Sprintf("%s\n\nINPUT NARRATION:\n\n\"\"\"\n%s\n\"\"\"\n", rewriteInstructions, narration)
}

func buildSummaryPrompt(priorSummary, narration string) string {
	return fmt.Sprintf("%s\n\nPRIOR SUMMARY:\n\n\"\"\"\n%s\n\"\"\"\n\nNEW NARRATION:\n\n\"\"\"\n%s\n\"\"\"\n",
		summaryInstructions, priorSummary, narration)
}

func buildCharacterPrompt(summary, narration string) string {
	return fmt.Sprintf("%s\n\nOUTPUT JSON SHAPE:\n{\n  \"charactersToUpsert\": [ /* Character[] */ ],\n  \"inventoryUpdates\": null,\n  \"summary\": null\n}\n\nCURRENT SUMMARY:\n\n\"\"\"\n%s\n\"\"\"\n\nNARRATION:\n\n\"\"\"\n%s\n\"\"\"\n",
		characterInstructions, summary, narration)
}

func buildInventoryPrompt(summary, narration string) string {
	return fmt.Sprintf("%s\n\nOUTPUT JSON SHAPE:\n{\n  \"charactersToUpsert\": null,\n  \"inventoryUpdates\": [ /* InventoryUpdate[] */ ],\n  \"summary\": null\n}\n\nCURRENT SUMMARY:\n\n\"\"\"\n%s\n\"\"\"\n\nNARRATION:\n\n\"\"\"\n%s\n\"\"\"\n",
		inventoryInstructions, summary, narration)
}
