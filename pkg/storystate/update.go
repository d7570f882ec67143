package storystate

import (
	"encoding/json"
	"strings"
)

type ItemOperation string

const (
	OpUpsert ItemOperation = "upsert"
	OpRemove ItemOperation = "remove"
)

type InventoryUpdate struct {
	Operation ItemOperation `json:"operation"`
	Item      InventoryItem `json:"item"`
}

// Update is the partial state change a tracking transform extracts from one
// narration chunk. Every section is optional.
type Update struct {
	Summary            *string           `json:"summary,omitempty"`
	CharactersToUpsert []Character       `json:"charactersToUpsert,omitempty"`
	InventoryUpdates   []InventoryUpdate `json:"inventoryUpdates,omitempty"`
}

// ParseUpdate parses a model-generated update. Model output is untrusted, so
// anything that does not parse as an update object reports false and the
// caller keeps its state untouched.
func ParseUpdate(raw string) (Update, bool) {
	raw = trimCodeFence(raw)
	if raw == "" {
		return Update{}, false
	}

	var u Update
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return Update{}, false
	}
	for _, iu := range u.InventoryUpdates {
		switch iu.Operation {
		case OpUpsert, OpRemove:
		default:
			return Update{}, false
		}
	}
	return u, true
}

// trimCodeFence strips a surrounding markdown fence that models often wrap
// JSON in, leaving other text untouched.
func trimCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
