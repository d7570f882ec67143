// Package storystate holds the versioned snapshot of narrative-derived
// entities (characters, inventory) and the confidence-weighted merge that
// folds tracker updates into it.
package storystate

import (
	"encoding/json"
	"strings"
)

// Provenance records which transform produced a fact and how sure it was.
// Confidence arbitrates merges: a lower-confidence update never overwrites a
// higher-confidence field.
type Provenance struct {
	TransformName string  `json:"transformName"`
	Confidence    float64 `json:"confidence"`
	SourceSnippet string  `json:"sourceSnippet,omitempty"`
	ChunkIndex    *int    `json:"chunkIndex,omitempty"`
}

type Relationship struct {
	OtherCharacterID string     `json:"otherCharacterId"`
	Relation         string     `json:"relation"`
	Provenance       Provenance `json:"provenance"`
}

// Character identity key is ID; everything else is merge-managed.
type Character struct {
	ID            string            `json:"id"`
	DisplayName   string            `json:"displayName"`
	Aliases       []string          `json:"aliases,omitempty"`
	Traits        map[string]string `json:"traits,omitempty"`
	Relationships []Relationship    `json:"relationships,omitempty"`
	LastSeen      string            `json:"lastSeen,omitempty"`
	Provenance    Provenance        `json:"provenance"`
}

type InventoryItem struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"displayName"`
	Quantity    *int       `json:"quantity,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	Provenance  Provenance `json:"provenance"`
}

type Inventory struct {
	Items      []InventoryItem `json:"items"`
	Provenance Provenance      `json:"provenance"`
}

func EmptyInventory(transformName string) Inventory {
	return Inventory{
		Items:      []InventoryItem{},
		Provenance: Provenance{TransformName: transformName, Confidence: 1.0},
	}
}

// State is the versioned story snapshot for one session. Version starts at 0
// for an empty state, increments by exactly one per applied update, and
// never decreases.
type State struct {
	SessionID   string      `json:"sessionId"`
	Version     int         `json:"version"`
	LastUpdated string      `json:"lastUpdated,omitempty"`
	Summary     string      `json:"summary,omitempty"`
	Characters  []Character `json:"characters"`
	Inventory   Inventory   `json:"inventory"`
}

func Empty(sessionID, transformName string) State {
	if strings.TrimSpace(sessionID) == "" {
		sessionID = "default"
	}
	return State{
		SessionID:  sessionID,
		Version:    0,
		Characters: []Character{},
		Inventory:  EmptyInventory(transformName),
	}
}

// Serialize produces the canonical JSON form of a state. encoding/json emits
// struct fields in declaration order and map keys sorted, so serializing an
// unchanged state reproduces identical bytes.
func Serialize(s State) string {
	data, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return string(data)
}

// TryDeserialize parses a serialized state, reporting false for anything it
// cannot parse rather than returning a partial value.
func TryDeserialize(raw string) (State, bool) {
	if strings.TrimSpace(raw) == "" {
		return State{}, false
	}
	var s State
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return State{}, false
	}
	return s, true
}
