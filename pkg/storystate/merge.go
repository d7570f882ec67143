package storystate

import (
	"reflect"
	"sort"
	"time"
)

// ApplyUpdate folds a parsed update into the current state. It is pure: the
// input state is never mutated. Version increments by exactly one when at
// least one field actually changed; an update that changes nothing returns
// the current state untouched, same version and timestamp included.
func ApplyUpdate(current State, update Update, transformName string, now time.Time) State {
	changed := false

	summary := current.Summary
	if update.Summary != nil && *update.Summary != "" && *update.Summary != current.Summary {
		summary = *update.Summary
		changed = true
	}

	characters, charsChanged := mergeCharacters(current.Characters, update.CharactersToUpsert)
	inventory, invChanged := mergeInventory(current.Inventory, update.InventoryUpdates, transformName)

	if !changed && !charsChanged && !invChanged {
		return current
	}

	next := current
	next.Version = current.Version + 1
	next.LastUpdated = now.UTC().Format(time.RFC3339Nano)
	next.Summary = summary
	next.Characters = characters
	next.Inventory = inventory
	return next
}

func mergeCharacters(current, updates []Character) ([]Character, bool) {
	if len(updates) == 0 {
		return current, false
	}

	byID := make(map[string]Character, len(current)+len(updates))
	for _, existing := range current {
		byID[existing.ID] = existing
	}

	changed := false
	for _, incoming := range updates {
		existing, ok := byID[incoming.ID]
		if !ok {
			// Unseen id: always inserted, there is nothing to protect.
			byID[incoming.ID] = incoming
			changed = true
			continue
		}
		merged := mergeCharacter(existing, incoming)
		if !reflect.DeepEqual(existing, merged) {
			byID[incoming.ID] = merged
			changed = true
		}
	}

	if !changed {
		return current, false
	}

	out := make([]Character, 0, len(byID))
	for _, c := range byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, true
}

// mergeCharacter applies the confidence gate field by field. A lower
// confidence update never overwrites stored scalar fields but may still
// introduce traits, aliases and relationships the record does not have yet.
func mergeCharacter(existing, incoming Character) Character {
	merged := existing
	merged.Aliases = unionStrings(existing.Aliases, incoming.Aliases)
	merged.Relationships = unionRelationships(existing.Relationships, incoming.Relationships)

	if incoming.Provenance.Confidence < existing.Provenance.Confidence {
		merged.Traits = mergeTraits(existing.Traits, incoming.Traits, false)
		return merged
	}

	if incoming.DisplayName != "" {
		merged.DisplayName = incoming.DisplayName
	}
	merged.Traits = mergeTraits(existing.Traits, incoming.Traits, true)
	if incoming.LastSeen != "" {
		merged.LastSeen = incoming.LastSeen
	}
	merged.Provenance = incoming.Provenance
	return merged
}

func mergeInventory(current Inventory, updates []InventoryUpdate, transformName string) (Inventory, bool) {
	if len(updates) == 0 {
		return current, false
	}

	byID := make(map[string]InventoryItem, len(current.Items)+len(updates))
	for _, existing := range current.Items {
		byID[existing.ID] = existing
	}

	changed := false
	for _, update := range updates {
		item := update.Item
		if update.Operation == OpRemove {
			if _, ok := byID[item.ID]; ok {
				delete(byID, item.ID)
				changed = true
			}
			continue
		}
		// Upserts replace wholesale. Inventory changes are atomic and
		// higher trust than incremental character edits, so there is no
		// confidence gate here.
		if existing, ok := byID[item.ID]; !ok || !reflect.DeepEqual(existing, item) {
			byID[item.ID] = item
			changed = true
		}
	}

	if !changed {
		return current, false
	}

	items := make([]InventoryItem, 0, len(byID))
	for _, item := range byID {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	return Inventory{
		Items:      items,
		Provenance: Provenance{TransformName: transformName, Confidence: 1.0},
	}, true
}

func mergeTraits(existing, incoming map[string]string, overwrite bool) map[string]string {
	if len(incoming) == 0 {
		return existing
	}
	if len(existing) == 0 {
		return incoming
	}

	merged := make(map[string]string, len(existing)+len(incoming))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range incoming {
		if overwrite {
			merged[k] = v
			continue
		}
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return merged
}

func unionStrings(existing, incoming []string) []string {
	if len(incoming) == 0 {
		return existing
	}
	if len(existing) == 0 {
		return incoming
	}

	seen := make(map[string]struct{}, len(existing))
	merged := append([]string(nil), existing...)
	for _, v := range existing {
		seen[v] = struct{}{}
	}
	for _, v := range incoming {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		merged = append(merged, v)
	}
	if len(merged) == len(existing) {
		return existing
	}
	return merged
}

func unionRelationships(existing, incoming []Relationship) []Relationship {
	if len(incoming) == 0 {
		return existing
	}
	if len(existing) == 0 {
		return incoming
	}

	type relKey struct {
		other    string
		relation string
	}
	seen := make(map[relKey]struct{}, len(existing))
	merged := append([]Relationship(nil), existing...)
	for _, r := range existing {
		seen[relKey{r.OtherCharacterID, r.Relation}] = struct{}{}
	}
	for _, r := range incoming {
		key := relKey{r.OtherCharacterID, r.Relation}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, r)
	}
	if len(merged) == len(existing) {
		return existing
	}
	return merged
}
