package attachments

import (
	"context"

	"github.com/storyloom/storyloom/pkg/narration"
)

// Source adapts a Store to the narration chain's attachment lookup.
type Source struct {
	store *Store
}

func NewSource(store *Store) *Source {
	return &Source{store: store}
}

func (s *Source) ListBySession(ctx context.Context, sessionID string) ([]narration.ProcessedAttachment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records := s.store.ListBySession(sessionID)
	out := make([]narration.ProcessedAttachment, 0, len(records))
	for _, r := range records {
		out = append(out, narration.ProcessedAttachment{
			ID:             r.ID,
			FileName:       r.FileName,
			MIMEType:       r.MIMEType,
			NormalizedText: r.NormalizedText,
		})
	}
	return out, nil
}
