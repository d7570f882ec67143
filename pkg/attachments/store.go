// Package attachments stores processed player uploads: the normalized text
// extracted from a file, keyed by session, ready to be injected into
// narration context.
package attachments

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Processed struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	FileName       string    `json:"file_name"`
	MIMEType       string    `json:"mime_type,omitempty"`
	NormalizedText string    `json:"normalized_text"`
	SizeBytes      int64     `json:"size_bytes"`
	SHA256         string    `json:"sha256"`
	CreatedAt      time.Time `json:"created_at"`
}

type stateFile struct {
	Version int         `json:"version"`
	Records []Processed `json:"records"`
}

// Store is a file-backed processed attachment store. All mutations rewrite
// the state file atomically via a temp file and rename.
type Store struct {
	mu        sync.RWMutex
	statePath string
	records   map[string]Processed
}

func NewStore(dataDir string) *Store {
	statePath := filepath.Join(dataDir, "attachments.json")
	_ = os.MkdirAll(filepath.Dir(statePath), 0755)

	s := &Store{
		statePath: statePath,
		records:   map[string]Processed{},
	}
	_ = s.load()
	return s
}

// Put ingests normalized text for a session and returns the stored record.
func (s *Store) Put(sessionID, fileName, mimeType, normalizedText string) (Processed, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Processed{}, fmt.Errorf("session id is required")
	}

	sum := sha256.Sum256([]byte(normalizedText))
	rec := Processed{
		ID:             "att_" + uuid.NewString(),
		SessionID:      sessionID,
		FileName:       fileName,
		MIMEType:       mimeType,
		NormalizedText: normalizedText,
		SizeBytes:      int64(len(normalizedText)),
		SHA256:         hex.EncodeToString(sum[:]),
		CreatedAt:      time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	if err := s.saveLocked(); err != nil {
		delete(s.records, rec.ID)
		return Processed{}, err
	}
	return rec, nil
}

// PutFromFile ingests a local text file as a processed attachment.
func (s *Store) PutFromFile(sessionID, localPath string) (Processed, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return Processed{}, fmt.Errorf("read attachment file: %w", err)
	}
	return s.Put(sessionID, filepath.Base(localPath), "text/plain", string(data))
}

func (s *Store) GetByID(id string) (Processed, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r, ok
}

// ListBySession returns the session's attachments ordered by creation time.
func (s *Store) ListBySession(sessionID string) []Processed {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Processed
	for _, r := range s.records {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return fmt.Errorf("attachment not found: %s", id)
	}
	delete(s.records, id)
	return s.saveLocked()
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var st stateFile
	if err := json.Unmarshal(data, &st); err != nil {
		s.records = map[string]Processed{}
		return nil
	}
	out := make(map[string]Processed, len(st.Records))
	for _, r := range st.Records {
		out[r.ID] = r
	}
	s.records = out
	return nil
}

func (s *Store) saveLocked() error {
	records := make([]Processed, 0, len(s.records))
	for _, r := range s.records {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	st := stateFile{
		Version: 1,
		Records: records,
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal attachment store: %w", err)
	}
	tmp := s.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write attachment temp: %w", err)
	}
	if err := os.Rename(tmp, s.statePath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace attachment state: %w", err)
	}
	return nil
}
