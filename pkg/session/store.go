// Package session persists narration sessions on disk: one JSON file per
// session context plus a catalog file for listing and titles.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/storyloom/storyloom/pkg/narration"
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

type contextFile struct {
	SessionID      string            `json:"session_id"`
	PlayerPrompt   string            `json:"player_prompt,omitempty"`
	PriorNarration []string          `json:"prior_narration"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

type catalogFile struct {
	Version  int                       `json:"version"`
	Sessions []narration.SessionRecord `json:"sessions"`
}

// FileStore implements narration.SessionStore and narration.SessionDirectory
// on a directory of JSON files. All writes go through a temp file and rename
// so a crash never leaves a truncated session on disk.
type FileStore struct {
	mu      sync.RWMutex
	dataDir string
}

func NewFileStore(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(dataDir, "sessions"), 0755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &FileStore{dataDir: dataDir}, nil
}

// Create registers a new session and returns its catalog record. An empty
// title gets the default; a caller-provided title is marked user-set.
func (s *FileStore) Create(ctx context.Context, title string) (narration.SessionRecord, error) {
	now := time.Now().UTC()
	record := narration.SessionRecord{
		SessionID:      uuid.NewString(),
		Title:          "Untitled Session",
		IsTitleUserSet: false,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if title != "" {
		record.Title = title
		record.IsTitleUserSet = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	catalog, err := s.loadCatalogLocked()
	if err != nil {
		return narration.SessionRecord{}, err
	}
	catalog.Sessions = append(catalog.Sessions, record)
	if err := s.saveCatalogLocked(catalog); err != nil {
		return narration.SessionRecord{}, err
	}

	empty := narration.Context{
		SessionID:      record.SessionID,
		PriorNarration: []string{},
		Metadata:       map[string]string{},
	}
	if err := s.saveContextLocked(empty); err != nil {
		return narration.SessionRecord{}, err
	}
	return record, nil
}

func (s *FileStore) Load(ctx context.Context, sessionID string) (narration.Context, error) {
	if !sessionIDPattern.MatchString(sessionID) {
		return narration.Context{}, fmt.Errorf("%w: invalid session id %q", narration.ErrSessionNotFound, sessionID)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.contextPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return narration.Context{}, fmt.Errorf("%w: %s", narration.ErrSessionNotFound, sessionID)
		}
		return narration.Context{}, fmt.Errorf("read session context: %w", err)
	}

	var cf contextFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return narration.Context{}, fmt.Errorf("decode session context: %w", err)
	}

	nc := narration.Context{
		SessionID:      cf.SessionID,
		PlayerPrompt:   cf.PlayerPrompt,
		PriorNarration: cf.PriorNarration,
		Metadata:       cf.Metadata,
	}
	if nc.PriorNarration == nil {
		nc.PriorNarration = []string{}
	}
	if nc.Metadata == nil {
		nc.Metadata = map[string]string{}
	}
	return nc, nil
}

func (s *FileStore) Save(ctx context.Context, nc narration.Context) error {
	if !sessionIDPattern.MatchString(nc.SessionID) {
		return fmt.Errorf("invalid session id %q", nc.SessionID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.saveContextLocked(nc); err != nil {
		return err
	}
	return s.touchLocked(nc.SessionID)
}

func (s *FileStore) Find(ctx context.Context, sessionID string) (narration.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	catalog, err := s.loadCatalogLocked()
	if err != nil {
		return narration.SessionRecord{}, err
	}
	for _, record := range catalog.Sessions {
		if record.SessionID == sessionID {
			return record, nil
		}
	}
	return narration.SessionRecord{}, fmt.Errorf("%w: %s", narration.ErrSessionNotFound, sessionID)
}

func (s *FileStore) List(ctx context.Context) ([]narration.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	catalog, err := s.loadCatalogLocked()
	if err != nil {
		return nil, err
	}
	records := append([]narration.SessionRecord{}, catalog.Sessions...)
	sort.Slice(records, func(i, j int) bool { return records[i].UpdatedAt.After(records[j].UpdatedAt) })
	return records, nil
}

func (s *FileStore) Rename(ctx context.Context, sessionID, title string, userSet bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	catalog, err := s.loadCatalogLocked()
	if err != nil {
		return err
	}
	for i, record := range catalog.Sessions {
		if record.SessionID != sessionID {
			continue
		}
		catalog.Sessions[i].Title = title
		catalog.Sessions[i].IsTitleUserSet = userSet
		catalog.Sessions[i].UpdatedAt = time.Now().UTC()
		return s.saveCatalogLocked(catalog)
	}
	return fmt.Errorf("%w: %s", narration.ErrSessionNotFound, sessionID)
}

func (s *FileStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	catalog, err := s.loadCatalogLocked()
	if err != nil {
		return err
	}
	kept := catalog.Sessions[:0]
	for _, record := range catalog.Sessions {
		if record.SessionID != sessionID {
			kept = append(kept, record)
		}
	}
	catalog.Sessions = kept
	if err := s.saveCatalogLocked(catalog); err != nil {
		return err
	}
	if err := os.Remove(s.contextPath(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session context: %w", err)
	}
	return nil
}

func (s *FileStore) contextPath(sessionID string) string {
	return filepath.Join(s.dataDir, "sessions", sessionID+".json")
}

func (s *FileStore) catalogPath() string {
	return filepath.Join(s.dataDir, "sessions.json")
}

func (s *FileStore) saveContextLocked(nc narration.Context) error {
	cf := contextFile{
		SessionID:      nc.SessionID,
		PlayerPrompt:   nc.PlayerPrompt,
		PriorNarration: nc.PriorNarration,
		Metadata:       nc.Metadata,
	}
	if cf.PriorNarration == nil {
		cf.PriorNarration = []string{}
	}
	data, err := json.MarshalIndent(cf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session context: %w", err)
	}
	return atomicWrite(s.contextPath(nc.SessionID), data)
}

func (s *FileStore) loadCatalogLocked() (catalogFile, error) {
	data, err := os.ReadFile(s.catalogPath())
	if err != nil {
		if os.IsNotExist(err) {
			return catalogFile{Version: 1}, nil
		}
		return catalogFile{}, fmt.Errorf("read session catalog: %w", err)
	}
	var catalog catalogFile
	if err := json.Unmarshal(data, &catalog); err != nil {
		return catalogFile{}, fmt.Errorf("decode session catalog: %w", err)
	}
	return catalog, nil
}

func (s *FileStore) saveCatalogLocked(catalog catalogFile) error {
	catalog.Version = 1
	data, err := json.MarshalIndent(catalog, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session catalog: %w", err)
	}
	return atomicWrite(s.catalogPath(), data)
}

func (s *FileStore) touchLocked(sessionID string) error {
	catalog, err := s.loadCatalogLocked()
	if err != nil {
		return err
	}
	for i, record := range catalog.Sessions {
		if record.SessionID == sessionID {
			catalog.Sessions[i].UpdatedAt = time.Now().UTC()
			return s.saveCatalogLocked(catalog)
		}
	}
	return nil
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace file: %w", err)
	}
	return nil
}
