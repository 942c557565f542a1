package cursor

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Cursor marks replay progress for one session: the last seq durably applied
// for a run. LastSeq only ever increases for a given RunID; a new RunID
// resets the position.
type Cursor struct {
	Type          string `json:"type"` // "cursor"
	SchemaVersion int    `json:"schemaVersion"`
	SessionID     string `json:"session_id"`
	RunID         string `json:"run_id"`
	LastSeq       int64  `json:"last_seq"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

// Store persists cursors across reconnects and reloads. Load returns
// (nil, nil) when no cursor exists yet; callers must treat a stale cursor as
// advisory and reconcile against the server's own last seq.
type Store interface {
	Load(sessionID string) (*Cursor, error)
	Save(c *Cursor) error
}

// FileStore keeps one JSON file per session under root.
type FileStore struct {
	root string
}

// DefaultRoot returns ~/.streamsync/cursors, creating it if needed.
func DefaultRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".streamsync", "cursors")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

func (s *FileStore) path(sessionID string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", errors.New("session id is required for cursor path")
	}
	return filepath.Join(s.root, sessionID+".json"), nil
}

// Load reads the cursor for a session. A missing file is not an error.
func (s *FileStore) Load(sessionID string) (*Cursor, error) {
	path, err := s.path(sessionID)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var c Cursor
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Save overwrites the session's cursor idempotently. Writes are monotonic per
// run: a save that would move LastSeq backwards for the same run is ignored.
func (s *FileStore) Save(c *Cursor) error {
	if c == nil {
		return errors.New("cursor is required")
	}
	path, err := s.path(c.SessionID)
	if err != nil {
		return err
	}
	if prev, err := s.Load(c.SessionID); err == nil && prev != nil {
		if prev.RunID == c.RunID && prev.LastSeq > c.LastSeq {
			return nil
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	c.Type = "cursor"
	c.SchemaVersion = 1
	c.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return os.WriteFile(path, b, 0o644)
}

// MemStore is an in-memory Store for tests and ephemeral sessions.
type MemStore struct {
	mu      sync.Mutex
	cursors map[string]*Cursor
}

func NewMemStore() *MemStore {
	return &MemStore{cursors: make(map[string]*Cursor)}
}

func (s *MemStore) Load(sessionID string) (*Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cursors[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *MemStore) Save(c *Cursor) error {
	if c == nil {
		return errors.New("cursor is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.cursors[c.SessionID]; ok {
		if prev.RunID == c.RunID && prev.LastSeq > c.LastSeq {
			return nil
		}
	}
	cp := *c
	s.cursors[c.SessionID] = &cp
	return nil
}
