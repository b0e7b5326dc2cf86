// Package client is the SDK the gallery's feed, upload, and streaming
// collaborators use to stay authenticated: it caches the credential
// pair, refreshes it with single-flight semantics, runs the browser
// login flow, and broadcasts session changes to in-process subscribers.
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/undownding/ai-gallery/api"
)

// Session is the durable projection of an authenticated session: the
// credential pair plus the cached user. Both halves live and die
// together.
type Session struct {
	TokenPair api.TokenPair `json:"token_pair"`
	User      *api.User     `json:"user,omitempty"`
}

// Store persists the session across client runs. Load returns (nil, nil)
// when no session is stored.
type Store interface {
	Load() (*Session, error)
	Save(*Session) error
	Clear() error
}

var (
	_ Store = (*FileStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

// FileStore keeps the session in a JSON file, created 0600.
type FileStore struct {
	path string
}

// NewFileStore constructs a store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load() (*Session, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	var session Session
	if err := json.Unmarshal(raw, &session); err != nil {
		// A corrupt file is equivalent to no session.
		return nil, nil
	}
	return &session, nil
}

func (s *FileStore) Save(session *Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create session dir: %w", err)
		}
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *FileStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// MemoryStore is a Store for tests and ephemeral processes.
type MemoryStore struct {
	mu      sync.Mutex
	session *Session
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, nil
	}
	copied := *s.session
	return &copied, nil
}

func (s *MemoryStore) Save(session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *session
	s.session = &copied
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = nil
	return nil
}
