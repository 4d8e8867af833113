package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/gofrs/flock"

	"github.com/hupe1980/reagent/core"
)

// ErrNotFound is returned by Load when no history exists for a key.
var ErrNotFound = errors.New("history not found")

// Store persists agent histories by key (usually the agent name).
type Store interface {
	Save(ctx context.Context, key string, msgs []core.Message) error
	Load(ctx context.Context, key string) ([]core.Message, error)
}

// InMemoryStore is a volatile Store keeping histories in a process local map.
// It is safe for concurrent access and best suited for tests. Stored slices
// are copied to prevent external mutation.
type InMemoryStore struct {
	mu        sync.RWMutex
	histories map[string][]core.Message
}

// NewInMemoryStore constructs an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{histories: make(map[string][]core.Message)}
}

// Save stores a copy of msgs under key.
func (s *InMemoryStore) Save(_ context.Context, key string, msgs []core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories[key] = cloneMessages(msgs)
	return nil
}

// Load returns a copy of the history stored under key.
func (s *InMemoryStore) Load(_ context.Context, key string) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs, ok := s.histories[key]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMessages(msgs), nil
}

// FileStore persists each history as a JSON file inside Dir. A sibling
// .lock file guards each history against concurrent processes.
type FileStore struct {
	Dir string
	mu  sync.Mutex
}

// NewFileStore creates a FileStore rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func (s *FileStore) path(key string) string {
	return filepath.Join(s.Dir, unsafeKeyChars.ReplaceAllString(key, "_")+".json")
}

// Save writes msgs to <Dir>/<key>.json, creating Dir if needed.
func (s *FileStore) Save(_ context.Context, key string, msgs []core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	b, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	fl := flock.New(s.path(key) + ".lock")
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("lock history: %w", err)
	}
	defer func() { _ = fl.Unlock() }()

	tmp := s.path(key) + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return os.Rename(tmp, s.path(key))
}

// Load reads <Dir>/<key>.json.
func (s *FileStore) Load(_ context.Context, key string) ([]core.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.read(key)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	var msgs []core.Message
	if err := json.Unmarshal(b, &msgs); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return msgs, nil
}

func (s *FileStore) read(key string) ([]byte, error) {
	if _, err := os.Stat(s.path(key)); err != nil {
		return nil, err
	}
	fl := flock.New(s.path(key) + ".lock")
	if err := fl.RLock(); err != nil {
		return nil, fmt.Errorf("lock history: %w", err)
	}
	defer func() { _ = fl.Unlock() }()
	return os.ReadFile(s.path(key))
}

func cloneMessages(msgs []core.Message) []core.Message {
	out := make([]core.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
