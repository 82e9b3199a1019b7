package store

import (
	"context"
	"sort"
	"sync"

	"github.com/llmselect/llmselect-chat/pkg/models"
)

// MemoryPath is the log path that selects the in-memory store. Nothing is
// written to disk and sessions are lost on restart.
const MemoryPath = ":memory:"

// MemoryStore implements Store with an in-memory map.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*models.Session)}
}

// Open returns the store for path: MemoryPath selects the in-memory store,
// anything else the JSON log file at that path.
func Open(path string) (Store, error) {
	if path == MemoryPath {
		return NewMemoryStore(), nil
	}
	return NewJSONFileStore(path)
}

func (s *MemoryStore) Path() string { return MemoryPath }

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryStore) Close() error { return nil }

// ── Session Store ───────────────────────────────────────────

func (s *MemoryStore) ListSessions(ctx context.Context) ([]*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		result = append(result, sess.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *MemoryStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "session", Key: id}
	}
	return sess.Clone(), nil
}

func (s *MemoryStore) CreateSession(ctx context.Context, session *models.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return &ErrAlreadyExists{Entity: "session", Key: session.ID}
	}
	stored := session.Clone()
	stored.Normalize()
	s.sessions[session.ID] = stored
	return nil
}

// UpdateSession applies fn to a copy so that a failing fn leaves the stored
// session untouched.
func (s *MemoryStore) UpdateSession(ctx context.Context, id string, fn func(*models.Session) error) (*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "session", Key: id}
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.sessions[id] = next
	return next.Clone(), nil
}

func (s *MemoryStore) UpdateSessions(ctx context.Context, fn func(map[string]*models.Session) (bool, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	working := make(map[string]*models.Session, len(s.sessions))
	for id, sess := range s.sessions {
		working[id] = sess.Clone()
	}
	changed, err := fn(working)
	if err != nil || !changed {
		return err
	}
	s.sessions = working
	return nil
}
