package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/llmselect/llmselect-chat/pkg/models"
)

// JSONFileStore implements Store on top of a single JSON log file.
type JSONFileStore struct {
	path string

	// mu serializes read-modify-write cycles. Readers take the read lock so
	// they never observe a document between load and rename.
	mu sync.RWMutex
}

// NewJSONFileStore opens the log at path. The file is created lazily on the
// first write; an existing file must parse.
func NewJSONFileStore(path string) (*JSONFileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("store: log file path is empty")
	}
	s := &JSONFileStore{path: path}

	doc, err := s.load()
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("path", path).
		Int("sessions", len(doc.Sessions)).
		Msg("JSON log store opened")
	return s, nil
}

func (s *JSONFileStore) Path() string { return s.path }

func (s *JSONFileStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err := s.load()
	return err
}

// Close is a no-op; every write is flushed before the mutating call returns.
func (s *JSONFileStore) Close() error { return nil }

// ── Session Store ───────────────────────────────────────────

func (s *JSONFileStore) ListSessions(ctx context.Context) ([]*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	doc, err := s.load()
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	result := make([]*models.Session, 0, len(doc.Sessions))
	for _, sess := range doc.Sessions {
		result = append(result, sess)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *JSONFileStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	doc, err := s.load()
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	sess, ok := doc.Sessions[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "session", Key: id}
	}
	return sess, nil
}

func (s *JSONFileStore) CreateSession(ctx context.Context, session *models.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if _, exists := doc.Sessions[session.ID]; exists {
		return &ErrAlreadyExists{Entity: "session", Key: session.ID}
	}

	stored := session.Clone()
	stored.Normalize()
	doc.Sessions[session.ID] = stored
	return s.save(doc)
}

func (s *JSONFileStore) UpdateSession(ctx context.Context, id string, fn func(*models.Session) error) (*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	sess, ok := doc.Sessions[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "session", Key: id}
	}
	if err := fn(sess); err != nil {
		return nil, err
	}
	if err := s.save(doc); err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

func (s *JSONFileStore) UpdateSessions(ctx context.Context, fn func(map[string]*models.Session) (bool, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	changed, err := fn(doc.Sessions)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return s.save(doc)
}

// ── Persistence ─────────────────────────────────────────────

// load reads the log file. A missing or empty file is an empty document.
func (s *JSONFileStore) load() (*models.LogDocument, error) {
	doc := &models.LogDocument{Sessions: make(map[string]*models.Session)}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return nil, fmt.Errorf("store: read %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}

	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("store: parse %s: %w", s.path, err)
	}
	if doc.Sessions == nil {
		doc.Sessions = make(map[string]*models.Session)
	}
	for id, sess := range doc.Sessions {
		if sess == nil {
			delete(doc.Sessions, id)
			continue
		}
		if sess.ID == "" {
			sess.ID = id
		}
		sess.Normalize()
	}
	return doc, nil
}

// save writes the document to a temp file and renames it into place.
func (s *JSONFileStore) save(doc *models.LogDocument) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("store: marshal log: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("store: create dir %s: %w", dir, err)
		}
	}

	// Each write gets its own temp file; the CLI and the server may save
	// the same log at once.
	f, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	tmp := f.Name()
	_, err = f.Write(buf.Bytes())
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(tmp, 0o644)
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("store: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("store: rename %s: %w", tmp, err)
	}

	log.Debug().Str("path", s.path).Int("sessions", len(doc.Sessions)).Msg("Chat log saved")
	return nil
}
