package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/llmselect/llmselect-chat/internal/store"
	"github.com/llmselect/llmselect-chat/pkg/models"
)

func newMemorySession(id string) *models.Session {
	return &models.Session{ID: id, Name: "memo", Status: models.SessionActive}
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	if err := s.CreateSession(ctx, newMemorySession("a")); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	got, err := s.GetSession(ctx, "a")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.Name != "memo" || got.Messages == nil {
		t.Errorf("GetSession() = %+v, want normalized copy", got)
	}

	got.Name = "changed"
	again, _ := s.GetSession(ctx, "a")
	if again.Name != "memo" {
		t.Error("returned sessions must be copies")
	}

	var exists *store.ErrAlreadyExists
	if err := s.CreateSession(ctx, newMemorySession("a")); !errors.As(err, &exists) {
		t.Errorf("duplicate CreateSession() error = %v, want ErrAlreadyExists", err)
	}

	var notFound *store.ErrNotFound
	if _, err := s.GetSession(ctx, "missing"); !errors.As(err, &notFound) {
		t.Errorf("GetSession(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_UpdateRollsBackOnError(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	s.CreateSession(ctx, newMemorySession("a"))

	boom := errors.New("boom")
	_, err := s.UpdateSession(ctx, "a", func(sess *models.Session) error {
		sess.Name = "half-written"
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("UpdateSession() error = %v, want boom", err)
	}
	got, _ := s.GetSession(ctx, "a")
	if got.Name != "memo" {
		t.Errorf("Name = %q after failed update, want %q", got.Name, "memo")
	}

	updated, err := s.UpdateSession(ctx, "a", func(sess *models.Session) error {
		sess.Name = "renamed"
		return nil
	})
	if err != nil || updated.Name != "renamed" {
		t.Fatalf("UpdateSession() = %v, %v", updated, err)
	}
}

func TestMemoryStore_UpdateSessions(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	s.CreateSession(ctx, newMemorySession("a"))
	s.CreateSession(ctx, newMemorySession("b"))

	err := s.UpdateSessions(ctx, func(all map[string]*models.Session) (bool, error) {
		all["b"].Deleted = true
		return true, nil
	})
	if err != nil {
		t.Fatalf("UpdateSessions() error = %v", err)
	}

	list, _ := s.ListSessions(ctx)
	if len(list) != 2 || list[0].ID != "a" || !list[1].Deleted {
		t.Errorf("ListSessions() = %+v", list)
	}
}

func TestOpen(t *testing.T) {
	s, err := store.Open(store.MemoryPath)
	if err != nil {
		t.Fatalf("Open(memory) error = %v", err)
	}
	if _, ok := s.(*store.MemoryStore); !ok {
		t.Errorf("Open(%q) = %T, want *MemoryStore", store.MemoryPath, s)
	}

	path := filepath.Join(t.TempDir(), "log.json")
	s, err = store.Open(path)
	if err != nil {
		t.Fatalf("Open(file) error = %v", err)
	}
	if s.Path() != path {
		t.Errorf("Path() = %q, want %q", s.Path(), path)
	}
}
