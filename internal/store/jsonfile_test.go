package store_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/llmselect/llmselect-chat/internal/store"
	"github.com/llmselect/llmselect-chat/pkg/models"
)

// newTestStore creates a store backed by a temp file.
func newTestStore(t *testing.T) *store.JSONFileStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "chat_log.json")
	s, err := store.NewJSONFileStore(path)
	if err != nil {
		t.Fatalf("NewJSONFileStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newSession(id string) *models.Session {
	now := models.NewTimestamp(time.Now())
	return &models.Session{
		ID:        id,
		Name:      "Session_" + id,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    models.SessionActive,
		ConversationHistory: []models.ChatMessage{
			{Role: models.RoleSystem, Content: models.DefaultSystemPrompt},
		},
	}
}

// ─── Create / Get ────────────────────────────────────────────

func TestCreateAndGetSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateSession(ctx, newSession("s1")); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.Name != "Session_s1" {
		t.Errorf("GetSession().Name = %q, want %q", got.Name, "Session_s1")
	}
	if got.Errors == nil || got.NameChanges == nil || got.Messages == nil {
		t.Error("GetSession() returned nil slices; want normalized empty slices")
	}
}

func TestCreateSession_Duplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateSession(ctx, newSession("dup")); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	err := s.CreateSession(ctx, newSession("dup"))
	var exists *store.ErrAlreadyExists
	if !errors.As(err, &exists) {
		t.Fatalf("CreateSession() duplicate error = %v, want ErrAlreadyExists", err)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetSession(context.Background(), "missing")
	var nf *store.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("GetSession() error = %v, want ErrNotFound", err)
	}
	if nf.Key != "missing" {
		t.Errorf("ErrNotFound.Key = %q", nf.Key)
	}
}

// ─── Update ──────────────────────────────────────────────────

func TestUpdateSession_PersistsAndIsolates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.CreateSession(ctx, newSession("s1"))

	updated, err := s.UpdateSession(ctx, "s1", func(sess *models.Session) error {
		sess.Name = "renamed"
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateSession() error = %v", err)
	}
	updated.Name = "mutated copy"

	got, _ := s.GetSession(ctx, "s1")
	if got.Name != "renamed" {
		t.Errorf("Name = %q, want %q", got.Name, "renamed")
	}
}

func TestUpdateSession_ErrorWritesNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.CreateSession(ctx, newSession("s1"))

	boom := errors.New("boom")
	_, err := s.UpdateSession(ctx, "s1", func(sess *models.Session) error {
		sess.Name = "should not persist"
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("UpdateSession() error = %v, want boom", err)
	}

	got, _ := s.GetSession(ctx, "s1")
	if got.Name != "Session_s1" {
		t.Errorf("Name = %q, want unchanged", got.Name)
	}
}

func TestUpdateSessions_Bulk(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		s.CreateSession(ctx, newSession(id))
	}

	err := s.UpdateSessions(ctx, func(all map[string]*models.Session) (bool, error) {
		for _, sess := range all {
			sess.Deleted = true
		}
		return true, nil
	})
	if err != nil {
		t.Fatalf("UpdateSessions() error = %v", err)
	}

	list, _ := s.ListSessions(ctx)
	if len(list) != 3 {
		t.Fatalf("ListSessions() = %d sessions, want 3", len(list))
	}
	for _, sess := range list {
		if !sess.Deleted {
			t.Errorf("session %s not deleted", sess.ID)
		}
	}
}

func TestConcurrentUpdates_NoLostWrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.CreateSession(ctx, newSession("s1"))

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.UpdateSession(ctx, "s1", func(sess *models.Session) error {
				sess.Errors = append(sess.Errors, models.ErrorLog{Turn: i})
				return nil
			})
		}(i)
	}
	wg.Wait()

	got, _ := s.GetSession(ctx, "s1")
	if len(got.Errors) != n {
		t.Errorf("len(Errors) = %d, want %d", len(got.Errors), n)
	}
}

// ─── File format ─────────────────────────────────────────────

func TestLoadLegacyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	legacy := `{
  "sessions": {
    "20250101_120000_abcd1234": {
      "session_name": "旧セッション",
      "created_at": "2025-01-01T12:00:00.123456",
      "updated_at": "2025-01-01T12:05:00",
      "model": {"deployment_name": "gpt-4.1", "region": "JP (Japan East)"},
      "conversation_history": [],
      "messages": [],
      "stats": null
    }
  }
}`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := store.NewJSONFileStore(path)
	if err != nil {
		t.Fatalf("NewJSONFileStore() error = %v", err)
	}
	got, err := s.GetSession(context.Background(), "20250101_120000_abcd1234")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.ID != "20250101_120000_abcd1234" {
		t.Errorf("ID = %q, want key fallback", got.ID)
	}
	if got.Status != models.SessionActive {
		t.Errorf("Status = %q, want active", got.Status)
	}
	if got.NameChanges == nil || got.Errors == nil {
		t.Error("legacy session not normalized")
	}
}

func TestSaveWritesUnescapedUTF8(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := newSession("s1")
	sess.Name = "日本語 <b>&</b>"
	s.CreateSession(ctx, sess)

	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "日本語 <b>&</b>") {
		t.Errorf("log file does not contain raw UTF-8 name:\n%s", data)
	}
	assertNoTempFiles(t, s.Path())
}

func assertNoTempFiles(t *testing.T, path string) {
	t.Helper()
	left, err := filepath.Glob(path + ".*.tmp")
	if err != nil {
		t.Fatalf("Glob() error = %v", err)
	}
	if len(left) > 0 {
		t.Errorf("temp files left behind: %v", left)
	}
}

func TestSave_TwoWritersOnOneFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.CreateSession(ctx, newSession("seed"))

	// A second store on the same path stands in for the CLI process.
	other, err := store.NewJSONFileStore(s.Path())
	if err != nil {
		t.Fatalf("NewJSONFileStore() error = %v", err)
	}

	var wg sync.WaitGroup
	for i, st := range []*store.JSONFileStore{s, other} {
		wg.Add(1)
		go func(i int, st *store.JSONFileStore) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_, err := st.UpdateSession(ctx, "seed", func(sess *models.Session) error {
					sess.Name = fmt.Sprintf("writer %d pass %d", i, j)
					return nil
				})
				if err != nil {
					t.Errorf("UpdateSession() writer %d error = %v", i, err)
					return
				}
			}
		}(i, st)
	}
	wg.Wait()

	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping() after concurrent saves error = %v", err)
	}
	got, err := s.GetSession(ctx, "seed")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if !strings.HasSuffix(got.Name, "pass 24") {
		t.Errorf("Name = %q, want a final write", got.Name)
	}
	assertNoTempFiles(t, s.Path())
}

func TestMalformedFileIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	os.WriteFile(path, []byte("{not json"), 0o644)

	if _, err := store.NewJSONFileStore(path); err == nil {
		t.Fatal("NewJSONFileStore() expected error for malformed file")
	}
}

func TestExternalEditsAreVisible(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.CreateSession(ctx, newSession("s1"))

	other, err := store.NewJSONFileStore(s.Path())
	if err != nil {
		t.Fatalf("NewJSONFileStore() error = %v", err)
	}
	other.UpdateSession(ctx, "s1", func(sess *models.Session) error {
		sess.Name = fmt.Sprintf("edited by %s", "cli")
		return nil
	})

	got, _ := s.GetSession(ctx, "s1")
	if got.Name != "edited by cli" {
		t.Errorf("Name = %q, want external edit", got.Name)
	}
}
