package retention_test

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/llmselect/llmselect-chat/internal/retention"
	"github.com/llmselect/llmselect-chat/pkg/models"
)

type fakeTrash struct {
	sessions []*models.Session
	purged   []string
}

func (f *fakeTrash) List(_ context.Context, view models.SessionView) ([]*models.Session, error) {
	if view != models.ViewTrash {
		return nil, errors.New("unexpected view")
	}
	return f.sessions, nil
}

func (f *fakeTrash) Purge(_ context.Context, ids []string) (int, error) {
	f.purged = append(f.purged, ids...)
	return len(ids), nil
}

type failingArchiver struct{}

func (failingArchiver) Kind() string { return "failing" }

func (failingArchiver) Archive(context.Context, []*models.Session) (string, error) {
	return "", errors.New("disk full")
}

func trashed(id string, age time.Duration) *models.Session {
	return &models.Session{
		ID:        id,
		Deleted:   true,
		DeletedAt: models.TimestampPtr(time.Now().Add(-age)),
		Model:     models.ModelDescriptor{DeploymentName: "gpt-4o", APIKey: "sk-secret"},
	}
}

func TestJanitor_PurgesExpired(t *testing.T) {
	trash := &fakeTrash{sessions: []*models.Session{
		trashed("old", 40*24*time.Hour),
		trashed("new", time.Hour),
	}}
	j := retention.NewJanitor(trash, 30*24*time.Hour, time.Hour, nil)

	stats := j.RunCycle(context.Background())
	if stats.Err != nil {
		t.Fatalf("RunCycle() error = %v", stats.Err)
	}
	if stats.Expired != 1 || stats.Purged != 1 {
		t.Errorf("stats = %+v, want 1 expired and purged", stats)
	}
	if len(trash.purged) != 1 || trash.purged[0] != "old" {
		t.Errorf("purged = %v, want [old]", trash.purged)
	}
}

func TestJanitor_ArchiveFailureSkipsPurge(t *testing.T) {
	trash := &fakeTrash{sessions: []*models.Session{trashed("old", 40*24*time.Hour)}}
	j := retention.NewJanitor(trash, 24*time.Hour, time.Hour, failingArchiver{})

	stats := j.RunCycle(context.Background())
	if stats.Err == nil {
		t.Fatal("expected archive error")
	}
	if len(trash.purged) != 0 {
		t.Errorf("purged = %v, want nothing after a failed archive", trash.purged)
	}
}

func TestLocalFileArchiver(t *testing.T) {
	dir := t.TempDir()
	a := retention.NewLocalFileArchiver(dir, true)

	path, err := a.Archive(context.Background(), []*models.Session{trashed("a", time.Hour), trashed("b", time.Hour)})
	if err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	if filepath.Dir(path) != dir || filepath.Ext(path) != ".gz" {
		t.Errorf("path = %q", path)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip.NewReader() error = %v", err)
	}

	var ids []string
	sc := bufio.NewScanner(gz)
	for sc.Scan() {
		var s models.Session
		if err := json.Unmarshal(sc.Bytes(), &s); err != nil {
			t.Fatalf("Unmarshal() error = %v", err)
		}
		if s.Model.APIKey != "********" {
			t.Errorf("archived api_key = %q, want masked", s.Model.APIKey)
		}
		ids = append(ids, s.ID)
	}
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("archived ids = %v", ids)
	}
}

func TestJanitor_ArchivesThenPurges(t *testing.T) {
	dir := t.TempDir()
	trash := &fakeTrash{sessions: []*models.Session{trashed("old", 10*24*time.Hour)}}
	j := retention.NewJanitor(trash, 7*24*time.Hour, time.Hour, retention.NewLocalFileArchiver(dir, false))

	stats := j.RunCycle(context.Background())
	if stats.Err != nil || stats.Archived != 1 || stats.Purged != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if _, err := os.Stat(stats.ArchivePath); err != nil {
		t.Errorf("archive file missing: %v", err)
	}
}
