// Package store provides persistence for chat sessions.
//
// The chat log is a single JSON document ({"sessions": {id: {...}}}). The
// JSONFileStore implementation re-reads it on every operation so that edits
// made by the CLI are visible to a running server, and serializes mutations
// so that concurrent requests cannot lose writes.
package store

import (
	"context"

	"github.com/llmselect/llmselect-chat/pkg/models"
)

// Store is the storage interface used by the sessions service and the CLI.
type Store interface {
	SessionStore

	// Path returns the location of the backing log file.
	Path() string

	// Ping checks that the log file is readable and well formed.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

// ── Session Store ───────────────────────────────────────────

// SessionStore persists sessions. All returned sessions are copies; changes
// are only written through CreateSession and the Update functions.
type SessionStore interface {
	ListSessions(ctx context.Context) ([]*models.Session, error)
	GetSession(ctx context.Context, id string) (*models.Session, error)
	CreateSession(ctx context.Context, session *models.Session) error

	// UpdateSession applies fn to the stored session and writes the result.
	// If fn returns an error nothing is written.
	UpdateSession(ctx context.Context, id string, fn func(*models.Session) error) (*models.Session, error)

	// UpdateSessions applies fn to every stored session in one write.
	// fn reports whether anything changed; nothing is written otherwise.
	UpdateSessions(ctx context.Context, fn func(map[string]*models.Session) (bool, error)) error
}

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// ErrAlreadyExists is returned when creating an entity whose key is taken.
type ErrAlreadyExists struct {
	Entity string
	Key    string
}

func (e *ErrAlreadyExists) Error() string {
	return e.Entity + " already exists: " + e.Key
}
