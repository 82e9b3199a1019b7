// Package handlers implements the HTTP handlers for the chat server: the
// JSON API under /api/v1 and the server-rendered UI.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/llmselect/llmselect-chat/internal/catalog"
	"github.com/llmselect/llmselect-chat/internal/sessions"
	"github.com/llmselect/llmselect-chat/internal/store"
	"github.com/llmselect/llmselect-chat/internal/web"
	"github.com/llmselect/llmselect-chat/pkg/models"
)

// ModelCatalog lists and reloads the selectable deployments.
type ModelCatalog interface {
	Models() []models.Deployment
	Reload(ctx context.Context) error
	Source() string
	LoadedAt() time.Time
}

// PriceTable looks up per-deployment rates.
type PriceTable interface {
	ForModel(deployment, modelType string) models.Pricing
}

// Options carries display settings and the event sink.
type Options struct {
	USDToJPY float64
	FontZoom float64
	LogFile  string
	Events   sessions.EventSink
}

// Handlers holds all handler dependencies.
type Handlers struct {
	Sessions *sessions.Service
	Catalog  ModelCatalog
	Pricing  PriceTable
	Renderer *web.Renderer
	Themes   *web.Themes
	opts     Options
}

// New creates a new Handlers instance with all dependencies.
func New(svc *sessions.Service, cat ModelCatalog, prices PriceTable, renderer *web.Renderer, themes *web.Themes, opts Options) *Handlers {
	if opts.USDToJPY <= 0 {
		opts.USDToJPY = 150
	}
	if opts.FontZoom <= 0 {
		opts.FontZoom = web.DefaultFontZoom
	}
	return &Handlers{
		Sessions: svc,
		Catalog:  cat,
		Pricing:  prices,
		Renderer: renderer,
		Themes:   themes,
		opts:     opts,
	}
}

// ── Helpers ─────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondErr maps a service error to its HTTP status. Failed turns carry
// the recorded error log entry.
func respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		log.Error().Err(err).Int("status", status).Msg("Request failed")
	}

	var turnErr *sessions.TurnError
	if errors.As(err, &turnErr) {
		respondJSON(w, status, map[string]interface{}{
			"error":     err.Error(),
			"error_log": turnErr.Entry,
		})
		return
	}
	respondError(w, status, err.Error())
}

func statusFor(err error) int {
	var (
		notFound   *store.ErrNotFound
		transition *sessions.ErrInvalidTransition
		turnErr    *sessions.TurnError
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.Is(err, catalog.ErrUnknownDeployment),
		errors.Is(err, sessions.ErrEmptyName),
		errors.Is(err, sessions.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.As(err, &transition),
		errors.Is(err, sessions.ErrSessionCompleted),
		errors.Is(err, sessions.ErrNoConversation):
		return http.StatusConflict
	case errors.As(err, &turnErr):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	return dec.Decode(v)
}

// masked returns a copy of the session safe to send to clients.
func masked(s *models.Session) *models.Session {
	cp := s.Clone()
	cp.Model = cp.Model.Masked()
	return cp
}

func (h *Handlers) publish(t models.EventType) {
	if h.opts.Events != nil {
		h.opts.Events.Publish(models.Event{Type: t, Timestamp: time.Now()})
	}
}
