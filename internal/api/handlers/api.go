package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/llmselect/llmselect-chat/internal/catalog"
	"github.com/llmselect/llmselect-chat/internal/sessions"
	"github.com/llmselect/llmselect-chat/pkg/models"
)

// ══════════════════════════════════════════════════════════════
// ── Model Handlers ───────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

type modelView struct {
	models.Deployment
	Pricing models.Pricing `json:"pricing"`
}

// ListModels returns the catalog, optionally filtered by ?region=.
func (h *Handlers) ListModels(w http.ResponseWriter, r *http.Request) {
	region := r.URL.Query().Get("region")
	if region != "" {
		region = catalog.CanonicalRegion(region)
	}

	views := []modelView{}
	for _, d := range h.Catalog.Models() {
		if region != "" && d.Region != region {
			continue
		}
		views = append(views, modelView{Deployment: d, Pricing: h.Pricing.ForModel(d.DeploymentName, d.ModelType)})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"models":    views,
		"source":    h.Catalog.Source(),
		"loaded_at": h.Catalog.LoadedAt().Format(time.RFC3339),
	})
}

// ReloadModels re-reads the catalog files.
func (h *Handlers) ReloadModels(w http.ResponseWriter, r *http.Request) {
	if err := h.Catalog.Reload(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "reload failed: "+err.Error())
		return
	}
	h.publish(models.EventCatalogReloaded)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(h.Catalog.Models()),
		"source": h.Catalog.Source(),
	})
}

// ══════════════════════════════════════════════════════════════
// ── Session Handlers ─────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// ListSessions returns the summaries of one view (?view=active|completed|trash).
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	view, ok := models.ParseSessionView(r.URL.Query().Get("view"))
	if !ok {
		respondError(w, http.StatusBadRequest, "view must be one of active, completed, trash")
		return
	}
	list, err := h.Sessions.List(r.Context(), view)
	if err != nil {
		respondErr(w, err)
		return
	}
	counts, err := h.Sessions.Counts(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}

	summaries := make([]models.SessionSummary, 0, len(list))
	for _, s := range list {
		summaries = append(summaries, s.Summary())
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"view":     view,
		"sessions": summaries,
		"counts":   counts,
	})
}

func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req sessions.CreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Region == "" || req.DeploymentName == "" {
		respondError(w, http.StatusBadRequest, "region and deployment_name are required")
		return
	}

	sess, err := h.Sessions.Create(r.Context(), req)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, masked(sess))
}

func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Sessions.Get(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, masked(sess))
}

// RenameSession handles PATCH {"session_name": "..."}.
func (h *Handlers) RenameSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"session_name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	sess, err := h.Sessions.Rename(r.Context(), chi.URLParam(r, "sessionId"), req.Name)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, masked(sess))
}

func (h *Handlers) GenerateSessionName(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Sessions.GenerateName(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			log.Warn().Err(err).Msg("Session name generation failed")
			respondError(w, http.StatusBadGateway, err.Error())
			return
		}
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, masked(sess))
}

func (h *Handlers) EndSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Sessions.End(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, masked(sess))
}

func (h *Handlers) ResumeSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Sessions.Resume(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, masked(sess))
}

// DeleteSession moves the session to the trash.
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Sessions.Delete(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, masked(sess))
}

// SendMessage handles POST {"content": "..."} and returns the turn.
func (h *Handlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := h.Sessions.Send(r.Context(), chi.URLParam(r, "sessionId"), req.Content)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sessions.TurnResult{Session: masked(res.Session), Message: res.Message})
}

// ══════════════════════════════════════════════════════════════
// ── Trash & Stats Handlers ───────────────────────────────────
// ══════════════════════════════════════════════════════════════

// PurgeTrash handles POST {"session_ids": [...]}.
func (h *Handlers) PurgeTrash(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"session_ids"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	ids := req.IDs[:0]
	for _, id := range req.IDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		respondError(w, http.StatusBadRequest, "session_ids is required")
		return
	}

	n, err := h.Sessions.Purge(r.Context(), ids)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"purged": n})
}

func (h *Handlers) EmptyTrash(w http.ResponseWriter, r *http.Request) {
	n, err := h.Sessions.EmptyTrash(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"purged": n})
}

// Stats returns usage totals across every non-purged session.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	usage, err := h.Sessions.Usage(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, usage)
}
