package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/llmselect/llmselect-chat/internal/sessions"
	"github.com/llmselect/llmselect-chat/internal/store"
	"github.com/llmselect/llmselect-chat/internal/web"
	"github.com/llmselect/llmselect-chat/pkg/models"
)

// FlashCookie carries a one-shot notice across a redirect.
const FlashCookie = "llmchat_flash"

// ── Page Plumbing ───────────────────────────────────────────

func (h *Handlers) sidebar(r *http.Request, currentID string) (web.Sidebar, error) {
	ctx := r.Context()
	active, err := h.Sessions.List(ctx, models.ViewActive)
	if err != nil {
		return web.Sidebar{}, err
	}
	completed, err := h.Sessions.List(ctx, models.ViewCompleted)
	if err != nil {
		return web.Sidebar{}, err
	}
	counts, err := h.Sessions.Counts(ctx)
	if err != nil {
		return web.Sidebar{}, err
	}
	return web.Sidebar{Active: active, Completed: completed, Counts: counts, CurrentID: currentID}, nil
}

func (h *Handlers) newPage(w http.ResponseWriter, r *http.Request, title, currentID string) (*web.Page, error) {
	sb, err := h.sidebar(r, currentID)
	if err != nil {
		return nil, err
	}
	themes := make([]web.Theme, 0, 2)
	for _, name := range h.Themes.Names() {
		themes = append(themes, h.Themes.Get(name))
	}
	return &web.Page{
		Title:    title,
		Theme:    h.Themes.FromRequest(r),
		Themes:   themes,
		FontZoom: h.opts.FontZoom,
		Sidebar:  sb,
		Flash:    takeFlash(w, r),
		LogFile:  h.opts.LogFile,
	}, nil
}

func (h *Handlers) render(w http.ResponseWriter, name string, page *web.Page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.Renderer.Page(w, name, page); err != nil {
		log.Error().Err(err).Str("page", name).Msg("Render failed")
		http.Error(w, "render failed", http.StatusInternalServerError)
	}
}

func setFlash(w http.ResponseWriter, msg string) {
	http.SetCookie(w, &http.Cookie{
		Name:     FlashCookie,
		Value:    url.QueryEscape(msg),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func takeFlash(w http.ResponseWriter, r *http.Request) string {
	c, err := r.Cookie(FlashCookie)
	if err != nil {
		return ""
	}
	http.SetCookie(w, &http.Cookie{Name: FlashCookie, Path: "/", MaxAge: -1})
	msg, err := url.QueryUnescape(c.Value)
	if err != nil {
		return ""
	}
	return msg
}

func redirect(w http.ResponseWriter, r *http.Request, to string) {
	http.Redirect(w, r, to, http.StatusSeeOther)
}

// back redirects to the local page the form was posted from.
func back(w http.ResponseWriter, r *http.Request, fallback string) {
	if ref, err := url.Parse(r.Referer()); err == nil && ref.Path != "" && (ref.Host == "" || ref.Host == r.Host) {
		redirect(w, r, ref.Path)
		return
	}
	redirect(w, r, fallback)
}

func sessionPath(id string) string {
	return "/sessions/" + url.PathEscape(id)
}

// uiFailure turns a service error into a flash notice and a redirect.
func uiFailure(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var notFound *store.ErrNotFound
	switch {
	case errors.As(err, &notFound):
		setFlash(w, "セッションが見つかりません")
		redirect(w, r, "/")
		return
	case statusFor(err) >= 500:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("UI action failed")
	}
	setFlash(w, "⚠️ "+err.Error())
	redirect(w, r, fallback)
}

// ══════════════════════════════════════════════════════════════
// ── Pages ────────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// NewSessionPage shows the model picker. ?model= selects a deployment by key.
func (h *Handlers) NewSessionPage(w http.ResponseWriter, r *http.Request) {
	page, err := h.newPage(w, r, "新規セッション", "")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	page.Models = h.Catalog.Models()
	if len(page.Models) > 0 {
		selected := page.Models[0]
		if key := r.URL.Query().Get("model"); key != "" {
			for _, d := range page.Models {
				if d.Key() == key {
					selected = d
					break
				}
			}
		}
		page.Selected = &selected
		page.Pricing = h.Pricing.ForModel(selected.DeploymentName, selected.ModelType)
	}
	h.render(w, web.PageNewSession, page)
}

// ChatPage shows one session. Trashed sessions are not reachable here.
func (h *Handlers) ChatPage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionId")
	sess, err := h.Sessions.Get(r.Context(), id)
	if err != nil {
		uiFailure(w, r, err, "/")
		return
	}
	if sess.Deleted {
		setFlash(w, "このセッションは削除されています")
		redirect(w, r, "/")
		return
	}
	h.renderChat(w, r, sess, "", "")
}

func (h *Handlers) renderChat(w http.ResponseWriter, r *http.Request, sess *models.Session, errMsg, draft string) {
	page, err := h.newPage(w, r, sess.Name, sess.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	page.Session = sess
	page.Turns = web.BuildTurns(sess)
	page.Summary = web.Summarize(sess, h.opts.USDToJPY)
	page.Error = errMsg
	page.Draft = draft
	page.ConfirmDelete = r.URL.Query().Get("confirm") == "delete"
	h.render(w, web.PageChat, page)
}

func (h *Handlers) TrashPage(w http.ResponseWriter, r *http.Request) {
	page, err := h.newPage(w, r, "ゴミ箱", "")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	page.Trash, err = h.Sessions.List(r.Context(), models.ViewTrash)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.render(w, web.PageTrash, page)
}

// SidebarFragment re-renders the sidebar for live updates.
func (h *Handlers) SidebarFragment(w http.ResponseWriter, r *http.Request) {
	sb, err := h.sidebar(r, r.URL.Query().Get("current"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := h.Renderer.Sidebar(w, sb); err != nil {
		log.Error().Err(err).Msg("Render sidebar failed")
		http.Error(w, "render failed", http.StatusInternalServerError)
	}
}

// ══════════════════════════════════════════════════════════════
// ── Form Actions ─────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) UICreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Sessions.Create(r.Context(), sessions.CreateRequest{
		Region:         r.PostFormValue("region"),
		DeploymentName: r.PostFormValue("deployment_name"),
	})
	if err != nil {
		uiFailure(w, r, err, "/")
		return
	}
	redirect(w, r, sessionPath(sess.ID))
}

// UISendMessage runs a turn. A failed turn re-renders the chat with the
// error and the unsent input so it can be retried.
func (h *Handlers) UISendMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionId")
	input := r.PostFormValue("content")

	_, err := h.Sessions.Send(r.Context(), id, input)
	if err == nil {
		redirect(w, r, sessionPath(id)+"#page-bottom")
		return
	}

	var turnErr *sessions.TurnError
	if !errors.As(err, &turnErr) {
		uiFailure(w, r, err, sessionPath(id))
		return
	}
	sess, getErr := h.Sessions.Get(r.Context(), id)
	if getErr != nil {
		uiFailure(w, r, getErr, "/")
		return
	}
	msg := turnErr.Entry.ErrorMessage
	if turnErr.Entry.ErrorType != "" {
		msg = turnErr.Entry.ErrorType + ": " + msg
	}
	h.renderChat(w, r, sess, msg, input)
}

func (h *Handlers) UIRenameSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionId")
	if _, err := h.Sessions.Rename(r.Context(), id, r.PostFormValue("session_name")); err != nil {
		uiFailure(w, r, err, sessionPath(id))
		return
	}
	back(w, r, sessionPath(id))
}

func (h *Handlers) UIGenerateName(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionId")
	if _, err := h.Sessions.GenerateName(r.Context(), id); err != nil {
		if errors.Is(err, sessions.ErrNoConversation) {
			setFlash(w, "会話がまだないため名前を生成できません")
			back(w, r, sessionPath(id))
			return
		}
		uiFailure(w, r, err, sessionPath(id))
		return
	}
	back(w, r, sessionPath(id))
}

func (h *Handlers) UIEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionId")
	if _, err := h.Sessions.End(r.Context(), id); err != nil {
		uiFailure(w, r, err, sessionPath(id))
		return
	}
	setFlash(w, "🏁 セッションを終了しました")
	redirect(w, r, sessionPath(id))
}

func (h *Handlers) UIResumeSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionId")
	if _, err := h.Sessions.Resume(r.Context(), id); err != nil {
		uiFailure(w, r, err, sessionPath(id))
		return
	}
	redirect(w, r, sessionPath(id))
}

// UIDeleteSession asks for confirmation first unless confirm=yes is posted.
func (h *Handlers) UIDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionId")
	if r.PostFormValue("confirm") != "yes" {
		redirect(w, r, sessionPath(id)+"?confirm=delete")
		return
	}
	if _, err := h.Sessions.Delete(r.Context(), id); err != nil {
		uiFailure(w, r, err, "/")
		return
	}
	setFlash(w, "🗑️ セッションをゴミ箱に移動しました")
	if ref, err := url.Parse(r.Referer()); err == nil && ref.Path != sessionPath(id) {
		back(w, r, "/")
		return
	}
	redirect(w, r, "/")
}

func (h *Handlers) UIPurgeTrash(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var ids []string
	for _, id := range r.PostForm["session_ids"] {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		setFlash(w, "完全削除するセッションを選択してください")
		redirect(w, r, "/trash")
		return
	}
	n, err := h.Sessions.Purge(r.Context(), ids)
	if err != nil {
		uiFailure(w, r, err, "/trash")
		return
	}
	setFlash(w, purgedMessage(n))
	redirect(w, r, "/trash")
}

func (h *Handlers) UIEmptyTrash(w http.ResponseWriter, r *http.Request) {
	n, err := h.Sessions.EmptyTrash(r.Context())
	if err != nil {
		uiFailure(w, r, err, "/trash")
		return
	}
	setFlash(w, purgedMessage(n))
	redirect(w, r, "/trash")
}

func purgedMessage(n int) string {
	return "🧹 " + web.Tokens(n) + "件のセッションを完全削除しました"
}

// SetTheme stores the chosen palette in a cookie.
func (h *Handlers) SetTheme(w http.ResponseWriter, r *http.Request) {
	name := r.PostFormValue("theme")
	if !h.Themes.Valid(name) {
		http.Error(w, "unknown theme", http.StatusBadRequest)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     web.ThemeCookie,
		Value:    name,
		Path:     "/",
		MaxAge:   365 * 24 * 60 * 60,
		SameSite: http.SameSiteLaxMode,
	})
	back(w, r, "/")
}
