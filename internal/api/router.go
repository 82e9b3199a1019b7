// Package api wires the HTTP routes of the chat server.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/llmselect/llmselect-chat/internal/api/handlers"
	"github.com/llmselect/llmselect-chat/internal/api/middleware"
	"github.com/llmselect/llmselect-chat/internal/config"
	"github.com/llmselect/llmselect-chat/internal/web"
)

const serviceName = "llm-select-chat"

// Deps are the handlers and endpoints mounted by NewRouter.
type Deps struct {
	Handlers *handlers.Handlers
	// Metrics serves /metrics; nil leaves it unmounted.
	Metrics http.Handler
	// Events serves the /ws live-update socket; nil leaves it unmounted.
	Events http.Handler
}

// NewRouter creates the HTTP router with all API and UI routes.
func NewRouter(cfg *config.Config, deps Deps) http.Handler {
	h := deps.Handlers
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.NewAccessToken(cfg.HTTP.AccessToken).Middleware)

	limiter := middleware.NewRateLimiter(cfg.HTTP.RateLimit, cfg.HTTP.RateBurst)

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}
	// The socket is mounted outside Compress, which cannot hijack.
	if deps.Events != nil {
		r.Handle("/ws", deps.Events)
	}

	r.Group(func(r chi.Router) {
		r.Use(chimw.Compress(5))

		r.Handle("/static/*", http.StripPrefix("/static/", web.Static()))

		// API v1
		r.Route("/api/v1", func(r chi.Router) {
			r.Route("/models", func(r chi.Router) {
				r.Get("/", h.ListModels)
				r.Post("/reload", h.ReloadModels)
			})

			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", h.ListSessions)
				r.Post("/", h.CreateSession)
				r.Route("/{sessionId}", func(r chi.Router) {
					r.Get("/", h.GetSession)
					r.Patch("/", h.RenameSession)
					r.Delete("/", h.DeleteSession)
					r.Post("/generate-name", h.GenerateSessionName)
					r.Post("/end", h.EndSession)
					r.Post("/resume", h.ResumeSession)
					r.With(limiter.Middleware).Post("/messages", h.SendMessage)
				})
			})

			r.Route("/trash", func(r chi.Router) {
				r.Post("/purge", h.PurgeTrash)
				r.Post("/empty", h.EmptyTrash)
			})

			r.Get("/stats", h.Stats)
		})

		// UI
		r.Get("/", h.NewSessionPage)
		r.Get("/sessions/{sessionId}", h.ChatPage)
		r.Get("/trash", h.TrashPage)
		r.Route("/ui", func(r chi.Router) {
			r.Get("/sidebar", h.SidebarFragment)
			r.Post("/theme", h.SetTheme)
			r.Post("/sessions", h.UICreateSession)
			r.Route("/sessions/{sessionId}", func(r chi.Router) {
				r.With(limiter.Middleware).Post("/messages", h.UISendMessage)
				r.Post("/rename", h.UIRenameSession)
				r.Post("/generate-name", h.UIGenerateName)
				r.Post("/end", h.UIEndSession)
				r.Post("/resume", h.UIResumeSession)
				r.Post("/delete", h.UIDeleteSession)
			})
			r.Post("/trash/purge", h.UIPurgeTrash)
			r.Post("/trash/empty", h.UIEmptyTrash)
		})
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": serviceName,
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": serviceName,
		})
	}
}
