package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// AccessCookie carries the access token for browser sessions.
const AccessCookie = "llmchat_access"

// AccessToken is middleware that guards the server with a single shared
// token. An empty token disables the check.
//
// The token is accepted from:
//   - Authorization: Bearer <token>
//   - X-API-Key: <token>
//   - the llmchat_access cookie
//   - ?access_token=<token>, which also sets the cookie so that a link
//     opened once keeps working in the browser
//
// /health, /version and /static/ are always public.
type AccessToken struct {
	token []byte
}

// NewAccessToken creates the middleware for token.
func NewAccessToken(token string) *AccessToken {
	return &AccessToken{token: []byte(strings.TrimSpace(token))}
}

// Enabled returns whether a token is required.
func (a *AccessToken) Enabled() bool {
	return len(a.token) > 0
}

func (a *AccessToken) valid(candidate string) bool {
	if candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), a.token) == 1
}

// Middleware returns the HTTP middleware handler.
func (a *AccessToken) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			if a.valid(strings.TrimPrefix(auth, "Bearer ")) {
				next.ServeHTTP(w, r)
				return
			}
		}
		if a.valid(r.Header.Get("X-API-Key")) {
			next.ServeHTTP(w, r)
			return
		}
		if c, err := r.Cookie(AccessCookie); err == nil && a.valid(c.Value) {
			next.ServeHTTP(w, r)
			return
		}
		if q := r.URL.Query().Get("access_token"); a.valid(q) {
			http.SetCookie(w, &http.Cookie{
				Name:     AccessCookie,
				Value:    q,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
			next.ServeHTTP(w, r)
			return
		}

		respondUnauthorized(w, "access token required")
	})
}

func isPublicPath(path string) bool {
	switch path {
	case "/health", "/version":
		return true
	}
	return strings.HasPrefix(path, "/static/")
}

func respondUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="llmchat"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
