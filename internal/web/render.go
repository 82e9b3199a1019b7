// Package web renders the server-side chat UI: pages, sidebar fragments,
// theme palettes and display formatting.
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"

	"github.com/llmselect/llmselect-chat/internal/catalog"
	"github.com/llmselect/llmselect-chat/pkg/models"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// Page names.
const (
	PageNewSession = "new_session"
	PageChat       = "chat"
	PageTrash      = "trash"
)

// ── View Models ─────────────────────────────────────────────

// Sidebar lists the active and completed sessions.
type Sidebar struct {
	Active    []*models.Session
	Completed []*models.Session
	Counts    models.ViewCounts
	CurrentID string
}

// Turn pairs a user message with its reply and message log.
type Turn struct {
	Index     int
	User      models.ChatMessage
	Assistant *models.ChatMessage
	Log       *models.MessageLog
}

// Summary is the metrics strip of a session.
type Summary struct {
	Turns           int
	Tokens          int
	CostUSD         float64
	CostJPY         float64
	AvgResponseTime float64
}

// Page is the data for every full page.
type Page struct {
	Title    string
	Theme    Theme
	Themes   []Theme
	FontZoom float64
	Sidebar  Sidebar
	Flash    string
	LogFile  string

	// New session
	Models   []models.Deployment
	Selected *models.Deployment
	Pricing  models.Pricing

	// Chat
	Session       *models.Session
	Turns         []Turn
	Summary       Summary
	Error         string
	Draft         string
	ConfirmDelete bool

	// Trash
	Trash []*models.Session
}

// BuildTurns walks the conversation history, skipping the system prompt,
// and attaches the message log of each completed exchange in order.
func BuildTurns(s *models.Session) []Turn {
	var (
		turns  []Turn
		logIdx int
	)
	for i, msg := range s.ConversationHistory {
		switch msg.Role {
		case models.RoleUser:
			t := Turn{Index: i, User: msg}
			if logIdx < len(s.Messages) {
				t.Log = &s.Messages[logIdx]
			}
			turns = append(turns, t)
		case models.RoleAssistant:
			reply := msg
			if n := len(turns); n > 0 && turns[n-1].Assistant == nil {
				turns[n-1].Assistant = &reply
				turns[n-1].Index = i
			}
			logIdx++
		}
	}
	return turns
}

// Summarize computes the metrics strip. JPY uses the current rate.
func Summarize(s *models.Session, usdToJPY float64) Summary {
	tokens, usd, _ := s.Totals()
	sum := Summary{
		Turns:   len(s.Messages),
		Tokens:  tokens,
		CostUSD: usd,
		CostJPY: usd * usdToJPY,
	}
	if n := len(s.Messages); n > 0 {
		var total float64
		for _, m := range s.Messages {
			total += m.Response.ResponseTimeSeconds
		}
		sum.AvgResponseTime = total / float64(n)
	}
	return sum
}

type sessionCard struct {
	Session *models.Session
	Kind    string
	Current bool
}

type badge struct {
	Icon, Name, Region, Provider string
}

// ── Renderer ────────────────────────────────────────────────

// Renderer executes the embedded templates.
type Renderer struct {
	pages    map[string]*template.Template
	fragment *template.Template
}

func funcs() template.FuncMap {
	return template.FuncMap{
		"truncate":    TruncateName,
		"region":      catalog.FormatRegion,
		"typeDisplay": catalog.ModelTypeDisplay,
		"tokens":      Tokens,
		"usd":         USD,
		"jpy":         JPY,
		"seconds":     Seconds,
		"markdown":    Markdown,
		"excerpt":     Excerpt,
		"metrics": func(m *models.MessageLog) string {
			if m == nil {
				return ""
			}
			return TurnMetrics(*m)
		},
		"card": func(s *models.Session, kind, currentID string) sessionCard {
			return sessionCard{Session: s, Kind: kind, Current: s.ID == currentID}
		},
		"badge": func(icon, name, region, provider string) badge {
			return badge{Icon: icon, Name: name, Region: region, Provider: provider}
		},
		"totals": func(s *models.Session) Summary {
			return Summarize(s, 0)
		},
	}
}

// NewRenderer parses every page against the shared layout and partials.
func NewRenderer() (*Renderer, error) {
	base, err := template.New("base").Funcs(funcs()).
		ParseFS(templateFS, "templates/layout.html", "templates/partials.html")
	if err != nil {
		return nil, fmt.Errorf("web: parse layout: %w", err)
	}

	r := &Renderer{pages: make(map[string]*template.Template)}
	for _, name := range []string{PageNewSession, PageChat, PageTrash} {
		clone, err := base.Clone()
		if err != nil {
			return nil, err
		}
		page, err := clone.ParseFS(templateFS, "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("web: parse %s: %w", name, err)
		}
		r.pages[name] = page
	}

	r.fragment, err = template.New("fragment").Funcs(funcs()).
		ParseFS(templateFS, "templates/partials.html")
	if err != nil {
		return nil, fmt.Errorf("web: parse partials: %w", err)
	}
	return r, nil
}

// Page renders a full page. Output is buffered so a template error never
// leaves a half-written response.
func (r *Renderer) Page(w io.Writer, name string, data *Page) error {
	t, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("web: unknown page %q", name)
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return fmt.Errorf("web: render %s: %w", name, err)
	}
	_, err := buf.WriteTo(w)
	return err
}

// Sidebar renders only the sidebar fragment.
func (r *Renderer) Sidebar(w io.Writer, data Sidebar) error {
	var buf bytes.Buffer
	if err := r.fragment.ExecuteTemplate(&buf, "sidebar", data); err != nil {
		return fmt.Errorf("web: render sidebar: %w", err)
	}
	_, err := buf.WriteTo(w)
	return err
}

// Static serves the embedded stylesheet and scripts.
func Static() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.FileServer(http.FS(sub))
}
