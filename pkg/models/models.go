// Package models defines the data types persisted to the chat log file and
// exchanged over the JSON API.
//
// Field names and JSON keys follow the on-disk log format
// ({"sessions": {id: Session}}) so that existing log files load unchanged.
package models

import (
	"time"
)

// ── Session Status ──────────────────────────────────────────

// SessionStatus tracks the conversational lifecycle of a session.
// Deletion and purge are tracked separately with flags.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// SessionView selects one of the sidebar lists.
type SessionView string

const (
	ViewActive    SessionView = "active"
	ViewCompleted SessionView = "completed"
	ViewTrash     SessionView = "trash"
)

// ParseSessionView returns the view for s, defaulting to active.
func ParseSessionView(s string) (SessionView, bool) {
	switch SessionView(s) {
	case "", ViewActive:
		return ViewActive, true
	case ViewCompleted:
		return ViewCompleted, true
	case ViewTrash:
		return ViewTrash, true
	}
	return "", false
}

// ── Model Types ─────────────────────────────────────────────

const (
	ModelTypeOpenAI    = "openai"
	ModelTypeAnthropic = "anthropic"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultSystemPrompt seeds the conversation history of every new session.
const DefaultSystemPrompt = "あなたは親切で知識豊富なアシスタントです。日本語で回答してください。会話の文脈を踏まえて応答してください。"

// ChatMessage is one entry of a session's conversation history.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ── Catalog ─────────────────────────────────────────────────

// Deployment is one selectable model endpoint within a region.
type Deployment struct {
	Region          string `json:"region"`
	DeploymentName  string `json:"deployment_name"`
	ModelType       string `json:"model_type"`
	Constructor     string `json:"constructor"`
	ConstructorIcon string `json:"constructor_icon"`
	Endpoint        string `json:"endpoint"`
	APIVersion      string `json:"api_version"`
	DisplayName     string `json:"display_name"`
	Label           string `json:"label"`

	// Populated from the deployment metadata file when present.
	Provider         string   `json:"provider,omitempty"`
	ProviderIcon     string   `json:"provider_icon,omitempty"`
	ReleaseDate      string   `json:"release_date,omitempty"`
	SortOrder        int      `json:"sort_order"`
	CapabilityTags   []string `json:"capability_tag,omitempty"`
	RecommendedUsage string   `json:"recommended_usage,omitempty"`
}

// Key identifies a deployment across regions.
func (d Deployment) Key() string {
	return d.Region + "/" + d.DeploymentName
}

// ── Pricing ─────────────────────────────────────────────────

// Pricing is a per-1k-token USD rate pair.
type Pricing struct {
	PromptPer1K     float64 `json:"prompt_per_1k" toml:"prompt_per_1k"`
	CompletionPer1K float64 `json:"completion_per_1k" toml:"completion_per_1k"`
}

// CostBreakdown is the cost of one turn.
type CostBreakdown struct {
	PromptCostUSD     float64 `json:"prompt_cost_usd"`
	CompletionCostUSD float64 `json:"completion_cost_usd"`
	TotalCostUSD      float64 `json:"total_cost_usd"`
	TotalCostJPY      float64 `json:"total_cost_jpy"`
}

// ── Session ─────────────────────────────────────────────────

// ModelDescriptor is the model snapshot stored with a session.
type ModelDescriptor struct {
	DeploymentName  string `json:"deployment_name"`
	Region          string `json:"region"`
	ModelType       string `json:"model_type"`
	Constructor     string `json:"constructor"`
	ConstructorIcon string `json:"constructor_icon"`
	Endpoint        string `json:"endpoint"`
	APIVersion      string `json:"api_version"`
	APIKey          string `json:"api_key"`

	Provider         string   `json:"provider,omitempty"`
	ProviderIcon     string   `json:"provider_icon,omitempty"`
	DisplayName      string   `json:"display_name,omitempty"`
	ReleaseDate      string   `json:"release_date,omitempty"`
	SortOrder        int      `json:"sort_order,omitempty"`
	CapabilityTags   []string `json:"capability_tag,omitempty"`
	RecommendedUsage string   `json:"recommended_usage,omitempty"`
}

// Masked returns a copy with the API key redacted.
func (m ModelDescriptor) Masked() ModelDescriptor {
	if m.APIKey != "" {
		m.APIKey = "********"
	}
	m.CapabilityTags = append([]string(nil), m.CapabilityTags...)
	return m
}

// SessionConfig snapshots the rates in effect when the session was created.
type SessionConfig struct {
	Pricing  Pricing `json:"pricing"`
	USDToJPY float64 `json:"usd_to_jpy"`
}

// TurnRequest is the user half of a message log.
type TurnRequest struct {
	Timestamp      Timestamp `json:"timestamp"`
	UserInput      string    `json:"user_input"`
	UserInputChars int       `json:"user_input_chars"`
}

// TurnResponse is the model half of a message log.
type TurnResponse struct {
	Timestamp           Timestamp `json:"timestamp"`
	ResponseTimeSeconds float64   `json:"response_time_seconds"`
	Model               string    `json:"model"`
	ModelType           string    `json:"model_type"`
	Region              string    `json:"region"`
	ResponseID          string    `json:"response_id"`
	FinishReason        string    `json:"finish_reason"`
	AIResponse          string    `json:"ai_response"`
	AIResponseChars     int       `json:"ai_response_chars"`
}

// TurnMetrics holds token accounting for one turn.
type TurnMetrics struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	TokensPerSecond  float64 `json:"tokens_per_second"`
	UsageEstimated   bool    `json:"usage_estimated,omitempty"`
}

// MessageLog is the full record of one successful turn.
type MessageLog struct {
	Turn     int           `json:"turn"`
	Request  TurnRequest   `json:"request"`
	Response TurnResponse  `json:"response"`
	Metrics  TurnMetrics   `json:"metrics"`
	Cost     CostBreakdown `json:"cost"`
}

// ErrorLog records a failed turn.
type ErrorLog struct {
	Turn         int       `json:"turn"`
	Timestamp    Timestamp `json:"timestamp"`
	ErrorType    string    `json:"error_type"`
	ErrorMessage string    `json:"error_message"`
	UserInput    string    `json:"user_input"`
}

// NameChange records a rename.
type NameChange struct {
	Timestamp      Timestamp `json:"timestamp"`
	OldName        string    `json:"old_name"`
	NewName        string    `json:"new_name"`
	GeneratedByLLM bool      `json:"generated_by_llm,omitempty"`
}

// SessionStats is computed from the message logs when a session ends.
type SessionStats struct {
	TotalTurns             int     `json:"total_turns"`
	TotalTokens            int     `json:"total_tokens"`
	TotalCostUSD           float64 `json:"total_cost_usd"`
	TotalCostJPY           float64 `json:"total_cost_jpy"`
	AvgResponseTimeSeconds float64 `json:"avg_response_time_seconds"`
	MinResponseTimeSeconds float64 `json:"min_response_time_seconds"`
	MaxResponseTimeSeconds float64 `json:"max_response_time_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
	ConversationLength     int     `json:"conversation_length"`
}

// Session is one chat conversation as stored in the log file.
type Session struct {
	ID              string        `json:"session_id"`
	Name            string        `json:"session_name"`
	CreatedAt       Timestamp     `json:"created_at"`
	UpdatedAt       Timestamp     `json:"updated_at"`
	Status          SessionStatus `json:"status"`
	EndedAt         *Timestamp    `json:"ended_at,omitempty"`
	Deleted         bool          `json:"deleted,omitempty"`
	DeletedAt       *Timestamp    `json:"deleted_at,omitempty"`
	PurgedFromTrash bool          `json:"purged_from_trash,omitempty"`

	Model               ModelDescriptor `json:"model"`
	Config              SessionConfig   `json:"config"`
	ConversationHistory []ChatMessage   `json:"conversation_history"`
	Messages            []MessageLog    `json:"messages"`
	Errors              []ErrorLog      `json:"errors"`
	Stats               *SessionStats   `json:"stats"`
	NameChanges         []NameChange    `json:"name_changes"`
}

// InTrash reports whether the session is shown in the trash view.
func (s *Session) InTrash() bool {
	return s.Deleted && !s.PurgedFromTrash
}

// InView reports whether the session belongs to the given sidebar list.
func (s *Session) InView(v SessionView) bool {
	switch v {
	case ViewActive:
		return !s.Deleted && s.Status == SessionActive
	case ViewCompleted:
		return !s.Deleted && s.Status == SessionCompleted
	case ViewTrash:
		return s.InTrash()
	}
	return false
}

// Normalize fills fields that older log files may omit.
func (s *Session) Normalize() {
	if s.Status == "" {
		s.Status = SessionActive
	}
	if s.ConversationHistory == nil {
		s.ConversationHistory = []ChatMessage{}
	}
	if s.Messages == nil {
		s.Messages = []MessageLog{}
	}
	if s.Errors == nil {
		s.Errors = []ErrorLog{}
	}
	if s.NameChanges == nil {
		s.NameChanges = []NameChange{}
	}
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Model.CapabilityTags = append([]string(nil), s.Model.CapabilityTags...)
	cp.ConversationHistory = append([]ChatMessage{}, s.ConversationHistory...)
	cp.Messages = append([]MessageLog{}, s.Messages...)
	cp.Errors = append([]ErrorLog{}, s.Errors...)
	cp.NameChanges = append([]NameChange{}, s.NameChanges...)
	if s.EndedAt != nil {
		t := *s.EndedAt
		cp.EndedAt = &t
	}
	if s.DeletedAt != nil {
		t := *s.DeletedAt
		cp.DeletedAt = &t
	}
	if s.Stats != nil {
		st := *s.Stats
		cp.Stats = &st
	}
	return &cp
}

// Totals sums tokens and cost over the message logs.
func (s *Session) Totals() (tokens int, costUSD, costJPY float64) {
	for _, m := range s.Messages {
		tokens += m.Metrics.TotalTokens
		costUSD += m.Cost.TotalCostUSD
		costJPY += m.Cost.TotalCostJPY
	}
	return tokens, costUSD, costJPY
}

// Summary builds the list representation of the session.
func (s *Session) Summary() SessionSummary {
	tokens, usd, jpy := s.Totals()
	return SessionSummary{
		ID:           s.ID,
		Name:         s.Name,
		Status:       s.Status,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		DeletedAt:    s.DeletedAt,
		Model:        s.Model.Masked(),
		Turns:        len(s.Messages),
		Errors:       len(s.Errors),
		TotalTokens:  tokens,
		TotalCostUSD: usd,
		TotalCostJPY: jpy,
	}
}

// SessionSummary is the list representation of a session.
type SessionSummary struct {
	ID           string          `json:"session_id"`
	Name         string          `json:"session_name"`
	Status       SessionStatus   `json:"status"`
	CreatedAt    Timestamp       `json:"created_at"`
	UpdatedAt    Timestamp       `json:"updated_at"`
	DeletedAt    *Timestamp      `json:"deleted_at,omitempty"`
	Model        ModelDescriptor `json:"model"`
	Turns        int             `json:"turns"`
	Errors       int             `json:"errors"`
	TotalTokens  int             `json:"total_tokens"`
	TotalCostUSD float64         `json:"total_cost_usd"`
	TotalCostJPY float64         `json:"total_cost_jpy"`
}

// LogDocument is the root object of the log file.
type LogDocument struct {
	Sessions map[string]*Session `json:"sessions"`
}

// ── Aggregates ──────────────────────────────────────────────

// ViewCounts holds the number of sessions per sidebar list.
type ViewCounts struct {
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Trash     int `json:"trash"`
}

// UsageSummary aggregates usage across every non-purged session.
type UsageSummary struct {
	Counts       ViewCounts         `json:"counts"`
	TotalTurns   int                `json:"total_turns"`
	TotalErrors  int                `json:"total_errors"`
	TotalTokens  int                `json:"total_tokens"`
	TotalCostUSD float64            `json:"total_cost_usd"`
	TotalCostJPY float64            `json:"total_cost_jpy"`
	ByDeployment map[string]float64 `json:"by_deployment"`
}

// ── Events ──────────────────────────────────────────────────

// EventType names a change pushed to connected browsers.
type EventType string

const (
	EventSessionCreated  EventType = "session_created"
	EventSessionUpdated  EventType = "session_updated"
	EventSessionEnded    EventType = "session_ended"
	EventSessionResumed  EventType = "session_resumed"
	EventSessionDeleted  EventType = "session_deleted"
	EventSessionPurged   EventType = "session_purged"
	EventTurnCompleted   EventType = "turn_completed"
	EventTurnFailed      EventType = "turn_failed"
	EventCatalogReloaded EventType = "catalog_reloaded"
)

// Event is a change notification.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"ts"`
}
