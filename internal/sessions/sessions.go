// Package sessions implements the chat session lifecycle on top of the log
// store: create, rename, end/resume, soft delete, purge and sending turns.
package sessions

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/llmselect/llmselect-chat/internal/pricing"
	"github.com/llmselect/llmselect-chat/internal/router"
	"github.com/llmselect/llmselect-chat/internal/store"
	"github.com/llmselect/llmselect-chat/pkg/models"
)

const defaultAPIVersion = "2024-12-01-preview"

// Catalog resolves deployments and region credentials.
type Catalog interface {
	Find(region, deployment string) (models.Deployment, error)
	APIKeyForRegion(region string) string
	AnthropicEndpointForRegion(region string) string
}

// LLM sends turns and generates names.
type LLM interface {
	Chat(ctx context.Context, target router.Target, req router.ChatRequest) (*router.ChatResult, error)
	GenerateSessionName(ctx context.Context, target router.Target, history []models.ChatMessage) (string, error)
}

// Pricer looks up per-deployment rates.
type Pricer interface {
	ForModel(deployment, modelType string) models.Pricing
}

// EventSink receives change notifications.
type EventSink interface {
	Publish(ev models.Event)
}

// TurnObserver is told about every completed or failed turn.
type TurnObserver interface {
	TurnCompleted(model models.ModelDescriptor, msg models.MessageLog)
	TurnFailed(model models.ModelDescriptor, entry models.ErrorLog)
}

// Options tunes a Service. Zero values fall back to sensible defaults.
type Options struct {
	USDToJPY       float64
	PersistAPIKeys bool
	Events         EventSink
	Observer       TurnObserver
	Now            func() time.Time
	NewID          func(now time.Time) string
}

// Service is the session lifecycle service.
type Service struct {
	store   store.SessionStore
	catalog Catalog
	llm     LLM
	pricer  Pricer
	opts    Options
	lanes   *lanes
}

// New creates a session service.
func New(st store.SessionStore, cat Catalog, llm LLM, pricer Pricer, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = NewSessionID
	}
	if !(opts.USDToJPY > 0) || math.IsInf(opts.USDToJPY, 0) {
		opts.USDToJPY = 150
	}
	return &Service{
		store:   st,
		catalog: cat,
		llm:     llm,
		pricer:  pricer,
		opts:    opts,
		lanes:   newLanes(),
	}
}

// NewSessionID returns YYYYMMDD_HHMMSS_ followed by 8 hex characters.
func NewSessionID(now time.Time) string {
	return now.Format("20060102_150405") + "_" + uuid.NewString()[:8]
}

func (s *Service) now() models.Timestamp {
	return models.NewTimestamp(s.opts.Now())
}

func (s *Service) publish(t models.EventType, id string) {
	if s.opts.Events == nil {
		return
	}
	s.opts.Events.Publish(models.Event{Type: t, SessionID: id, Timestamp: s.opts.Now()})
}

// ── Create / Read ───────────────────────────────────────────

// CreateRequest selects the model for a new session.
type CreateRequest struct {
	Region         string `json:"region"`
	DeploymentName string `json:"deployment_name"`
}

// Create starts a new active session with the chosen deployment.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Session, error) {
	dep, err := s.catalog.Find(req.Region, req.DeploymentName)
	if err != nil {
		return nil, err
	}

	start := s.opts.Now()
	ts := models.NewTimestamp(start)
	desc := models.ModelDescriptor{
		DeploymentName:   dep.DeploymentName,
		Region:           dep.Region,
		ModelType:        dep.ModelType,
		Constructor:      dep.Constructor,
		ConstructorIcon:  dep.ConstructorIcon,
		Endpoint:         dep.Endpoint,
		APIVersion:       dep.APIVersion,
		Provider:         dep.Provider,
		ProviderIcon:     dep.ProviderIcon,
		ReleaseDate:      dep.ReleaseDate,
		CapabilityTags:   append([]string(nil), dep.CapabilityTags...),
		RecommendedUsage: dep.RecommendedUsage,
	}
	if dep.Provider != "" {
		desc.DisplayName = dep.DisplayName
		desc.SortOrder = dep.SortOrder
	}
	if s.opts.PersistAPIKeys {
		desc.APIKey = s.catalog.APIKeyForRegion(dep.Region)
	}

	sess := &models.Session{
		ID:        s.opts.NewID(start),
		Name:      "Session_" + start.Format("20060102_150405"),
		CreatedAt: ts,
		UpdatedAt: ts,
		Status:    models.SessionActive,
		Model:     desc,
		Config: models.SessionConfig{
			Pricing:  pricing.Default,
			USDToJPY: s.opts.USDToJPY,
		},
		ConversationHistory: []models.ChatMessage{
			{Role: models.RoleSystem, Content: models.DefaultSystemPrompt},
		},
		Messages:    []models.MessageLog{},
		Errors:      []models.ErrorLog{},
		NameChanges: []models.NameChange{},
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	log.Info().
		Str("session", sess.ID).
		Str("deployment", desc.DeploymentName).
		Str("region", desc.Region).
		Msg("💬 Session created")
	s.publish(models.EventSessionCreated, sess.ID)
	return sess, nil
}

// Get returns one session, including deleted and purged ones.
func (s *Service) Get(ctx context.Context, id string) (*models.Session, error) {
	return s.store.GetSession(ctx, id)
}

// List returns the sessions of one sidebar view. Active and completed lists
// are ordered by last update, trash by deletion time, newest first.
func (s *Service) List(ctx context.Context, view models.SessionView) ([]*models.Session, error) {
	all, err := s.store.ListSessions(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*models.Session, 0, len(all))
	for _, sess := range all {
		if sess.InView(view) {
			result = append(result, sess)
		}
	}

	if view == models.ViewTrash {
		sort.SliceStable(result, func(i, j int) bool {
			return deletedAt(result[i]).After(deletedAt(result[j]))
		})
	} else {
		sort.SliceStable(result, func(i, j int) bool {
			return result[i].UpdatedAt.After(result[j].UpdatedAt.Time)
		})
	}
	return result, nil
}

func deletedAt(s *models.Session) time.Time {
	if s.DeletedAt == nil {
		return time.Time{}
	}
	return s.DeletedAt.Time
}

// Counts returns the size of each sidebar view.
func (s *Service) Counts(ctx context.Context) (models.ViewCounts, error) {
	all, err := s.store.ListSessions(ctx)
	if err != nil {
		return models.ViewCounts{}, err
	}
	return countViews(all), nil
}

func countViews(all []*models.Session) models.ViewCounts {
	var c models.ViewCounts
	for _, sess := range all {
		switch {
		case sess.InView(models.ViewActive):
			c.Active++
		case sess.InView(models.ViewCompleted):
			c.Completed++
		case sess.InView(models.ViewTrash):
			c.Trash++
		}
	}
	return c
}

// Usage aggregates turns, errors, tokens and cost over every session that
// has not been purged.
func (s *Service) Usage(ctx context.Context) (*models.UsageSummary, error) {
	all, err := s.store.ListSessions(ctx)
	if err != nil {
		return nil, err
	}

	u := &models.UsageSummary{
		Counts:       countViews(all),
		ByDeployment: make(map[string]float64),
	}
	for _, sess := range all {
		if sess.PurgedFromTrash {
			continue
		}
		tokens, usd, jpy := sess.Totals()
		u.TotalTurns += len(sess.Messages)
		u.TotalErrors += len(sess.Errors)
		u.TotalTokens += tokens
		u.TotalCostUSD += usd
		u.TotalCostJPY += jpy
		if sess.Model.DeploymentName != "" {
			u.ByDeployment[sess.Model.DeploymentName] += usd
		}
	}
	u.TotalCostUSD = pricing.Round(u.TotalCostUSD, 6)
	u.TotalCostJPY = pricing.Round(u.TotalCostJPY, 2)
	for k, v := range u.ByDeployment {
		u.ByDeployment[k] = pricing.Round(v, 6)
	}
	return u, nil
}

// ── Rename ──────────────────────────────────────────────────

// Rename changes the session name. An unchanged name is a no-op.
func (s *Service) Rename(ctx context.Context, id, name string) (*models.Session, error) {
	return s.rename(ctx, id, name, false)
}

// GenerateName asks the session's model for a title and applies it.
func (s *Service) GenerateName(ctx context.Context, id string) (*models.Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Deleted {
		return nil, &ErrInvalidTransition{From: state(sess), Op: "rename"}
	}
	name, err := s.llm.GenerateSessionName(ctx, s.target(sess), sess.ConversationHistory)
	if err != nil {
		return nil, err
	}
	return s.rename(ctx, id, name, true)
}

func (s *Service) rename(ctx context.Context, id, name string, generated bool) (*models.Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}

	changed := false
	sess, err := s.store.UpdateSession(ctx, id, func(sess *models.Session) error {
		if sess.Deleted {
			return &ErrInvalidTransition{From: state(sess), Op: "rename"}
		}
		if sess.Name == name {
			return nil
		}
		now := s.now()
		sess.NameChanges = append(sess.NameChanges, models.NameChange{
			Timestamp:      now,
			OldName:        sess.Name,
			NewName:        name,
			GeneratedByLLM: generated,
		})
		sess.Name = name
		sess.UpdatedAt = now
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		log.Info().Str("session", id).Str("name", name).Bool("generated", generated).Msg("Session renamed")
		s.publish(models.EventSessionUpdated, id)
	}
	return sess, nil
}

// ── Lifecycle ───────────────────────────────────────────────

// End completes an active session and computes its statistics. It waits
// for a turn in flight so the stats cover every recorded message.
func (s *Service) End(ctx context.Context, id string) (*models.Session, error) {
	release, err := s.lanes.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := s.store.UpdateSession(ctx, id, func(sess *models.Session) error {
		if sess.Deleted || sess.Status != models.SessionActive {
			return &ErrInvalidTransition{From: state(sess), Op: "end"}
		}
		now := s.now()
		sess.Status = models.SessionCompleted
		sess.EndedAt = models.TimestampPtr(now.Time)
		sess.UpdatedAt = now
		sess.Stats = ComputeStats(sess, now, s.opts.USDToJPY)
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("session", id).Int("turns", sess.Stats.TotalTurns).Msg("🏁 Session ended")
	s.publish(models.EventSessionEnded, id)
	return sess, nil
}

// Resume reactivates a completed session. Its stats keep the snapshot taken
// at End.
func (s *Service) Resume(ctx context.Context, id string) (*models.Session, error) {
	release, err := s.lanes.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := s.store.UpdateSession(ctx, id, func(sess *models.Session) error {
		if sess.Deleted || sess.Status != models.SessionCompleted {
			return &ErrInvalidTransition{From: state(sess), Op: "resume"}
		}
		sess.Status = models.SessionActive
		sess.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("session", id).Msg("🔄 Session resumed")
	s.publish(models.EventSessionResumed, id)
	return sess, nil
}

// Delete moves a session to the trash, after any turn in flight.
func (s *Service) Delete(ctx context.Context, id string) (*models.Session, error) {
	release, err := s.lanes.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := s.store.UpdateSession(ctx, id, func(sess *models.Session) error {
		if sess.Deleted {
			return &ErrInvalidTransition{From: state(sess), Op: "delete"}
		}
		now := s.now()
		sess.Deleted = true
		sess.DeletedAt = models.TimestampPtr(now.Time)
		sess.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("session", id).Msg("🗑️ Session moved to trash")
	s.publish(models.EventSessionDeleted, id)
	return sess, nil
}

// Purge hides the given trashed sessions permanently. Sessions that are not
// in the trash are ignored. The records stay in the log file.
func (s *Service) Purge(ctx context.Context, ids []string) (int, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	return s.purge(ctx, func(id string) bool { return want[id] })
}

// EmptyTrash purges every session in the trash.
func (s *Service) EmptyTrash(ctx context.Context) (int, error) {
	return s.purge(ctx, func(string) bool { return true })
}

func (s *Service) purge(ctx context.Context, match func(id string) bool) (int, error) {
	var purged []string
	err := s.store.UpdateSessions(ctx, func(all map[string]*models.Session) (bool, error) {
		for id, sess := range all {
			if sess.InTrash() && match(id) {
				sess.PurgedFromTrash = true
				purged = append(purged, id)
			}
		}
		return len(purged) > 0, nil
	})
	if err != nil {
		return 0, err
	}

	sort.Strings(purged)
	for _, id := range purged {
		s.publish(models.EventSessionPurged, id)
	}
	if len(purged) > 0 {
		log.Info().Int("count", len(purged)).Msg("Sessions purged from trash")
	}
	return len(purged), nil
}

// ── Turns ───────────────────────────────────────────────────

// TurnResult is a completed turn and the session after it was recorded.
type TurnResult struct {
	Session *models.Session   `json:"session"`
	Message models.MessageLog `json:"message"`
}

// Send runs one turn: the user input plus the full history go to the
// session's model. On success the user and assistant messages and the
// message log are recorded together. On failure only an error log entry is
// recorded and a *TurnError is returned, so the history never holds an
// unanswered user message. Turns on the same session run one at a time.
func (s *Service) Send(ctx context.Context, id, input string) (*TurnResult, error) {
	if strings.TrimSpace(input) == "" {
		return nil, ErrEmptyInput
	}

	release, err := s.lanes.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Deleted {
		return nil, &ErrInvalidTransition{From: state(sess), Op: "send to"}
	}
	if sess.Status != models.SessionActive {
		return nil, ErrSessionCompleted
	}

	target := s.target(sess)
	userMsg := models.ChatMessage{Role: models.RoleUser, Content: input}
	history := append(append([]models.ChatMessage{}, sess.ConversationHistory...), userMsg)

	requestTime := s.now()
	result, callErr := s.llm.Chat(ctx, target, router.ChatRequest{Messages: history})
	responseTime := s.now()

	// The outcome is recorded even if the caller went away mid-call.
	writeCtx := context.WithoutCancel(ctx)

	if callErr != nil {
		var entry models.ErrorLog
		_, err := s.store.UpdateSession(writeCtx, id, func(sess *models.Session) error {
			entry = models.ErrorLog{
				Turn:         len(sess.Messages) + 1,
				Timestamp:    responseTime,
				ErrorType:    router.ErrorType(callErr),
				ErrorMessage: callErr.Error(),
				UserInput:    input,
			}
			sess.Errors = append(sess.Errors, entry)
			sess.UpdatedAt = responseTime
			return nil
		})
		if err != nil {
			log.Error().Err(err).Str("session", id).Msg("Failed to record turn error")
		}
		if s.opts.Observer != nil {
			s.opts.Observer.TurnFailed(sess.Model, entry)
		}
		s.publish(models.EventTurnFailed, id)
		return nil, &TurnError{Entry: entry, Err: callErr}
	}

	rate := sess.Config.USDToJPY
	if rate <= 0 {
		rate = s.opts.USDToJPY
	}
	cost := pricing.Calculate(result.PromptTokens, result.CompletionTokens,
		s.pricer.ForModel(sess.Model.DeploymentName, sess.Model.ModelType), rate)

	tps := 0.0
	if result.ResponseTimeSeconds > 0 {
		tps = pricing.Round(float64(result.CompletionTokens)/result.ResponseTimeSeconds, 2)
	}

	var msg models.MessageLog
	updated, err := s.store.UpdateSession(writeCtx, id, func(sess *models.Session) error {
		// Another process may have ended or trashed the session meanwhile.
		if sess.Deleted {
			return &ErrInvalidTransition{From: state(sess), Op: "send to"}
		}
		if sess.Status != models.SessionActive {
			return ErrSessionCompleted
		}
		msg = models.MessageLog{
			Turn: len(sess.Messages) + 1,
			Request: models.TurnRequest{
				Timestamp:      requestTime,
				UserInput:      input,
				UserInputChars: utf8.RuneCountInString(input),
			},
			Response: models.TurnResponse{
				Timestamp:           responseTime,
				ResponseTimeSeconds: result.ResponseTimeSeconds,
				Model:               result.ResponseModel,
				ModelType:           sess.Model.ModelType,
				Region:              sess.Model.Region,
				ResponseID:          result.ResponseID,
				FinishReason:        result.FinishReason,
				AIResponse:          result.AIResponse,
				AIResponseChars:     utf8.RuneCountInString(result.AIResponse),
			},
			Metrics: models.TurnMetrics{
				PromptTokens:     result.PromptTokens,
				CompletionTokens: result.CompletionTokens,
				TotalTokens:      result.TotalTokens,
				TokensPerSecond:  tps,
				UsageEstimated:   result.UsageEstimated,
			},
			Cost: cost,
		}
		sess.ConversationHistory = append(sess.ConversationHistory,
			userMsg,
			models.ChatMessage{Role: models.RoleAssistant, Content: result.AIResponse},
		)
		sess.Messages = append(sess.Messages, msg)
		sess.UpdatedAt = responseTime
		if s.opts.PersistAPIKeys && sess.Model.APIKey == "" {
			sess.Model.APIKey = target.APIKey
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("session", id).
		Int("turn", msg.Turn).
		Int("tokens", msg.Metrics.TotalTokens).
		Float64("cost_usd", msg.Cost.TotalCostUSD).
		Msg("Turn completed")
	if s.opts.Observer != nil {
		s.opts.Observer.TurnCompleted(updated.Model, msg)
	}
	s.publish(models.EventTurnCompleted, id)
	s.publish(models.EventSessionUpdated, id)
	return &TurnResult{Session: updated, Message: msg}, nil
}

// target resolves where a session's turns are sent. Stored keys win over
// region keys; Anthropic endpoints are re-resolved from the region so that
// endpoint changes apply to existing sessions.
func (s *Service) target(sess *models.Session) router.Target {
	m := sess.Model
	apiKey := m.APIKey
	if apiKey == "" {
		apiKey = s.catalog.APIKeyForRegion(m.Region)
	}
	endpoint := m.Endpoint
	if m.ModelType == models.ModelTypeAnthropic {
		if ep := s.catalog.AnthropicEndpointForRegion(m.Region); ep != "" {
			endpoint = ep
		}
	}
	apiVersion := m.APIVersion
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	return router.Target{
		ModelType:  m.ModelType,
		Region:     m.Region,
		Deployment: m.DeploymentName,
		Endpoint:   endpoint,
		APIKey:     apiKey,
		APIVersion: apiVersion,
	}
}
