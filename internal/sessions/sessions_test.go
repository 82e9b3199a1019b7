package sessions_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/llmselect/llmselect-chat/internal/pricing"
	"github.com/llmselect/llmselect-chat/internal/router"
	"github.com/llmselect/llmselect-chat/internal/sessions"
	"github.com/llmselect/llmselect-chat/internal/store"
	"github.com/llmselect/llmselect-chat/pkg/models"
)

// fakeCatalog serves a fixed set of deployments.
type fakeCatalog struct {
	deployments []models.Deployment
}

func (c *fakeCatalog) Find(region, deployment string) (models.Deployment, error) {
	for _, d := range c.deployments {
		if d.Region == region && d.DeploymentName == deployment {
			return d, nil
		}
	}
	return models.Deployment{}, errors.New("unknown deployment")
}

func (c *fakeCatalog) APIKeyForRegion(region string) string { return "key-" + region }

func (c *fakeCatalog) AnthropicEndpointForRegion(region string) string {
	return "https://anthropic.example/" + region
}

// fakeLLM records the requests it receives.
type fakeLLM struct {
	mu      sync.Mutex
	targets []router.Target
	reqs    []router.ChatRequest
	chat    func(ctx context.Context, req router.ChatRequest) (*router.ChatResult, error)
	name    string
}

func (f *fakeLLM) Chat(ctx context.Context, target router.Target, req router.ChatRequest) (*router.ChatResult, error) {
	f.mu.Lock()
	f.targets = append(f.targets, target)
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.chat != nil {
		return f.chat(ctx, req)
	}
	return &router.ChatResult{
		AIResponse:          "こんにちは",
		PromptTokens:        1000,
		CompletionTokens:    500,
		TotalTokens:         1500,
		FinishReason:        "stop",
		ResponseModel:       "gpt-4o-2024-08-06",
		ResponseID:          "resp-1",
		ResponseTimeSeconds: 2.5,
	}, nil
}

func (f *fakeLLM) GenerateSessionName(_ context.Context, target router.Target, history []models.ChatMessage) (string, error) {
	if len(history) < 2 {
		return "", router.ErrNoConversation
	}
	return f.name, nil
}

// recorder collects published events and observed turns.
type recorder struct {
	mu        sync.Mutex
	events    []models.Event
	completed int
	failed    int
}

func (r *recorder) Publish(ev models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) TurnCompleted(models.ModelDescriptor, models.MessageLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed++
}

func (r *recorder) TurnFailed(models.ModelDescriptor, models.ErrorLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed++
}

func (r *recorder) types() []models.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	svc   *sessions.Service
	store *store.JSONFileStore
	llm   *fakeLLM
	rec   *recorder
	clock *time.Time
}

func newFixture(t *testing.T, persistKeys bool) *fixture {
	t.Helper()
	st, err := store.NewJSONFileStore(filepath.Join(t.TempDir(), "chat_log.json"))
	if err != nil {
		t.Fatalf("NewJSONFileStore() error = %v", err)
	}
	cat := &fakeCatalog{deployments: []models.Deployment{
		{Region: "Japan East", DeploymentName: "gpt-4o", ModelType: models.ModelTypeOpenAI,
			Constructor: "OpenAI", Endpoint: "https://je.example", APIVersion: "2024-10-21"},
		{Region: "East US2", DeploymentName: "claude-sonnet-4", ModelType: models.ModelTypeAnthropic,
			Constructor: "Anthropic", Endpoint: "https://stale.example"},
	}}
	llm := &fakeLLM{name: "天気の相談"}
	rec := &recorder{}

	clock := time.Date(2025, 3, 1, 9, 0, 0, 0, time.Local)
	f := &fixture{store: st, llm: llm, rec: rec, clock: &clock}
	f.svc = sessions.New(st, cat, llm, pricing.NewTable(), sessions.Options{
		USDToJPY:       150,
		PersistAPIKeys: persistKeys,
		Events:         rec,
		Observer:       rec,
		Now: func() time.Time {
			*f.clock = f.clock.Add(time.Second)
			return *f.clock
		},
	})
	return f
}

func (f *fixture) create(t *testing.T) *models.Session {
	t.Helper()
	s, err := f.svc.Create(context.Background(), sessions.CreateRequest{Region: "Japan East", DeploymentName: "gpt-4o"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return s
}

// ─── Create ──────────────────────────────────────────────────

func TestCreate(t *testing.T) {
	f := newFixture(t, false)
	s := f.create(t)

	if !strings.HasPrefix(s.ID, "20250301_090001_") || len(s.ID) != len("20250301_090001_")+8 {
		t.Errorf("ID = %q", s.ID)
	}
	if s.Name != "Session_20250301_090001" {
		t.Errorf("Name = %q", s.Name)
	}
	if s.Status != models.SessionActive {
		t.Errorf("Status = %q, want active", s.Status)
	}
	if len(s.ConversationHistory) != 1 || s.ConversationHistory[0].Role != models.RoleSystem {
		t.Errorf("ConversationHistory = %+v, want system prompt only", s.ConversationHistory)
	}
	if s.Model.APIKey != "" {
		t.Errorf("APIKey = %q, want empty when keys are not persisted", s.Model.APIKey)
	}
	if s.Config.USDToJPY != 150 || s.Config.Pricing != pricing.Default {
		t.Errorf("Config = %+v", s.Config)
	}

	got, err := f.svc.Get(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Model.DeploymentName != "gpt-4o" {
		t.Errorf("stored deployment = %q", got.Model.DeploymentName)
	}
	if types := f.rec.types(); len(types) != 1 || types[0] != models.EventSessionCreated {
		t.Errorf("events = %v", types)
	}
}

func TestCreate_PersistAPIKey(t *testing.T) {
	f := newFixture(t, true)
	s := f.create(t)
	if s.Model.APIKey != "key-Japan East" {
		t.Errorf("APIKey = %q, want region key", s.Model.APIKey)
	}
}

func TestCreate_UnknownDeployment(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.svc.Create(context.Background(), sessions.CreateRequest{Region: "Japan East", DeploymentName: "nope"})
	if err == nil {
		t.Fatal("Create() expected error for unknown deployment")
	}
}

// ─── Send ────────────────────────────────────────────────────

func TestSend(t *testing.T) {
	f := newFixture(t, false)
	s := f.create(t)

	res, err := f.svc.Send(context.Background(), s.ID, "  東京の天気は？")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	msg := res.Message
	if msg.Turn != 1 {
		t.Errorf("Turn = %d, want 1", msg.Turn)
	}
	if msg.Request.UserInput != "  東京の天気は？" {
		t.Errorf("UserInput = %q, want raw input", msg.Request.UserInput)
	}
	if msg.Request.UserInputChars != 9 {
		t.Errorf("UserInputChars = %d, want 9", msg.Request.UserInputChars)
	}
	if msg.Response.AIResponseChars != 5 {
		t.Errorf("AIResponseChars = %d, want 5", msg.Response.AIResponseChars)
	}
	if msg.Metrics.TokensPerSecond != 200 {
		t.Errorf("TokensPerSecond = %v, want 200", msg.Metrics.TokensPerSecond)
	}
	want := pricing.Calculate(1000, 500, pricing.NewTable().ForModel("gpt-4o", models.ModelTypeOpenAI), 150)
	if msg.Cost != want {
		t.Errorf("Cost = %+v, want %+v", msg.Cost, want)
	}

	hist := res.Session.ConversationHistory
	if len(hist) != 3 || hist[1].Role != models.RoleUser || hist[2].Content != "こんにちは" {
		t.Errorf("ConversationHistory = %+v", hist)
	}

	// The request carries the full history plus the new input.
	req := f.llm.reqs[0]
	if len(req.Messages) != 2 || req.Messages[1].Content != "  東京の天気は？" {
		t.Errorf("request messages = %+v", req.Messages)
	}
	target := f.llm.targets[0]
	if target.APIKey != "key-Japan East" || target.Endpoint != "https://je.example" || target.APIVersion != "2024-10-21" {
		t.Errorf("target = %+v", target)
	}

	if f.rec.completed != 1 {
		t.Errorf("observer completed = %d, want 1", f.rec.completed)
	}
}

func TestSend_SecondTurnNumbering(t *testing.T) {
	f := newFixture(t, false)
	s := f.create(t)
	ctx := context.Background()

	if _, err := f.svc.Send(ctx, s.ID, "one"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	res, err := f.svc.Send(ctx, s.ID, "two")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if res.Message.Turn != 2 {
		t.Errorf("Turn = %d, want 2", res.Message.Turn)
	}
	if n := len(f.llm.reqs[1].Messages); n != 4 {
		t.Errorf("second request has %d messages, want 4", n)
	}
}

func TestSend_AnthropicEndpointFromRegion(t *testing.T) {
	f := newFixture(t, false)
	s, err := f.svc.Create(context.Background(), sessions.CreateRequest{Region: "East US2", DeploymentName: "claude-sonnet-4"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := f.svc.Send(context.Background(), s.ID, "hi"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	target := f.llm.targets[0]
	if target.Endpoint != "https://anthropic.example/East US2" {
		t.Errorf("Endpoint = %q", target.Endpoint)
	}
	if target.APIVersion != "2024-12-01-preview" {
		t.Errorf("APIVersion = %q, want default", target.APIVersion)
	}
}

func TestSend_ErrorRollsBack(t *testing.T) {
	f := newFixture(t, false)
	s := f.create(t)
	f.llm.chat = func(context.Context, router.ChatRequest) (*router.ChatResult, error) {
		return nil, context.DeadlineExceeded
	}

	_, err := f.svc.Send(context.Background(), s.ID, "hello")
	var turnErr *sessions.TurnError
	if !errors.As(err, &turnErr) {
		t.Fatalf("Send() error = %v, want *TurnError", err)
	}
	if turnErr.Entry.ErrorType != "Timeout" || turnErr.Entry.Turn != 1 || turnErr.Entry.UserInput != "hello" {
		t.Errorf("error entry = %+v", turnErr.Entry)
	}

	got, err := f.svc.Get(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(got.ConversationHistory) != 1 {
		t.Errorf("ConversationHistory has %d entries, want 1 (rolled back)", len(got.ConversationHistory))
	}
	if len(got.Messages) != 0 {
		t.Errorf("Messages = %d, want 0", len(got.Messages))
	}
	if len(got.Errors) != 1 {
		t.Fatalf("Errors = %d, want 1", len(got.Errors))
	}
	if !got.UpdatedAt.After(s.UpdatedAt.Time) {
		t.Error("UpdatedAt was not bumped on failure")
	}
	if f.rec.failed != 1 {
		t.Errorf("observer failed = %d, want 1", f.rec.failed)
	}
}

func TestSend_RecordsErrorAfterCancel(t *testing.T) {
	f := newFixture(t, false)
	s := f.create(t)

	ctx, cancel := context.WithCancel(context.Background())
	f.llm.chat = func(context.Context, router.ChatRequest) (*router.ChatResult, error) {
		cancel()
		return nil, context.Canceled
	}

	if _, err := f.svc.Send(ctx, s.ID, "hello"); err == nil {
		t.Fatal("Send() expected error")
	}
	got, _ := f.svc.Get(context.Background(), s.ID)
	if len(got.Errors) != 1 || got.Errors[0].ErrorType != "Canceled" {
		t.Errorf("Errors = %+v, want one Canceled entry", got.Errors)
	}
}

func TestSend_Rejections(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	s := f.create(t)
	if _, err := f.svc.Send(ctx, s.ID, "   "); !errors.Is(err, sessions.ErrEmptyInput) {
		t.Errorf("Send(blank) error = %v, want ErrEmptyInput", err)
	}

	if _, err := f.svc.End(ctx, s.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if _, err := f.svc.Send(ctx, s.ID, "hi"); !errors.Is(err, sessions.ErrSessionCompleted) {
		t.Errorf("Send(completed) error = %v, want ErrSessionCompleted", err)
	}

	d := f.create(t)
	if _, err := f.svc.Delete(ctx, d.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	var invalid *sessions.ErrInvalidTransition
	if _, err := f.svc.Send(ctx, d.ID, "hi"); !errors.As(err, &invalid) {
		t.Errorf("Send(deleted) error = %v, want ErrInvalidTransition", err)
	}

	var nf *store.ErrNotFound
	if _, err := f.svc.Send(ctx, "missing", "hi"); !errors.As(err, &nf) {
		t.Errorf("Send(missing) error = %v, want ErrNotFound", err)
	}
	if len(f.llm.reqs) != 0 {
		t.Errorf("LLM called %d times, want 0", len(f.llm.reqs))
	}
}

func TestSend_SerializedPerSession(t *testing.T) {
	f := newFixture(t, false)
	s := f.create(t)

	var (
		mu      sync.Mutex
		running int
		peak    int
	)
	f.llm.chat = func(context.Context, router.ChatRequest) (*router.ChatResult, error) {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		return &router.ChatResult{AIResponse: "ok", TotalTokens: 1}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Send(context.Background(), s.ID, "hi"); err != nil {
				t.Errorf("Send() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if peak != 1 {
		t.Errorf("peak concurrent turns = %d, want 1", peak)
	}
	got, _ := f.svc.Get(context.Background(), s.ID)
	if len(got.Messages) != 5 || len(got.ConversationHistory) != 11 {
		t.Errorf("messages = %d, history = %d; want 5 and 11", len(got.Messages), len(got.ConversationHistory))
	}
	for i, m := range got.Messages {
		if m.Turn != i+1 {
			t.Errorf("Messages[%d].Turn = %d", i, m.Turn)
		}
	}
}

func TestSend_PersistsKeyOnSuccess(t *testing.T) {
	f := newFixture(t, true)
	s := f.create(t)

	// Simulate a log written before keys were persisted.
	if _, err := f.store.UpdateSession(context.Background(), s.ID, func(s *models.Session) error {
		s.Model.APIKey = ""
		return nil
	}); err != nil {
		t.Fatalf("UpdateSession() error = %v", err)
	}

	res, err := f.svc.Send(context.Background(), s.ID, "hi")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if res.Session.Model.APIKey != "key-Japan East" {
		t.Errorf("APIKey = %q, want region key", res.Session.Model.APIKey)
	}
}

// ─── Rename ──────────────────────────────────────────────────

func TestRename(t *testing.T) {
	f := newFixture(t, false)
	s := f.create(t)
	ctx := context.Background()

	got, err := f.svc.Rename(ctx, s.ID, "  旅行の計画 ")
	if err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if got.Name != "旅行の計画" {
		t.Errorf("Name = %q", got.Name)
	}
	if len(got.NameChanges) != 1 || got.NameChanges[0].OldName != s.Name || got.NameChanges[0].GeneratedByLLM {
		t.Errorf("NameChanges = %+v", got.NameChanges)
	}

	again, err := f.svc.Rename(ctx, s.ID, "旅行の計画")
	if err != nil {
		t.Fatalf("Rename(same) error = %v", err)
	}
	if len(again.NameChanges) != 1 {
		t.Errorf("unchanged rename recorded a name change")
	}

	if _, err := f.svc.Rename(ctx, s.ID, "  "); !errors.Is(err, sessions.ErrEmptyName) {
		t.Errorf("Rename(blank) error = %v, want ErrEmptyName", err)
	}
}

func TestGenerateName(t *testing.T) {
	f := newFixture(t, false)
	s := f.create(t)
	ctx := context.Background()

	if _, err := f.svc.GenerateName(ctx, s.ID); !errors.Is(err, sessions.ErrNoConversation) {
		t.Fatalf("GenerateName(empty) error = %v, want ErrNoConversation", err)
	}

	if _, err := f.svc.Send(ctx, s.ID, "明日の東京の天気"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	got, err := f.svc.GenerateName(ctx, s.ID)
	if err != nil {
		t.Fatalf("GenerateName() error = %v", err)
	}
	if got.Name != "天気の相談" {
		t.Errorf("Name = %q", got.Name)
	}
	if n := got.NameChanges; len(n) != 1 || !n[0].GeneratedByLLM {
		t.Errorf("NameChanges = %+v", n)
	}
}

func TestRename_RejectsTrashed(t *testing.T) {
	f := newFixture(t, false)
	s := f.create(t)
	ctx := context.Background()

	if _, err := f.svc.Send(ctx, s.ID, "hi"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if _, err := f.svc.Delete(ctx, s.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	calls := len(f.llm.reqs)

	var invalid *sessions.ErrInvalidTransition
	if _, err := f.svc.Rename(ctx, s.ID, "new"); !errors.As(err, &invalid) {
		t.Errorf("Rename(deleted) error = %v, want ErrInvalidTransition", err)
	}
	if _, err := f.svc.GenerateName(ctx, s.ID); !errors.As(err, &invalid) {
		t.Errorf("GenerateName(deleted) error = %v, want ErrInvalidTransition", err)
	}
	if len(f.llm.reqs) != calls {
		t.Errorf("LLM called for a trashed session")
	}
	got, _ := f.svc.Get(ctx, s.ID)
	if got.Name != s.Name || len(got.NameChanges) != 0 {
		t.Errorf("trashed session renamed: %q %+v", got.Name, got.NameChanges)
	}
}

// ─── Lifecycle ───────────────────────────────────────────────

func TestEndAndResume(t *testing.T) {
	f := newFixture(t, false)
	s := f.create(t)
	ctx := context.Background()

	if _, err := f.svc.Send(ctx, s.ID, "hi"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	ended, err := f.svc.End(ctx, s.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != models.SessionCompleted || ended.EndedAt == nil {
		t.Errorf("ended = status %q, ended_at %v", ended.Status, ended.EndedAt)
	}
	if ended.Stats == nil || ended.Stats.TotalTurns != 1 || ended.Stats.TotalTokens != 1500 {
		t.Fatalf("Stats = %+v", ended.Stats)
	}

	var invalid *sessions.ErrInvalidTransition
	if _, err := f.svc.End(ctx, s.ID); !errors.As(err, &invalid) {
		t.Errorf("End(completed) error = %v, want ErrInvalidTransition", err)
	}

	resumed, err := f.svc.Resume(ctx, s.ID)
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if resumed.Status != models.SessionActive {
		t.Errorf("Status = %q, want active", resumed.Status)
	}
	if resumed.Stats == nil {
		t.Error("Resume() cleared stats")
	}
	if _, err := f.svc.Resume(ctx, s.ID); !errors.As(err, &invalid) {
		t.Errorf("Resume(active) error = %v, want ErrInvalidTransition", err)
	}
}

// blockTurn makes the next Chat call wait until the returned release func
// is called. entered is closed once the call is in flight.
func blockTurn(f *fixture) (entered <-chan struct{}, release func()) {
	in := make(chan struct{})
	proceed := make(chan struct{})
	f.llm.chat = func(context.Context, router.ChatRequest) (*router.ChatResult, error) {
		close(in)
		<-proceed
		return &router.ChatResult{AIResponse: "ok", PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}, nil
	}
	return in, func() { close(proceed) }
}

func TestLifecycle_WaitsForTurnInFlight(t *testing.T) {
	ops := map[string]func(*sessions.Service, context.Context, string) (*models.Session, error){
		"End":    (*sessions.Service).End,
		"Delete": (*sessions.Service).Delete,
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, false)
			s := f.create(t)
			ctx := context.Background()
			entered, release := blockTurn(f)

			sendErr := make(chan error, 1)
			go func() {
				_, err := f.svc.Send(ctx, s.ID, "hi")
				sendErr <- err
			}()
			<-entered

			type result struct {
				sess *models.Session
				err  error
			}
			opDone := make(chan result, 1)
			go func() {
				sess, err := op(f.svc, ctx, s.ID)
				opDone <- result{sess, err}
			}()

			select {
			case <-opDone:
				t.Fatalf("%s() returned while a turn was in flight", name)
			case <-time.After(50 * time.Millisecond):
			}
			release()

			if err := <-sendErr; err != nil {
				t.Fatalf("Send() error = %v", err)
			}
			res := <-opDone
			if res.err != nil {
				t.Fatalf("%s() error = %v", name, res.err)
			}
			got := res.sess
			if len(got.Messages) != 1 || len(got.ConversationHistory) != 3 {
				t.Errorf("messages = %d, history = %d; want 1 and 3", len(got.Messages), len(got.ConversationHistory))
			}
			if name == "End" {
				if got.Stats == nil || got.Stats.TotalTurns != len(got.Messages) || got.Stats.TotalTokens != 15 {
					t.Errorf("Stats = %+v, want 1 turn and 15 tokens", got.Stats)
				}
			}
		})
	}
}

func TestSend_DropsTurnWhenEndedElsewhere(t *testing.T) {
	f := newFixture(t, false)
	s := f.create(t)
	ctx := context.Background()
	entered, release := blockTurn(f)

	sendErr := make(chan error, 1)
	go func() {
		_, err := f.svc.Send(ctx, s.ID, "hi")
		sendErr <- err
	}()
	<-entered

	// A second process (the CLI) ends the session through the store.
	if _, err := f.store.UpdateSession(ctx, s.ID, func(sess *models.Session) error {
		sess.Status = models.SessionCompleted
		return nil
	}); err != nil {
		t.Fatalf("UpdateSession() error = %v", err)
	}
	release()

	if err := <-sendErr; !errors.Is(err, sessions.ErrSessionCompleted) {
		t.Fatalf("Send() error = %v, want ErrSessionCompleted", err)
	}
	got, _ := f.svc.Get(ctx, s.ID)
	if len(got.Messages) != 0 || len(got.ConversationHistory) != 1 {
		t.Errorf("messages = %d, history = %d; want 0 and 1", len(got.Messages), len(got.ConversationHistory))
	}
}

func TestDeleteAndPurge(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	a := f.create(t)
	b := f.create(t)
	c := f.create(t)

	if _, err := f.svc.Delete(ctx, a.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := f.svc.Delete(ctx, b.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	var invalid *sessions.ErrInvalidTransition
	if _, err := f.svc.Delete(ctx, a.ID); !errors.As(err, &invalid) {
		t.Errorf("Delete(deleted) error = %v, want ErrInvalidTransition", err)
	}
	if _, err := f.svc.End(ctx, a.ID); !errors.As(err, &invalid) {
		t.Errorf("End(deleted) error = %v, want ErrInvalidTransition", err)
	}

	trash, err := f.svc.List(ctx, models.ViewTrash)
	if err != nil {
		t.Fatalf("List(trash) error = %v", err)
	}
	if len(trash) != 2 || trash[0].ID != b.ID {
		t.Errorf("trash = %v, want newest deletion first", ids(trash))
	}

	// Active sessions are never purged.
	n, err := f.svc.Purge(ctx, []string{a.ID, c.ID})
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Purge() = %d, want 1", n)
	}

	n, err = f.svc.EmptyTrash(ctx)
	if err != nil {
		t.Fatalf("EmptyTrash() error = %v", err)
	}
	if n != 1 {
		t.Errorf("EmptyTrash() = %d, want 1", n)
	}

	counts, err := f.svc.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts() error = %v", err)
	}
	if counts != (models.ViewCounts{Active: 1}) {
		t.Errorf("Counts() = %+v", counts)
	}

	// Purged records stay readable in the log.
	got, err := f.svc.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("Get(purged) error = %v", err)
	}
	if !got.PurgedFromTrash {
		t.Error("PurgedFromTrash = false")
	}
}

func TestList_OrderedByUpdate(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	a := f.create(t)
	b := f.create(t)

	if _, err := f.svc.Rename(ctx, a.ID, "touched"); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	list, err := f.svc.List(ctx, models.ViewActive)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if got := ids(list); len(got) != 2 || got[0] != a.ID || got[1] != b.ID {
		t.Errorf("List() = %v, want [%s %s]", got, a.ID, b.ID)
	}
}

func TestUsage(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	a := f.create(t)
	b := f.create(t)

	for _, id := range []string{a.ID, a.ID, b.ID} {
		if _, err := f.svc.Send(ctx, id, "hi"); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}
	if _, err := f.svc.Delete(ctx, b.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := f.svc.EmptyTrash(ctx); err != nil {
		t.Fatalf("EmptyTrash() error = %v", err)
	}

	u, err := f.svc.Usage(ctx)
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}
	if u.TotalTurns != 2 || u.TotalTokens != 3000 {
		t.Errorf("Usage() = %+v, want purged session excluded", u)
	}
	if u.ByDeployment["gpt-4o"] != u.TotalCostUSD {
		t.Errorf("ByDeployment = %v, total %v", u.ByDeployment, u.TotalCostUSD)
	}
}

func ids(list []*models.Session) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.ID
	}
	return out
}
