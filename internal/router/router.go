// Package router dispatches chat turns to LLM providers.
//
// Each provider kind (Azure OpenAI, Anthropic) is a ProviderDriver registered
// by kind. The router caps the number of in-flight provider calls, records a
// client span per call, tracks a latency moving average per deployment and
// estimates token usage when a provider does not report it.
package router

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/llmselect/llmselect-chat/internal/config"
	"github.com/llmselect/llmselect-chat/pkg/models"
)

var tracer = otel.Tracer("llm-select-chat/router")

// Target identifies the deployment a request is sent to.
type Target struct {
	ModelType  string
	Region     string
	Deployment string
	Endpoint   string
	APIKey     string
	APIVersion string
}

// Key identifies the target's deployment for latency tracking.
func (t Target) Key() string {
	return t.Region + "/" + t.Deployment
}

// ChatRequest is one provider call. Zero values take the router defaults.
type ChatRequest struct {
	Messages    []models.ChatMessage
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// ChatResult is a provider's reply with usage accounting.
type ChatResult struct {
	AIResponse          string  `json:"ai_response"`
	PromptTokens        int     `json:"prompt_tokens"`
	CompletionTokens    int     `json:"completion_tokens"`
	TotalTokens         int     `json:"total_tokens"`
	FinishReason        string  `json:"finish_reason"`
	ResponseModel       string  `json:"response_model"`
	ResponseID          string  `json:"response_id"`
	ResponseTimeSeconds float64 `json:"response_time_seconds"`
	UsageEstimated      bool    `json:"usage_estimated,omitempty"`
}

// ProviderDriver calls one kind of provider.
type ProviderDriver interface {
	// Kind returns the model type this driver serves, e.g. "openai".
	Kind() string
	// Chat sends the request. Usage fields are left zero when the provider
	// does not report them.
	Chat(ctx context.Context, target Target, req ChatRequest) (*ChatResult, error)
}

// TokenCounter returns the number of tokens in text for a model.
type TokenCounter func(model, text string) int

// ErrNoDriver is returned when no driver is registered for a model type and
// there is no openai fallback.
var ErrNoDriver = errors.New("no provider driver registered")

// ModelRouter routes chat requests to registered provider drivers.
type ModelRouter struct {
	cfg config.LLMConfig

	driversMu sync.RWMutex
	drivers   map[string]ProviderDriver

	sem *semaphore.Weighted

	// Latency tracking: deployment key → moving average ms
	latencyMu sync.RWMutex
	latencies map[string]int64

	countTokens TokenCounter
}

// NewModelRouter creates a router with the Azure OpenAI and Anthropic
// drivers registered.
func NewModelRouter(cfg config.LLMConfig) *ModelRouter {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	mr := &ModelRouter{
		cfg:         cfg,
		drivers:     make(map[string]ProviderDriver),
		sem:         semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		latencies:   make(map[string]int64),
		countTokens: CountTokens,
	}
	mr.RegisterDriver(NewAzureOpenAIDriver(cfg.ConnectTimeout))
	mr.RegisterDriver(NewAnthropicDriver(cfg.ConnectTimeout))
	return mr
}

// ── Driver Registry ─────────────────────────────────────────

// RegisterDriver adds or replaces the driver for its kind.
func (mr *ModelRouter) RegisterDriver(d ProviderDriver) {
	mr.driversMu.Lock()
	defer mr.driversMu.Unlock()
	mr.drivers[d.Kind()] = d
	log.Debug().Str("kind", d.Kind()).Msg("Provider driver registered")
}

// GetDriver returns the driver for kind.
func (mr *ModelRouter) GetDriver(kind string) (ProviderDriver, bool) {
	mr.driversMu.RLock()
	defer mr.driversMu.RUnlock()
	d, ok := mr.drivers[kind]
	return d, ok
}

// ListDrivers returns the registered kinds, sorted.
func (mr *ModelRouter) ListDrivers() []string {
	mr.driversMu.RLock()
	defer mr.driversMu.RUnlock()
	kinds := make([]string, 0, len(mr.drivers))
	for k := range mr.drivers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// SetTokenCounter replaces the usage estimator.
func (mr *ModelRouter) SetTokenCounter(fn TokenCounter) {
	if fn != nil {
		mr.countTokens = fn
	}
}

// driverFor resolves a model type, falling back to openai.
func (mr *ModelRouter) driverFor(modelType string) (ProviderDriver, error) {
	if d, ok := mr.GetDriver(modelType); ok {
		return d, nil
	}
	if d, ok := mr.GetDriver(models.ModelTypeOpenAI); ok {
		return d, nil
	}
	return nil, fmt.Errorf("%w for %q", ErrNoDriver, modelType)
}

// ── Chat ────────────────────────────────────────────────────

// Chat sends one turn to the target's provider.
func (mr *ModelRouter) Chat(ctx context.Context, target Target, req ChatRequest) (*ChatResult, error) {
	driver, err := mr.driverFor(target.ModelType)
	if err != nil {
		return nil, err
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = mr.cfg.MaxTokens
	}
	if req.Temperature == 0 {
		req.Temperature = mr.cfg.Temperature
	}
	if req.Timeout <= 0 {
		req.Timeout = mr.cfg.Timeout
	}

	if err := mr.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer mr.sem.Release(1)

	ctx, span := tracer.Start(ctx, "llm.chat "+target.Deployment,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", driver.Kind()),
			attribute.String("llm.deployment", target.Deployment),
			attribute.String("llm.region", target.Region),
			attribute.Int("llm.messages", len(req.Messages)),
		),
	)
	defer span.End()

	start := time.Now()
	result, err := driver.Chat(ctx, target, req)
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn().
			Str("deployment", target.Deployment).
			Str("region", target.Region).
			Str("error_type", ErrorType(err)).
			Err(err).
			Msg("Provider call failed")
		return nil, err
	}

	result.ResponseTimeSeconds = round3(elapsed.Seconds())
	if result.TotalTokens == 0 {
		mr.estimateUsage(target, req.Messages, result)
	}
	mr.recordLatency(target.Key(), elapsed)

	span.SetAttributes(
		attribute.Int("llm.usage.prompt_tokens", result.PromptTokens),
		attribute.Int("llm.usage.completion_tokens", result.CompletionTokens),
		attribute.Bool("llm.usage.estimated", result.UsageEstimated),
		attribute.String("llm.finish_reason", result.FinishReason),
	)
	log.Debug().
		Str("deployment", target.Deployment).
		Int("total_tokens", result.TotalTokens).
		Float64("seconds", result.ResponseTimeSeconds).
		Msg("Provider call completed")
	return result, nil
}

func (mr *ModelRouter) estimateUsage(target Target, messages []models.ChatMessage, result *ChatResult) {
	prompt := 0
	for _, m := range messages {
		prompt += mr.countTokens(target.Deployment, m.Content)
	}
	completion := mr.countTokens(target.Deployment, result.AIResponse)

	result.PromptTokens = prompt
	result.CompletionTokens = completion
	result.TotalTokens = prompt + completion
	result.UsageEstimated = true
}

// ── Latency Tracking ────────────────────────────────────────

func (mr *ModelRouter) recordLatency(key string, elapsed time.Duration) {
	ms := elapsed.Milliseconds()
	mr.latencyMu.Lock()
	defer mr.latencyMu.Unlock()
	prev := mr.latencies[key]
	if prev == 0 {
		mr.latencies[key] = ms
		return
	}
	mr.latencies[key] = (prev*7 + ms*3) / 10
}

// Latencies returns the moving-average latency in ms per deployment key.
func (mr *ModelRouter) Latencies() map[string]int64 {
	mr.latencyMu.RLock()
	defer mr.latencyMu.RUnlock()
	out := make(map[string]int64, len(mr.latencies))
	for k, v := range mr.latencies {
		out[k] = v
	}
	return out
}

func round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}
