package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/llmselect/llmselect-chat/pkg/models"
)

// ── Anthropic Provider ──────────────────────────────────────

// AnthropicDriver calls an Anthropic-compatible messages endpoint.
type AnthropicDriver struct {
	transport *http.Transport
}

// NewAnthropicDriver creates the driver. connectTimeout bounds the TCP dial.
func NewAnthropicDriver(connectTimeout time.Duration) *AnthropicDriver {
	return &AnthropicDriver{transport: newTransport(connectTimeout)}
}

func (d *AnthropicDriver) Kind() string { return models.ModelTypeAnthropic }

func (d *AnthropicDriver) Chat(ctx context.Context, target Target, req ChatRequest) (*ChatResult, error) {
	if target.Endpoint == "" {
		return nil, errors.New("anthropic: endpoint not configured")
	}

	client := anthropic.NewClient(
		option.WithAPIKey(target.APIKey),
		option.WithBaseURL(target.Endpoint),
		option.WithHTTPClient(&http.Client{Transport: d.transport}),
		option.WithRequestTimeout(req.Timeout),
		option.WithMaxRetries(0),
	)

	system, messages := splitSystem(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(target.Deployment),
		MaxTokens: int64(req.MaxTokens),
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: messages: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	prompt := int(msg.Usage.InputTokens)
	completion := int(msg.Usage.OutputTokens)
	return &ChatResult{
		AIResponse:       text.String(),
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
		FinishReason:     string(msg.StopReason),
		ResponseModel:    string(msg.Model),
		ResponseID:       msg.ID,
	}, nil
}

// splitSystem pulls the first system message out as the system prompt and
// converts the remaining non-system messages.
func splitSystem(history []models.ChatMessage) (string, []anthropic.MessageParam) {
	var (
		system   string
		found    bool
		messages = make([]anthropic.MessageParam, 0, len(history))
	)
	for _, m := range history {
		switch m.Role {
		case models.RoleSystem:
			if !found {
				system, found = m.Content, true
			}
		case models.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return system, messages
}
