package router

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/llmselect/llmselect-chat/pkg/models"
)

// ── Azure OpenAI Provider ───────────────────────────────────

// AzureOpenAIDriver calls Azure OpenAI chat completions. The deployment name
// is sent verbatim as the Azure deployment.
type AzureOpenAIDriver struct {
	transport *http.Transport
}

// NewAzureOpenAIDriver creates the driver. connectTimeout bounds the TCP dial.
func NewAzureOpenAIDriver(connectTimeout time.Duration) *AzureOpenAIDriver {
	return &AzureOpenAIDriver{transport: newTransport(connectTimeout)}
}

func (d *AzureOpenAIDriver) Kind() string { return models.ModelTypeOpenAI }

func (d *AzureOpenAIDriver) Chat(ctx context.Context, target Target, req ChatRequest) (*ChatResult, error) {
	if target.Endpoint == "" {
		return nil, errors.New("openai: endpoint not configured")
	}

	cfg := openai.DefaultAzureConfig(target.APIKey, target.Endpoint)
	if target.APIVersion != "" {
		cfg.APIVersion = target.APIVersion
	}
	cfg.AzureModelMapperFunc = func(model string) string { return model }
	cfg.HTTPClient = &http.Client{Transport: d.transport, Timeout: req.Timeout}
	client := openai.NewClientWithConfig(cfg)

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:               target.Deployment,
		Messages:            messages,
		MaxCompletionTokens: req.MaxTokens,
		Temperature:         float32(req.Temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}

	choice := resp.Choices[0]
	return &ChatResult{
		AIResponse:       choice.Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		FinishReason:     string(choice.FinishReason),
		ResponseModel:    resp.Model,
		ResponseID:       resp.ID,
	}, nil
}

func newTransport(connectTimeout time.Duration) *http.Transport {
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = (&net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}).DialContext
	return t
}
