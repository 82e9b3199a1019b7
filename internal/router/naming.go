package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/llmselect/llmselect-chat/pkg/models"
)

const (
	namingHistoryLimit = 6
	namingExcerptRunes = 100
	namingMaxTokens    = 50
	// MaxGeneratedNameRunes caps the length of a generated session name.
	MaxGeneratedNameRunes = 20
)

const namingPrompt = "以下の会話内容を最大20文字で要約し、セッション名として適切なタイトルを生成してください。\n" +
	"タイトルのみを出力してください。記号や絵文字は使わないでください。\n\n" +
	"会話内容:\n%s"

var (
	// ErrNoConversation is returned when there is nothing to summarise.
	ErrNoConversation = errors.New("no conversation to summarise")
	// ErrEmptyTitle is returned when the model replies with a blank title.
	ErrEmptyTitle = errors.New("model returned an empty title")
)

// ConversationExcerpt renders the first entries of a history as the text the
// naming prompt summarises. System messages are skipped.
func ConversationExcerpt(history []models.ChatMessage) string {
	if len(history) > namingHistoryLimit {
		history = history[:namingHistoryLimit]
	}
	var b strings.Builder
	for _, m := range history {
		switch m.Role {
		case models.RoleUser:
			b.WriteString("ユーザー: ")
		case models.RoleAssistant:
			b.WriteString("AI: ")
		default:
			continue
		}
		b.WriteString(truncateRunes(m.Content, namingExcerptRunes))
		b.WriteString("\n")
	}
	return b.String()
}

// GenerateSessionName asks the target model for a short title summarising
// the conversation.
func (mr *ModelRouter) GenerateSessionName(ctx context.Context, target Target, history []models.ChatMessage) (string, error) {
	text := ConversationExcerpt(history)
	if strings.TrimSpace(text) == "" {
		return "", ErrNoConversation
	}

	result, err := mr.Chat(ctx, target, ChatRequest{
		Messages:  []models.ChatMessage{{Role: models.RoleUser, Content: fmt.Sprintf(namingPrompt, text)}},
		MaxTokens: namingMaxTokens,
		Timeout:   mr.cfg.NamingTimeout,
	})
	if err != nil {
		return "", err
	}

	name := truncateRunes(strings.TrimSpace(result.AIResponse), MaxGeneratedNameRunes)
	if name == "" {
		return "", ErrEmptyTitle
	}
	return name, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
