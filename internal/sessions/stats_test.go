package sessions_test

import (
	"testing"
	"time"

	"github.com/llmselect/llmselect-chat/internal/sessions"
	"github.com/llmselect/llmselect-chat/pkg/models"
)

func turn(tokens int, usd, seconds float64) models.MessageLog {
	return models.MessageLog{
		Response: models.TurnResponse{ResponseTimeSeconds: seconds},
		Metrics:  models.TurnMetrics{TotalTokens: tokens},
		Cost:     models.CostBreakdown{TotalCostUSD: usd},
	}
}

func TestComputeStats(t *testing.T) {
	created := time.Date(2025, 3, 1, 9, 0, 0, 0, time.Local)
	s := &models.Session{
		CreatedAt:           models.NewTimestamp(created),
		ConversationHistory: make([]models.ChatMessage, 5),
		Messages: []models.MessageLog{
			turn(100, 0.0012, 1.2),
			turn(250, 0.0032, 3.4567),
		},
	}

	got := sessions.ComputeStats(s, models.NewTimestamp(created.Add(90*time.Second+250*time.Millisecond)), 150)

	want := models.SessionStats{
		TotalTurns:             2,
		TotalTokens:            350,
		TotalCostUSD:           0.0044,
		TotalCostJPY:           0.66,
		AvgResponseTimeSeconds: 2.328,
		MinResponseTimeSeconds: 1.2,
		MaxResponseTimeSeconds: 3.457,
		SessionDurationSeconds: 90.25,
		ConversationLength:     5,
	}
	if *got != want {
		t.Errorf("ComputeStats() =\n%+v\nwant\n%+v", *got, want)
	}
}

func TestComputeStats_NoTurns(t *testing.T) {
	s := &models.Session{ConversationHistory: make([]models.ChatMessage, 1)}

	got := sessions.ComputeStats(s, models.NewTimestamp(time.Now()), 150)

	if got.TotalTurns != 0 || got.AvgResponseTimeSeconds != 0 || got.MinResponseTimeSeconds != 0 {
		t.Errorf("ComputeStats() = %+v, want zero response times", got)
	}
	if got.SessionDurationSeconds != 0 {
		t.Errorf("SessionDurationSeconds = %v, want 0 without created_at", got.SessionDurationSeconds)
	}
	if got.ConversationLength != 1 {
		t.Errorf("ConversationLength = %d, want 1", got.ConversationLength)
	}
}
