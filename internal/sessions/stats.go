package sessions

import (
	"github.com/llmselect/llmselect-chat/internal/pricing"
	"github.com/llmselect/llmselect-chat/pkg/models"
)

// ComputeStats derives the end-of-session statistics from the message logs.
// The JPY total uses usdToJPY rather than the per-turn amounts.
func ComputeStats(s *models.Session, now models.Timestamp, usdToJPY float64) *models.SessionStats {
	var (
		tokens  int
		costUSD float64
		sumRT   float64
		minRT   float64
		maxRT   float64
	)
	for i, m := range s.Messages {
		tokens += m.Metrics.TotalTokens
		costUSD += m.Cost.TotalCostUSD

		rt := m.Response.ResponseTimeSeconds
		sumRT += rt
		if i == 0 || rt < minRT {
			minRT = rt
		}
		if i == 0 || rt > maxRT {
			maxRT = rt
		}
	}

	stats := &models.SessionStats{
		TotalTurns:         len(s.Messages),
		TotalTokens:        tokens,
		TotalCostUSD:       pricing.Round(costUSD, 6),
		TotalCostJPY:       pricing.Round(costUSD*usdToJPY, 2),
		ConversationLength: len(s.ConversationHistory),
	}
	if n := len(s.Messages); n > 0 {
		stats.AvgResponseTimeSeconds = pricing.Round(sumRT/float64(n), 3)
		stats.MinResponseTimeSeconds = pricing.Round(minRT, 3)
		stats.MaxResponseTimeSeconds = pricing.Round(maxRT, 3)
	}
	if !s.CreatedAt.IsZero() {
		stats.SessionDurationSeconds = pricing.Round(now.Sub(s.CreatedAt.Time).Seconds(), 3)
	}
	return stats
}
