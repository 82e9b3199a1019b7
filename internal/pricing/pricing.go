// Package pricing maps deployments to per-1k-token rates and computes turn
// cost in USD and JPY.
package pricing

import (
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/llmselect/llmselect-chat/pkg/models"
)

// Default is the rate used when nothing else applies, and the rate snapshotted
// into a new session's config.
var Default = models.Pricing{PromptPer1K: 0.01, CompletionPer1K: 0.03}

// Family is the rate table for one model type.
type Family struct {
	Default models.Pricing            `toml:"default"`
	Models  map[string]models.Pricing `toml:"models"`
}

// Table resolves deployment names to rates. The zero value is not usable;
// use NewTable.
type Table struct {
	mu       sync.RWMutex
	families map[string]*Family
}

// NewTable returns the built-in rate table.
func NewTable() *Table {
	return &Table{families: map[string]*Family{
		models.ModelTypeOpenAI: {
			Default: models.Pricing{PromptPer1K: 0.01, CompletionPer1K: 0.03},
			Models: map[string]models.Pricing{
				"gpt-4":   {PromptPer1K: 0.03, CompletionPer1K: 0.06},
				"gpt-4.1": {PromptPer1K: 0.002, CompletionPer1K: 0.008},
				"gpt-5":   {PromptPer1K: 0.005, CompletionPer1K: 0.015},
			},
		},
		models.ModelTypeAnthropic: {
			Default: models.Pricing{PromptPer1K: 0.003, CompletionPer1K: 0.015},
			Models: map[string]models.Pricing{
				"claude-haiku":  {PromptPer1K: 0.001, CompletionPer1K: 0.005},
				"claude-sonnet": {PromptPer1K: 0.003, CompletionPer1K: 0.015},
				"claude-opus":   {PromptPer1K: 0.015, CompletionPer1K: 0.075},
			},
		},
	}}
}

// ForModel returns the rate for a deployment. Keys match as substrings of the
// lowercased name and the longest match wins, so "gpt-4.1-mini" prices as
// gpt-4.1 rather than gpt-4. Matches of equal length go to the key that
// sorts first. Unknown model types use the openai family.
func (t *Table) ForModel(deployment, modelType string) models.Pricing {
	t.mu.RLock()
	defer t.mu.RUnlock()

	fam, ok := t.families[modelType]
	if !ok {
		fam = t.families[models.ModelTypeOpenAI]
	}
	if fam == nil {
		return Default
	}

	name := strings.ToLower(deployment)
	best := ""
	for key := range fam.Models {
		if !strings.Contains(name, key) {
			continue
		}
		if len(key) > len(best) || (len(key) == len(best) && key < best) {
			best = key
		}
	}
	if best != "" {
		return fam.Models[best]
	}
	return fam.Default
}

// Families returns a copy of the table, keyed by model type.
func (t *Table) Families() map[string]Family {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]Family, len(t.families))
	for name, fam := range t.families {
		cp := Family{Default: fam.Default, Models: make(map[string]models.Pricing, len(fam.Models))}
		for k, v := range fam.Models {
			cp.Models[k] = v
		}
		out[name] = cp
	}
	return out
}

// Keys returns the model keys of a family, sorted.
func (t *Table) Keys(modelType string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	fam, ok := t.families[modelType]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(fam.Models))
	for k := range fam.Models {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// merge overlays families onto the table. Zero defaults are ignored.
func (t *Table) merge(overrides map[string]Family) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for name, o := range overrides {
		name = strings.ToLower(name)
		fam, ok := t.families[name]
		if !ok {
			fam = &Family{Default: Default, Models: make(map[string]models.Pricing)}
			t.families[name] = fam
		}
		if o.Default != (models.Pricing{}) {
			fam.Default = o.Default
		}
		for key, p := range o.Models {
			fam.Models[strings.ToLower(key)] = p
		}
	}
}

// ── Cost ────────────────────────────────────────────────────

// Calculate prices one turn. USD amounts are rounded to 6 places and the JPY
// total to 2.
func Calculate(promptTokens, completionTokens int, p models.Pricing, usdToJPY float64) models.CostBreakdown {
	prompt := float64(promptTokens) / 1000 * p.PromptPer1K
	completion := float64(completionTokens) / 1000 * p.CompletionPer1K
	total := prompt + completion
	return models.CostBreakdown{
		PromptCostUSD:     Round(prompt, 6),
		CompletionCostUSD: Round(completion, 6),
		TotalCostUSD:      Round(total, 6),
		TotalCostJPY:      Round(total*usdToJPY, 2),
	}
}

// Round rounds x half away from zero to the given number of decimal places.
func Round(x float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(x*pow) / pow
}
