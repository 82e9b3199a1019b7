package web

import (
	"bytes"
	"fmt"
	"html/template"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/llmselect/llmselect-chat/pkg/models"
)

// NameDisplayWidth is the sidebar width budget for session names.
const NameDisplayWidth = 25

// TruncateName shortens name to NameDisplayWidth display columns, adding
// "..." when anything was cut.
func TruncateName(name string) string {
	if runewidth.StringWidth(name) <= NameDisplayWidth {
		return name
	}
	return runewidth.Truncate(name, NameDisplayWidth, "") + "..."
}

// Tokens formats a token count with thousands separators.
func Tokens(n int) string {
	return humanize.Comma(int64(n))
}

// USD formats a dollar amount with four decimals.
func USD(x float64) string {
	return fmt.Sprintf("$%.4f", x)
}

// JPY formats a yen amount with two decimals.
func JPY(x float64) string {
	return fmt.Sprintf("¥%.2f", x)
}

// Seconds formats a duration in seconds for the metrics line.
func Seconds(x float64) string {
	return fmt.Sprintf("%.2f秒", x)
}

// TurnMetrics is the line shown above an AI reply.
func TurnMetrics(m models.MessageLog) string {
	return fmt.Sprintf("⏱️ %s | 🔢 %sトークン | 💰 %s",
		Seconds(m.Response.ResponseTimeSeconds), Tokens(m.Metrics.TotalTokens), JPY(m.Cost.TotalCostJPY))
}

// Excerpt truncates an error message for the error history.
func Excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// ── Markdown ────────────────────────────────────────────────

var (
	mdOnce   sync.Once
	md       goldmark.Markdown
	sanitize *bluemonday.Policy
)

func markdownEngine() (goldmark.Markdown, *bluemonday.Policy) {
	mdOnce.Do(func() {
		md = goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		)
		sanitize = bluemonday.UGCPolicy()
		sanitize.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("code", "pre")
	})
	return md, sanitize
}

// Markdown renders an AI reply to sanitized HTML. Model output is untrusted
// so raw HTML in it never reaches the page unfiltered.
func Markdown(src string) template.HTML {
	engine, policy := markdownEngine()
	var buf bytes.Buffer
	if err := engine.Convert([]byte(src), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(src))
	}
	return template.HTML(policy.SanitizeBytes(buf.Bytes()))
}
