// Package notify fans session events out to registered channels: connected
// browsers, the metrics refresher, and an optional outbound webhook.
//
// Publish never blocks the caller. Every channel has its own queue and
// worker, so a slow channel only delays itself; when a channel's queue is
// full the event is dropped for that channel with a warning.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/llmselect/llmselect-chat/pkg/models"
)

// DefaultQueueSize is the number of undelivered events kept per channel
// before dropping.
const DefaultQueueSize = 256

// Channel receives every published event.
type Channel interface {
	Name() string
	Send(ctx context.Context, ev models.Event) error
}

// ── Service ──────────────────────────────────────────────────

// sink is one channel with its pending events.
type sink struct {
	ch      Channel
	queue   chan models.Event
	retired chan struct{}
}

// Service queues events and dispatches them to channels.
type Service struct {
	queueSize int

	mu    sync.RWMutex
	sinks map[string]*sink
	ctx   context.Context // set once Run starts
}

// NewService creates a dispatcher with the given per-channel queue size.
func NewService(queueSize int) *Service {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Service{
		queueSize: queueSize,
		sinks:     make(map[string]*sink),
	}
}

// Register adds or replaces a channel by name. Events still queued for a
// replaced channel are discarded.
func (s *Service) Register(ch Channel) {
	sk := &sink{
		ch:      ch,
		queue:   make(chan models.Event, s.queueSize),
		retired: make(chan struct{}),
	}

	s.mu.Lock()
	if old, ok := s.sinks[ch.Name()]; ok {
		close(old.retired)
	}
	s.sinks[ch.Name()] = sk
	if s.ctx != nil {
		go s.deliver(s.ctx, sk)
	}
	s.mu.Unlock()

	log.Info().Str("channel", ch.Name()).Msg("Registered event channel")
}

// Channels lists the registered channel names.
func (s *Service) Channels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.sinks))
	for name := range s.sinks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Publish queues ev for every channel.
func (s *Service) Publish(ev models.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for name, sk := range s.sinks {
		select {
		case sk.queue <- ev:
		default:
			log.Warn().
				Str("channel", name).
				Str("event", string(ev.Type)).
				Str("session", ev.SessionID).
				Msg("Event queue full, dropping event")
		}
	}
}

// Run starts one delivery worker per channel and blocks until ctx is done.
// Channels registered later get a worker immediately.
func (s *Service) Run(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	for _, sk := range s.sinks {
		go s.deliver(ctx, sk)
	}
	s.mu.Unlock()

	<-ctx.Done()
}

func (s *Service) deliver(ctx context.Context, sk *sink) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sk.retired:
			return
		case ev := <-sk.queue:
			if err := sk.ch.Send(ctx, ev); err != nil {
				log.Warn().Err(err).Str("channel", sk.ch.Name()).Str("event", string(ev.Type)).Msg("Event delivery failed")
			}
		}
	}
}

// ── Func Channel ─────────────────────────────────────────────

// FuncChannel adapts a function to a Channel.
type FuncChannel struct {
	ChannelName string
	Fn          func(ctx context.Context, ev models.Event) error
}

func (f FuncChannel) Name() string { return f.ChannelName }

func (f FuncChannel) Send(ctx context.Context, ev models.Event) error { return f.Fn(ctx, ev) }

// ── Webhook Channel ──────────────────────────────────────────

// WebhookChannel POSTs each event as JSON to a URL, signed with
// HMAC-SHA256 when a secret is configured.
type WebhookChannel struct {
	url      string
	secret   string
	client   *http.Client
	attempts int
	backoff  time.Duration
}

// NewWebhookChannel creates a webhook channel.
func NewWebhookChannel(url, secret string) *WebhookChannel {
	return &WebhookChannel{
		url:      url,
		secret:   secret,
		client:   &http.Client{Timeout: 15 * time.Second},
		attempts: 3,
		backoff:  2 * time.Second,
	}
}

// WithRetry overrides the attempt count and the linear backoff step.
func (w *WebhookChannel) WithRetry(attempts int, backoff time.Duration) *WebhookChannel {
	if attempts > 0 {
		w.attempts = attempts
	}
	w.backoff = backoff
	return w
}

func (w *WebhookChannel) Name() string { return "webhook" }

// Send posts ev, retrying on transport errors and non-2xx replies.
func (w *WebhookChannel) Send(ctx context.Context, ev models.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < w.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * w.backoff):
			}
		}
		if lastErr = w.post(ctx, body, string(ev.Type)); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("webhook: failed after %d attempts: %w", w.attempts, lastErr)
}

func (w *WebhookChannel) post(ctx context.Context, body []byte, eventType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "LLMSelectChat-Webhook/1.0")
	req.Header.Set("X-LLMChat-Event", eventType)
	if w.secret != "" {
		req.Header.Set("X-LLMChat-Signature", "sha256="+Sign(w.secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d from %s", resp.StatusCode, w.url)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
