package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"marginalia/internal/config"
)

const userAgent = "marginalia/0.1"

// Event identifies the kind of notification being published.
type Event string

const (
	EventSessionFailed    Event = "session_failed"
	EventSessionReview    Event = "session_review"
	EventSessionCompleted Event = "session_completed"
	EventTest             Event = "test"
)

// Payload carries the event fields used to render a message.
type Payload map[string]any

// Service publishes notifications.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
	Enabled() bool
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) Enabled() bool { return true }

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := render(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func render(event Event, payload Payload) (message, bool) {
	book := payload.text("bookTitle", payload.text("bookId", "unknown book"))
	switch event {
	case EventSessionFailed:
		body := fmt.Sprintf("Listening session for %s failed", book)
		if stage := payload.text("failedStage", ""); stage != "" {
			body += " during " + stage
		}
		if reason := payload.text("lastError", ""); reason != "" {
			body += "\n" + reason
		}
		return message{
			title:    "Marginalia - Session Failed",
			body:     body,
			tags:     []string{"marginalia", "session", "failed"},
			priority: "high",
		}, true
	case EventSessionReview:
		return message{
			title: "Marginalia - Review Needed",
			body:  fmt.Sprintf("Notes from your %s session are ready for review", book),
			tags:  []string{"marginalia", "session", "review"},
		}, true
	case EventSessionCompleted:
		body := fmt.Sprintf("Notes saved for %s", book)
		if count, ok := payload["noteCount"].(int); ok && count > 0 {
			body = fmt.Sprintf("%d notes saved for %s", count, book)
		}
		return message{
			title: "Marginalia - Session Complete",
			body:  body,
			tags:  []string{"marginalia", "session", "completed"},
		}, true
	case EventTest:
		return message{
			title:    "Marginalia - Test",
			body:     "Notification system test",
			tags:     []string{"marginalia", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (p Payload) text(key, fallback string) string {
	if value, ok := p[key].(string); ok {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
func (noopService) Enabled() bool                                { return false }
