package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/helixir/paper-radar-service/internal/domain"
)

// maxTextTitles caps the titles listed in chat webhook messages.
const maxTextTitles = 5

// WebhookNotifier POSTs events to an HTTP endpoint. Slack and Discord hooks
// receive a plain text message; anything else receives the event as JSON.
type WebhookNotifier struct {
	url    string
	chat   bool
	client *http.Client
}

// NewWebhookNotifier creates a webhook notifier for rawURL.
func NewWebhookNotifier(rawURL string, timeout time.Duration) (*WebhookNotifier, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid webhook URL %q", rawURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	host := strings.ToLower(u.Hostname())
	return &WebhookNotifier{
		url:    rawURL,
		chat:   strings.Contains(host, "slack.com") || strings.Contains(host, "discord.com") || strings.Contains(host, "discordapp.com"),
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Name implements Notifier.
func (w *WebhookNotifier) Name() string { return "webhook" }

// Notify implements Notifier.
func (w *WebhookNotifier) Notify(ctx context.Context, event domain.Event) error {
	var payload any = event
	if w.chat {
		text := FormatText(event)
		// Discord reads "content", Slack reads "text".
		payload = map[string]string{"text": text, "content": text}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "PaperRadar/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.NewExternalAPIError("webhook", resp.StatusCode, "webhook rejected event", nil)
	}
	return nil
}

// FormatText renders an event as a short chat message.
func FormatText(event domain.Event) string {
	var sb strings.Builder
	switch event.Kind {
	case domain.EventPapersDiscovered:
		fmt.Fprintf(&sb, "Paper Radar: %d new paper(s) discovered", event.Count)
		for i, p := range event.Papers {
			if i == maxTextTitles {
				fmt.Fprintf(&sb, "\n... and %d more", event.Count-maxTextTitles)
				break
			}
			fmt.Fprintf(&sb, "\n- %s (%.2f, %s)", p.Title, p.Score, p.Source)
		}
	case domain.EventTaskCompleted, domain.EventTaskFailed:
		if event.Task == nil {
			return string(event.Kind)
		}
		name := event.Task.Title
		if name == "" {
			name = event.Task.Filename
		}
		if event.Kind == domain.EventTaskCompleted {
			fmt.Fprintf(&sb, "Paper Radar: %s is ready", name)
		} else {
			fmt.Fprintf(&sb, "Paper Radar: %s failed (%s)", name, event.Task.Error)
		}
	default:
		sb.WriteString(string(event.Kind))
	}
	return sb.String()
}
