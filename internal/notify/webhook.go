package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"smartmarket/internal/core"
)

// WebhookFormat selects the JSON payload shape of a chat webhook.
type WebhookFormat string

const (
	FormatSlack   WebhookFormat = "slack"
	FormatDiscord WebhookFormat = "discord"
)

// WebhookTarget is one incoming-webhook URL.
type WebhookTarget struct {
	Name   string
	URL    string
	Format WebhookFormat
}

// Webhook posts a notification to every configured chat webhook.
// All targets are attempted; the first error is returned.
type Webhook struct {
	Targets []WebhookTarget
	Client  *http.Client
}

func NewWebhook(targets ...WebhookTarget) *Webhook {
	return &Webhook{Targets: targets, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (w *Webhook) Send(ctx context.Context, n core.Notification) error {
	if len(w.Targets) == 0 {
		return errors.New("no webhook targets configured")
	}
	var firstErr error
	for _, t := range w.Targets {
		if err := w.post(ctx, t, n); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func payloadFor(format WebhookFormat, n core.Notification) any {
	text := n.Body
	if n.Subject != "" {
		text = "*" + n.Subject + "*\n" + n.Body
	}
	if format == FormatDiscord {
		if n.Subject != "" {
			text = "**" + n.Subject + "**\n" + n.Body
		}
		return map[string]string{"content": text}
	}
	return map[string]string{"text": text}
}

func (w *Webhook) post(ctx context.Context, t WebhookTarget, n core.Notification) error {
	body, err := json.Marshal(payloadFor(t.Format, n))
	if err != nil {
		return fmt.Errorf("error marshaling %s payload: %w", t.Name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("error creating %s request: %w", t.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.Client.Do(req)
	if err != nil {
		return fmt.Errorf("error posting to %s: %w", t.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("%s webhook returned status %d: %s", t.Name, resp.StatusCode, string(respBody))
	}
	return nil
}
