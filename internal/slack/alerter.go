// Package slack posts operational alerts to a Slack channel.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Alerter posts alerts via chat.postMessage, at most one per 30 seconds.
type Alerter struct {
	token   string
	channel string
	client  *http.Client
	apiURL  string

	mu       sync.Mutex
	lastSent time.Time
}

func NewAlerter(token, channel string) *Alerter {
	return &Alerter{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  "https://slack.com/api/chat.postMessage",
	}
}

// ModelFailure describes a model response that could not be used.
type ModelFailure struct {
	SessionID string
	Operation string
	Reason    string
	Snippet   string
}

// PostModelFailure reports an unusable model response.
func (a *Alerter) PostModelFailure(ctx context.Context, f ModelFailure) error {
	snippet := f.Snippet
	if snippet == "" {
		snippet = "(empty)"
	}
	fields := []map[string]any{
		{"type": "mrkdwn", "text": fmt.Sprintf("*Operation:*\n%s", f.Operation)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Session:*\n%s", f.SessionID)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:*\n%s", f.Reason)},
	}
	blocks := []map[string]any{
		header("Invalid Model Response"),
		{"type": "section", "fields": fields},
		{"type": "section", "text": map[string]any{"type": "mrkdwn", "text": "```" + snippet + "```"}},
		sentAt(),
	}
	return a.post(ctx, blocks, fmt.Sprintf("Invalid model response in %s: %s", f.Operation, f.Reason))
}

type pipelinePayload struct {
	Message string `json:"message"`
}

// PostPipelineAlert reports a degraded turn event pipeline. Its signature
// matches the batcher's alert publisher.
func (a *Alerter) PostPipelineAlert(subject string, payload []byte) error {
	var p pipelinePayload
	_ = json.Unmarshal(payload, &p)
	if p.Message == "" {
		p.Message = "unknown"
	}
	blocks := []map[string]any{
		header("Event Pipeline Alert"),
		{
			"type": "section",
			"fields": []map[string]any{
				{"type": "mrkdwn", "text": fmt.Sprintf("*Subject:*\n%s", subject)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Message:*\n%s", p.Message)},
			},
		},
		sentAt(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return a.post(ctx, blocks, fmt.Sprintf("Pipeline alert: %s: %s", subject, p.Message))
}

func header(text string) map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{"type": "plain_text", "text": text},
	}
}

func sentAt() map[string]any {
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{"type": "mrkdwn", "text": fmt.Sprintf("Sent at %s", time.Now().UTC().Format(time.RFC3339))},
		},
	}
}

// post sends one message unless another was sent in the last 30 seconds.
func (a *Alerter) post(ctx context.Context, blocks []map[string]any, fallback string) error {
	a.mu.Lock()
	if time.Since(a.lastSent) < 30*time.Second {
		a.mu.Unlock()
		return nil
	}
	a.lastSent = time.Now()
	a.mu.Unlock()

	body, err := json.Marshal(map[string]any{
		"channel": a.channel,
		"blocks":  blocks,
		"text":    fallback,
	})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned %d", resp.StatusCode)
	}

	slog.Info("alert posted to Slack", "channel", a.channel, "text", fallback)
	return nil
}
