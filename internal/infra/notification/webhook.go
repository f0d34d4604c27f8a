package notification

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vulnscanio/engine/pkg/domain/channel"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body, computed
// with the channel secret. Receivers verify it the same way GitHub webhook
// consumers do.
const SignatureHeader = "X-Vulnscan-Signature-256"

// WebhookClient delivers notifications to a generic JSON webhook, optionally
// signing each payload.
type WebhookClient struct {
	webhookURL string
	secret     []byte
	httpClient *http.Client
}

// NewWebhookClient creates a new webhook notification client. A nil secret
// disables signing.
func NewWebhookClient(webhookURL string, secret []byte) (*WebhookClient, error) {
	if webhookURL == "" {
		return nil, fmt.Errorf("webhook URL is required")
	}

	return &WebhookClient{
		webhookURL: webhookURL,
		secret:     secret,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Kind returns the channel kind.
func (c *WebhookClient) Kind() channel.Kind {
	return channel.KindWebhook
}

// WebhookPayload is the JSON document posted to the endpoint.
type WebhookPayload struct {
	EventType  string            `json:"event_type"`
	Timestamp  string            `json:"timestamp"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	Severity   string            `json:"severity"`
	URL        string            `json:"url,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
	FooterText string            `json:"footer_text,omitempty"`
	Source     string            `json:"source"`
}

// Send delivers a notification message to the webhook.
func (c *WebhookClient) Send(ctx context.Context, msg Message) (*SendResult, error) {
	payload := c.buildPayload(sanitizeMessage(msg))

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "vulnscan-engine/1.0")
	if len(c.secret) > 0 {
		req.Header.Set(SignatureHeader, "sha256="+c.sign(payloadBytes))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &SendResult{
			Success: false,
			Error:   fmt.Sprintf("send request failed: %v", err),
		}, nil
	}
	defer func() { _ = resp.Body.Close() }()

	// Cap the response read; the endpoint is caller-controlled.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &SendResult{
			Success: false,
			Error:   fmt.Sprintf("webhook returned status %d: %s", resp.StatusCode, string(body)),
		}, nil
	}

	return &SendResult{
		Success: true,
	}, nil
}

// TestConnection sends a test payload to the endpoint.
func (c *WebhookClient) TestConnection(ctx context.Context) (*SendResult, error) {
	testMsg := Message{
		Event:    "test",
		Title:    "Vulnscan Test Notification",
		Body:     "This is a test notification to verify your webhook integration is working correctly.",
		Severity: "info",
	}
	return c.Send(ctx, testMsg)
}

// sign returns the hex HMAC-SHA256 of the body.
func (c *WebhookClient) sign(body []byte) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// buildPayload builds the webhook payload from the notification message.
func (c *WebhookClient) buildPayload(msg Message) WebhookPayload {
	event := msg.Event
	if event == "" {
		event = "notification"
	}

	return WebhookPayload{
		EventType:  event,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Title:      msg.Title,
		Body:       msg.Body,
		Severity:   msg.Severity,
		URL:        msg.URL,
		Fields:     msg.Fields,
		FooterText: msg.FooterText,
		Source:     "vulnscan-engine",
	}
}
