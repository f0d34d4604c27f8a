package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vulnscanio/engine/pkg/domain/channel"
)

// SlackClient delivers notifications to a Slack incoming webhook.
type SlackClient struct {
	webhookURL string
	httpClient *http.Client
}

// NewSlackClient creates a new Slack notification client.
func NewSlackClient(webhookURL string) (*SlackClient, error) {
	if webhookURL == "" {
		return nil, fmt.Errorf("slack webhook URL is required")
	}

	return &SlackClient{
		webhookURL: webhookURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Kind returns the channel kind.
func (c *SlackClient) Kind() channel.Kind {
	return channel.KindSlack
}

// slackMessage represents a Slack webhook message.
type slackMessage struct {
	Text        string            `json:"text,omitempty"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackBlock struct {
	Type     string          `json:"type"`
	Text     *slackTextBlock `json:"text,omitempty"`
	Elements []slackElement  `json:"elements,omitempty"`
	Fields   []slackField    `json:"fields,omitempty"`
}

type slackTextBlock struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackElement struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type slackField struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackAttachment struct {
	Color  string       `json:"color,omitempty"`
	Blocks []slackBlock `json:"blocks,omitempty"`
}

// Send delivers a notification message to Slack.
func (c *SlackClient) Send(ctx context.Context, msg Message) (*SendResult, error) {
	slackMsg := c.buildMessage(sanitizeMessage(msg))

	payload, err := json.Marshal(slackMsg)
	if err != nil {
		return nil, fmt.Errorf("marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

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

	if resp.StatusCode != http.StatusOK {
		return &SendResult{
			Success: false,
			Error:   fmt.Sprintf("slack returned status %d: %s", resp.StatusCode, string(body)),
		}, nil
	}

	return &SendResult{
		Success: true,
	}, nil
}

// TestConnection sends a test message through the webhook.
func (c *SlackClient) TestConnection(ctx context.Context) (*SendResult, error) {
	testMsg := Message{
		Event:    "test",
		Title:    "Vulnscan Test Notification",
		Body:     "This is a test notification to verify your Slack integration is working correctly.",
		Severity: "info",
	}
	return c.Send(ctx, testMsg)
}

// buildMessage builds a Slack block-kit message.
func (c *SlackClient) buildMessage(msg Message) slackMessage {
	emoji := severityEmoji(msg.Severity)
	color := msg.Color
	if color == "" {
		color = severityColor(msg.Severity)
	}

	blocks := make([]slackBlock, 0, 4)

	if msg.Title != "" {
		blocks = append(blocks, slackBlock{
			Type: "header",
			Text: &slackTextBlock{
				Type:  "plain_text",
				Text:  fmt.Sprintf("%s %s", emoji, msg.Title),
				Emoji: true,
			},
		})
	}

	if msg.Body != "" {
		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: &slackTextBlock{
				Type: "mrkdwn",
				Text: msg.Body,
			},
		})
	}

	if len(msg.Fields) > 0 {
		fields := make([]slackField, 0, len(msg.Fields))
		for key, value := range msg.Fields {
			fields = append(fields, slackField{
				Type: "mrkdwn",
				Text: fmt.Sprintf("*%s:*\n%s", key, value),
			})
		}
		blocks = append(blocks, slackBlock{
			Type:   "section",
			Fields: fields,
		})
	}

	if msg.URL != "" {
		blocks = append(blocks, slackBlock{
			Type: "actions",
			Elements: []slackElement{
				{
					Type: "button",
					Text: fmt.Sprintf("<%s|View Details>", msg.URL),
				},
			},
		})
	}

	if msg.FooterText != "" {
		blocks = append(blocks, slackBlock{
			Type: "context",
			Elements: []slackElement{
				{
					Type: "mrkdwn",
					Text: msg.FooterText,
				},
			},
		})
	}

	return slackMessage{
		Attachments: []slackAttachment{
			{
				Color:  color,
				Blocks: blocks,
			},
		},
	}
}
