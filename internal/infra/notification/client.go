// Package notification provides the delivery clients behind notification
// channels: slack, teams and generic signed webhooks.
package notification

import (
	"context"

	"github.com/vulnscanio/engine/pkg/domain/channel"
)

// Message is a rendered notification ready for delivery.
type Message struct {
	Event      string            // Event type that produced the message
	Title      string            // Message title/subject
	Body       string            // Main message body
	Severity   string            // critical, high, medium, low, info
	URL        string            // Optional link back to the scan or finding
	Fields     map[string]string // Additional fields to display
	Color      string            // Optional color (hex); derived from severity when empty
	FooterText string            // Optional footer text
}

// SendResult is the outcome of one delivery attempt. A delivery the remote
// end rejected is a result, not an error; errors are reserved for requests
// that could not be built at all.
type SendResult struct {
	Success bool
	Error   string
}

// Client delivers messages to one kind of channel endpoint.
type Client interface {
	// Send delivers a notification message.
	Send(ctx context.Context, msg Message) (*SendResult, error)

	// TestConnection sends a test message to verify the configuration.
	TestConnection(ctx context.Context) (*SendResult, error)

	// Kind returns the channel kind this client serves.
	Kind() channel.Kind
}

// NewClient creates the delivery client for a channel. The secret is only
// used by webhook channels, which sign their payloads with it.
func NewClient(kind channel.Kind, endpoint string, secret []byte) (Client, error) {
	switch kind {
	case channel.KindSlack:
		return NewSlackClient(endpoint)
	case channel.KindTeams:
		return NewTeamsClient(endpoint)
	case channel.KindWebhook:
		return NewWebhookClient(endpoint, secret)
	default:
		return nil, channel.ErrUnknownKind
	}
}

// severityColor returns a hex color for the given severity.
func severityColor(severity string) string {
	switch severity {
	case "critical":
		return "#dc2626" // Red
	case "high":
		return "#ea580c" // Orange
	case "medium":
		return "#ca8a04" // Yellow
	case "low":
		return "#2563eb" // Blue
	default:
		return "#6b7280" // Gray
	}
}

// severityEmoji returns an emoji for the given severity.
func severityEmoji(severity string) string {
	switch severity {
	case "critical":
		return "\U0001F6A8"
	case "high":
		return "\U000026A0"
	case "medium":
		return "\U0001F7E1"
	case "low":
		return "\U0001F535"
	default:
		return "\U00002139"
	}
}
