// Package channel defines notification channel configuration: where scan
// lifecycle notifications go and how each destination has been behaving.
package channel

import (
	"fmt"
	"time"

	"github.com/vulnscanio/engine/pkg/domain/shared"
)

// ID is a type alias for shared.ID.
type ID = shared.ID

// Kind identifies the channel transport.
type Kind string

const (
	KindSlack   Kind = "slack"
	KindTeams   Kind = "teams"
	KindWebhook Kind = "webhook"
)

// IsValid returns true if the kind is valid.
func (k Kind) IsValid() bool {
	switch k {
	case KindSlack, KindTeams, KindWebhook:
		return true
	}
	return false
}

// Notification event types a channel can subscribe to.
const (
	EventScanCompleted   = "scan_completed"
	EventScanFailed      = "scan_failed"
	EventCriticalFinding = "critical_finding"
)

// AllEventTypes returns every subscribable event type.
func AllEventTypes() []string {
	return []string{EventScanCompleted, EventScanFailed, EventCriticalFinding}
}

// ValidEventType returns true if the event type is subscribable.
func ValidEventType(et string) bool {
	switch et {
	case EventScanCompleted, EventScanFailed, EventCriticalFinding:
		return true
	}
	return false
}

// MaxLastErrorLen bounds the stored delivery error so channel rows stay small
// no matter what a remote endpoint returns.
const MaxLastErrorLen = 500

// Channel represents a configured notification destination.
type Channel struct {
	id                ID
	orgID             ID
	name              string
	kind              Kind
	endpoint          string
	secretEncrypted   []byte
	eventTypes        []string
	severityThreshold string
	enabled           bool
	totalSent         int
	totalFailed       int
	lastTriggeredAt   *time.Time
	lastError         string
	lastErrorAt       *time.Time
	createdBy         *ID
	createdAt         time.Time
	updatedAt         time.Time
}

// NewChannel creates a new enabled channel subscribed to the given event
// types; nil subscribes to everything.
func NewChannel(id, orgID ID, name string, kind Kind, endpoint string, eventTypes []string) *Channel {
	if len(eventTypes) == 0 {
		eventTypes = AllEventTypes()
	}
	now := time.Now()
	return &Channel{
		id:                id,
		orgID:             orgID,
		name:              name,
		kind:              kind,
		endpoint:          endpoint,
		eventTypes:        eventTypes,
		severityThreshold: "critical",
		enabled:           true,
		createdAt:         now,
		updatedAt:         now,
	}
}

// Reconstruct creates a Channel from stored data.
func Reconstruct(
	id, orgID ID,
	name string,
	kind Kind,
	endpoint string,
	secretEncrypted []byte,
	eventTypes []string,
	severityThreshold string,
	enabled bool,
	totalSent, totalFailed int,
	lastTriggeredAt *time.Time,
	lastError string,
	lastErrorAt *time.Time,
	createdBy *ID,
	createdAt, updatedAt time.Time,
) *Channel {
	return &Channel{
		id:                id,
		orgID:             orgID,
		name:              name,
		kind:              kind,
		endpoint:          endpoint,
		secretEncrypted:   secretEncrypted,
		eventTypes:        eventTypes,
		severityThreshold: severityThreshold,
		enabled:           enabled,
		totalSent:         totalSent,
		totalFailed:       totalFailed,
		lastTriggeredAt:   lastTriggeredAt,
		lastError:         lastError,
		lastErrorAt:       lastErrorAt,
		createdBy:         createdBy,
		createdAt:         createdAt,
		updatedAt:         updatedAt,
	}
}

// --- Getters ---

func (c *Channel) ID() ID                     { return c.id }
func (c *Channel) OrgID() ID                  { return c.orgID }
func (c *Channel) Name() string               { return c.name }
func (c *Channel) Kind() Kind                 { return c.kind }
func (c *Channel) Endpoint() string           { return c.endpoint }
func (c *Channel) SecretEncrypted() []byte    { return c.secretEncrypted }
func (c *Channel) EventTypes() []string       { return c.eventTypes }
func (c *Channel) SeverityThreshold() string  { return c.severityThreshold }
func (c *Channel) Enabled() bool              { return c.enabled }
func (c *Channel) TotalSent() int             { return c.totalSent }
func (c *Channel) TotalFailed() int           { return c.totalFailed }
func (c *Channel) LastTriggeredAt() *time.Time { return c.lastTriggeredAt }
func (c *Channel) LastError() string          { return c.lastError }
func (c *Channel) LastErrorAt() *time.Time    { return c.lastErrorAt }
func (c *Channel) CreatedBy() *ID             { return c.createdBy }
func (c *Channel) CreatedAt() time.Time       { return c.createdAt }
func (c *Channel) UpdatedAt() time.Time       { return c.updatedAt }

// --- Setters ---

func (c *Channel) SetName(name string)         { c.name = name; c.updatedAt = time.Now() }
func (c *Channel) SetEndpoint(endpoint string) { c.endpoint = endpoint; c.updatedAt = time.Now() }
func (c *Channel) SetSecret(secret []byte)     { c.secretEncrypted = secret; c.updatedAt = time.Now() }
func (c *Channel) SetEventTypes(types []string) { c.eventTypes = types; c.updatedAt = time.Now() }
func (c *Channel) SetSeverityThreshold(s string) {
	c.severityThreshold = s
	c.updatedAt = time.Now()
}
func (c *Channel) SetCreatedBy(id ID) { c.createdBy = &id }

// Enable enables the channel.
func (c *Channel) Enable() {
	c.enabled = true
	c.updatedAt = time.Now()
}

// Disable disables the channel.
func (c *Channel) Disable() {
	c.enabled = false
	c.updatedAt = time.Now()
}

// SubscribedTo returns true if the channel wants the event type.
func (c *Channel) SubscribedTo(eventType string) bool {
	for _, et := range c.eventTypes {
		if et == eventType {
			return true
		}
	}
	return false
}

// RecordSuccess notes a delivered notification and clears any prior error.
func (c *Channel) RecordSuccess(at time.Time) {
	c.totalSent++
	c.lastTriggeredAt = &at
	c.lastError = ""
	c.lastErrorAt = nil
	c.updatedAt = time.Now()
}

// RecordFailure notes a failed delivery attempt. The trigger timestamp is
// updated either way so operators can see the dispatcher tried.
func (c *Channel) RecordFailure(at time.Time, errMsg string) {
	c.totalFailed++
	c.lastTriggeredAt = &at
	c.lastError = truncateError(errMsg)
	c.lastErrorAt = &at
	c.updatedAt = time.Now()
}

func truncateError(msg string) string {
	if len(msg) <= MaxLastErrorLen {
		return msg
	}
	return msg[:MaxLastErrorLen]
}

// --- Delivery ---

// Delivery represents a single notification delivery attempt.
type Delivery struct {
	ID           ID
	ChannelID    ID
	ScanID       *ID
	EventType    string
	Payload      map[string]any
	Success      bool
	ErrorMessage string
	DurationMs   *int
	CreatedAt    time.Time
}

// --- Errors ---

var (
	ErrChannelNotFound   = fmt.Errorf("%w: channel not found", shared.ErrNotFound)
	ErrChannelNameExists = fmt.Errorf("%w: channel name already exists", shared.ErrConflict)
	ErrUnknownKind       = fmt.Errorf("%w: unknown channel kind", shared.ErrValidation)
	ErrUnknownEventType  = fmt.Errorf("%w: unknown event type", shared.ErrValidation)
)
