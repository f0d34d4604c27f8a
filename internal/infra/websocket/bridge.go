package websocket

import (
	"context"

	"github.com/vulnscanio/engine/pkg/domain/scan"
	"github.com/vulnscanio/engine/pkg/logger"
)

// bridgeSubscriberID identifies the hub bridge on the event bus.
const bridgeSubscriberID = "websocket-bridge"

// EventSource is the slice of the event bus the bridge consumes.
type EventSource interface {
	SubscribeAll(subscriberID string) <-chan scan.Event
	Unsubscribe(subscriberID string)
}

// EventBridge forwards scan events from the bus into hub channels. Each
// event lands on both its scan channel and its org channel.
type EventBridge struct {
	source EventSource
	hub    *Hub
	logger *logger.Logger
}

// NewEventBridge creates a new bridge between the event bus and the hub.
func NewEventBridge(source EventSource, hub *Hub, log *logger.Logger) *EventBridge {
	return &EventBridge{
		source: source,
		hub:    hub,
		logger: log,
	}
}

// Run consumes events until the context is cancelled. Call alongside
// Hub.Run.
func (b *EventBridge) Run(ctx context.Context) {
	events := b.source.SubscribeAll(bridgeSubscriberID)
	defer b.source.Unsubscribe(bridgeSubscriberID)

	b.logger.Info("websocket event bridge started")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("websocket event bridge stopping")
			return

		case event, ok := <-events:
			if !ok {
				b.logger.Warn("event source closed")
				return
			}

			orgID := event.OrgID.String()
			b.hub.BroadcastEvent(MakeChannel(ChannelTypeScan, event.ScanID.String()), event, orgID)
			b.hub.BroadcastEvent(MakeChannel(ChannelTypeOrg, orgID), event, orgID)
		}
	}
}
