package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/vulnscanio/engine/internal/metrics"
	"github.com/vulnscanio/engine/pkg/domain/scan"
	"github.com/vulnscanio/engine/pkg/logger"
)

const (
	// scanEventChannelPrefix is the per-scan Redis pub/sub channel prefix.
	scanEventChannelPrefix = "scan:events:"

	// orgEventChannelPrefix is the per-organization channel prefix. Every
	// event lands here, so one pattern subscription covers the whole stream.
	orgEventChannelPrefix = "org:events:"

	// orgEventPattern matches all organization event channels.
	orgEventPattern = orgEventChannelPrefix + "*"
)

// ScanEventChannel returns the pub/sub channel for a single scan.
func ScanEventChannel(scanID string) string {
	return scanEventChannelPrefix + scanID
}

// OrgEventChannel returns the pub/sub channel for an organization.
func OrgEventChannel(orgID string) string {
	return orgEventChannelPrefix + orgID
}

// EventBus publishes scan progress events over Redis pub/sub and fans them
// out to in-process subscribers (WebSocket connections, test observers).
//
// Delivery is best-effort at-most-once: events published while a consumer is
// disconnected are lost, and a subscriber whose buffer is full is skipped.
// Consumers needing exact state must read the scan job store.
type EventBus struct {
	client *Client
	logger *logger.Logger

	mu          sync.RWMutex
	subscribers map[string]*subscription
}

// subscription is one in-process consumer of the event stream.
type subscription struct {
	orgID  string // "" subscribes across all organizations
	scanID string // "" subscribes to every scan in the org
	ch     chan scan.Event
}

// NewEventBus creates a new EventBus.
func NewEventBus(client *Client, log *logger.Logger) *EventBus {
	return &EventBus{
		client:      client,
		logger:      log,
		subscribers: make(map[string]*subscription),
	}
}

// Publish sends an event to the scan and organization channels.
// The org channel is the primary stream; per-scan publish failures are
// logged and do not fail the call.
func (b *EventBus) Publish(ctx context.Context, event scan.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	orgChannel := OrgEventChannel(event.OrgID.String())
	if err := b.client.Client().Publish(ctx, orgChannel, data).Err(); err != nil {
		return fmt.Errorf("publish to org channel: %w", err)
	}

	scanChannel := ScanEventChannel(event.ScanID.String())
	if err := b.client.Client().Publish(ctx, scanChannel, data).Err(); err != nil {
		b.logger.Warn("failed to publish to scan channel",
			"channel", scanChannel,
			"error", err,
		)
	}

	metrics.EventsPublishedTotal.WithLabelValues(string(event.Kind)).Inc()

	b.logger.Debug("published scan event",
		"kind", event.Kind,
		"scan_id", event.ScanID,
		"progress", event.Progress,
	)

	return nil
}

// Subscribe registers an in-process consumer for events of an organization.
// When scanID is non-empty only events of that scan are delivered. Returns a
// channel that receives events until Unsubscribe is called with the same
// subscriber ID.
func (b *EventBus) Subscribe(subscriberID, orgID, scanID string) <-chan scan.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Buffered so a slow consumer does not block the dispatch loop.
	ch := make(chan scan.Event, 10)
	b.subscribers[subscriberID] = &subscription{
		orgID:  orgID,
		scanID: scanID,
		ch:     ch,
	}
	metrics.EventSubscribers.Set(float64(len(b.subscribers)))

	b.logger.Debug("event subscriber registered",
		"subscriber_id", subscriberID,
		"org_id", orgID,
		"scan_id", scanID,
	)

	return ch
}

// SubscribeAll registers a consumer for every event across all
// organizations. Used by the websocket bridge, which routes events to hub
// channels itself. The buffer is larger than per-scan subscriptions because
// one bridge carries the whole stream.
func (b *EventBus) SubscribeAll(subscriberID string) <-chan scan.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan scan.Event, 256)
	b.subscribers[subscriberID] = &subscription{ch: ch}
	metrics.EventSubscribers.Set(float64(len(b.subscribers)))

	b.logger.Debug("event subscriber registered for all orgs", "subscriber_id", subscriberID)

	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *EventBus) Unsubscribe(subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[subscriberID]; ok {
		close(sub.ch)
		delete(b.subscribers, subscriberID)
		metrics.EventSubscribers.Set(float64(len(b.subscribers)))
		b.logger.Debug("event subscriber removed", "subscriber_id", subscriberID)
	}
}

// StartListener starts listening for Redis pub/sub messages and dispatches
// them to in-process subscribers. Call once at application start.
func (b *EventBus) StartListener(ctx context.Context) error {
	pubsub := b.client.Client().PSubscribe(ctx, orgEventPattern)

	// Wait for subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to event pattern: %w", err)
	}

	b.logger.Info("event bus listening", "pattern", orgEventPattern)

	go b.listenLoop(ctx, pubsub)

	return nil
}

func (b *EventBus) listenLoop(ctx context.Context, pubsub *redis.PubSub) {
	defer pubsub.Close()

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("event bus stopping")
			return

		case msg, ok := <-ch:
			if !ok {
				b.logger.Warn("event pub/sub channel closed")
				return
			}

			var event scan.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Error("failed to unmarshal scan event",
					"payload", msg.Payload,
					"error", err,
				)
				continue
			}

			b.dispatch(event)
		}
	}
}

// dispatch fans an event out to matching subscribers. A full subscriber
// buffer drops the event for that subscriber only.
func (b *EventBus) dispatch(event scan.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	orgID := event.OrgID.String()
	scanID := event.ScanID.String()

	dispatched := 0
	for id, sub := range b.subscribers {
		if sub.orgID != "" && sub.orgID != orgID {
			continue
		}
		if sub.scanID != "" && sub.scanID != scanID {
			continue
		}

		select {
		case sub.ch <- event:
			dispatched++
		default:
			b.logger.Debug("subscriber buffer full, dropping event",
				"subscriber_id", id,
				"scan_id", scanID,
				"kind", event.Kind,
			)
		}
	}

	b.logger.Debug("dispatched scan event",
		"kind", event.Kind,
		"scan_id", scanID,
		"dispatched", dispatched,
	)
}

// SubscriberCount returns the current number of subscribers.
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
