package app

import (
	"context"
	"errors"
	"time"

	"github.com/vulnscanio/engine/pkg/domain/scan"
	"github.com/vulnscanio/engine/pkg/domain/shared"
)

// ErrTaskAlreadyQueued is returned by enqueue operations when a task with
// the same dedup ID is already pending or running. Callers that requeue
// scans already in flight (the reaper) can treat it as success.
var ErrTaskAlreadyQueued = errors.New("task already queued")

// JobEnqueuer pushes background tasks onto the durable queues. Implemented
// by the asynq client.
type JobEnqueuer interface {
	EnqueueScan(ctx context.Context, scanID, orgID shared.ID) error
	EnqueueScanIn(ctx context.Context, scanID, orgID shared.ID, delay time.Duration) error
	EnqueueDiscovery(ctx context.Context, targetID, orgID shared.ID) error
	EnqueueReport(ctx context.Context, scanID, orgID shared.ID, format string) error
	EnqueueNotification(ctx context.Context, scanID, orgID shared.ID, eventType string) error
	EnqueueDigest(ctx context.Context, orgID shared.ID, period string) error
}

// EventPublisher pushes scan lifecycle events onto the progress bus.
// Delivery is best-effort: publish failures are logged, never propagated
// into the scan state machine. A nil publisher disables publishing.
type EventPublisher interface {
	Publish(ctx context.Context, event scan.Event) error
}

// ArtifactStore persists rendered report artifacts.
type ArtifactStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}
