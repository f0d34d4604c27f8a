package scan

import (
	"time"

	"github.com/vulnscanio/engine/pkg/domain/shared"
)

// Filter represents filter options for listing scan jobs.
type Filter struct {
	OrgID        *shared.ID
	TargetID     *shared.ID
	ScheduleID   *shared.ID
	Status       *Status
	Profile      string
	Search       string
	CreatedAfter *time.Time
}

// Stats represents aggregated statistics for scan jobs.
type Stats struct {
	Total     int64            `json:"total"`
	ByStatus  map[Status]int64 `json:"by_status"`
	ByProfile map[string]int64 `json:"by_profile"`
}

// QueueCounts represents per-state counts reported by the job queue.
type QueueCounts struct {
	Pending   int64 `json:"pending"`
	Active    int64 `json:"active"`
	Scheduled int64 `json:"scheduled"`
	Retry     int64 `json:"retry"`
	Archived  int64 `json:"archived"`
	Completed int64 `json:"completed"`
}
