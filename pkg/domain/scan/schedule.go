package scan

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vulnscanio/engine/pkg/domain/shared"
)

// Schedule is a recurring scan definition: a target, a profile and a cron
// expression. The scheduler enqueues a fresh ScanJob each time NextRunAt
// passes.
type Schedule struct {
	ID        shared.ID
	OrgID     shared.ID
	TargetID  shared.ID
	Target    string
	Profile   string
	CronExpr  string
	Enabled   bool
	NextRunAt *time.Time
	LastRunAt *time.Time
	CreatedBy shared.ID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ScheduleParams contains parameters for creating a schedule.
type ScheduleParams struct {
	OrgID     shared.ID
	TargetID  shared.ID
	Target    string
	Profile   string
	CronExpr  string
	CreatedBy shared.ID
}

// NewSchedule creates an enabled schedule with the first run computed from
// the cron expression.
func NewSchedule(params ScheduleParams) (*Schedule, error) {
	if params.OrgID.IsZero() {
		return nil, shared.NewDomainError("VALIDATION", "org_id is required", shared.ErrValidation)
	}
	if params.TargetID.IsZero() {
		return nil, shared.NewDomainError("VALIDATION", "target_id is required", shared.ErrValidation)
	}
	if params.Target == "" {
		return nil, shared.NewDomainError("VALIDATION", "target is required", shared.ErrValidation)
	}
	if params.Profile == "" {
		return nil, shared.NewDomainError("VALIDATION", "profile is required", shared.ErrValidation)
	}
	if _, err := parseCron(params.CronExpr); err != nil {
		return nil, shared.NewDomainError("VALIDATION", "invalid cron expression: "+params.CronExpr, shared.ErrValidation)
	}

	now := time.Now()
	s := &Schedule{
		ID:        shared.NewID(),
		OrgID:     params.OrgID,
		TargetID:  params.TargetID,
		Target:    params.Target,
		Profile:   params.Profile,
		CronExpr:  params.CronExpr,
		Enabled:   true,
		CreatedBy: params.CreatedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.NextRunAt = s.calculateNextRun(now)
	return s, nil
}

// UpdateCron replaces the cron expression and recomputes the next run.
func (s *Schedule) UpdateCron(expr string) error {
	if _, err := parseCron(expr); err != nil {
		return shared.NewDomainError("VALIDATION", "invalid cron expression: "+expr, shared.ErrValidation)
	}
	s.CronExpr = expr
	s.NextRunAt = s.calculateNextRun(time.Now())
	s.UpdatedAt = time.Now()
	return nil
}

// MarkTriggered records a firing and advances the next run.
func (s *Schedule) MarkTriggered(at time.Time) {
	s.LastRunAt = &at
	s.NextRunAt = s.calculateNextRun(at)
	s.UpdatedAt = time.Now()
}

// Pause disables the schedule without losing its definition.
func (s *Schedule) Pause() {
	s.Enabled = false
	s.NextRunAt = nil
	s.UpdatedAt = time.Now()
}

// Resume re-enables the schedule and recomputes the next run.
func (s *Schedule) Resume() {
	s.Enabled = true
	s.NextRunAt = s.calculateNextRun(time.Now())
	s.UpdatedAt = time.Now()
}

// IsDue returns true if the schedule should fire at the given instant.
func (s *Schedule) IsDue(now time.Time) bool {
	return s.Enabled && s.NextRunAt != nil && !s.NextRunAt.After(now)
}

// calculateNextRun computes the next firing after the given time. Falls back
// to 24 hours when the stored expression no longer parses.
func (s *Schedule) calculateNextRun(after time.Time) *time.Time {
	sched, err := parseCron(s.CronExpr)
	if err != nil {
		next := after.Add(24 * time.Hour)
		return &next
	}
	next := sched.Next(after)
	return &next
}

func parseCron(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(expr)
}
