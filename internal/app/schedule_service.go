package app

import (
	"context"
	"fmt"
	"time"

	"github.com/vulnscanio/engine/pkg/domain/scan"
	"github.com/vulnscanio/engine/pkg/domain/shared"
	"github.com/vulnscanio/engine/pkg/domain/target"
	"github.com/vulnscanio/engine/pkg/logger"
	"github.com/vulnscanio/engine/pkg/pagination"
)

// ScheduleService manages recurring scan definitions. The scheduler loop
// consumes what this service stores.
type ScheduleService struct {
	scheduleRepo scan.ScheduleRepository
	targetRepo   target.Repository
	profiles     *scan.Profiles
	logger       *logger.Logger
}

// NewScheduleService creates a new ScheduleService.
func NewScheduleService(scheduleRepo scan.ScheduleRepository, targetRepo target.Repository, profiles *scan.Profiles, log *logger.Logger) *ScheduleService {
	if profiles == nil {
		profiles = scan.DefaultProfiles()
	}
	return &ScheduleService{
		scheduleRepo: scheduleRepo,
		targetRepo:   targetRepo,
		profiles:     profiles,
		logger:       log.With("service", "schedule"),
	}
}

// CreateScheduleInput carries the fields for a new schedule.
type CreateScheduleInput struct {
	OrgID     shared.ID
	TargetID  shared.ID
	Profile   string
	CronExpr  string
	CreatedBy shared.ID
}

// Create validates and stores a new schedule. The target's descriptor is
// copied onto the schedule so the scheduler and listings need no join.
func (s *ScheduleService) Create(ctx context.Context, input CreateScheduleInput) (*scan.Schedule, error) {
	tgt, err := s.targetRepo.GetByID(ctx, input.TargetID, input.OrgID)
	if err != nil {
		return nil, err
	}
	if !tgt.Enabled() {
		return nil, target.ErrTargetDisabled
	}

	profileName := input.Profile
	if profileName == "" {
		profileName = s.profiles.Default().Name
	} else {
		prof, err := s.profiles.Get(profileName)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", err, profileName)
		}
		profileName = prof.Name
	}

	sched, err := scan.NewSchedule(scan.ScheduleParams{
		OrgID:     input.OrgID,
		TargetID:  input.TargetID,
		Target:    tgt.Value(),
		Profile:   profileName,
		CronExpr:  input.CronExpr,
		CreatedBy: input.CreatedBy,
	})
	if err != nil {
		return nil, err
	}

	if err := s.scheduleRepo.Create(ctx, sched); err != nil {
		return nil, fmt.Errorf("create schedule: %w", err)
	}

	s.logger.Info("schedule created",
		"schedule_id", sched.ID.String(),
		"org_id", input.OrgID.String(),
		"target", sched.Target,
		"cron", sched.CronExpr,
		"next_run_at", sched.NextRunAt,
	)
	return sched, nil
}

// Get returns a schedule scoped to the organization.
func (s *ScheduleService) Get(ctx context.Context, orgID, id shared.ID) (*scan.Schedule, error) {
	return s.scheduleRepo.GetByOrgAndID(ctx, orgID, id)
}

// List lists the organization's schedules.
func (s *ScheduleService) List(ctx context.Context, orgID shared.ID, page pagination.Pagination) (pagination.Result[*scan.Schedule], error) {
	return s.scheduleRepo.ListByOrg(ctx, orgID, page)
}

// UpdateScheduleInput carries schedule updates. Nil fields are left as-is.
type UpdateScheduleInput struct {
	CronExpr *string
	Profile  *string
	Enabled  *bool
}

// Update applies the given changes to a schedule.
func (s *ScheduleService) Update(ctx context.Context, orgID, id shared.ID, input UpdateScheduleInput) (*scan.Schedule, error) {
	sched, err := s.scheduleRepo.GetByOrgAndID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}

	if input.CronExpr != nil {
		if err := sched.UpdateCron(*input.CronExpr); err != nil {
			return nil, err
		}
	}
	if input.Profile != nil {
		prof, err := s.profiles.Get(*input.Profile)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", err, *input.Profile)
		}
		sched.Profile = prof.Name
		sched.UpdatedAt = time.Now()
	}
	if input.Enabled != nil {
		if *input.Enabled {
			sched.Resume()
		} else {
			sched.Pause()
		}
	}

	if err := s.scheduleRepo.Update(ctx, sched); err != nil {
		return nil, fmt.Errorf("update schedule: %w", err)
	}
	return sched, nil
}

// Delete removes a schedule. Scans it already produced are untouched.
func (s *ScheduleService) Delete(ctx context.Context, orgID, id shared.ID) error {
	if _, err := s.scheduleRepo.GetByOrgAndID(ctx, orgID, id); err != nil {
		return err
	}
	if err := s.scheduleRepo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("schedule deleted", "schedule_id", id.String(), "org_id", orgID.String())
	return nil
}
