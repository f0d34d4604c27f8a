package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vulnscanio/engine/pkg/domain/scan"
	"github.com/vulnscanio/engine/pkg/domain/shared"
	"github.com/vulnscanio/engine/pkg/pagination"
)

// ScheduleRepository implements scan.ScheduleRepository using PostgreSQL.
type ScheduleRepository struct {
	db *DB
}

// NewScheduleRepository creates a new ScheduleRepository.
func NewScheduleRepository(db *DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

const scheduleSelectQuery = `
	SELECT id, org_id, target_id, target, profile, cron_expr, enabled,
	       next_run_at, last_run_at, created_by, created_at, updated_at
	FROM scan_schedules
`

func (r *ScheduleRepository) scanSchedule(row interface{ Scan(...any) error }) (*scan.Schedule, error) {
	var (
		id        string
		orgID     string
		targetID  string
		nextRunAt sql.NullTime
		lastRunAt sql.NullTime
		createdBy sql.NullString
	)

	s := &scan.Schedule{}
	err := row.Scan(
		&id, &orgID, &targetID, &s.Target, &s.Profile, &s.CronExpr, &s.Enabled,
		&nextRunAt, &lastRunAt, &createdBy, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.ID, _ = shared.IDFromString(id)
	s.OrgID, _ = shared.IDFromString(orgID)
	s.TargetID, _ = shared.IDFromString(targetID)
	s.NextRunAt = nullTimeValue(nextRunAt)
	s.LastRunAt = nullTimeValue(lastRunAt)
	if createdBy.Valid {
		s.CreatedBy, _ = shared.IDFromString(createdBy.String)
	}

	return s, nil
}

// Create persists a new schedule.
func (r *ScheduleRepository) Create(ctx context.Context, schedule *scan.Schedule) error {
	query := `
		INSERT INTO scan_schedules (
			id, org_id, target_id, target, profile, cron_expr, enabled,
			next_run_at, last_run_at, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	var createdBy *string
	if !schedule.CreatedBy.IsZero() {
		cb := schedule.CreatedBy.String()
		createdBy = &cb
	}

	_, err := r.db.ExecContext(ctx, query,
		schedule.ID.String(),
		schedule.OrgID.String(),
		schedule.TargetID.String(),
		schedule.Target,
		schedule.Profile,
		schedule.CronExpr,
		schedule.Enabled,
		nullTime(schedule.NextRunAt),
		nullTime(schedule.LastRunAt),
		createdBy,
		schedule.CreatedAt,
		schedule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}

	return nil
}

// GetByID retrieves a schedule by ID.
func (r *ScheduleRepository) GetByID(ctx context.Context, id shared.ID) (*scan.Schedule, error) {
	query := scheduleSelectQuery + " WHERE id = $1"
	row := r.db.QueryRowContext(ctx, query, id.String())

	schedule, err := r.scanSchedule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, scan.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}

	return schedule, nil
}

// GetByOrgAndID retrieves a schedule scoped to an organization.
func (r *ScheduleRepository) GetByOrgAndID(ctx context.Context, orgID, id shared.ID) (*scan.Schedule, error) {
	query := scheduleSelectQuery + " WHERE org_id = $1 AND id = $2"
	row := r.db.QueryRowContext(ctx, query, orgID.String(), id.String())

	schedule, err := r.scanSchedule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, scan.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}

	return schedule, nil
}

// ListByOrg lists schedules for an organization.
func (r *ScheduleRepository) ListByOrg(ctx context.Context, orgID shared.ID, page pagination.Pagination) (pagination.Result[*scan.Schedule], error) {
	var result pagination.Result[*scan.Schedule]

	countQuery := "SELECT COUNT(*) FROM scan_schedules WHERE org_id = $1"
	var total int64
	if err := r.db.QueryRowContext(ctx, countQuery, orgID.String()).Scan(&total); err != nil {
		return result, fmt.Errorf("failed to count schedules: %w", err)
	}

	query := scheduleSelectQuery + " WHERE org_id = $1" + orderByCreatedAtDesc + " LIMIT $2 OFFSET $3"
	rows, err := r.db.QueryContext(ctx, query, orgID.String(), page.Limit(), page.Offset())
	if err != nil {
		return result, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*scan.Schedule
	for rows.Next() {
		schedule, err := r.scanSchedule(rows)
		if err != nil {
			return result, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, schedule)
	}

	if err := rows.Err(); err != nil {
		return result, fmt.Errorf("iterate schedules: %w", err)
	}

	return pagination.NewResult(schedules, total, page), nil
}

// ListDue lists enabled schedules whose next run has passed.
func (r *ScheduleRepository) ListDue(ctx context.Context, now time.Time) ([]*scan.Schedule, error) {
	query := scheduleSelectQuery + `
		WHERE enabled = true
		AND next_run_at IS NOT NULL
		AND next_run_at <= $1
		ORDER BY next_run_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*scan.Schedule
	for rows.Next() {
		schedule, err := r.scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, schedule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due schedules: %w", err)
	}

	return schedules, nil
}

// Update persists schedule changes.
func (r *ScheduleRepository) Update(ctx context.Context, schedule *scan.Schedule) error {
	query := `
		UPDATE scan_schedules SET
			target = $2,
			profile = $3,
			cron_expr = $4,
			enabled = $5,
			next_run_at = $6,
			last_run_at = $7,
			updated_at = $8
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		schedule.ID.String(),
		schedule.Target,
		schedule.Profile,
		schedule.CronExpr,
		schedule.Enabled,
		nullTime(schedule.NextRunAt),
		nullTime(schedule.LastRunAt),
		schedule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return scan.ErrScheduleNotFound
	}

	return nil
}

// Delete removes a schedule.
func (r *ScheduleRepository) Delete(ctx context.Context, id shared.ID) error {
	query := "DELETE FROM scan_schedules WHERE id = $1"
	result, err := r.db.ExecContext(ctx, query, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return scan.ErrScheduleNotFound
	}

	return nil
}
