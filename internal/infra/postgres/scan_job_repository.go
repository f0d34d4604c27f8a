package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/vulnscanio/engine/pkg/domain/scan"
	"github.com/vulnscanio/engine/pkg/domain/shared"
	"github.com/vulnscanio/engine/pkg/pagination"
)

// ScanJobRepository implements scan.Repository using PostgreSQL.
//
// The one-active-scan-per-target rule is enforced by a partial unique index
// on (org_id, target_id) covering rows in queued or running status, so
// concurrent creates cannot race past an application-level check.
type ScanJobRepository struct {
	db *DB
}

// NewScanJobRepository creates a new ScanJobRepository.
func NewScanJobRepository(db *DB) *ScanJobRepository {
	return &ScanJobRepository{db: db}
}

const scanJobSelectQuery = `
	SELECT id, org_id, target_id, target, requested_by, profile, modules,
	       status, progress, current_module, cancel_requested, failure_reason,
	       summary, report_key, schedule_id, attempt,
	       created_at, started_at, completed_at, updated_at
	FROM scan_jobs
`

func (r *ScanJobRepository) scanJob(row interface{ Scan(...any) error }) (*scan.ScanJob, error) {
	var (
		id            string
		orgID         string
		targetID      string
		requestedBy   sql.NullString
		modules       pq.StringArray
		status        string
		currentModule sql.NullString
		failureReason sql.NullString
		summary       []byte
		reportKey     sql.NullString
		scheduleID    sql.NullString
		startedAt     sql.NullTime
		completedAt   sql.NullTime
	)

	job := &scan.ScanJob{}
	err := row.Scan(
		&id, &orgID, &targetID, &job.Target, &requestedBy, &job.Profile, &modules,
		&status, &job.Progress, &currentModule, &job.CancelRequested, &failureReason,
		&summary, &reportKey, &scheduleID, &job.Attempt,
		&job.CreatedAt, &startedAt, &completedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.ID, _ = shared.IDFromString(id)
	job.OrgID, _ = shared.IDFromString(orgID)
	job.TargetID, _ = shared.IDFromString(targetID)
	if requestedBy.Valid {
		job.RequestedBy, _ = shared.IDFromString(requestedBy.String)
	}
	job.Modules = []string(modules)
	job.Status = scan.Status(status)
	job.CurrentModule = currentModule.String
	job.FailureReason = failureReason.String
	job.ReportKey = reportKey.String
	job.ScheduleID = parseNullID(scheduleID)
	job.StartedAt = nullTimeValue(startedAt)
	job.CompletedAt = nullTimeValue(completedAt)
	job.Results = []*scan.ModuleResult{}

	if len(summary) > 0 {
		var s scan.Summary
		if err := fromJSONB(summary, &s); err == nil {
			job.Summary = &s
		}
	}

	return job, nil
}

// Create persists a new scan job.
func (r *ScanJobRepository) Create(ctx context.Context, job *scan.ScanJob) error {
	summaryJSON, err := toJSONB(job.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	query := `
		INSERT INTO scan_jobs (
			id, org_id, target_id, target, requested_by, profile, modules,
			status, progress, current_module, cancel_requested, failure_reason,
			summary, report_key, schedule_id, attempt,
			created_at, started_at, completed_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`

	var requestedBy *string
	if !job.RequestedBy.IsZero() {
		rb := job.RequestedBy.String()
		requestedBy = &rb
	}

	_, err = r.db.ExecContext(ctx, query,
		job.ID.String(),
		job.OrgID.String(),
		job.TargetID.String(),
		job.Target,
		requestedBy,
		job.Profile,
		pq.StringArray(job.Modules),
		string(job.Status),
		job.Progress,
		nullString(job.CurrentModule),
		job.CancelRequested,
		nullString(job.FailureReason),
		nullBytes(summaryJSON),
		nullString(job.ReportKey),
		nullID(job.ScheduleID),
		job.Attempt,
		job.CreatedAt,
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
		job.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return scan.ErrDuplicateActiveScan
		}
		return fmt.Errorf("failed to create scan job: %w", err)
	}

	return nil
}

// GetByID retrieves a scan job by ID, without results.
func (r *ScanJobRepository) GetByID(ctx context.Context, id shared.ID) (*scan.ScanJob, error) {
	query := scanJobSelectQuery + " WHERE id = $1"
	row := r.db.QueryRowContext(ctx, query, id.String())

	job, err := r.scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, scan.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get scan job: %w", err)
	}

	return job, nil
}

// GetByOrgAndID retrieves a scan job scoped to an organization.
func (r *ScanJobRepository) GetByOrgAndID(ctx context.Context, orgID, id shared.ID) (*scan.ScanJob, error) {
	query := scanJobSelectQuery + " WHERE org_id = $1 AND id = $2"
	row := r.db.QueryRowContext(ctx, query, orgID.String(), id.String())

	job, err := r.scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, scan.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get scan job: %w", err)
	}

	return job, nil
}

// GetWithResults retrieves a scan job with its module results loaded in
// execution order.
func (r *ScanJobRepository) GetWithResults(ctx context.Context, id shared.ID) (*scan.ScanJob, error) {
	job, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	results, err := NewModuleResultRepository(r.db).ListByScanID(ctx, id)
	if err != nil {
		return nil, err
	}
	job.Results = results

	return job, nil
}

// List lists scan jobs with filters and pagination.
func (r *ScanJobRepository) List(ctx context.Context, filter scan.Filter, page pagination.Pagination) (pagination.Result[*scan.ScanJob], error) {
	var result pagination.Result[*scan.ScanJob]

	whereClause, args, argNum := r.buildWhereClause(filter)

	countQuery := "SELECT COUNT(*) FROM scan_jobs" + whereClause
	var total int64
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return result, fmt.Errorf("failed to count scan jobs: %w", err)
	}

	query := scanJobSelectQuery + whereClause + orderByCreatedAtDesc +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, page.Limit(), page.Offset())

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return result, fmt.Errorf("failed to list scan jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*scan.ScanJob
	for rows.Next() {
		job, err := r.scanJob(rows)
		if err != nil {
			return result, fmt.Errorf("failed to scan scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return result, fmt.Errorf("iterate scan jobs: %w", err)
	}

	return pagination.NewResult(jobs, total, page), nil
}

// Update persists mutable job fields. Status is written too, but guarded
// transitions must go through UpdateStatusFrom first.
func (r *ScanJobRepository) Update(ctx context.Context, job *scan.ScanJob) error {
	summaryJSON, err := toJSONB(job.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	// cancel_requested is deliberately absent: it is a one-way flag owned by
	// SetCancelRequested, and writing the worker's stale copy here would erase
	// a cancel that arrived while a module was running.
	query := `
		UPDATE scan_jobs SET
			status = $2,
			progress = $3,
			current_module = $4,
			failure_reason = $5,
			summary = $6,
			report_key = $7,
			attempt = $8,
			started_at = $9,
			completed_at = $10,
			updated_at = $11
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		job.ID.String(),
		string(job.Status),
		job.Progress,
		nullString(job.CurrentModule),
		nullString(job.FailureReason),
		nullBytes(summaryJSON),
		nullString(job.ReportKey),
		job.Attempt,
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update scan job: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return scan.ErrNotFound
	}

	return nil
}

// UpdateStatusFrom atomically transitions status from expected to next. The
// row is only touched when the stored status still matches, so a concurrent
// cancel and a worker claim cannot both win.
func (r *ScanJobRepository) UpdateStatusFrom(ctx context.Context, id shared.ID, expected, next scan.Status) error {
	query := `
		UPDATE scan_jobs
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`
	result, err := r.db.ExecContext(ctx, query, id.String(), string(expected), string(next))
	if err != nil {
		return fmt.Errorf("failed to update scan job status: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Distinguish a vanished row from a lost race.
		var current string
		err := r.db.QueryRowContext(ctx, "SELECT status FROM scan_jobs WHERE id = $1", id.String()).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return scan.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read scan job status: %w", err)
		}
		return shared.NewDomainError("STATUS_CONFLICT",
			fmt.Sprintf("scan status is %s, expected %s", current, expected), shared.ErrConflict)
	}

	return nil
}

// SetCancelRequested flags a job for cooperative cancellation.
func (r *ScanJobRepository) SetCancelRequested(ctx context.Context, id shared.ID) error {
	query := "UPDATE scan_jobs SET cancel_requested = TRUE, updated_at = NOW() WHERE id = $1"
	result, err := r.db.ExecContext(ctx, query, id.String())
	if err != nil {
		return fmt.Errorf("failed to set cancel flag: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return scan.ErrNotFound
	}

	return nil
}

// CountActiveByTarget counts queued or running jobs for a target.
func (r *ScanJobRepository) CountActiveByTarget(ctx context.Context, orgID, targetID shared.ID) (int64, error) {
	query := `
		SELECT COUNT(*) FROM scan_jobs
		WHERE org_id = $1 AND target_id = $2 AND status IN ('queued', 'running')
	`
	var count int64
	if err := r.db.QueryRowContext(ctx, query, orgID.String(), targetID.String()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count active scans: %w", err)
	}
	return count, nil
}

// ListUnfinished lists jobs stuck in queued or running whose last update is
// older than the given time. The reaper requeues these after worker crashes.
func (r *ScanJobRepository) ListUnfinished(ctx context.Context, olderThan time.Time) ([]*scan.ScanJob, error) {
	query := scanJobSelectQuery + `
		WHERE status IN ('queued', 'running')
		AND updated_at < $1
		ORDER BY updated_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to list unfinished scans: %w", err)
	}
	defer rows.Close()

	var jobs []*scan.ScanJob
	for rows.Next() {
		job, err := r.scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unfinished scans: %w", err)
	}

	return jobs, nil
}

// GetStats returns aggregated statistics for an organization.
func (r *ScanJobRepository) GetStats(ctx context.Context, orgID shared.ID) (*scan.Stats, error) {
	stats := &scan.Stats{
		ByStatus:  make(map[scan.Status]int64),
		ByProfile: make(map[string]int64),
	}

	statusQuery := `
		SELECT status, COUNT(*)
		FROM scan_jobs
		WHERE org_id = $1
		GROUP BY status
	`
	statusRows, err := r.db.QueryContext(ctx, statusQuery, orgID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get status stats: %w", err)
	}
	defer statusRows.Close()

	for statusRows.Next() {
		var status string
		var count int64
		if err := statusRows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.ByStatus[scan.Status(status)] = count
		stats.Total += count
	}
	if err := statusRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status stats: %w", err)
	}

	profileQuery := `
		SELECT profile, COUNT(*)
		FROM scan_jobs
		WHERE org_id = $1
		GROUP BY profile
	`
	profileRows, err := r.db.QueryContext(ctx, profileQuery, orgID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get profile stats: %w", err)
	}
	defer profileRows.Close()

	for profileRows.Next() {
		var profile string
		var count int64
		if err := profileRows.Scan(&profile, &count); err != nil {
			return nil, err
		}
		stats.ByProfile[profile] = count
	}
	if err := profileRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profile stats: %w", err)
	}

	return stats, nil
}

// Delete removes a scan job. Module results and findings go with it via
// cascading foreign keys.
func (r *ScanJobRepository) Delete(ctx context.Context, id shared.ID) error {
	query := "DELETE FROM scan_jobs WHERE id = $1"
	result, err := r.db.ExecContext(ctx, query, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete scan job: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return scan.ErrNotFound
	}

	return nil
}

// buildWhereClause builds the WHERE clause from filters. Returns the clause
// (with leading " WHERE " when non-empty), the args, and the next arg index.
func (r *ScanJobRepository) buildWhereClause(filter scan.Filter) (string, []any, int) {
	var conditions []string
	var args []any
	argNum := 1

	if filter.OrgID != nil {
		conditions = append(conditions, fmt.Sprintf("org_id = $%d", argNum))
		args = append(args, filter.OrgID.String())
		argNum++
	}

	if filter.TargetID != nil {
		conditions = append(conditions, fmt.Sprintf("target_id = $%d", argNum))
		args = append(args, filter.TargetID.String())
		argNum++
	}

	if filter.ScheduleID != nil {
		conditions = append(conditions, fmt.Sprintf("schedule_id = $%d", argNum))
		args = append(args, filter.ScheduleID.String())
		argNum++
	}

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, string(*filter.Status))
		argNum++
	}

	if filter.Profile != "" {
		conditions = append(conditions, fmt.Sprintf("profile = $%d", argNum))
		args = append(args, filter.Profile)
		argNum++
	}

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("target ILIKE $%d", argNum))
		args = append(args, wrapLikePattern(filter.Search))
		argNum++
	}

	if filter.CreatedAfter != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argNum))
		args = append(args, *filter.CreatedAfter)
		argNum++
	}

	if len(conditions) == 0 {
		return "", nil, argNum
	}

	return " WHERE " + strings.Join(conditions, " AND "), args, argNum
}
