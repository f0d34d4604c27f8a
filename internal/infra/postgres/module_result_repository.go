package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vulnscanio/engine/pkg/domain/finding"
	"github.com/vulnscanio/engine/pkg/domain/scan"
	"github.com/vulnscanio/engine/pkg/domain/shared"
)

// ModuleResultRepository implements scan.ModuleResultRepository using
// PostgreSQL. Results are append-only; the unique (scan_id, module_name)
// constraint makes redelivered module executions idempotent.
type ModuleResultRepository struct {
	db *DB
}

// NewModuleResultRepository creates a new ModuleResultRepository.
func NewModuleResultRepository(db *DB) *ModuleResultRepository {
	return &ModuleResultRepository{db: db}
}

const moduleResultSelectQuery = `
	SELECT id, scan_id, module_name, status, error, started_at, duration_ms, created_at
	FROM module_results
`

func (r *ModuleResultRepository) scanResult(row interface{ Scan(...any) error }) (*scan.ModuleResult, error) {
	var (
		id         string
		scanID     string
		status     string
		errMsg     sql.NullString
		durationMs int64
	)

	result := &scan.ModuleResult{}
	err := row.Scan(
		&id, &scanID, &result.ModuleName, &status, &errMsg,
		&result.StartedAt, &durationMs, &result.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	result.ID, _ = shared.IDFromString(id)
	result.ScanID, _ = shared.IDFromString(scanID)
	result.Status = scan.ResultStatus(status)
	result.Error = errMsg.String
	result.Duration = time.Duration(durationMs) * time.Millisecond
	// Findings live in their own table; load them via finding.Repository.
	result.Findings = []*finding.Finding{}

	return result, nil
}

// Create persists a module result.
func (r *ModuleResultRepository) Create(ctx context.Context, result *scan.ModuleResult) error {
	query := `
		INSERT INTO module_results (
			id, scan_id, module_name, status, error, started_at, duration_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		result.ID.String(),
		result.ScanID.String(),
		result.ModuleName,
		string(result.Status),
		nullString(result.Error),
		result.StartedAt,
		result.Duration.Milliseconds(),
		result.CreatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return scan.ErrDuplicateResult
		}
		return fmt.Errorf("failed to create module result: %w", err)
	}

	return nil
}

// ListByScanID lists results for a scan in execution order.
func (r *ModuleResultRepository) ListByScanID(ctx context.Context, scanID shared.ID) ([]*scan.ModuleResult, error) {
	query := moduleResultSelectQuery + " WHERE scan_id = $1 ORDER BY created_at ASC"

	rows, err := r.db.QueryContext(ctx, query, scanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list module results: %w", err)
	}
	defer rows.Close()

	var results []*scan.ModuleResult
	for rows.Next() {
		result, err := r.scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan module result: %w", err)
		}
		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate module results: %w", err)
	}

	return results, nil
}
