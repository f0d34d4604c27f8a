package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/vulnscanio/engine/pkg/domain/shared"
	"github.com/vulnscanio/engine/pkg/domain/target"
	"github.com/vulnscanio/engine/pkg/pagination"
)

// TargetRepository implements target.Repository using PostgreSQL.
type TargetRepository struct {
	db *DB
}

// NewTargetRepository creates a new TargetRepository.
func NewTargetRepository(db *DB) *TargetRepository {
	return &TargetRepository{db: db}
}

const targetSelectQuery = `
	SELECT id, org_id, value, kind, registrable_domain, description, tags,
	       verified, enabled, last_scan_at, created_by, created_at, updated_at
	FROM targets
`

func (r *TargetRepository) scanTarget(row interface{ Scan(...any) error }) (*target.Target, error) {
	var (
		id                string
		orgID             string
		value             string
		kind              string
		registrableDomain sql.NullString
		description       sql.NullString
		tags              pq.StringArray
		verified          bool
		enabled           bool
		lastScanAt        sql.NullTime
		createdBy         sql.NullString
		createdAt         sql.NullTime
		updatedAt         sql.NullTime
	)

	err := row.Scan(
		&id, &orgID, &value, &kind, &registrableDomain, &description, &tags,
		&verified, &enabled, &lastScanAt, &createdBy, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	tid, _ := shared.IDFromString(id)
	oid, _ := shared.IDFromString(orgID)

	return target.Reconstruct(
		tid, oid,
		value,
		target.Type(kind),
		registrableDomain.String,
		description.String,
		[]string(tags),
		verified, enabled,
		nullTimeValue(lastScanAt),
		parseNullID(createdBy),
		createdAt.Time, updatedAt.Time,
	), nil
}

// Create persists a new target.
func (r *TargetRepository) Create(ctx context.Context, t *target.Target) error {
	query := `
		INSERT INTO targets (
			id, org_id, value, kind, registrable_domain, description, tags,
			verified, enabled, last_scan_at, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.db.ExecContext(ctx, query,
		t.ID().String(),
		t.OrgID().String(),
		t.Value(),
		string(t.Kind()),
		nullString(t.RegistrableDomain()),
		nullString(t.Description()),
		pq.StringArray(t.Tags()),
		t.Verified(),
		t.Enabled(),
		nullTime(t.LastScanAt()),
		nullID(t.CreatedBy()),
		t.CreatedAt(),
		t.UpdatedAt(),
	)

	if err != nil {
		if isUniqueViolation(err) {
			return target.ErrTargetExists
		}
		return fmt.Errorf("failed to create target: %w", err)
	}

	return nil
}

// GetByID retrieves a target scoped to an organization.
func (r *TargetRepository) GetByID(ctx context.Context, id, orgID target.ID) (*target.Target, error) {
	query := targetSelectQuery + " WHERE id = $1 AND org_id = $2"
	row := r.db.QueryRowContext(ctx, query, id.String(), orgID.String())

	t, err := r.scanTarget(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, target.ErrTargetNotFound
		}
		return nil, fmt.Errorf("failed to get target: %w", err)
	}

	return t, nil
}

// GetByValue retrieves a target by its normalized value.
func (r *TargetRepository) GetByValue(ctx context.Context, orgID target.ID, value string) (*target.Target, error) {
	query := targetSelectQuery + " WHERE org_id = $1 AND value = $2"
	row := r.db.QueryRowContext(ctx, query, orgID.String(), value)

	t, err := r.scanTarget(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, target.ErrTargetNotFound
		}
		return nil, fmt.Errorf("failed to get target: %w", err)
	}

	return t, nil
}

// List lists targets with filters and pagination.
func (r *TargetRepository) List(ctx context.Context, filter target.Filter, page pagination.Pagination) (pagination.Result[*target.Target], error) {
	var result pagination.Result[*target.Target]

	var conditions []string
	var args []any
	argNum := 1

	if filter.OrgID != nil {
		conditions = append(conditions, fmt.Sprintf("org_id = $%d", argNum))
		args = append(args, filter.OrgID.String())
		argNum++
	}

	if filter.Kind != nil {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argNum))
		args = append(args, string(*filter.Kind))
		argNum++
	}

	if filter.Enabled != nil {
		conditions = append(conditions, fmt.Sprintf("enabled = $%d", argNum))
		args = append(args, *filter.Enabled)
		argNum++
	}

	if filter.Verified != nil {
		conditions = append(conditions, fmt.Sprintf("verified = $%d", argNum))
		args = append(args, *filter.Verified)
		argNum++
	}

	if len(filter.Tags) > 0 {
		conditions = append(conditions, fmt.Sprintf("tags && $%d", argNum))
		args = append(args, pq.StringArray(filter.Tags))
		argNum++
	}

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(value ILIKE $%d OR registrable_domain ILIKE $%d)", argNum, argNum))
		args = append(args, wrapLikePattern(filter.Search))
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM targets" + whereClause
	var total int64
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return result, fmt.Errorf("failed to count targets: %w", err)
	}

	query := targetSelectQuery + whereClause + " ORDER BY value" +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, page.Limit(), page.Offset())

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return result, fmt.Errorf("failed to list targets: %w", err)
	}
	defer rows.Close()

	var targets []*target.Target
	for rows.Next() {
		t, err := r.scanTarget(rows)
		if err != nil {
			return result, fmt.Errorf("failed to scan target: %w", err)
		}
		targets = append(targets, t)
	}

	if err := rows.Err(); err != nil {
		return result, fmt.Errorf("iterate targets: %w", err)
	}

	return pagination.NewResult(targets, total, page), nil
}

// Update persists target changes.
func (r *TargetRepository) Update(ctx context.Context, t *target.Target) error {
	query := `
		UPDATE targets SET
			registrable_domain = $2,
			description = $3,
			tags = $4,
			verified = $5,
			enabled = $6,
			last_scan_at = $7,
			updated_at = $8
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		t.ID().String(),
		nullString(t.RegistrableDomain()),
		nullString(t.Description()),
		pq.StringArray(t.Tags()),
		t.Verified(),
		t.Enabled(),
		nullTime(t.LastScanAt()),
		t.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to update target: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return target.ErrTargetNotFound
	}

	return nil
}

// TouchLastScan records the completion time of the latest scan.
func (r *TargetRepository) TouchLastScan(ctx context.Context, id target.ID, at time.Time) error {
	query := "UPDATE targets SET last_scan_at = $2, updated_at = NOW() WHERE id = $1"
	if _, err := r.db.ExecContext(ctx, query, id.String(), at); err != nil {
		return fmt.Errorf("failed to touch last scan: %w", err)
	}
	return nil
}

// Delete removes a target.
func (r *TargetRepository) Delete(ctx context.Context, id, orgID target.ID) error {
	query := "DELETE FROM targets WHERE id = $1 AND org_id = $2"
	result, err := r.db.ExecContext(ctx, query, id.String(), orgID.String())
	if err != nil {
		return fmt.Errorf("failed to delete target: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return target.ErrTargetNotFound
	}

	return nil
}
