package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/vulnscanio/engine/pkg/domain/finding"
	"github.com/vulnscanio/engine/pkg/domain/shared"
	"github.com/vulnscanio/engine/pkg/pagination"
)

// FindingRepository implements finding.Repository using PostgreSQL.
type FindingRepository struct {
	db *DB
}

// NewFindingRepository creates a new FindingRepository.
func NewFindingRepository(db *DB) *FindingRepository {
	return &FindingRepository{db: db}
}

const findingSelectQuery = `
	SELECT id, scan_id, org_id, module, severity, category, title, description,
	       cve_id, cvss_score, affected_component, evidence, remediation,
	       refs, metadata, created_at
	FROM findings
`

// findingColumnCount is the number of columns written per row in CreateBatch.
const findingColumnCount = 16

func (r *FindingRepository) scanFinding(row interface{ Scan(...any) error }) (*finding.Finding, error) {
	var (
		id       string
		scanID   string
		orgID    string
		refs     pq.StringArray
		metadata []byte
	)

	f := &finding.Finding{}
	var severity string
	err := row.Scan(
		&id, &scanID, &orgID, &f.Module, &severity, &f.Category, &f.Title, &f.Description,
		&f.CVEID, &f.CVSSScore, &f.AffectedComponent, &f.Evidence, &f.Remediation,
		&refs, &metadata, &f.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	f.ID, _ = shared.IDFromString(id)
	f.ScanID, _ = shared.IDFromString(scanID)
	f.OrgID, _ = shared.IDFromString(orgID)
	f.Severity = finding.Severity(severity)
	f.References = []string(refs)

	f.Metadata = make(map[string]any)
	if err := fromJSONB(metadata, &f.Metadata); err != nil {
		f.Metadata = make(map[string]any)
	}

	return f, nil
}

// CreateBatch persists the findings a module run produced in one round trip.
func (r *FindingRepository) CreateBatch(ctx context.Context, findings []*finding.Finding) error {
	if len(findings) == 0 {
		return nil
	}

	valueStrings := make([]string, 0, len(findings))
	valueArgs := make([]any, 0, len(findings)*findingColumnCount)
	argIndex := 1

	for _, f := range findings {
		metadataJSON, err := toJSONB(f.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}

		placeholders := make([]string, findingColumnCount)
		for i := 0; i < findingColumnCount; i++ {
			placeholders[i] = fmt.Sprintf("$%d", argIndex+i)
		}
		valueStrings = append(valueStrings, "("+strings.Join(placeholders, ", ")+")")

		valueArgs = append(valueArgs,
			f.ID.String(),
			f.ScanID.String(),
			f.OrgID.String(),
			f.Module,
			string(f.Severity),
			f.Category,
			f.Title,
			f.Description,
			f.CVEID,
			f.CVSSScore,
			f.AffectedComponent,
			f.Evidence,
			f.Remediation,
			pq.StringArray(f.References),
			nullBytes(metadataJSON),
			f.CreatedAt,
		)

		argIndex += findingColumnCount
	}

	query := `
		INSERT INTO findings (
			id, scan_id, org_id, module, severity, category, title, description,
			cve_id, cvss_score, affected_component, evidence, remediation,
			refs, metadata, created_at
		) VALUES ` + strings.Join(valueStrings, ", ")

	if _, err := r.db.ExecContext(ctx, query, valueArgs...); err != nil {
		return fmt.Errorf("failed to create findings: %w", err)
	}

	return nil
}

// ListByScanID lists all findings for a scan, most severe first.
func (r *FindingRepository) ListByScanID(ctx context.Context, scanID shared.ID) ([]*finding.Finding, error) {
	query := findingSelectQuery + `
		WHERE scan_id = $1
		ORDER BY CASE severity
			WHEN 'critical' THEN 0
			WHEN 'high' THEN 1
			WHEN 'medium' THEN 2
			WHEN 'low' THEN 3
			ELSE 4
		END, created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, scanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}
	defer rows.Close()

	var findings []*finding.Finding
	for rows.Next() {
		f, err := r.scanFinding(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		findings = append(findings, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate findings: %w", err)
	}

	return findings, nil
}

// List lists findings with filters and pagination.
func (r *FindingRepository) List(ctx context.Context, filter finding.Filter, page pagination.Pagination) (pagination.Result[*finding.Finding], error) {
	var result pagination.Result[*finding.Finding]

	var conditions []string
	var args []any
	argNum := 1

	if filter.OrgID != nil {
		conditions = append(conditions, fmt.Sprintf("org_id = $%d", argNum))
		args = append(args, filter.OrgID.String())
		argNum++
	}

	if filter.ScanID != nil {
		conditions = append(conditions, fmt.Sprintf("scan_id = $%d", argNum))
		args = append(args, filter.ScanID.String())
		argNum++
	}

	if filter.Module != "" {
		conditions = append(conditions, fmt.Sprintf("module = $%d", argNum))
		args = append(args, filter.Module)
		argNum++
	}

	if filter.Severity != nil {
		conditions = append(conditions, fmt.Sprintf("severity = $%d", argNum))
		args = append(args, string(*filter.Severity))
		argNum++
	}

	if filter.CVEOnly {
		conditions = append(conditions, "cve_id != ''")
	}

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(title ILIKE $%d OR description ILIKE $%d)", argNum, argNum))
		args = append(args, wrapLikePattern(filter.Search))
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM findings" + whereClause
	var total int64
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return result, fmt.Errorf("failed to count findings: %w", err)
	}

	query := findingSelectQuery + whereClause + orderByCreatedAtDesc +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, page.Limit(), page.Offset())

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return result, fmt.Errorf("failed to list findings: %w", err)
	}
	defer rows.Close()

	var findings []*finding.Finding
	for rows.Next() {
		f, err := r.scanFinding(rows)
		if err != nil {
			return result, fmt.Errorf("failed to scan finding: %w", err)
		}
		findings = append(findings, f)
	}

	if err := rows.Err(); err != nil {
		return result, fmt.Errorf("iterate findings: %w", err)
	}

	return pagination.NewResult(findings, total, page), nil
}

// CountBySeverity returns per-severity counts for an organization.
func (r *FindingRepository) CountBySeverity(ctx context.Context, orgID shared.ID) (map[finding.Severity]int64, error) {
	query := `
		SELECT severity, COUNT(*)
		FROM findings
		WHERE org_id = $1
		GROUP BY severity
	`
	rows, err := r.db.QueryContext(ctx, query, orgID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to count findings by severity: %w", err)
	}
	defer rows.Close()

	counts := make(map[finding.Severity]int64)
	for rows.Next() {
		var severity string
		var count int64
		if err := rows.Scan(&severity, &count); err != nil {
			return nil, err
		}
		counts[finding.Severity(severity)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate severity counts: %w", err)
	}

	return counts, nil
}

// DeleteByScanID removes all findings for a scan.
func (r *FindingRepository) DeleteByScanID(ctx context.Context, scanID shared.ID) error {
	query := "DELETE FROM findings WHERE scan_id = $1"
	if _, err := r.db.ExecContext(ctx, query, scanID.String()); err != nil {
		return fmt.Errorf("failed to delete findings: %w", err)
	}
	return nil
}
