package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/vulnscanio/engine/pkg/domain/channel"
	"github.com/vulnscanio/engine/pkg/domain/shared"
	"github.com/vulnscanio/engine/pkg/pagination"
)

// ChannelRepository implements channel.Repository using PostgreSQL.
type ChannelRepository struct {
	db *DB
}

// NewChannelRepository creates a new ChannelRepository.
func NewChannelRepository(db *DB) *ChannelRepository {
	return &ChannelRepository{db: db}
}

const channelSelectQuery = `
	SELECT id, org_id, name, kind, endpoint, secret_encrypted, event_types,
	       severity_threshold, enabled, total_sent, total_failed,
	       last_triggered_at, last_error, last_error_at,
	       created_by, created_at, updated_at
	FROM notification_channels
`

func (r *ChannelRepository) scanChannel(row interface{ Scan(...any) error }) (*channel.Channel, error) {
	var (
		id              string
		orgID           string
		name            string
		kind            string
		endpoint        string
		secretEncrypted []byte
		eventTypes      pq.StringArray
		severity        string
		enabled         bool
		totalSent       int
		totalFailed     int
		lastTriggeredAt sql.NullTime
		lastError       sql.NullString
		lastErrorAt     sql.NullTime
		createdBy       sql.NullString
		createdAt       sql.NullTime
		updatedAt       sql.NullTime
	)

	err := row.Scan(
		&id, &orgID, &name, &kind, &endpoint, &secretEncrypted, &eventTypes,
		&severity, &enabled, &totalSent, &totalFailed,
		&lastTriggeredAt, &lastError, &lastErrorAt,
		&createdBy, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	cid, _ := shared.IDFromString(id)
	oid, _ := shared.IDFromString(orgID)

	return channel.Reconstruct(
		cid, oid,
		name,
		channel.Kind(kind),
		endpoint,
		secretEncrypted,
		[]string(eventTypes),
		severity,
		enabled,
		totalSent, totalFailed,
		nullTimeValue(lastTriggeredAt),
		lastError.String,
		nullTimeValue(lastErrorAt),
		parseNullID(createdBy),
		createdAt.Time, updatedAt.Time,
	), nil
}

// Create persists a new channel.
func (r *ChannelRepository) Create(ctx context.Context, c *channel.Channel) error {
	query := `
		INSERT INTO notification_channels (
			id, org_id, name, kind, endpoint, secret_encrypted, event_types,
			severity_threshold, enabled, total_sent, total_failed,
			last_triggered_at, last_error, last_error_at,
			created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err := r.db.ExecContext(ctx, query,
		c.ID().String(),
		c.OrgID().String(),
		c.Name(),
		string(c.Kind()),
		c.Endpoint(),
		c.SecretEncrypted(),
		pq.StringArray(c.EventTypes()),
		c.SeverityThreshold(),
		c.Enabled(),
		c.TotalSent(),
		c.TotalFailed(),
		nullTime(c.LastTriggeredAt()),
		nullString(c.LastError()),
		nullTime(c.LastErrorAt()),
		nullID(c.CreatedBy()),
		c.CreatedAt(),
		c.UpdatedAt(),
	)

	if err != nil {
		if isUniqueViolation(err) {
			return channel.ErrChannelNameExists
		}
		return fmt.Errorf("failed to create channel: %w", err)
	}

	return nil
}

// GetByID retrieves a channel scoped to an organization.
func (r *ChannelRepository) GetByID(ctx context.Context, id, orgID channel.ID) (*channel.Channel, error) {
	query := channelSelectQuery + " WHERE id = $1 AND org_id = $2"
	row := r.db.QueryRowContext(ctx, query, id.String(), orgID.String())

	c, err := r.scanChannel(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, channel.ErrChannelNotFound
		}
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}

	return c, nil
}

// List lists channels with filters and pagination.
func (r *ChannelRepository) List(ctx context.Context, filter channel.Filter, page pagination.Pagination) (pagination.Result[*channel.Channel], error) {
	var result pagination.Result[*channel.Channel]

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

	if filter.EventType != "" {
		conditions = append(conditions, fmt.Sprintf("$%d = ANY(event_types)", argNum))
		args = append(args, filter.EventType)
		argNum++
	}

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("name ILIKE $%d", argNum))
		args = append(args, wrapLikePattern(filter.Search))
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM notification_channels" + whereClause
	var total int64
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return result, fmt.Errorf("failed to count channels: %w", err)
	}

	query := channelSelectQuery + whereClause + " ORDER BY name" +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, page.Limit(), page.Offset())

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return result, fmt.Errorf("failed to list channels: %w", err)
	}
	defer rows.Close()

	var channels []*channel.Channel
	for rows.Next() {
		c, err := r.scanChannel(rows)
		if err != nil {
			return result, fmt.Errorf("failed to scan channel: %w", err)
		}
		channels = append(channels, c)
	}

	if err := rows.Err(); err != nil {
		return result, fmt.Errorf("iterate channels: %w", err)
	}

	return pagination.NewResult(channels, total, page), nil
}

// Update persists channel changes, including delivery health counters.
func (r *ChannelRepository) Update(ctx context.Context, c *channel.Channel) error {
	query := `
		UPDATE notification_channels SET
			name = $2,
			endpoint = $3,
			secret_encrypted = $4,
			event_types = $5,
			severity_threshold = $6,
			enabled = $7,
			total_sent = $8,
			total_failed = $9,
			last_triggered_at = $10,
			last_error = $11,
			last_error_at = $12,
			updated_at = $13
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		c.ID().String(),
		c.Name(),
		c.Endpoint(),
		c.SecretEncrypted(),
		pq.StringArray(c.EventTypes()),
		c.SeverityThreshold(),
		c.Enabled(),
		c.TotalSent(),
		c.TotalFailed(),
		nullTime(c.LastTriggeredAt()),
		nullString(c.LastError()),
		nullTime(c.LastErrorAt()),
		c.UpdatedAt(),
	)

	if err != nil {
		if isUniqueViolation(err) {
			return channel.ErrChannelNameExists
		}
		return fmt.Errorf("failed to update channel: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return channel.ErrChannelNotFound
	}

	return nil
}

// Delete removes a channel and its delivery history.
func (r *ChannelRepository) Delete(ctx context.Context, id, orgID channel.ID) error {
	query := "DELETE FROM notification_channels WHERE id = $1 AND org_id = $2"
	result, err := r.db.ExecContext(ctx, query, id.String(), orgID.String())
	if err != nil {
		return fmt.Errorf("failed to delete channel: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return channel.ErrChannelNotFound
	}

	return nil
}

// ListSubscribed returns enabled channels subscribed to the event type.
func (r *ChannelRepository) ListSubscribed(ctx context.Context, orgID channel.ID, eventType string) ([]*channel.Channel, error) {
	query := channelSelectQuery + `
		WHERE org_id = $1
		AND enabled = true
		AND $2 = ANY(event_types)
		ORDER BY name
	`
	rows, err := r.db.QueryContext(ctx, query, orgID.String(), eventType)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscribed channels: %w", err)
	}
	defer rows.Close()

	var channels []*channel.Channel
	for rows.Next() {
		c, err := r.scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		channels = append(channels, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscribed channels: %w", err)
	}

	return channels, nil
}

// ListOrgsWithEnabled returns the distinct organizations holding at least
// one enabled channel. The digest scheduler fans out over this set.
func (r *ChannelRepository) ListOrgsWithEnabled(ctx context.Context) ([]channel.ID, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT org_id FROM notification_channels WHERE enabled = true`)
	if err != nil {
		return nil, fmt.Errorf("failed to list orgs with channels: %w", err)
	}
	defer rows.Close()

	var orgs []channel.ID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan org id: %w", err)
		}
		id, err := shared.IDFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("parse org id %q: %w", raw, err)
		}
		orgs = append(orgs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate org ids: %w", err)
	}

	return orgs, nil
}

// CreateDelivery appends a delivery attempt record.
func (r *ChannelRepository) CreateDelivery(ctx context.Context, d *channel.Delivery) error {
	payloadJSON, err := toJSONB(d.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO channel_deliveries (
			id, channel_id, scan_id, event_type, payload,
			success, error_message, duration_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	var durationMs sql.NullInt64
	if d.DurationMs != nil {
		durationMs = sql.NullInt64{Int64: int64(*d.DurationMs), Valid: true}
	}

	_, err = r.db.ExecContext(ctx, query,
		d.ID.String(),
		d.ChannelID.String(),
		nullID(d.ScanID),
		d.EventType,
		nullBytes(payloadJSON),
		d.Success,
		nullString(d.ErrorMessage),
		durationMs,
		d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create delivery: %w", err)
	}

	return nil
}

// ListDeliveries lists delivery attempts, newest first.
func (r *ChannelRepository) ListDeliveries(ctx context.Context, filter channel.DeliveryFilter, page pagination.Pagination) (pagination.Result[*channel.Delivery], error) {
	var result pagination.Result[*channel.Delivery]

	var conditions []string
	var args []any
	argNum := 1

	if filter.ChannelID != nil {
		conditions = append(conditions, fmt.Sprintf("channel_id = $%d", argNum))
		args = append(args, filter.ChannelID.String())
		argNum++
	}

	if filter.ScanID != nil {
		conditions = append(conditions, fmt.Sprintf("scan_id = $%d", argNum))
		args = append(args, filter.ScanID.String())
		argNum++
	}

	if filter.Success != nil {
		conditions = append(conditions, fmt.Sprintf("success = $%d", argNum))
		args = append(args, *filter.Success)
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM channel_deliveries" + whereClause
	var total int64
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return result, fmt.Errorf("failed to count deliveries: %w", err)
	}

	query := `
		SELECT id, channel_id, scan_id, event_type, payload,
		       success, error_message, duration_ms, created_at
		FROM channel_deliveries
	` + whereClause + orderByCreatedAtDesc +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, page.Limit(), page.Offset())

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return result, fmt.Errorf("failed to list deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []*channel.Delivery
	for rows.Next() {
		var (
			id         string
			channelID  string
			scanID     sql.NullString
			payload    []byte
			errMsg     sql.NullString
			durationMs sql.NullInt64
		)

		d := &channel.Delivery{}
		err := rows.Scan(
			&id, &channelID, &scanID, &d.EventType, &payload,
			&d.Success, &errMsg, &durationMs, &d.CreatedAt,
		)
		if err != nil {
			return result, fmt.Errorf("failed to scan delivery: %w", err)
		}

		d.ID, _ = shared.IDFromString(id)
		d.ChannelID, _ = shared.IDFromString(channelID)
		d.ScanID = parseNullID(scanID)
		d.ErrorMessage = errMsg.String
		if durationMs.Valid {
			ms := int(durationMs.Int64)
			d.DurationMs = &ms
		}
		if len(payload) > 0 {
			d.Payload = make(map[string]any)
			_ = fromJSONB(payload, &d.Payload)
		}

		deliveries = append(deliveries, d)
	}

	if err := rows.Err(); err != nil {
		return result, fmt.Errorf("iterate deliveries: %w", err)
	}

	return pagination.NewResult(deliveries, total, page), nil
}
