// Package repositories implements the domain repositories.* contracts
// against Postgres via sqlx and lib/pq, grounded on the teacher's
// repositories package (device_session_repository.go's raw-SQL,
// manual-scan style).
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/complyaudit/audit-core/internal/domain/entities"
	"github.com/complyaudit/audit-core/internal/domain/repositories"
	"github.com/complyaudit/audit-core/pkg/apierr"
)

// pqUniqueViolation is the SQLSTATE for a unique constraint violation.
const pqUniqueViolation = "23505"

// AuditEventRepository implements repositories.AuditRepository against
// the partitioned audit_events table.
type AuditEventRepository struct {
	db *sqlx.DB
}

// NewAuditEventRepository constructs an AuditEventRepository.
func NewAuditEventRepository(db *sqlx.DB) *AuditEventRepository {
	return &AuditEventRepository{db: db}
}

var _ repositories.AuditRepository = (*AuditEventRepository)(nil)

func (r *AuditEventRepository) Insert(ctx context.Context, event *entities.AuditEvent) error {
	sessionJSON, err := marshalNullable(event.SessionContext)
	if err != nil {
		return apierr.Wrap(apierr.CodeInternal, "failed to marshal session context", err)
	}
	extensionsJSON, err := marshalNullable(event.Extensions)
	if err != nil {
		return apierr.Wrap(apierr.CodeInternal, "failed to marshal extensions", err)
	}

	query := `
		INSERT INTO audit_events (
			id, timestamp, action, status, principal_id, organization_id,
			target_resource_type, target_resource_id, outcome_description,
			data_classification, retention_policy, correlation_id, event_version,
			session_context, hash, hash_algorithm, signature, signature_algorithm,
			signature_key_id, processing_latency_ms, queue_depth, extensions
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22
		)`

	_, err = r.db.ExecContext(ctx, query,
		event.ID, event.Timestamp, event.Action, event.Status, nullString(event.PrincipalID),
		nullString(event.OrganizationID), nullString(event.TargetResourceType), nullString(event.TargetResourceID),
		nullString(event.OutcomeDescription), event.DataClassification, event.RetentionPolicy,
		nullString(event.CorrelationID), event.EventVersion, sessionJSON, nullString(event.Hash),
		event.HashAlgorithm, nullString(event.Signature), nullString(event.SignatureAlgorithm),
		nullString(event.SignatureKeyID), nullDurationMillis(event.ProcessingLatency), nullInt(event.QueueDepth),
		extensionsJSON,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apierr.New(apierr.CodeDuplicate, "audit event violates (correlationId, action, timestamp, principalId) uniqueness")
		}
		return apierr.Wrap(apierr.CodeStorageUnavailable, "failed to insert audit event", err)
	}
	return nil
}

func (r *AuditEventRepository) FindByID(ctx context.Context, id string) (*entities.AuditEvent, error) {
	row := r.db.QueryRowxContext(ctx, selectAuditEventColumns+` FROM audit_events WHERE id = $1`, id)
	event, err := scanAuditEvent(row)
	if err == sql.ErrNoRows {
		return nil, apierr.New(apierr.CodeValidation, "no audit event with that id")
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeStorageUnavailable, "failed to load audit event", err)
	}
	return event, nil
}

func (r *AuditEventRepository) Find(ctx context.Context, filter repositories.AuditEventFilter) ([]*entities.AuditEvent, error) {
	query := selectAuditEventColumns + ` FROM audit_events WHERE timestamp >= $1 AND timestamp <= $2`
	args := []interface{}{filter.From, filter.To}
	if filter.OrganizationID != "" {
		args = append(args, filter.OrganizationID)
		query += fmt.Sprintf(" AND organization_id = $%d", len(args))
	}
	if filter.Action != "" {
		args = append(args, filter.Action)
		query += fmt.Sprintf(" AND action = $%d", len(args))
	}
	if filter.PrincipalID != "" {
		args = append(args, filter.PrincipalID)
		query += fmt.Sprintf(" AND principal_id = $%d", len(args))
	}
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeStorageUnavailable, "failed to query audit events", err)
	}
	defer rows.Close()

	var events []*entities.AuditEvent
	for rows.Next() {
		event, err := scanAuditEvent(rows)
		if err != nil {
			return nil, apierr.Wrap(apierr.CodeStorageUnavailable, "failed to scan audit event", err)
		}
		events = append(events, event)
	}
	return events, nil
}

// StreamForVerification pages through a time range on a background
// goroutine so C8 does not need to hold the full result set in memory.
func (r *AuditEventRepository) StreamForVerification(ctx context.Context, from, to time.Time, organizationID string) (<-chan *entities.AuditEvent, <-chan error) {
	out := make(chan *entities.AuditEvent, 64)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		const pageSize = 500
		offset := 0
		for {
			filter := repositories.AuditEventFilter{
				OrganizationID: organizationID,
				From:           from,
				To:             to,
				Limit:          pageSize,
				Offset:         offset,
			}
			page, err := r.Find(ctx, filter)
			if err != nil {
				errs <- err
				return
			}
			for _, event := range page {
				select {
				case out <- event:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}
			if len(page) < pageSize {
				return
			}
			offset += pageSize
		}
	}()

	return out, errs
}

func (r *AuditEventRepository) ReplacePrincipal(ctx context.Context, eventID, pseudonymID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE audit_events SET principal_id = $1 WHERE id = $2`, pseudonymID, eventID)
	if err != nil {
		return apierr.Wrap(apierr.CodeStorageUnavailable, "failed to replace principal", err)
	}
	return nil
}

func (r *AuditEventRepository) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM audit_events WHERE id = $1`, id)
	if err != nil {
		return apierr.Wrap(apierr.CodeStorageUnavailable, "failed to delete audit event", err)
	}
	return nil
}

func (r *AuditEventRepository) DeleteByPrincipal(ctx context.Context, principalID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM audit_events WHERE principal_id = $1`, principalID)
	if err != nil {
		return 0, apierr.Wrap(apierr.CodeStorageUnavailable, "failed to delete audit events by principal", err)
	}
	count, _ := res.RowsAffected()
	return count, nil
}

func (r *AuditEventRepository) FindByPrincipal(ctx context.Context, principalID string) ([]*entities.AuditEvent, error) {
	rows, err := r.db.QueryxContext(ctx, selectAuditEventColumns+` FROM audit_events WHERE principal_id = $1 ORDER BY timestamp DESC`, principalID)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeStorageUnavailable, "failed to query audit events by principal", err)
	}
	defer rows.Close()

	var events []*entities.AuditEvent
	for rows.Next() {
		event, err := scanAuditEvent(rows)
		if err != nil {
			return nil, apierr.Wrap(apierr.CodeStorageUnavailable, "failed to scan audit event", err)
		}
		events = append(events, event)
	}
	return events, nil
}

func (r *AuditEventRepository) MarkIntegrityFailure(ctx context.Context, eventID, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_integrity_log (event_id, reason, detected_at)
		VALUES ($1, $2, NOW())`, eventID, reason)
	if err != nil {
		return apierr.Wrap(apierr.CodeStorageUnavailable, "failed to record integrity failure", err)
	}
	return nil
}

func (r *AuditEventRepository) CountByOrganization(ctx context.Context, organizationID string, from, to time.Time) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM audit_events
		WHERE organization_id = $1 AND timestamp >= $2 AND timestamp <= $3`,
		organizationID, from, to).Scan(&count)
	if err != nil {
		return 0, apierr.Wrap(apierr.CodeStorageUnavailable, "failed to count audit events", err)
	}
	return count, nil
}

const selectAuditEventColumns = `SELECT
	id, timestamp, action, status, principal_id, organization_id,
	target_resource_type, target_resource_id, outcome_description,
	data_classification, retention_policy, correlation_id, event_version,
	session_context, hash, hash_algorithm, signature, signature_algorithm,
	signature_key_id, processing_latency_ms, queue_depth, extensions`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuditEvent(row rowScanner) (*entities.AuditEvent, error) {
	var event entities.AuditEvent
	var principalID, organizationID, targetResourceType, targetResourceID, outcomeDescription sql.NullString
	var correlationID, hash, signature, signatureAlgorithm, signatureKeyID sql.NullString
	var sessionJSON, extensionsJSON []byte
	var processingLatencyMs sql.NullInt64
	var queueDepth sql.NullInt64

	err := row.Scan(
		&event.ID, &event.Timestamp, &event.Action, &event.Status, &principalID, &organizationID,
		&targetResourceType, &targetResourceID, &outcomeDescription, &event.DataClassification,
		&event.RetentionPolicy, &correlationID, &event.EventVersion, &sessionJSON, &hash,
		&event.HashAlgorithm, &signature, &signatureAlgorithm, &signatureKeyID,
		&processingLatencyMs, &queueDepth, &extensionsJSON,
	)
	if err != nil {
		return nil, err
	}

	event.PrincipalID = principalID.String
	event.OrganizationID = organizationID.String
	event.TargetResourceType = targetResourceType.String
	event.TargetResourceID = targetResourceID.String
	event.OutcomeDescription = outcomeDescription.String
	event.CorrelationID = correlationID.String
	event.Hash = hash.String
	event.Signature = signature.String
	event.SignatureAlgorithm = signatureAlgorithm.String
	event.SignatureKeyID = signatureKeyID.String

	if len(sessionJSON) > 0 {
		var sc entities.SessionContext
		if err := json.Unmarshal(sessionJSON, &sc); err == nil {
			event.SessionContext = &sc
		}
	}
	if len(extensionsJSON) > 0 {
		_ = json.Unmarshal(extensionsJSON, &event.Extensions)
	}
	if processingLatencyMs.Valid {
		d := time.Duration(processingLatencyMs.Int64) * time.Millisecond
		event.ProcessingLatency = &d
	}
	if queueDepth.Valid {
		depth := int(queueDepth.Int64)
		event.QueueDepth = &depth
	}

	return &event, nil
}

func marshalNullable(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(i *int) interface{} {
	if i == nil {
		return nil
	}
	return *i
}

func nullDurationMillis(d *time.Duration) interface{} {
	if d == nil {
		return nil
	}
	return d.Milliseconds()
}

func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == pqUniqueViolation
	}
	return false
}
