package repositories

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/complyaudit/audit-core/internal/domain/entities"
	"github.com/complyaudit/audit-core/internal/domain/repositories"
	"github.com/complyaudit/audit-core/pkg/apierr"
)

// RetentionRepository implements repositories.RetentionRepository,
// joining audit_events against retention_policies to find events past
// their window.
type RetentionRepository struct {
	db *sqlx.DB
}

func NewRetentionRepository(db *sqlx.DB) *RetentionRepository {
	return &RetentionRepository{db: db}
}

var _ repositories.RetentionRepository = (*RetentionRepository)(nil)

// FindArchiveEligible selects events whose archive_after_days window
// has elapsed and that carry no archived_at marker yet. Policies with
// no archive_after_days configured never produce archive candidates,
// since there is no cold-storage window to measure against.
func (r *RetentionRepository) FindArchiveEligible(ctx context.Context, asOf time.Time, limit int) ([]*entities.AuditEvent, error) {
	rows, err := r.db.QueryxContext(ctx, selectAuditEventColumns+`
		FROM audit_events e
		JOIN retention_policies p ON p.id = e.retention_policy
		WHERE p.archive_after_days IS NOT NULL
		  AND e.archived_at IS NULL
		  AND e.timestamp + (p.archive_after_days || ' days')::interval < $1
		ORDER BY e.timestamp ASC
		LIMIT $2`, asOf, limit)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeStorageUnavailable, "failed to find archive-eligible audit events", err)
	}
	defer rows.Close()

	var events []*entities.AuditEvent
	for rows.Next() {
		event, err := scanAuditEvent(rows)
		if err != nil {
			return nil, apierr.Wrap(apierr.CodeStorageUnavailable, "failed to scan archive-eligible audit event", err)
		}
		events = append(events, event)
	}
	return events, nil
}

func (r *RetentionRepository) MarkArchived(ctx context.Context, eventID string, archivedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE audit_events SET archived_at = $1 WHERE id = $2`, archivedAt, eventID)
	if err != nil {
		return apierr.Wrap(apierr.CodeStorageUnavailable, "failed to mark audit event archived", err)
	}
	return nil
}

// FindExpired selects events whose delete window has elapsed, using
// delete_after_days when the policy sets one and falling back to
// retention_days otherwise.
func (r *RetentionRepository) FindExpired(ctx context.Context, asOf time.Time, limit int) ([]*entities.AuditEvent, error) {
	rows, err := r.db.QueryxContext(ctx, selectAuditEventColumns+`
		FROM audit_events e
		JOIN retention_policies p ON p.id = e.retention_policy
		WHERE e.timestamp + (COALESCE(p.delete_after_days, p.retention_days) || ' days')::interval < $1
		ORDER BY e.timestamp ASC
		LIMIT $2`, asOf, limit)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeStorageUnavailable, "failed to find expired audit events", err)
	}
	defer rows.Close()

	var events []*entities.AuditEvent
	for rows.Next() {
		event, err := scanAuditEvent(rows)
		if err != nil {
			return nil, apierr.Wrap(apierr.CodeStorageUnavailable, "failed to scan expired audit event", err)
		}
		events = append(events, event)
	}
	return events, nil
}

func (r *RetentionRepository) ExtendRetention(ctx context.Context, policyID string, newRetentionDays int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE retention_policies SET retention_days = $1
		WHERE id = $2 AND retention_days <= $1`, newRetentionDays, policyID)
	if err != nil {
		return apierr.Wrap(apierr.CodeStorageUnavailable, "failed to extend retention policy", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return apierr.New(apierr.CodePolicyViolation, "retention policy may only be extended, never shortened")
	}
	return nil
}

func (r *RetentionRepository) RetentionDaysFor(ctx context.Context, policyID string) (int, error) {
	var days int
	err := r.db.QueryRowContext(ctx, `SELECT retention_days FROM retention_policies WHERE id = $1`, policyID).Scan(&days)
	if err != nil {
		return 0, apierr.Wrap(apierr.CodeStorageUnavailable, "failed to load retention policy", err)
	}
	return days, nil
}
