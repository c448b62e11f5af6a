package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/complyaudit/audit-core/internal/domain/repositories"
	"github.com/complyaudit/audit-core/pkg/apierr"
)

// QuarantineRepository implements repositories.QuarantineRepository
// over a quarantine_events table, holding raw payloads a backfill or
// migration could not validate into the primary table.
type QuarantineRepository struct {
	db *sqlx.DB
}

func NewQuarantineRepository(db *sqlx.DB) *QuarantineRepository {
	return &QuarantineRepository{db: db}
}

var _ repositories.QuarantineRepository = (*QuarantineRepository)(nil)

func (r *QuarantineRepository) Quarantine(ctx context.Context, rawPayload []byte, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO quarantine_events (id, raw_payload, reason, quarantined_at)
		VALUES ($1, $2, $3, NOW())`, uuid.NewString(), rawPayload, reason)
	if err != nil {
		return apierr.Wrap(apierr.CodeStorageUnavailable, "failed to quarantine payload", err)
	}
	return nil
}

func (r *QuarantineRepository) List(ctx context.Context, limit, offset int) ([]repositories.QuarantinedRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, raw_payload, reason, quarantined_at
		FROM quarantine_events
		ORDER BY quarantined_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeStorageUnavailable, "failed to list quarantined records", err)
	}
	defer rows.Close()

	var records []repositories.QuarantinedRecord
	for rows.Next() {
		var rec repositories.QuarantinedRecord
		if err := rows.Scan(&rec.ID, &rec.RawPayload, &rec.Reason, &rec.QuarantinedAt); err != nil {
			return nil, apierr.Wrap(apierr.CodeStorageUnavailable, "failed to scan quarantined record", err)
		}
		records = append(records, rec)
	}
	return records, nil
}
