package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/complyaudit/audit-core/internal/domain/entities"
	"github.com/complyaudit/audit-core/internal/domain/repositories"
	"github.com/complyaudit/audit-core/pkg/apierr"
)

// DLQRepository implements repositories.DLQRepository over a
// dlq_records table keyed on job_id.
type DLQRepository struct {
	db *sqlx.DB
}

func NewDLQRepository(db *sqlx.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

var _ repositories.DLQRepository = (*DLQRepository)(nil)

func (r *DLQRepository) Park(ctx context.Context, record *entities.DeadLetterRecord) error {
	eventJSON, err := json.Marshal(record.Event)
	if err != nil {
		return apierr.Wrap(apierr.CodeInternal, "failed to marshal dlq event", err)
	}
	historyJSON, err := json.Marshal(record.RetryHistory)
	if err != nil {
		return apierr.Wrap(apierr.CodeInternal, "failed to marshal retry history", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO dlq_records (
			job_id, organization_id, event, attempts, first_seen_at,
			failed_at, terminal_error, retry_history
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (job_id) DO UPDATE SET
			attempts = EXCLUDED.attempts,
			failed_at = EXCLUDED.failed_at,
			terminal_error = EXCLUDED.terminal_error,
			retry_history = EXCLUDED.retry_history`,
		record.JobID, record.Event.OrganizationID, eventJSON, record.Attempts, record.FirstSeenAt,
		record.FailedAt, record.TerminalError, historyJSON,
	)
	if err != nil {
		return apierr.Wrap(apierr.CodeStorageUnavailable, "failed to park dlq record", err)
	}
	return nil
}

func (r *DLQRepository) List(ctx context.Context, organizationID string, limit, offset int) ([]*entities.DeadLetterRecord, error) {
	query := `SELECT job_id, event, attempts, first_seen_at, failed_at, terminal_error, retry_history FROM dlq_records`
	args := []interface{}{}
	if organizationID != "" {
		args = append(args, organizationID)
		query += " WHERE organization_id = $1"
	}
	query += fmt.Sprintf(" ORDER BY failed_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeStorageUnavailable, "failed to list dlq records", err)
	}
	defer rows.Close()

	var records []*entities.DeadLetterRecord
	for rows.Next() {
		record, err := scanDLQRecord(rows)
		if err != nil {
			return nil, apierr.Wrap(apierr.CodeStorageUnavailable, "failed to scan dlq record", err)
		}
		records = append(records, record)
	}
	return records, nil
}

func (r *DLQRepository) Get(ctx context.Context, jobID string) (*entities.DeadLetterRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT job_id, event, attempts, first_seen_at, failed_at, terminal_error, retry_history
		FROM dlq_records WHERE job_id = $1`, jobID)
	record, err := scanDLQRecord(row)
	if err == sql.ErrNoRows {
		return nil, apierr.New(apierr.CodeValidation, "no dlq record with that job id")
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeStorageUnavailable, "failed to load dlq record", err)
	}
	return record, nil
}

func (r *DLQRepository) Delete(ctx context.Context, jobID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM dlq_records WHERE job_id = $1`, jobID)
	if err != nil {
		return apierr.Wrap(apierr.CodeStorageUnavailable, "failed to delete dlq record", err)
	}
	return nil
}

func (r *DLQRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM dlq_records WHERE failed_at < $1`, cutoff)
	if err != nil {
		return 0, apierr.Wrap(apierr.CodeStorageUnavailable, "failed to purge dlq records", err)
	}
	count, _ := res.RowsAffected()
	return count, nil
}

func scanDLQRecord(row rowScanner) (*entities.DeadLetterRecord, error) {
	var record entities.DeadLetterRecord
	var eventJSON, historyJSON []byte

	err := row.Scan(&record.JobID, &eventJSON, &record.Attempts, &record.FirstSeenAt, &record.FailedAt, &record.TerminalError, &historyJSON)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(eventJSON, &record.Event); err != nil {
		return nil, err
	}
	if len(historyJSON) > 0 {
		_ = json.Unmarshal(historyJSON, &record.RetryHistory)
	}
	return &record, nil
}
