package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/complyaudit/audit-core/internal/domain/entities"
	"github.com/complyaudit/audit-core/internal/domain/repositories"
	"github.com/complyaudit/audit-core/pkg/apierr"
)

// ReportRepository implements repositories.ReportRepository over
// reports, report_executions, and scheduled_reports tables.
type ReportRepository struct {
	db *sqlx.DB
}

func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

var _ repositories.ReportRepository = (*ReportRepository)(nil)

func (r *ReportRepository) SaveReport(ctx context.Context, report *entities.Report) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reports (
			id, type, organization_id, period_start, period_end, generated_at,
			total_events, verified_events, failed_verifications, compliance_score,
			violation_rate, risk_assessment
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		report.ID, report.Type, nullString(report.OrganizationID), report.PeriodStart, report.PeriodEnd,
		report.GeneratedAt, report.TotalEvents, report.VerifiedEvents, report.FailedVerifications,
		report.ComplianceScore, report.ViolationRate, report.RiskAssessment,
	)
	if err != nil {
		return apierr.Wrap(apierr.CodeStorageUnavailable, "failed to save report", err)
	}
	return nil
}

func (r *ReportRepository) SaveExecution(ctx context.Context, execution *entities.ReportExecution) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO report_executions (
			id, scheduled_report_id, report_id, status, started_at, completed_at, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		execution.ID, nullString(execution.ScheduledReportID), nullString(execution.ReportID),
		execution.Status, execution.StartedAt, execution.CompletedAt, nullString(execution.Error),
	)
	if err != nil {
		return apierr.Wrap(apierr.CodeStorageUnavailable, "failed to save report execution", err)
	}
	return nil
}

func (r *ReportRepository) ListScheduled(ctx context.Context, dueBefore time.Time) ([]*entities.ScheduledReport, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, organization_id, type, cron_expression, delivery, enabled, created_at, last_run_at, next_run_at
		FROM scheduled_reports
		WHERE enabled = true AND (next_run_at IS NULL OR next_run_at <= $1)`, dueBefore)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeStorageUnavailable, "failed to list scheduled reports", err)
	}
	defer rows.Close()

	var schedules []*entities.ScheduledReport
	for rows.Next() {
		schedule, err := scanScheduledReport(rows)
		if err != nil {
			return nil, apierr.Wrap(apierr.CodeStorageUnavailable, "failed to scan scheduled report", err)
		}
		schedules = append(schedules, schedule)
	}
	return schedules, nil
}

func (r *ReportRepository) UpsertScheduled(ctx context.Context, scheduled *entities.ScheduledReport) error {
	deliveryJSON, err := json.Marshal(scheduled.Delivery)
	if err != nil {
		return apierr.Wrap(apierr.CodeInternal, "failed to marshal delivery descriptor", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO scheduled_reports (
			id, organization_id, type, cron_expression, delivery, enabled, created_at, last_run_at, next_run_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			cron_expression = EXCLUDED.cron_expression,
			delivery = EXCLUDED.delivery,
			enabled = EXCLUDED.enabled`,
		scheduled.ID, nullString(scheduled.OrganizationID), scheduled.Type, scheduled.CronExpression,
		deliveryJSON, scheduled.Enabled, scheduled.CreatedAt, scheduled.LastRunAt, scheduled.NextRunAt,
	)
	if err != nil {
		return apierr.Wrap(apierr.CodeStorageUnavailable, "failed to upsert scheduled report", err)
	}
	return nil
}

func (r *ReportRepository) MarkRun(ctx context.Context, scheduledReportID string, ranAt, nextRunAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_reports SET last_run_at = $1, next_run_at = $2 WHERE id = $3`,
		ranAt, nextRunAt, scheduledReportID,
	)
	if err != nil {
		return apierr.Wrap(apierr.CodeStorageUnavailable, "failed to mark scheduled report run", err)
	}
	return nil
}

func scanScheduledReport(rows *sql.Rows) (*entities.ScheduledReport, error) {
	var s entities.ScheduledReport
	var organizationID sql.NullString
	var deliveryJSON []byte
	var lastRunAt, nextRunAt sql.NullTime

	if err := rows.Scan(&s.ID, &organizationID, &s.Type, &s.CronExpression, &deliveryJSON, &s.Enabled, &s.CreatedAt, &lastRunAt, &nextRunAt); err != nil {
		return nil, err
	}
	s.OrganizationID = organizationID.String
	if len(deliveryJSON) > 0 {
		_ = json.Unmarshal(deliveryJSON, &s.Delivery)
	}
	if lastRunAt.Valid {
		s.LastRunAt = &lastRunAt.Time
	}
	if nextRunAt.Valid {
		s.NextRunAt = &nextRunAt.Time
	}
	return &s, nil
}
