package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/complyaudit/audit-core/internal/domain/entities"
	"github.com/complyaudit/audit-core/internal/domain/repositories"
	"github.com/complyaudit/audit-core/pkg/apierr"
)

// AlertRepository implements repositories.AlertRepository over an
// alerts table.
type AlertRepository struct {
	db *sqlx.DB
}

func NewAlertRepository(db *sqlx.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

var _ repositories.AlertRepository = (*AlertRepository)(nil)

func (r *AlertRepository) Create(ctx context.Context, alert *entities.Alert) error {
	metadataJSON, err := marshalNullable(alert.Metadata)
	if err != nil {
		return apierr.Wrap(apierr.CodeInternal, "failed to marshal alert metadata", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO alerts (id, severity, category, title, description, status, created_at, organization_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		alert.ID, alert.Severity, alert.Category, alert.Title, alert.Description,
		alert.Status, alert.CreatedAt, nullString(alert.OrganizationID), metadataJSON,
	)
	if err != nil {
		return apierr.Wrap(apierr.CodeStorageUnavailable, "failed to create alert", err)
	}
	return nil
}

func (r *AlertRepository) Update(ctx context.Context, alert *entities.Alert) error {
	_, err := r.db.ExecContext(ctx, `UPDATE alerts SET status = $1 WHERE id = $2`, alert.Status, alert.ID)
	if err != nil {
		return apierr.Wrap(apierr.CodeStorageUnavailable, "failed to update alert", err)
	}
	return nil
}

func (r *AlertRepository) List(ctx context.Context, status entities.AlertStatus, organizationID string) ([]*entities.Alert, error) {
	query := `SELECT id, severity, category, title, description, status, created_at, organization_id, metadata FROM alerts WHERE 1=1`
	args := []interface{}{}
	if status != "" {
		args = append(args, status)
		query += " AND status = $" + placeholder(len(args))
	}
	if organizationID != "" {
		args = append(args, organizationID)
		query += " AND organization_id = $" + placeholder(len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeStorageUnavailable, "failed to list alerts", err)
	}
	defer rows.Close()
	return scanAlerts(rows)
}

func (r *AlertRepository) FindActiveByCategory(ctx context.Context, category, organizationID string) ([]*entities.Alert, error) {
	query := `SELECT id, severity, category, title, description, status, created_at, organization_id, metadata
		FROM alerts WHERE status = $1 AND category = $2`
	args := []interface{}{entities.AlertStatusActive, category}
	if organizationID != "" {
		args = append(args, organizationID)
		query += " AND organization_id = $3"
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeStorageUnavailable, "failed to find active alerts", err)
	}
	defer rows.Close()
	return scanAlerts(rows)
}

func scanAlerts(rows *sql.Rows) ([]*entities.Alert, error) {
	var alerts []*entities.Alert
	for rows.Next() {
		var a entities.Alert
		var organizationID sql.NullString
		var metadataJSON []byte
		if err := rows.Scan(&a.ID, &a.Severity, &a.Category, &a.Title, &a.Description, &a.Status, &a.CreatedAt, &organizationID, &metadataJSON); err != nil {
			return nil, apierr.Wrap(apierr.CodeStorageUnavailable, "failed to scan alert", err)
		}
		a.OrganizationID = organizationID.String
		if len(metadataJSON) > 0 {
			_ = json.Unmarshal(metadataJSON, &a.Metadata)
		}
		alerts = append(alerts, &a)
	}
	return alerts, nil
}

func placeholder(n int) string {
	return fmt.Sprintf("%d", n)
}
