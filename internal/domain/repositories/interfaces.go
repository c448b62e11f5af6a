// Package repositories declares the storage-facing contracts C6–C12
// depend on. Concrete implementations live under
// internal/infrastructure/repositories.
package repositories

import (
	"context"
	"time"

	"github.com/complyaudit/audit-core/internal/domain/entities"
)

// AuditEventFilter scopes a query over the audit_events table.
type AuditEventFilter struct {
	OrganizationID string
	From           time.Time
	To             time.Time
	Action         string
	PrincipalID    string
	Limit          int
	Offset         int
}

// AuditRepository is C9's contract for the primary audit_events table.
type AuditRepository interface {
	// Insert persists event, returning apierr.CodeDuplicate (absorbed,
	// not propagated as a hard failure) when the
	// (correlationId, action, timestamp, principalId) uniqueness
	// constraint is hit.
	Insert(ctx context.Context, event *entities.AuditEvent) error
	FindByID(ctx context.Context, id string) (*entities.AuditEvent, error)
	Find(ctx context.Context, filter AuditEventFilter) ([]*entities.AuditEvent, error)
	StreamForVerification(ctx context.Context, from, to time.Time, organizationID string) (<-chan *entities.AuditEvent, <-chan error)
	// ReplacePrincipal performs the GDPR pseudonymization mutation
	// permitted by invariant 5: swap PrincipalID on a persisted row
	// without touching any other critical field.
	ReplacePrincipal(ctx context.Context, eventID, pseudonymID string) error
	DeleteByID(ctx context.Context, id string) error
	DeleteByPrincipal(ctx context.Context, principalID string) (int64, error)
	FindByPrincipal(ctx context.Context, principalID string) ([]*entities.AuditEvent, error)
	MarkIntegrityFailure(ctx context.Context, eventID, reason string) error
	CountByOrganization(ctx context.Context, organizationID string, from, to time.Time) (int64, error)
}

// DLQRepository is C5's durable store.
type DLQRepository interface {
	Park(ctx context.Context, record *entities.DeadLetterRecord) error
	List(ctx context.Context, organizationID string, limit, offset int) ([]*entities.DeadLetterRecord, error)
	Get(ctx context.Context, jobID string) (*entities.DeadLetterRecord, error)
	Delete(ctx context.Context, jobID string) error
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// PseudonymRepository is C10's mapping store.
type PseudonymRepository interface {
	Save(ctx context.Context, mapping *entities.PseudonymMapping) error
	FindByOriginalID(ctx context.Context, originalID string, strategy entities.PseudonymStrategy) (*entities.PseudonymMapping, error)
	FindByPseudonymID(ctx context.Context, pseudonymID string) (*entities.PseudonymMapping, error)
}

// AlertRepository is C12's alert store.
type AlertRepository interface {
	Create(ctx context.Context, alert *entities.Alert) error
	Update(ctx context.Context, alert *entities.Alert) error
	List(ctx context.Context, status entities.AlertStatus, organizationID string) ([]*entities.Alert, error)
	FindActiveByCategory(ctx context.Context, category, organizationID string) ([]*entities.Alert, error)
}

// ReportRepository is C11's schedule/execution/artifact store.
type ReportRepository interface {
	SaveReport(ctx context.Context, report *entities.Report) error
	SaveExecution(ctx context.Context, execution *entities.ReportExecution) error
	ListScheduled(ctx context.Context, dueBefore time.Time) ([]*entities.ScheduledReport, error)
	UpsertScheduled(ctx context.Context, scheduled *entities.ScheduledReport) error
	MarkRun(ctx context.Context, scheduledReportID string, ranAt, nextRunAt time.Time) error
}

// RetentionRepository backs the retention sweep: it knows how to find
// events past their archive window, find events past their delete
// window, and extend (never shorten) a retention policy's recorded
// expiry, per invariant 6/8.
type RetentionRepository interface {
	// FindArchiveEligible returns events whose archive_after_days window
	// has elapsed and that have not yet been archived.
	FindArchiveEligible(ctx context.Context, asOf time.Time, limit int) ([]*entities.AuditEvent, error)
	// MarkArchived records that an event's cold-storage copy has been
	// written, so FindArchiveEligible does not return it again.
	MarkArchived(ctx context.Context, eventID string, archivedAt time.Time) error
	// FindExpired returns events whose delete_after_days window (falling
	// back to retention_days when unset) has elapsed.
	FindExpired(ctx context.Context, asOf time.Time, limit int) ([]*entities.AuditEvent, error)
	ExtendRetention(ctx context.Context, policyID string, newRetentionDays int) error
	RetentionDaysFor(ctx context.Context, policyID string) (int, error)
}

// QuarantineRepository holds pre-existing invalid records discovered
// during backfill or migration, rather than silently accepting them
// into the primary table (resolves spec §9 Open Question 2).
type QuarantineRepository interface {
	Quarantine(ctx context.Context, rawPayload []byte, reason string) error
	List(ctx context.Context, limit, offset int) ([]QuarantinedRecord, error)
}

// QuarantinedRecord is a row in the quarantine_events table.
type QuarantinedRecord struct {
	ID            string
	RawPayload    []byte
	Reason        string
	QuarantinedAt time.Time
}
