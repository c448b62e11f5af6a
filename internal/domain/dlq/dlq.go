// Package dlq implements C5, the dead-letter queue: parking jobs that
// exhausted their retry budget or hit a non-retryable failure, and the
// operator-facing list/requeue/purge operations the CLI exposes.
package dlq

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/complyaudit/audit-core/internal/domain/broker"
	"github.com/complyaudit/audit-core/internal/domain/entities"
	"github.com/complyaudit/audit-core/internal/domain/repositories"
	"github.com/complyaudit/audit-core/pkg/apierr"
	"github.com/complyaudit/audit-core/pkg/logger"
	"github.com/complyaudit/audit-core/pkg/metrics"
)

// AlertPublisher is the narrow slice of C12 this package needs, kept
// as an interface to avoid an import cycle with internal/domain/alerting.
type AlertPublisher interface {
	PublishCritical(ctx context.Context, category, title, description, organizationID string) error
}

// DeadLetterQueue is C5.
type DeadLetterQueue struct {
	repo   repositories.DLQRepository
	broker broker.Broker
	alerts AlertPublisher
	log    *logger.Logger
}

// New constructs a DeadLetterQueue.
func New(repo repositories.DLQRepository, brk broker.Broker, alerts AlertPublisher, log *logger.Logger) *DeadLetterQueue {
	return &DeadLetterQueue{repo: repo, broker: brk, alerts: alerts, log: log}
}

// Park persists job as a DeadLetterRecord and raises a CRITICAL alert.
func (d *DeadLetterQueue) Park(ctx context.Context, job *entities.QueueJob, terminalError string, history []entities.RetryAttempt) error {
	record := &entities.DeadLetterRecord{
		QueueJob:      *job,
		FailedAt:      time.Now().UTC(),
		TerminalError: terminalError,
		RetryHistory:  history,
	}
	if err := d.repo.Park(ctx, record); err != nil {
		return apierr.Wrap(apierr.CodeStorageUnavailable, "failed to park DLQ record", err)
	}

	orgID := ""
	reason := terminalError
	if job.Event != nil {
		orgID = job.Event.OrganizationID
	}
	metrics.DLQParksTotal.WithLabelValues(queueLabel(job), reason).Inc()

	if d.alerts != nil {
		_ = d.alerts.PublishCritical(ctx, "dlq.parked",
			"Job moved to dead-letter queue",
			"jobId="+job.JobID+" error="+terminalError,
			orgID,
		)
	}
	_ = d.log.Warn(ctx, "dlq: parked job", zap.String("job_id", job.JobID), zap.String("error", terminalError))
	return nil
}

// List returns parked records for an organization (empty string for all).
func (d *DeadLetterQueue) List(ctx context.Context, organizationID string, limit, offset int) ([]*entities.DeadLetterRecord, error) {
	records, err := d.repo.List(ctx, organizationID, limit, offset)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeStorageUnavailable, "failed to list DLQ records", err)
	}
	return records, nil
}

// Requeue moves a parked job back onto the live queue, resetting its
// attempt counter to zero so the processor gives it a full new budget,
// then deletes the DLQ record.
func (d *DeadLetterQueue) Requeue(ctx context.Context, jobID string) error {
	record, err := d.repo.Get(ctx, jobID)
	if err != nil {
		return apierr.Wrap(apierr.CodeStorageUnavailable, "failed to load DLQ record", err)
	}
	if record == nil {
		return apierr.New(apierr.CodeValidation, "no DLQ record with that job id")
	}

	job := record.QueueJob
	job.Attempts = 0
	job.NextEligibleAt = time.Now().UTC()
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}

	if err := d.broker.Enqueue(ctx, &job, broker.EnqueueOptions{Priority: job.Priority, DurabilityGuarantees: true}); err != nil {
		return apierr.Wrap(apierr.CodeBrokerUnavailable, "failed to re-enqueue DLQ record", err)
	}
	if err := d.repo.Delete(ctx, jobID); err != nil {
		return apierr.Wrap(apierr.CodeStorageUnavailable, "failed to delete DLQ record after requeue", err)
	}
	return nil
}

// Purge deletes DLQ records older than cutoff, per retention policy.
func (d *DeadLetterQueue) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	n, err := d.repo.PurgeOlderThan(ctx, olderThan)
	if err != nil {
		return 0, apierr.Wrap(apierr.CodeStorageUnavailable, "failed to purge DLQ records", err)
	}
	return n, nil
}

func queueLabel(job *entities.QueueJob) string {
	if job.Event == nil {
		return "unknown"
	}
	return "audit_events"
}
