package gdpr

import (
	"context"
	"time"

	"github.com/complyaudit/audit-core/internal/domain/entities"
	"github.com/complyaudit/audit-core/internal/domain/repositories"
	"github.com/complyaudit/audit-core/pkg/apierr"
	"github.com/complyaudit/audit-core/pkg/logger"
)

// RetentionPolicy is a named retention configuration (spec §4.10).
type RetentionPolicy struct {
	ID               string
	RetentionDays    int
	ArchiveAfterDays int
	DeleteAfterDays  int
}

// ArchiveStore receives a cold-storage copy of each archive-eligible
// event. The event stays in the primary table; the archive pass runs
// independently of deletion/pseudonymization.
type ArchiveStore interface {
	Archive(ctx context.Context, event *entities.AuditEvent) error
}

// RetentionSweeper implements the daily retention job spec §4.10
// describes: archive-eligible events move to cold storage,
// delete-eligible events are hard-deleted or pseudonymized per
// criticality.
type RetentionSweeper struct {
	events        repositories.AuditRepository
	retention     repositories.RetentionRepository
	archive       ArchiveStore
	pseudonymizer *Pseudonymizer
	log           *logger.Logger
}

// NewRetentionSweeper constructs a RetentionSweeper.
func NewRetentionSweeper(events repositories.AuditRepository, retention repositories.RetentionRepository, archive ArchiveStore, pseudonymizer *Pseudonymizer, log *logger.Logger) *RetentionSweeper {
	return &RetentionSweeper{events: events, retention: retention, archive: archive, pseudonymizer: pseudonymizer, log: log}
}

// SweepResult summarizes one run.
type SweepResult struct {
	Archived      int
	Deleted       int
	Pseudonymized int
	Errors        []string
}

// Sweep runs the daily retention job spec §4.10 describes as two
// independent passes: (a) events past their archive window move to
// cold storage, marked so they are not archived twice; (b) events past
// their delete window are hard-deleted or pseudonymized per
// criticality, independently of whether they were ever archived.
// dryRun only reports what would happen without mutating storage.
func (r *RetentionSweeper) Sweep(ctx context.Context, asOf time.Time, dryRun bool, batchSize int) (*SweepResult, error) {
	result := &SweepResult{}

	if err := r.archivePass(ctx, asOf, dryRun, batchSize, result); err != nil {
		return nil, err
	}
	if err := r.deletePass(ctx, asOf, dryRun, batchSize, result); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *RetentionSweeper) archivePass(ctx context.Context, asOf time.Time, dryRun bool, batchSize int, result *SweepResult) error {
	if r.archive == nil {
		return nil
	}

	eligible, err := r.retention.FindArchiveEligible(ctx, asOf, batchSize)
	if err != nil {
		return apierr.Wrap(apierr.CodeStorageUnavailable, "failed to find archive-eligible events", err)
	}

	for _, event := range eligible {
		if dryRun {
			result.Archived++
			continue
		}
		if err := r.archive.Archive(ctx, event); err != nil {
			result.Errors = append(result.Errors, event.ID+": archive failed: "+err.Error())
			continue
		}
		if err := r.retention.MarkArchived(ctx, event.ID, asOf); err != nil {
			result.Errors = append(result.Errors, event.ID+": mark archived failed: "+err.Error())
			continue
		}
		result.Archived++
	}
	return nil
}

func (r *RetentionSweeper) deletePass(ctx context.Context, asOf time.Time, dryRun bool, batchSize int, result *SweepResult) error {
	expired, err := r.retention.FindExpired(ctx, asOf, batchSize)
	if err != nil {
		return apierr.Wrap(apierr.CodeStorageUnavailable, "failed to find expired events", err)
	}

	for _, event := range expired {
		if dryRun {
			if IsComplianceCritical(event.Action) {
				result.Pseudonymized++
			} else {
				result.Deleted++
			}
			continue
		}

		if IsComplianceCritical(event.Action) {
			pseudonymID, err := r.pseudonymizer.Pseudonymize(ctx, event.PrincipalID, entities.StrategyDeterministic)
			if err != nil {
				result.Errors = append(result.Errors, event.ID+": pseudonymize failed: "+err.Error())
				continue
			}
			if err := r.events.ReplacePrincipal(ctx, event.ID, pseudonymID); err != nil {
				result.Errors = append(result.Errors, event.ID+": replace principal failed: "+err.Error())
				continue
			}
			result.Pseudonymized++
		} else {
			if err := r.events.DeleteByID(ctx, event.ID); err != nil {
				result.Errors = append(result.Errors, event.ID+": delete failed: "+err.Error())
				continue
			}
			result.Deleted++
		}
	}
	return nil
}

// ExtendRetention raises a policy's retention window, refusing to
// shorten it per invariant 6/8 (retention monotonicity).
func (r *RetentionSweeper) ExtendRetention(ctx context.Context, policyID string, newRetentionDays int) error {
	current, err := r.retention.RetentionDaysFor(ctx, policyID)
	if err != nil {
		return apierr.Wrap(apierr.CodeStorageUnavailable, "failed to load current retention", err)
	}
	if newRetentionDays < current {
		return apierr.New(apierr.CodePolicyViolation, "retention policy update would shorten retentionDays, which is not permitted")
	}
	if err := r.retention.ExtendRetention(ctx, policyID, newRetentionDays); err != nil {
		return apierr.Wrap(apierr.CodeStorageUnavailable, "failed to extend retention", err)
	}
	return nil
}
