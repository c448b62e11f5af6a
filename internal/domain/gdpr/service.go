// Package gdpr implements C10: the data-subject-rights operations
// (access, portability, rectification, erasure, restriction),
// pseudonymization, and the retention sweep.
package gdpr

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"strings"
	"time"

	"github.com/complyaudit/audit-core/internal/domain/entities"
	"github.com/complyaudit/audit-core/internal/domain/repositories"
	"github.com/complyaudit/audit-core/pkg/apierr"
)

// ExportFormat selects the serialization for an access/portability request.
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportCSV  ExportFormat = "csv"
	ExportXML  ExportFormat = "xml"
)

// AuditEmitter is the narrow slice of C7 this package needs: every
// data-subject operation must itself produce a gdpr.* audit event.
type AuditEmitter interface {
	LogData(ctx context.Context, event *entities.AuditEvent) (*entities.AuditEvent, error)
}

// exportRecord is the sanitized shape returned to data subjects: spec
// §4.10 names the exact fields to strip.
type exportRecord struct {
	ID                 string    `json:"id" xml:"id"`
	Timestamp          time.Time `json:"timestamp" xml:"timestamp"`
	Action             string    `json:"action" xml:"action"`
	Status             string    `json:"status" xml:"status"`
	OrganizationID     string    `json:"organizationId,omitempty" xml:"organizationId,omitempty"`
	TargetResourceType string    `json:"targetResourceType,omitempty" xml:"targetResourceType,omitempty"`
	TargetResourceID   string    `json:"targetResourceId,omitempty" xml:"targetResourceId,omitempty"`
	OutcomeDescription string    `json:"outcomeDescription,omitempty" xml:"outcomeDescription,omitempty"`
}

func toExportRecord(e *entities.AuditEvent) exportRecord {
	return exportRecord{
		ID:                 e.ID,
		Timestamp:          e.Timestamp,
		Action:             e.Action,
		Status:             string(e.Status),
		OrganizationID:     e.OrganizationID,
		TargetResourceType: e.TargetResourceType,
		TargetResourceID:   e.TargetResourceID,
		OutcomeDescription: e.OutcomeDescription,
	}
}

// Service is C10.
type Service struct {
	events        repositories.AuditRepository
	pseudonymizer *Pseudonymizer
	emitter       AuditEmitter
}

// NewService constructs a GDPR Service.
func NewService(events repositories.AuditRepository, pseudonymizer *Pseudonymizer, emitter AuditEmitter) *Service {
	return &Service{events: events, pseudonymizer: pseudonymizer, emitter: emitter}
}

// Access produces a sanitized export of all events naming subjectID as
// principal, in the requested format, and emits a gdpr.access audit event.
func (s *Service) Access(ctx context.Context, subjectID string, format ExportFormat) ([]byte, error) {
	events, err := s.events.FindByPrincipal(ctx, subjectID)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeStorageUnavailable, "failed to load subject events", err)
	}

	out, err := encodeExport(events, format)
	if err != nil {
		return nil, err
	}

	s.emitGDPREvent(ctx, "gdpr.access", subjectID, map[string]interface{}{"format": string(format), "recordCount": len(events)})
	return out, nil
}

// Portability is Access constrained to machine-readable JSON, per spec §4.10.
func (s *Service) Portability(ctx context.Context, subjectID string) ([]byte, error) {
	out, err := s.Access(ctx, subjectID, ExportJSON)
	if err != nil {
		return nil, err
	}
	s.emitGDPREvent(ctx, "gdpr.portability", subjectID, nil)
	return out, nil
}

// Rectification records a compensating audit event; the original
// record is immutable per invariant 5.
func (s *Service) Rectification(ctx context.Context, subjectID, correction string) error {
	_, err := s.emitter.LogData(ctx, &entities.AuditEvent{
		Action:         "gdpr.rectify",
		Status:         entities.StatusSuccess,
		PrincipalID:    subjectID,
		OutcomeDescription: correction,
		Extensions: map[string]interface{}{
			"gdprContext": map[string]interface{}{"legalBasis": "data_subject_request", "dataSubjectId": subjectID},
		},
	})
	return err
}

// Erasure implements spec §4.10's erasure rule: non-compliance-critical
// events are hard-deleted, compliance-critical events are pseudonymized
// instead (Scenario E).
func (s *Service) Erasure(ctx context.Context, subjectID string) (deleted int64, pseudonymized int, err error) {
	events, err := s.events.FindByPrincipal(ctx, subjectID)
	if err != nil {
		return 0, 0, apierr.Wrap(apierr.CodeStorageUnavailable, "failed to load subject events", err)
	}

	var toDeleteCount int64
	var pseudonymID string
	for _, event := range events {
		if IsComplianceCritical(event.Action) {
			if pseudonymID == "" {
				pseudonymID, err = s.pseudonymizer.Pseudonymize(ctx, subjectID, entities.StrategyDeterministic)
				if err != nil {
					return toDeleteCount, pseudonymized, err
				}
			}
			if err := s.events.ReplacePrincipal(ctx, event.ID, pseudonymID); err != nil {
				return toDeleteCount, pseudonymized, apierr.Wrap(apierr.CodeStorageUnavailable, "failed to pseudonymize compliance-critical event", err)
			}
			pseudonymized++
		} else {
			if err := s.events.DeleteByID(ctx, event.ID); err != nil {
				return toDeleteCount, pseudonymized, apierr.Wrap(apierr.CodeStorageUnavailable, "failed to delete event", err)
			}
			toDeleteCount++
		}
	}

	s.emitGDPREvent(ctx, "gdpr.delete", subjectID, map[string]interface{}{"deleted": toDeleteCount})
	if pseudonymized > 0 {
		s.emitGDPREvent(ctx, "gdpr.pseudonymize", subjectID, map[string]interface{}{"pseudonymized": pseudonymized})
	}
	return toDeleteCount, pseudonymized, nil
}

// Restriction records a gdpr.restrict audit event carrying the
// restricted flag for subjectID. It does not tag the subject's stored
// events, and no export path (Access, Portability) consults the flag.
func (s *Service) Restriction(ctx context.Context, subjectID string, restricted bool) error {
	_, err := s.emitter.LogData(ctx, &entities.AuditEvent{
		Action:      "gdpr.restrict",
		Status:      entities.StatusSuccess,
		PrincipalID: subjectID,
		Extensions: map[string]interface{}{
			"restricted":  restricted,
			"gdprContext": map[string]interface{}{"legalBasis": "data_subject_request", "dataSubjectId": subjectID},
		},
	})
	return err
}

func (s *Service) emitGDPREvent(ctx context.Context, action, subjectID string, extra map[string]interface{}) {
	ext := map[string]interface{}{
		"gdprContext": map[string]interface{}{"legalBasis": "data_subject_request", "dataSubjectId": subjectID},
	}
	for k, v := range extra {
		ext[k] = v
	}
	_, _ = s.emitter.LogData(ctx, &entities.AuditEvent{
		Action:      action,
		Status:      entities.StatusSuccess,
		PrincipalID: subjectID,
		Extensions:  ext,
	})
}

func encodeExport(events []*entities.AuditEvent, format ExportFormat) ([]byte, error) {
	records := make([]exportRecord, 0, len(events))
	for _, e := range events {
		records = append(records, toExportRecord(e))
	}

	switch format {
	case ExportJSON, "":
		out, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return nil, apierr.Wrap(apierr.CodeInternal, "failed to marshal export as JSON", err)
		}
		return out, nil
	case ExportXML:
		out, err := xml.MarshalIndent(struct {
			XMLName xml.Name       `xml:"auditExport"`
			Records []exportRecord `xml:"record"`
		}{Records: records}, "", "  ")
		if err != nil {
			return nil, apierr.Wrap(apierr.CodeInternal, "failed to marshal export as XML", err)
		}
		return out, nil
	case ExportCSV:
		var b strings.Builder
		w := csv.NewWriter(&b)
		_ = w.Write([]string{"id", "timestamp", "action", "status", "organizationId", "targetResourceType", "targetResourceId", "outcomeDescription"})
		for _, r := range records {
			_ = w.Write([]string{
				r.ID, r.Timestamp.Format(time.RFC3339), r.Action, r.Status,
				r.OrganizationID, r.TargetResourceType, r.TargetResourceID, r.OutcomeDescription,
			})
		}
		w.Flush()
		return []byte(b.String()), nil
	default:
		return nil, apierr.New(apierr.CodeValidation, "unsupported export format: "+string(format))
	}
}
