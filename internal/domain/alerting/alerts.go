// Package alerting implements C12: alert lifecycle management and the
// health-probe loop that creates/auto-resolves alerts based on
// dependency health.
package alerting

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/complyaudit/audit-core/internal/domain/entities"
	"github.com/complyaudit/audit-core/internal/domain/repositories"
	"github.com/complyaudit/audit-core/pkg/apierr"
	"github.com/complyaudit/audit-core/pkg/metrics"
)

// AuditEmitter records that alert state transitions are themselves
// audited (spec §4.12).
type AuditEmitter interface {
	LogSystem(ctx context.Context, event *entities.AuditEvent) (*entities.AuditEvent, error)
}

// Service is C12's alert manager.
type Service struct {
	repo    repositories.AlertRepository
	emitter AuditEmitter
}

// NewService constructs an alerting Service.
func NewService(repo repositories.AlertRepository, emitter AuditEmitter) *Service {
	return &Service{repo: repo, emitter: emitter}
}

// PublishCritical creates a CRITICAL alert. Implements the
// dlq.AlertPublisher and integrity.AlertPublisher contracts.
func (s *Service) PublishCritical(ctx context.Context, category, title, description, organizationID string) error {
	return s.create(ctx, entities.SeverityCritical, category, title, description, organizationID)
}

func (s *Service) create(ctx context.Context, severity entities.Severity, category, title, description, organizationID string) error {
	alert := &entities.Alert{
		ID:             uuid.NewString(),
		Severity:       severity,
		Category:       category,
		Title:          title,
		Description:    description,
		Status:         entities.AlertStatusActive,
		CreatedAt:      time.Now().UTC(),
		OrganizationID: organizationID,
	}
	if err := s.repo.Create(ctx, alert); err != nil {
		return apierr.Wrap(apierr.CodeStorageUnavailable, "failed to create alert", err)
	}
	metrics.AlertsActiveGauge.WithLabelValues(string(severity)).Inc()
	s.auditTransition(ctx, alert, "")
	return nil
}

// Acknowledge transitions an alert ACTIVE -> ACKNOWLEDGED.
func (s *Service) Acknowledge(ctx context.Context, alertID string) error {
	return s.transition(ctx, alertID, entities.AlertStatusAcknowledged)
}

// Resolve transitions an alert to RESOLVED.
func (s *Service) Resolve(ctx context.Context, alertID string) error {
	return s.transition(ctx, alertID, entities.AlertStatusResolved)
}

func (s *Service) transition(ctx context.Context, alertID string, next entities.AlertStatus) error {
	alerts, err := s.repo.List(ctx, "", "")
	if err != nil {
		return apierr.Wrap(apierr.CodeStorageUnavailable, "failed to load alert", err)
	}
	var found *entities.Alert
	for _, a := range alerts {
		if a.ID == alertID {
			found = a
			break
		}
	}
	if found == nil {
		return apierr.New(apierr.CodeValidation, "no alert with that id")
	}
	return s.applyTransition(ctx, found, next)
}

func (s *Service) applyTransition(ctx context.Context, alert *entities.Alert, next entities.AlertStatus) error {
	if !alert.Status.CanTransitionTo(next) {
		return apierr.New(apierr.CodePolicyViolation, "invalid alert status transition")
	}
	previous := alert.Status
	alert.Status = next
	if err := s.repo.Update(ctx, alert); err != nil {
		return apierr.Wrap(apierr.CodeStorageUnavailable, "failed to update alert", err)
	}
	if next == entities.AlertStatusResolved {
		metrics.AlertsActiveGauge.WithLabelValues(string(alert.Severity)).Dec()
	}
	s.auditTransition(ctx, alert, previous)
	return nil
}

// AutoResolveByCategory transitions every ACTIVE alert in category
// back to RESOLVED, used when a health probe recovers.
func (s *Service) AutoResolveByCategory(ctx context.Context, category, organizationID string) error {
	active, err := s.repo.FindActiveByCategory(ctx, category, organizationID)
	if err != nil {
		return apierr.Wrap(apierr.CodeStorageUnavailable, "failed to load active alerts", err)
	}
	for _, alert := range active {
		if err := s.applyTransition(ctx, alert, entities.AlertStatusResolved); err != nil {
			return err
		}
	}
	return nil
}

// List returns alerts filtered by status and organization.
func (s *Service) List(ctx context.Context, status entities.AlertStatus, organizationID string) ([]*entities.Alert, error) {
	alerts, err := s.repo.List(ctx, status, organizationID)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeStorageUnavailable, "failed to list alerts", err)
	}
	return alerts, nil
}

func (s *Service) auditTransition(ctx context.Context, alert *entities.Alert, from entities.AlertStatus) {
	if s.emitter == nil {
		return
	}
	_, _ = s.emitter.LogSystem(ctx, &entities.AuditEvent{
		Action:             "alert.transition",
		Status:             entities.StatusSuccess,
		OrganizationID:     alert.OrganizationID,
		OutcomeDescription: string(from) + "->" + string(alert.Status),
		Extensions:         map[string]interface{}{"alertId": alert.ID, "category": alert.Category, "severity": string(alert.Severity)},
	})
}
