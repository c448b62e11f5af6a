package reports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/complyaudit/audit-core/internal/domain/entities"
	"github.com/complyaudit/audit-core/internal/domain/repositories"
	"github.com/complyaudit/audit-core/pkg/apierr"
	"github.com/complyaudit/audit-core/pkg/logger"
	"github.com/complyaudit/audit-core/pkg/metrics"
)

// AuditEmitter is the narrow slice of C7 this package needs: each
// execution is itself an audit event (spec §4.11).
type AuditEmitter interface {
	LogSystem(ctx context.Context, event *entities.AuditEvent) (*entities.AuditEvent, error)
}

// Scheduler claims due ScheduledReports, runs them through Engine, and
// dispatches the artifact through the configured ReportDelivery.
type Scheduler struct {
	engine      *Engine
	repo        repositories.ReportRepository
	dispatchers map[entities.DeliveryMethod]ReportDelivery
	emitter     AuditEmitter
	log         *logger.Logger

	cron *cron.Cron
}

// NewScheduler constructs a Scheduler.
func NewScheduler(engine *Engine, repo repositories.ReportRepository, dispatchers map[entities.DeliveryMethod]ReportDelivery, emitter AuditEmitter, log *logger.Logger) *Scheduler {
	return &Scheduler{
		engine:      engine,
		repo:        repo,
		dispatchers: dispatchers,
		emitter:     emitter,
		log:         log,
		cron:        cron.New(cron.WithSeconds()),
	}
}

// Start registers poll as a cron job firing every minute to claim due
// schedules, and starts the cron scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc("0 * * * * *", func() { s.pollDue(ctx) })
	if err != nil {
		return apierr.Wrap(apierr.CodeConfigError, "failed to register report poll job", err)
	}
	s.cron.Start()
	return nil
}

// Stop drains in-flight jobs and stops the cron scheduler.
func (s *Scheduler) Stop(ctx context.Context) {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}

func (s *Scheduler) pollDue(ctx context.Context) {
	due, err := s.repo.ListScheduled(ctx, time.Now().UTC())
	if err != nil {
		_ = s.log.Error(ctx, "report scheduler: failed to list due schedules", zap.Error(err))
		return
	}
	for _, schedule := range due {
		if !schedule.Enabled {
			continue
		}
		s.runOne(ctx, schedule)
	}
}

func (s *Scheduler) runOne(ctx context.Context, schedule *entities.ScheduledReport) {
	started := time.Now().UTC()
	execution := &entities.ReportExecution{
		ID:                uuid.NewString(),
		ScheduledReportID: schedule.ID,
		StartedAt:         started,
	}

	report, err := s.engine.Generate(ctx, schedule.Type, schedule.OrganizationID, started.AddDate(0, -1, 0), started)
	if err != nil {
		s.finishFailed(ctx, schedule, execution, err)
		return
	}
	execution.ReportID = report.ID

	if err := s.repo.SaveReport(ctx, report); err != nil {
		s.finishFailed(ctx, schedule, execution, err)
		return
	}

	artifact, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		s.finishFailed(ctx, schedule, execution, err)
		return
	}

	dispatcher, ok := s.dispatchers[schedule.Delivery.Method]
	if !ok {
		s.finishFailed(ctx, schedule, execution, apierr.New(apierr.CodeConfigError, "no dispatcher configured for delivery method "+string(schedule.Delivery.Method)))
		return
	}
	if err := dispatcher.Deliver(ctx, report, artifact, schedule.Delivery); err != nil {
		execution.Status = entities.ExecutionStatusPartial
		execution.Error = err.Error()
	} else {
		execution.Status = entities.ExecutionStatusSucceeded
	}
	execution.CompletedAt = time.Now().UTC()

	_ = s.repo.SaveExecution(ctx, execution)
	_ = s.repo.MarkRun(ctx, schedule.ID, started, s.nextRun(schedule))
	metrics.ReportExecutionsTotal.WithLabelValues(string(schedule.Type), string(execution.Status)).Inc()

	_, _ = s.emitter.LogSystem(ctx, &entities.AuditEvent{
		Action:         "report.execution",
		Status:         entities.StatusSuccess,
		OrganizationID: schedule.OrganizationID,
		OutcomeDescription: string(execution.Status),
		Extensions:     map[string]interface{}{"reportId": report.ID, "scheduledReportId": schedule.ID},
	})
}

func (s *Scheduler) finishFailed(ctx context.Context, schedule *entities.ScheduledReport, execution *entities.ReportExecution, err error) {
	execution.Status = entities.ExecutionStatusFailed
	execution.Error = err.Error()
	execution.CompletedAt = time.Now().UTC()
	_ = s.repo.SaveExecution(ctx, execution)
	metrics.ReportExecutionsTotal.WithLabelValues(string(schedule.Type), string(execution.Status)).Inc()
	_ = s.log.Error(ctx, "report scheduler: execution failed", zap.String("schedule_id", schedule.ID), zap.Error(err))
}

func (s *Scheduler) nextRun(schedule *entities.ScheduledReport) time.Time {
	spec, err := cron.ParseStandard(schedule.CronExpression)
	if err != nil {
		return time.Now().UTC().Add(24 * time.Hour)
	}
	return spec.Next(time.Now().UTC())
}
