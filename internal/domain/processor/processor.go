// Package processor implements C6, the reliable processor: the
// worker-pool scheduler that claims jobs from the broker, re-validates
// and re-hashes them, persists them under retry/circuit-breaker
// protection, and dead-letters what it cannot deliver.
package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/complyaudit/audit-core/internal/domain/broker"
	"github.com/complyaudit/audit-core/internal/domain/crypto"
	"github.com/complyaudit/audit-core/internal/domain/dlq"
	"github.com/complyaudit/audit-core/internal/domain/entities"
	"github.com/complyaudit/audit-core/internal/domain/repositories"
	domainvalidation "github.com/complyaudit/audit-core/internal/domain/validation"
	"github.com/complyaudit/audit-core/pkg/apierr"
	"github.com/complyaudit/audit-core/pkg/circuitbreaker"
	"github.com/complyaudit/audit-core/pkg/logger"
	"github.com/complyaudit/audit-core/pkg/metrics"
	"github.com/complyaudit/audit-core/pkg/retry"
)

// Config tunes the worker pool (spec §4.6).
type Config struct {
	WorkerCount       int
	MaxAttempts       int
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	BackoffOnOpen     time.Duration
	GraceTimeout      time.Duration
	ConsumerGroup     string
	ConsumerNamePrefix string
	ValidationConfig  domainvalidation.Config
	RetryPolicy       retry.Policy
}

// DefaultConfig matches spec §4.6's stated defaults.
func DefaultConfig() Config {
	return Config{
		WorkerCount:        4,
		MaxAttempts:        5,
		VisibilityTimeout:  30 * time.Second,
		PollInterval:       1 * time.Second,
		BackoffOnOpen:      2 * time.Second,
		GraceTimeout:       30 * time.Second,
		ConsumerGroup:      "audit-processors",
		ConsumerNamePrefix: "worker",
		ValidationConfig:   domainvalidation.DefaultConfig(),
		RetryPolicy:        retry.DefaultPolicy(),
	}
}

// Processor is C6.
type Processor struct {
	cfg Config

	brk        broker.Broker
	events     repositories.AuditRepository
	validator  *domainvalidation.Validator
	hasher     *crypto.Hasher
	breaker    *circuitbreaker.CircuitBreaker
	deadLetter *dlq.DeadLetterQueue
	log        *logger.Logger

	wg             sync.WaitGroup
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
}

// New constructs a Processor over its collaborators.
func New(
	cfg Config,
	brk broker.Broker,
	events repositories.AuditRepository,
	validator *domainvalidation.Validator,
	hasher *crypto.Hasher,
	breaker *circuitbreaker.CircuitBreaker,
	deadLetter *dlq.DeadLetterQueue,
	log *logger.Logger,
) *Processor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Processor{
		cfg:            cfg,
		brk:            brk,
		events:         events,
		validator:      validator,
		hasher:         hasher,
		breaker:        breaker,
		deadLetter:     deadLetter,
		log:            log,
		shutdownCtx:    ctx,
		shutdownCancel: cancel,
	}
}

// Start launches cfg.WorkerCount worker goroutines.
func (p *Processor) Start(ctx context.Context) error {
	if err := p.brk.EnsureConsumerGroup(ctx, p.cfg.ConsumerGroup); err != nil {
		return apierr.Wrap(apierr.CodeBrokerUnavailable, "failed to ensure consumer group", err)
	}
	_ = p.log.Info(ctx, "processor: starting workers", zap.Int("worker_count", p.cfg.WorkerCount))
	for i := 0; i < p.cfg.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, fmt.Sprintf("%s-%d", p.cfg.ConsumerNamePrefix, i))
	}
	return nil
}

// Shutdown stops accepting new jobs and waits up to GraceTimeout for
// in-flight jobs to finish. Jobs not acknowledged stay pending with the
// broker (see broker.ClaimedJob).
func (p *Processor) Shutdown(ctx context.Context) error {
	p.shutdownCancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(p.cfg.GraceTimeout):
		return apierr.New(apierr.CodeInternal, "processor shutdown exceeded grace timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Processor) worker(ctx context.Context, consumerName string) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdownCtx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx, consumerName)
		}
	}
}

// pollOnce implements the 8-step algorithm in spec §4.6.
func (p *Processor) pollOnce(ctx context.Context, consumerName string) {
	// 1. canExecute() on C4.
	if !p.breaker.CanExecute() {
		time.Sleep(p.cfg.BackoffOnOpen)
		return
	}

	// 2. Claim next job(s) from broker with visibility timeout.
	claimed, err := p.brk.Claim(ctx, p.cfg.ConsumerGroup, consumerName, 1, p.cfg.VisibilityTimeout)
	if err != nil {
		_ = p.log.Warn(ctx, "processor: claim failed", zap.Error(err))
		return
	}
	for _, c := range claimed {
		p.processOne(ctx, c)
	}
}

func (p *Processor) processOne(ctx context.Context, claimed broker.ClaimedJob) {
	job := claimed.Job
	event := job.Event

	// 3. Re-run C2 on the event (defense in depth).
	result := p.validator.ValidateAndSanitize(event, p.cfg.ValidationConfig)
	if !result.Valid() {
		p.parkNonRetryable(ctx, claimed, fmt.Sprintf("validation failed on reprocessing: %v", result.Errors))
		return
	}
	job.Event = result.SanitizedEvent
	event = job.Event

	// 4. Recompute hash via C1; mismatch is a non-retryable integrity failure.
	if event.Hash != "" {
		valid, err := p.hasher.VerifyHash(event, event.Hash)
		if err != nil {
			p.parkNonRetryable(ctx, claimed, "hash verification error: "+err.Error())
			return
		}
		if !valid {
			metrics.IntegrityFailuresTotal.WithLabelValues(event.OrganizationID).Inc()
			p.parkNonRetryable(ctx, claimed, "INTEGRITY_FAILURE: stored hash does not match recomputed hash")
			return
		}
	}

	// 5. Execute persistence via C9 under retry policy (C3) wrapping C4.
	start := time.Now()
	outcome := retry.Execute(ctx, p.cfg.RetryPolicy, p.breaker, func(opCtx context.Context) error {
		return p.events.Insert(opCtx, event)
	}, &retry.Hooks{
		OnFailure: func(attempts int, err error) {
			metrics.RetriesTotal.WithLabelValues("audit_events").Add(float64(attempts - 1))
		},
	})

	if outcome.Err == nil {
		// 6. Success: acknowledge, record latency, C4.onSuccess already
		// notified by breaker.Execute inside retry.Execute.
		latency := time.Since(start)
		event.ProcessingLatency = &latency
		if err := p.brk.Ack(ctx, p.cfg.ConsumerGroup, claimed.Handle); err != nil {
			_ = p.log.Error(ctx, "processor: ack failed", zap.String("job_id", job.JobID), zap.Error(err))
		}
		metrics.EventsIngestedTotal.WithLabelValues(event.OrganizationID).Inc()
		return
	}

	if apierr.Is(outcome.Err, apierr.CodeDuplicate) {
		metrics.DuplicatesTotal.WithLabelValues(event.OrganizationID).Inc()
		_ = p.brk.Ack(ctx, p.cfg.ConsumerGroup, claimed.Handle)
		return
	}

	job.Attempts++
	job.LastError = outcome.Err.Error()

	// 7/8. Retryable with budget left -> release with backoff; else DLQ.
	// A RETRY_EXHAUSTED outcome wraps the last attempt's error; that
	// error is what gets classified.
	cause := outcome.Err
	if e, ok := cause.(*apierr.Error); ok && e.Code == apierr.CodeRetryExhausted && e.Cause != nil {
		cause = e.Cause
	}
	if retry.Classify(cause) == retry.Retryable && job.Attempts < p.cfg.MaxAttempts {
		backoff := time.Duration(job.Attempts) * p.cfg.RetryPolicy.BaseDelay
		if backoff > p.cfg.RetryPolicy.MaxDelay {
			backoff = p.cfg.RetryPolicy.MaxDelay
		}
		nextEligible := time.Now().Add(backoff)
		if err := p.brk.Release(ctx, p.cfg.ConsumerGroup, claimed.Handle, job, nextEligible); err != nil {
			_ = p.log.Error(ctx, "processor: release failed", zap.String("job_id", job.JobID), zap.Error(err))
		}
		return
	}

	p.parkNonRetryable(ctx, claimed, outcome.Err.Error())
}

func (p *Processor) parkNonRetryable(ctx context.Context, claimed broker.ClaimedJob, reason string) {
	job := claimed.Job
	job.LastError = reason
	history := []entities.RetryAttempt{{
		AttemptNumber: job.Attempts + 1,
		AttemptedAt:   time.Now().UTC(),
		Error:         reason,
	}}
	if err := p.deadLetter.Park(ctx, job, reason, history); err != nil {
		_ = p.log.Error(ctx, "processor: failed to park job", zap.String("job_id", job.JobID), zap.Error(err))
	}
	if err := p.brk.Ack(ctx, p.cfg.ConsumerGroup, claimed.Handle); err != nil {
		_ = p.log.Error(ctx, "processor: ack after park failed", zap.String("job_id", job.JobID), zap.Error(err))
	}
}
