// Package broker declares the durable queue contract C6 and C7
// depend on. The concrete implementation (Redis Streams) lives under
// internal/infrastructure/broker.
package broker

import (
	"context"
	"time"

	"github.com/complyaudit/audit-core/internal/domain/entities"
)

// EnqueueOptions controls how a job is placed on the broker (spec
// §4.7/§6: priority, delay, and whether the broker retains a record
// after completion for audit-of-audit purposes).
type EnqueueOptions struct {
	Priority             int
	Delay                time.Duration
	DurabilityGuarantees bool
}

// ClaimedJob is a QueueJob leased from the broker; Deadline records
// when its visibility timeout ends. RedisBroker.Claim reads only new
// stream entries, so a job left unacknowledged past Deadline stays in
// the consumer group's pending list and is not redelivered.
type ClaimedJob struct {
	Job      *entities.QueueJob
	Handle   string // broker-specific delivery handle needed to Ack/Nack
	Deadline time.Time
}

// Broker is the durable queue contract. Producer (C7) enqueues;
// Reliable Processor (C6) claims, acknowledges, or releases.
type Broker interface {
	// Enqueue places job on the queue, wire-encoded per spec §6:
	// {event, meta: {attempts, firstSeenAt, priority}}.
	Enqueue(ctx context.Context, job *entities.QueueJob, opts EnqueueOptions) error
	// Claim leases up to max jobs with the given visibility timeout.
	// Returns immediately with whatever is available; callers poll.
	Claim(ctx context.Context, consumerGroup, consumerName string, max int, visibilityTimeout time.Duration) ([]ClaimedJob, error)
	// Ack acknowledges successful processing, removing the job from
	// the pending-entries list.
	Ack(ctx context.Context, consumerGroup string, handle string) error
	// Release returns a job to the queue, eligible for reclaim at
	// nextEligibleAt, carrying job.Attempts as the caller set it.
	Release(ctx context.Context, consumerGroup string, handle string, job *entities.QueueJob, nextEligibleAt time.Time) error
	// Depth reports the approximate number of pending entries, for
	// QueueDepthGauge.
	Depth(ctx context.Context) (int64, error)
	// EnsureConsumerGroup creates the consumer group if absent.
	EnsureConsumerGroup(ctx context.Context, consumerGroup string) error
}
