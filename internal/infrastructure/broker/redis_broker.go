// Package broker implements the domain broker.Broker contract over
// Redis Streams (XADD/XREADGROUP/XACK), replacing the teacher's
// legacy go-redis/v8 client with redis/go-redis/v9.
package broker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	domainbroker "github.com/complyaudit/audit-core/internal/domain/broker"
	"github.com/complyaudit/audit-core/internal/domain/entities"
	"github.com/complyaudit/audit-core/pkg/apierr"
)

const streamKey = "audit:events"

// wireJob is the broker wire format spec §6 names:
// {event: AuditEvent, meta: {attempts, firstSeenAt, priority}}.
type wireJob struct {
	Event *entities.AuditEvent `json:"event"`
	Meta  wireMeta             `json:"meta"`
}

type wireMeta struct {
	Attempts    int       `json:"attempts"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
	Priority    int       `json:"priority"`
}

// RedisBroker implements domainbroker.Broker over a Redis Stream.
type RedisBroker struct {
	client *redis.Client
}

// NewRedisBroker constructs a RedisBroker over an existing client.
func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

func (b *RedisBroker) Enqueue(ctx context.Context, job *entities.QueueJob, opts domainbroker.EnqueueOptions) error {
	payload, err := json.Marshal(wireJob{
		Event: job.Event,
		Meta: wireMeta{
			Attempts:    job.Attempts,
			FirstSeenAt: job.FirstSeenAt,
			Priority:    opts.Priority,
		},
	})
	if err != nil {
		return apierr.Wrap(apierr.CodeInternal, "failed to marshal queue job", err)
	}

	args := &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]interface{}{
			"job_id":  job.JobID,
			"payload": payload,
		},
	}
	// removeOnComplete=100: cap the stream so acknowledged entries don't
	// grow it unbounded, unless durability guarantees ask us to keep
	// every record for audit-of-audit.
	if !opts.DurabilityGuarantees {
		args.MaxLen = 100
		args.Approx = true
	}

	if opts.Delay > 0 {
		time.AfterFunc(opts.Delay, func() {
			_ = b.client.XAdd(context.Background(), args).Err()
		})
		return nil
	}

	if err := b.client.XAdd(ctx, args).Err(); err != nil {
		return apierr.Wrap(apierr.CodeBrokerUnavailable, "redis XADD failed", err)
	}
	return nil
}

func (b *RedisBroker) EnsureConsumerGroup(ctx context.Context, consumerGroup string) error {
	err := b.client.XGroupCreateMkStream(ctx, streamKey, consumerGroup, "0").Err()
	if err != nil && err != redis.Nil {
		// BUSYGROUP means the group already exists, which is fine.
		if isBusyGroupErr(err) {
			return nil
		}
		return apierr.Wrap(apierr.CodeBrokerUnavailable, "failed to create consumer group", err)
	}
	return nil
}

func (b *RedisBroker) Claim(ctx context.Context, consumerGroup, consumerName string, max int, visibilityTimeout time.Duration) ([]domainbroker.ClaimedJob, error) {
	streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    consumerGroup,
		Consumer: consumerName,
		Streams:  []string{streamKey, ">"},
		Count:    int64(max),
		Block:    -1,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, apierr.Wrap(apierr.CodeBrokerUnavailable, "redis XREADGROUP failed", err)
	}

	var claimed []domainbroker.ClaimedJob
	deadline := time.Now().Add(visibilityTimeout)
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			raw, _ := msg.Values["payload"].(string)
			var wj wireJob
			if err := json.Unmarshal([]byte(raw), &wj); err != nil {
				continue
			}
			jobID, _ := msg.Values["job_id"].(string)
			claimed = append(claimed, domainbroker.ClaimedJob{
				Job: &entities.QueueJob{
					JobID:          jobID,
					Event:          wj.Event,
					Attempts:       wj.Meta.Attempts,
					FirstSeenAt:    wj.Meta.FirstSeenAt,
					NextEligibleAt: time.Now(),
					Priority:       wj.Meta.Priority,
				},
				Handle:   msg.ID,
				Deadline: deadline,
			})
		}
	}
	return claimed, nil
}

func (b *RedisBroker) Ack(ctx context.Context, consumerGroup, handle string) error {
	if err := b.client.XAck(ctx, streamKey, consumerGroup, handle).Err(); err != nil {
		return apierr.Wrap(apierr.CodeBrokerUnavailable, "redis XACK failed", err)
	}
	return nil
}

func (b *RedisBroker) Release(ctx context.Context, consumerGroup, handle string, job *entities.QueueJob, nextEligibleAt time.Time) error {
	// Acknowledge the original delivery, then re-enqueue with updated
	// attempt bookkeeping: Redis Streams has no native "nack and
	// redeliver later" primitive, so release is modeled as ack+requeue.
	if err := b.client.XAck(ctx, streamKey, consumerGroup, handle).Err(); err != nil {
		return apierr.Wrap(apierr.CodeBrokerUnavailable, "redis XACK (release) failed", err)
	}
	job.NextEligibleAt = nextEligibleAt
	delay := time.Until(nextEligibleAt)
	if delay < 0 {
		delay = 0
	}
	return b.Enqueue(ctx, job, domainbroker.EnqueueOptions{Priority: job.Priority, Delay: delay, DurabilityGuarantees: true})
}

func (b *RedisBroker) Depth(ctx context.Context) (int64, error) {
	length, err := b.client.XLen(ctx, streamKey).Result()
	if err != nil {
		return 0, apierr.Wrap(apierr.CodeBrokerUnavailable, "redis XLEN failed", err)
	}
	return length, nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}
