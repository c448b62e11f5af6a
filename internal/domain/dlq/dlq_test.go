package dlq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complyaudit/audit-core/internal/domain/broker"
	"github.com/complyaudit/audit-core/internal/domain/entities"
	"github.com/complyaudit/audit-core/pkg/logger"
)

type fakeDLQRepo struct {
	records map[string]*entities.DeadLetterRecord
}

func newFakeDLQRepo() *fakeDLQRepo {
	return &fakeDLQRepo{records: make(map[string]*entities.DeadLetterRecord)}
}

func (f *fakeDLQRepo) Park(ctx context.Context, record *entities.DeadLetterRecord) error {
	f.records[record.JobID] = record
	return nil
}

func (f *fakeDLQRepo) List(ctx context.Context, organizationID string, limit, offset int) ([]*entities.DeadLetterRecord, error) {
	var out []*entities.DeadLetterRecord
	for _, r := range f.records {
		if organizationID == "" || (r.Event != nil && r.Event.OrganizationID == organizationID) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeDLQRepo) Get(ctx context.Context, jobID string) (*entities.DeadLetterRecord, error) {
	return f.records[jobID], nil
}

func (f *fakeDLQRepo) Delete(ctx context.Context, jobID string) error {
	delete(f.records, jobID)
	return nil
}

func (f *fakeDLQRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for id, r := range f.records {
		if r.FailedAt.Before(cutoff) {
			delete(f.records, id)
			n++
		}
	}
	return n, nil
}

type fakeBroker struct {
	enqueued []*entities.QueueJob
}

func (f *fakeBroker) Enqueue(ctx context.Context, job *entities.QueueJob, opts broker.EnqueueOptions) error {
	f.enqueued = append(f.enqueued, job)
	return nil
}
func (f *fakeBroker) Claim(ctx context.Context, consumerGroup, consumerName string, max int, visibilityTimeout time.Duration) ([]broker.ClaimedJob, error) {
	return nil, nil
}
func (f *fakeBroker) Ack(ctx context.Context, consumerGroup, handle string) error { return nil }
func (f *fakeBroker) Release(ctx context.Context, consumerGroup, handle string, job *entities.QueueJob, nextEligibleAt time.Time) error {
	return nil
}
func (f *fakeBroker) Depth(ctx context.Context) (int64, error)                        { return 0, nil }
func (f *fakeBroker) EnsureConsumerGroup(ctx context.Context, consumerGroup string) error { return nil }

type fakeAlertPublisher struct {
	published int
}

func (f *fakeAlertPublisher) PublishCritical(ctx context.Context, category, title, description, organizationID string) error {
	f.published++
	return nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.VariantSilent, "info", nil)
}

func TestDeadLetterQueue_ParkPublishesAlert(t *testing.T) {
	repo := newFakeDLQRepo()
	alerts := &fakeAlertPublisher{}
	q := New(repo, &fakeBroker{}, alerts, testLogger())

	job := &entities.QueueJob{JobID: "job-1", Event: &entities.AuditEvent{OrganizationID: "org-1"}}
	err := q.Park(context.Background(), job, "validation failed", nil)

	require.NoError(t, err)
	assert.Equal(t, 1, alerts.published)
	assert.Len(t, repo.records, 1)
}

func TestDeadLetterQueue_RequeueResetsAttemptsAndRemovesRecord(t *testing.T) {
	repo := newFakeDLQRepo()
	brk := &fakeBroker{}
	q := New(repo, brk, &fakeAlertPublisher{}, testLogger())

	job := &entities.QueueJob{JobID: "job-2", Attempts: 5, Event: &entities.AuditEvent{OrganizationID: "org-1"}}
	require.NoError(t, q.Park(context.Background(), job, "retry exhausted", nil))

	err := q.Requeue(context.Background(), "job-2")
	require.NoError(t, err)

	require.Len(t, brk.enqueued, 1)
	assert.Equal(t, 0, brk.enqueued[0].Attempts)
	assert.Empty(t, repo.records)
}

func TestDeadLetterQueue_RequeueUnknownJobFails(t *testing.T) {
	repo := newFakeDLQRepo()
	q := New(repo, &fakeBroker{}, &fakeAlertPublisher{}, testLogger())

	err := q.Requeue(context.Background(), "does-not-exist")
	assert.Error(t, err)
}

func TestDeadLetterQueue_PurgeRemovesOldRecords(t *testing.T) {
	repo := newFakeDLQRepo()
	q := New(repo, &fakeBroker{}, &fakeAlertPublisher{}, testLogger())

	old := &entities.QueueJob{JobID: "old", Event: &entities.AuditEvent{}}
	recent := &entities.QueueJob{JobID: "recent", Event: &entities.AuditEvent{}}
	require.NoError(t, q.Park(context.Background(), old, "terminal", nil))
	require.NoError(t, q.Park(context.Background(), recent, "terminal", nil))
	repo.records["old"].FailedAt = time.Now().UTC().AddDate(0, 0, -100)

	n, err := q.Purge(context.Background(), time.Now().UTC().AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Len(t, repo.records, 1)
}
