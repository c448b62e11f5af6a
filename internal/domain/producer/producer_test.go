package producer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complyaudit/audit-core/internal/domain/broker"
	"github.com/complyaudit/audit-core/internal/domain/crypto"
	"github.com/complyaudit/audit-core/internal/domain/entities"
	domainvalidation "github.com/complyaudit/audit-core/internal/domain/validation"
	"github.com/complyaudit/audit-core/pkg/apierr"
	"github.com/complyaudit/audit-core/pkg/logger"
)

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

func newTestProducer(t *testing.T, signer crypto.Signer) (*Producer, *fakeBroker) {
	t.Helper()
	brk := &fakeBroker{}
	p := New(brk, domainvalidation.NewValidator(), crypto.NewHasher(), signer, NewPresetRegistry(), logger.New(logger.VariantSilent, "info", nil), domainvalidation.DefaultConfig())
	return p, brk
}

func baseEvent() *entities.AuditEvent {
	return &entities.AuditEvent{
		Action: "order.create",
		Status: entities.StatusSuccess,
	}
}

func TestProducer_Log_AssignsIDTimestampAndHash(t *testing.T) {
	p, brk := newTestProducer(t, nil)

	result, err := p.Log(context.Background(), baseEvent(), DefaultOptions())
	require.NoError(t, err)

	assert.NotEmpty(t, result.ID)
	assert.False(t, result.Timestamp.IsZero())
	assert.NotEmpty(t, result.Hash)
	require.Len(t, brk.enqueued, 1)
	assert.Equal(t, result.ID, brk.enqueued[0].Event.ID)
}

func TestProducer_Log_HonorsExplicitGenerateHashFalse(t *testing.T) {
	p, brk := newTestProducer(t, nil)

	result, err := p.Log(context.Background(), baseEvent(), Options{GenerateHash: false, SkipValidation: false})
	require.NoError(t, err)

	assert.Empty(t, result.Hash)
	require.Len(t, brk.enqueued, 1)
}

func TestProducer_Log_RejectsInvalidEvent(t *testing.T) {
	p, brk := newTestProducer(t, nil)

	_, err := p.Log(context.Background(), &entities.AuditEvent{}, DefaultOptions())
	require.Error(t, err)
	assert.Equal(t, apierr.CodePolicyViolation, apierr.CodeOf(err))
	assert.Empty(t, brk.enqueued)
}

func TestProducer_Log_AppliesNamedPreset(t *testing.T) {
	p, _ := newTestProducer(t, nil)

	event := baseEvent()
	result, err := p.Log(context.Background(), event, Options{Preset: "fhir", GenerateHash: true})
	require.NoError(t, err)

	assert.Equal(t, entities.ClassificationPHI, result.DataClassification)
	assert.Equal(t, "hipaa-7y", result.RetentionPolicy)
}

func TestProducer_Log_UnknownPresetFails(t *testing.T) {
	p, _ := newTestProducer(t, nil)

	_, err := p.Log(context.Background(), baseEvent(), Options{Preset: "does-not-exist"})
	require.Error(t, err)
	assert.Equal(t, apierr.CodeValidation, apierr.CodeOf(err))
}

func TestProducer_Log_SignsWhenRequested(t *testing.T) {
	signer, err := crypto.NewHMACSigner(crypto.NewSingleKeyKeyring("k1", []byte("secret")))
	require.NoError(t, err)
	p, _ := newTestProducer(t, signer)

	result, err := p.Log(context.Background(), baseEvent(), Options{GenerateHash: true, GenerateSignature: true})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Signature)
	assert.Equal(t, crypto.SignatureAlgorithmHMAC, result.SignatureAlgorithm)
}

func TestProducer_Log_RequiredSignatureFailsWithoutSigner(t *testing.T) {
	p, _ := newTestProducer(t, nil)

	_, err := p.Log(context.Background(), baseEvent(), Options{GenerateHash: true, GenerateSignature: true, SignatureRequired: true})
	require.Error(t, err)
	assert.Equal(t, apierr.CodeCryptoUnavailable, apierr.CodeOf(err))
}
