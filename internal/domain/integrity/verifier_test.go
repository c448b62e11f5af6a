package integrity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complyaudit/audit-core/internal/domain/crypto"
	"github.com/complyaudit/audit-core/internal/domain/entities"
	"github.com/complyaudit/audit-core/internal/domain/repositories"
)

type fakeAuditRepo struct {
	events         []*entities.AuditEvent
	markedFailures map[string]string
}

func newFakeAuditRepo(events ...*entities.AuditEvent) *fakeAuditRepo {
	return &fakeAuditRepo{events: events, markedFailures: make(map[string]string)}
}

func (f *fakeAuditRepo) Insert(ctx context.Context, event *entities.AuditEvent) error { return nil }
func (f *fakeAuditRepo) FindByID(ctx context.Context, id string) (*entities.AuditEvent, error) {
	return nil, nil
}
func (f *fakeAuditRepo) Find(ctx context.Context, filter repositories.AuditEventFilter) ([]*entities.AuditEvent, error) {
	return nil, nil
}
func (f *fakeAuditRepo) StreamForVerification(ctx context.Context, from, to time.Time, organizationID string) (<-chan *entities.AuditEvent, <-chan error) {
	out := make(chan *entities.AuditEvent, len(f.events))
	errs := make(chan error, 1)
	for _, e := range f.events {
		out <- e
	}
	close(out)
	errs <- nil
	return out, errs
}
func (f *fakeAuditRepo) ReplacePrincipal(ctx context.Context, eventID, pseudonymID string) error {
	return nil
}
func (f *fakeAuditRepo) DeleteByID(ctx context.Context, id string) error { return nil }
func (f *fakeAuditRepo) DeleteByPrincipal(ctx context.Context, principalID string) (int64, error) {
	return 0, nil
}
func (f *fakeAuditRepo) FindByPrincipal(ctx context.Context, principalID string) ([]*entities.AuditEvent, error) {
	return nil, nil
}
func (f *fakeAuditRepo) MarkIntegrityFailure(ctx context.Context, eventID, reason string) error {
	f.markedFailures[eventID] = reason
	return nil
}
func (f *fakeAuditRepo) CountByOrganization(ctx context.Context, organizationID string, from, to time.Time) (int64, error) {
	return int64(len(f.events)), nil
}

type fakeAlertPublisher struct {
	published []string
}

func (f *fakeAlertPublisher) PublishCritical(ctx context.Context, category, title, description, organizationID string) error {
	f.published = append(f.published, category)
	return nil
}

func signedEvent(t *testing.T, hasher *crypto.Hasher, signer crypto.Signer, id string) *entities.AuditEvent {
	t.Helper()
	event := &entities.AuditEvent{ID: id, Action: "order.create", Status: entities.StatusSuccess, Timestamp: time.Now().UTC()}
	hash, err := hasher.Hash(event)
	require.NoError(t, err)
	event.Hash = hash

	if signer != nil {
		sig, err := signer.Sign(context.Background(), hash)
		require.NoError(t, err)
		event.Signature = sig.Value
		event.SignatureAlgorithm = sig.Algorithm
		event.SignatureKeyID = sig.KeyID
	}
	return event
}

func TestVerifier_AllValid(t *testing.T) {
	hasher := crypto.NewHasher()
	signer, err := crypto.NewHMACSigner(crypto.NewSingleKeyKeyring("k1", []byte("secret")))
	require.NoError(t, err)

	events := []*entities.AuditEvent{
		signedEvent(t, hasher, signer, "e1"),
		signedEvent(t, hasher, signer, "e2"),
	}
	repo := newFakeAuditRepo(events...)
	v := New(repo, hasher, signer, &fakeAlertPublisher{})

	report, err := v.Verify(context.Background(), time.Time{}, time.Time{}, "")
	require.NoError(t, err)
	assert.Equal(t, 2, report.TotalChecked)
	assert.Equal(t, 2, report.Valid)
	assert.Empty(t, report.Tampered)
}

func TestVerifier_DetectsTamperedHash(t *testing.T) {
	hasher := crypto.NewHasher()
	signer, err := crypto.NewHMACSigner(crypto.NewSingleKeyKeyring("k1", []byte("secret")))
	require.NoError(t, err)

	event := signedEvent(t, hasher, signer, "e1")
	event.Action = "order.cancel" // mutate after hashing to simulate tampering

	repo := newFakeAuditRepo(event)
	alerts := &fakeAlertPublisher{}
	v := New(repo, hasher, signer, alerts)

	report, err := v.Verify(context.Background(), time.Time{}, time.Time{}, "")
	require.NoError(t, err)
	assert.Len(t, report.Tampered, 1)
	assert.Equal(t, "e1", report.Tampered[0].EventID)
	assert.Equal(t, "hash mismatch", repo.markedFailures["e1"])
	assert.Contains(t, alerts.published, "integrity.tampered")
}

func TestVerifier_DetectsInvalidSignature(t *testing.T) {
	hasher := crypto.NewHasher()
	signer, err := crypto.NewHMACSigner(crypto.NewSingleKeyKeyring("k1", []byte("secret")))
	require.NoError(t, err)

	event := signedEvent(t, hasher, signer, "e1")
	event.Signature = "0000"

	repo := newFakeAuditRepo(event)
	v := New(repo, hasher, signer, &fakeAlertPublisher{})

	report, err := v.Verify(context.Background(), time.Time{}, time.Time{}, "")
	require.NoError(t, err)
	assert.Contains(t, report.SignatureInvalid, "e1")
}

func TestVerifier_ReportsMissingHash(t *testing.T) {
	hasher := crypto.NewHasher()
	event := &entities.AuditEvent{ID: "e1"}
	repo := newFakeAuditRepo(event)
	v := New(repo, hasher, nil, &fakeAlertPublisher{})

	report, err := v.Verify(context.Background(), time.Time{}, time.Time{}, "")
	require.NoError(t, err)
	assert.Contains(t, report.MissingHash, "e1")
}
