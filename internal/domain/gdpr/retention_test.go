package gdpr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complyaudit/audit-core/internal/domain/entities"
	"github.com/complyaudit/audit-core/internal/domain/repositories"
	"github.com/complyaudit/audit-core/pkg/apierr"
	"github.com/complyaudit/audit-core/pkg/logger"
)

type fakeRetentionAuditRepo struct {
	deleted           []string
	replacedPrincipal map[string]string
}

func newFakeRetentionAuditRepo() *fakeRetentionAuditRepo {
	return &fakeRetentionAuditRepo{replacedPrincipal: make(map[string]string)}
}

func (f *fakeRetentionAuditRepo) Insert(ctx context.Context, event *entities.AuditEvent) error { return nil }
func (f *fakeRetentionAuditRepo) FindByID(ctx context.Context, id string) (*entities.AuditEvent, error) {
	return nil, nil
}
func (f *fakeRetentionAuditRepo) Find(ctx context.Context, filter repositories.AuditEventFilter) ([]*entities.AuditEvent, error) {
	return nil, nil
}
func (f *fakeRetentionAuditRepo) StreamForVerification(ctx context.Context, from, to time.Time, organizationID string) (<-chan *entities.AuditEvent, <-chan error) {
	out := make(chan *entities.AuditEvent)
	errs := make(chan error, 1)
	close(out)
	errs <- nil
	return out, errs
}
func (f *fakeRetentionAuditRepo) ReplacePrincipal(ctx context.Context, eventID, pseudonymID string) error {
	f.replacedPrincipal[eventID] = pseudonymID
	return nil
}
func (f *fakeRetentionAuditRepo) DeleteByID(ctx context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}
func (f *fakeRetentionAuditRepo) DeleteByPrincipal(ctx context.Context, principalID string) (int64, error) {
	return 0, nil
}
func (f *fakeRetentionAuditRepo) FindByPrincipal(ctx context.Context, principalID string) ([]*entities.AuditEvent, error) {
	return nil, nil
}
func (f *fakeRetentionAuditRepo) MarkIntegrityFailure(ctx context.Context, eventID, reason string) error {
	return nil
}
func (f *fakeRetentionAuditRepo) CountByOrganization(ctx context.Context, organizationID string, from, to time.Time) (int64, error) {
	return 0, nil
}

type fakeRetentionRepo struct {
	archiveEligible []*entities.AuditEvent
	archived        []string
	expired         []*entities.AuditEvent
	retentionDays   map[string]int
}

func (f *fakeRetentionRepo) FindArchiveEligible(ctx context.Context, asOf time.Time, limit int) ([]*entities.AuditEvent, error) {
	return f.archiveEligible, nil
}
func (f *fakeRetentionRepo) MarkArchived(ctx context.Context, eventID string, archivedAt time.Time) error {
	f.archived = append(f.archived, eventID)
	return nil
}
func (f *fakeRetentionRepo) FindExpired(ctx context.Context, asOf time.Time, limit int) ([]*entities.AuditEvent, error) {
	return f.expired, nil
}
func (f *fakeRetentionRepo) ExtendRetention(ctx context.Context, policyID string, newRetentionDays int) error {
	f.retentionDays[policyID] = newRetentionDays
	return nil
}
func (f *fakeRetentionRepo) RetentionDaysFor(ctx context.Context, policyID string) (int, error) {
	return f.retentionDays[policyID], nil
}

type fakeArchiveStore struct {
	archived []string
}

func (f *fakeArchiveStore) Archive(ctx context.Context, event *entities.AuditEvent) error {
	f.archived = append(f.archived, event.ID)
	return nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.VariantSilent, "info", nil)
}

func TestRetentionSweeper_HardDeletesNonCriticalExpiredEvents(t *testing.T) {
	events := newFakeRetentionAuditRepo()
	retention := &fakeRetentionRepo{
		expired:       []*entities.AuditEvent{{ID: "e1", Action: "order.create", PrincipalID: "user-1"}},
		retentionDays: map[string]int{},
	}
	p := NewPseudonymizer(newFakePseudonymRepo(), fakeEncryptor{}, "key-1", []byte("salt"))
	sweeper := NewRetentionSweeper(events, retention, nil, p, testLogger())

	result, err := sweeper.Sweep(context.Background(), time.Now(), false, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)
	assert.Equal(t, 0, result.Pseudonymized)
	assert.Contains(t, events.deleted, "e1")
}

func TestRetentionSweeper_PseudonymizesComplianceCriticalEvents(t *testing.T) {
	events := newFakeRetentionAuditRepo()
	retention := &fakeRetentionRepo{
		expired:       []*entities.AuditEvent{{ID: "e1", Action: "security.alert.raised", PrincipalID: "user-1"}},
		retentionDays: map[string]int{},
	}
	p := NewPseudonymizer(newFakePseudonymRepo(), fakeEncryptor{}, "key-1", []byte("salt"))
	sweeper := NewRetentionSweeper(events, retention, nil, p, testLogger())

	result, err := sweeper.Sweep(context.Background(), time.Now(), false, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pseudonymized)
	assert.Equal(t, 0, result.Deleted)
	assert.NotEmpty(t, events.replacedPrincipal["e1"])
}

func TestRetentionSweeper_DryRunMutatesNothing(t *testing.T) {
	events := newFakeRetentionAuditRepo()
	retention := &fakeRetentionRepo{
		expired:       []*entities.AuditEvent{{ID: "e1", Action: "order.create", PrincipalID: "user-1"}},
		retentionDays: map[string]int{},
	}
	p := NewPseudonymizer(newFakePseudonymRepo(), fakeEncryptor{}, "key-1", []byte("salt"))
	sweeper := NewRetentionSweeper(events, retention, nil, p, testLogger())

	result, err := sweeper.Sweep(context.Background(), time.Now(), true, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)
	assert.Empty(t, events.deleted)
}

func TestRetentionSweeper_ArchivesEligibleEventsAndMarksThemArchived(t *testing.T) {
	events := newFakeRetentionAuditRepo()
	retention := &fakeRetentionRepo{
		archiveEligible: []*entities.AuditEvent{{ID: "e1", Action: "order.create", PrincipalID: "user-1"}},
		retentionDays:   map[string]int{},
	}
	archive := &fakeArchiveStore{}
	p := NewPseudonymizer(newFakePseudonymRepo(), fakeEncryptor{}, "key-1", []byte("salt"))
	sweeper := NewRetentionSweeper(events, retention, archive, p, testLogger())

	result, err := sweeper.Sweep(context.Background(), time.Now(), false, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Archived)
	assert.Contains(t, archive.archived, "e1")
	assert.Contains(t, retention.archived, "e1")
}

func TestRetentionSweeper_DryRunDoesNotArchiveOrMark(t *testing.T) {
	events := newFakeRetentionAuditRepo()
	retention := &fakeRetentionRepo{
		archiveEligible: []*entities.AuditEvent{{ID: "e1", Action: "order.create", PrincipalID: "user-1"}},
		retentionDays:   map[string]int{},
	}
	archive := &fakeArchiveStore{}
	p := NewPseudonymizer(newFakePseudonymRepo(), fakeEncryptor{}, "key-1", []byte("salt"))
	sweeper := NewRetentionSweeper(events, retention, archive, p, testLogger())

	result, err := sweeper.Sweep(context.Background(), time.Now(), true, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Archived)
	assert.Empty(t, archive.archived)
	assert.Empty(t, retention.archived)
}

func TestRetentionSweeper_NoArchiveStoreSkipsArchivePassCleanly(t *testing.T) {
	events := newFakeRetentionAuditRepo()
	retention := &fakeRetentionRepo{
		archiveEligible: []*entities.AuditEvent{{ID: "e1", Action: "order.create", PrincipalID: "user-1"}},
		expired:         []*entities.AuditEvent{{ID: "e2", Action: "order.create", PrincipalID: "user-1"}},
		retentionDays:   map[string]int{},
	}
	p := NewPseudonymizer(newFakePseudonymRepo(), fakeEncryptor{}, "key-1", []byte("salt"))
	sweeper := NewRetentionSweeper(events, retention, nil, p, testLogger())

	result, err := sweeper.Sweep(context.Background(), time.Now(), false, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Archived)
	assert.Equal(t, 1, result.Deleted)
}

func TestRetentionSweeper_ExtendRetentionRejectsShortening(t *testing.T) {
	retention := &fakeRetentionRepo{retentionDays: map[string]int{"policy-1": 365}}
	sweeper := NewRetentionSweeper(newFakeRetentionAuditRepo(), retention, nil, nil, testLogger())

	err := sweeper.ExtendRetention(context.Background(), "policy-1", 180)
	require.Error(t, err)
	assert.Equal(t, apierr.CodePolicyViolation, apierr.CodeOf(err))
}

func TestRetentionSweeper_ExtendRetentionAllowsLengthening(t *testing.T) {
	retention := &fakeRetentionRepo{retentionDays: map[string]int{"policy-1": 365}}
	sweeper := NewRetentionSweeper(newFakeRetentionAuditRepo(), retention, nil, nil, testLogger())

	err := sweeper.ExtendRetention(context.Background(), "policy-1", 730)
	require.NoError(t, err)
	assert.Equal(t, 730, retention.retentionDays["policy-1"])
}
