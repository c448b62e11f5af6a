package reports

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complyaudit/audit-core/internal/domain/crypto"
	"github.com/complyaudit/audit-core/internal/domain/entities"
	"github.com/complyaudit/audit-core/internal/domain/integrity"
	"github.com/complyaudit/audit-core/internal/domain/repositories"
)

type fakeEventsRepo struct {
	events []*entities.AuditEvent
}

func (f *fakeEventsRepo) Insert(ctx context.Context, event *entities.AuditEvent) error { return nil }
func (f *fakeEventsRepo) FindByID(ctx context.Context, id string) (*entities.AuditEvent, error) {
	return nil, nil
}
func (f *fakeEventsRepo) Find(ctx context.Context, filter repositories.AuditEventFilter) ([]*entities.AuditEvent, error) {
	return f.events, nil
}
func (f *fakeEventsRepo) StreamForVerification(ctx context.Context, from, to time.Time, organizationID string) (<-chan *entities.AuditEvent, <-chan error) {
	out := make(chan *entities.AuditEvent, len(f.events))
	errs := make(chan error, 1)
	for _, e := range f.events {
		out <- e
	}
	close(out)
	errs <- nil
	return out, errs
}
func (f *fakeEventsRepo) ReplacePrincipal(ctx context.Context, eventID, pseudonymID string) error {
	return nil
}
func (f *fakeEventsRepo) DeleteByID(ctx context.Context, id string) error { return nil }
func (f *fakeEventsRepo) DeleteByPrincipal(ctx context.Context, principalID string) (int64, error) {
	return 0, nil
}
func (f *fakeEventsRepo) FindByPrincipal(ctx context.Context, principalID string) ([]*entities.AuditEvent, error) {
	return nil, nil
}
func (f *fakeEventsRepo) MarkIntegrityFailure(ctx context.Context, eventID, reason string) error {
	return nil
}
func (f *fakeEventsRepo) CountByOrganization(ctx context.Context, organizationID string, from, to time.Time) (int64, error) {
	return int64(len(f.events)), nil
}

func hashedEvent(t *testing.T, hasher *crypto.Hasher, id, action string) *entities.AuditEvent {
	t.Helper()
	e := &entities.AuditEvent{ID: id, Action: action, Status: entities.StatusSuccess, Timestamp: time.Now().UTC()}
	hash, err := hasher.Hash(e)
	require.NoError(t, err)
	e.Hash = hash
	return e
}

func TestEngine_Generate_AllValidYieldsPerfectScore(t *testing.T) {
	hasher := crypto.NewHasher()
	repo := &fakeEventsRepo{events: []*entities.AuditEvent{
		hashedEvent(t, hasher, "e1", "order.create"),
		hashedEvent(t, hasher, "e2", "order.create"),
	}}
	verifier := integrity.New(repo, hasher, nil, nil)
	engine := NewEngine(repo, verifier)

	report, err := engine.Generate(context.Background(), entities.ReportTypeCustom, "org-1", time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)

	assert.True(t, report.ComplianceScore.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "low", report.RiskAssessment)
	assert.Empty(t, report.Violations)
}

func TestEngine_Generate_TamperedEventsLowerScore(t *testing.T) {
	hasher := crypto.NewHasher()
	tampered := hashedEvent(t, hasher, "e1", "order.create")
	tampered.Action = "order.cancel" // invalidates the previously computed hash

	repo := &fakeEventsRepo{events: []*entities.AuditEvent{tampered}}
	verifier := integrity.New(repo, hasher, nil, nil)
	engine := NewEngine(repo, verifier)

	report, err := engine.Generate(context.Background(), entities.ReportTypeCustom, "org-1", time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)

	assert.True(t, report.ComplianceScore.Equal(decimal.Zero))
	assert.Equal(t, "high", report.RiskAssessment)
	assert.NotEmpty(t, report.Violations)
	assert.NotEmpty(t, report.Recommendations)
}

func TestEngine_Generate_GDPRReportIncludesBreakdowns(t *testing.T) {
	hasher := crypto.NewHasher()
	event := hashedEvent(t, hasher, "e1", "data.export")
	event.Extensions = map[string]interface{}{
		"gdprContext": map[string]interface{}{"legalBasis": "consent"},
	}

	repo := &fakeEventsRepo{events: []*entities.AuditEvent{event}}
	verifier := integrity.New(repo, hasher, nil, nil)
	engine := NewEngine(repo, verifier)

	report, err := engine.Generate(context.Background(), entities.ReportTypeGDPR, "org-1", time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)

	require.NotNil(t, report.LegalBasisBreakdown)
	assert.Equal(t, int64(1), report.LegalBasisBreakdown["consent"])
	require.NotNil(t, report.DataSubjectRightsCounts)
	assert.Equal(t, int64(1), report.DataSubjectRightsCounts.Exports)
}
