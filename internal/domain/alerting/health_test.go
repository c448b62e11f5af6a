package alerting

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complyaudit/audit-core/internal/domain/entities"
	"github.com/complyaudit/audit-core/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.VariantSilent, "info", nil)
}

func TestHealthLoop_RunOnce_RaisesAlertOnFailure(t *testing.T) {
	repo := newFakeAlertRepo()
	svc := NewService(repo, nil)
	probe := Probe{Category: "database", Check: func(ctx context.Context) error { return errors.New("connection refused") }}
	h := NewHealthLoop(svc, []Probe{probe}, testLogger())

	h.runOnce(context.Background())

	require.Len(t, repo.alerts, 1)
	var created *entities.Alert
	for _, a := range repo.alerts {
		created = a
	}
	assert.Equal(t, "health.database", created.Category)
	assert.Equal(t, entities.AlertStatusActive, created.Status)
	assert.True(t, h.lastUnhealthy["database"])
}

func TestHealthLoop_RunOnce_DoesNotDuplicateAlertWhileStillUnhealthy(t *testing.T) {
	repo := newFakeAlertRepo()
	svc := NewService(repo, nil)
	probe := Probe{Category: "database", Check: func(ctx context.Context) error { return errors.New("still down") }}
	h := NewHealthLoop(svc, []Probe{probe}, testLogger())

	h.runOnce(context.Background())
	h.runOnce(context.Background())

	assert.Len(t, repo.alerts, 1)
}

func TestHealthLoop_RunOnce_AutoResolvesOnRecovery(t *testing.T) {
	repo := newFakeAlertRepo()
	svc := NewService(repo, nil)
	failing := true
	probe := Probe{Category: "database", Check: func(ctx context.Context) error {
		if failing {
			return errors.New("connection refused")
		}
		return nil
	}}
	h := NewHealthLoop(svc, []Probe{probe}, testLogger())

	h.runOnce(context.Background())
	failing = false
	h.runOnce(context.Background())

	require.Len(t, repo.alerts, 1)
	var resolved *entities.Alert
	for _, a := range repo.alerts {
		resolved = a
	}
	assert.Equal(t, entities.AlertStatusResolved, resolved.Status)
	assert.False(t, h.lastUnhealthy["database"])
}

func TestHealthLoop_RunOnce_NoAlertWhenHealthy(t *testing.T) {
	repo := newFakeAlertRepo()
	svc := NewService(repo, nil)
	probe := Probe{Category: "database", Check: func(ctx context.Context) error { return nil }}
	h := NewHealthLoop(svc, []Probe{probe}, testLogger())

	h.runOnce(context.Background())

	assert.Empty(t, repo.alerts)
}
