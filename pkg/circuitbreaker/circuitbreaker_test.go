package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complyaudit/audit-core/pkg/apierr"
)

func TestCircuitBreaker_TripsOpenAfterThreshold(t *testing.T) {
	cb := New(Config{
		Name:             "test",
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          time.Minute,
		FailureThreshold: 2,
	})

	failing := func() error { return errors.New("downstream error") }

	assert.Error(t, cb.Call(failing))
	assert.Equal(t, StateClosed, cb.State())

	assert.Error(t, cb.Call(failing))
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Call(func() error { return nil })
	assert.Equal(t, apierr.CodeCircuitOpen, apierr.CodeOf(err))
	assert.False(t, cb.CanExecute())
}

func TestCircuitBreaker_ExecuteRespectsContextCancellation(t *testing.T) {
	cb := New(Config{Name: "ctx-test", MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, FailureThreshold: 5})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, func() error {
		t.Fatal("fn should not run once context is cancelled")
		return nil
	})
	require.Error(t, err)
}

func TestCircuitBreaker_CountsTrackOutcomes(t *testing.T) {
	cb := New(Config{Name: "counts-test", MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, FailureThreshold: 10})

	_ = cb.Call(func() error { return nil })
	_ = cb.Call(func() error { return errors.New("boom") })

	counts := cb.Counts()
	assert.Equal(t, uint32(2), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalSuccesses)
	assert.Equal(t, uint32(1), counts.TotalFailures)
}
