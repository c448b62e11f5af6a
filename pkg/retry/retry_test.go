package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complyaudit/audit-core/pkg/apierr"
)

func TestClassify(t *testing.T) {
	assert.Equal(t, NonRetryable, Classify(nil))
	assert.Equal(t, NonRetryable, Classify(apierr.New(apierr.CodeValidation, "bad input")))
	assert.Equal(t, Retryable, Classify(apierr.New(apierr.CodeStorageUnavailable, "db down")))
	assert.Equal(t, Retryable, Classify(errors.New("dial tcp: connection refused")))
	assert.Equal(t, Retryable, Classify(errors.New("request failed: status=503")))
	assert.Equal(t, NonRetryable, Classify(errors.New("record not found")))
}

func TestExecute_SucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	outcome := Execute(context.Background(), DefaultPolicy(), nil, func(context.Context) error {
		calls++
		return nil
	}, nil)

	assert.NoError(t, outcome.Err)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Equal(t, 1, calls)
}

func TestExecute_StopsImmediatelyOnNonRetryableError(t *testing.T) {
	calls := 0
	wantErr := apierr.New(apierr.CodeValidation, "bad input")
	outcome := Execute(context.Background(), DefaultPolicy(), nil, func(context.Context) error {
		calls++
		return wantErr
	}, nil)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, outcome.Attempts)
	assert.ErrorIs(t, outcome.Err, wantErr)
}

func TestExecute_RetriesAndEventuallySucceeds(t *testing.T) {
	calls := 0
	policy := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, JitterFactor: 0}
	outcome := Execute(context.Background(), policy, nil, func(context.Context) error {
		calls++
		if calls < 3 {
			return apierr.New(apierr.CodeStorageUnavailable, "transient")
		}
		return nil
	}, nil)

	require.NoError(t, outcome.Err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, outcome.Attempts)
}

func TestExecute_ExhaustsRetriesAndReturnsRetryExhausted(t *testing.T) {
	calls := 0
	policy := Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, JitterFactor: 0}
	outcome := Execute(context.Background(), policy, nil, func(context.Context) error {
		calls++
		return apierr.New(apierr.CodeStorageUnavailable, "still down")
	}, nil)

	assert.Equal(t, 2, calls)
	assert.Equal(t, apierr.CodeRetryExhausted, apierr.CodeOf(outcome.Err))
}

func TestExecute_StopsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := Execute(ctx, DefaultPolicy(), nil, func(context.Context) error {
		t.Fatal("op should not be invoked with an already-cancelled context")
		return nil
	}, nil)

	assert.ErrorIs(t, outcome.Err, context.Canceled)
}

func TestExecute_InvokesHooks(t *testing.T) {
	var attempts []int
	var succeededAt int
	policy := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, JitterFactor: 0}

	calls := 0
	outcome := Execute(context.Background(), policy, nil, func(context.Context) error {
		calls++
		if calls < 2 {
			return apierr.New(apierr.CodeBrokerUnavailable, "transient")
		}
		return nil
	}, &Hooks{
		OnAttempt: func(attempt int, err error) { attempts = append(attempts, attempt) },
		OnSuccess: func(n int) { succeededAt = n },
	})

	require.NoError(t, outcome.Err)
	assert.Equal(t, []int{1, 2}, attempts)
	assert.Equal(t, 2, succeededAt)
}
