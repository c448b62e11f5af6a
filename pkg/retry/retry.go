// Package retry implements exponential backoff with jitter and error
// classification for transient failures, composing with
// pkg/circuitbreaker so a retry loop stops issuing attempts once the
// downstream dependency has tripped open.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/complyaudit/audit-core/pkg/apierr"
	"github.com/complyaudit/audit-core/pkg/circuitbreaker"
)

// Policy configures backoff timing and attempt limits (spec §4.3).
type Policy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64 // +/- fraction of the computed delay, e.g. 0.25
}

// DefaultPolicy mirrors spec §4.3's default retry policy: local jitter
// of +/-25%, five attempts, capped at 30s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  5,
		BaseDelay:    200 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.25,
	}
}

// TransportPolicy is tuned for outbound network calls (KMS, webhook
// delivery): tighter jitter, longer ceiling.
func TransportPolicy() Policy {
	return Policy{
		MaxAttempts:  4,
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     60 * time.Second,
		JitterFactor: 0.10,
	}
}

// Classification describes whether an error is worth retrying.
type Classification int

const (
	// NonRetryable errors (validation, policy violation) should fail fast.
	NonRetryable Classification = iota
	// Retryable errors (network blips, 5xx, 429, timeouts) should be retried.
	Retryable
)

// Classify inspects err and decides whether a retry is warranted,
// following the network errno / HTTP status / timeout heuristics spec
// §4.3 names explicitly.
func Classify(err error) Classification {
	if err == nil {
		return NonRetryable
	}

	switch apierr.CodeOf(err) {
	case apierr.CodeValidation, apierr.CodePolicyViolation, apierr.CodeDuplicate, apierr.CodeConfigError:
		return NonRetryable
	case apierr.CodeBrokerUnavailable, apierr.CodeStorageUnavailable, apierr.CodeCryptoUnavailable, apierr.CodeCircuitOpen:
		return Retryable
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Retryable
		}
		return Retryable
	}

	msg := strings.ToLower(err.Error())
	for _, needle := range []string{
		"econnrefused", "connection refused", "econnreset", "etimedout", "enotfound", "epipe",
		"timeout", "timeouterror", "aborterror", "context deadline exceeded",
		"i/o timeout", "connection reset", "broken pipe", "eof",
	} {
		if strings.Contains(msg, needle) {
			return Retryable
		}
	}
	for _, code := range []string{" 500", " 502", " 503", " 504", " 429", "status=500", "status=502", "status=503", "status=504", "status=429"} {
		if strings.Contains(msg, code) {
			return Retryable
		}
	}
	return NonRetryable
}

// Outcome reports what happened after Execute returns, useful for
// metrics/logging callers that want attempt counts without parsing errors.
type Outcome struct {
	Attempts int
	Err      error
}

// Hooks lets a caller observe each attempt without changing control flow.
type Hooks struct {
	OnAttempt func(attempt int, err error)
	OnSuccess func(attempts int)
	OnFailure func(attempts int, err error)
}

// Execute runs op under policy, optionally gated by breaker. It retries
// only Retryable errors, stops immediately on NonRetryable ones or when
// ctx is cancelled, and returns apierr.CodeRetryExhausted once
// MaxAttempts is reached while the last error was still retryable.
func Execute(ctx context.Context, policy Policy, breaker *circuitbreaker.CircuitBreaker, op func(context.Context) error, hooks *Hooks) Outcome {
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return finish(Outcome{Attempts: attempt - 1, Err: err}, hooks)
		}

		var err error
		if breaker != nil {
			err = breaker.Execute(ctx, func() error { return op(ctx) })
		} else {
			err = op(ctx)
		}

		if hooks != nil && hooks.OnAttempt != nil {
			hooks.OnAttempt(attempt, err)
		}

		if err == nil {
			return finish(Outcome{Attempts: attempt, Err: nil}, hooks)
		}

		lastErr = err
		if Classify(err) == NonRetryable {
			return finish(Outcome{Attempts: attempt, Err: err}, hooks)
		}

		if attempt == policy.MaxAttempts {
			break
		}

		delay := backoffDelay(policy, attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return finish(Outcome{Attempts: attempt, Err: ctx.Err()}, hooks)
		case <-timer.C:
		}
	}

	return finish(Outcome{
		Attempts: policy.MaxAttempts,
		Err:      apierr.Wrap(apierr.CodeRetryExhausted, "retry attempts exhausted", lastErr),
	}, hooks)
}

func finish(o Outcome, hooks *Hooks) Outcome {
	if hooks == nil {
		return o
	}
	if o.Err == nil {
		if hooks.OnSuccess != nil {
			hooks.OnSuccess(o.Attempts)
		}
	} else if hooks.OnFailure != nil {
		hooks.OnFailure(o.Attempts, o.Err)
	}
	return o
}

// backoffDelay computes base * 2^(attempt-1), capped at MaxDelay, with
// +/-JitterFactor uniform jitter applied.
func backoffDelay(p Policy, attempt int) time.Duration {
	raw := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if raw > float64(p.MaxDelay) {
		raw = float64(p.MaxDelay)
	}
	if p.JitterFactor <= 0 {
		return time.Duration(raw)
	}
	jitter := raw * p.JitterFactor
	delta := (rand.Float64()*2 - 1) * jitter
	result := raw + delta
	if result < 0 {
		result = 0
	}
	return time.Duration(result)
}
