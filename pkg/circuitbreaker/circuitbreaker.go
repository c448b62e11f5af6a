// Package circuitbreaker provides a wrapper around sony/gobreaker for circuit breaker pattern
package circuitbreaker

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/complyaudit/audit-core/pkg/apierr"
	"github.com/complyaudit/audit-core/pkg/metrics"
)

// State represents the circuit breaker state
type State gobreaker.State

// String returns the string representation of the state
func (s State) String() string {
	return gobreaker.State(s).String()
}

// State constants
const (
	StateClosed   State = State(gobreaker.StateClosed)
	StateHalfOpen State = State(gobreaker.StateHalfOpen)
	StateOpen     State = State(gobreaker.StateOpen)
)

// Config holds circuit breaker configuration
type Config struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	SuccessThreshold uint32
	OnStateChange    func(from, to State)
}

// CircuitBreaker wraps gobreaker.CircuitBreaker and adds a background
// health-probe loop (StartHealthProbe): an unhealthy signal records a
// failure on a closed breaker and can trip it early. A healthy signal
// does not move an open breaker to half-open before Timeout elapses.
type CircuitBreaker struct {
	name string
	cb   *gobreaker.CircuitBreaker

	probeCancel context.CancelFunc
}

// New creates a new CircuitBreaker with the given config
func New(cfg Config) *CircuitBreaker {
	name := cfg.Name
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	}
	settings.OnStateChange = func(_ string, from gobreaker.State, to gobreaker.State) {
		metrics.CircuitBreakerStateGauge.WithLabelValues(name).Set(stateValue(State(to)))
		if cfg.OnStateChange != nil {
			cfg.OnStateChange(State(from), State(to))
		}
	}
	return &CircuitBreaker{name: name, cb: gobreaker.NewCircuitBreaker(settings)}
}

func stateValue(s State) float64 {
	switch s {
	case StateClosed:
		return 0
	case StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// Execute runs the given function through the circuit breaker (context-aware, error-only)
func (c *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
			return nil, fn()
		}
	})
	return translateErr(err)
}

// Call runs the given function through the circuit breaker (error-only, no context)
func (c *CircuitBreaker) Call(fn func() error) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return translateErr(err)
}

func translateErr(err error) error {
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return apierr.Wrap(apierr.CodeCircuitOpen, "circuit breaker open", err)
	}
	return err
}

// State returns the current state of the circuit breaker
func (c *CircuitBreaker) State() State {
	return State(c.cb.State())
}

// CanExecute reports whether a call would be allowed right now,
// without actually attempting one.
func (c *CircuitBreaker) CanExecute() bool {
	return c.State() != StateOpen
}

// Counts exposes the total/success/failure metrics spec §4.4 requires.
func (c *CircuitBreaker) Counts() gobreaker.Counts {
	return c.cb.Counts()
}

// StartHealthProbe runs probe on the given interval in the background.
// A healthy result while open issues a no-op call, which gobreaker
// rejects while open, so the breaker still reaches half-open only once
// Timeout has elapsed. An unhealthy result while closed records a
// synthetic failure. Call Stop to end it.
func (c *CircuitBreaker) StartHealthProbe(ctx context.Context, probe func(context.Context) bool, interval time.Duration) {
	probeCtx, cancel := context.WithCancel(ctx)
	c.probeCancel = cancel
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-probeCtx.Done():
				return
			case <-ticker.C:
				healthy := probe(probeCtx)
				switch {
				case healthy && c.State() == StateOpen:
					_ = c.Call(func() error { return nil })
				case !healthy && c.State() == StateClosed:
					_ = c.Call(func() error { return apierr.New(apierr.CodeInternal, "health probe reported unhealthy") })
				}
			}
		}
	}()
}

// Stop cancels a running health probe, if any.
func (c *CircuitBreaker) Stop() {
	if c.probeCancel != nil {
		c.probeCancel()
	}
}
