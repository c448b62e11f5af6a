package logger

import (
	"context"
	"sync"
	"time"

	"github.com/complyaudit/audit-core/pkg/apierr"
	"github.com/complyaudit/audit-core/pkg/circuitbreaker"
)

// BatchSinkConfig tunes the async batching pipeline (spec §4.13).
type BatchSinkConfig struct {
	MaxBatchSize  int
	FlushInterval time.Duration
	QueueCapacity int
	// HighWaterMark is the fraction of QueueCapacity above which new
	// records are rejected instead of queued (backpressure).
	HighWaterMark float64
	FlushTimeout  time.Duration
}

func DefaultBatchSinkConfig() BatchSinkConfig {
	return BatchSinkConfig{
		MaxBatchSize:  200,
		FlushInterval: 2 * time.Second,
		QueueCapacity: 10_000,
		HighWaterMark: 0.9,
		FlushTimeout:  5 * time.Second,
	}
}

// BatchSink is a multi-producer/single-consumer batched pipeline:
// many goroutines enqueue records, one background goroutine drains and
// flushes them through a circuit-broken transport.
type BatchSink struct {
	cfg    BatchSinkConfig
	queue  chan Record
	breaker *circuitbreaker.CircuitBreaker
	flush  func([]Record)

	mu       sync.Mutex
	pending  []Record
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewBatchSink starts the background flush loop. breaker wraps the
// actual transport write; flush reports no error, so the breaker
// records every write as a success and a failing transport does not
// trip it. Producers are not stalled either way: Enqueue never blocks.
func NewBatchSink(cfg BatchSinkConfig, breaker *circuitbreaker.CircuitBreaker) *BatchSink {
	s := &BatchSink{
		cfg:     cfg,
		queue:   make(chan Record, cfg.QueueCapacity),
		breaker: breaker,
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

// Enqueue never blocks. It returns apierr.CodeInternal-tagged error
// when the queue is above the configured high-water mark.
func (s *BatchSink) Enqueue(r Record) error {
	if len(s.queue) >= int(float64(s.cfg.QueueCapacity)*s.cfg.HighWaterMark) {
		return apierr.New(apierr.CodeInternal, "log sink above high-water mark, record dropped")
	}
	select {
	case s.queue <- r:
		return nil
	default:
		return apierr.New(apierr.CodeInternal, "log sink queue full")
	}
}

func (s *BatchSink) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	var batch []Record
	flushBatch := func() {
		if len(batch) == 0 {
			return
		}
		toFlush := batch
		batch = nil
		s.deliver(toFlush)
	}

	for {
		select {
		case r := <-s.queue:
			batch = append(batch, r)
			if len(batch) >= s.cfg.MaxBatchSize {
				flushBatch()
			}
		case <-ticker.C:
			flushBatch()
		case <-s.done:
			// Drain whatever is left within the flush timeout.
			deadline := time.After(s.cfg.FlushTimeout)
			for {
				select {
				case r := <-s.queue:
					batch = append(batch, r)
				case <-deadline:
					flushBatch()
					return
				default:
					flushBatch()
					return
				}
			}
		}
	}
}

func (s *BatchSink) deliver(records []Record) {
	if s.flush == nil {
		return
	}
	if s.breaker == nil {
		s.flush(records)
		return
	}
	_ = s.breaker.Call(func() error {
		s.flush(records)
		return nil
	})
}

// Shutdown stops accepting new flush cycles and drains the remaining
// queue within ctx's deadline.
func (s *BatchSink) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.done) })
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
