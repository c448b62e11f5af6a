package alerting

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/complyaudit/audit-core/pkg/logger"
)

// Probe checks one dependency's health. A non-nil error from Check
// marks it unhealthy: Category feeds the alert category and title, and
// the error text becomes the alert description.
type Probe struct {
	Category string
	Check    func(ctx context.Context) error
}

// HealthLoop periodically runs each Probe, creating an ACTIVE alert on
// failure and auto-resolving it on recovery (spec §4.12).
type HealthLoop struct {
	alerts *Service
	probes []Probe
	log    *logger.Logger

	lastUnhealthy map[string]bool
}

// NewHealthLoop constructs a HealthLoop over the given probes.
func NewHealthLoop(alerts *Service, probes []Probe, log *logger.Logger) *HealthLoop {
	return &HealthLoop{alerts: alerts, probes: probes, log: log, lastUnhealthy: make(map[string]bool)}
}

// Run blocks, probing every interval until ctx is cancelled.
func (h *HealthLoop) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.runOnce(ctx)
		}
	}
}

func (h *HealthLoop) runOnce(ctx context.Context) {
	for _, probe := range h.probes {
		err := probe.Check(ctx)
		if err != nil {
			if !h.lastUnhealthy[probe.Category] {
				_ = h.alerts.PublishCritical(ctx, "health."+probe.Category, probe.Category+" dependency unhealthy", err.Error(), "")
			}
			h.lastUnhealthy[probe.Category] = true
			_ = h.log.Warn(ctx, "health probe failed", zap.String("category", probe.Category), zap.Error(err))
			continue
		}

		if h.lastUnhealthy[probe.Category] {
			if err := h.alerts.AutoResolveByCategory(ctx, "health."+probe.Category, ""); err != nil {
				_ = h.log.Error(ctx, "health probe: failed to auto-resolve alerts", zap.String("category", probe.Category), zap.Error(err))
			}
		}
		h.lastUnhealthy[probe.Category] = false
	}
}
