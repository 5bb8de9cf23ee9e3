package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DisableReason is recorded when the tracker disables a destination after
// sustained failures.
const DisableReason = "Exceeded failure threshold"

// disableActor identifies the tracker in the destination audit trail.
const disableActor = "health-monitor"

// Tracker records delivery outcomes and drives status and circuit
// transitions for each destination.
type Tracker struct {
	store    Store
	disabler DestinationDisabler
	cfg      Config
	logger   *slog.Logger

	// halfOpen caps concurrent probes per destination while half-open.
	mu       sync.Mutex
	halfOpen map[string]int
}

// NewTracker creates a Tracker. disabler may be nil, in which case the
// disable threshold only flips the stored status.
func NewTracker(store Store, disabler DestinationDisabler, cfg Config) *Tracker {
	cfg = cfg.withDefaults()
	return &Tracker{
		store:    store,
		disabler: disabler,
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "health"),
		halfOpen: make(map[string]int),
	}
}

// RecordSuccess registers a successful delivery and its response time.
func (t *Tracker) RecordSuccess(ctx context.Context, destinationID string, responseTime time.Duration) (*Health, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.OpTimeout)
	defer cancel()

	now := t.cfg.Now().UTC()
	rtMs := float64(responseTime) / float64(time.Millisecond)

	h, err := t.store.Update(ctx, destinationID, func(h *Health) error {
		h.LastSuccessAt = &now
		h.ConsecutiveFailures = 0
		h.ConsecutiveSuccesses++
		h.TotalDeliveries++

		if h.AverageResponseTimeMs == 0 {
			h.AverageResponseTimeMs = rtMs
		} else {
			h.AverageResponseTimeMs = responseTimeAlpha*rtMs + (1-responseTimeAlpha)*h.AverageResponseTimeMs
		}

		// A successful half-open probe closes the circuit.
		if h.CircuitState == CircuitHalfOpen {
			h.CircuitState = CircuitClosed
			h.CircuitOpenedAt = nil
		}

		t.recomputeStatus(h)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if t.cfg.Metrics != nil {
		t.cfg.Metrics.DeliveriesTotal.WithLabelValues("success").Inc()
	}
	t.releaseHalfOpen(destinationID)
	return h, nil
}

// RecordFailure registers a failed delivery. Crossing the disable threshold
// disables the destination.
func (t *Tracker) RecordFailure(ctx context.Context, destinationID, errMsg string) (*Health, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.OpTimeout)
	defer cancel()

	now := t.cfg.Now().UTC()

	h, err := t.store.Update(ctx, destinationID, func(h *Health) error {
		h.LastFailureAt = &now
		h.LastError = truncate(errMsg, maxLastErrorLen)
		h.ConsecutiveSuccesses = 0
		h.ConsecutiveFailures++
		h.TotalFailures++
		h.TotalDeliveries++

		switch h.CircuitState {
		case CircuitHalfOpen:
			// Failed probe: back to open with a fresh hold.
			h.CircuitState = CircuitOpen
			h.CircuitOpenedAt = &now
		case CircuitClosed:
			if h.ConsecutiveFailures >= t.cfg.BreakerThreshold {
				h.CircuitState = CircuitOpen
				h.CircuitOpenedAt = &now
			}
		}

		t.recomputeStatus(h)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if t.cfg.Metrics != nil {
		t.cfg.Metrics.DeliveriesTotal.WithLabelValues("failure").Inc()
	}
	t.releaseHalfOpen(destinationID)

	if h.ConsecutiveFailures >= t.cfg.DisableThreshold && h.Status != StatusDisabled {
		if derr := t.Disable(ctx, destinationID, DisableReason); derr != nil {
			t.logger.Error("disable after failure threshold failed",
				"destination_id", destinationID, "error", derr)
		} else {
			h.Status = StatusDisabled
		}
	}

	return h, nil
}

// Disable marks a destination disabled. Disabled is terminal: delivery
// admission is denied regardless of circuit state until Enable.
func (t *Tracker) Disable(ctx context.Context, destinationID, reason string) error {
	now := t.cfg.Now().UTC()

	if _, err := t.store.Update(ctx, destinationID, func(h *Health) error {
		h.Status = StatusDisabled
		h.DisabledAt = &now
		h.DisabledReason = reason
		return nil
	}); err != nil {
		return err
	}

	if t.disabler != nil {
		if err := t.disabler.SetDisabled(ctx, destinationID, true, reason, disableActor); err != nil {
			return err
		}
	}

	t.logger.Warn("destination disabled", "destination_id", destinationID, "reason", reason)
	return nil
}

// Enable clears the disabled state and resets the failure streak so the
// destination re-enters rotation closed and healthy.
func (t *Tracker) Enable(ctx context.Context, destinationID string) error {
	if _, err := t.store.Update(ctx, destinationID, func(h *Health) error {
		h.Status = StatusHealthy
		h.DisabledAt = nil
		h.DisabledReason = ""
		h.ConsecutiveFailures = 0
		h.CircuitState = CircuitClosed
		h.CircuitOpenedAt = nil
		t.recomputeStatus(h)
		return nil
	}); err != nil {
		return err
	}

	if t.disabler != nil {
		if err := t.disabler.SetDisabled(ctx, destinationID, false, "", disableActor); err != nil {
			return err
		}
	}

	t.logger.Info("destination re-enabled", "destination_id", destinationID)
	return nil
}

// Get returns the current health record for a destination.
func (t *Tracker) Get(ctx context.Context, destinationID string) (*Health, error) {
	return t.store.Find(ctx, destinationID)
}

// Unhealthy returns destinations currently classified unhealthy.
func (t *Tracker) Unhealthy(ctx context.Context) ([]*Health, error) {
	return t.store.Unhealthy(ctx)
}

// recomputeStatus derives Status from the counters. Disabled is sticky.
func (t *Tracker) recomputeStatus(h *Health) {
	if h.Status == StatusDisabled {
		return
	}
	switch {
	case h.ConsecutiveFailures >= t.cfg.UnhealthyThreshold:
		h.Status = StatusUnhealthy
	case h.ConsecutiveFailures >= t.cfg.DegradedThreshold:
		h.Status = StatusDegraded
	case h.SuccessRate() < t.cfg.MinSuccessRate && h.TotalDeliveries >= t.cfg.MinSamples:
		h.Status = StatusDegraded
	default:
		h.Status = StatusHealthy
	}
}
