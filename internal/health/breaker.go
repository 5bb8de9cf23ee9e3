package health

import (
	"context"
	"errors"
)

// ShouldAllowDelivery decides whether a delivery attempt to the destination
// may proceed.
//
// Health tracking never blocks audit ingress: store errors and timeouts fail
// open. The only fail-closed path is an explicitly disabled destination.
func (t *Tracker) ShouldAllowDelivery(ctx context.Context, destinationID string) bool {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.OpTimeout)
	defer cancel()

	h, err := t.store.Find(ctx, destinationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Never seen: deliver and let the outcome seed the record.
			return true
		}
		t.logger.Warn("health lookup failed, allowing delivery",
			"destination_id", destinationID, "error", err)
		return true
	}

	if h.Status == StatusDisabled {
		t.countDenied()
		return false
	}

	switch h.CircuitState {
	case CircuitClosed:
		return true

	case CircuitOpen:
		if h.CircuitOpenedAt == nil || t.cfg.Now().UTC().Sub(*h.CircuitOpenedAt) < t.cfg.BreakerTimeout {
			t.countDenied()
			return false
		}
		// Hold elapsed: move to half-open. The store serializes this with
		// concurrent record calls, so the transition happens exactly once;
		// late repeats observe half-open and fall through to the probe gate.
		if _, err := t.store.Update(ctx, destinationID, func(h *Health) error {
			if h.CircuitState == CircuitOpen {
				h.CircuitState = CircuitHalfOpen
			}
			return nil
		}); err != nil {
			t.logger.Warn("half-open transition failed, allowing delivery",
				"destination_id", destinationID, "error", err)
			return true
		}
		return t.probe(destinationID)

	case CircuitHalfOpen:
		return t.probe(destinationID)
	}

	return true
}

// probe claims a half-open slot, counting the denial when none is free.
func (t *Tracker) probe(destinationID string) bool {
	if t.acquireHalfOpen(destinationID) {
		return true
	}
	t.countDenied()
	return false
}

func (t *Tracker) countDenied() {
	if t.cfg.Metrics != nil {
		t.cfg.Metrics.DeliveriesDenied.Inc()
	}
}

// PromoteHalfOpen transitions an open circuit to half-open once the hold
// elapsed, without claiming a probe slot. The health monitor loop uses it to
// reconcile destinations nobody is currently delivering to. Reports whether
// a transition happened.
func (t *Tracker) PromoteHalfOpen(ctx context.Context, destinationID string) (bool, error) {
	promoted := false
	_, err := t.store.Update(ctx, destinationID, func(h *Health) error {
		if h.CircuitState != CircuitOpen || h.CircuitOpenedAt == nil {
			return nil
		}
		if t.cfg.Now().UTC().Sub(*h.CircuitOpenedAt) < t.cfg.BreakerTimeout {
			return nil
		}
		h.CircuitState = CircuitHalfOpen
		promoted = true
		return nil
	})
	return promoted, err
}

// acquireHalfOpen admits up to HalfOpenMax concurrent probes per
// destination. Slots release when the probe outcome is recorded.
func (t *Tracker) acquireHalfOpen(destinationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.halfOpen[destinationID] >= t.cfg.HalfOpenMax {
		return false
	}
	t.halfOpen[destinationID]++
	return true
}

func (t *Tracker) releaseHalfOpen(destinationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.halfOpen[destinationID] > 0 {
		t.halfOpen[destinationID]--
	}
}
