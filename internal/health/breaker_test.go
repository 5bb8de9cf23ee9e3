package health

import (
	"context"
	"testing"
	"time"
)

// Five consecutive failures open the circuit and deny admission.
func TestCircuitOpensOnFiveFailures(t *testing.T) {
	t.Parallel()
	tracker, _, _ := newTestTracker(t)
	ctx := context.Background()

	var h *Health
	for i := 0; i < 5; i++ {
		var err error
		h, err = tracker.RecordFailure(ctx, "d1", "timeout")
		if err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}

	if h.CircuitState != CircuitOpen {
		t.Fatalf("state = %s, want open", h.CircuitState)
	}
	if h.CircuitOpenedAt == nil {
		t.Fatal("CircuitOpenedAt not set")
	}
	if tracker.ShouldAllowDelivery(ctx, "d1") {
		t.Error("open circuit admitted delivery")
	}
}

// After the open hold elapses, the next admission check transitions to
// half-open and allows one probe; a successful probe closes the circuit.
func TestHalfOpenRecovery(t *testing.T) {
	t.Parallel()
	tracker, clock, _ := newTestTracker(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		tracker.RecordFailure(ctx, "d1", "timeout")
	}

	clock.Advance(300*time.Second + time.Millisecond)

	if !tracker.ShouldAllowDelivery(ctx, "d1") {
		t.Fatal("probe denied after hold elapsed")
	}
	h, _ := tracker.Get(ctx, "d1")
	if h.CircuitState != CircuitHalfOpen {
		t.Fatalf("state = %s, want half-open", h.CircuitState)
	}

	h, err := tracker.RecordSuccess(ctx, "d1", 80*time.Millisecond)
	if err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}
	if h.CircuitState != CircuitClosed {
		t.Errorf("state = %s, want closed", h.CircuitState)
	}
	if h.CircuitOpenedAt != nil {
		t.Error("CircuitOpenedAt not cleared on close")
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	t.Parallel()
	tracker, clock, _ := newTestTracker(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		tracker.RecordFailure(ctx, "d1", "timeout")
	}
	opened, _ := tracker.Get(ctx, "d1")

	clock.Advance(301 * time.Second)
	if !tracker.ShouldAllowDelivery(ctx, "d1") {
		t.Fatal("probe denied")
	}

	h, _ := tracker.RecordFailure(ctx, "d1", "still down")
	if h.CircuitState != CircuitOpen {
		t.Fatalf("state = %s, want open", h.CircuitState)
	}
	if !h.CircuitOpenedAt.After(*opened.CircuitOpenedAt) {
		t.Error("CircuitOpenedAt not reset on reopen")
	}
}

func TestHalfOpenProbeCap(t *testing.T) {
	t.Parallel()
	tracker, clock, _ := newTestTracker(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		tracker.RecordFailure(ctx, "d1", "timeout")
	}
	clock.Advance(301 * time.Second)

	if !tracker.ShouldAllowDelivery(ctx, "d1") {
		t.Fatal("first probe denied")
	}
	// Default cap is one concurrent probe.
	if tracker.ShouldAllowDelivery(ctx, "d1") {
		t.Error("second concurrent probe admitted")
	}

	// Recording the outcome frees the slot.
	tracker.RecordFailure(ctx, "d1", "still down")
	clock.Advance(301 * time.Second)
	if !tracker.ShouldAllowDelivery(ctx, "d1") {
		t.Error("probe denied after slot release and new hold")
	}
}

func TestUnknownDestinationAllowed(t *testing.T) {
	t.Parallel()
	tracker, _, _ := newTestTracker(t)
	if !tracker.ShouldAllowDelivery(context.Background(), "never-seen") {
		t.Error("unknown destination denied")
	}
}

// Repeated open transitions through the store are idempotent.
func TestHalfOpenTransitionIdempotent(t *testing.T) {
	t.Parallel()
	store := NewMemStore()
	ctx := context.Background()
	openedAt := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	open := func(h *Health) error {
		h.CircuitState = CircuitOpen
		h.CircuitOpenedAt = &openedAt
		return nil
	}
	first, err := store.Update(ctx, "d1", open)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	second, err := store.Update(ctx, "d1", open)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	if first.CircuitState != second.CircuitState || !first.CircuitOpenedAt.Equal(*second.CircuitOpenedAt) {
		t.Errorf("states differ: %+v vs %+v", first, second)
	}
}

func TestRecordSuccessInClosedStateKeepsClosed(t *testing.T) {
	t.Parallel()
	tracker, _, _ := newTestTracker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		h, _ := tracker.RecordSuccess(ctx, "d1", time.Millisecond)
		if h.CircuitState != CircuitClosed {
			t.Fatalf("state = %s, want closed", h.CircuitState)
		}
	}
}
