package health

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeClock is an adjustable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeDisabler records SetDisabled calls.
type fakeDisabler struct {
	mu    sync.Mutex
	calls []disableCall
}

type disableCall struct {
	destinationID string
	disabled      bool
	reason        string
	actor         string
}

func (d *fakeDisabler) SetDisabled(_ context.Context, id string, disabled bool, reason, actor string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, disableCall{id, disabled, reason, actor})
	return nil
}

func newTestTracker(t *testing.T) (*Tracker, *fakeClock, *fakeDisabler) {
	t.Helper()
	clock := newFakeClock()
	disabler := &fakeDisabler{}
	tracker := NewTracker(NewMemStore(), disabler, Config{Now: clock.Now})
	return tracker, clock, disabler
}

func TestRecordSuccess_ResetsFailureStreak(t *testing.T) {
	t.Parallel()
	tracker, _, _ := newTestTracker(t)
	ctx := context.Background()

	if _, err := tracker.RecordFailure(ctx, "d1", "timeout"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	h, err := tracker.RecordSuccess(ctx, "d1", 120*time.Millisecond)
	if err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}

	if h.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d, want 0", h.ConsecutiveFailures)
	}
	if h.ConsecutiveSuccesses != 1 {
		t.Errorf("ConsecutiveSuccesses = %d, want 1", h.ConsecutiveSuccesses)
	}
	if h.TotalDeliveries != 2 || h.TotalFailures != 1 {
		t.Errorf("totals = %d/%d, want 2/1", h.TotalDeliveries, h.TotalFailures)
	}
	if h.LastSuccessAt == nil {
		t.Error("LastSuccessAt not set")
	}
}

// ConsecutiveFailures == 0 iff the last recorded outcome was a success.
func TestFailureStreakInvariant(t *testing.T) {
	t.Parallel()
	tracker, _, _ := newTestTracker(t)
	ctx := context.Background()

	seq := []bool{true, false, false, true, false, true, true}
	for _, success := range seq {
		var h *Health
		var err error
		if success {
			h, err = tracker.RecordSuccess(ctx, "d1", 50*time.Millisecond)
		} else {
			h, err = tracker.RecordFailure(ctx, "d1", "boom")
		}
		if err != nil {
			t.Fatalf("record: %v", err)
		}
		if success != (h.ConsecutiveFailures == 0) {
			t.Fatalf("after success=%v: ConsecutiveFailures=%d", success, h.ConsecutiveFailures)
		}
	}
}

func TestRecordSuccess_ResponseTimeEMA(t *testing.T) {
	t.Parallel()
	tracker, _, _ := newTestTracker(t)
	ctx := context.Background()

	h, _ := tracker.RecordSuccess(ctx, "d1", 100*time.Millisecond)
	if h.AverageResponseTimeMs != 100 {
		t.Fatalf("first sample EMA = %v, want 100", h.AverageResponseTimeMs)
	}

	h, _ = tracker.RecordSuccess(ctx, "d1", 200*time.Millisecond)
	want := 0.2*200 + 0.8*100
	if h.AverageResponseTimeMs != want {
		t.Errorf("EMA = %v, want %v", h.AverageResponseTimeMs, want)
	}
}

func TestStatusThresholds(t *testing.T) {
	t.Parallel()
	tracker, _, _ := newTestTracker(t)
	ctx := context.Background()

	var h *Health
	for i := 0; i < 2; i++ {
		h, _ = tracker.RecordFailure(ctx, "d1", "timeout")
	}
	if h.Status != StatusHealthy {
		t.Errorf("after 2 failures: %s, want healthy", h.Status)
	}

	h, _ = tracker.RecordFailure(ctx, "d1", "timeout")
	if h.Status != StatusDegraded {
		t.Errorf("after 3 failures: %s, want degraded", h.Status)
	}

	for i := 0; i < 2; i++ {
		h, _ = tracker.RecordFailure(ctx, "d1", "timeout")
	}
	if h.Status != StatusUnhealthy {
		t.Errorf("after 5 failures: %s, want unhealthy", h.Status)
	}
}

func TestStatus_LowSuccessRateDegrades(t *testing.T) {
	t.Parallel()
	tracker, _, _ := newTestTracker(t)
	ctx := context.Background()

	// 18 successes, 2 failures, then a success that breaks the failure
	// streak: 21 deliveries, about 90.5% success.
	for i := 0; i < 18; i++ {
		tracker.RecordSuccess(ctx, "d1", 10*time.Millisecond)
	}
	tracker.RecordFailure(ctx, "d1", "blip")
	h, _ := tracker.RecordFailure(ctx, "d1", "blip")
	h, _ = tracker.RecordSuccess(ctx, "d1", 10*time.Millisecond)

	if h.SuccessRate() >= 95 {
		t.Fatalf("success rate = %v, expected below threshold", h.SuccessRate())
	}
	if h.Status != StatusDegraded {
		t.Errorf("status = %s, want degraded", h.Status)
	}
}

func TestRecordFailure_TruncatesError(t *testing.T) {
	t.Parallel()
	tracker, _, _ := newTestTracker(t)

	long := make([]byte, 4096)
	for i := range long {
		long[i] = 'x'
	}
	h, _ := tracker.RecordFailure(context.Background(), "d1", string(long))
	if len(h.LastError) != maxLastErrorLen {
		t.Errorf("LastError length = %d, want %d", len(h.LastError), maxLastErrorLen)
	}
}

func TestDisableThreshold(t *testing.T) {
	t.Parallel()
	tracker, _, disabler := newTestTracker(t)
	ctx := context.Background()

	var h *Health
	for i := 0; i < 10; i++ {
		h, _ = tracker.RecordFailure(ctx, "d1", "connection refused")
	}

	if h.Status != StatusDisabled {
		t.Errorf("status = %s, want disabled", h.Status)
	}

	disabler.mu.Lock()
	defer disabler.mu.Unlock()
	if len(disabler.calls) != 1 {
		t.Fatalf("SetDisabled calls = %d, want 1", len(disabler.calls))
	}
	call := disabler.calls[0]
	if call.destinationID != "d1" || !call.disabled {
		t.Errorf("call = %+v", call)
	}
	if call.reason != "Exceeded failure threshold" || call.actor != "health-monitor" {
		t.Errorf("reason/actor = %q/%q", call.reason, call.actor)
	}

	// Disabled denies admission regardless of circuit state.
	if tracker.ShouldAllowDelivery(ctx, "d1") {
		t.Error("disabled destination admitted")
	}
}

func TestEnable_ClearsDisabled(t *testing.T) {
	t.Parallel()
	tracker, _, _ := newTestTracker(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		tracker.RecordFailure(ctx, "d1", "down")
	}
	if err := tracker.Enable(ctx, "d1"); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	h, err := tracker.Get(ctx, "d1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if h.Status == StatusDisabled {
		t.Error("still disabled after Enable")
	}
	if h.CircuitState != CircuitClosed || h.CircuitOpenedAt != nil {
		t.Errorf("circuit = %s/%v, want closed/nil", h.CircuitState, h.CircuitOpenedAt)
	}
	if !tracker.ShouldAllowDelivery(ctx, "d1") {
		t.Error("re-enabled destination not admitted")
	}
}

func TestClosedCircuitHasNoOpenedAt(t *testing.T) {
	t.Parallel()
	tracker, _, _ := newTestTracker(t)
	ctx := context.Background()

	tracker.RecordFailure(ctx, "d1", "x")
	h, _ := tracker.RecordSuccess(ctx, "d1", time.Millisecond)
	if h.CircuitState == CircuitClosed && h.CircuitOpenedAt != nil {
		t.Error("closed circuit with CircuitOpenedAt set")
	}
}
