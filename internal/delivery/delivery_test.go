package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smedrec/smart-logs/internal/dlq"
	"github.com/smedrec/smart-logs/internal/health"
	"github.com/smedrec/smart-logs/internal/queue"
	"github.com/smedrec/smart-logs/pkg/audit"
)

// mockDriver fails a configurable number of times before succeeding.
type mockDriver struct {
	kind string

	mu        sync.Mutex
	failCount int
	calls     int
}

func (d *mockDriver) Kind() string { return d.kind }

func (d *mockDriver) Deliver(context.Context, Destination, audit.Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.calls <= d.failCount {
		return errors.New("connection refused")
	}
	return nil
}

func (d *mockDriver) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func TestDispatcher_RegisterAndGet(t *testing.T) {
	t.Parallel()
	d := NewDispatcher()
	drv := &mockDriver{kind: "webhook"}

	if err := d.Register(drv); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, ok := d.Get("webhook")
	if !ok {
		t.Fatal("Get returned false for registered driver")
	}
	if got != drv {
		t.Error("Get returned wrong driver instance")
	}
}

func TestDispatcher_RegisterDuplicate(t *testing.T) {
	t.Parallel()
	d := NewDispatcher()

	if err := d.Register(&mockDriver{kind: "webhook"}); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	err := d.Register(&mockDriver{kind: "webhook"})
	if !errors.Is(err, ErrDuplicateDriver) {
		t.Errorf("second Register = %v, want ErrDuplicateDriver", err)
	}
}

func newTestPipeline(t *testing.T, drv Driver, dlqQueue queue.Queue) (*Pipeline, *health.Tracker) {
	t.Helper()
	dispatcher := NewDispatcher()
	if err := dispatcher.Register(drv); err != nil {
		t.Fatalf("Register: %v", err)
	}
	tracker := health.NewTracker(health.NewMemStore(), nil, health.Config{})

	var deadLetter *dlq.Service
	if dlqQueue != nil {
		deadLetter = dlq.NewService(dlqQueue, nil, dlq.Config{})
	}

	return NewPipeline(dispatcher, tracker, deadLetter, PipelineConfig{
		MaxAttempts: 3,
		RetryDelay:  time.Millisecond,
	}), tracker
}

func TestPipeline_SuccessRecordsHealth(t *testing.T) {
	t.Parallel()
	drv := &mockDriver{kind: "webhook"}
	p, tracker := newTestPipeline(t, drv, nil)
	ctx := context.Background()

	dest := Destination{ID: "d1", Kind: "webhook"}
	if err := p.Deliver(ctx, dest, audit.Record{ID: "evt-1"}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	h, err := tracker.Get(ctx, "d1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if h.TotalDeliveries != 1 || h.ConsecutiveSuccesses != 1 {
		t.Errorf("health = %+v", h)
	}
}

func TestPipeline_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	drv := &mockDriver{kind: "webhook", failCount: 2}
	p, tracker := newTestPipeline(t, drv, nil)
	ctx := context.Background()

	dest := Destination{ID: "d1", Kind: "webhook"}
	if err := p.Deliver(ctx, dest, audit.Record{ID: "evt-1"}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if drv.callCount() != 3 {
		t.Errorf("attempts = %d, want 3", drv.callCount())
	}

	h, _ := tracker.Get(ctx, "d1")
	if h.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d after final success", h.ConsecutiveFailures)
	}
	if h.TotalFailures != 2 {
		t.Errorf("TotalFailures = %d, want 2", h.TotalFailures)
	}
}

func TestPipeline_ExhaustedRetriesQuarantine(t *testing.T) {
	t.Parallel()
	drv := &mockDriver{kind: "webhook", failCount: 99}
	q := queue.NewMemory()
	p, _ := newTestPipeline(t, drv, q)
	ctx := context.Background()

	dest := Destination{ID: "d1", Kind: "webhook"}
	err := p.Deliver(ctx, dest, audit.Record{ID: "evt-1"})
	if err == nil {
		t.Fatal("exhausted delivery returned nil")
	}

	jobs, _ := q.List(ctx)
	if len(jobs) != 1 {
		t.Fatalf("DLQ jobs = %d, want 1", len(jobs))
	}
}

func TestPipeline_UnknownDriver(t *testing.T) {
	t.Parallel()
	drv := &mockDriver{kind: "webhook"}
	p, _ := newTestPipeline(t, drv, queue.NewMemory())
	ctx := context.Background()

	err := p.Deliver(ctx, Destination{ID: "d1", Kind: "pager"}, audit.Record{ID: "evt-1"})
	if !errors.Is(err, ErrNoDriver) {
		t.Errorf("err = %v, want ErrNoDriver", err)
	}
}

func TestPipeline_DisabledDestinationDenied(t *testing.T) {
	t.Parallel()
	drv := &mockDriver{kind: "webhook"}
	p, tracker := newTestPipeline(t, drv, nil)
	ctx := context.Background()

	if err := tracker.Disable(ctx, "d1", "maintenance"); err != nil {
		t.Fatalf("Disable: %v", err)
	}

	err := p.Deliver(ctx, Destination{ID: "d1", Kind: "webhook"}, audit.Record{ID: "evt-1"})
	if !errors.Is(err, ErrAdmissionDenied) {
		t.Fatalf("err = %v, want ErrAdmissionDenied", err)
	}
	if drv.callCount() != 0 {
		t.Errorf("driver called %d times for disabled destination", drv.callCount())
	}
}
