package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/smedrec/smart-logs/internal/metrics"
	"github.com/smedrec/smart-logs/internal/queue"
	"github.com/smedrec/smart-logs/pkg/audit"
)

// AlertFunc receives the current metrics when the alert threshold trips.
type AlertFunc func(Metrics)

// ArchiveSink receives events that aged past the archive threshold. The
// archival engine implements it; a nil sink drops nothing (events stay put).
type ArchiveSink interface {
	ArchiveDeadLetter(ctx context.Context, ev *Event) error
}

// Config holds the DLQ service settings. Zero values take the documented
// defaults.
type Config struct {
	AlertThreshold   int           // events before alerts fire (default 10)
	AlertCooldown    time.Duration // minimum gap between alerts (default 300s)
	ArchiveAfterDays int           // age before handoff to the archive sink (0 = never)
	MaxRetentionDays int           // age before removal (default 365)
	PollInterval     time.Duration // worker idle poll (default 5s)

	Logger  *slog.Logger
	Metrics *metrics.Set     // optional instrumentation
	Now     func() time.Time // injectable for testing
}

func (c Config) withDefaults() Config {
	if c.AlertThreshold <= 0 {
		c.AlertThreshold = 10
	}
	if c.AlertCooldown <= 0 {
		c.AlertCooldown = 5 * time.Minute
	}
	if c.MaxRetentionDays <= 0 {
		c.MaxRetentionDays = 365
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Service is the dead-letter queue front end.
type Service struct {
	cfg    Config
	queue  queue.Queue
	sink   ArchiveSink
	logger *slog.Logger

	alertMu       sync.Mutex
	alertSeq      int
	callbacks     []alertEntry
	lastAlertTime time.Time

	workerMu sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
}

type alertEntry struct {
	id int
	fn AlertFunc
}

// NewService creates a DLQ service over the given queue. sink may be nil.
func NewService(q queue.Queue, sink ArchiveSink, cfg Config) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		cfg:    cfg,
		queue:  q,
		sink:   sink,
		logger: cfg.Logger.With("component", "dlq"),
	}
}

// AddFailedEvent quarantines an audit event that exhausted its delivery
// retries. An enqueue failure surfaces as *CriticalError: the caller is
// losing events and must escalate.
func (s *Service) AddFailedEvent(ctx context.Context, record audit.Record, cause error, jobID, queueName string, history []RetryAttempt) (*Event, error) {
	now := s.cfg.Now().UTC()

	first := now
	if len(history) > 0 {
		first = history[0].Timestamp
	}

	reason := ""
	if cause != nil {
		reason = cause.Error()
	}

	ev := &Event{
		OriginalEvent:     record,
		FailureReason:     reason,
		FailureCount:      len(history),
		FirstFailureTime:  first,
		LastFailureTime:   now,
		OriginalJobID:     jobID,
		OriginalQueueName: queueName,
		RetryHistory:      history,
		ErrorStack:        truncate(fmt.Sprintf("%+v", cause), maxErrorStackLen),
	}
	if cause == nil {
		ev.ErrorStack = ""
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, &CriticalError{EventID: record.ID, Err: err}
	}
	if _, err := s.queue.Enqueue(ctx, payload); err != nil {
		return nil, &CriticalError{EventID: record.ID, Err: err}
	}

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.DLQEventsTotal.Inc()
	}

	s.logger.Info("event quarantined",
		"event_id", record.ID,
		"failure_reason", reason,
		"failure_count", ev.FailureCount,
	)

	s.checkAlerts(ctx)
	return ev, nil
}

// GetMetrics aggregates over every DLQ job in every state.
func (s *Service) GetMetrics(ctx context.Context) (Metrics, error) {
	jobs, err := s.queue.List(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("dlq: listing jobs: %w", err)
	}

	m := Metrics{TopFailureReasons: []FailureReason{}}
	today := s.cfg.Now().UTC()
	reasons := make(map[string]int)

	for _, j := range jobs {
		ev, err := decodeEvent(j.Payload)
		if err != nil {
			s.logger.Warn("undecodable DLQ payload", "job_id", j.ID, "error", err)
			continue
		}
		m.TotalEvents++

		first := ev.FirstFailureTime.UTC()
		if sameUTCDate(first, today) {
			m.EventsToday++
		}
		if m.OldestEvent == nil || first.Before(*m.OldestEvent) {
			t := first
			m.OldestEvent = &t
		}
		if m.NewestEvent == nil || first.After(*m.NewestEvent) {
			t := first
			m.NewestEvent = &t
		}
		if ev.FailureReason != "" {
			reasons[ev.FailureReason]++
		}
	}

	for reason, count := range reasons {
		m.TopFailureReasons = append(m.TopFailureReasons, FailureReason{Reason: reason, Count: count})
	}
	sort.Slice(m.TopFailureReasons, func(i, k int) bool {
		a, b := m.TopFailureReasons[i], m.TopFailureReasons[k]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Reason < b.Reason
	})
	if len(m.TopFailureReasons) > 10 {
		m.TopFailureReasons = m.TopFailureReasons[:10]
	}

	return m, nil
}

// OnAlert registers a callback invoked when the alert threshold trips.
// Callbacks run sequentially in registration order. The returned func
// deregisters the callback.
func (s *Service) OnAlert(fn AlertFunc) func() {
	s.alertMu.Lock()
	defer s.alertMu.Unlock()

	s.alertSeq++
	id := s.alertSeq
	s.callbacks = append(s.callbacks, alertEntry{id: id, fn: fn})

	return func() {
		s.alertMu.Lock()
		defer s.alertMu.Unlock()
		for i, e := range s.callbacks {
			if e.id == id {
				s.callbacks = append(s.callbacks[:i], s.callbacks[i+1:]...)
				return
			}
		}
	}
}

// checkAlerts fires registered callbacks when the queue crossed the
// threshold and the cooldown elapsed. Callback panics and errors are
// isolated: they never propagate to the enqueue path.
func (s *Service) checkAlerts(ctx context.Context) {
	metrics, err := s.GetMetrics(ctx)
	if err != nil {
		s.logger.Error("alert metrics failed", "error", err)
		return
	}
	if metrics.TotalEvents < s.cfg.AlertThreshold {
		return
	}

	now := s.cfg.Now().UTC()

	s.alertMu.Lock()
	if !s.lastAlertTime.IsZero() && now.Sub(s.lastAlertTime) < s.cfg.AlertCooldown {
		s.alertMu.Unlock()
		return
	}
	s.lastAlertTime = now
	callbacks := make([]alertEntry, len(s.callbacks))
	copy(callbacks, s.callbacks)
	s.alertMu.Unlock()

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.DLQAlertsFired.Inc()
	}
	s.logger.Warn("DLQ alert threshold reached",
		"total_events", metrics.TotalEvents,
		"threshold", s.cfg.AlertThreshold,
	)

	for _, e := range callbacks {
		s.invokeAlert(e, metrics)
	}
}

func (s *Service) invokeAlert(e alertEntry, metrics Metrics) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("alert callback panicked", "callback_id", e.id, "panic", r)
		}
	}()
	e.fn(metrics)
}

func decodeEvent(payload []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func sameUTCDate(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
