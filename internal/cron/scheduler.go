package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the retention jobs (archival sweep, archive cleanup, DLQ
// aging) on their cron schedules. Each job is guarded by a TryLock so a
// long-running sweep skips ticks instead of stacking; run/skip counts and
// the last error are kept per job for the ops surface.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	order   []string
	entries map[string]*jobEntry
	logger  *slog.Logger
	cancel  context.CancelFunc
}

// jobEntry pairs a job with its run guard and statistics.
type jobEntry struct {
	job Job

	// runMu serialises executions of this job. TryLock is atomic, so a
	// tick firing mid-run skips instead of blocking the cron goroutine.
	runMu sync.Mutex

	statsMu   sync.Mutex
	runs      int
	skipped   int
	lastRun   time.Time
	lastError string
}

// JobStatus is a snapshot of one scheduled job.
type JobStatus struct {
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	Runs      int       `json:"runs"`
	Skipped   int       `json:"skipped"`
	LastRun   time.Time `json:"lastRun,omitzero"`
	LastError string    `json:"lastError,omitempty"`
}

// NewScheduler creates a scheduler. Jobs must be registered before Start().
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		entries: make(map[string]*jobEntry),
		logger:  logger.With("component", "cron"),
	}
}

// RegisterJob adds a job to the scheduler. Must be called before Start().
// Returns an error if a job with the same name is already registered.
func (s *Scheduler) RegisterJob(j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := j.Name()
	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("cron: duplicate job name %q", name)
	}
	s.entries[name] = &jobEntry{job: j}
	s.order = append(s.order, name)
	return nil
}

// Start initializes the cron runner and begins executing registered jobs.
// Returns an error if any job has an invalid schedule expression.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	s.cron = cron.New(cron.WithParser(parser))

	for _, name := range s.order {
		entry := s.entries[name]
		if _, err := s.cron.AddFunc(entry.job.Schedule(), func() {
			s.runEntry(ctx, entry)
		}); err != nil {
			cancel()
			return fmt.Errorf("cron: invalid schedule for job %q: %w", entry.job.Name(), err)
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.order))
	return nil
}

// runEntry executes one job run under its guard, recording the outcome.
// A panicking job (a retention sweep tripping over a poison row, say) is
// contained: the scheduler and the other jobs keep running.
func (s *Scheduler) runEntry(ctx context.Context, entry *jobEntry) {
	name := entry.job.Name()

	if !entry.runMu.TryLock() {
		entry.statsMu.Lock()
		entry.skipped++
		entry.statsMu.Unlock()
		s.logger.Warn("job still running, skipping tick", "job", name)
		return
	}
	defer entry.runMu.Unlock()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("cron: job %q panicked: %v", name, r)
			}
		}()
		err = entry.job.Run(ctx)
	}()

	entry.statsMu.Lock()
	entry.runs++
	entry.lastRun = time.Now().UTC()
	entry.lastError = ""
	if err != nil {
		entry.lastError = err.Error()
	}
	entry.statsMu.Unlock()

	if err != nil {
		s.logger.Error("job failed", "job", name, "error", err)
	} else {
		s.logger.Debug("job completed", "job", name)
	}
}

// RunNow triggers one job outside its schedule (manual retention sweeps,
// tests). Returns an error for unknown jobs; a run already in flight is
// skipped and counted, same as a tick.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	entry, ok := s.entries[name]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("cron: unknown job %q", name)
	}
	s.runEntry(ctx, entry)
	return nil
}

// Statuses returns a snapshot of every job in registration order.
func (s *Scheduler) Statuses() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.order))
	for _, name := range s.order {
		entry := s.entries[name]
		entry.statsMu.Lock()
		out = append(out, JobStatus{
			Name:      name,
			Schedule:  entry.job.Schedule(),
			Runs:      entry.runs,
			Skipped:   entry.skipped,
			LastRun:   entry.lastRun,
			LastError: entry.lastError,
		})
		entry.statsMu.Unlock()
	}
	return out
}

// Stop gracefully shuts down the scheduler, waiting for in-flight jobs.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.logger.Info("scheduler stopped")
	}
	return nil
}
