package dlq

import (
	"context"
	"errors"
	"time"

	"github.com/smedrec/smart-logs/internal/queue"
)

// day is the granularity retention ages are measured in.
const day = 24 * time.Hour

// StartWorker launches the single DLQ processor goroutine (concurrency 1,
// FIFO). Returns an error if the worker is already running.
func (s *Service) StartWorker(ctx context.Context) error {
	s.workerMu.Lock()
	defer s.workerMu.Unlock()

	if s.cancel != nil {
		return errors.New("dlq: worker already started")
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx)
	return nil
}

// StopWorker stops the processor and waits for the in-flight job.
func (s *Service) StopWorker(ctx context.Context) error {
	s.workerMu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.workerMu.Unlock()

	if cancel == nil {
		return errors.New("dlq: worker not started")
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := s.queue.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, queue.ErrEmpty) && !errors.Is(err, context.Canceled) {
				s.logger.Error("dequeue failed", "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.PollInterval):
			}
			continue
		}

		s.processJob(ctx, job)
	}
}

// processJob applies the aging policy to one job and settles it.
func (s *Service) processJob(ctx context.Context, job *queue.Job) {
	ev, err := decodeEvent(job.Payload)
	if err != nil {
		s.logger.Error("poison DLQ job", "job_id", job.ID, "error", err)
		if ferr := s.queue.Fail(ctx, job.ID, "undecodable payload: "+err.Error()); ferr != nil {
			s.logger.Error("fail job", "job_id", job.ID, "error", ferr)
		}
		return
	}

	action, err := s.ageEvent(ctx, job.ID, ev)
	if err != nil {
		s.logger.Error("DLQ job processing failed", "job_id", job.ID, "error", err)
		if ferr := s.queue.Fail(ctx, job.ID, err.Error()); ferr != nil {
			s.logger.Error("fail job", "job_id", job.ID, "error", ferr)
		}
		return
	}

	s.logger.Info("DLQ event processed",
		"job_id", job.ID,
		"action", action,
		"failure_reason", ev.FailureReason,
		"failure_count", ev.FailureCount,
	)
}

// ageEvent decides what happens to an event based on its age and settles the
// job accordingly. Returns the action taken.
func (s *Service) ageEvent(ctx context.Context, jobID string, ev *Event) (string, error) {
	ageDays := float64(s.cfg.Now().UTC().Sub(ev.FirstFailureTime)) / float64(day)

	if s.cfg.ArchiveAfterDays > 0 && ageDays > float64(s.cfg.ArchiveAfterDays) && s.sink != nil {
		if err := s.sink.ArchiveDeadLetter(ctx, ev); err != nil {
			return "", err
		}
		if err := s.queue.Complete(ctx, jobID, true); err != nil {
			return "", err
		}
		return "archived", nil
	}

	if ageDays > float64(s.cfg.MaxRetentionDays) {
		if err := s.queue.Complete(ctx, jobID, true); err != nil {
			return "", err
		}
		return "removed", nil
	}

	// Preserve for forensic analysis.
	if err := s.queue.Complete(ctx, jobID, false); err != nil {
		return "", err
	}
	return "retained", nil
}

// SweepAged re-applies the aging policy to preserved (completed) jobs.
// The worker settles jobs as they arrive; this sweep moves old survivors
// into the archive or out of the queue. Wired to the cron scheduler.
func (s *Service) SweepAged(ctx context.Context) (archived, removed int, err error) {
	jobs, err := s.queue.List(ctx, queue.StateCompleted, queue.StateFailed)
	if err != nil {
		return 0, 0, err
	}

	for _, job := range jobs {
		ev, derr := decodeEvent(job.Payload)
		if derr != nil {
			s.logger.Warn("skipping undecodable job in sweep", "job_id", job.ID, "error", derr)
			continue
		}

		ageDays := float64(s.cfg.Now().UTC().Sub(ev.FirstFailureTime)) / float64(day)

		switch {
		case s.cfg.ArchiveAfterDays > 0 && ageDays > float64(s.cfg.ArchiveAfterDays) && s.sink != nil:
			if aerr := s.sink.ArchiveDeadLetter(ctx, ev); aerr != nil {
				s.logger.Error("sweep archive failed", "job_id", job.ID, "error", aerr)
				continue
			}
			if rerr := s.queue.Remove(ctx, job.ID); rerr != nil {
				s.logger.Error("sweep remove failed", "job_id", job.ID, "error", rerr)
				continue
			}
			archived++
		case ageDays > float64(s.cfg.MaxRetentionDays):
			if rerr := s.queue.Remove(ctx, job.ID); rerr != nil {
				s.logger.Error("sweep remove failed", "job_id", job.ID, "error", rerr)
				continue
			}
			removed++
		}
	}

	if archived > 0 || removed > 0 {
		s.logger.Info("DLQ sweep finished", "archived", archived, "removed", removed)
	}
	return archived, removed, nil
}
