package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/smedrec/smart-logs/internal/dlq"
	"github.com/smedrec/smart-logs/internal/health"
	"github.com/smedrec/smart-logs/pkg/audit"
)

// Pipeline is the full delivery path for one event: admission check, driver
// attempt with bounded retries, outcome recording, and DLQ quarantine when
// retries are exhausted.
type Pipeline struct {
	dispatcher *Dispatcher
	tracker    *health.Tracker
	deadLetter *dlq.Service
	cfg        PipelineConfig
	logger     *slog.Logger
}

// PipelineConfig holds the retry settings.
type PipelineConfig struct {
	MaxAttempts int           // attempts per event before quarantine (default 3)
	RetryDelay  time.Duration // flat delay between attempts (default 1s)

	Logger *slog.Logger
	Now    func() time.Time // injectable for testing
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// NewPipeline assembles a delivery pipeline. deadLetter may be nil, in which
// case exhausted events only surface as errors.
func NewPipeline(dispatcher *Dispatcher, tracker *health.Tracker, deadLetter *dlq.Service, cfg PipelineConfig) *Pipeline {
	cfg = cfg.withDefaults()
	return &Pipeline{
		dispatcher: dispatcher,
		tracker:    tracker,
		deadLetter: deadLetter,
		cfg:        cfg,
		logger:     cfg.Logger.With("component", "delivery"),
	}
}

// Deliver pushes one event to a destination. Admission is checked before
// every attempt; each outcome feeds the health tracker. When every attempt
// fails the event is quarantined with its retry history and the last error
// is returned.
func (p *Pipeline) Deliver(ctx context.Context, dest Destination, event audit.Record) error {
	var history []dlq.RetryAttempt
	var lastErr error

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}

		if !p.tracker.ShouldAllowDelivery(ctx, dest.ID) {
			lastErr = fmt.Errorf("%w: destination %s", ErrAdmissionDenied, dest.ID)
			break
		}

		start := p.cfg.Now()
		err := p.dispatcher.deliver(ctx, dest, event)
		elapsed := p.cfg.Now().Sub(start)

		if err == nil {
			if _, rerr := p.tracker.RecordSuccess(ctx, dest.ID, elapsed); rerr != nil {
				p.logger.Warn("recording delivery success failed",
					"destination_id", dest.ID, "error", rerr)
			}
			return nil
		}

		lastErr = err
		history = append(history, dlq.RetryAttempt{
			Attempt:   attempt,
			Timestamp: p.cfg.Now().UTC(),
			Error:     err.Error(),
		})
		if _, rerr := p.tracker.RecordFailure(ctx, dest.ID, err.Error()); rerr != nil {
			p.logger.Warn("recording delivery failure failed",
				"destination_id", dest.ID, "error", rerr)
		}

		if attempt < p.cfg.MaxAttempts {
			select {
			case <-ctx.Done():
			case <-time.After(p.cfg.RetryDelay):
			}
		}
	}

	if p.deadLetter != nil && len(history) > 0 {
		if _, qerr := p.deadLetter.AddFailedEvent(ctx, event, lastErr, "", dest.ID, history); qerr != nil {
			// Losing the event entirely: surface the critical error instead
			// of the delivery failure.
			return qerr
		}
		p.logger.Warn("event quarantined after exhausted retries",
			"destination_id", dest.ID,
			"event_id", event.ID,
			"attempts", len(history),
		)
	}

	return fmt.Errorf("delivery: destination %s: %w", dest.ID, lastErr)
}
