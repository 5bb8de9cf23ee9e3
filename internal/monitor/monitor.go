// Package monitor runs the periodic scanner that reconciles destination
// health with circuit-breaker state: open circuits past their hold move to
// half-open so the next delivery can probe the destination.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/smedrec/smart-logs/internal/health"
)

// Sentinel errors for monitor lifecycle operations.
var (
	ErrAlreadyStarted = errors.New("monitor: already started")
	ErrNotStarted     = errors.New("monitor: not started")
)

// HealthScanner is the subset of the health tracker the monitor needs.
// Defined here so the monitor can be tested against a fake.
type HealthScanner interface {
	Unhealthy(ctx context.Context) ([]*health.Health, error)
	PromoteHalfOpen(ctx context.Context, destinationID string) (bool, error)
}

// Config holds monitor configuration.
type Config struct {
	Interval time.Duration // scan period (default 300s)
	Logger   *slog.Logger
	Now      func() time.Time // injectable for testing
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Monitor runs a dedicated goroutine that periodically scans unhealthy
// destinations.
type Monitor struct {
	cfg     Config
	scanner HealthScanner
	logger  *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Monitor over the given scanner.
func New(cfg Config, scanner HealthScanner) (*Monitor, error) {
	if scanner == nil {
		return nil, errors.New("monitor: nil HealthScanner")
	}
	cfg = cfg.withDefaults()
	return &Monitor{
		cfg:     cfg,
		scanner: scanner,
		logger:  cfg.Logger.With("component", "monitor"),
	}, nil
}

// Start begins the scan loop. Returns ErrAlreadyStarted if called twice.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return ErrAlreadyStarted
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.run(ctx)
	return nil
}

// Stop cancels the loop. No scans execute after Stop returns.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return ErrNotStarted
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Scan(ctx)
		}
	}
}

// Scan runs one reconciliation pass. Exported so cron wiring and tests can
// trigger it directly.
func (m *Monitor) Scan(ctx context.Context) {
	destinations, err := m.scanner.Unhealthy(ctx)
	if err != nil {
		m.logger.Error("unhealthy destination scan failed", "error", err)
		return
	}

	for _, h := range destinations {
		if ctx.Err() != nil {
			return
		}

		m.logger.Warn("destination unhealthy",
			"destination_id", h.DestinationID,
			"consecutive_failures", h.ConsecutiveFailures,
			"circuit_state", string(h.CircuitState),
			"last_error", h.LastError,
		)

		if h.CircuitState != health.CircuitOpen {
			continue
		}
		promoted, err := m.scanner.PromoteHalfOpen(ctx, h.DestinationID)
		if err != nil {
			m.logger.Error("half-open promotion failed",
				"destination_id", h.DestinationID, "error", err)
			continue
		}
		if promoted {
			m.logger.Info("circuit promoted to half-open",
				"destination_id", h.DestinationID)
		}
	}
}
