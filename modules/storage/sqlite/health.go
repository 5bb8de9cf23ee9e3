package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/smedrec/smart-logs/internal/health"
)

// HealthStore implements health.Store. SQLite's single write connection
// already serialises writers; the per-destination mutex additionally makes
// the read-modify-write in Update atomic per destination.
type HealthStore struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

var _ health.Store = (*HealthStore)(nil)

func (s *HealthStore) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks == nil {
		s.locks = make(map[string]*sync.Mutex)
	}
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

const healthColumns = `destination_id, organization_id, status,
	consecutive_failures, consecutive_successes, total_deliveries, total_failures,
	last_success_at, last_failure_at, last_error,
	circuit_state, circuit_opened_at, disabled_at, disabled_reason,
	avg_response_time_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHealth(row rowScanner) (*health.Health, error) {
	var h health.Health
	var status, circuitState string
	var lastSuccess, lastFailure, openedAt, disabledAt sql.NullString

	err := row.Scan(
		&h.DestinationID, &h.OrganizationID, &status,
		&h.ConsecutiveFailures, &h.ConsecutiveSuccesses, &h.TotalDeliveries, &h.TotalFailures,
		&lastSuccess, &lastFailure, &h.LastError,
		&circuitState, &openedAt, &disabledAt, &h.DisabledReason,
		&h.AverageResponseTimeMs,
	)
	if err != nil {
		return nil, err
	}
	h.Status = health.Status(status)
	h.CircuitState = health.CircuitState(circuitState)

	if h.LastSuccessAt, err = parseTimePtr(lastSuccess); err != nil {
		return nil, err
	}
	if h.LastFailureAt, err = parseTimePtr(lastFailure); err != nil {
		return nil, err
	}
	if h.CircuitOpenedAt, err = parseTimePtr(openedAt); err != nil {
		return nil, err
	}
	if h.DisabledAt, err = parseTimePtr(disabledAt); err != nil {
		return nil, err
	}
	return &h, nil
}

// Find implements health.Store.
func (s *HealthStore) Find(ctx context.Context, destinationID string) (*health.Health, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+healthColumns+` FROM destination_health WHERE destination_id = ?`,
		destinationID)
	h, err := scanHealth(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, health.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: finding health %s: %w", destinationID, err)
	}
	return h, nil
}

// Update implements health.Store.
func (s *HealthStore) Update(ctx context.Context, destinationID string, fn func(h *health.Health) error) (*health.Health, error) {
	l := s.lockFor(destinationID)
	l.Lock()
	defer l.Unlock()

	h, err := s.Find(ctx, destinationID)
	if errors.Is(err, health.ErrNotFound) {
		h = health.NewRecord(destinationID)
	} else if err != nil {
		return nil, err
	}

	if err := fn(h); err != nil {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO destination_health (`+healthColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.DestinationID, h.OrganizationID, string(h.Status),
		h.ConsecutiveFailures, h.ConsecutiveSuccesses, h.TotalDeliveries, h.TotalFailures,
		fmtTimePtr(h.LastSuccessAt), fmtTimePtr(h.LastFailureAt), h.LastError,
		string(h.CircuitState), fmtTimePtr(h.CircuitOpenedAt),
		fmtTimePtr(h.DisabledAt), h.DisabledReason,
		h.AverageResponseTimeMs,
	); err != nil {
		return nil, fmt.Errorf("sqlite: writing health row %s: %w", destinationID, err)
	}
	return h, nil
}

// Unhealthy implements health.Store.
func (s *HealthStore) Unhealthy(ctx context.Context) ([]*health.Health, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+healthColumns+` FROM destination_health WHERE status = ?`,
		string(health.StatusUnhealthy))
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing unhealthy destinations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*health.Health
	for rows.Next() {
		h, err := scanHealth(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning health row: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// DestinationStore implements health.DestinationDisabler.
type DestinationStore struct {
	db *sql.DB
}

var _ health.DestinationDisabler = (*DestinationStore)(nil)

// SetDisabled implements health.DestinationDisabler.
func (s *DestinationStore) SetDisabled(ctx context.Context, destinationID string, disabled bool, reason, actor string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO destinations (destination_id, disabled, disabled_reason, disabled_by)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (destination_id) DO UPDATE SET
			disabled = excluded.disabled,
			disabled_reason = excluded.disabled_reason,
			disabled_by = excluded.disabled_by,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')`,
		destinationID, disabled, reason, actor)
	if err != nil {
		return fmt.Errorf("sqlite: setting destination %s disabled=%v: %w", destinationID, disabled, err)
	}
	return nil
}
