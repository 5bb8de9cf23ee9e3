package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smedrec/smart-logs/internal/health"
)

// HealthStore implements health.Store. Update serializes per destination
// with SELECT ... FOR UPDATE inside one transaction.
type HealthStore struct {
	pool *pgxpool.Pool
}

var _ health.Store = (*HealthStore)(nil)

const healthColumns = `destination_id, organization_id, status,
	consecutive_failures, consecutive_successes, total_deliveries, total_failures,
	last_success_at, last_failure_at, last_error,
	circuit_state, circuit_opened_at, disabled_at, disabled_reason,
	avg_response_time_ms`

func scanHealth(row pgx.Row) (*health.Health, error) {
	var h health.Health
	var status, circuitState string
	err := row.Scan(
		&h.DestinationID, &h.OrganizationID, &status,
		&h.ConsecutiveFailures, &h.ConsecutiveSuccesses, &h.TotalDeliveries, &h.TotalFailures,
		&h.LastSuccessAt, &h.LastFailureAt, &h.LastError,
		&circuitState, &h.CircuitOpenedAt, &h.DisabledAt, &h.DisabledReason,
		&h.AverageResponseTimeMs,
	)
	if err != nil {
		return nil, err
	}
	h.Status = health.Status(status)
	h.CircuitState = health.CircuitState(circuitState)
	return &h, nil
}

// Find implements health.Store.
func (s *HealthStore) Find(ctx context.Context, destinationID string) (*health.Health, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+healthColumns+` FROM destination_health WHERE destination_id = $1`,
		destinationID)
	h, err := scanHealth(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, health.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: finding health %s: %w", destinationID, err)
	}
	return h, nil
}

// Update implements health.Store. The row lock makes fn atomic per
// destination; rows for different destinations never contend.
func (s *HealthStore) Update(ctx context.Context, destinationID string, fn func(h *health.Health) error) (*health.Health, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin health update: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Ensure the row exists so FOR UPDATE has something to lock.
	if _, err := tx.Exec(ctx,
		`INSERT INTO destination_health (destination_id)
		 VALUES ($1) ON CONFLICT (destination_id) DO NOTHING`,
		destinationID); err != nil {
		return nil, fmt.Errorf("postgres: seeding health row %s: %w", destinationID, err)
	}

	row := tx.QueryRow(ctx,
		`SELECT `+healthColumns+` FROM destination_health
		 WHERE destination_id = $1 FOR UPDATE`,
		destinationID)
	h, err := scanHealth(row)
	if err != nil {
		return nil, fmt.Errorf("postgres: locking health row %s: %w", destinationID, err)
	}

	if err := fn(h); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE destination_health SET
			organization_id = $2, status = $3,
			consecutive_failures = $4, consecutive_successes = $5,
			total_deliveries = $6, total_failures = $7,
			last_success_at = $8, last_failure_at = $9, last_error = $10,
			circuit_state = $11, circuit_opened_at = $12,
			disabled_at = $13, disabled_reason = $14,
			avg_response_time_ms = $15
		 WHERE destination_id = $1`,
		h.DestinationID, h.OrganizationID, string(h.Status),
		h.ConsecutiveFailures, h.ConsecutiveSuccesses,
		h.TotalDeliveries, h.TotalFailures,
		h.LastSuccessAt, h.LastFailureAt, h.LastError,
		string(h.CircuitState), h.CircuitOpenedAt,
		h.DisabledAt, h.DisabledReason,
		h.AverageResponseTimeMs,
	); err != nil {
		return nil, fmt.Errorf("postgres: writing health row %s: %w", destinationID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: committing health update %s: %w", destinationID, err)
	}
	return h, nil
}

// Unhealthy implements health.Store.
func (s *HealthStore) Unhealthy(ctx context.Context) ([]*health.Health, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+healthColumns+` FROM destination_health WHERE status = $1`,
		string(health.StatusUnhealthy))
	if err != nil {
		return nil, fmt.Errorf("postgres: listing unhealthy destinations: %w", err)
	}
	defer rows.Close()

	var out []*health.Health
	for rows.Next() {
		h, err := scanHealth(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scanning health row: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// DestinationStore implements health.DestinationDisabler on the
// destinations table.
type DestinationStore struct {
	pool *pgxpool.Pool
}

var _ health.DestinationDisabler = (*DestinationStore)(nil)

// SetDisabled implements health.DestinationDisabler.
func (s *DestinationStore) SetDisabled(ctx context.Context, destinationID string, disabled bool, reason, actor string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO destinations (destination_id, disabled, disabled_reason, disabled_by, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (destination_id) DO UPDATE SET
			disabled = EXCLUDED.disabled,
			disabled_reason = EXCLUDED.disabled_reason,
			disabled_by = EXCLUDED.disabled_by,
			updated_at = NOW()`,
		destinationID, disabled, reason, actor)
	if err != nil {
		return fmt.Errorf("postgres: setting destination %s disabled=%v: %w", destinationID, disabled, err)
	}
	return nil
}

// IsDisabled reports the stored kill-switch state.
func (s *DestinationStore) IsDisabled(ctx context.Context, destinationID string) (bool, error) {
	var disabled bool
	err := s.pool.QueryRow(ctx,
		`SELECT disabled FROM destinations WHERE destination_id = $1`,
		destinationID).Scan(&disabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("postgres: reading destination %s: %w", destinationID, err)
	}
	return disabled, nil
}
