package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS destination_health (
		destination_id           TEXT PRIMARY KEY,
		organization_id          TEXT NOT NULL DEFAULT '',
		status                   TEXT NOT NULL DEFAULT 'healthy',
		consecutive_failures     INTEGER NOT NULL DEFAULT 0,
		consecutive_successes    INTEGER NOT NULL DEFAULT 0,
		total_deliveries         BIGINT NOT NULL DEFAULT 0,
		total_failures           BIGINT NOT NULL DEFAULT 0,
		last_success_at          TIMESTAMPTZ,
		last_failure_at          TIMESTAMPTZ,
		last_error               TEXT NOT NULL DEFAULT '',
		circuit_state            TEXT NOT NULL DEFAULT 'closed',
		circuit_opened_at        TIMESTAMPTZ,
		disabled_at              TIMESTAMPTZ,
		disabled_reason          TEXT NOT NULL DEFAULT '',
		avg_response_time_ms     DOUBLE PRECISION NOT NULL DEFAULT 0
	)`,

	`CREATE INDEX IF NOT EXISTS idx_destination_health_status
		ON destination_health(status)`,

	`CREATE TABLE IF NOT EXISTS destinations (
		destination_id  TEXT PRIMARY KEY,
		disabled        BOOLEAN NOT NULL DEFAULT FALSE,
		disabled_reason TEXT NOT NULL DEFAULT '',
		disabled_by     TEXT NOT NULL DEFAULT '',
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		id                  TEXT PRIMARY KEY,
		ts                  TIMESTAMPTZ NOT NULL,
		principal_id        TEXT NOT NULL DEFAULT '',
		organization_id     TEXT NOT NULL DEFAULT '',
		action              TEXT NOT NULL DEFAULT '',
		data_classification TEXT NOT NULL DEFAULT '',
		retention_policy    TEXT NOT NULL DEFAULT '',
		archived_at         TIMESTAMPTZ,
		extras              JSONB NOT NULL DEFAULT '{}'
	)`,

	`CREATE INDEX IF NOT EXISTS idx_audit_log_retention
		ON audit_log(retention_policy, data_classification, ts)
		WHERE archived_at IS NULL`,

	`CREATE INDEX IF NOT EXISTS idx_audit_log_principal
		ON audit_log(principal_id)`,

	`CREATE TABLE IF NOT EXISTS audit_archives (
		id                TEXT PRIMARY KEY,
		metadata          JSONB NOT NULL,
		data              BYTEA NOT NULL,
		created_at        TIMESTAMPTZ NOT NULL,
		retrieved_count   INTEGER NOT NULL DEFAULT 0,
		last_retrieved_at TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS retention_policies (
		policy_name         TEXT PRIMARY KEY,
		data_classification TEXT NOT NULL,
		archive_after_days  INTEGER NOT NULL,
		delete_after_days   INTEGER NOT NULL DEFAULT 0,
		is_active           BOOLEAN NOT NULL DEFAULT TRUE,
		CHECK (archive_after_days >= 0),
		CHECK (delete_after_days = 0 OR delete_after_days >= archive_after_days)
	)`,
}

// migrate applies the schema statements.
func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: applying schema: %w", err)
		}
	}
	return nil
}
