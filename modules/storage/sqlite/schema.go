package sqlite

import (
	"database/sql"
	"fmt"
)

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS destination_health (
		destination_id        TEXT PRIMARY KEY,
		organization_id       TEXT NOT NULL DEFAULT '',
		status                TEXT NOT NULL DEFAULT 'healthy',
		consecutive_failures  INTEGER NOT NULL DEFAULT 0,
		consecutive_successes INTEGER NOT NULL DEFAULT 0,
		total_deliveries      INTEGER NOT NULL DEFAULT 0,
		total_failures        INTEGER NOT NULL DEFAULT 0,
		last_success_at       TEXT,
		last_failure_at       TEXT,
		last_error            TEXT NOT NULL DEFAULT '',
		circuit_state         TEXT NOT NULL DEFAULT 'closed',
		circuit_opened_at     TEXT,
		disabled_at           TEXT,
		disabled_reason       TEXT NOT NULL DEFAULT '',
		avg_response_time_ms  REAL NOT NULL DEFAULT 0
	)`,

	`CREATE INDEX IF NOT EXISTS idx_destination_health_status
		ON destination_health(status)`,

	`CREATE TABLE IF NOT EXISTS destinations (
		destination_id  TEXT PRIMARY KEY,
		disabled        INTEGER NOT NULL DEFAULT 0,
		disabled_reason TEXT NOT NULL DEFAULT '',
		disabled_by     TEXT NOT NULL DEFAULT '',
		updated_at      TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		id                  TEXT PRIMARY KEY,
		ts                  TEXT NOT NULL,
		principal_id        TEXT NOT NULL DEFAULT '',
		organization_id     TEXT NOT NULL DEFAULT '',
		action              TEXT NOT NULL DEFAULT '',
		data_classification TEXT NOT NULL DEFAULT '',
		retention_policy    TEXT NOT NULL DEFAULT '',
		archived_at         TEXT,
		extras              TEXT NOT NULL DEFAULT '{}'
	)`,

	`CREATE INDEX IF NOT EXISTS idx_audit_log_retention
		ON audit_log(retention_policy, data_classification, ts)`,

	`CREATE TABLE IF NOT EXISTS audit_archives (
		id                TEXT PRIMARY KEY,
		metadata          TEXT NOT NULL,
		data              BLOB NOT NULL,
		created_at        TEXT NOT NULL,
		retrieved_count   INTEGER NOT NULL DEFAULT 0,
		last_retrieved_at TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS retention_policies (
		policy_name         TEXT PRIMARY KEY,
		data_classification TEXT NOT NULL,
		archive_after_days  INTEGER NOT NULL,
		delete_after_days   INTEGER NOT NULL DEFAULT 0,
		is_active           INTEGER NOT NULL DEFAULT 1
	)`,
}

// migrate applies the schema statements.
func migrate(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlite: applying schema: %w", err)
		}
	}
	return nil
}
