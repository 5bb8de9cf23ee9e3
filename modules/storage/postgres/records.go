package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smedrec/smart-logs/internal/archive"
	"github.com/smedrec/smart-logs/pkg/audit"
)

// RecordStore implements archive.RecordStore on the audit_log table.
type RecordStore struct {
	pool *pgxpool.Pool
}

var _ archive.RecordStore = (*RecordStore)(nil)

const recordColumns = `id, ts, principal_id, organization_id, action,
	data_classification, retention_policy, archived_at, extras`

func scanRecord(row pgx.Row) (audit.Record, error) {
	var rec audit.Record
	var extras []byte
	err := row.Scan(
		&rec.ID, &rec.Timestamp, &rec.PrincipalID, &rec.OrganizationID, &rec.Action,
		&rec.DataClassification, &rec.RetentionPolicy, &rec.ArchivedAt, &extras,
	)
	if err != nil {
		return audit.Record{}, err
	}
	if len(extras) > 0 && string(extras) != "{}" {
		if err := json.Unmarshal(extras, &rec.Extras); err != nil {
			return audit.Record{}, fmt.Errorf("postgres: decoding extras for %s: %w", rec.ID, err)
		}
	}
	return rec, nil
}

// Insert stores live audit records (ingestion and test seeding).
func (s *RecordStore) Insert(ctx context.Context, records ...audit.Record) error {
	for _, rec := range records {
		extras, err := json.Marshal(rec.Extras)
		if err != nil {
			return fmt.Errorf("postgres: encoding extras for %s: %w", rec.ID, err)
		}
		if rec.Extras == nil {
			extras = []byte("{}")
		}
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO audit_log (`+recordColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (id) DO NOTHING`,
			rec.ID, rec.Timestamp, rec.PrincipalID, rec.OrganizationID, rec.Action,
			rec.DataClassification, rec.RetentionPolicy, rec.ArchivedAt, extras,
		); err != nil {
			return fmt.Errorf("postgres: inserting record %s: %w", rec.ID, err)
		}
	}
	return nil
}

// SelectForArchival implements archive.RecordStore.
func (s *RecordStore) SelectForArchival(ctx context.Context, classification audit.DataClassification, policy string, cutoff time.Time) ([]audit.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM audit_log
		 WHERE data_classification = $1
		   AND retention_policy = $2
		   AND archived_at IS NULL
		   AND ts < $3
		 ORDER BY ts`,
		classification, policy, cutoff)
	if err != nil {
		return nil, fmt.Errorf("postgres: selecting records for archival: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func collectRecords(rows pgx.Rows) ([]audit.Record, error) {
	var out []audit.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scanning record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkArchived implements archive.RecordStore.
func (s *RecordStore) MarkArchived(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx,
		`UPDATE audit_log SET archived_at = $1 WHERE id = ANY($2)`,
		at, ids); err != nil {
		return fmt.Errorf("postgres: marking records archived: %w", err)
	}
	return nil
}

// DeleteOlderThan implements archive.RecordStore.
func (s *RecordStore) DeleteOlderThan(ctx context.Context, policy string, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM audit_log WHERE retention_policy = $1 AND ts < $2`,
		policy, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: purging records for policy %s: %w", policy, err)
	}
	return int(tag.RowsAffected()), nil
}

// SelectByCriteria implements archive.RecordStore.
func (s *RecordStore) SelectByCriteria(ctx context.Context, c archive.DeleteCriteria) ([]audit.Record, error) {
	where, args := criteriaClauses(c)
	query := `SELECT ` + recordColumns + ` FROM audit_log`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY ts`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: selecting records by criteria: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// criteriaClauses renders DeleteCriteria as WHERE fragments with positional
// arguments.
func criteriaClauses(c archive.DeleteCriteria) ([]string, []any) {
	var where []string
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if c.PrincipalID != "" {
		where = append(where, "principal_id = "+arg(c.PrincipalID))
	}
	if c.OrganizationID != "" {
		where = append(where, "organization_id = "+arg(c.OrganizationID))
	}
	if c.DateRange != nil {
		where = append(where, "ts >= "+arg(c.DateRange.Start))
		where = append(where, "ts <= "+arg(c.DateRange.End))
	}
	if len(c.DataClassifications) > 0 {
		classifications := make([]string, len(c.DataClassifications))
		for i, cl := range c.DataClassifications {
			classifications[i] = string(cl)
		}
		where = append(where, "data_classification = ANY("+arg(classifications)+")")
	}
	if len(c.RetentionPolicies) > 0 {
		where = append(where, "retention_policy = ANY("+arg(c.RetentionPolicies)+")")
	}
	return where, args
}

// DeleteByIDs implements archive.RecordStore.
func (s *RecordStore) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM audit_log WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("postgres: deleting records: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// CountByIDs implements archive.RecordStore.
func (s *RecordStore) CountByIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_log WHERE id = ANY($1)`, ids).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: counting records: %w", err)
	}
	return count, nil
}
