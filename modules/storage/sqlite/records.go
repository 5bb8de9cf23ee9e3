package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/smedrec/smart-logs/internal/archive"
	"github.com/smedrec/smart-logs/pkg/audit"
)

// RecordStore implements archive.RecordStore on the audit_log table.
type RecordStore struct {
	db *sql.DB
}

var _ archive.RecordStore = (*RecordStore)(nil)

const recordColumns = `id, ts, principal_id, organization_id, action,
	data_classification, retention_policy, archived_at, extras`

func scanRecord(row rowScanner) (audit.Record, error) {
	var rec audit.Record
	var ts string
	var archivedAt sql.NullString
	var extras string

	err := row.Scan(
		&rec.ID, &ts, &rec.PrincipalID, &rec.OrganizationID, &rec.Action,
		&rec.DataClassification, &rec.RetentionPolicy, &archivedAt, &extras,
	)
	if err != nil {
		return audit.Record{}, err
	}

	if rec.Timestamp, err = parseTime(ts); err != nil {
		return audit.Record{}, fmt.Errorf("sqlite: parsing record timestamp: %w", err)
	}
	if rec.ArchivedAt, err = parseTimePtr(archivedAt); err != nil {
		return audit.Record{}, fmt.Errorf("sqlite: parsing archived_at: %w", err)
	}
	if extras != "" && extras != "{}" {
		if err := json.Unmarshal([]byte(extras), &rec.Extras); err != nil {
			return audit.Record{}, fmt.Errorf("sqlite: decoding extras for %s: %w", rec.ID, err)
		}
	}
	return rec, nil
}

// Insert stores live audit records (ingestion and test seeding).
func (s *RecordStore) Insert(ctx context.Context, records ...audit.Record) error {
	for _, rec := range records {
		extras := "{}"
		if rec.Extras != nil {
			raw, err := json.Marshal(rec.Extras)
			if err != nil {
				return fmt.Errorf("sqlite: encoding extras for %s: %w", rec.ID, err)
			}
			extras = string(raw)
		}
		if _, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO audit_log (`+recordColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, fmtTime(rec.Timestamp), rec.PrincipalID, rec.OrganizationID, rec.Action,
			rec.DataClassification, rec.RetentionPolicy, fmtTimePtr(rec.ArchivedAt), extras,
		); err != nil {
			return fmt.Errorf("sqlite: inserting record %s: %w", rec.ID, err)
		}
	}
	return nil
}

// SelectForArchival implements archive.RecordStore.
func (s *RecordStore) SelectForArchival(ctx context.Context, classification audit.DataClassification, policy string, cutoff time.Time) ([]audit.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM audit_log
		WHERE data_classification = ?
		  AND retention_policy = ?
		  AND archived_at IS NULL
		  AND ts < ?
		ORDER BY ts`,
		classification, policy, fmtTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("sqlite: selecting records for archival: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectRecords(rows)
}

func collectRecords(rows *sql.Rows) ([]audit.Record, error) {
	var out []audit.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
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
	query, args := inClause(`UPDATE audit_log SET archived_at = ? WHERE id IN `, ids)
	args = append([]any{fmtTime(at)}, args...)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("sqlite: marking records archived: %w", err)
	}
	return nil
}

// inClause renders "prefix (?, ?, ...)" with matching args.
func inClause(prefix string, ids []string) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return prefix + "(" + strings.Join(placeholders, ", ") + ")", args
}

// DeleteOlderThan implements archive.RecordStore.
func (s *RecordStore) DeleteOlderThan(ctx context.Context, policy string, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_log WHERE retention_policy = ? AND ts < ?`,
		policy, fmtTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("sqlite: purging records for policy %s: %w", policy, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// SelectByCriteria implements archive.RecordStore.
func (s *RecordStore) SelectByCriteria(ctx context.Context, c archive.DeleteCriteria) ([]audit.Record, error) {
	var where []string
	var args []any

	if c.PrincipalID != "" {
		where = append(where, "principal_id = ?")
		args = append(args, c.PrincipalID)
	}
	if c.OrganizationID != "" {
		where = append(where, "organization_id = ?")
		args = append(args, c.OrganizationID)
	}
	if c.DateRange != nil {
		where = append(where, "ts >= ?", "ts <= ?")
		args = append(args, fmtTime(c.DateRange.Start), fmtTime(c.DateRange.End))
	}
	if len(c.DataClassifications) > 0 {
		placeholders := make([]string, len(c.DataClassifications))
		for i, cl := range c.DataClassifications {
			placeholders[i] = "?"
			args = append(args, string(cl))
		}
		where = append(where, "data_classification IN ("+strings.Join(placeholders, ", ")+")")
	}
	if len(c.RetentionPolicies) > 0 {
		placeholders := make([]string, len(c.RetentionPolicies))
		for i, p := range c.RetentionPolicies {
			placeholders[i] = "?"
			args = append(args, p)
		}
		where = append(where, "retention_policy IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `SELECT ` + recordColumns + ` FROM audit_log`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY ts`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: selecting records by criteria: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectRecords(rows)
}

// DeleteByIDs implements archive.RecordStore.
func (s *RecordStore) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args := inClause(`DELETE FROM audit_log WHERE id IN `, ids)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleting records: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CountByIDs implements archive.RecordStore.
func (s *RecordStore) CountByIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args := inClause(`SELECT COUNT(*) FROM audit_log WHERE id IN `, ids)
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("sqlite: counting records: %w", err)
	}
	return count, nil
}
