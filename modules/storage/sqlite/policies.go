package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/smedrec/smart-logs/internal/archive"
)

// PolicyStore implements archive.PolicyStore on the retention_policies
// table. Validation runs at ingestion.
type PolicyStore struct {
	db *sql.DB
}

var _ archive.PolicyStore = (*PolicyStore)(nil)

// Put validates and upserts a policy.
func (s *PolicyStore) Put(ctx context.Context, p archive.RetentionPolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO retention_policies
			(policy_name, data_classification, archive_after_days, delete_after_days, is_active)
		VALUES (?, ?, ?, ?, ?)`,
		p.PolicyName, p.DataClassification, p.ArchiveAfterDays, p.DeleteAfterDays, p.IsActive,
	); err != nil {
		return fmt.Errorf("sqlite: upserting policy %s: %w", p.PolicyName, err)
	}
	return nil
}

// Active implements archive.PolicyStore.
func (s *PolicyStore) Active(ctx context.Context) ([]archive.RetentionPolicy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT policy_name, data_classification, archive_after_days, delete_after_days, is_active
		FROM retention_policies WHERE is_active = 1 ORDER BY policy_name`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing active policies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []archive.RetentionPolicy
	for rows.Next() {
		var p archive.RetentionPolicy
		if err := rows.Scan(&p.PolicyName, &p.DataClassification, &p.ArchiveAfterDays, &p.DeleteAfterDays, &p.IsActive); err != nil {
			return nil, fmt.Errorf("sqlite: scanning policy: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
