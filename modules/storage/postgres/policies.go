package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smedrec/smart-logs/internal/archive"
)

// PolicyStore implements archive.PolicyStore on the retention_policies
// table. Validation runs at ingestion; the table CHECK constraint backs it
// up against manual writes.
type PolicyStore struct {
	pool *pgxpool.Pool
}

var _ archive.PolicyStore = (*PolicyStore)(nil)

// Put validates and upserts a policy.
func (s *PolicyStore) Put(ctx context.Context, p archive.RetentionPolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO retention_policies
			(policy_name, data_classification, archive_after_days, delete_after_days, is_active)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (policy_name) DO UPDATE SET
			data_classification = EXCLUDED.data_classification,
			archive_after_days = EXCLUDED.archive_after_days,
			delete_after_days = EXCLUDED.delete_after_days,
			is_active = EXCLUDED.is_active`,
		p.PolicyName, p.DataClassification, p.ArchiveAfterDays, p.DeleteAfterDays, p.IsActive,
	); err != nil {
		return fmt.Errorf("postgres: upserting policy %s: %w", p.PolicyName, err)
	}
	return nil
}

// Active implements archive.PolicyStore.
func (s *PolicyStore) Active(ctx context.Context) ([]archive.RetentionPolicy, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT policy_name, data_classification, archive_after_days, delete_after_days, is_active
		 FROM retention_policies WHERE is_active ORDER BY policy_name`)
	if err != nil {
		return nil, fmt.Errorf("postgres: listing active policies: %w", err)
	}
	defer rows.Close()

	var out []archive.RetentionPolicy
	for rows.Next() {
		var p archive.RetentionPolicy
		if err := rows.Scan(&p.PolicyName, &p.DataClassification, &p.ArchiveAfterDays, &p.DeleteAfterDays, &p.IsActive); err != nil {
			return nil, fmt.Errorf("postgres: scanning policy: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
