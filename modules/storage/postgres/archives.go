package postgres

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smedrec/smart-logs/internal/archive"
)

// ArchiveStore implements archive.Store on the audit_archives table.
type ArchiveStore struct {
	pool *pgxpool.Pool
}

var _ archive.Store = (*ArchiveStore)(nil)

// Insert implements archive.Store.
func (s *ArchiveStore) Insert(ctx context.Context, a *archive.Archive) error {
	metadata, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: encoding archive metadata %s: %w", a.ID, err)
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO audit_archives (id, metadata, data, created_at, retrieved_count, last_retrieved_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, metadata, a.Data, a.CreatedAt, a.RetrievedCount, a.LastRetrievedAt,
	); err != nil {
		return fmt.Errorf("postgres: inserting archive %s: %w", a.ID, err)
	}
	return nil
}

func scanArchive(row pgx.Row) (*archive.Archive, error) {
	var a archive.Archive
	var metadata, data []byte
	if err := row.Scan(&a.ID, &metadata, &data, &a.CreatedAt, &a.RetrievedCount, &a.LastRetrievedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(metadata, &a.Metadata); err != nil {
		return nil, fmt.Errorf("postgres: decoding archive metadata %s: %w", a.ID, err)
	}
	a.Data = decodePayload(data)
	return &a, nil
}

// decodePayload tolerates payloads that older deployments stored as base64
// text instead of raw bytes. Compressed data always contains bytes outside
// the base64 alphabet, so a clean decode identifies the legacy encoding.
func decodePayload(data []byte) []byte {
	if len(data) == 0 || len(data)%4 != 0 {
		return data
	}
	for _, b := range data {
		if !isBase64Byte(b) {
			return data
		}
	}
	decoded, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return data
	}
	return decoded
}

func isBase64Byte(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		return true
	case b == '+', b == '/', b == '=':
		return true
	}
	return false
}

const archiveColumns = `id, metadata, data, created_at, retrieved_count, last_retrieved_at`

// Get implements archive.Store.
func (s *ArchiveStore) Get(ctx context.Context, id string) (*archive.Archive, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+archiveColumns+` FROM audit_archives WHERE id = $1`, id)
	a, err := scanArchive(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, archive.ErrArchiveNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: reading archive %s: %w", id, err)
	}
	return a, nil
}

// Select implements archive.Store. Metadata filters use JSONB operators;
// date-range intersection compares the stored range bounds.
func (s *ArchiveStore) Select(ctx context.Context, f archive.ArchiveFilter) ([]*archive.Archive, error) {
	var where []string
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.ArchiveID != "" {
		where = append(where, "id = "+arg(f.ArchiveID))
	}
	if len(f.DataClassifications) > 0 {
		classifications := make([]string, len(f.DataClassifications))
		for i, c := range f.DataClassifications {
			classifications[i] = string(c)
		}
		where = append(where, "metadata->>'dataClassification' = ANY("+arg(classifications)+")")
	}
	if len(f.RetentionPolicies) > 0 {
		where = append(where, "metadata->>'retentionPolicy' = ANY("+arg(f.RetentionPolicies)+")")
	}
	if f.DateRange != nil {
		where = append(where, "(metadata->'dateRange'->>'start')::timestamptz <= "+arg(f.DateRange.End))
		where = append(where, "(metadata->'dateRange'->>'end')::timestamptz >= "+arg(f.DateRange.Start))
	}

	query := `SELECT ` + archiveColumns + ` FROM audit_archives`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at`

	limit := f.Limit
	if limit == 0 {
		limit = 100
	}
	if limit > 0 {
		query += ` LIMIT ` + arg(limit)
	}
	if f.Offset > 0 {
		query += ` OFFSET ` + arg(f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: selecting archives: %w", err)
	}
	defer rows.Close()

	var out []*archive.Archive
	for rows.Next() {
		a, err := scanArchive(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scanning archive: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// All implements archive.Store.
func (s *ArchiveStore) All(ctx context.Context) ([]*archive.Archive, error) {
	return s.Select(ctx, archive.ArchiveFilter{Limit: -1})
}

// BumpRetrieval implements archive.Store with a relative update, safe under
// concurrent retrievals.
func (s *ArchiveStore) BumpRetrieval(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE audit_archives
		 SET retrieved_count = retrieved_count + 1, last_retrieved_at = $2
		 WHERE id = $1`,
		id, at)
	if err != nil {
		return fmt.Errorf("postgres: bumping retrieval stats %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return archive.ErrArchiveNotFound
	}
	return nil
}

// Delete implements archive.Store.
func (s *ArchiveStore) Delete(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM audit_archives WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("postgres: deleting archives: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
