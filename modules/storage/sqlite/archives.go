package sqlite

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/smedrec/smart-logs/internal/archive"
)

// ArchiveStore implements archive.Store on the audit_archives table.
type ArchiveStore struct {
	db *sql.DB
}

var _ archive.Store = (*ArchiveStore)(nil)

const archiveColumns = `id, metadata, data, created_at, retrieved_count, last_retrieved_at`

// Insert implements archive.Store.
func (s *ArchiveStore) Insert(ctx context.Context, a *archive.Archive) error {
	metadata, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("sqlite: encoding archive metadata %s: %w", a.ID, err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_archives (`+archiveColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, string(metadata), a.Data, fmtTime(a.CreatedAt),
		a.RetrievedCount, fmtTimePtr(a.LastRetrievedAt),
	); err != nil {
		return fmt.Errorf("sqlite: inserting archive %s: %w", a.ID, err)
	}
	return nil
}

func scanArchive(row rowScanner) (*archive.Archive, error) {
	var a archive.Archive
	var metadata, createdAt string
	var data []byte
	var lastRetrieved sql.NullString

	if err := row.Scan(&a.ID, &metadata, &data, &createdAt, &a.RetrievedCount, &lastRetrieved); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(metadata), &a.Metadata); err != nil {
		return nil, fmt.Errorf("sqlite: decoding archive metadata %s: %w", a.ID, err)
	}
	a.Data = decodePayload(data)

	var err error
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("sqlite: parsing archive created_at: %w", err)
	}
	if a.LastRetrievedAt, err = parseTimePtr(lastRetrieved); err != nil {
		return nil, fmt.Errorf("sqlite: parsing last_retrieved_at: %w", err)
	}
	return &a, nil
}

// decodePayload tolerates payloads stored as base64 text by older
// deployments. Compressed data always contains bytes outside the base64
// alphabet, so a clean decode identifies the legacy encoding.
func decodePayload(data []byte) []byte {
	if len(data) == 0 || len(data)%4 != 0 {
		return data
	}
	for _, b := range data {
		switch {
		case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9',
			b == '+', b == '/', b == '=':
		default:
			return data
		}
	}
	decoded, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return data
	}
	return decoded
}

// Get implements archive.Store.
func (s *ArchiveStore) Get(ctx context.Context, id string) (*archive.Archive, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+archiveColumns+` FROM audit_archives WHERE id = ?`, id)
	a, err := scanArchive(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, archive.ErrArchiveNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: reading archive %s: %w", id, err)
	}
	return a, nil
}

// Select implements archive.Store. Metadata filters apply in memory after a
// full scan; archive counts stay small enough in embedded deployments that
// JSON indexing is not worth the schema complexity.
func (s *ArchiveStore) Select(ctx context.Context, f archive.ArchiveFilter) ([]*archive.Archive, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+archiveColumns+` FROM audit_archives ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: selecting archives: %w", err)
	}
	defer func() { _ = rows.Close() }()

	limit := f.Limit
	if limit == 0 {
		limit = 100
	}

	var out []*archive.Archive
	skipped := 0
	for rows.Next() {
		a, err := scanArchive(rows)
		if err != nil {
			return nil, err
		}
		if !matchArchive(a, f) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func matchArchive(a *archive.Archive, f archive.ArchiveFilter) bool {
	if f.ArchiveID != "" && a.ID != f.ArchiveID {
		return false
	}
	if f.DateRange != nil {
		if a.Metadata.DateRange == nil || !f.DateRange.Intersects(*a.Metadata.DateRange) {
			return false
		}
	}
	if len(f.DataClassifications) > 0 {
		found := false
		for _, c := range f.DataClassifications {
			if c == a.Metadata.DataClassification {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.RetentionPolicies) > 0 {
		found := false
		for _, p := range f.RetentionPolicies {
			if p == a.Metadata.RetentionPolicy {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// All implements archive.Store.
func (s *ArchiveStore) All(ctx context.Context) ([]*archive.Archive, error) {
	return s.Select(ctx, archive.ArchiveFilter{Limit: -1})
}

// BumpRetrieval implements archive.Store.
func (s *ArchiveStore) BumpRetrieval(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE audit_archives
		SET retrieved_count = retrieved_count + 1, last_retrieved_at = ?
		WHERE id = ?`,
		fmtTime(at), id)
	if err != nil {
		return fmt.Errorf("sqlite: bumping retrieval stats %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return archive.ErrArchiveNotFound
	}
	return nil
}

// Delete implements archive.Store.
func (s *ArchiveStore) Delete(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args := inClause(`DELETE FROM audit_archives WHERE id IN `, ids)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleting archives: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
