package archive

import (
	"context"
	"errors"
	"time"

	"github.com/smedrec/smart-logs/pkg/audit"
)

// ErrArchiveNotFound is returned when an archive id does not resolve.
var ErrArchiveNotFound = errors.New("archive: not found")

// ArchiveFilter selects stored archives by metadata.
type ArchiveFilter struct {
	ArchiveID           string
	DateRange           *DateRange
	DataClassifications []audit.DataClassification
	RetentionPolicies   []string
	Limit               int // 0 = default 100, negative = unlimited
	Offset              int
}

// Store persists archives. The engine holds this port; backends live under
// modules/storage.
type Store interface {
	// Insert persists a new archive.
	Insert(ctx context.Context, a *Archive) error

	// Get returns one archive by id, or ErrArchiveNotFound.
	Get(ctx context.Context, id string) (*Archive, error)

	// Select returns archives matching the filter in creation order.
	Select(ctx context.Context, f ArchiveFilter) ([]*Archive, error)

	// All returns every stored archive in creation order.
	All(ctx context.Context) ([]*Archive, error)

	// BumpRetrieval increments retrievedCount and stamps lastRetrievedAt.
	// Safe to run concurrently (monotonic increment).
	BumpRetrieval(ctx context.Context, id string, at time.Time) error

	// Delete removes archives by id, returning the number removed.
	Delete(ctx context.Context, ids []string) (int, error)
}

// RecordStore is the live audit-log side consumed by retention sweeps and
// secure deletion.
type RecordStore interface {
	// SelectForArchival returns unarchived records of the classification and
	// policy whose timestamp is before cutoff.
	SelectForArchival(ctx context.Context, classification audit.DataClassification, policy string, cutoff time.Time) ([]audit.Record, error)

	// MarkArchived stamps archivedAt on the given records.
	MarkArchived(ctx context.Context, ids []string, at time.Time) error

	// DeleteOlderThan removes records of the policy older than cutoff,
	// returning the number removed.
	DeleteOlderThan(ctx context.Context, policy string, cutoff time.Time) (int, error)

	// SelectByCriteria returns records matching the deletion criteria.
	SelectByCriteria(ctx context.Context, c DeleteCriteria) ([]audit.Record, error)

	// DeleteByIDs removes records by id, returning the number removed.
	DeleteByIDs(ctx context.Context, ids []string) (int, error)

	// CountByIDs returns how many of the given ids still exist.
	CountByIDs(ctx context.Context, ids []string) (int, error)
}

// PolicyStore provides retention policies.
type PolicyStore interface {
	// Active returns all active retention policies.
	Active(ctx context.Context) ([]RetentionPolicy, error)
}
