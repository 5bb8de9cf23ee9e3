package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/smedrec/smart-logs/internal/metrics"
	"github.com/smedrec/smart-logs/pkg/audit"
)

// tracerName identifies the engine's spans.
const tracerName = "github.com/smedrec/smart-logs/internal/archive"

// Engine drives the archive lifecycle over its storage ports.
type Engine struct {
	cfg      Config
	store    Store
	records  RecordStore
	policies PolicyStore
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *metrics.Set
	now      func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock injects a time source (testing).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics attaches the Prometheus collector set.
func WithMetrics(set *metrics.Set) Option {
	return func(e *Engine) { e.metrics = set }
}

// NewEngine creates an archival engine. The config is recorded into every
// archive it creates.
func NewEngine(cfg Config, store Store, records RecordStore, policies PolicyStore, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg.withDefaults(),
		store:    store,
		records:  records,
		policies: policies,
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "archive")
	return e
}

// newArchiveID builds an id of the form archive-<ms-since-epoch>-<random>.
func (e *Engine) newArchiveID() string {
	return fmt.Sprintf("archive-%d-%s", e.now().UTC().UnixMilli(), uuid.NewString()[:8])
}

// CreateMetadata carries the caller-supplied part of an archive's metadata.
type CreateMetadata struct {
	RetentionPolicy    string
	DataClassification audit.DataClassification
	DateRange          *DateRange
}

// Create serializes, compresses, checksums, and persists a batch of records
// as one archive, optionally verifying the stored payload.
func (e *Engine) Create(ctx context.Context, records []audit.Record, meta CreateMetadata) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "archive.Create",
		trace.WithAttributes(attribute.Int("record_count", len(records))))
	defer span.End()

	if len(records) == 0 {
		return nil, fmt.Errorf("archive: no records to archive")
	}

	start := e.now()

	serialized, err := serialize(records, e.cfg.Format)
	if err != nil {
		return nil, err
	}
	checksumOriginal := checksum(serialized)

	compressed, err := compress(serialized, e.cfg.Algorithm, e.cfg.CompressionLevel())
	if err != nil {
		return nil, err
	}
	checksumCompressed := checksum(compressed)

	createdAt := e.now().UTC()
	ratio := float64(len(compressed)) / float64(len(serialized))

	arch := &Archive{
		ID: e.newArchiveID(),
		Metadata: Metadata{
			RecordCount:        len(records),
			OriginalSize:       int64(len(serialized)),
			CompressedSize:     int64(len(compressed)),
			CompressionRatio:   ratio,
			ChecksumOriginal:   checksumOriginal,
			ChecksumCompressed: checksumCompressed,
			RetentionPolicy:    meta.RetentionPolicy,
			DataClassification: meta.DataClassification,
			DateRange:          meta.DateRange,
			Config:             e.cfg,
			CreatedAt:          createdAt,
		},
		Data:      compressed,
		CreatedAt: createdAt,
	}

	if err := e.store.Insert(ctx, arch); err != nil {
		return nil, fmt.Errorf("archive: persisting %s: %w", arch.ID, err)
	}

	status := VerificationSkipped
	if e.cfg.VerifyIntegrity {
		status = e.verify(ctx, arch.ID, checksumOriginal, checksumCompressed)
	}

	result := &Result{
		ArchiveID:          arch.ID,
		RecordCount:        len(records),
		OriginalSize:       arch.Metadata.OriginalSize,
		CompressedSize:     arch.Metadata.CompressedSize,
		CompressionRatio:   ratio,
		ChecksumOriginal:   checksumOriginal,
		ChecksumCompressed: checksumCompressed,
		VerificationStatus: status,
		CreatedAt:          createdAt,
		ProcessingTime:     e.now().Sub(start),
	}

	if e.metrics != nil {
		e.metrics.ArchivesCreated.Inc()
		e.metrics.ArchiveBytesOriginal.Add(float64(result.OriginalSize))
		e.metrics.ArchiveBytesStored.Add(float64(result.CompressedSize))
	}

	e.logger.Info("archive created",
		"archive_id", arch.ID,
		"records", len(records),
		"original_size", result.OriginalSize,
		"compressed_size", result.CompressedSize,
		"verification", string(status),
	)
	return result, nil
}

// verify re-reads the stored archive and recomputes both checksums.
// An integrity failure is reported, not fatal: the caller decides.
func (e *Engine) verify(ctx context.Context, id, wantOriginal, wantCompressed string) VerificationStatus {
	stored, err := e.store.Get(ctx, id)
	if err != nil {
		e.logger.Error("verification read failed", "archive_id", id, "error", err)
		return VerificationFailed
	}
	if checksum(stored.Data) != wantCompressed {
		e.logger.Error("compressed checksum mismatch", "archive_id", id)
		return VerificationFailed
	}
	raw, err := decompress(stored.Data, stored.Metadata.Config.Algorithm)
	if err != nil {
		e.logger.Error("verification decompress failed", "archive_id", id, "error", err)
		return VerificationFailed
	}
	if checksum(raw) != wantOriginal {
		e.logger.Error("original checksum mismatch", "archive_id", id)
		return VerificationFailed
	}
	return VerificationVerified
}

// ArchiveByPolicies runs one retention sweep: for each active policy, aged
// unarchived records are archived and, when the policy says so, expired
// records are purged. Policy failures are isolated.
func (e *Engine) ArchiveByPolicies(ctx context.Context) ([]PolicyRunResult, error) {
	ctx, span := e.tracer.Start(ctx, "archive.ArchiveByPolicies")
	defer span.End()

	policies, err := e.policies.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("archive: loading retention policies: %w", err)
	}

	results := make([]PolicyRunResult, 0, len(policies))
	for _, policy := range policies {
		results = append(results, e.runPolicy(ctx, policy))
	}
	return results, nil
}

func (e *Engine) runPolicy(ctx context.Context, policy RetentionPolicy) PolicyRunResult {
	result := PolicyRunResult{PolicyName: policy.PolicyName}

	// Malformed policies are rejected at ingestion; re-check here so a
	// stale row cannot delete records that were never archived.
	if err := policy.Validate(); err != nil {
		result.Error = err.Error()
		e.logger.Error("retention policy rejected", "policy", policy.PolicyName, "error", err)
		return result
	}

	now := e.now().UTC()
	cutoff := now.AddDate(0, 0, -policy.ArchiveAfterDays)

	records, err := e.records.SelectForArchival(ctx, policy.DataClassification, policy.PolicyName, cutoff)
	if err != nil {
		result.Error = err.Error()
		e.logger.Error("retention selection failed", "policy", policy.PolicyName, "error", err)
		return result
	}
	if len(records) == 0 {
		result.Skipped = true
		return result
	}

	result.Summary = summarize(records)

	meta := CreateMetadata{
		RetentionPolicy:    policy.PolicyName,
		DataClassification: policy.DataClassification,
		DateRange:          recordDateRange(records),
	}
	created, err := e.Create(ctx, records, meta)
	if err != nil {
		result.Error = err.Error()
		e.logger.Error("retention archival failed", "policy", policy.PolicyName, "error", err)
		return result
	}
	result.ArchiveID = created.ArchiveID
	result.ArchivedCount = len(records)

	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	if err := e.records.MarkArchived(ctx, ids, now); err != nil {
		result.Error = err.Error()
		e.logger.Error("marking records archived failed", "policy", policy.PolicyName, "error", err)
		return result
	}

	if policy.DeleteAfterDays > 0 {
		deleteCutoff := now.AddDate(0, 0, -policy.DeleteAfterDays)
		deleted, err := e.records.DeleteOlderThan(ctx, policy.PolicyName, deleteCutoff)
		if err != nil {
			result.Error = err.Error()
			e.logger.Error("retention purge failed", "policy", policy.PolicyName, "error", err)
			return result
		}
		result.DeletedCount = deleted
	}

	if e.metrics != nil {
		e.metrics.RecordsArchived.Add(float64(result.ArchivedCount))
		e.metrics.RecordsDeleted.Add(float64(result.DeletedCount))
	}

	e.logger.Info("retention policy processed",
		"policy", policy.PolicyName,
		"archived", result.ArchivedCount,
		"deleted", result.DeletedCount,
		"archive_id", result.ArchiveID,
	)
	return result
}

// summarize aggregates a batch by classification and action.
func summarize(records []audit.Record) BatchSummary {
	s := BatchSummary{
		ByClassification: make(map[audit.DataClassification]int),
		ByAction:         make(map[string]int),
	}
	for _, rec := range records {
		s.ByClassification[rec.DataClassification]++
		s.ByAction[rec.Action]++
	}
	return s
}

// recordDateRange returns the min/max timestamp span of a batch.
func recordDateRange(records []audit.Record) *DateRange {
	if len(records) == 0 {
		return nil
	}
	r := DateRange{Start: records[0].Timestamp, End: records[0].Timestamp}
	for _, rec := range records[1:] {
		if rec.Timestamp.Before(r.Start) {
			r.Start = rec.Timestamp
		}
		if rec.Timestamp.After(r.End) {
			r.End = rec.Timestamp
		}
	}
	return &r
}

// Retrieve decompresses matching archives and returns the records that pass
// the request's record-level filters. The compression algorithm and format
// are read from each archive's metadata, never from the current config.
func (e *Engine) Retrieve(ctx context.Context, req RetrievalRequest) (*RetrievalResult, error) {
	ctx, span := e.tracer.Start(ctx, "archive.Retrieve")
	defer span.End()

	start := e.now()

	candidates, err := e.store.Select(ctx, ArchiveFilter{
		ArchiveID:           req.ArchiveID,
		DateRange:           req.DateRange,
		DataClassifications: req.DataClassifications,
		RetentionPolicies:   req.RetentionPolicies,
		Limit:               req.Limit,
		Offset:              req.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: selecting archives: %w", err)
	}

	retrievedAt := e.now().UTC()
	result := &RetrievalResult{
		RequestID:   "retrieval-" + uuid.NewString(),
		RetrievedAt: retrievedAt,
	}

	for _, arch := range candidates {
		raw, err := decompress(arch.Data, arch.Metadata.Config.Algorithm)
		if err != nil {
			return nil, fmt.Errorf("archive: decompressing %s: %w", arch.ID, err)
		}
		records, err := deserialize(raw, arch.Metadata.Config.Format)
		if err != nil {
			return nil, fmt.Errorf("archive: deserializing %s: %w", arch.ID, err)
		}

		matched := filterRecords(records, req)
		if len(matched) == 0 {
			continue
		}

		if err := e.store.BumpRetrieval(ctx, arch.ID, retrievedAt); err != nil {
			e.logger.Warn("retrieval stats update failed", "archive_id", arch.ID, "error", err)
		}

		result.Archives = append(result.Archives, RetrievedArchive{
			ArchiveID: arch.ID,
			Metadata:  arch.Metadata,
			Records:   matched,
		})
		result.RecordCount += len(matched)
		result.TotalSize += int64(len(raw))
	}

	result.RetrievalTime = e.now().Sub(start)
	return result, nil
}

// filterRecords applies the request's in-memory record filters.
func filterRecords(records []audit.Record, req RetrievalRequest) []audit.Record {
	var out []audit.Record
	for _, rec := range records {
		if req.PrincipalID != "" && rec.PrincipalID != req.PrincipalID {
			continue
		}
		if len(req.Actions) > 0 && !containsString(req.Actions, rec.Action) {
			continue
		}
		if req.DateRange != nil && !req.DateRange.Contains(rec.Timestamp) {
			continue
		}
		if len(req.DataClassifications) > 0 && !containsClassification(req.DataClassifications, rec.DataClassification) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsClassification(list []audit.DataClassification, c audit.DataClassification) bool {
	for _, v := range list {
		if v == c {
			return true
		}
	}
	return false
}

// SecureDelete removes live records matching the criteria, optionally
// verifying that nothing remains.
func (e *Engine) SecureDelete(ctx context.Context, criteria DeleteCriteria) (*DeleteResult, error) {
	ctx, span := e.tracer.Start(ctx, "archive.SecureDelete")
	defer span.End()

	matches, err := e.records.SelectByCriteria(ctx, criteria)
	if err != nil {
		return nil, fmt.Errorf("archive: selecting records for deletion: %w", err)
	}
	if len(matches) == 0 {
		return &DeleteResult{Status: DeleteSkipped}, nil
	}

	ids := make([]string, len(matches))
	for i, rec := range matches {
		ids[i] = rec.ID
	}

	deleted, err := e.records.DeleteByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("archive: deleting records: %w", err)
	}

	result := &DeleteResult{RecordsDeleted: deleted, Status: DeleteDone}
	if criteria.VerifyDeletion {
		remaining, err := e.records.CountByIDs(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("archive: verifying deletion: %w", err)
		}
		if remaining == 0 {
			result.Status = DeleteVerified
		} else {
			result.Status = DeleteFailed
			result.RemainingRecords = remaining
		}
	}

	if e.metrics != nil {
		e.metrics.RecordsDeleted.Add(float64(result.RecordsDeleted))
	}

	e.logger.Info("secure deletion finished",
		"deleted", result.RecordsDeleted,
		"status", string(result.Status),
	)
	return result, nil
}

// ValidateAll recomputes both checksums for every stored archive. It never
// short-circuits: every archive is inspected and corrupted ids accumulate.
func (e *Engine) ValidateAll(ctx context.Context) (*ValidationReport, error) {
	ctx, span := e.tracer.Start(ctx, "archive.ValidateAll")
	defer span.End()

	archives, err := e.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("archive: listing archives: %w", err)
	}

	report := &ValidationReport{Total: len(archives)}
	for _, arch := range archives {
		if e.validateOne(arch) {
			report.Valid++
		} else {
			report.Corrupted++
			report.CorruptedIDs = append(report.CorruptedIDs, arch.ID)
		}
	}
	return report, nil
}

func (e *Engine) validateOne(arch *Archive) bool {
	if checksum(arch.Data) != arch.Metadata.ChecksumCompressed {
		e.logger.Error("corrupted archive: compressed checksum mismatch", "archive_id", arch.ID)
		return false
	}
	raw, err := decompress(arch.Data, arch.Metadata.Config.Algorithm)
	if err != nil {
		e.logger.Error("corrupted archive: decompression failed", "archive_id", arch.ID, "error", err)
		return false
	}
	if checksum(raw) != arch.Metadata.ChecksumOriginal {
		e.logger.Error("corrupted archive: original checksum mismatch", "archive_id", arch.ID)
		return false
	}
	return true
}

// CleanupOldArchives deletes archives that outlived their policy's delete
// age, reporting how much compressed space was freed.
func (e *Engine) CleanupOldArchives(ctx context.Context) (*CleanupResult, error) {
	ctx, span := e.tracer.Start(ctx, "archive.CleanupOldArchives")
	defer span.End()

	policies, err := e.policies.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("archive: loading retention policies: %w", err)
	}

	now := e.now().UTC()
	result := &CleanupResult{}

	for _, policy := range policies {
		if policy.DeleteAfterDays <= 0 {
			continue
		}
		cutoff := now.AddDate(0, 0, -policy.DeleteAfterDays)

		archives, err := e.store.Select(ctx, ArchiveFilter{
			RetentionPolicies: []string{policy.PolicyName},
			Limit:             -1,
		})
		if err != nil {
			e.logger.Error("cleanup selection failed", "policy", policy.PolicyName, "error", err)
			continue
		}

		var ids []string
		var bytes int64
		for _, arch := range archives {
			if arch.CreatedAt.Before(cutoff) {
				ids = append(ids, arch.ID)
				bytes += arch.Metadata.CompressedSize
			}
		}
		if len(ids) == 0 {
			continue
		}

		deleted, err := e.store.Delete(ctx, ids)
		if err != nil {
			e.logger.Error("cleanup deletion failed", "policy", policy.PolicyName, "error", err)
			continue
		}
		result.ArchivesDeleted += deleted
		result.SpaceFreed += bytes
	}

	if result.ArchivesDeleted > 0 {
		e.logger.Info("archive cleanup finished",
			"deleted", result.ArchivesDeleted,
			"space_freed", result.SpaceFreed,
		)
	}
	return result, nil
}
