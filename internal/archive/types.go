// Package archive implements retention-driven batch archival of audit
// records: serialization, compression, checksumming, compliance retrieval,
// secure deletion, and integrity validation.
package archive

import (
	"errors"
	"fmt"
	"time"

	"github.com/smedrec/smart-logs/pkg/audit"
)

// Format selects the record serialization layout.
type Format string

// Supported serialization formats.
const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
)

// Algorithm selects the payload compression.
type Algorithm string

// Supported compression algorithms.
const (
	AlgorithmGzip    Algorithm = "gzip"
	AlgorithmDeflate Algorithm = "deflate"
	AlgorithmNone    Algorithm = "none"
)

// defaultCompressionLevel applies when the config leaves Level unset (nil).
const defaultCompressionLevel = 6

// Config controls how an archive is produced. It is recorded inside the
// archive metadata so retrieval never depends on the current system config.
//
// Level is a pointer so an explicit 0 (a valid "store only" level for both
// gzip and deflate) is distinguishable from "unset, use the default".
type Config struct {
	Format          Format    `json:"format" yaml:"format"`
	Algorithm       Algorithm `json:"compressionAlgorithm" yaml:"compression_algorithm"`
	Level           *int      `json:"compressionLevel,omitempty" yaml:"compression_level"`
	VerifyIntegrity bool      `json:"verifyIntegrity,omitempty" yaml:"verify_integrity"`
}

func (c Config) withDefaults() Config {
	if c.Format == "" {
		c.Format = FormatJSONL
	}
	if c.Algorithm == "" {
		c.Algorithm = AlgorithmGzip
	}
	if c.Level == nil {
		lvl := defaultCompressionLevel
		c.Level = &lvl
	}
	return c
}

// CompressionLevel returns the effective level for a defaulted config.
func (c Config) CompressionLevel() int {
	if c.Level == nil {
		return defaultCompressionLevel
	}
	return *c.Level
}

// DateRange is a closed time interval.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Intersects reports whether two ranges overlap.
func (r DateRange) Intersects(other DateRange) bool {
	return !r.Start.After(other.End) && !other.Start.After(r.End)
}

// Contains reports whether t falls inside the range.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Metadata describes an archive. Immutable once written.
type Metadata struct {
	RecordCount        int                      `json:"recordCount"`
	OriginalSize       int64                    `json:"originalSize"`
	CompressedSize     int64                    `json:"compressedSize"`
	CompressionRatio   float64                  `json:"compressionRatio"`
	ChecksumOriginal   string                   `json:"checksumOriginal"`
	ChecksumCompressed string                   `json:"checksumCompressed"`
	RetentionPolicy    string                   `json:"retentionPolicy"`
	DataClassification audit.DataClassification `json:"dataClassification"`
	DateRange          *DateRange               `json:"dateRange,omitempty"`
	Config             Config                   `json:"config"`
	CreatedAt          time.Time                `json:"createdAt"`
}

// Archive is a stored batch of compressed audit records. Only the retrieval
// statistics mutate after creation.
type Archive struct {
	ID              string     `json:"id"`
	Metadata        Metadata   `json:"metadata"`
	Data            []byte     `json:"data"`
	CreatedAt       time.Time  `json:"createdAt"`
	RetrievedCount  int        `json:"retrievedCount"`
	LastRetrievedAt *time.Time `json:"lastRetrievedAt,omitempty"`
}

// RetentionPolicy maps a data classification to archive and delete ages.
type RetentionPolicy struct {
	PolicyName         string                   `json:"policyName"`
	DataClassification audit.DataClassification `json:"dataClassification"`
	ArchiveAfterDays   int                      `json:"archiveAfterDays"`
	DeleteAfterDays    int                      `json:"deleteAfterDays,omitempty"` // 0 = never delete
	IsActive           bool                     `json:"isActive"`
}

// ErrInvalidPolicy is wrapped by Validate failures.
var ErrInvalidPolicy = errors.New("archive: invalid retention policy")

// Validate rejects malformed policies. A delete age below the archive age
// would destroy records before they were archived.
func (p RetentionPolicy) Validate() error {
	if p.PolicyName == "" {
		return fmt.Errorf("%w: empty policy name", ErrInvalidPolicy)
	}
	if p.ArchiveAfterDays < 0 {
		return fmt.Errorf("%w %q: negative archiveAfterDays", ErrInvalidPolicy, p.PolicyName)
	}
	if p.DeleteAfterDays != 0 && p.DeleteAfterDays < p.ArchiveAfterDays {
		return fmt.Errorf("%w %q: deleteAfterDays %d < archiveAfterDays %d",
			ErrInvalidPolicy, p.PolicyName, p.DeleteAfterDays, p.ArchiveAfterDays)
	}
	return nil
}

// VerificationStatus reports the post-write integrity check outcome.
type VerificationStatus string

// Verification outcomes.
const (
	VerificationVerified VerificationStatus = "verified"
	VerificationFailed   VerificationStatus = "failed"
	VerificationSkipped  VerificationStatus = "skipped"
)

// Result summarizes one archive creation.
type Result struct {
	ArchiveID          string             `json:"archiveId"`
	RecordCount        int                `json:"recordCount"`
	OriginalSize       int64              `json:"originalSize"`
	CompressedSize     int64              `json:"compressedSize"`
	CompressionRatio   float64            `json:"compressionRatio"`
	ChecksumOriginal   string             `json:"checksumOriginal"`
	ChecksumCompressed string             `json:"checksumCompressed"`
	VerificationStatus VerificationStatus `json:"verificationStatus"`
	CreatedAt          time.Time          `json:"createdAt"`
	ProcessingTime     time.Duration      `json:"processingTime"`
}

// BatchSummary aggregates one retention batch before archival.
type BatchSummary struct {
	ByClassification map[audit.DataClassification]int `json:"byClassification"`
	ByAction         map[string]int                   `json:"byAction"`
}

// PolicyRunResult is the per-policy outcome of a retention sweep. Failures
// are isolated: one policy's error never aborts the others.
type PolicyRunResult struct {
	PolicyName    string       `json:"policyName"`
	ArchiveID     string       `json:"archiveId,omitempty"`
	ArchivedCount int          `json:"archivedCount"`
	DeletedCount  int          `json:"deletedCount"`
	Summary       BatchSummary `json:"summary"`
	Skipped       bool         `json:"skipped"`
	Error         string       `json:"error,omitempty"`
}

// RetrievalRequest filters archives and the records inside them.
type RetrievalRequest struct {
	ArchiveID           string                     `json:"archiveId,omitempty"`
	DateRange           *DateRange                 `json:"dateRange,omitempty"`
	DataClassifications []audit.DataClassification `json:"dataClassifications,omitempty"`
	RetentionPolicies   []string                   `json:"retentionPolicies,omitempty"`
	PrincipalID         string                     `json:"principalId,omitempty"`
	Actions             []string                   `json:"actions,omitempty"`
	Limit               int                        `json:"limit,omitempty"`  // default 100
	Offset              int                        `json:"offset,omitempty"`
}

// RetrievedArchive is one archive's contribution to a retrieval.
type RetrievedArchive struct {
	ArchiveID string         `json:"archiveId"`
	Metadata  Metadata       `json:"metadata"`
	Records   []audit.Record `json:"records"`
}

// RetrievalResult is the outcome of a compliance retrieval.
type RetrievalResult struct {
	RequestID     string             `json:"requestId"`
	RetrievedAt   time.Time          `json:"retrievedAt"`
	RecordCount   int                `json:"recordCount"`
	TotalSize     int64              `json:"totalSize"`
	RetrievalTime time.Duration      `json:"retrievalTime"`
	Archives      []RetrievedArchive `json:"archives"`
}

// DeleteCriteria selects live records for secure deletion.
type DeleteCriteria struct {
	PrincipalID         string                     `json:"principalId,omitempty"`
	OrganizationID      string                     `json:"organizationId,omitempty"`
	DateRange           *DateRange                 `json:"dateRange,omitempty"`
	DataClassifications []audit.DataClassification `json:"dataClassifications,omitempty"`
	RetentionPolicies   []string                   `json:"retentionPolicies,omitempty"`
	VerifyDeletion      bool                       `json:"verifyDeletion,omitempty"`
}

// DeleteStatus classifies a secure-deletion outcome.
type DeleteStatus string

// Deletion outcomes.
const (
	DeleteSkipped  DeleteStatus = "skipped"
	DeleteDone     DeleteStatus = "deleted"
	DeleteVerified DeleteStatus = "verified"
	DeleteFailed   DeleteStatus = "failed"
)

// DeleteResult is the outcome of a secure deletion.
type DeleteResult struct {
	RecordsDeleted   int          `json:"recordsDeleted"`
	Status           DeleteStatus `json:"status"`
	RemainingRecords int          `json:"remainingRecords,omitempty"`
}

// ValidationReport is the outcome of a full-store integrity pass.
type ValidationReport struct {
	Total        int      `json:"total"`
	Valid        int      `json:"valid"`
	Corrupted    int      `json:"corrupted"`
	CorruptedIDs []string `json:"corruptedIds,omitempty"`
}

// CleanupResult is the outcome of an aged-archive cleanup pass.
type CleanupResult struct {
	ArchivesDeleted int   `json:"archivesDeleted"`
	SpaceFreed      int64 `json:"spaceFreed"`
}
