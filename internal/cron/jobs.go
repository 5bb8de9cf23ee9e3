package cron

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/smedrec/smart-logs/internal/archive"
)

// Default schedules for the retention jobs. Archival runs nightly; cleanup
// trails it so freshly created archives are never candidates.
const (
	defaultArchivalSchedule = "0 2 * * *"
	defaultCleanupSchedule  = "30 2 * * *"
	defaultSweepSchedule    = "0 3 * * *"
)

// DeadLetterSweeper is the subset of the DLQ service needed by the sweep
// job. Defined here to avoid importing the dlq package (which would create
// a circular dependency once the DLQ archives through the engine).
type DeadLetterSweeper interface {
	SweepAged(ctx context.Context) (archived, removed int, err error)
}

// RetentionArchivalJob runs one retention sweep over all active policies.
type RetentionArchivalJob struct {
	Engine       *archive.Engine
	Logger       *slog.Logger
	ScheduleExpr string // empty = default nightly
}

// Compile-time interface check.
var _ Job = (*RetentionArchivalJob)(nil)

// Name implements Job.
func (j *RetentionArchivalJob) Name() string { return "retention_archival" }

// Schedule implements Job.
func (j *RetentionArchivalJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return defaultArchivalSchedule
}

// Run implements Job. Per-policy failures are already isolated by the
// engine; the job only fails when the sweep itself cannot run.
func (j *RetentionArchivalJob) Run(ctx context.Context) error {
	results, err := j.Engine.ArchiveByPolicies(ctx)
	if err != nil {
		return fmt.Errorf("cron: retention archival: %w", err)
	}

	var archived, deleted, failed int
	for _, r := range results {
		archived += r.ArchivedCount
		deleted += r.DeletedCount
		if r.Error != "" {
			failed++
		}
	}
	if j.Logger != nil {
		j.Logger.Info("retention archival finished",
			"policies", len(results),
			"archived", archived,
			"deleted", deleted,
			"failed_policies", failed,
		)
	}
	return nil
}

// ArchiveCleanupJob deletes archives that outlived their policy's delete age.
type ArchiveCleanupJob struct {
	Engine       *archive.Engine
	Logger       *slog.Logger
	ScheduleExpr string // empty = default nightly
}

// Compile-time interface check.
var _ Job = (*ArchiveCleanupJob)(nil)

// Name implements Job.
func (j *ArchiveCleanupJob) Name() string { return "archive_cleanup" }

// Schedule implements Job.
func (j *ArchiveCleanupJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return defaultCleanupSchedule
}

// Run implements Job.
func (j *ArchiveCleanupJob) Run(ctx context.Context) error {
	result, err := j.Engine.CleanupOldArchives(ctx)
	if err != nil {
		return fmt.Errorf("cron: archive cleanup: %w", err)
	}
	if j.Logger != nil && result.ArchivesDeleted > 0 {
		j.Logger.Info("archive cleanup finished",
			"deleted", result.ArchivesDeleted,
			"space_freed", result.SpaceFreed,
		)
	}
	return nil
}

// DLQSweepJob re-applies the DLQ aging policy to preserved jobs.
type DLQSweepJob struct {
	Sweeper      DeadLetterSweeper
	Logger       *slog.Logger
	ScheduleExpr string // empty = default nightly
}

// Compile-time interface check.
var _ Job = (*DLQSweepJob)(nil)

// Name implements Job.
func (j *DLQSweepJob) Name() string { return "dlq_sweep" }

// Schedule implements Job.
func (j *DLQSweepJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return defaultSweepSchedule
}

// Run implements Job.
func (j *DLQSweepJob) Run(ctx context.Context) error {
	archived, removed, err := j.Sweeper.SweepAged(ctx)
	if err != nil {
		return fmt.Errorf("cron: dlq sweep: %w", err)
	}
	if j.Logger != nil && (archived > 0 || removed > 0) {
		j.Logger.Info("dlq sweep finished", "archived", archived, "removed", removed)
	}
	return nil
}
