package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/smedrec/smart-logs/internal/archive"
	"github.com/smedrec/smart-logs/modules/storage/postgres"
	"github.com/smedrec/smart-logs/pkg/audit"
)

// complianceEnv bundles the storage handles the compliance commands use.
type complianceEnv struct {
	engine   *archive.Engine
	stores   *postgres.Stores
	teardown func()
}

// openCompliance connects to the database named by POSTGRES_URL or
// DATABASE_URL and builds the archival engine over it.
func openCompliance(ctx context.Context, cfg archive.Config) (*complianceEnv, error) {
	url := os.Getenv("POSTGRES_URL")
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		return nil, errMissingDatabaseURL
	}

	stores, pool, err := postgres.Open(ctx, url)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	engine := archive.NewEngine(cfg, stores.Archives, stores.Records, stores.Policies,
		archive.WithLogger(logger))

	return &complianceEnv{
		engine:   engine,
		stores:   stores,
		teardown: pool.Close,
	}, nil
}

// parseDateRange parses "start,end" where each bound is RFC 3339 or a plain
// date (interpreted as UTC midnight).
func parseDateRange(raw string) (*archive.DateRange, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.SplitN(raw, ",", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("date range must be start,end, got %q", raw)
	}

	start, err := parseDate(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, fmt.Errorf("date range start: %w", err)
	}
	end, err := parseDate(strings.TrimSpace(parts[1]))
	if err != nil {
		return nil, fmt.Errorf("date range end: %w", err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("date range end %s before start %s", end, start)
	}
	return &archive.DateRange{Start: start, End: end}, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func parseClassifications(list []string) []audit.DataClassification {
	out := make([]audit.DataClassification, 0, len(list))
	for _, c := range list {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, audit.DataClassification(c))
		}
	}
	return out
}

// writeOutput emits v as indented JSON to path, or stdout when empty.
func writeOutput(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if path == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// policyFilter narrows a PolicyStore to a single named policy.
type policyFilter struct {
	inner archive.PolicyStore
	name  string
}

func (f *policyFilter) Active(ctx context.Context) ([]archive.RetentionPolicy, error) {
	policies, err := f.inner.Active(ctx)
	if err != nil || f.name == "" {
		return policies, err
	}
	var out []archive.RetentionPolicy
	for _, p := range policies {
		if p.PolicyName == f.name {
			out = append(out, p)
		}
	}
	return out, nil
}

func archiveCmd() *cobra.Command {
	var (
		dryRun bool
		policy string
		output string
	)
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Run a retention sweep: archive aged records and purge expired ones",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			env, err := openCompliance(ctx, archive.Config{VerifyIntegrity: true})
			if err != nil {
				return err
			}
			defer env.teardown()

			policies := &policyFilter{inner: env.stores.Policies, name: policy}

			if dryRun {
				report, err := dryRunArchive(ctx, policies, env.stores.Records)
				if err != nil {
					return err
				}
				return writeOutput(output, report)
			}

			engine := archive.NewEngine(archive.Config{VerifyIntegrity: true},
				env.stores.Archives, env.stores.Records, policies)
			results, err := engine.ArchiveByPolicies(ctx)
			if err != nil {
				return err
			}
			return writeOutput(output, results)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report the would-affect record counts without archiving")
	cmd.Flags().StringVar(&policy, "policy", "", "Restrict the sweep to one retention policy")
	cmd.Flags().StringVar(&output, "output", "", "Write the report to a file instead of stdout")
	return cmd
}

// dryRunReport is the archive --dry-run output.
type dryRunReport struct {
	Policies []dryRunPolicy `json:"policies"`
}

type dryRunPolicy struct {
	PolicyName   string `json:"policyName"`
	WouldArchive int    `json:"wouldArchive"`
}

func dryRunArchive(ctx context.Context, policies archive.PolicyStore, records archive.RecordStore) (*dryRunReport, error) {
	active, err := policies.Active(ctx)
	if err != nil {
		return nil, err
	}

	report := &dryRunReport{Policies: []dryRunPolicy{}}
	now := time.Now().UTC()
	for _, p := range active {
		cutoff := now.AddDate(0, 0, -p.ArchiveAfterDays)
		matches, err := records.SelectForArchival(ctx, p.DataClassification, p.PolicyName, cutoff)
		if err != nil {
			return nil, err
		}
		report.Policies = append(report.Policies, dryRunPolicy{
			PolicyName:   p.PolicyName,
			WouldArchive: len(matches),
		})
	}
	return report, nil
}

func retrieveCmd() *cobra.Command {
	var (
		archiveID       string
		dateRange       string
		classifications []string
		policies        []string
		principalID     string
		actions         []string
		limit           int
		output          string
	)
	cmd := &cobra.Command{
		Use:   "retrieve",
		Short: "Retrieve archived records for a compliance request",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			env, err := openCompliance(ctx, archive.Config{})
			if err != nil {
				return err
			}
			defer env.teardown()

			dr, err := parseDateRange(dateRange)
			if err != nil {
				return err
			}

			result, err := env.engine.Retrieve(ctx, archive.RetrievalRequest{
				ArchiveID:           archiveID,
				DateRange:           dr,
				DataClassifications: parseClassifications(classifications),
				RetentionPolicies:   policies,
				PrincipalID:         principalID,
				Actions:             actions,
				Limit:               limit,
			})
			if err != nil {
				return err
			}
			return writeOutput(output, result)
		},
	}
	cmd.Flags().StringVar(&archiveID, "archive-id", "", "Retrieve one archive by id")
	cmd.Flags().StringVar(&dateRange, "date-range", "", "Filter records by start,end")
	cmd.Flags().StringSliceVar(&classifications, "classification", nil, "Filter by data classifications")
	cmd.Flags().StringSliceVar(&policies, "policy", nil, "Filter by retention policies")
	cmd.Flags().StringVar(&principalID, "principal-id", "", "Filter records by principal")
	cmd.Flags().StringSliceVar(&actions, "actions", nil, "Filter records by actions")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum archives to inspect (default 100)")
	cmd.Flags().StringVar(&output, "output", "", "Write the result to a file instead of stdout")
	return cmd
}

func deleteCmd() *cobra.Command {
	var (
		dryRun          bool
		principalID     string
		organizationID  string
		dateRange       string
		classifications []string
		policies        []string
		verify          bool
		output          string
	)
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Securely delete live records matching the criteria",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			env, err := openCompliance(ctx, archive.Config{})
			if err != nil {
				return err
			}
			defer env.teardown()

			dr, err := parseDateRange(dateRange)
			if err != nil {
				return err
			}
			criteria := archive.DeleteCriteria{
				PrincipalID:         principalID,
				OrganizationID:      organizationID,
				DateRange:           dr,
				DataClassifications: parseClassifications(classifications),
				RetentionPolicies:   policies,
				VerifyDeletion:      verify,
			}

			if dryRun {
				matches, err := env.stores.Records.SelectByCriteria(ctx, criteria)
				if err != nil {
					return err
				}
				return writeOutput(output, map[string]int{"wouldDelete": len(matches)})
			}

			result, err := env.engine.SecureDelete(ctx, criteria)
			if err != nil {
				return err
			}
			if err := writeOutput(output, result); err != nil {
				return err
			}
			if result.Status == archive.DeleteFailed {
				return fmt.Errorf("deletion verification failed: %d records remain", result.RemainingRecords)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report the would-delete count without deleting")
	cmd.Flags().StringVar(&principalID, "principal-id", "", "Delete records of this principal")
	cmd.Flags().StringVar(&organizationID, "organization-id", "", "Restrict to one organization")
	cmd.Flags().StringVar(&dateRange, "date-range", "", "Restrict to start,end")
	cmd.Flags().StringSliceVar(&classifications, "classification", nil, "Restrict to data classifications")
	cmd.Flags().StringSliceVar(&policies, "policy", nil, "Restrict to retention policies")
	cmd.Flags().BoolVar(&verify, "verify", false, "Re-query deleted ids and fail if any remain")
	cmd.Flags().StringVar(&output, "output", "", "Write the result to a file instead of stdout")
	return cmd
}

func statsCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print archive storage statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			env, err := openCompliance(ctx, archive.Config{})
			if err != nil {
				return err
			}
			defer env.teardown()

			archives, err := env.stores.Archives.All(ctx)
			if err != nil {
				return err
			}

			stats := struct {
				Archives        int   `json:"archives"`
				RecordCount     int   `json:"recordCount"`
				OriginalBytes   int64 `json:"originalBytes"`
				CompressedBytes int64 `json:"compressedBytes"`
				TotalRetrievals int   `json:"totalRetrievals"`
			}{}
			for _, a := range archives {
				stats.Archives++
				stats.RecordCount += a.Metadata.RecordCount
				stats.OriginalBytes += a.Metadata.OriginalSize
				stats.CompressedBytes += a.Metadata.CompressedSize
				stats.TotalRetrievals += a.RetrievedCount
			}
			return writeOutput(output, stats)
		},
	}
	cmd.Flags().StringVar(&output, "output", "", "Write the report to a file instead of stdout")
	return cmd
}

func validateCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Recompute checksums for every archive and report corruption",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			env, err := openCompliance(ctx, archive.Config{})
			if err != nil {
				return err
			}
			defer env.teardown()

			report, err := env.engine.ValidateAll(ctx)
			if err != nil {
				return err
			}
			if err := writeOutput(output, report); err != nil {
				return err
			}
			if report.Corrupted > 0 {
				return fmt.Errorf("%d corrupted archives: %v", report.Corrupted, report.CorruptedIDs)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&output, "output", "", "Write the report to a file instead of stdout")
	return cmd
}

func cleanupCmd() *cobra.Command {
	var (
		dryRun bool
		output string
	)
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete archives that outlived their retention policy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			env, err := openCompliance(ctx, archive.Config{})
			if err != nil {
				return err
			}
			defer env.teardown()

			if dryRun {
				report, err := dryRunCleanup(ctx, env.stores.Policies, env.stores.Archives)
				if err != nil {
					return err
				}
				return writeOutput(output, report)
			}

			result, err := env.engine.CleanupOldArchives(ctx)
			if err != nil {
				return err
			}
			return writeOutput(output, result)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report the would-delete archives without deleting")
	cmd.Flags().StringVar(&output, "output", "", "Write the report to a file instead of stdout")
	return cmd
}

func dryRunCleanup(ctx context.Context, policies archive.PolicyStore, store archive.Store) (map[string]any, error) {
	active, err := policies.Active(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var ids []string
	var bytes int64
	for _, p := range active {
		if p.DeleteAfterDays <= 0 {
			continue
		}
		cutoff := now.AddDate(0, 0, -p.DeleteAfterDays)
		archives, err := store.Select(ctx, archive.ArchiveFilter{
			RetentionPolicies: []string{p.PolicyName},
			Limit:             -1,
		})
		if err != nil {
			return nil, err
		}
		for _, a := range archives {
			if a.CreatedAt.Before(cutoff) {
				ids = append(ids, a.ID)
				bytes += a.Metadata.CompressedSize
			}
		}
	}
	return map[string]any{
		"wouldDelete":    len(ids),
		"wouldFreeBytes": bytes,
		"archiveIds":     ids,
	}, nil
}
