package archive

import (
	"context"
	"testing"
	"time"

	"github.com/smedrec/smart-logs/pkg/audit"
)

func seedAged(f *engineFixture, id, policy string, classification audit.DataClassification, age time.Duration) {
	f.records.Add(audit.Record{
		ID:                 id,
		Timestamp:          f.clock.Now().Add(-age),
		Action:             "record.write",
		DataClassification: classification,
		RetentionPolicy:    policy,
	})
}

func TestArchiveByPolicies_ArchivesAgedRecords(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ctx := context.Background()

	f.policies.Put(RetentionPolicy{
		PolicyName:         "phi-7y",
		DataClassification: audit.ClassificationPHI,
		ArchiveAfterDays:   30,
		IsActive:           true,
	})

	seedAged(f, "old-1", "phi-7y", audit.ClassificationPHI, 45*24*time.Hour)
	seedAged(f, "old-2", "phi-7y", audit.ClassificationPHI, 40*24*time.Hour)
	seedAged(f, "fresh", "phi-7y", audit.ClassificationPHI, 24*time.Hour)
	seedAged(f, "other-class", "phi-7y", audit.ClassificationPublic, 45*24*time.Hour)

	results, err := f.engine.ArchiveByPolicies(ctx)
	if err != nil {
		t.Fatalf("ArchiveByPolicies: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d", len(results))
	}

	r := results[0]
	if r.Error != "" {
		t.Fatalf("policy error: %s", r.Error)
	}
	if r.ArchivedCount != 2 {
		t.Errorf("ArchivedCount = %d, want 2", r.ArchivedCount)
	}
	if r.Summary.ByAction["record.write"] != 2 {
		t.Errorf("summary = %+v", r.Summary)
	}

	// Archived records carry the archivedAt stamp; a rerun finds nothing.
	again, err := f.engine.ArchiveByPolicies(ctx)
	if err != nil {
		t.Fatalf("second ArchiveByPolicies: %v", err)
	}
	if !again[0].Skipped {
		t.Errorf("second run archived records again: %+v", again[0])
	}
}

func TestArchiveByPolicies_EmptySelectionSkips(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	f.policies.Put(RetentionPolicy{
		PolicyName:         "internal-1y",
		DataClassification: audit.ClassificationInternal,
		ArchiveAfterDays:   30,
		IsActive:           true,
	})

	results, err := f.engine.ArchiveByPolicies(context.Background())
	if err != nil {
		t.Fatalf("ArchiveByPolicies: %v", err)
	}
	if !results[0].Skipped {
		t.Errorf("empty policy not skipped: %+v", results[0])
	}
}

func TestArchiveByPolicies_DeleteAfterDays(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ctx := context.Background()

	f.policies.Put(RetentionPolicy{
		PolicyName:         "short",
		DataClassification: audit.ClassificationInternal,
		ArchiveAfterDays:   30,
		DeleteAfterDays:    60,
		IsActive:           true,
	})

	seedAged(f, "purge-me", "short", audit.ClassificationInternal, 90*24*time.Hour)
	seedAged(f, "archive-me", "short", audit.ClassificationInternal, 45*24*time.Hour)

	results, err := f.engine.ArchiveByPolicies(ctx)
	if err != nil {
		t.Fatalf("ArchiveByPolicies: %v", err)
	}

	r := results[0]
	if r.ArchivedCount != 2 {
		t.Errorf("ArchivedCount = %d, want 2", r.ArchivedCount)
	}
	if r.DeletedCount != 1 {
		t.Errorf("DeletedCount = %d, want 1", r.DeletedCount)
	}

	// Only the record past the delete age is gone.
	remaining, _ := f.records.CountByIDs(ctx, []string{"purge-me", "archive-me"})
	if remaining != 1 {
		t.Errorf("remaining = %d, want 1", remaining)
	}
}

// A failing policy must not abort the others.
func TestArchiveByPolicies_FailureIsolation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ctx := context.Background()

	// Stale malformed row: delete age below archive age.
	f.policies.policies = append(f.policies.policies, RetentionPolicy{
		PolicyName:         "broken",
		DataClassification: audit.ClassificationPublic,
		ArchiveAfterDays:   30,
		DeleteAfterDays:    10,
		IsActive:           true,
	})
	f.policies.Put(RetentionPolicy{
		PolicyName:         "good",
		DataClassification: audit.ClassificationInternal,
		ArchiveAfterDays:   30,
		IsActive:           true,
	})
	seedAged(f, "ok-1", "good", audit.ClassificationInternal, 40*24*time.Hour)

	results, err := f.engine.ArchiveByPolicies(ctx)
	if err != nil {
		t.Fatalf("ArchiveByPolicies: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d", len(results))
	}

	var broken, good *PolicyRunResult
	for i := range results {
		switch results[i].PolicyName {
		case "broken":
			broken = &results[i]
		case "good":
			good = &results[i]
		}
	}
	if broken == nil || broken.Error == "" {
		t.Errorf("broken policy not rejected: %+v", broken)
	}
	if good == nil || good.Error != "" || good.ArchivedCount != 1 {
		t.Errorf("good policy affected by broken one: %+v", good)
	}
}

func TestPolicyValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		policy RetentionPolicy
		ok     bool
	}{
		{"valid", RetentionPolicy{PolicyName: "p", ArchiveAfterDays: 30, DeleteAfterDays: 60}, true},
		{"equal ages", RetentionPolicy{PolicyName: "p", ArchiveAfterDays: 30, DeleteAfterDays: 30}, true},
		{"no delete", RetentionPolicy{PolicyName: "p", ArchiveAfterDays: 30}, true},
		{"delete before archive", RetentionPolicy{PolicyName: "p", ArchiveAfterDays: 30, DeleteAfterDays: 10}, false},
		{"negative archive age", RetentionPolicy{PolicyName: "p", ArchiveAfterDays: -1}, false},
		{"unnamed", RetentionPolicy{ArchiveAfterDays: 1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.policy.Validate()
			if tc.ok && err != nil {
				t.Errorf("Validate: %v", err)
			}
			if !tc.ok && err == nil {
				t.Error("invalid policy accepted")
			}
		})
	}
}

func TestSecureDelete(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ctx := context.Background()

	f.records.Add(
		audit.Record{ID: "r1", Timestamp: f.clock.Now(), PrincipalID: "user-1", OrganizationID: "org-A"},
		audit.Record{ID: "r2", Timestamp: f.clock.Now(), PrincipalID: "user-1", OrganizationID: "org-A"},
		audit.Record{ID: "r3", Timestamp: f.clock.Now(), PrincipalID: "user-2", OrganizationID: "org-A"},
	)

	result, err := f.engine.SecureDelete(ctx, DeleteCriteria{PrincipalID: "user-1", VerifyDeletion: true})
	if err != nil {
		t.Fatalf("SecureDelete: %v", err)
	}
	if result.RecordsDeleted != 2 || result.Status != DeleteVerified {
		t.Errorf("result = %+v", result)
	}

	// Nothing matching: skipped.
	result, err = f.engine.SecureDelete(ctx, DeleteCriteria{PrincipalID: "user-1"})
	if err != nil {
		t.Fatalf("SecureDelete: %v", err)
	}
	if result.Status != DeleteSkipped || result.RecordsDeleted != 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestValidateAll_FlagsCorruption(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ctx := context.Background()

	good, err := f.engine.Create(ctx, sampleRecords(), CreateMetadata{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	bad, err := f.engine.Create(ctx, sampleRecords(), CreateMetadata{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Flip a byte in the stored payload.
	f.store.mu.Lock()
	f.store.archives[bad.ArchiveID].Data[0] ^= 0xFF
	f.store.mu.Unlock()

	report, err := f.engine.ValidateAll(ctx)
	if err != nil {
		t.Fatalf("ValidateAll: %v", err)
	}
	if report.Total != 2 || report.Valid != 1 || report.Corrupted != 1 {
		t.Fatalf("report = %+v", report)
	}
	if len(report.CorruptedIDs) != 1 || report.CorruptedIDs[0] != bad.ArchiveID {
		t.Errorf("CorruptedIDs = %v", report.CorruptedIDs)
	}
	_ = good
}

func TestCleanupOldArchives(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ctx := context.Background()

	f.policies.Put(RetentionPolicy{
		PolicyName:         "short",
		DataClassification: audit.ClassificationInternal,
		ArchiveAfterDays:   10,
		DeleteAfterDays:    30,
		IsActive:           true,
	})

	created, err := f.engine.Create(ctx, sampleRecords(), CreateMetadata{RetentionPolicy: "short"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Not old enough yet.
	result, err := f.engine.CleanupOldArchives(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if result.ArchivesDeleted != 0 {
		t.Errorf("fresh archive deleted: %+v", result)
	}

	f.clock.Advance(31 * 24 * time.Hour)
	result, err = f.engine.CleanupOldArchives(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if result.ArchivesDeleted != 1 || result.SpaceFreed <= 0 {
		t.Errorf("result = %+v", result)
	}

	if _, err := f.store.Get(ctx, created.ArchiveID); err == nil {
		t.Error("archive still present after cleanup")
	}

	// Already clean: deletes nothing.
	result, err = f.engine.CleanupOldArchives(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if result.ArchivesDeleted != 0 {
		t.Errorf("second cleanup deleted %d", result.ArchivesDeleted)
	}
}
