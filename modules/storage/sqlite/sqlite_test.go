package sqlite

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/smedrec/smart-logs/internal/archive"
	"github.com/smedrec/smart-logs/internal/health"
	"github.com/smedrec/smart-logs/pkg/audit"
)

func openTestStores(t *testing.T) *Stores {
	t.Helper()
	stores, db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return stores
}

func TestHealthStore_UpdateAndFind(t *testing.T) {
	t.Parallel()
	stores := openTestStores(t)
	ctx := context.Background()

	if _, err := stores.Health.Find(ctx, "d1"); !errors.Is(err, health.ErrNotFound) {
		t.Fatalf("Find before create: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	h, err := stores.Health.Update(ctx, "d1", func(h *health.Health) error {
		h.ConsecutiveFailures = 3
		h.TotalDeliveries = 5
		h.TotalFailures = 3
		h.Status = health.StatusDegraded
		h.CircuitState = health.CircuitOpen
		h.CircuitOpenedAt = &now
		h.LastError = "timeout"
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if h.ConsecutiveFailures != 3 {
		t.Errorf("returned ConsecutiveFailures = %d", h.ConsecutiveFailures)
	}

	got, err := stores.Health.Find(ctx, "d1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got.Status != health.StatusDegraded || got.CircuitState != health.CircuitOpen {
		t.Errorf("got %+v", got)
	}
	if got.CircuitOpenedAt == nil || !got.CircuitOpenedAt.Equal(now) {
		t.Errorf("CircuitOpenedAt = %v, want %v", got.CircuitOpenedAt, now)
	}
}

func TestHealthStore_Unhealthy(t *testing.T) {
	t.Parallel()
	stores := openTestStores(t)
	ctx := context.Background()

	stores.Health.Update(ctx, "sick", func(h *health.Health) error {
		h.Status = health.StatusUnhealthy
		return nil
	})
	stores.Health.Update(ctx, "fine", func(h *health.Health) error { return nil })

	out, err := stores.Health.Unhealthy(ctx)
	if err != nil {
		t.Fatalf("Unhealthy: %v", err)
	}
	if len(out) != 1 || out[0].DestinationID != "sick" {
		t.Errorf("unhealthy = %v", out)
	}
}

func TestRecordStore_ArchivalFlow(t *testing.T) {
	t.Parallel()
	stores := openTestStores(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	err := stores.Records.Insert(ctx,
		audit.Record{
			ID: "r1", Timestamp: now.Add(-40 * 24 * time.Hour),
			DataClassification: audit.ClassificationPHI, RetentionPolicy: "phi",
			Extras: map[string]any{"k": "v"},
		},
		audit.Record{
			ID: "r2", Timestamp: now,
			DataClassification: audit.ClassificationPHI, RetentionPolicy: "phi",
		},
	)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	aged, err := stores.Records.SelectForArchival(ctx, audit.ClassificationPHI, "phi", now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("SelectForArchival: %v", err)
	}
	if len(aged) != 1 || aged[0].ID != "r1" {
		t.Fatalf("aged = %v", aged)
	}
	if aged[0].Extras["k"] != "v" {
		t.Errorf("extras lost: %v", aged[0].Extras)
	}

	if err := stores.Records.MarkArchived(ctx, []string{"r1"}, now); err != nil {
		t.Fatalf("MarkArchived: %v", err)
	}
	aged, _ = stores.Records.SelectForArchival(ctx, audit.ClassificationPHI, "phi", now.Add(-30*24*time.Hour))
	if len(aged) != 0 {
		t.Errorf("archived record selected again: %v", aged)
	}

	deleted, err := stores.Records.DeleteOlderThan(ctx, "phi", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d", deleted)
	}
}

func TestRecordStore_CriteriaAndCounts(t *testing.T) {
	t.Parallel()
	stores := openTestStores(t)
	ctx := context.Background()
	now := time.Now().UTC()

	stores.Records.Insert(ctx,
		audit.Record{ID: "a", Timestamp: now, PrincipalID: "u1", OrganizationID: "org-A"},
		audit.Record{ID: "b", Timestamp: now, PrincipalID: "u1", OrganizationID: "org-B"},
		audit.Record{ID: "c", Timestamp: now, PrincipalID: "u2", OrganizationID: "org-A"},
	)

	matches, err := stores.Records.SelectByCriteria(ctx, archive.DeleteCriteria{
		PrincipalID: "u1", OrganizationID: "org-A",
	})
	if err != nil {
		t.Fatalf("SelectByCriteria: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "a" {
		t.Fatalf("matches = %v", matches)
	}

	n, err := stores.Records.DeleteByIDs(ctx, []string{"a", "c"})
	if err != nil || n != 2 {
		t.Fatalf("DeleteByIDs = %d, %v", n, err)
	}
	count, err := stores.Records.CountByIDs(ctx, []string{"a", "b", "c"})
	if err != nil || count != 1 {
		t.Fatalf("CountByIDs = %d, %v", count, err)
	}
}

func TestArchiveStore_RoundTrip(t *testing.T) {
	t.Parallel()
	stores := openTestStores(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	a := &archive.Archive{
		ID: "archive-1-abc",
		Metadata: archive.Metadata{
			RecordCount:        2,
			CompressedSize:     4,
			RetentionPolicy:    "phi",
			DataClassification: audit.ClassificationPHI,
			CreatedAt:          now,
		},
		Data:      []byte{0x1f, 0x8b, 0x00, 0xff},
		CreatedAt: now,
	}
	if err := stores.Archives.Insert(ctx, a); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := stores.Archives.Get(ctx, "archive-1-abc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got.Data, a.Data) {
		t.Errorf("data = %x", got.Data)
	}
	if got.Metadata.RetentionPolicy != "phi" {
		t.Errorf("metadata = %+v", got.Metadata)
	}

	if err := stores.Archives.BumpRetrieval(ctx, "archive-1-abc", now); err != nil {
		t.Fatalf("BumpRetrieval: %v", err)
	}
	got, _ = stores.Archives.Get(ctx, "archive-1-abc")
	if got.RetrievedCount != 1 || got.LastRetrievedAt == nil {
		t.Errorf("retrieval stats = %d/%v", got.RetrievedCount, got.LastRetrievedAt)
	}

	selected, err := stores.Archives.Select(ctx, archive.ArchiveFilter{RetentionPolicies: []string{"phi"}})
	if err != nil || len(selected) != 1 {
		t.Fatalf("Select = %v, %v", selected, err)
	}

	n, err := stores.Archives.Delete(ctx, []string{"archive-1-abc"})
	if err != nil || n != 1 {
		t.Fatalf("Delete = %d, %v", n, err)
	}
	if _, err := stores.Archives.Get(ctx, "archive-1-abc"); !errors.Is(err, archive.ErrArchiveNotFound) {
		t.Errorf("Get after delete: %v", err)
	}
}

func TestDecodePayload_Base64Tolerance(t *testing.T) {
	t.Parallel()

	raw := []byte{0x1f, 0x8b, 0x08, 0x00, 0xff, 0xfe}
	encoded := []byte(base64.StdEncoding.EncodeToString(raw))

	if got := decodePayload(encoded); !bytes.Equal(got, raw) {
		t.Errorf("base64 payload not decoded: %x", got)
	}
	if got := decodePayload(raw); !bytes.Equal(got, raw) {
		t.Errorf("binary payload mangled: %x", got)
	}
}

func TestPolicyStore_ValidationAtIngestion(t *testing.T) {
	t.Parallel()
	stores := openTestStores(t)
	ctx := context.Background()

	err := stores.Policies.Put(ctx, archive.RetentionPolicy{
		PolicyName:         "bad",
		DataClassification: audit.ClassificationPHI,
		ArchiveAfterDays:   30,
		DeleteAfterDays:    10,
		IsActive:           true,
	})
	if !errors.Is(err, archive.ErrInvalidPolicy) {
		t.Fatalf("invalid policy err = %v", err)
	}

	if err := stores.Policies.Put(ctx, archive.RetentionPolicy{
		PolicyName:         "phi",
		DataClassification: audit.ClassificationPHI,
		ArchiveAfterDays:   30,
		DeleteAfterDays:    90,
		IsActive:           true,
	}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := stores.Policies.Put(ctx, archive.RetentionPolicy{
		PolicyName:         "inactive",
		DataClassification: audit.ClassificationPublic,
		ArchiveAfterDays:   10,
	}); err != nil {
		t.Fatalf("Put inactive: %v", err)
	}

	active, err := stores.Policies.Active(ctx)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if len(active) != 1 || active[0].PolicyName != "phi" {
		t.Errorf("active = %v", active)
	}
}
