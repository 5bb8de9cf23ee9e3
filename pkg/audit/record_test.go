package audit

import (
	"encoding/json"
	"testing"
	"time"
)

func TestRecord_MarshalFlattensExtras(t *testing.T) {
	t.Parallel()
	rec := Record{
		ID:             "evt-1",
		Timestamp:      time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		PrincipalID:    "user-7",
		OrganizationID: "org-A",
		Action:         "patient.view",
		Extras: map[string]any{
			"sourceIp": "10.0.0.1",
			"id":       "must-not-override",
		},
	}

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal raw: %v", err)
	}
	if raw["sourceIp"] != "10.0.0.1" {
		t.Errorf("sourceIp = %v, want 10.0.0.1", raw["sourceIp"])
	}
	if raw["id"] != "evt-1" {
		t.Errorf("extras overrode known field id: %v", raw["id"])
	}
}

func TestRecord_RoundTrip(t *testing.T) {
	t.Parallel()
	orig := Record{
		ID:                 "evt-2",
		Timestamp:          time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		OrganizationID:     "org-B",
		Action:             "record.delete",
		DataClassification: ClassificationPHI,
		RetentionPolicy:    "phi-7y",
		Extras:             map[string]any{"requestId": "req-9"},
	}

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got Record
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if got.ID != orig.ID || !got.Timestamp.Equal(orig.Timestamp) {
		t.Errorf("core fields differ: %+v", got)
	}
	if got.DataClassification != ClassificationPHI {
		t.Errorf("classification = %q", got.DataClassification)
	}
	if got.Extras["requestId"] != "req-9" {
		t.Errorf("extras lost: %+v", got.Extras)
	}
}

func TestRecord_UnmarshalUnknownFieldsToExtras(t *testing.T) {
	t.Parallel()
	data := []byte(`{"id":"evt-3","timestamp":"2025-03-01T00:00:00Z","custom":42,"nested":{"a":true}}`)

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if rec.Extras["custom"] != float64(42) {
		t.Errorf("custom = %v", rec.Extras["custom"])
	}
	nested, ok := rec.Extras["nested"].(map[string]any)
	if !ok || nested["a"] != true {
		t.Errorf("nested = %v", rec.Extras["nested"])
	}
}
