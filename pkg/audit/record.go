// Package audit defines the data contract for audit records flowing through
// ingestion, delivery, quarantine, and archival.
package audit

import (
	"encoding/json"
	"time"
)

// DataClassification categorizes a record for retention and access purposes.
type DataClassification string

// Well-known classifications. The set is open: policies may name others.
const (
	ClassificationPublic       DataClassification = "PUBLIC"
	ClassificationInternal     DataClassification = "INTERNAL"
	ClassificationConfidential DataClassification = "CONFIDENTIAL"
	ClassificationPHI          DataClassification = "PHI"
)

// Record is a single audit event. Known fields are typed; anything else a
// producer attaches survives round-trips through Extras.
type Record struct {
	ID                 string             `json:"id"`
	Timestamp          time.Time          `json:"timestamp"`
	PrincipalID        string             `json:"principalId,omitempty"`
	OrganizationID     string             `json:"organizationId,omitempty"`
	Action             string             `json:"action,omitempty"`
	DataClassification DataClassification `json:"dataClassification,omitempty"`
	RetentionPolicy    string             `json:"retentionPolicy,omitempty"`
	ArchivedAt         *time.Time         `json:"archivedAt,omitempty"`

	// Extras holds producer-specific fields that are not part of the core
	// contract. They are flattened into the top-level JSON object.
	Extras map[string]any `json:"-"`
}

// knownFields are the top-level JSON keys owned by Record itself.
var knownFields = map[string]struct{}{
	"id":                 {},
	"timestamp":          {},
	"principalId":        {},
	"organizationId":     {},
	"action":             {},
	"dataClassification": {},
	"retentionPolicy":    {},
	"archivedAt":         {},
}

// MarshalJSON flattens Extras into the top-level object. Extras never
// override known fields.
func (r Record) MarshalJSON() ([]byte, error) {
	type alias Record
	base, err := json.Marshal(alias(r))
	if err != nil {
		return nil, err
	}
	if len(r.Extras) == 0 {
		return base, nil
	}

	var merged map[string]any
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range r.Extras {
		if _, owned := knownFields[k]; owned {
			continue
		}
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON collects unknown top-level keys into Extras.
func (r *Record) UnmarshalJSON(data []byte) error {
	type alias Record
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*r = Record(a)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if _, owned := knownFields[k]; owned {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		if r.Extras == nil {
			r.Extras = make(map[string]any)
		}
		r.Extras[k] = val
	}
	return nil
}

// IsArchived reports whether the record has already been archived.
func (r *Record) IsArchived() bool {
	return r.ArchivedAt != nil
}
