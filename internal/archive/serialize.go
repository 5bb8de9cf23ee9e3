package archive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/smedrec/smart-logs/pkg/audit"
)

// ErrUnsupportedFormat is returned for serialization formats the engine
// does not understand. Fatal to the operation.
var ErrUnsupportedFormat = errors.New("archive: unsupported format")

// serialize renders records in the given format.
func serialize(records []audit.Record, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		data, err := json.Marshal(records)
		if err != nil {
			return nil, fmt.Errorf("archive: serializing records: %w", err)
		}
		return data, nil

	case FormatJSONL:
		var buf bytes.Buffer
		for i, rec := range records {
			line, err := json.Marshal(rec)
			if err != nil {
				return nil, fmt.Errorf("archive: serializing record %s: %w", rec.ID, err)
			}
			if i > 0 {
				buf.WriteByte('\n')
			}
			buf.Write(line)
		}
		return buf.Bytes(), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// deserialize parses records from the given format. A trailing newline in
// JSONL input is tolerated.
func deserialize(data []byte, format Format) ([]audit.Record, error) {
	switch format {
	case FormatJSON:
		var records []audit.Record
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("archive: deserializing records: %w", err)
		}
		return records, nil

	case FormatJSONL:
		var records []audit.Record
		for _, line := range bytes.Split(data, []byte{'\n'}) {
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var rec audit.Record
			if err := json.Unmarshal(line, &rec); err != nil {
				return nil, fmt.Errorf("archive: deserializing line: %w", err)
			}
			records = append(records, rec)
		}
		return records, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}
