package archive

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// ErrUnsupportedCompression is returned for algorithms the engine does not
// understand. Fatal to the operation.
var ErrUnsupportedCompression = errors.New("archive: unsupported compression algorithm")

// compress applies the algorithm at the given level (0-9; 0 stores without
// compressing).
func compress(data []byte, algorithm Algorithm, level int) ([]byte, error) {
	switch algorithm {
	case AlgorithmNone:
		return data, nil

	case AlgorithmGzip:
		var buf bytes.Buffer
		w, err := gzip.NewWriterLevel(&buf, level)
		if err != nil {
			return nil, fmt.Errorf("archive: gzip level %d: %w", level, err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("archive: gzip write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("archive: gzip close: %w", err)
		}
		return buf.Bytes(), nil

	case AlgorithmDeflate:
		var buf bytes.Buffer
		w, err := flate.NewWriter(&buf, level)
		if err != nil {
			return nil, fmt.Errorf("archive: deflate level %d: %w", level, err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("archive: deflate write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("archive: deflate close: %w", err)
		}
		return buf.Bytes(), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCompression, algorithm)
	}
}

// decompress reverses compress for the recorded algorithm.
func decompress(data []byte, algorithm Algorithm) ([]byte, error) {
	switch algorithm {
	case AlgorithmNone:
		return data, nil

	case AlgorithmGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("archive: gzip reader: %w", err)
		}
		defer func() { _ = r.Close() }()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("archive: gzip read: %w", err)
		}
		return out, nil

	case AlgorithmDeflate:
		r := flate.NewReader(bytes.NewReader(data))
		defer func() { _ = r.Close() }()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("archive: deflate read: %w", err)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCompression, algorithm)
	}
}

// checksum returns the hex SHA-256 of data.
func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
