package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// encodePayload serializes a value and compresses it when compression is
// enabled and the serialized form exceeds the threshold. The returned bool
// reports whether the payload was compressed.
func encodePayload(value any, compress bool, threshold int) ([]byte, bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, false, fmt.Errorf("marshal cache value: %w", err)
	}

	if !compress || len(data) <= threshold {
		return data, false, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return nil, false, fmt.Errorf("compress cache value: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, false, fmt.Errorf("compress cache value: %w", err)
	}

	// Compression can inflate incompressible payloads; keep the smaller form.
	if buf.Len() >= len(data) {
		return data, false, nil
	}

	return buf.Bytes(), true, nil
}

// decodePayload reverses encodePayload into dest.
func decodePayload(payload []byte, compressed bool, dest any) error {
	data := payload

	if compressed {
		zr, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("%w: gzip header: %v", ErrInvalidEntry, err)
		}
		data, err = io.ReadAll(zr)
		if cerr := zr.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("%w: decompress: %v", ErrInvalidEntry, err)
		}
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: unmarshal: %v", ErrInvalidEntry, err)
	}

	return nil
}
