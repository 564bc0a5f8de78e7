package storage

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// Segment values carry a one byte header so that compression can be turned
// on or off without rewriting existing data.
const (
	segmentRaw byte = 0
	segmentLZ4 byte = 1
)

func encodeSegment(data []byte, compress bool) ([]byte, error) {
	if compress && len(data) > 0 {
		var buf bytes.Buffer
		buf.WriteByte(segmentLZ4)
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("lz4 compression failed: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compression failed: %w", err)
		}
		// Incompressible content is kept raw.
		if buf.Len() < len(data)+1 {
			return buf.Bytes(), nil
		}
	}
	out := make([]byte, len(data)+1)
	out[0] = segmentRaw
	copy(out[1:], data)
	return out, nil
}

func decodeSegment(value []byte) ([]byte, error) {
	if len(value) == 0 {
		return nil, fmt.Errorf("empty segment value")
	}
	switch value[0] {
	case segmentRaw:
		return append([]byte(nil), value[1:]...), nil
	case segmentLZ4:
		r := lz4.NewReader(bytes.NewReader(value[1:]))
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompression failed: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unknown segment encoding %d", value[0])
	}
}
