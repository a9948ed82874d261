package rowstore

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeVector serializes v as a little-endian float32 buffer, the wire
// shape EmbeddingRow.VecBytes carries across the store boundary.
func EncodeVector(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

// DecodeVector parses a little-endian float32 buffer produced by
// EncodeVector. It rejects buffers whose length isn't a multiple of 4 or
// that don't match dim, so malformed rows are caught at the boundary
// rather than propagating as silently-truncated vectors.
func DecodeVector(data []byte, dim int) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("rowstore: vector buffer length %d is not a multiple of 4", len(data))
	}
	n := len(data) / 4
	if dim > 0 && n != dim {
		return nil, fmt.Errorf("rowstore: vector buffer has %d floats, expected %d", n, dim)
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, nil
}
