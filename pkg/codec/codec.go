// Package codec defines how keys and values cross the byte boundary of the
// storage engine. A codec must round-trip exactly: Decode(Encode(v)) == v.
package codec

import (
	"encoding/binary"
	"fmt"
)

// Codec converts a value to and from its byte representation. The engine
// never inspects encoded bytes beyond handing them back to Decode.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(b []byte) (T, error)
}

// Uint64 encodes uint64 keys big-endian, so byte order matches numeric order.
type Uint64 struct{}

func (Uint64) Encode(v uint64) ([]byte, error) {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b, nil
}

func (Uint64) Decode(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("codec: uint64 wants 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// String encodes strings as their raw UTF-8 bytes.
type String struct{}

func (String) Encode(v string) ([]byte, error) { return []byte(v), nil }

func (String) Decode(b []byte) (string, error) { return string(b), nil }

// Bytes passes byte slices through, copying so callers cannot alias page
// memory.
type Bytes struct{}

func (Bytes) Encode(v []byte) ([]byte, error) {
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (Bytes) Decode(b []byte) ([]byte, error) {
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}
