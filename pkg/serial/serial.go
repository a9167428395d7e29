// Package serial provides the external key/value collaborator contract
// Mavibot delegates to: byte-level serialization plus a total order, kept
// outside the core so the engine never needs to know what a key "means".
package serial

import (
	"bufio"
	"encoding/binary"
	"io"
)

// KeySerializer turns a key of type K into bytes and back, and defines the
// key order through Compare. The B+tree orders keys by bytes.Compare of
// their serialized form and does not call Compare, so Serialize must
// preserve Compare's order under plain byte comparison. Implementations must
// round-trip: Deserialize(Serialize(k)) == k, and must produce byte-exact
// output on re-serialization of the same logical value.
type KeySerializer[K any] interface {
	Serialize(k K) []byte
	Deserialize(r io.Reader) (K, error)
	Compare(a, b K) int
}

// ValueSerializer turns a value of type V into bytes and back. Values carry
// no ordering requirement.
type ValueSerializer[V any] interface {
	Serialize(v V) []byte
	Deserialize(r io.Reader) (V, error)
}

// Uint64Serializer encodes uint64 keys/values as 8-byte big-endian, which is
// already order-preserving with no sign handling required.
type Uint64Serializer struct{}

func (Uint64Serializer) Serialize(k uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], k)
	return buf[:]
}

func (Uint64Serializer) Deserialize(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

func (Uint64Serializer) Compare(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Int64Serializer flips the sign bit before big-endian encoding so that
// two's-complement negative numbers still sort before positive ones under a
// plain byte comparison, the same trick tree_db's composite-key encoder uses
// for TYPE_INT64.
type Int64Serializer struct{}

func (Int64Serializer) Serialize(k int64) []byte {
	var buf [8]byte
	u := uint64(k) + (1 << 63)
	binary.BigEndian.PutUint64(buf[:], u)
	return buf[:]
}

func (Int64Serializer) Deserialize(r io.Reader) (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	u := binary.BigEndian.Uint64(buf[:])
	return int64(u - (1 << 63)), nil
}

func (Int64Serializer) Compare(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// StringSerializer encodes UTF-8 strings as their raw bytes with no length
// prefix; Deserialize reads to the end of the reader. Unlike tree_db's
// null-terminated composite-key strings, Mavibot's leaf/node codec (C5) is
// itself length-prefixed end to end and bounds each key and value, so no
// escaping of embedded NUL bytes is needed here.
type StringSerializer struct{}

func (StringSerializer) Serialize(k string) []byte {
	return []byte(k)
}

func (StringSerializer) Deserialize(r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (StringSerializer) Compare(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// BytesSerializer treats the key/value as an opaque byte string compared
// lexicographically.
type BytesSerializer struct{}

func (BytesSerializer) Serialize(k []byte) []byte {
	return k
}

func (BytesSerializer) Deserialize(r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (BytesSerializer) Compare(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// NewReader adapts a byte slice into the io.Reader the Deserialize methods
// expect, buffered the way bufio.NewReader is used throughout the pack's
// decoders.
func NewReader(b []byte) *bufio.Reader {
	return bufio.NewReader(errReaderOf(b))
}

type byteReader struct {
	b   []byte
	pos int
}

func errReaderOf(b []byte) io.Reader {
	return &byteReader{b: b}
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}
