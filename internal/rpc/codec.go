package rpc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrMalformed is returned when a response does not decode exactly
var ErrMalformed = errors.New("malformed rpc payload")

// Entry is one item of a device's query response
type Entry struct {
	Type     byte
	Contents []byte
}

// EncodeEntries lays out [count uint16] then per entry
// [len uint32][type byte][contents], where len covers type and contents.
func EncodeEntries(entries []Entry) ([]byte, error) {
	if len(entries) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d entries", ErrMalformed, len(entries))
	}
	out := binary.BigEndian.AppendUint16(nil, uint16(len(entries)))
	for _, e := range entries {
		out = binary.BigEndian.AppendUint32(out, uint32(1+len(e.Contents)))
		out = append(out, e.Type)
		out = append(out, e.Contents...)
	}
	return out, nil
}

// DecodeEntries parses a query response strictly: every declared length must
// be present and no bytes may trail the last entry.
func DecodeEntries(data []byte) ([]Entry, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: missing entry count", ErrMalformed)
	}
	count := int(binary.BigEndian.Uint16(data))
	data = data[2:]

	entries := make([]Entry, 0, count)
	for i := 0; i < count; i++ {
		if len(data) < 4 {
			return nil, fmt.Errorf("%w: entry %d missing length", ErrMalformed, i)
		}
		n := binary.BigEndian.Uint32(data)
		data = data[4:]
		if n < 1 || uint64(n) > uint64(len(data)) {
			return nil, fmt.Errorf("%w: entry %d declares %d bytes, %d remain", ErrMalformed, i, n, len(data))
		}
		entries = append(entries, Entry{Type: data[0], Contents: append([]byte(nil), data[1:n]...)})
		data = data[n:]
	}
	if len(data) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(data))
	}
	return entries, nil
}

// EncodeSignal lays out [field uint16][data]
func EncodeSignal(field uint16, data []byte) []byte {
	return append(binary.BigEndian.AppendUint16(nil, field), data...)
}

// DecodeSignal splits a signal request
func DecodeSignal(p []byte) (uint16, []byte, error) {
	if len(p) < 2 {
		return 0, nil, fmt.Errorf("%w: signal of %d bytes", ErrMalformed, len(p))
	}
	return binary.BigEndian.Uint16(p), p[2:], nil
}
