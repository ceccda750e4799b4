package surf

import (
	"encoding/binary"
	"math"

	"sneldb/internal/schema"
)

// Encode renders a ScalarValue as a byte string whose lexicographic byte
// order matches the value's natural order, so the trie's `=`/`<`/`>`
// queries compose directly with Go's `bytes.Compare`. Integers and
// timestamps are big-endian with the sign bit flipped (so negative values
// sort before positive); floats use the IEEE-754 sortable-bits transform;
// strings/binary/JSON encode as their raw bytes, which already compare
// correctly under byte order.
func Encode(v schema.ScalarValue) ([]byte, bool) {
	switch v.Type {
	case schema.LogicalInteger:
		return encodeInt64(v.Int64), true
	case schema.LogicalTimestamp:
		return encodeInt64(v.Timestamp), true
	case schema.LogicalFloat:
		return encodeFloat64(v.Float64), true
	case schema.LogicalBoolean:
		if v.Bool {
			return []byte{1}, true
		}
		return []byte{0}, true
	case schema.LogicalString, schema.LogicalJSON:
		return []byte(v.Utf8), true
	case schema.LogicalBinary:
		return v.Binary, true
	default:
		return nil, false
	}
}

func encodeInt64(i int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(i)^(1<<63))
	return buf[:]
}

func encodeFloat64(f float64) []byte {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], bits)
	return buf[:]
}
