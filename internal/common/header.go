package common

import (
	"encoding/binary"
	"fmt"
	"io"
)

// FileKind identifies the on-disk format of a binary segment file (§6.4).
// Each kind gets a distinct magic number so a mismatched loader fails fast
// with ErrInvalidMagic instead of misinterpreting bytes.
type FileKind uint16

const (
	FileKindColumn FileKind = iota + 1
	FileKindZoneSurf
	FileKindZoneXor
	FileKindZoneIndex
	FileKindCatalog
	FileKindSegmentIndex
)

func (k FileKind) magic() uint32 {
	// "SNDB" (0x534e4442) XORed with the kind shifted into the second
	// byte, so every file type gets a
	// distinct, easily-recognizable magic while staying derivable from one
	// base constant.
	return 0x534e4442 ^ (uint32(k) << 8)
}

// BinaryHeaderLen is the fixed on-disk size of BinaryHeader (§6.4).
const BinaryHeaderLen = 16

// BinaryHeader is the 16-byte header every segment binary file begins
// with (§6.4): magic (per FileKind), kind, a major/minor format version,
// and a reserved word for future use.
type BinaryHeader struct {
	Magic    uint32
	Kind     FileKind
	Major    uint8
	Minor    uint8
	Reserved uint64
}

// NewBinaryHeader builds the header for kind at the given format version.
func NewBinaryHeader(kind FileKind, major, minor uint8) BinaryHeader {
	return BinaryHeader{Magic: kind.magic(), Kind: kind, Major: major, Minor: minor}
}

// WriteTo serializes the header in a fixed 16-byte little-endian layout.
func (h BinaryHeader) WriteTo(w io.Writer) error {
	var buf [BinaryHeaderLen]byte
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(h.Kind))
	buf[6] = h.Major
	buf[7] = h.Minor
	binary.LittleEndian.PutUint64(buf[8:16], h.Reserved)
	_, err := w.Write(buf[:])
	return err
}

// ReadBinaryHeader reads and validates a BinaryHeader against the expected
// kind, returning ErrInvalidMagic on mismatch (§6.4, §7 Corruption).
func ReadBinaryHeader(r io.Reader, want FileKind) (BinaryHeader, error) {
	var buf [BinaryHeaderLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return BinaryHeader{}, fmt.Errorf("read binary header: %w", err)
	}
	h := BinaryHeader{
		Magic:    binary.LittleEndian.Uint32(buf[0:4]),
		Kind:     FileKind(binary.LittleEndian.Uint16(buf[4:6])),
		Major:    buf[6],
		Minor:    buf[7],
		Reserved: binary.LittleEndian.Uint64(buf[8:16]),
	}
	if h.Magic != want.magic() || h.Kind != want {
		return h, ErrInvalidMagicError(fmt.Sprintf("kind=%d", want))
	}
	return h, nil
}
