package mbr

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrImageTooShort = errors.New("image does not cover the partition table")
)

// Decode interprets a 16-byte partition entry. Every bit pattern is a legal
// entry; only a slice of the wrong length is rejected, and that is a caller bug.
func Decode(b []byte) Entry {
	if len(b) != EntrySize {
		panic(fmt.Sprintf("mbr: decode %d bytes, want %d", len(b), EntrySize))
	}
	return Entry{
		Attributes: b[0],
		StartCHS:   getUint24(b[1:4]),
		Kind:       b[4],
		EndCHS:     getUint24(b[5:8]),
		StartLBA:   binary.LittleEndian.Uint32(b[8:12]),
		Length:     binary.LittleEndian.Uint32(b[12:16]),
	}
}

// Encode serializes e into its 16-byte on-disk form.
func (e Entry) Encode() []byte {
	b := make([]byte, 0, EntrySize)
	b = append(b, e.Attributes)
	b = appendUint24(b, e.StartCHS)
	b = append(b, e.Kind)
	b = appendUint24(b, e.EndCHS)
	b = binary.LittleEndian.AppendUint32(b, e.StartLBA)
	b = binary.LittleEndian.AppendUint32(b, e.Length)
	if len(b) != EntrySize {
		panic(fmt.Sprintf("mbr: encoded entry is %d bytes, want %d", len(b), EntrySize))
	}
	return b
}

// MarkActive returns a copy of e with the boot flag set. Other attribute
// bits are left as they were.
func (e Entry) MarkActive() Entry {
	e.Attributes |= ActiveFlag
	return e
}

func (e Entry) Active() bool {
	return e.Attributes&ActiveFlag != 0
}

// Empty reports whether the entry describes a zero-length partition.
func (e Entry) Empty() bool {
	return e.Length == 0
}

// Offset is the byte offset of the partition's first sector.
func (e Entry) Offset() int64 {
	return int64(e.StartLBA) * SectorSize
}

func (e Entry) String() string {
	return fmt.Sprintf("attr=0x%02X type=0x%02X start=%d length=%d", e.Attributes, e.Kind, e.StartLBA, e.Length)
}

// EntryOffset returns the byte offset of table slot index within the image.
func EntryOffset(index int) int {
	return TableOffset + index*EntrySize
}

// ReadTable decodes the four primary entries of image.
func ReadTable(image []byte) (Table, error) {
	var t Table
	if len(image) < TableEnd {
		return t, fmt.Errorf("%w: %d bytes, need %d", ErrImageTooShort, len(image), TableEnd)
	}
	for i := range t {
		off := EntryOffset(i)
		t[i] = Decode(image[off : off+EntrySize])
	}
	return t, nil
}

func getUint24(b []byte) uint32 {
	_ = b[2]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

func appendUint24(b []byte, v uint32) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16))
}
