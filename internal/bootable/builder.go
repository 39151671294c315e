package bootable

import (
	"errors"
	"fmt"
	"io"

	"example.com/mkbootable/internal/mbr"
)

const (
	// Bytes [0, StubSize) of a boot sector hold the jump stub and BPB and are
	// never overwritten.
	StubSize = 0x5A
	// PayloadSize is the number of bootsector bytes spliced into the image.
	PayloadSize = mbr.SectorSize - StubSize

	RegionTableEntry = "table-entry"
	RegionBootsector = "bootsector"
)

var (
	ErrNoBootablePartition = errors.New("could not find partition with non-zero length")
	ErrBootsectorTooShort  = errors.New("bootsector too short")
	ErrSectorOutOfRange    = errors.New("partition boot sector lies outside the image")
)

// Patch records one byte range rewritten in the image.
type Patch struct {
	Region string
	Offset int64
	Before []byte
	After  []byte
}

// Result describes a completed build.
type Result struct {
	Image     []byte
	Index     int
	Entry     mbr.Entry
	Patches   []Patch
	Unchanged bool
}

// LocateCandidate returns the first table slot whose length is non-zero.
// ok is false when all four slots are empty.
func LocateCandidate(image []byte) (index int, entry mbr.Entry, ok bool, err error) {
	table, err := mbr.ReadTable(image)
	if err != nil {
		return 0, mbr.Entry{}, false, err
	}
	for i, e := range table {
		if !e.Empty() {
			return i, e, true, nil
		}
	}
	return 0, mbr.Entry{}, false, nil
}

// PatchTableEntry writes the encoded entry into slot index of image.
func PatchTableEntry(image []byte, index int, entry mbr.Entry) Patch {
	off := mbr.EntryOffset(index)
	encoded := entry.Encode()
	p := Patch{
		Region: RegionTableEntry,
		Offset: int64(off),
		Before: clone(image[off : off+mbr.EntrySize]),
		After:  encoded,
	}
	copy(image[off:off+mbr.EntrySize], encoded)
	return p
}

// SpliceBootsector copies bootsector[StubSize:SectorSize] over the same
// range of the partition's first sector.
func SpliceBootsector(image []byte, entry mbr.Entry, bootsector []byte) (Patch, error) {
	if len(bootsector) < mbr.SectorSize {
		return Patch{}, fmt.Errorf("%w: %d bytes, need %d", ErrBootsectorTooShort, len(bootsector), mbr.SectorSize)
	}
	start := entry.Offset() + StubSize
	end := entry.Offset() + mbr.SectorSize
	if end > int64(len(image)) {
		return Patch{}, fmt.Errorf("%w: sector %d ends at byte %d, image is %d bytes",
			ErrSectorOutOfRange, entry.StartLBA, end, len(image))
	}
	payload := bootsector[StubSize:mbr.SectorSize]
	p := Patch{
		Region: RegionBootsector,
		Offset: start,
		Before: clone(image[start:end]),
		After:  clone(payload),
	}
	copy(image[start:end], payload)
	return p, nil
}

// Build patches image in place: the first non-empty partition is marked
// active and receives the bootsector payload. Progress lines are written to
// progress if it is non-nil.
func Build(image, bootsector []byte, progress io.Writer) (Result, error) {
	if progress == nil {
		progress = io.Discard
	}
	fmt.Fprintln(progress, "searching for first partition with non-zero length")
	index, entry, ok, err := LocateCandidate(image)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, ErrNoBootablePartition
	}
	// Validated before the table is touched so a failed build leaves image as it was.
	if len(bootsector) < mbr.SectorSize {
		return Result{}, fmt.Errorf("%w: %d bytes, need %d", ErrBootsectorTooShort, len(bootsector), mbr.SectorSize)
	}
	if end := entry.Offset() + mbr.SectorSize; end > int64(len(image)) {
		return Result{}, fmt.Errorf("%w: sector %d ends at byte %d, image is %d bytes",
			ErrSectorOutOfRange, entry.StartLBA, end, len(image))
	}
	num := index + 1
	fmt.Fprintf(progress, "partition %d has non-zero length\n", num)

	fmt.Fprintf(progress, "setting partition %d as active/bootable\n", num)
	entry = entry.MarkActive()
	tablePatch := PatchTableEntry(image, index, entry)

	fmt.Fprintf(progress, "writing bootsector to partition %d\n", num)
	bootPatch, err := SpliceBootsector(image, entry, bootsector)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Image:   image,
		Index:   index,
		Entry:   entry,
		Patches: []Patch{tablePatch, bootPatch},
	}
	res.Unchanged = tablePatch.noop() && bootPatch.noop()
	return res, nil
}

func (p Patch) noop() bool {
	return string(p.Before) == string(p.After)
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
