package mbr

const (
	SectorSize  = 512
	TableOffset = 0x1BE
	EntrySize   = 16
	EntryCount  = 4
	ActiveFlag  = 0x80

	// TableEnd is the first byte past the fourth entry (the 0x55AA signature).
	TableEnd = TableOffset + EntryCount*EntrySize
)

// Entry is one 16-byte MBR partition table slot. CHS values are kept as
// 24-bit little-endian integers and are never interpreted.
type Entry struct {
	Attributes uint8
	StartCHS   uint32
	Kind       uint8
	EndCHS     uint32
	StartLBA   uint32
	Length     uint32
}

// Table holds the four primary entries in on-disk order.
type Table [EntryCount]Entry
