// Package inspect lists the primary partitions of a disk image the way
// go-diskfs, and most firmware, reads them.
package inspect

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/diskfs/go-diskfs/partition/mbr"
)

const sectorSize = 512

type Row struct {
	Number   int
	Bootable bool
	Type     mbr.Type
	Start    uint32
	Size     uint32
	Offset   int64
	Bytes    int64
}

// List reads the MBR of the image at path. Tables without the 0x55AA
// signature or with attribute bytes other than 0x00/0x80 are rejected.
func List(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	table, err := mbr.Read(f, sectorSize, sectorSize)
	if err != nil {
		return nil, fmt.Errorf("read partition table: %w", err)
	}
	rows := make([]Row, 0, len(table.Partitions))
	for i, p := range table.Partitions {
		rows = append(rows, Row{
			Number:   i + 1,
			Bootable: p.Bootable,
			Type:     p.Type,
			Start:    p.Start,
			Size:     p.Size,
			Offset:   p.GetStart(),
			Bytes:    p.GetSize(),
		})
	}
	return rows, nil
}

// Print writes rows as an aligned table.
func Print(w io.Writer, rows []Row) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tBOOT\tTYPE\tSTART\tSECTORS\tOFFSET\tBYTES")
	for _, r := range rows {
		boot := ""
		if r.Bootable {
			boot = "*"
		}
		fmt.Fprintf(tw, "%d\t%s\t0x%02X\t%d\t%d\t%d\t%d\n", r.Number, boot, byte(r.Type), r.Start, r.Size, r.Offset, r.Bytes)
	}
	return tw.Flush()
}
