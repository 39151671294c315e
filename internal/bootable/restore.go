package bootable

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"example.com/mkbootable/internal/common"
)

// RestoreStats reports what Restore did.
type RestoreStats struct {
	Applied    int
	Skipped    int
	Mismatches int
}

// Restore copies in to out and writes back the "before" bytes of every
// audit entry, newest first. Entries whose current bytes differ from their
// recorded "after" bytes are still restored and counted as mismatches.
func Restore(in, audit, out string) (RestoreStats, error) {
	var stats RestoreStats
	entries, err := common.ReadPatchLog(audit)
	if err != nil {
		return stats, fmt.Errorf("read audit: %w", err)
	}
	if len(entries) == 0 {
		return stats, errors.New("audit log is empty")
	}
	image, err := os.ReadFile(in)
	if err != nil {
		return stats, fmt.Errorf("read image: %w", err)
	}

	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		before, err := entry.BeforeBytes()
		if err != nil {
			common.Logf("skip entry %d: decode beforeHex failed: %v", i, err)
			stats.Skipped++
			continue
		}
		after, err := entry.AfterBytes()
		if err != nil {
			common.Logf("skip entry %d: decode afterHex failed: %v", i, err)
			stats.Skipped++
			continue
		}
		end := entry.Offset + int64(len(before))
		if entry.Offset < 0 || end > int64(len(image)) {
			common.Logf("skip entry %d: range %d..%d outside image", i, entry.Offset, end)
			stats.Skipped++
			continue
		}
		current := image[entry.Offset:end]
		if len(after) != len(before) || !bytes.Equal(current, after) {
			stats.Mismatches++
		}
		copy(current, before)
		stats.Applied++
	}

	mode := common.FileMode(in, 0o644)
	if err := common.WriteFileAtomic(out, image, mode); err != nil {
		return stats, fmt.Errorf("write restored image: %w", err)
	}
	return stats, nil
}
