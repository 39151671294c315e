package report

import (
	"encoding/json"
	"os"
	"time"
)

// PatchRow is one rewritten byte range as shown in the report.
type PatchRow struct {
	Region string `json:"region"`
	Offset int64  `json:"offset"`
	Length int    `json:"length"`
	Change bool   `json:"changed"`
}

// Summary describes a single bootable-image run.
type Summary struct {
	CreatedAt    time.Time  `json:"createdAt"`
	Input        string     `json:"input"`
	Output       string     `json:"output"`
	Bootsector   string     `json:"bootsector"`
	Partition    int        `json:"partition"`
	PartType     uint8      `json:"partitionType"`
	StartLBA     uint32     `json:"startLba"`
	Length       uint32     `json:"length"`
	Attributes   uint8      `json:"attributes"`
	InputSha256  string     `json:"inputSha256"`
	OutputSha256 string     `json:"outputSha256"`
	Patches      []PatchRow `json:"patches"`
}

func SaveSummaryJSON(s Summary, out string) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}
