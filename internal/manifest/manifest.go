package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"example.com/mkbootable/internal/common"
)

type Item struct {
	Role   string `json:"role"`
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Sha256 string `json:"sha256"`
	Type   string `json:"type"`
}

type Manifest struct {
	CreatedAt time.Time  `json:"createdAt"`
	ShaAlgo   string     `json:"shaAlgo"`
	Partition int        `json:"partition"`
	Items     []Item     `json:"items"`
	Signature *Signature `json:"signature,omitempty"`
}

type Signature struct {
	Type          string `json:"type"`
	CertSubject   string `json:"certSubject,omitempty"`
	Issuer        string `json:"issuer,omitempty"`
	SignatureFile string `json:"signatureFile,omitempty"`
}

// Input names a file to hash together with its role in the run
// ("input", "output", "bootsector", ...). When Data is non-nil it is hashed
// in place of the file, which may not have been written yet.
type Input struct {
	Role string
	Path string
	Data []byte
}

func Build(partition int, inputs []Input) (Manifest, error) {
	m := Manifest{CreatedAt: time.Now().UTC(), ShaAlgo: "sha256", Partition: partition}
	for _, in := range inputs {
		var (
			hex string
			sz  int64
			err error
		)
		if in.Data != nil {
			hex, sz = common.Sha256Hex(in.Data), int64(len(in.Data))
		} else if hex, sz, err = common.Sha256OfFile(in.Path); err != nil {
			return m, err
		}
		m.Items = append(m.Items, Item{Role: in.Role, Path: in.Path, Size: sz, Sha256: hex, Type: fileType(in.Path)})
	}
	return m, nil
}

func fileType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".img", ".dmg", ".raw", ".iso", ".bin":
		return "image"
	case ".jsonl":
		return "audit"
	case ".json":
		return "json"
	case ".pdf":
		return "pdf"
	}
	return "other"
}

// Item returns the first item with the given role.
func (m Manifest) Item(role string) (Item, bool) {
	for _, it := range m.Items {
		if it.Role == role {
			return it, true
		}
	}
	return Item{}, false
}

// Check re-hashes every item and returns those whose file no longer matches.
func (m Manifest) Check() ([]Item, error) {
	var changed []Item
	for _, it := range m.Items {
		hex, sz, err := common.Sha256OfFile(it.Path)
		if err != nil {
			return nil, err
		}
		if hex != it.Sha256 || sz != it.Size {
			changed = append(changed, it)
		}
	}
	return changed, nil
}

// SignaturePath is where the detached signature of the manifest at path is
// written: the same name with a .jws extension.
func SignaturePath(path string) string {
	ext := filepath.Ext(path)
	return path[:len(path)-len(ext)] + ".jws"
}

func Marshal(m Manifest) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

func Save(m Manifest, out string) error {
	b, err := Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}

func Load(path string) (Manifest, error) {
	var m Manifest
	b, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(b, &m)
	return m, err
}
