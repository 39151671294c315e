package bootable

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"example.com/mkbootable/internal/common"
	"example.com/mkbootable/internal/crypto"
	"example.com/mkbootable/internal/manifest"
	"example.com/mkbootable/internal/report"
)

// Options configures a file-level build.
type Options struct {
	Input      string
	Output     string
	Bootsector string

	// Optional artifacts. Empty paths are skipped.
	AuditLog string
	Manifest string
	Report   string // .json for a machine-readable summary, PDF otherwise

	// SignKey is an RSA private key (PEM) used to write a detached JWS of
	// the manifest next to it. SignCert optionally names the signer in the
	// manifest.
	SignKey  string
	SignCert string

	Progress io.Writer
}

// Run reads the input image and bootsector, patches the image and writes it
// to Output. Audit entries, manifest and report are written before the
// output, so any failure leaves Output as it was.
func Run(opts Options) (Result, error) {
	progress := opts.Progress
	if progress == nil {
		progress = io.Discard
	}
	if opts.SignKey != "" && opts.Manifest == "" {
		return Result{}, errors.New("signing requires a manifest path")
	}
	image, err := os.ReadFile(opts.Input)
	if err != nil {
		return Result{}, fmt.Errorf("read image: %w", err)
	}
	inputHash := common.Sha256Hex(image)
	bootsector, err := os.ReadFile(opts.Bootsector)
	if err != nil {
		return Result{}, fmt.Errorf("read bootsector: %w", err)
	}
	common.Logf("image %s: %d bytes, bootsector %s: %d bytes", opts.Input, len(image), opts.Bootsector, len(bootsector))

	res, err := Build(image, bootsector, progress)
	if err != nil {
		return Result{}, err
	}

	if opts.Manifest != "" {
		if err := writeManifest(opts, res); err != nil {
			return res, fmt.Errorf("manifest: %w", err)
		}
	}
	if opts.Report != "" {
		s := summarize(opts, res, inputHash)
		save := report.SavePatchPDF
		if strings.EqualFold(filepath.Ext(opts.Report), ".json") {
			save = report.SaveSummaryJSON
		}
		if err := save(s, opts.Report); err != nil {
			return res, fmt.Errorf("report: %w", err)
		}
	}
	// An entry whose image write then fails restores bytes that are already
	// in place, so undo stays safe.
	if opts.AuditLog != "" {
		entries := make([]common.PatchEntry, 0, len(res.Patches))
		for _, p := range res.Patches {
			entries = append(entries, common.NewPatchEntry(p.Region, opts.Output, p.Offset, p.Before, p.After))
		}
		if err := common.NewPatchLog(opts.AuditLog).Append(entries...); err != nil {
			return res, fmt.Errorf("audit log: %w", err)
		}
	}

	fmt.Fprintln(progress, "writing new image to file")
	mode := common.FileMode(opts.Input, 0o644)
	if err := common.WriteFileAtomic(opts.Output, res.Image, mode); err != nil {
		return res, fmt.Errorf("write image: %w", err)
	}
	common.Logf("wrote %s (partition %d, %s)", opts.Output, res.Index+1, res.Entry)
	return res, nil
}

// writeManifest hashes the patched image from memory, and signs the manifest
// when a key is configured.
func writeManifest(opts Options, res Result) error {
	m, err := manifest.Build(res.Index+1, []manifest.Input{
		{Role: "output", Path: opts.Output, Data: res.Image},
		{Role: "bootsector", Path: opts.Bootsector},
	})
	if err != nil {
		return err
	}
	if opts.SignKey == "" {
		return manifest.Save(m, opts.Manifest)
	}

	keyBytes, err := os.ReadFile(opts.SignKey)
	if err != nil {
		return fmt.Errorf("read key: %w", err)
	}
	sigPath := manifest.SignaturePath(opts.Manifest)
	m.Signature = &manifest.Signature{Type: "jws-detached", SignatureFile: sigPath}
	if opts.SignCert != "" {
		certBytes, err := os.ReadFile(opts.SignCert)
		if err != nil {
			return fmt.Errorf("read cert: %w", err)
		}
		cert, err := crypto.ParseCertificate(certBytes)
		if err != nil {
			return fmt.Errorf("parse cert: %w", err)
		}
		m.Signature.CertSubject = cert.Subject.String()
		m.Signature.Issuer = cert.Issuer.String()
	}

	payload, err := manifest.Marshal(m)
	if err != nil {
		return err
	}
	jws, err := crypto.SignDetachedJWS(payload, keyBytes)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	jwsBytes, err := json.MarshalIndent(jws, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(sigPath, jwsBytes, 0o644); err != nil {
		return err
	}
	common.Logf("signed manifest %s -> %s", opts.Manifest, sigPath)
	return os.WriteFile(opts.Manifest, payload, 0o644)
}

func summarize(opts Options, res Result, inputHash string) report.Summary {
	s := report.Summary{
		CreatedAt:    time.Now().UTC(),
		Input:        opts.Input,
		Output:       opts.Output,
		Bootsector:   opts.Bootsector,
		Partition:    res.Index + 1,
		PartType:     res.Entry.Kind,
		StartLBA:     res.Entry.StartLBA,
		Length:       res.Entry.Length,
		Attributes:   res.Entry.Attributes,
		InputSha256:  inputHash,
		OutputSha256: common.Sha256Hex(res.Image),
	}
	for _, p := range res.Patches {
		s.Patches = append(s.Patches, report.PatchRow{
			Region: p.Region,
			Offset: p.Offset,
			Length: len(p.After),
			Change: !p.noop(),
		})
	}
	return s
}
