package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"example.com/mkbootable/internal/bootable"
	"example.com/mkbootable/internal/common"
	"example.com/mkbootable/internal/crypto"
	"example.com/mkbootable/internal/inspect"
	"example.com/mkbootable/internal/manifest"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const (
	exitOK       = 0
	exitNoTarget = 1
	exitUsage    = 64
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "undo":
			os.Exit(undoCmd(os.Args[2:], os.Stdout))
		case "inspect":
			os.Exit(inspectCmd(os.Args[2:], os.Stdout))
		case "verify":
			os.Exit(verifyCmd(os.Args[2:], os.Stdout))
		case "help", "-h", "--help":
			usage(os.Stdout)
			return
		}
	}
	os.Exit(buildCmd(os.Args[1:], os.Stdout))
}

func usage(w io.Writer) {
	fmt.Fprintf(w, `mkbootable %s (built %s)

Usage:
  mkbootable [options] <input> <output> <bootsector>
  mkbootable undo --in <patched.img> --audit <audit.jsonl> --out <restored.img>
  mkbootable inspect <image>
  mkbootable verify --manifest <file.json> --cert <cert.pem> [--jws <file.jws>]

Options:
  --config <config.yaml>  audit/manifest/report defaults and log rotation
  --audit <file.jsonl>    append the patched byte ranges to an audit log
  --manifest <file.json>  write sha256 manifest of output and bootsector
  --sign <key.pem>        sign the manifest; the JWS is written beside it
  --cert <cert.pem>       signer certificate recorded in the manifest
  --report <file.pdf>     write a PDF report of the run
  --quiet                 suppress progress messages

Exit status: 0 ok, 1 no partition with non-zero length, 2 error, 64 usage.
`, version, buildDate)
}

func buildCmd(args []string, stdout io.Writer) int {
	fs := newFlagSet("mkbootable", stdout)
	fs.Usage = func() { usage(fs.Output()) }
	configPath := fs.String("config", "", "yaml configuration file")
	audit := fs.String("audit", "", "audit log (jsonl)")
	manifestOut := fs.String("manifest", "", "manifest output (json)")
	signKey := fs.String("sign", "", "PEM private key for signing the manifest")
	signCert := fs.String("cert", "", "PEM certificate describing signer")
	reportOut := fs.String("report", "", "report output (pdf)")
	quiet := fs.Bool("quiet", false, "suppress progress messages")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	if fs.NArg() != 3 {
		usage(stdout)
		return exitUsage
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		common.Fatalf("load config: %v", err)
	}
	rotator, err := setupLogging(cfg)
	if err != nil {
		common.Fatalf("setup logging: %v", err)
	}
	if rotator != nil {
		defer func() {
			common.SetLogOutput(os.Stderr)
			rotator.Close()
		}()
	}

	opts := bootable.Options{
		Input:      fs.Arg(0),
		Output:     fs.Arg(1),
		Bootsector: fs.Arg(2),
		AuditLog:   firstNonEmpty(*audit, cfg.Audit),
		Manifest:   firstNonEmpty(*manifestOut, cfg.Manifest),
		Report:     firstNonEmpty(*reportOut, cfg.Report),
		SignKey:    firstNonEmpty(*signKey, cfg.SignKey),
		SignCert:   firstNonEmpty(*signCert, cfg.SignCert),
		Progress:   stdout,
	}
	if *quiet {
		opts.Progress = io.Discard
	}

	if _, err := bootable.Run(opts); err != nil {
		if errors.Is(err, bootable.ErrNoBootablePartition) {
			fmt.Fprintln(stdout, err)
			return exitNoTarget
		}
		common.Logf("fatal: %v", err)
		return common.ExitFatal
	}
	return exitOK
}

func undoCmd(args []string, stdout io.Writer) int {
	fs := newFlagSet("undo", stdout)
	in := fs.String("in", "", "patched disk image")
	audit := fs.String("audit", "", "audit log (jsonl)")
	out := fs.String("out", "", "restored output file")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	if *in == "" || *audit == "" || *out == "" {
		fmt.Fprintln(stdout, "required: --in, --audit, --out")
		return exitUsage
	}

	patchedHash, _, err := common.Sha256OfFile(*in)
	if err != nil {
		common.Logf("hash input: %v", err)
		return common.ExitFatal
	}
	stats, err := bootable.Restore(*in, *audit, *out)
	if err != nil {
		common.Logf("undo: %v", err)
		return common.ExitFatal
	}
	restoredHash, _, err := common.Sha256OfFile(*out)
	if err != nil {
		common.Logf("hash restored: %v", err)
		return common.ExitFatal
	}

	fmt.Fprintf(stdout, "Restored %d patch(es) to %s\n", stats.Applied, *out)
	fmt.Fprintf(stdout, "Patched SHA256: %s\n", patchedHash)
	fmt.Fprintf(stdout, "Restored SHA256: %s\n", restoredHash)
	if stats.Skipped > 0 {
		fmt.Fprintf(stdout, "Warning: skipped %d unusable audit entries.\n", stats.Skipped)
	}
	if stats.Mismatches > 0 {
		fmt.Fprintf(stdout, "Warning: %d patch(es) did not match expected patched bytes; original bytes reapplied regardless.\n", stats.Mismatches)
	}
	return exitOK
}

func inspectCmd(args []string, stdout io.Writer) int {
	fs := newFlagSet("inspect", stdout)
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stdout, "usage: mkbootable inspect <image>")
		return exitUsage
	}
	rows, err := inspect.List(fs.Arg(0))
	if err != nil {
		common.Logf("inspect: %v", err)
		return common.ExitFatal
	}
	if err := inspect.Print(stdout, rows); err != nil {
		common.Logf("inspect: %v", err)
		return common.ExitFatal
	}
	return exitOK
}

func verifyCmd(args []string, stdout io.Writer) int {
	fs := newFlagSet("verify", stdout)
	manifestPath := fs.String("manifest", "", "manifest JSON file")
	jwsPath := fs.String("jws", "", "manifest JWS signature file (defaults to manifest path with .jws)")
	certPath := fs.String("cert", "", "signer certificate or public key (PEM)")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	if *manifestPath == "" || *certPath == "" {
		fmt.Fprintln(stdout, "required: --manifest, --cert")
		return exitUsage
	}
	sigPath := firstNonEmpty(*jwsPath, manifest.SignaturePath(*manifestPath))

	manifestBytes, err := os.ReadFile(*manifestPath)
	if err != nil {
		common.Logf("read manifest: %v", err)
		return common.ExitFatal
	}
	jwsBytes, err := os.ReadFile(sigPath)
	if err != nil {
		common.Logf("read jws: %v", err)
		return common.ExitFatal
	}
	certBytes, err := os.ReadFile(*certPath)
	if err != nil {
		common.Logf("read cert: %v", err)
		return common.ExitFatal
	}
	var jws crypto.JWS
	if err := json.Unmarshal(jwsBytes, &jws); err != nil {
		common.Logf("parse jws: %v", err)
		return common.ExitFatal
	}
	if err := crypto.VerifyDetachedJWS(manifestBytes, jws, certBytes); err != nil {
		fmt.Fprintln(stdout, "verify signature:", err)
		return common.ExitFatal
	}
	fmt.Fprintln(stdout, "Signature OK")

	var m manifest.Manifest
	if err := json.Unmarshal(manifestBytes, &m); err != nil {
		common.Logf("parse manifest: %v", err)
		return common.ExitFatal
	}
	changed, err := m.Check()
	if err != nil {
		common.Logf("check manifest: %v", err)
		return common.ExitFatal
	}
	for _, it := range changed {
		fmt.Fprintf(stdout, "MISMATCH %s %s\n", it.Role, it.Path)
	}
	if len(changed) > 0 {
		return common.ExitFatal
	}
	fmt.Fprintf(stdout, "%d file(s) match manifest\n", len(m.Items))
	return exitOK
}

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

// parseFlags returns ok=false with the exit code to use when args do not
// parse; -h exits cleanly.
func parseFlags(fs *flag.FlagSet, args []string) (int, bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK, false
		}
		return exitUsage, false
	}
	return exitOK, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
