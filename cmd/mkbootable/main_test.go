package main

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"example.com/mkbootable/internal/mbr"
)

func writeDiskImage(t *testing.T, path string, lengths ...uint32) []byte {
	t.Helper()
	image := make([]byte, 4*mbr.SectorSize)
	for i, l := range lengths {
		e := mbr.Entry{Kind: 0x83, StartLBA: uint32(i + 1), Length: l}
		copy(image[mbr.EntryOffset(i):], e.Encode())
	}
	image[510], image[511] = 0x55, 0xAA
	if err := os.WriteFile(path, image, 0o644); err != nil {
		t.Fatalf("WriteFile image: %v", err)
	}
	return image
}

func writeBootsector(t *testing.T, path string, size int) []byte {
	t.Helper()
	b := make([]byte, size)
	for i := range b {
		b[i] = byte(0xA0 + i%16)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("WriteFile bootsector: %v", err)
	}
	return b
}

func TestBuildCmdPatchesImage(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "boot.dmg")
	boot := filepath.Join(dir, "bootsector.bin")
	writeDiskImage(t, img, 100)
	payload := writeBootsector(t, boot, 512)

	var stdout bytes.Buffer
	code := buildCmd([]string{img, img, boot}, &stdout)
	if code != exitOK {
		t.Fatalf("exit code = %d, want %d\n%s", code, exitOK, stdout.String())
	}
	got, err := os.ReadFile(img)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got[0x1BE] != 0x80 {
		t.Fatalf("attributes = 0x%02X, want 0x80", got[0x1BE])
	}
	if !bytes.Equal(got[512+0x5A:512+0x200], payload[0x5A:0x200]) {
		t.Fatalf("payload not spliced")
	}
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("progress lines = %d, want 5:\n%s", len(lines), stdout.String())
	}
}

func TestBuildCmdExitCodes(t *testing.T) {
	tests := []struct {
		name     string
		lengths  []uint32
		bootSize int
		want     int
	}{
		{name: "no partition", lengths: []uint32{0, 0, 0, 0}, bootSize: 512, want: exitNoTarget},
		{name: "short bootsector", lengths: []uint32{1}, bootSize: 511, want: 2},
		{name: "ok", lengths: []uint32{0, 1}, bootSize: 512, want: exitOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			in := filepath.Join(dir, "in.img")
			out := filepath.Join(dir, "out.img")
			boot := filepath.Join(dir, "bootsector.bin")
			writeDiskImage(t, in, tc.lengths...)
			writeBootsector(t, boot, tc.bootSize)

			var stdout bytes.Buffer
			if code := buildCmd([]string{"--quiet", in, out, boot}, &stdout); code != tc.want {
				t.Fatalf("exit code = %d, want %d", code, tc.want)
			}
			_, err := os.Stat(out)
			if tc.want == exitOK && err != nil {
				t.Fatalf("output missing: %v", err)
			}
			if tc.want != exitOK && !os.IsNotExist(err) {
				t.Fatalf("output written on failure")
			}
		})
	}
}

func TestBuildCmdUsesConfigAndUndo(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.img")
	out := filepath.Join(dir, "out.img")
	restored := filepath.Join(dir, "restored.img")
	boot := filepath.Join(dir, "bootsector.bin")
	original := writeDiskImage(t, in, 0, 0, 2)
	writeBootsector(t, boot, 512)
	cfgPath := filepath.Join(dir, "config.yaml")
	cfgYAML := "audit: audit/patches.jsonl\nmanifest: manifest.json\nlogs:\n  directory: logs\n"
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatalf("WriteFile config: %v", err)
	}

	var stdout bytes.Buffer
	if code := buildCmd([]string{"--config", cfgPath, "--quiet", in, out, boot}, &stdout); code != exitOK {
		t.Fatalf("build exit code = %d", code)
	}
	for _, p := range []string{
		filepath.Join(dir, "audit", "patches.jsonl"),
		filepath.Join(dir, "manifest.json"),
		filepath.Join(dir, "logs", "mkbootable.log"),
	} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("expected %s: %v", p, err)
		}
	}

	stdout.Reset()
	code := undoCmd([]string{"--in", out, "--audit", filepath.Join(dir, "audit", "patches.jsonl"), "--out", restored}, &stdout)
	if code != exitOK {
		t.Fatalf("undo exit code = %d", code)
	}
	got, err := os.ReadFile(restored)
	if err != nil {
		t.Fatalf("ReadFile restored: %v", err)
	}
	if !bytes.Equal(got, original) {
		t.Fatalf("restored image differs from original")
	}
	if !strings.Contains(stdout.String(), "Restored 2 patch(es)") {
		t.Fatalf("unexpected undo output:\n%s", stdout.String())
	}
}

func TestInspectCmd(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "disk.img")
	boot := filepath.Join(dir, "bootsector.bin")
	writeDiskImage(t, img, 3)
	writeBootsector(t, boot, 512)
	if code := buildCmd([]string{"--quiet", img, img, boot}, &bytes.Buffer{}); code != exitOK {
		t.Fatalf("build exit code = %d", code)
	}
	var stdout bytes.Buffer
	if code := inspectCmd([]string{img}, &stdout); code != exitOK {
		t.Fatalf("inspect exit code = %d", code)
	}
	if !strings.Contains(stdout.String(), "*") {
		t.Fatalf("no bootable partition listed:\n%s", stdout.String())
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Audit != "" || cfg.Logs.Directory != "" {
		t.Fatalf("unexpected paths in default config: %+v", cfg)
	}
	if cfg.Logs.MaxSizeMB != 10 || cfg.Logs.MaxAgeDays != 30 || cfg.Logs.MaxBackups != 5 {
		t.Fatalf("unexpected log defaults: %+v", cfg.Logs)
	}
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("auditt: x\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := loadConfig(path); err == nil {
		t.Fatalf("expected error for unknown key")
	}
}

func TestUsageExitCodes(t *testing.T) {
	tests := []struct {
		name string
		run  func(args []string, stdout *bytes.Buffer) int
		args []string
		want int
	}{
		{name: "build missing args", run: func(a []string, w *bytes.Buffer) int { return buildCmd(a, w) }, args: []string{"in.img"}, want: exitUsage},
		{name: "build unknown flag", run: func(a []string, w *bytes.Buffer) int { return buildCmd(a, w) }, args: []string{"--bogus", "a", "b", "c"}, want: exitUsage},
		{name: "build help", run: func(a []string, w *bytes.Buffer) int { return buildCmd(a, w) }, args: []string{"-h"}, want: exitOK},
		{name: "undo missing flags", run: func(a []string, w *bytes.Buffer) int { return undoCmd(a, w) }, args: []string{"--in", "x"}, want: exitUsage},
		{name: "inspect no image", run: func(a []string, w *bytes.Buffer) int { return inspectCmd(a, w) }, want: exitUsage},
		{name: "verify missing cert", run: func(a []string, w *bytes.Buffer) int { return verifyCmd(a, w) }, args: []string{"--manifest", "m.json"}, want: exitUsage},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var stdout bytes.Buffer
			if code := tc.run(tc.args, &stdout); code != tc.want {
				t.Fatalf("exit code = %d, want %d\n%s", code, tc.want, stdout.String())
			}
		})
	}
	if exitUsage == exitNoTarget {
		t.Fatalf("usage errors share the no-partition exit code")
	}
}

// writeSigner writes an RSA key and a self-signed certificate for it.
func writeSigner(t *testing.T, dir, name string) (keyPath, certPath string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: name},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	keyPath = filepath.Join(dir, name+".key")
	certPath = filepath.Join(dir, name+".crt")
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		t.Fatalf("WriteFile key: %v", err)
	}
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		t.Fatalf("WriteFile cert: %v", err)
	}
	return keyPath, certPath
}

func TestSignAndVerifyCmd(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.img")
	out := filepath.Join(dir, "out.img")
	boot := filepath.Join(dir, "bootsector.bin")
	manifestPath := filepath.Join(dir, "manifest.json")
	writeDiskImage(t, in, 0, 2)
	writeBootsector(t, boot, 512)
	keyPath, certPath := writeSigner(t, dir, "signer")
	_, otherCert := writeSigner(t, dir, "other")

	args := []string{"--quiet", "--manifest", manifestPath, "--sign", keyPath, "--cert", certPath, in, out, boot}
	if code := buildCmd(args, &bytes.Buffer{}); code != exitOK {
		t.Fatalf("build exit code = %d", code)
	}
	if _, err := os.Stat(filepath.Join(dir, "manifest.jws")); err != nil {
		t.Fatalf("signature not written: %v", err)
	}

	var stdout bytes.Buffer
	if code := verifyCmd([]string{"--manifest", manifestPath, "--cert", certPath}, &stdout); code != exitOK {
		t.Fatalf("verify exit code = %d\n%s", code, stdout.String())
	}
	if !strings.Contains(stdout.String(), "Signature OK") {
		t.Fatalf("unexpected verify output:\n%s", stdout.String())
	}

	stdout.Reset()
	if code := verifyCmd([]string{"--manifest", manifestPath, "--cert", otherCert}, &stdout); code != 2 {
		t.Fatalf("verify with wrong cert exit code = %d, want 2", code)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	data[0x1BE+16] = 0
	if err := os.WriteFile(out, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	stdout.Reset()
	if code := verifyCmd([]string{"--manifest", manifestPath, "--cert", certPath}, &stdout); code != 2 {
		t.Fatalf("verify of altered image exit code = %d, want 2", code)
	}
	if !strings.Contains(stdout.String(), "MISMATCH output") {
		t.Fatalf("unexpected verify output:\n%s", stdout.String())
	}
}
