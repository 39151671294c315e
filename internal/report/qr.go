package report

import (
	"encoding/hex"
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

const qrSize = 256

// SummaryQR renders the output hash and patched partition of s as a QR PNG,
// so a printed report can be matched against the image it describes.
func SummaryQR(s Summary, size int) ([]byte, error) {
	content, err := qrContent(s)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = qrSize
	}
	q, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return nil, err
	}
	return q.PNG(size)
}

func qrContent(s Summary) (string, error) {
	sum, err := normalizeSha256(s.OutputSha256)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%s partition:%d lba:%d", sum, s.Partition, s.StartLBA), nil
}

// normalizeSha256 accepts an optional "sha256:" prefix and either case.
func normalizeSha256(v string) (string, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	v = strings.TrimPrefix(v, "sha256:")
	if v == "" {
		return "", fmt.Errorf("hash is empty")
	}
	raw, err := hex.DecodeString(v)
	if err != nil {
		return "", fmt.Errorf("hash %q: %w", v, err)
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("hash %q: %d bytes, want 32", v, len(raw))
	}
	return v, nil
}
