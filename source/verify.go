package source

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// ChecksumMismatchError is returned by Verify when the digest differs.
type ChecksumMismatchError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected sha256 %s, got %s", e.Path, e.Expected, e.Actual)
}

// Checksum returns the hex-encoded SHA-256 digest of a file.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close() //nolint:errcheck

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify checks a file against an expected SHA-256 digest, given as plain
// hex or as "sha256:<hex>".
func Verify(path, sum string) error {
	want := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(sum), "sha256:"))
	if len(want) != sha256.Size*2 {
		return fmt.Errorf("invalid sha256 digest %q", sum)
	}
	if _, err := hex.DecodeString(want); err != nil {
		return fmt.Errorf("invalid sha256 digest %q: %w", sum, err)
	}

	got, err := Checksum(path)
	if err != nil {
		return err
	}
	if got != want {
		return &ChecksumMismatchError{Path: path, Expected: want, Actual: got}
	}
	return nil
}
