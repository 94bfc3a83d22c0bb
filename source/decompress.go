package source

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compressed image extensions.
const (
	ExtZstd = ".zst"
	ExtGzip = ".gz"
)

// IsCompressed reports whether name has a compressed image extension.
func IsCompressed(name string) bool {
	ext := filepath.Ext(name)
	return ext == ExtZstd || ext == ExtGzip
}

// Decompress expands a .zst or .gz image into dir and returns the path of the
// result, named after the input without its extension.
// Other files are returned unchanged.
func Decompress(path, dir string) (string, error) {
	ext := filepath.Ext(path)
	if ext != ExtZstd && ext != ExtGzip {
		return path, nil
	}

	in, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer in.Close() //nolint:errcheck

	var r io.Reader
	switch ext {
	case ExtZstd:
		zr, err := zstd.NewReader(in)
		if err != nil {
			return "", fmt.Errorf("create zstd reader: %w", err)
		}
		defer zr.Close()
		r = zr
	case ExtGzip:
		gr, err := gzip.NewReader(in)
		if err != nil {
			return "", fmt.Errorf("create gzip reader: %w", err)
		}
		defer gr.Close() //nolint:errcheck
		r = gr
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create directory %s: %w", dir, err)
	}

	dest := filepath.Join(dir, strings.TrimSuffix(filepath.Base(path), ext))
	tmp, err := os.CreateTemp(dir, filepath.Base(dest)+".*.part")
	if err != nil {
		return "", fmt.Errorf("create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close() //nolint:errcheck
		return "", fmt.Errorf("decompress %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("write %s: %w", dest, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("rename %s: %w", dest, err)
	}
	return dest, nil
}
