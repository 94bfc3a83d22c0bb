package source

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// ErrNotFound means the referenced image does not exist.
var ErrNotFound = errors.New("image not found")

// Source is an opened local image file. It satisfies flash.Source.
type Source struct {
	*os.File

	// Path is the local file the image is read from
	Path string

	size int64
}

// Open opens a local image.
func Open(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("open image: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close() //nolint:errcheck
		return nil, fmt.Errorf("stat image: %w", err)
	}
	if info.IsDir() {
		f.Close() //nolint:errcheck
		return nil, fmt.Errorf("%s is a directory", path)
	}

	return &Source{File: f, Path: path, size: info.Size()}, nil
}

// Size returns the file size at open time.
func (s *Source) Size() int64 {
	return s.size
}
