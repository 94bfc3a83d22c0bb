package sparse

import (
	"errors"
	"fmt"
)

// ErrNotSparse is returned when the input does not start with the sparse magic.
// It is not a failure: callers fall back to a raw transfer.
var ErrNotSparse = errors.New("not a sparse image")

// Sentinel errors for the remaining failure classes. Use errors.Is to test for them.
var (
	ErrCorruptHeader     = errors.New("corrupt sparse header")
	ErrCorruptChunk      = errors.New("corrupt sparse chunk")
	ErrUnsplittableChunk = errors.New("chunk larger than maximum transfer size")
	ErrReadFailed        = errors.New("read failed")
	ErrSeekFailed        = errors.New("seek failed")
)

// HeaderError describes why a file header was rejected.
type HeaderError struct {
	Reason string
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCorruptHeader, e.Reason)
}

func (e *HeaderError) Unwrap() error {
	return ErrCorruptHeader
}

// ChunkError describes why a chunk header was rejected.
type ChunkError struct {
	// Index is the zero-based position of the chunk in the image
	Index  int
	Reason string
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("%s %d: %s", ErrCorruptChunk, e.Index, e.Reason)
}

func (e *ChunkError) Unwrap() error {
	return ErrCorruptChunk
}

// SplitError reports an item that cannot fit into any unit.
type SplitError struct {
	Index int
	Size  int64
	Limit int64
}

func (e *SplitError) Error() string {
	return fmt.Sprintf("chunk %d needs %d bytes but a unit holds at most %d", e.Index, e.Size, e.Limit)
}

func (e *SplitError) Unwrap() error {
	return ErrUnsplittableChunk
}
