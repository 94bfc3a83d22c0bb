package flash

import (
	"errors"
	"fmt"
	"io"

	"github.com/moffa90/go-fastflash/sparse"
)

// Strategy is how a source is transferred.
type Strategy int

const (
	// RawDirect sends a non-sparse source in a single download
	RawDirect Strategy = iota

	// RawSplit sends a non-sparse source as consecutive byte ranges, each
	// framed as a sparse image placing it at its offset
	RawSplit

	// SparseSplit repackages a sparse image into independently valid sparse units
	SparseSplit
)

func (s Strategy) String() string {
	switch s {
	case RawDirect:
		return "raw-direct"
	case RawSplit:
		return "raw-split"
	case SparseSplit:
		return "sparse-split"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// Plan is the transfer decided for a source before anything is uploaded.
type Plan struct {
	Strategy Strategy

	// MaxDownloadSize is the effective per-download limit
	MaxDownloadSize uint32

	// SourceSize is the size of the source in bytes
	SourceSize int64

	// Image is the parsed sparse image, nil for raw strategies
	Image *sparse.Image

	// Units are the downloads to send, in order
	Units []sparse.Unit
}

// TotalBytes returns the number of bytes the device will receive.
func (p *Plan) TotalBytes() int64 {
	var n int64
	for _, u := range p.Units {
		n += u.Size()
	}
	return n
}

// NewPlan decides how src would be transferred under the given per-download
// limit, without a device. Raw splits use sparse.DefaultBlockSize.
// Flasher.Plan does the same with the limit queried from the device.
//
// Example:
//
//	plan, err := flash.NewPlan(src, 64<<20)
//	fmt.Println(plan.Strategy, len(plan.Units))
func NewPlan(src Source, limit uint32) (*Plan, error) {
	if src == nil {
		return nil, fmt.Errorf("source cannot be nil")
	}
	if limit == 0 {
		return nil, fmt.Errorf("download limit cannot be zero")
	}
	return planSource(src, limit, sparse.DefaultBlockSize)
}

// planSource parses src and splits it for the given limit. Errors are
// *StageError values naming the parse or split stage.
func planSource(src Source, limit, rawBlockSize uint32) (*Plan, error) {
	size := src.Size()
	p := &Plan{
		MaxDownloadSize: limit,
		SourceSize:      size,
	}

	img, err := sparse.Parse(io.NewSectionReader(src, 0, size))
	switch {
	case errors.Is(err, sparse.ErrNotSparse):
		if size <= int64(limit) {
			p.Strategy = RawDirect
			if size > 0 {
				p.Units = []sparse.Unit{{Raw: &sparse.ByteRange{Offset: 0, Length: size}}}
			}
			return p, nil
		}

		p.Strategy = RawSplit
		if p.Units, err = sparse.SplitRaw(size, int64(limit), rawBlockSize); err != nil {
			return nil, &StageError{Stage: StageSplit, Err: err}
		}
		return p, nil

	case err != nil:
		return nil, &StageError{Stage: StageParse, Err: err}
	}

	p.Strategy = SparseSplit
	p.Image = img
	if p.Units, err = sparse.SplitSparse(img, int64(limit)); err != nil {
		return nil, &StageError{Stage: StageSplit, Err: err}
	}
	return p, nil
}
