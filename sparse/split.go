package sparse

import "fmt"

// UnitOverhead is the number of bytes every sparse unit reserves besides its
// chunks: the file header and the leading don't-care chunk header.
const UnitOverhead = FileHeaderSize + ChunkHeaderSize

// RawUnitOverhead is what a framed raw unit reserves besides its payload:
// UnitOverhead plus the header of the raw chunk carrying the range.
const RawUnitOverhead = UnitOverhead + ChunkHeaderSize

// DefaultBlockSize is the block size of the sparse framing SplitRaw writes.
const DefaultBlockSize = 4096

// ByteRange is a contiguous region of a non-sparse source file.
type ByteRange struct {
	Offset int64
	Length int64
}

// Unit is one self-contained download sent to the device.
//
// A sparse unit holds an ordered run of chunks from the source image and a
// header describing only those chunks. A raw unit holds a byte range of a
// non-sparse source. SplitRaw frames its ranges as one-chunk sparse images so
// the device places them; a raw unit with a zero Header is sent as is.
type Unit struct {
	// Header is the synthesized file header for a sparse unit
	Header FileHeader

	// Skip is the number of blocks before the first chunk, emitted as a
	// leading don't-care chunk when non-zero
	Skip uint32

	// Chunks are the source chunks carried by a sparse unit
	Chunks []Chunk

	// Raw is set for units of a non-sparse source
	Raw *ByteRange

	// Pad is the number of zero bytes sent after Raw to complete the last
	// block of a framed raw unit
	Pad int64
}

// IsRaw reports whether the unit carries a byte range of a non-sparse source.
func (u Unit) IsRaw() bool {
	return u.Raw != nil
}

// Framed reports whether the unit is sent with a sparse header.
func (u Unit) Framed() bool {
	return u.Raw == nil || u.Header.Magic == Magic
}

// Size returns the exact number of bytes the device must receive for this unit.
func (u Unit) Size() int64 {
	if !u.Framed() {
		return u.Raw.Length
	}

	n := int64(FileHeaderSize)
	if u.Skip > 0 {
		n += ChunkHeaderSize
	}
	if u.Raw != nil {
		n += ChunkHeaderSize + u.Raw.Length + u.Pad
	}
	for _, c := range u.Chunks {
		n += c.Size()
	}
	return n
}

// FirstBlock returns the first logical block written by the unit.
func (u Unit) FirstBlock() uint32 {
	return u.Skip
}

// Blocks returns the number of logical blocks the unit itself writes.
func (u Unit) Blocks() uint32 {
	if u.Raw != nil {
		if !u.Framed() {
			return 0
		}
		return uint32((u.Raw.Length + u.Pad) / int64(u.Header.BlockSize))
	}

	var n uint32
	for _, c := range u.Chunks {
		n += c.ChunkBlocks
	}
	return n
}

// HeaderBytes returns the bytes sent before the payload: the file header, the
// don't-care chunk header if Skip is non-zero and, for a framed raw unit, the
// header of the raw chunk. Unframed raw units have none.
func (u Unit) HeaderBytes() []byte {
	if !u.Framed() {
		return nil
	}

	b := u.Header.Bytes()
	if u.Skip > 0 {
		skip := ChunkHeader{
			Type:        ChunkDontCare,
			ChunkBlocks: u.Skip,
			TotalSize:   ChunkHeaderSize,
		}
		b = append(b, skip.Bytes()...)
	}
	if u.Raw != nil {
		raw := ChunkHeader{
			Type:        ChunkRaw,
			ChunkBlocks: u.Blocks(),
			TotalSize:   uint32(ChunkHeaderSize + u.Raw.Length + u.Pad),
		}
		b = append(b, raw.Bytes()...)
	}
	return b
}

// Span is a half-open range [Start, End) of item indexes packed into one bin.
type Span struct {
	Start int
	End   int
}

// Pack assigns items to bins greedily and in order. A bin is closed as soon as
// the next item would push its total past limit; items are never reordered and
// the packer never looks ahead, so the result is not necessarily minimal.
//
// An item larger than limit returns a *SplitError wrapping ErrUnsplittableChunk.
func Pack(sizes []int64, limit int64) ([]Span, error) {
	var spans []Span
	var total int64
	start := 0

	for i, size := range sizes {
		if size > limit {
			return nil, &SplitError{Index: i, Size: size, Limit: limit}
		}
		if i > start && total+size > limit {
			spans = append(spans, Span{Start: start, End: i})
			start = i
			total = 0
		}
		total += size
	}

	if start < len(sizes) {
		spans = append(spans, Span{Start: start, End: len(sizes)})
	}
	return spans, nil
}

// SplitSparse packs the image's chunks into units of at most maxUnitSize bytes.
//
// Every unit reserves UnitOverhead bytes, so a chunk fits if its Size is at most
// maxUnitSize-UnitOverhead. Each unit's header declares exactly the chunks and
// blocks it carries, including the leading don't-care chunk.
//
// Example:
//
//	units, err := sparse.SplitSparse(img, 512<<20)
//	if errors.Is(err, sparse.ErrUnsplittableChunk) {
//	    // a single chunk is larger than the device accepts
//	}
func SplitSparse(img *Image, maxUnitSize int64) ([]Unit, error) {
	if img == nil {
		return nil, fmt.Errorf("image cannot be nil")
	}

	sizes := make([]int64, len(img.Chunks))
	for i, c := range img.Chunks {
		sizes[i] = c.Size()
	}

	spans, err := Pack(sizes, maxUnitSize-UnitOverhead)
	if err != nil {
		return nil, err
	}

	units := make([]Unit, 0, len(spans))
	for _, s := range spans {
		chunks := make([]Chunk, s.End-s.Start)
		copy(chunks, img.Chunks[s.Start:s.End])

		u := Unit{
			Skip:   chunks[0].StartBlock,
			Chunks: chunks,
		}

		totalChunks := uint32(len(chunks))
		if u.Skip > 0 {
			totalChunks++
		}
		u.Header = FileHeader{
			Magic:           Magic,
			MajorVersion:    MajorVersion,
			MinorVersion:    MinorVersion,
			FileHeaderSize:  FileHeaderSize,
			ChunkHeaderSize: ChunkHeaderSize,
			BlockSize:       img.Header.BlockSize,
			TotalBlocks:     u.Skip + u.Blocks(),
			TotalChunks:     totalChunks,
		}

		units = append(units, u)
	}

	return units, nil
}

// SplitRaw partitions [0, totalSize) into consecutive ranges and frames each
// one as a sparse image of blockSize blocks: a don't-care chunk skipping the
// blocks of earlier ranges, then one raw chunk. The last range is zero-padded
// to a whole block. Every range except the last is a whole number of blocks
// and no unit exceeds maxUnitSize. A zero totalSize yields no units.
//
// A maxUnitSize that cannot hold RawUnitOverhead plus one block returns a
// *SplitError wrapping ErrUnsplittableChunk.
func SplitRaw(totalSize, maxUnitSize int64, blockSize uint32) ([]Unit, error) {
	if totalSize < 0 {
		return nil, fmt.Errorf("total size cannot be negative: %d", totalSize)
	}
	if maxUnitSize <= 0 {
		return nil, fmt.Errorf("max unit size must be positive, got %d", maxUnitSize)
	}
	if blockSize == 0 || blockSize%4 != 0 {
		return nil, fmt.Errorf("block size must be a positive multiple of 4, got %d", blockSize)
	}

	bs := int64(blockSize)
	step := (maxUnitSize - RawUnitOverhead) / bs * bs
	if step <= 0 {
		return nil, &SplitError{Index: 0, Size: RawUnitOverhead + bs, Limit: maxUnitSize}
	}

	count := (totalSize + step - 1) / step
	units := make([]Unit, 0, count)
	for off := int64(0); off < totalSize; off += step {
		length := step
		if rem := totalSize - off; rem < length {
			length = rem
		}

		u := Unit{
			Skip: uint32(off / bs),
			Raw:  &ByteRange{Offset: off, Length: length},
			Pad:  (bs - length%bs) % bs,
		}

		totalChunks := uint32(1)
		if u.Skip > 0 {
			totalChunks++
		}
		u.Header = FileHeader{
			Magic:           Magic,
			MajorVersion:    MajorVersion,
			MinorVersion:    MinorVersion,
			FileHeaderSize:  FileHeaderSize,
			ChunkHeaderSize: ChunkHeaderSize,
			BlockSize:       blockSize,
			TotalChunks:     totalChunks,
		}
		u.Header.TotalBlocks = u.Skip + u.Blocks()

		units = append(units, u)
	}

	return units, nil
}
