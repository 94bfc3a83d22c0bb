package flashtest

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/moffa90/go-fastflash/sparse"
)

type imageChunk struct {
	typ     sparse.ChunkType
	blocks  uint32
	payload []byte
}

// Builder assembles sparse images for tests.
//
// Example:
//
//	img := flashtest.NewImage(4096).
//	    Raw(bootloader).
//	    DontCare(1024).
//	    Fill(0xFFFFFFFF, 16).
//	    Bytes()
type Builder struct {
	blockSize uint32
	chunks    []imageChunk
}

// NewImage starts an empty image with the given block size.
func NewImage(blockSize uint32) *Builder {
	return &Builder{blockSize: blockSize}
}

// Raw appends a raw chunk. data is zero-padded to a whole number of blocks.
func (b *Builder) Raw(data []byte) *Builder {
	bs := int(b.blockSize)
	blocks := (len(data) + bs - 1) / bs
	payload := make([]byte, blocks*bs)
	copy(payload, data)

	b.chunks = append(b.chunks, imageChunk{typ: sparse.ChunkRaw, blocks: uint32(blocks), payload: payload})
	return b
}

// Fill appends a chunk that repeats a 4-byte little-endian pattern over blocks.
func (b *Builder) Fill(pattern uint32, blocks uint32) *Builder {
	payload := make([]byte, sparse.FillPatternSize)
	binary.LittleEndian.PutUint32(payload, pattern)

	b.chunks = append(b.chunks, imageChunk{typ: sparse.ChunkFill, blocks: blocks, payload: payload})
	return b
}

// DontCare appends a chunk that skips blocks.
func (b *Builder) DontCare(blocks uint32) *Builder {
	b.chunks = append(b.chunks, imageChunk{typ: sparse.ChunkDontCare, blocks: blocks})
	return b
}

// CRC32 appends a checksum chunk.
func (b *Builder) CRC32(sum uint32) *Builder {
	payload := make([]byte, sparse.CRC32Size)
	binary.LittleEndian.PutUint32(payload, sum)

	b.chunks = append(b.chunks, imageChunk{typ: sparse.ChunkCRC32, payload: payload})
	return b
}

// Bytes encodes the image.
func (b *Builder) Bytes() []byte {
	h := sparse.FileHeader{
		Magic:           sparse.Magic,
		MajorVersion:    sparse.MajorVersion,
		MinorVersion:    sparse.MinorVersion,
		FileHeaderSize:  sparse.FileHeaderSize,
		ChunkHeaderSize: sparse.ChunkHeaderSize,
		BlockSize:       b.blockSize,
		TotalChunks:     uint32(len(b.chunks)),
	}
	for _, c := range b.chunks {
		h.TotalBlocks += c.blocks
	}

	var buf bytes.Buffer
	buf.Write(h.Bytes())
	for _, c := range b.chunks {
		ch := sparse.ChunkHeader{
			Type:        c.typ,
			ChunkBlocks: c.blocks,
			TotalSize:   uint32(sparse.ChunkHeaderSize + len(c.payload)),
		}
		buf.Write(ch.Bytes())
		buf.Write(c.payload)
	}
	return buf.Bytes()
}

// Blocks is a logical block image: block number to block contents.
// Blocks never written are absent.
type Blocks map[uint32][]byte

// Expand decodes a sparse image into the blocks it writes.
// Don't-care regions stay absent.
func Expand(data []byte) (Blocks, error) {
	blocks := make(Blocks)
	if _, err := blocks.apply(data); err != nil {
		return nil, err
	}
	return blocks, nil
}

// apply writes the blocks of a sparse image and returns its block size.
func (b Blocks) apply(data []byte) (uint32, error) {
	img, err := sparse.Parse(bytes.NewReader(data))
	if err != nil {
		return 0, err
	}

	bs := int64(img.Header.BlockSize)
	for _, c := range img.Chunks {
		switch c.Type {
		case sparse.ChunkRaw:
			for i := uint32(0); i < c.ChunkBlocks; i++ {
				start := c.Offset + int64(i)*bs
				b[c.StartBlock+i] = append([]byte(nil), data[start:start+bs]...)
			}
		case sparse.ChunkFill:
			pattern := data[c.Offset : c.Offset+sparse.FillPatternSize]
			for i := uint32(0); i < c.ChunkBlocks; i++ {
				b[c.StartBlock+i] = bytes.Repeat(pattern, int(bs)/sparse.FillPatternSize)
			}
		case sparse.ChunkDontCare, sparse.ChunkCRC32:
		default:
			return 0, fmt.Errorf("unexpected chunk type %s", c.Type)
		}
	}
	return img.Header.BlockSize, nil
}

// Bytes lays the blocks out from block 0 up to the highest written block.
// Blocks never written read as zeros.
func (b Blocks) Bytes(blockSize uint32) []byte {
	var end uint32
	for n := range b {
		if n+1 > end {
			end = n + 1
		}
	}

	out := make([]byte, int64(end)*int64(blockSize))
	for n, block := range b {
		copy(out[int64(n)*int64(blockSize):], block)
	}
	return out
}
