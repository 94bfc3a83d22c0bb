package sparse

import (
	"encoding/binary"
	"fmt"
)

// Format constants for sparse image version 1.0.
const (
	// Magic identifies a sparse image (0xED26FF3A)
	Magic uint32 = 0xED26FF3A

	// MajorVersion is the only supported major format version
	MajorVersion = 1

	// MinorVersion is the minor version written into synthesized headers
	MinorVersion = 0

	// FileHeaderSize is the size of the fixed file header layout in bytes
	FileHeaderSize = 28

	// ChunkHeaderSize is the size of the fixed chunk header layout in bytes
	ChunkHeaderSize = 12

	// FillPatternSize is the payload size of a fill chunk
	FillPatternSize = 4

	// CRC32Size is the payload size of a CRC32 chunk
	CRC32Size = 4
)

// ChunkType is the kind tag of a chunk.
type ChunkType uint16

// Chunk types.
const (
	ChunkRaw      ChunkType = 0xCAC1
	ChunkFill     ChunkType = 0xCAC2
	ChunkDontCare ChunkType = 0xCAC3
	ChunkCRC32    ChunkType = 0xCAC4
)

func (t ChunkType) String() string {
	switch t {
	case ChunkRaw:
		return "raw"
	case ChunkFill:
		return "fill"
	case ChunkDontCare:
		return "dont-care"
	case ChunkCRC32:
		return "crc32"
	default:
		return fmt.Sprintf("unknown(0x%04X)", uint16(t))
	}
}

// FileHeader is the sparse image file header.
type FileHeader struct {
	// Magic must equal the Magic constant
	Magic uint32

	// MajorVersion and MinorVersion are the format revision
	MajorVersion uint16
	MinorVersion uint16

	// FileHeaderSize is the on-disk size of this header, at least 28 bytes
	FileHeaderSize uint16

	// ChunkHeaderSize is the on-disk size of every chunk header, at least 12 bytes
	ChunkHeaderSize uint16

	// BlockSize is the number of bytes per logical block
	BlockSize uint32

	// TotalBlocks is the logical block count of the expanded image
	TotalBlocks uint32

	// TotalChunks is the number of chunks following the header
	TotalChunks uint32

	// ImageChecksum is an optional CRC32 of the expanded image
	ImageChecksum uint32
}

// Bytes encodes the header in its fixed 28-byte layout.
func (h FileHeader) Bytes() []byte {
	b := make([]byte, FileHeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint16(b[4:6], h.MajorVersion)
	binary.LittleEndian.PutUint16(b[6:8], h.MinorVersion)
	binary.LittleEndian.PutUint16(b[8:10], h.FileHeaderSize)
	binary.LittleEndian.PutUint16(b[10:12], h.ChunkHeaderSize)
	binary.LittleEndian.PutUint32(b[12:16], h.BlockSize)
	binary.LittleEndian.PutUint32(b[16:20], h.TotalBlocks)
	binary.LittleEndian.PutUint32(b[20:24], h.TotalChunks)
	binary.LittleEndian.PutUint32(b[24:28], h.ImageChecksum)
	return b
}

// ChunkHeader is the header preceding every chunk payload.
type ChunkHeader struct {
	Type     ChunkType
	Reserved uint16

	// ChunkBlocks is the number of logical blocks this chunk covers
	ChunkBlocks uint32

	// TotalSize is the chunk header plus payload size in bytes
	TotalSize uint32
}

// Bytes encodes the chunk header in its fixed 12-byte layout.
func (h ChunkHeader) Bytes() []byte {
	b := make([]byte, ChunkHeaderSize)
	binary.LittleEndian.PutUint16(b[0:2], uint16(h.Type))
	binary.LittleEndian.PutUint16(b[2:4], h.Reserved)
	binary.LittleEndian.PutUint32(b[4:8], h.ChunkBlocks)
	binary.LittleEndian.PutUint32(b[8:12], h.TotalSize)
	return b
}

// Chunk is a parsed chunk header together with the location of its payload.
// The payload itself is never held in memory.
type Chunk struct {
	ChunkHeader

	// Offset is the file offset of the payload
	Offset int64

	// DataSize is the payload length in bytes
	DataSize int64

	// StartBlock is the logical block at which this chunk begins
	StartBlock uint32
}

// Size returns the number of bytes the chunk occupies when re-emitted with a
// 12-byte chunk header.
func (c Chunk) Size() int64 {
	return ChunkHeaderSize + c.DataSize
}

// HeaderBytes returns the re-emitted chunk header. TotalSize is recomputed
// because the source image may use padded chunk headers.
func (c Chunk) HeaderBytes() []byte {
	h := c.ChunkHeader
	h.TotalSize = uint32(c.Size())
	return h.Bytes()
}

// EndBlock returns the first logical block after this chunk.
func (c Chunk) EndBlock() uint32 {
	return c.StartBlock + c.ChunkBlocks
}

// Image is a parsed sparse image: its header and ordered chunk list.
type Image struct {
	Header FileHeader
	Chunks []Chunk
}

// ExpandedSize returns the size in bytes of the expanded image.
func (img *Image) ExpandedSize() int64 {
	return int64(img.Header.TotalBlocks) * int64(img.Header.BlockSize)
}
