package sparse

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// ParseFile parses the sparse image at path.
//
// Example:
//
//	img, err := sparse.ParseFile("rootfs.img")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("%d chunks, %d blocks\n", len(img.Chunks), img.Header.TotalBlocks)
func ParseFile(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return Parse(f)
}

// Parse reads a sparse image header and every chunk header from r.
// Chunk payloads are skipped, not read; each Chunk records where its payload lives.
//
// Returns ErrNotSparse (and no other error) if r does not start with the sparse magic.
// On success the position of r is unspecified.
func Parse(r io.ReadSeeker) (*Image, error) {
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("%w: determine size: %v", ErrSeekFailed, err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: rewind: %v", ErrSeekFailed, err)
	}

	buf := make([]byte, FileHeaderSize)
	n, err := io.ReadFull(r, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("%w: file header: %v", ErrReadFailed, err)
	}

	header, err := ParseHeader(buf[:n])
	if err != nil {
		return nil, err
	}

	pos := int64(FileHeaderSize)
	if extra := int64(header.FileHeaderSize) - FileHeaderSize; extra > 0 {
		if pos, err = r.Seek(extra, io.SeekCurrent); err != nil {
			return nil, fmt.Errorf("%w: skip file header padding: %v", ErrSeekFailed, err)
		}
	}

	// TotalChunks is untrusted until the chunks are read.
	capacity := int64(header.TotalChunks)
	if limit := size / int64(header.ChunkHeaderSize); capacity > limit {
		capacity = limit
	}
	img := &Image{
		Header: *header,
		Chunks: make([]Chunk, 0, capacity),
	}

	chunkBuf := make([]byte, header.ChunkHeaderSize)
	var block uint32
	for i := 0; i < int(header.TotalChunks); i++ {
		if _, err := io.ReadFull(r, chunkBuf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, &ChunkError{Index: i, Reason: "truncated chunk header"}
			}
			return nil, fmt.Errorf("%w: chunk %d header: %v", ErrReadFailed, i, err)
		}
		pos += int64(header.ChunkHeaderSize)

		ch, err := ParseChunk(chunkBuf[:ChunkHeaderSize])
		if err != nil {
			var ce *ChunkError
			if errors.As(err, &ce) {
				ce.Index = i
			}
			return nil, err
		}

		dataSize := int64(ch.TotalSize) - int64(header.ChunkHeaderSize)
		if err := validateChunk(ch, dataSize, header.BlockSize); err != nil {
			return nil, &ChunkError{Index: i, Reason: err.Error()}
		}
		if pos+dataSize > size {
			return nil, &ChunkError{
				Index:  i,
				Reason: fmt.Sprintf("payload of %d bytes at offset %d runs past end of file (%d bytes)", dataSize, pos, size),
			}
		}
		if uint64(block)+uint64(ch.ChunkBlocks) > uint64(header.TotalBlocks) {
			return nil, &ChunkError{
				Index:  i,
				Reason: fmt.Sprintf("chunk ends at block %d beyond declared total %d", uint64(block)+uint64(ch.ChunkBlocks), header.TotalBlocks),
			}
		}

		img.Chunks = append(img.Chunks, Chunk{
			ChunkHeader: *ch,
			Offset:      pos,
			DataSize:    dataSize,
			StartBlock:  block,
		})
		block += ch.ChunkBlocks

		if dataSize > 0 {
			if pos, err = r.Seek(dataSize, io.SeekCurrent); err != nil {
				return nil, fmt.Errorf("%w: skip chunk %d payload: %v", ErrSeekFailed, i, err)
			}
		}
	}

	if block != header.TotalBlocks {
		return nil, &HeaderError{
			Reason: fmt.Sprintf("chunks cover %d blocks, header declares %d", block, header.TotalBlocks),
		}
	}

	return img, nil
}

// ParseHeader decodes a sparse file header.
//
// The magic is checked first: fewer than four bytes or a magic mismatch returns
// ErrNotSparse. Any other inconsistency returns a *HeaderError.
func ParseHeader(b []byte) (*FileHeader, error) {
	if len(b) < 4 || binary.LittleEndian.Uint32(b[0:4]) != Magic {
		return nil, ErrNotSparse
	}
	if len(b) < FileHeaderSize {
		return nil, &HeaderError{
			Reason: fmt.Sprintf("truncated header: got %d bytes, expected %d", len(b), FileHeaderSize),
		}
	}

	h := &FileHeader{
		Magic:           binary.LittleEndian.Uint32(b[0:4]),
		MajorVersion:    binary.LittleEndian.Uint16(b[4:6]),
		MinorVersion:    binary.LittleEndian.Uint16(b[6:8]),
		FileHeaderSize:  binary.LittleEndian.Uint16(b[8:10]),
		ChunkHeaderSize: binary.LittleEndian.Uint16(b[10:12]),
		BlockSize:       binary.LittleEndian.Uint32(b[12:16]),
		TotalBlocks:     binary.LittleEndian.Uint32(b[16:20]),
		TotalChunks:     binary.LittleEndian.Uint32(b[20:24]),
		ImageChecksum:   binary.LittleEndian.Uint32(b[24:28]),
	}

	switch {
	case h.MajorVersion != MajorVersion:
		return nil, &HeaderError{Reason: fmt.Sprintf("unsupported major version %d", h.MajorVersion)}
	case h.FileHeaderSize < FileHeaderSize:
		return nil, &HeaderError{Reason: fmt.Sprintf("file header size %d smaller than %d", h.FileHeaderSize, FileHeaderSize)}
	case h.ChunkHeaderSize < ChunkHeaderSize:
		return nil, &HeaderError{Reason: fmt.Sprintf("chunk header size %d smaller than %d", h.ChunkHeaderSize, ChunkHeaderSize)}
	case h.BlockSize == 0 || h.BlockSize%4 != 0:
		return nil, &HeaderError{Reason: fmt.Sprintf("invalid block size %d", h.BlockSize)}
	}

	return h, nil
}

// ParseChunk decodes a 12-byte chunk header. The chunk type must be known;
// the total size is checked against the image block size by Parse.
func ParseChunk(b []byte) (*ChunkHeader, error) {
	if len(b) < ChunkHeaderSize {
		return nil, &ChunkError{Reason: fmt.Sprintf("truncated chunk header: got %d bytes, expected %d", len(b), ChunkHeaderSize)}
	}

	h := &ChunkHeader{
		Type:        ChunkType(binary.LittleEndian.Uint16(b[0:2])),
		Reserved:    binary.LittleEndian.Uint16(b[2:4]),
		ChunkBlocks: binary.LittleEndian.Uint32(b[4:8]),
		TotalSize:   binary.LittleEndian.Uint32(b[8:12]),
	}

	switch h.Type {
	case ChunkRaw, ChunkFill, ChunkDontCare, ChunkCRC32:
	default:
		return nil, &ChunkError{Reason: fmt.Sprintf("unknown chunk type 0x%04X", uint16(h.Type))}
	}

	return h, nil
}

// validateChunk checks that a chunk's payload size matches its type.
func validateChunk(h *ChunkHeader, dataSize int64, blockSize uint32) error {
	var want int64
	switch h.Type {
	case ChunkRaw:
		want = int64(h.ChunkBlocks) * int64(blockSize)
	case ChunkFill:
		want = FillPatternSize
	case ChunkDontCare:
		want = 0
	case ChunkCRC32:
		if h.ChunkBlocks != 0 {
			return fmt.Errorf("crc32 chunk covers %d blocks", h.ChunkBlocks)
		}
		want = CRC32Size
	}

	if dataSize != want {
		return fmt.Errorf("%s chunk payload is %d bytes, expected %d", h.Type, dataSize, want)
	}
	return nil
}
