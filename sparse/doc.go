// Package sparse parses Android sparse images and splits them into transfer units.
//
// # Sparse Image Format
//
// A sparse image encodes a block device image as a file header followed by an
// ordered list of chunks. All fields are little-endian.
//
// File header (28 bytes):
//
//	[MAGIC(4)][MAJOR(2)][MINOR(2)][FILE_HDR_SZ(2)][CHUNK_HDR_SZ(2)]
//	[BLK_SZ(4)][TOTAL_BLKS(4)][TOTAL_CHUNKS(4)][IMAGE_CHECKSUM(4)]
//
// Chunk header (12 bytes), followed by the chunk payload:
//
//	[CHUNK_TYPE(2)][RESERVED(2)][CHUNK_SZ(4)][TOTAL_SZ(4)]
//
// Chunk types:
//   - ChunkRaw: CHUNK_SZ blocks of literal data follow the header
//   - ChunkFill: a 4-byte pattern repeated over CHUNK_SZ blocks
//   - ChunkDontCare: CHUNK_SZ blocks that are skipped on the device
//   - ChunkCRC32: a 4-byte CRC32 of the data so far, covering no blocks
//
// # Parsing
//
// Parse reads headers only. Chunk payloads are skipped with Seek and their
// file offsets are recorded, so an image of any size can be planned without
// loading its data:
//
//	f, _ := os.Open("rootfs.img")
//	img, err := sparse.Parse(f)
//	if errors.Is(err, sparse.ErrNotSparse) {
//	    // not a sparse image, flash it raw
//	}
//
// # Splitting
//
// SplitSparse packs chunks greedily, in order, into units that never exceed
// the device's maximum download size. Each unit carries its own synthesized
// file header and starts with a don't-care chunk covering the blocks written
// by earlier units, so it is a valid sparse image on its own:
//
//	units, err := sparse.SplitSparse(img, 256<<20)
//
// SplitRaw partitions a non-sparse file into byte ranges and frames each as
// a sparse image, a skip chunk then one raw chunk, so the device writes every
// range at its own offset:
//
//	units, err := sparse.SplitRaw(size, 256<<20, sparse.DefaultBlockSize)
package sparse
