package squashfs

import "fmt"

// Compression identifies the algorithm used to pack metadata blocks, data
// blocks and fragments, as declared by the superblock.
type Compression uint16

const (
	GZip Compression = 1
	LZMA Compression = 2
	LZO  Compression = 3
	XZ   Compression = 4
	LZ4  Compression = 5
	ZSTD Compression = 6
)

func (c Compression) String() string {
	switch c {
	case GZip:
		return "GZip"
	case LZMA:
		return "LZMA"
	case LZO:
		return "LZO"
	case XZ:
		return "XZ"
	case LZ4:
		return "LZ4"
	case ZSTD:
		return "ZSTD"
	}
	return fmt.Sprintf("Compression(%d)", c)
}

// decompressor turns one compressed block payload into its decompressed
// form. outHint is the expected decompressed size when known (0 when not).
// Most codecs use it only to presize the output buffer; LZ4 uses it as the
// output capacity, so it must be the real bound there.
type decompressor func(src []byte, outHint int) ([]byte, error)

// registry of decompressors, populated at init time by the per-codec files
// in this package (comp_zlib.go, comp_xz.go, comp_zstd.go, comp_lz4.go,
// comp_lzo.go).
var decompressors = map[Compression]decompressor{}

func registerDecompressor(c Compression, fn decompressor) {
	decompressors[c] = fn
}

// decompress runs the block's configured algorithm over src. outHint is
// passed through to the codec (see decompressor).
func (s *Superblock) decompress(src []byte, outHint int) ([]byte, error) {
	fn, ok := decompressors[s.Comp]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCompression, s.Comp)
	}
	out, err := fn(src, outHint)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecompressFailed, err)
	}
	return out, nil
}

// readCompressionOptions loads the codec-specific options payload that
// follows the superblock when the COMPRESSOR_OPTIONS flag is set. The
// payload sits in its own metadata block at the fixed offset right after
// the superblock header.
//
// None of the wired codecs need it to decode a block: zlib's parameters
// live in the zlib stream header itself, the xz/zstd containers this
// package reads are fully self-describing, and LZ4 blocks decode with only
// the output bound the caller supplies. The bytes stay available
// through CompressionOptions for callers that want to inspect the build
// options an image was created with.
func (r *Reader) readCompressionOptions() error {
	if !r.sb.Flags.Has(COMPRESSOR_OPTIONS) {
		return nil
	}
	m, err := r.newMetadataReader(uint64(superblockSize()), 0, 0)
	if err != nil {
		return err
	}
	r.compOptions = append([]byte(nil), m.buf...)
	return nil
}

// CompressionOptions returns the raw codec-specific options payload stored
// after the superblock, or nil if the image declares none.
func (r *Reader) CompressionOptions() []byte {
	return r.compOptions
}
