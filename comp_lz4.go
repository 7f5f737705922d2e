package squashfs

import (
	"github.com/pierrec/lz4/v4"
)

// LZ4-id blocks are raw LZ4 block-format payloads with no frame header,
// so the decompressed size bound has to come from the caller's framing
// (block_size for data, the metadata cap for tables).
func init() {
	registerDecompressor(LZ4, decompressLZ4)
}

func decompressLZ4(src []byte, outHint int) ([]byte, error) {
	dst := make([]byte, outHint)
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return nil, err
	}
	return dst[:n], nil
}
