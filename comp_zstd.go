package squashfs

import (
	"bytes"

	"github.com/klauspost/compress/zstd"
)

func init() {
	registerDecompressor(ZSTD, decompressZstd)
}

func decompressZstd(src []byte, outHint int) ([]byte, error) {
	d, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer d.Close()

	return d.DecodeAll(src, make([]byte, 0, outHint))
}
