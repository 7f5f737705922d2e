package squashfs

import (
	"bytes"
	"io"

	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// XZ-id blocks are plain .xz container streams. LZMA-id blocks (compression
// id 2, deprecated since squashfs-tools 4.3 but still readable) are classic
// .lzma streams: a 5-byte properties header followed by an 8-byte
// little-endian uncompressed size. ulikunitz/xz covers both container
// formats from one module, so this one dependency serves two of the six
// algorithm ids.
func init() {
	registerDecompressor(XZ, decompressXZ)
	registerDecompressor(LZMA, decompressLZMA)
}

func decompressXZ(src []byte, outHint int) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}

	buf := bytes.NewBuffer(make([]byte, 0, outHint))
	if _, err := io.Copy(buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressLZMA(src []byte, outHint int) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}

	buf := bytes.NewBuffer(make([]byte, 0, outHint))
	if _, err := io.Copy(buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
