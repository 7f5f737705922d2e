package squashfs

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zlib"
)

// GZip-id blocks are actually raw zlib streams (RFC1950), matching every
// mainstream mksquashfs build. klauspost/compress's zlib reader is a drop-in
// stdlib replacement with a faster inflate path, used here the same way the
// rest of the pack reaches for klauspost over compress/*.
func init() {
	registerDecompressor(GZip, decompressZlib)
}

// compressZlib packs src as a zlib stream. Used by this package's zlib
// round-trip test; the reader itself only ever decompresses.
func compressZlib(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(src); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressZlib(src []byte, outHint int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	buf := bytes.NewBuffer(make([]byte, 0, outHint))
	if _, err := io.Copy(buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
