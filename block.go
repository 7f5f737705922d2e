package squashfs

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// dataBlockCompressedFlag marks an uncompressed data block (bit set means
// stored raw). The remaining 24 bits hold the on-disk length.
const dataBlockCompressedFlag = 1 << 24

// readDataBlock reads and, if needed, decompresses one data block (a full
// block belonging to a file's block list, not a fragment) located at the
// given absolute offset. size is the raw 32-bit size field from the block
// list, with the compressed flag still packed in.
//
// Decompressed blocks are cached by absolute offset: files sharing a block
// through mksquashfs's duplicate detection hit the cache instead of
// re-inflating the same bytes on every read.
func (r *Reader) readDataBlock(offset uint64, size uint32) ([]byte, error) {
	compressed := size&dataBlockCompressedFlag == 0
	length := size &^ dataBlockCompressedFlag
	if length == 0 {
		return nil, nil
	}

	if v, ok := r.blockCache.get(offset); ok {
		return v.([]byte), nil
	}

	raw := make([]byte, length)
	if _, err := io.ReadFull(io.NewSectionReader(r.ra, int64(offset), int64(length)), raw); err != nil {
		return nil, fmt.Errorf("%w: data block at 0x%x: %v", ErrShortRead, offset, err)
	}

	r.log.WithFields(logrus.Fields{
		"offset":     offset,
		"length":     length,
		"compressed": compressed,
	}).Debug("squashfs: data block read")

	var out []byte
	if compressed {
		var err error
		out, err = r.sb.decompress(raw, int(r.sb.BlockSize))
		if err != nil {
			return nil, err
		}
	} else {
		out = raw
	}

	r.blockCache.set(offset, out)
	return out, nil
}
