package squashfs

import (
	"fmt"
	"io"
)

// metadataCompressedFlag marks an uncompressed metadata block, the high bit
// of the 16-bit length prefix every metadata block starts with.
const metadataCompressedFlag = 1 << 15

// maxMetadataBlock is the largest a metadata block may decompress to.
const maxMetadataBlock = 8192

// metadataReader streams a sequence of metadata blocks (the inode table,
// the directory table, or one entry's worth of fragment/id/xattr table
// pages) starting at an absolute byte offset, transparently crossing block
// boundaries: a record that straddles two blocks reads as one contiguous
// run of bytes.
type metadataReader struct {
	r *Reader

	next uint64 // absolute offset of the next block to load
	buf  []byte // current block's decompressed payload
	off  int    // read cursor within buf
}

// newMetadataReader starts reading at the metadata block whose offset,
// relative to base, is blockOff, skipping byteOff bytes into that block's
// decompressed payload. This matches how inodeRef and directory headers
// address their start positions.
func (r *Reader) newMetadataReader(base uint64, blockOff uint32, byteOff uint16) (*metadataReader, error) {
	m := &metadataReader{r: r, next: base + uint64(blockOff)}
	if err := m.fill(); err != nil {
		return nil, err
	}
	if int(byteOff) > len(m.buf) {
		return nil, fmt.Errorf("%w: metadata byte offset %d beyond block of %d bytes", ErrInvalidSuper, byteOff, len(m.buf))
	}
	m.off = int(byteOff)
	return m, nil
}

// fill loads the block at m.next, decompressing it and advancing m.next
// past it, leaving m.buf/m.off ready to read from the start of that block.
func (m *metadataReader) fill() error {
	if v, ok := m.r.metaCache.get(m.next); ok {
		c := v.(metaCacheEntry)
		m.buf = c.data
		m.next = c.next
		m.off = 0
		return nil
	}

	hdr := make([]byte, 2)
	if _, err := io.ReadFull(io.NewSectionReader(m.r.ra, int64(m.next), 2), hdr); err != nil {
		return fmt.Errorf("%w: metadata header at 0x%x: %v", ErrShortRead, m.next, err)
	}
	raw := m.r.sb.order.Uint16(hdr)
	length := raw &^ metadataCompressedFlag
	compressed := raw&metadataCompressedFlag == 0

	payload := make([]byte, length)
	start := m.next + 2
	if length > 0 {
		if _, err := io.ReadFull(io.NewSectionReader(m.r.ra, int64(start), int64(length)), payload); err != nil {
			return fmt.Errorf("%w: metadata block at 0x%x: %v", ErrShortRead, start, err)
		}
	}

	var data []byte
	if compressed {
		var err error
		data, err = m.r.sb.decompress(payload, maxMetadataBlock)
		if err != nil {
			return err
		}
	} else {
		data = payload
	}

	nextOff := start + uint64(length)
	m.r.metaCache.set(m.next, metaCacheEntry{data: data, next: nextOff})
	m.buf = data
	m.next = nextOff
	m.off = 0
	return nil
}

type metaCacheEntry struct {
	data []byte
	next uint64
}

func (m *metadataReader) Read(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		if m.off >= len(m.buf) {
			if err := m.fill(); err != nil {
				return total, err
			}
			if len(m.buf) == 0 {
				return total, io.EOF
			}
		}
		n := copy(p[total:], m.buf[m.off:])
		m.off += n
		total += n
	}
	return total, nil
}

func (m *metadataReader) ReadByte() (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(m, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}
