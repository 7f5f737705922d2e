package squashfs

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Indirection tables (the id table, the inode lookup/export table and the
// fragment table) share one on-disk shape: a flat array of absolute 64-bit
// offsets to metadata blocks, itself stored uncompressed starting at the
// table's "start" superblock field, followed by the metadata blocks it
// points to, each one packed with fixed-size entries.
func (r *Reader) indirectTablePointers(tableStart uint64, numEntries, entrySize int) ([]uint64, error) {
	if numEntries == 0 {
		return nil, nil
	}
	perBlock := maxMetadataBlock / entrySize
	numBlocks := (numEntries + perBlock - 1) / perBlock

	raw := make([]byte, numBlocks*8)
	if _, err := io.ReadFull(io.NewSectionReader(r.ra, int64(tableStart), int64(len(raw))), raw); err != nil {
		return nil, fmt.Errorf("%w: indirect table pointers at 0x%x: %v", ErrShortRead, tableStart, err)
	}

	ptrs := make([]uint64, numBlocks)
	for i := range ptrs {
		ptrs[i] = r.sb.order.Uint64(raw[i*8:])
	}
	return ptrs, nil
}

// readIndirectTable loads every entry of an indirect table, calling decode
// once per fixed-size record in on-disk order.
func (r *Reader) readIndirectTable(tableStart uint64, numEntries, entrySize int, decode func([]byte) error) error {
	ptrs, err := r.indirectTablePointers(tableStart, numEntries, entrySize)
	if err != nil {
		return err
	}

	remaining := numEntries
	perBlock := maxMetadataBlock / entrySize
	for _, ptr := range ptrs {
		m, err := r.newMetadataReader(ptr, 0, 0)
		if err != nil {
			return err
		}
		n := perBlock
		if remaining < n {
			n = remaining
		}
		buf := make([]byte, entrySize)
		for i := 0; i < n; i++ {
			if _, err := io.ReadFull(m, buf); err != nil {
				return fmt.Errorf("%w: indirect table entry: %v", ErrShortRead, err)
			}
			if err := decode(buf); err != nil {
				return err
			}
		}
		remaining -= n
	}
	return nil
}

// loadIDTable reads the uid/gid table: a flat array of 32-bit ids indexed
// by the uid/gid index fields an inode stores.
func (r *Reader) loadIDTable() error {
	ids := make([]uint32, 0, r.sb.IdCount)
	err := r.readIndirectTable(r.sb.IdTableStart, int(r.sb.IdCount), 4, func(b []byte) error {
		ids = append(ids, r.sb.order.Uint32(b))
		return nil
	})
	if err != nil {
		return err
	}
	r.ids = ids
	return nil
}

// idFromIndex resolves a uid_idx/gid_idx field to the actual uid/gid.
func (r *Reader) idFromIndex(idx uint16) (uint32, error) {
	if int(idx) >= len(r.ids) {
		return 0, fmt.Errorf("%w: id index %d", ErrIndexOutOfRange, idx)
	}
	return r.ids[idx], nil
}

// fragmentEntry describes one fragment block: where it starts on disk and
// its framed on-disk size.
type fragmentEntry struct {
	Start  uint64
	Size   uint32
	unused uint32
}

func (f fragmentEntry) compressed() bool { return f.Size&dataBlockCompressedFlag == 0 }
func (f fragmentEntry) length() uint32   { return f.Size &^ dataBlockCompressedFlag }

// loadFragmentTable reads the fragment table, a flat array of (start,
// size) pairs addressed by an inode's fragment_block_index.
func (r *Reader) loadFragmentTable() error {
	if !r.sb.hasFragments() {
		return nil
	}
	frags := make([]fragmentEntry, 0, r.sb.FragCount)
	err := r.readIndirectTable(r.sb.FragTableStart, int(r.sb.FragCount), 16, func(b []byte) error {
		frags = append(frags, fragmentEntry{
			Start:  r.sb.order.Uint64(b[0:8]),
			Size:   r.sb.order.Uint32(b[8:12]),
			unused: r.sb.order.Uint32(b[12:16]),
		})
		return nil
	})
	if err != nil {
		return err
	}
	r.fragments = frags
	return nil
}

func (r *Reader) fragment(idx uint32) (fragmentEntry, error) {
	if int(idx) >= len(r.fragments) {
		return fragmentEntry{}, fmt.Errorf("%w: fragment index %d", ErrIndexOutOfRange, idx)
	}
	return r.fragments[idx], nil
}

// loadExportTable reads the inode number -> inodeRef lookup table
// (present only when the EXPORTABLE flag is set), letting InodeByNumber
// resolve arbitrary inode numbers without a full tree walk.
func (r *Reader) loadExportTable() error {
	if !r.sb.hasExport() {
		return nil
	}
	refs := make([]inodeRef, 0, r.sb.InodeCnt)
	err := r.readIndirectTable(r.sb.ExportTableStart, int(r.sb.InodeCnt), 8, func(b []byte) error {
		refs = append(refs, inodeRef(r.sb.order.Uint64(b)))
		return nil
	})
	if err != nil {
		return err
	}
	r.exportTable = refs
	return nil
}

// xattrIDEntry is one record of the xattr id table: it resolves an inode's
// xattr index into where that inode's key/value list starts in the xattr
// metadata region and how many pairs it holds.
type xattrIDEntry struct {
	XattrRef uint64
	Count    uint32
	Size     uint32
}

// xattrTableHeader is the 16-byte header preceding the xattr id table's
// own indirect-table pointer array.
type xattrTableHeader struct {
	XattrTableStart uint64
	XattrIds        uint32
	Unused          uint32
}

func (r *Reader) loadXattrTable() error {
	if !r.sb.hasXattrs() {
		return nil
	}

	hdr := make([]byte, 16)
	if _, err := io.ReadFull(io.NewSectionReader(r.ra, int64(r.sb.XattrIdTableStart), 16), hdr); err != nil {
		return fmt.Errorf("%w: xattr table header: %v", ErrShortRead, err)
	}
	h := xattrTableHeader{
		XattrTableStart: r.sb.order.Uint64(hdr[0:8]),
		XattrIds:        r.sb.order.Uint32(hdr[8:12]),
		Unused:          r.sb.order.Uint32(hdr[12:16]),
	}
	r.xattrTableStart = h.XattrTableStart

	ids := make([]xattrIDEntry, 0, h.XattrIds)
	err := r.readIndirectTable(r.sb.XattrIdTableStart+16, int(h.XattrIds), 16, func(b []byte) error {
		ids = append(ids, xattrIDEntry{
			XattrRef: r.sb.order.Uint64(b[0:8]),
			Count:    r.sb.order.Uint32(b[8:12]),
			Size:     r.sb.order.Uint32(b[12:16]),
		})
		return nil
	})
	if err != nil {
		return err
	}
	r.xattrIDs = ids
	return nil
}

// xattrPrefixes maps the prefix namespace packed into the low bits of an
// xattr entry's type field to its key prefix.
var xattrPrefixes = []string{
	"user.", "trusted.", "security.",
}

// Xattrs returns the extended attribute key/value pairs attached to an
// inode, or nil if it has none.
func (r *Reader) Xattrs(ino *Inode) (map[string]string, error) {
	if !r.sb.hasXattrs() || ino.XattrIdx == 0xffffffff {
		return nil, nil
	}
	if int(ino.XattrIdx) >= len(r.xattrIDs) {
		return nil, fmt.Errorf("%w: xattr index %d", ErrIndexOutOfRange, ino.XattrIdx)
	}
	entry := r.xattrIDs[ino.XattrIdx]

	m, err := r.newMetadataReader(r.xattrTableStart, uint32(entry.XattrRef>>16), uint16(entry.XattrRef&0xffff))
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, entry.Count)
	for i := uint32(0); i < entry.Count; i++ {
		var typ, keySz uint16
		if err := binary.Read(m, r.sb.order, &typ); err != nil {
			return nil, err
		}
		if err := binary.Read(m, r.sb.order, &keySz); err != nil {
			return nil, err
		}
		key := make([]byte, keySz)
		if _, err := io.ReadFull(m, key); err != nil {
			return nil, err
		}

		var valSz uint32
		if err := binary.Read(m, r.sb.order, &valSz); err != nil {
			return nil, err
		}
		val := make([]byte, valSz)
		if _, err := io.ReadFull(m, val); err != nil {
			return nil, err
		}

		prefix := ""
		if idx := int(typ &^ 0x0100); idx < len(xattrPrefixes) {
			prefix = xattrPrefixes[idx]
		}
		out[prefix+string(key)] = string(val)
	}
	return out, nil
}
