package squashfs_test

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"

	"github.com/mistfs/squashfs"
)

// This file builds small, valid-from-first-principles SquashFS 4.x images
// entirely in memory, for exercising the reader without any on-disk
// fixture. No real mksquashfs image ships with this package, so tests
// construct exactly the bytes the format requires instead.

const (
	fxMagic       = 0x73717368
	fxMetaCompBit = 1 << 15
	fxDataCompBit = 1 << 24
	fxMetaMax     = 8192
	fxNoTable     = 0xffffffffffffffff
	fxNoFrag      = 0xffffffff
	fxNoXattr     = 0xffffffff
)

// fxNode describes one entry of a synthetic tree to encode into an image.
type fxNode struct {
	name string
	mode uint16
	uid  uint32
	gid  uint32

	children []*fxNode // non-nil (even if empty) marks a directory

	content []byte
	noFrag  bool         // force the trailing partial block into a full block instead of a fragment
	sparse  map[int]bool // block indices (within this file) to store as sparse holes

	symlink string

	devType squashfs.Type // BlockDevType or CharDevType
	rdev    uint32
	ipcType squashfs.Type // FifoType or SocketType
}

func dirNode(name string, children ...*fxNode) *fxNode {
	// Always a non-nil slice, even with zero children: it's what marks
	// this node as a directory rather than some other inode type.
	kids := append([]*fxNode{}, children...)
	return &fxNode{name: name, mode: 0755, children: kids}
}

func fileNode(name string, content []byte) *fxNode {
	return &fxNode{name: name, mode: 0644, content: content}
}

func symlinkNode(name, target string) *fxNode {
	return &fxNode{name: name, mode: 0777, symlink: target}
}

// fxChild is what a processed node reports to its parent directory.
type fxChild struct {
	name  string
	typ   squashfs.Type
	block uint32
	off   uint16
	ino   uint32
}

type fxBuilder struct {
	t         *testing.T
	order     binary.ByteOrder
	comp      squashfs.Compression
	blockSize uint32

	dataBuf bytes.Buffer

	inodeFlat bytes.Buffer
	dirFlat   bytes.Buffer

	ids     []uint32
	idIndex map[uint32]uint16

	fragStarts []uint64
	fragSizes  []uint32

	nextIno uint32
	allRefs map[uint32]uint64 // inode number -> packed inodeRef, for an export table
}

func newFxBuilder(t *testing.T, comp squashfs.Compression, blockSize uint32) *fxBuilder {
	return &fxBuilder{
		t:         t,
		order:     binary.LittleEndian,
		comp:      comp,
		blockSize: blockSize,
		idIndex:   map[uint32]uint16{},
		allRefs:   map[uint32]uint64{},
	}
}

func (b *fxBuilder) idIdx(v uint32) uint16 {
	if idx, ok := b.idIndex[v]; ok {
		return idx
	}
	idx := uint16(len(b.ids))
	b.ids = append(b.ids, v)
	b.idIndex[v] = idx
	return idx
}

// metaAddr converts a byte position in a flat (pre-chunking) metadata
// stream into the (block, offset) pair it will have once the stream is
// packed into fxMetaMax-sized uncompressed metadata blocks. Every chunk
// before the one containing pos is a full fxMetaMax-byte chunk (only the
// very last chunk of a stream can be shorter), so this holds regardless of
// how much more gets appended to the stream afterward.
func metaAddr(pos int) (block uint32, off uint16) {
	chunkIdx := pos / fxMetaMax
	return uint32(chunkIdx) * (fxMetaMax + 2), uint16(pos % fxMetaMax)
}

// packMetadataBlocks frames flat into a sequence of uncompressed metadata
// blocks (2-byte length header, high bit set, plus payload).
func packMetadataBlocks(order binary.ByteOrder, flat []byte) []byte {
	var out bytes.Buffer
	for i := 0; i < len(flat); i += fxMetaMax {
		end := i + fxMetaMax
		if end > len(flat) {
			end = len(flat)
		}
		chunk := flat[i:end]
		var hdr [2]byte
		order.PutUint16(hdr[:], uint16(len(chunk))|fxMetaCompBit)
		out.Write(hdr[:])
		out.Write(chunk)
	}
	return out.Bytes()
}

func (b *fxBuilder) compress(src []byte) (payload []byte, compressed bool) {
	switch b.comp {
	case squashfs.GZip:
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(src); err != nil {
			b.t.Fatalf("zlib compress: %v", err)
		}
		if err := w.Close(); err != nil {
			b.t.Fatalf("zlib compress: %v", err)
		}
		return buf.Bytes(), true
	case squashfs.LZ4:
		// Raw block format, not the lz4 frame format: on-disk blocks
		// carry no frame header.
		dst := make([]byte, lz4.CompressBlockBound(len(src)))
		n, err := lz4.CompressBlock(src, dst)
		if err != nil {
			b.t.Fatalf("lz4 compress: %v", err)
		}
		if n == 0 {
			// incompressible; hand back the input so the caller's
			// size comparison picks the stored-raw path
			return src, false
		}
		return dst[:n], true
	case squashfs.XZ:
		var buf bytes.Buffer
		w, err := xz.NewWriter(&buf)
		if err != nil {
			b.t.Fatalf("xz compress: %v", err)
		}
		if _, err := w.Write(src); err != nil {
			b.t.Fatalf("xz compress: %v", err)
		}
		if err := w.Close(); err != nil {
			b.t.Fatalf("xz compress: %v", err)
		}
		return buf.Bytes(), true
	case squashfs.ZSTD:
		var buf bytes.Buffer
		w, err := zstd.NewWriter(&buf)
		if err != nil {
			b.t.Fatalf("zstd compress: %v", err)
		}
		if _, err := w.Write(src); err != nil {
			b.t.Fatalf("zstd compress: %v", err)
		}
		if err := w.Close(); err != nil {
			b.t.Fatalf("zstd compress: %v", err)
		}
		return buf.Bytes(), true
	default:
		b.t.Fatalf("fixture builder: unsupported codec %v", b.comp)
		return nil, false
	}
}

// writeDataBlock appends one data block (compressed if that's shorter)
// to the shared data region and returns its raw on-disk size field.
func (b *fxBuilder) writeDataBlock(content []byte) uint32 {
	packed, _ := b.compress(content)
	if len(packed) >= len(content) {
		b.dataBuf.Write(content)
		return uint32(len(content)) | fxDataCompBit // flag set => stored raw
	}
	b.dataBuf.Write(packed)
	return uint32(len(packed))
}

// buildFile writes content as a block list (+ optional trailing fragment)
// and returns the fields a FileType inode needs.
func (b *fxBuilder) buildFile(n *fxNode) (startBlock uint64, blocks []uint32, fragBlock, fragOffset uint32, size uint64) {
	content := n.content
	size = uint64(len(content))
	bs := int(b.blockSize)

	full := len(content) / bs
	tail := content[full*bs:]

	// The data region is placed immediately after the (fixed-size)
	// superblock in the final image, so absolute positions need that
	// offset added on top of this buffer's own internal length.
	startBlock = uint64(squashfs.SuperblockSize) + uint64(b.dataBuf.Len())
	for i := 0; i < full; i++ {
		blk := content[i*bs : (i+1)*bs]
		if n.sparse[i] {
			blocks = append(blocks, 0)
			continue
		}
		blocks = append(blocks, b.writeDataBlock(blk))
	}

	fragBlock = fxNoFrag
	fragOffset = 0
	if len(tail) > 0 {
		if n.noFrag {
			padded := make([]byte, bs)
			copy(padded, tail)
			blocks = append(blocks, b.writeDataBlock(padded))
		} else {
			raw := b.writeDataBlock(tail)
			fragStart := uint64(squashfs.SuperblockSize) + uint64(b.dataBuf.Len()) - uint64(raw&^fxDataCompBit)
			fragBlock = uint32(len(b.fragStarts))
			b.fragStarts = append(b.fragStarts, fragStart)
			b.fragSizes = append(b.fragSizes, raw)
			fragOffset = 0
		}
	}
	return startBlock, blocks, fragBlock, fragOffset, size
}

func (b *fxBuilder) appendInode(raw []byte) (block uint32, off uint16) {
	pos := b.inodeFlat.Len()
	b.inodeFlat.Write(raw)
	return metaAddr(pos)
}

func (b *fxBuilder) writeCommonHeader(buf *bytes.Buffer, typ squashfs.Type, n *fxNode, ino uint32) {
	binary.Write(buf, b.order, uint16(typ))
	binary.Write(buf, b.order, n.mode)
	binary.Write(buf, b.order, b.idIdx(n.uid))
	binary.Write(buf, b.order, b.idIdx(n.gid))
	binary.Write(buf, b.order, int32(1700000000))
	binary.Write(buf, b.order, ino)
}

// process walks n (and, if n is a directory, its children first) and
// appends inode records to the flat inode stream, returning this node's
// descriptor for its parent to reference.
func (b *fxBuilder) process(n *fxNode, parentIno uint32, forcedIno uint32) fxChild {
	var myIno uint32
	if forcedIno != 0 {
		myIno = forcedIno
	} else {
		b.nextIno++
		myIno = b.nextIno
	}

	switch {
	case n.children != nil:
		var kids []fxChild
		for _, c := range n.children {
			kids = append(kids, b.process(c, myIno, 0))
		}

		var entries bytes.Buffer
		for _, k := range kids {
			base := int32(k.ino) - 1
			binary.Write(&entries, b.order, uint32(0)) // count = 1 entry under this header
			binary.Write(&entries, b.order, k.block)
			binary.Write(&entries, b.order, uint32(base))
			binary.Write(&entries, b.order, k.off)
			binary.Write(&entries, b.order, int16(1)) // delta: k.ino == base+1
			binary.Write(&entries, b.order, uint16(k.typ))
			nb := []byte(k.name)
			binary.Write(&entries, b.order, uint16(len(nb)-1))
			entries.Write(nb)
		}

		dirPos := b.dirFlat.Len()
		b.dirFlat.Write(entries.Bytes())
		dirBlock, dirOff := metaAddr(dirPos)
		dirSize := entries.Len() + 3
		if entries.Len() == 0 {
			dirBlock, dirOff = 0, 0
		}

		var rec bytes.Buffer
		b.writeCommonHeader(&rec, squashfs.DirType, n, myIno)
		binary.Write(&rec, b.order, dirBlock)
		binary.Write(&rec, b.order, uint32(len(kids)+2)) // nlink
		binary.Write(&rec, b.order, uint16(dirSize))
		binary.Write(&rec, b.order, dirOff)
		binary.Write(&rec, b.order, parentIno)

		block, off := b.appendInode(rec.Bytes())
		b.allRefs[myIno] = uint64(block)<<16 | uint64(off)
		return fxChild{name: n.name, typ: squashfs.DirType, block: block, off: off, ino: myIno}

	case n.symlink != "":
		var rec bytes.Buffer
		b.writeCommonHeader(&rec, squashfs.SymlinkType, n, myIno)
		binary.Write(&rec, b.order, uint32(1)) // nlink
		target := []byte(n.symlink)
		binary.Write(&rec, b.order, uint32(len(target)))
		rec.Write(target)
		block, off := b.appendInode(rec.Bytes())
		b.allRefs[myIno] = uint64(block)<<16 | uint64(off)
		return fxChild{name: n.name, typ: squashfs.SymlinkType, block: block, off: off, ino: myIno}

	case n.devType == squashfs.BlockDevType || n.devType == squashfs.CharDevType:
		var rec bytes.Buffer
		b.writeCommonHeader(&rec, n.devType, n, myIno)
		binary.Write(&rec, b.order, uint32(1))
		binary.Write(&rec, b.order, n.rdev)
		block, off := b.appendInode(rec.Bytes())
		b.allRefs[myIno] = uint64(block)<<16 | uint64(off)
		return fxChild{name: n.name, typ: n.devType, block: block, off: off, ino: myIno}

	case n.ipcType == squashfs.FifoType || n.ipcType == squashfs.SocketType:
		var rec bytes.Buffer
		b.writeCommonHeader(&rec, n.ipcType, n, myIno)
		binary.Write(&rec, b.order, uint32(1))
		block, off := b.appendInode(rec.Bytes())
		b.allRefs[myIno] = uint64(block)<<16 | uint64(off)
		return fxChild{name: n.name, typ: n.ipcType, block: block, off: off, ino: myIno}

	default: // regular file
		startBlock, blocks, fragBlock, fragOffset, size := b.buildFile(n)
		var rec bytes.Buffer
		b.writeCommonHeader(&rec, squashfs.FileType, n, myIno)
		binary.Write(&rec, b.order, uint32(startBlock))
		binary.Write(&rec, b.order, fragBlock)
		binary.Write(&rec, b.order, fragOffset)
		binary.Write(&rec, b.order, uint32(size))
		for _, blk := range blocks {
			binary.Write(&rec, b.order, blk)
		}
		block, off := b.appendInode(rec.Bytes())
		b.allRefs[myIno] = uint64(block)<<16 | uint64(off)
		return fxChild{name: n.name, typ: squashfs.FileType, block: block, off: off, ino: myIno}
	}
}

// buildIndirectRegion packs flat (a concatenation of fixed-size records)
// into the pointer-array + metadata-blocks shape every indirect table
// uses, placed as if the region begins at base in the final image.
func buildIndirectRegion(order binary.ByteOrder, base uint64, flat []byte, entrySize int) []byte {
	chunks := [][]byte{}
	for i := 0; i < len(flat); i += fxMetaMax {
		end := i + fxMetaMax
		if end > len(flat) {
			end = len(flat)
		}
		chunks = append(chunks, flat[i:end])
	}

	ptrArrayLen := len(chunks) * 8
	var region bytes.Buffer
	region.Write(make([]byte, ptrArrayLen))

	cur := base + uint64(ptrArrayLen)
	ptrs := make([]uint64, len(chunks))
	for i, c := range chunks {
		ptrs[i] = cur
		var hdr [2]byte
		order.PutUint16(hdr[:], uint16(len(c))|fxMetaCompBit)
		region.Write(hdr[:])
		region.Write(c)
		cur += uint64(2 + len(c))
	}

	out := region.Bytes()
	for i, p := range ptrs {
		order.PutUint64(out[i*8:], p)
	}
	return out
}

type fxOptions struct {
	exportable  bool
	compOptions []byte // codec options metadata block placed right after the superblock
}

// build assembles a complete image around root and returns its bytes.
func (b *fxBuilder) build(root *fxNode, opts fxOptions) []byte {
	rootIno := uint32(1)
	b.nextIno = 1
	rootInfo := b.process(root, rootIno, rootIno)

	var img bytes.Buffer
	img.Write(make([]byte, squashfs.SuperblockSize)) // patched at the end
	if len(opts.compOptions) > 0 {
		// The options block sits where file data would otherwise start;
		// data-block positions were computed without it, so the two can't
		// be combined in one fixture.
		if b.dataBuf.Len() > 0 {
			b.t.Fatalf("fixture: compression options and file data are mutually exclusive")
		}
		img.Write(packMetadataBlocks(b.order, opts.compOptions))
	}
	img.Write(b.dataBuf.Bytes())

	idFlat := make([]byte, len(b.ids)*4)
	for i, v := range b.ids {
		b.order.PutUint32(idFlat[i*4:], v)
	}
	idTableStart := uint64(img.Len())
	img.Write(buildIndirectRegion(b.order, idTableStart, idFlat, 4))

	fragTableStart := uint64(fxNoTable)
	if len(b.fragStarts) > 0 {
		fragFlat := make([]byte, len(b.fragStarts)*16)
		for i := range b.fragStarts {
			b.order.PutUint64(fragFlat[i*16:], b.fragStarts[i])
			b.order.PutUint32(fragFlat[i*16+8:], b.fragSizes[i])
		}
		fragTableStart = uint64(img.Len())
		img.Write(buildIndirectRegion(b.order, fragTableStart, fragFlat, 16))
	}

	exportTableStart := uint64(fxNoTable)
	if opts.exportable {
		refFlat := make([]byte, int(b.nextIno)*8)
		for num := uint32(1); num <= b.nextIno; num++ {
			b.order.PutUint64(refFlat[(num-1)*8:], b.allRefs[num])
		}
		exportTableStart = uint64(img.Len())
		img.Write(buildIndirectRegion(b.order, exportTableStart, refFlat, 8))
	}

	inodeTableStart := uint64(img.Len())
	img.Write(packMetadataBlocks(b.order, b.inodeFlat.Bytes()))

	dirTableStart := uint64(img.Len())
	img.Write(packMetadataBlocks(b.order, b.dirFlat.Bytes()))

	bytesUsed := uint64(img.Len())

	blockLog := uint16(0)
	for 1<<blockLog < b.blockSize {
		blockLog++
	}

	sb := &squashfs.Superblock{
		Magic:             fxMagic,
		InodeCnt:          b.nextIno,
		ModTime:           1700000000,
		BlockSize:         b.blockSize,
		FragCount:         uint32(len(b.fragStarts)),
		Comp:              b.comp,
		BlockLog:          blockLog,
		Flags:             0,
		IdCount:           uint16(len(b.ids)),
		VMajor:            4,
		VMinor:            0,
		RootInode:         uint64(rootInfo.block)<<16 | uint64(rootInfo.off),
		BytesUsed:         bytesUsed,
		IdTableStart:      idTableStart,
		XattrIdTableStart: fxNoTable,
		InodeTableStart:   inodeTableStart,
		DirTableStart:     dirTableStart,
		FragTableStart:    fragTableStart,
		ExportTableStart:  exportTableStart,
	}
	if opts.exportable {
		sb.Flags |= squashfs.EXPORTABLE
	}
	if len(opts.compOptions) > 0 {
		sb.Flags |= squashfs.COMPRESSOR_OPTIONS
	}
	if len(b.fragStarts) == 0 {
		sb.Flags |= squashfs.NO_FRAGMENTS
	}

	out := img.Bytes()
	copy(out[0:squashfs.SuperblockSize], sb.Bytes())
	return out
}

// buildImage is the entry point tests use: it encodes root using comp at
// blockSize and returns the finished image bytes.
func buildImage(t *testing.T, root *fxNode, comp squashfs.Compression, blockSize uint32) []byte {
	t.Helper()
	b := newFxBuilder(t, comp, blockSize)
	return b.build(root, fxOptions{})
}

func buildExportableImage(t *testing.T, root *fxNode, comp squashfs.Compression, blockSize uint32) []byte {
	t.Helper()
	b := newFxBuilder(t, comp, blockSize)
	return b.build(root, fxOptions{exportable: true})
}

func buildImageWithCompOptions(t *testing.T, root *fxNode, comp squashfs.Compression, blockSize uint32, options []byte) []byte {
	t.Helper()
	b := newFxBuilder(t, comp, blockSize)
	return b.build(root, fxOptions{compOptions: options})
}
