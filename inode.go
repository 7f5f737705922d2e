package squashfs

import (
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
)

const noXattr = 0xffffffff

// DirIndexEntry is one entry of an extended directory's index, letting
// large directories seek to a nearby metadata block instead of scanning
// from the start.
type DirIndexEntry struct {
	Index uint32 // byte offset into the directory's entry stream
	Start uint32 // block offset, relative to the directory table start
	Name  string
}

// Inode is one decoded SquashFS inode: the fixed common header plus the
// fields specific to its type.
type Inode struct {
	r      *Reader
	ref    inodeRef
	parent *Inode // logical back-link, set by the directory iterator/resolver; nil means "itself" (root)
	name   string // entry name this inode was reached through; "" for the root

	Type    Type
	Perm    uint16
	UidIdx  uint16
	GidIdx  uint16
	ModTime int32
	Ino     uint32

	NLink uint32
	Size  uint64

	// directory
	StartBlock uint32
	Offset     uint16
	ParentIno  uint32
	IdxCount   uint16
	DirIndex   []DirIndexEntry

	// regular file
	blockStart uint64
	FragBlock  uint32
	FragOffset uint32
	Sparse     uint64
	Blocks     []uint32 // raw on-disk size fields, compressed flag included

	// symlink
	SymTarget string

	// device / ipc
	Rdev     uint32
	XattrIdx uint32
}

// inodeAt decodes the inode at the given table-relative reference,
// following the on-disk field layout for each of the fourteen inode
// types.
func (r *Reader) inodeAt(ref inodeRef) (*Inode, error) {
	m, err := r.newMetadataReader(r.sb.InodeTableStart, ref.Index(), uint16(ref.Offset()))
	if err != nil {
		return nil, err
	}

	ino := &Inode{r: r, ref: ref, XattrIdx: noXattr}

	var rawType uint16
	if err := binary.Read(m, r.sb.order, &rawType); err != nil {
		return nil, err
	}
	ino.Type = Type(rawType)

	for _, f := range []any{&ino.Perm, &ino.UidIdx, &ino.GidIdx, &ino.ModTime, &ino.Ino} {
		if err := binary.Read(m, r.sb.order, f); err != nil {
			return nil, err
		}
	}

	switch ino.Type {
	case DirType:
		err = ino.decodeBasicDir(m)
	case XDirType:
		err = ino.decodeExtDir(m)
	case FileType:
		err = ino.decodeBasicFile(m)
	case XFileType:
		err = ino.decodeExtFile(m)
	case SymlinkType:
		err = ino.decodeBasicSymlink(m)
	case XSymlinkType:
		err = ino.decodeExtSymlink(m)
	case BlockDevType, CharDevType:
		err = ino.decodeBasicDevice(m)
	case XBlockDevType, XCharDevType:
		err = ino.decodeExtDevice(m)
	case FifoType, SocketType:
		err = ino.decodeBasicIPC(m)
	case XFifoType, XSocketType:
		err = ino.decodeExtIPC(m)
	default:
		return nil, fmt.Errorf("%w: unknown inode type %d", ErrInvalidSuper, rawType)
	}
	if err != nil {
		return nil, err
	}

	r.cacheInodeNumber(ino.Ino, ref)
	return ino, nil
}

func (i *Inode) decodeBasicDir(m *metadataReader) error {
	var startBlock, size, offset uint32
	if err := binary.Read(m, i.r.sb.order, &startBlock); err != nil {
		return err
	}
	if err := binary.Read(m, i.r.sb.order, &i.NLink); err != nil {
		return err
	}
	var sz16, off16 uint16
	if err := binary.Read(m, i.r.sb.order, &sz16); err != nil {
		return err
	}
	if err := binary.Read(m, i.r.sb.order, &off16); err != nil {
		return err
	}
	if err := binary.Read(m, i.r.sb.order, &i.ParentIno); err != nil {
		return err
	}
	size, offset = uint32(sz16), uint32(off16)
	i.StartBlock = startBlock
	i.Size = uint64(size)
	i.Offset = uint16(offset)
	return nil
}

func (i *Inode) decodeExtDir(m *metadataReader) error {
	if err := binary.Read(m, i.r.sb.order, &i.NLink); err != nil {
		return err
	}
	var size, startBlock uint32
	if err := binary.Read(m, i.r.sb.order, &size); err != nil {
		return err
	}
	if err := binary.Read(m, i.r.sb.order, &startBlock); err != nil {
		return err
	}
	if err := binary.Read(m, i.r.sb.order, &i.ParentIno); err != nil {
		return err
	}
	if err := binary.Read(m, i.r.sb.order, &i.IdxCount); err != nil {
		return err
	}
	var offset uint16
	if err := binary.Read(m, i.r.sb.order, &offset); err != nil {
		return err
	}
	if err := binary.Read(m, i.r.sb.order, &i.XattrIdx); err != nil {
		return err
	}
	i.Size = uint64(size)
	i.StartBlock = startBlock
	i.Offset = offset

	i.DirIndex = make([]DirIndexEntry, 0, i.IdxCount)
	for n := uint16(0); n < i.IdxCount; n++ {
		var idx, start, nameSize uint32
		if err := binary.Read(m, i.r.sb.order, &idx); err != nil {
			return err
		}
		if err := binary.Read(m, i.r.sb.order, &start); err != nil {
			return err
		}
		if err := binary.Read(m, i.r.sb.order, &nameSize); err != nil {
			return err
		}
		name := make([]byte, nameSize+1)
		if _, err := io.ReadFull(m, name); err != nil {
			return err
		}
		i.DirIndex = append(i.DirIndex, DirIndexEntry{Index: idx, Start: start, Name: string(name)})
	}
	return nil
}

// fileBlockCount returns how many block-list entries a file inode of the
// given size carries, accounting for a trailing fragment.
func fileBlockCount(size uint64, blockSize uint32, hasFragment bool) int {
	blocks := int(size / uint64(blockSize))
	if !hasFragment && size%uint64(blockSize) != 0 {
		blocks++
	}
	return blocks
}

func (i *Inode) readBlockList(m *metadataReader, n int) error {
	i.Blocks = make([]uint32, n)
	for j := 0; j < n; j++ {
		if err := binary.Read(m, i.r.sb.order, &i.Blocks[j]); err != nil {
			return err
		}
	}
	return nil
}

func (i *Inode) decodeBasicFile(m *metadataReader) error {
	var startBlock, size uint32
	if err := binary.Read(m, i.r.sb.order, &startBlock); err != nil {
		return err
	}
	if err := binary.Read(m, i.r.sb.order, &i.FragBlock); err != nil {
		return err
	}
	if err := binary.Read(m, i.r.sb.order, &i.FragOffset); err != nil {
		return err
	}
	if err := binary.Read(m, i.r.sb.order, &size); err != nil {
		return err
	}
	i.blockStart = uint64(startBlock)
	i.Size = uint64(size)

	n := fileBlockCount(i.Size, i.r.sb.BlockSize, i.hasFragment())
	return i.readBlockList(m, n)
}

func (i *Inode) decodeExtFile(m *metadataReader) error {
	if err := binary.Read(m, i.r.sb.order, &i.blockStart); err != nil {
		return err
	}
	if err := binary.Read(m, i.r.sb.order, &i.Size); err != nil {
		return err
	}
	if err := binary.Read(m, i.r.sb.order, &i.Sparse); err != nil {
		return err
	}
	if err := binary.Read(m, i.r.sb.order, &i.NLink); err != nil {
		return err
	}
	if err := binary.Read(m, i.r.sb.order, &i.FragBlock); err != nil {
		return err
	}
	if err := binary.Read(m, i.r.sb.order, &i.FragOffset); err != nil {
		return err
	}
	if err := binary.Read(m, i.r.sb.order, &i.XattrIdx); err != nil {
		return err
	}

	n := fileBlockCount(i.Size, i.r.sb.BlockSize, i.hasFragment())
	return i.readBlockList(m, n)
}

func (i *Inode) hasFragment() bool {
	return i.FragBlock != 0xffffffff
}

func (i *Inode) decodeBasicSymlink(m *metadataReader) error {
	if err := binary.Read(m, i.r.sb.order, &i.NLink); err != nil {
		return err
	}
	var size uint32
	if err := binary.Read(m, i.r.sb.order, &size); err != nil {
		return err
	}
	if size > 4096 {
		return fmt.Errorf("%w: symlink target length %d", ErrInvalidSuper, size)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(m, buf); err != nil {
		return err
	}
	i.Size = uint64(size)
	i.SymTarget = string(buf)
	return nil
}

func (i *Inode) decodeExtSymlink(m *metadataReader) error {
	if err := i.decodeBasicSymlink(m); err != nil {
		return err
	}
	return binary.Read(m, i.r.sb.order, &i.XattrIdx)
}

func (i *Inode) decodeBasicDevice(m *metadataReader) error {
	if err := binary.Read(m, i.r.sb.order, &i.NLink); err != nil {
		return err
	}
	return binary.Read(m, i.r.sb.order, &i.Rdev)
}

func (i *Inode) decodeExtDevice(m *metadataReader) error {
	if err := i.decodeBasicDevice(m); err != nil {
		return err
	}
	return binary.Read(m, i.r.sb.order, &i.XattrIdx)
}

func (i *Inode) decodeBasicIPC(m *metadataReader) error {
	return binary.Read(m, i.r.sb.order, &i.NLink)
}

func (i *Inode) decodeExtIPC(m *metadataReader) error {
	if err := i.decodeBasicIPC(m); err != nil {
		return err
	}
	return binary.Read(m, i.r.sb.order, &i.XattrIdx)
}

// DeviceNumbers splits the packed rdev field into (major, minor), matching
// Linux's historical dev_t encoding.
func (i *Inode) DeviceNumbers() (major, minor uint32, err error) {
	if !i.Type.IsDevice() {
		return 0, 0, ErrNotADevice
	}
	major = (i.Rdev & 0xfff00) >> 8
	minor = (i.Rdev & 0x000ff) | ((i.Rdev >> 12) & 0xfff00)
	return major, minor, nil
}

// Mode returns the combined permission bits and file-type bits for this
// inode, suitable for fs.FileInfo.Mode.
func (i *Inode) Mode() fs.FileMode {
	return UnixToMode(uint32(i.Perm)) | i.Type.Mode()
}

func (i *Inode) IsDir() bool { return i.Type.IsDir() }

func (i *Inode) IsRegular() bool { return i.Type.IsRegular() }

func (i *Inode) IsSymlink() bool { return i.Type.IsSymlink() }

func (i *Inode) IsBlockDev() bool { return i.Type.IsBlockDev() }

func (i *Inode) IsCharDev() bool { return i.Type.IsCharDev() }

func (i *Inode) IsFifo() bool { return i.Type.IsFifo() }

func (i *Inode) IsSocket() bool { return i.Type.IsSocket() }

// Name returns the directory entry name this inode was reached through
// during traversal, or "" for the root (and for inodes materialized
// directly from a packed reference or inode number).
func (i *Inode) Name() string { return i.name }

// Uid resolves this inode's owning user id via the image's id table.
func (i *Inode) Uid() (uint32, error) { return i.r.idFromIndex(i.UidIdx) }

// Gid resolves this inode's owning group id via the image's id table.
func (i *Inode) Gid() (uint32, error) { return i.r.idFromIndex(i.GidIdx) }

// Readlink returns a symlink inode's target path.
func (i *Inode) Readlink() (string, error) {
	if !i.Type.IsSymlink() {
		return "", ErrNotASymlink
	}
	return i.SymTarget, nil
}

// Ref returns the packed inode reference this inode was decoded from,
// usable with Reader.Inode.
func (i *Inode) Ref() uint64 {
	return i.ref.Packed()
}

// Parent returns the directory this inode was reached through during
// traversal. An inode with no recorded back-link (e.g. resolved directly by
// number or packed address, never walked from a directory) is its own
// parent, matching the root's convention.
func (i *Inode) Parent() *Inode {
	if i.parent != nil {
		return i.parent
	}
	return i
}
