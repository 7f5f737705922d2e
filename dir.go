package squashfs

import (
	"encoding/binary"
	"io"
	"io/fs"
)

// dirReader streams the entries of one directory's region of the
// directory table: a sequence of headers, each followed by up to 256
// entries sharing that header's start block and base inode number.
type dirReader struct {
	r *Reader
	m *metadataReader

	remaining int64 // bytes of directory data left to consume, per inode.Size

	headerLeft uint32 // entries left under the current header
	curBlock   uint32
	baseIno    int32
}

// dirReader returns a stream over dir's entries, starting from the
// beginning of its region.
func (r *Reader) dirReader(dir *Inode) (*dirReader, error) {
	if !dir.IsDir() {
		return nil, ErrNotDirectory
	}
	// An empty directory (file_size == 3) has no header to read at all;
	// don't fault in a metadata block that may not exist on disk for it.
	if dir.Size <= 3 {
		return &dirReader{r: r}, nil
	}
	m, err := r.newMetadataReader(r.sb.DirTableStart, dir.StartBlock, dir.Offset)
	if err != nil {
		return nil, err
	}
	// The directory size field includes 3 bytes that aren't real entry
	// data (room for an empty trailing header), so the stream holds
	// size-3 bytes of headers and entries.
	remaining := int64(dir.Size) - 3
	if remaining < 0 {
		remaining = 0
	}
	return &dirReader{r: r, m: m, remaining: remaining}, nil
}

// dirReaderAt starts reading from a directory-index seek point: idx.Index
// counts entry-stream bytes before the seek point, and idx.Start is the
// block (relative to the directory table start) it lands in. Every block
// before the directory's last decompresses to a full 8192 bytes, so the
// in-block position is the stream position modulo the block size, offset
// by where the directory began in its first block.
func (r *Reader) dirReaderAt(dir *Inode, idx DirIndexEntry, consumed int64) (*dirReader, error) {
	off := uint16((uint32(dir.Offset) + idx.Index) % maxMetadataBlock)
	m, err := r.newMetadataReader(r.sb.DirTableStart, idx.Start, off)
	if err != nil {
		return nil, err
	}
	remaining := int64(dir.Size) - 3 - consumed
	if remaining < 0 {
		remaining = 0
	}
	return &dirReader{r: r, m: m, remaining: remaining}, nil
}

func (d *dirReader) readHeader() error {
	var count, startBlock uint32
	var inodeNum uint32
	if err := binary.Read(d.m, d.r.sb.order, &count); err != nil {
		return err
	}
	if err := binary.Read(d.m, d.r.sb.order, &startBlock); err != nil {
		return err
	}
	if err := binary.Read(d.m, d.r.sb.order, &inodeNum); err != nil {
		return err
	}
	d.headerLeft = count + 1
	d.curBlock = startBlock
	d.baseIno = int32(inodeNum)
	d.remaining -= 12
	return nil
}

// dirEntryRaw is one decoded directory entry.
type dirEntryRaw struct {
	Name string
	Type Type
	Ref  inodeRef
}

// next returns the next entry in the stream, or io.EOF once the
// directory's data has been fully consumed.
func (d *dirReader) next() (dirEntryRaw, error) {
	if d.remaining <= 0 {
		return dirEntryRaw{}, io.EOF
	}
	if d.headerLeft == 0 {
		if err := d.readHeader(); err != nil {
			return dirEntryRaw{}, err
		}
	}

	var offset uint16
	var inodeDelta int16
	var typ uint16
	var nameSize uint16
	if err := binary.Read(d.m, d.r.sb.order, &offset); err != nil {
		return dirEntryRaw{}, err
	}
	if err := binary.Read(d.m, d.r.sb.order, &inodeDelta); err != nil {
		return dirEntryRaw{}, err
	}
	if err := binary.Read(d.m, d.r.sb.order, &typ); err != nil {
		return dirEntryRaw{}, err
	}
	if err := binary.Read(d.m, d.r.sb.order, &nameSize); err != nil {
		return dirEntryRaw{}, err
	}
	name := make([]byte, int(nameSize)+1)
	if _, err := io.ReadFull(d.m, name); err != nil {
		return dirEntryRaw{}, err
	}

	d.headerLeft--
	d.remaining -= 8 + int64(len(name))

	ref := packInodeRef(d.curBlock, offset)
	return dirEntryRaw{
		Name: string(name),
		Type: Type(typ),
		Ref:  ref,
	}, nil
}

// direntry implements fs.DirEntry for one resolved SquashFS directory
// entry.
type direntry struct {
	r      *Reader
	name   string
	typ    Type
	ref    inodeRef
	parent *Inode
}

var _ fs.DirEntry = (*direntry)(nil)

func (de *direntry) Name() string { return de.name }
func (de *direntry) IsDir() bool  { return de.typ.IsDir() }
func (de *direntry) Type() fs.FileMode {
	return de.typ.Mode()
}
func (de *direntry) Info() (fs.FileInfo, error) {
	ino, err := de.r.inodeAt(de.ref)
	if err != nil {
		return nil, err
	}
	ino.parent = de.parent
	ino.name = de.name
	return &fileInfo{name: de.name, ino: ino}, nil
}

// readDirAll reads every entry of dir.
func (r *Reader) readDirAll(dir *Inode) ([]*direntry, error) {
	dr, err := r.dirReader(dir)
	if err != nil {
		return nil, err
	}
	var out []*direntry
	for {
		e, err := dr.next()
		if err != nil {
			if err == io.EOF {
				return out, nil
			}
			return nil, err
		}
		out = append(out, &direntry{r: r, name: e.Name, typ: e.Type, ref: e.Ref, parent: dir})
	}
}

// lookupChild finds a single named entry inside dir. For extended
// directories with an index, it uses the index to start as close to the
// target name as possible instead of scanning from the first entry.
func (r *Reader) lookupChild(dir *Inode, name string) (*direntry, error) {
	dr, err := r.startDirScan(dir, name)
	if err != nil {
		return nil, err
	}
	for {
		e, err := dr.next()
		if err != nil {
			if err == io.EOF {
				return nil, ErrFileNotFound
			}
			return nil, err
		}
		if e.Name == name {
			return &direntry{r: r, name: e.Name, typ: e.Type, ref: e.Ref, parent: dir}, nil
		}
	}
}

// startDirScan returns a dirReader positioned at the best known starting
// point for locating name: the directory index's last entry whose Name is
// <= name, or the directory's first entry if there is no index or nothing
// in it sorts before name.
func (r *Reader) startDirScan(dir *Inode, name string) (*dirReader, error) {
	if len(dir.DirIndex) == 0 {
		return r.dirReader(dir)
	}

	best := -1
	for n, idx := range dir.DirIndex {
		if idx.Name > name {
			break
		}
		best = n
	}
	if best < 0 {
		return r.dirReader(dir)
	}
	idx := dir.DirIndex[best]
	return r.dirReaderAt(dir, idx, int64(idx.Index))
}
