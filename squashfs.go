// Package squashfs implements a read-only driver for the SquashFS 4.x
// on-disk filesystem format, exposed through the standard io/fs
// interfaces.
package squashfs

import (
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/sirupsen/logrus"
)

// Reader opens a SquashFS 4.x image for read-only access. It implements
// fs.FS, fs.ReadFileFS, fs.ReadDirFS, fs.StatFS and fs.SubFS so callers can
// use it anywhere a standard library file tree is expected.
type Reader struct {
	ra     io.ReaderAt
	closer io.Closer
	sb     *Superblock
	log    *logrus.Logger

	cacheSize  int
	blockCache *lruCache
	metaCache  *lruCache
	inoCache   *lruCache // inode number -> inodeRef

	ids             []uint32
	fragments       []fragmentEntry
	exportTable     []inodeRef
	xattrIDs        []xattrIDEntry
	xattrTableStart uint64
	compOptions     []byte

	root *Inode
}

var (
	_ fs.FS         = (*Reader)(nil)
	_ fs.ReadFileFS = (*Reader)(nil)
	_ fs.ReadDirFS  = (*Reader)(nil)
	_ fs.StatFS     = (*Reader)(nil)
	_ fs.SubFS      = (*Reader)(nil)
)

// Open opens the SquashFS image at path on the local filesystem.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := New(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// New wraps an already-open image. ra must remain valid for the lifetime
// of the returned Reader.
func New(ra io.ReaderAt, opts ...Option) (*Reader, error) {
	r := &Reader{ra: ra, cacheSize: defaultCacheSize, log: logrus.StandardLogger()}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}

	head := make([]byte, superblockSize())
	if _, err := ra.ReadAt(head, 0); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShortRead, err)
	}
	sb, err := unmarshalSuperblock(head, r.log)
	if err != nil {
		return nil, err
	}
	r.sb = sb

	r.blockCache = newLRUCache(r.cacheSize)
	r.metaCache = newLRUCache(r.cacheSize)
	r.inoCache = newLRUCache(r.cacheSize)

	if err := r.readCompressionOptions(); err != nil {
		return nil, err
	}

	if err := r.loadIDTable(); err != nil {
		return nil, err
	}
	if err := r.loadFragmentTable(); err != nil {
		return nil, err
	}
	if err := r.loadXattrTable(); err != nil {
		return nil, err
	}
	if err := r.loadExportTable(); err != nil {
		return nil, err
	}

	root, err := r.Inode(r.sb.RootInode)
	if err != nil {
		return nil, fmt.Errorf("reading root inode: %w", err)
	}
	r.root = root

	r.log.WithFields(logrus.Fields{
		"compression": sb.Comp,
		"block_size":  sb.BlockSize,
		"inodes":      sb.InodeCnt,
	}).Debug("squashfs: opened image")

	return r, nil
}

// Close releases the underlying file, if Reader opened it itself via Open.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// Superblock returns the parsed image header.
func (r *Reader) Superblock() *Superblock {
	return r.sb
}

// Root returns the filesystem's root directory inode.
func (r *Reader) Root() *Inode {
	return r.root
}

// Inode decodes the inode addressed by a packed inode reference (block<<16
// | offset, relative to the inode table start).
func (r *Reader) Inode(packed uint64) (*Inode, error) {
	return r.inodeAt(inodeRef(packed))
}

// InodeByNumber resolves an inode by its stable inode number, using the
// NFS export table when present and falling back to the reader's
// lookup-by-traversal cache otherwise.
func (r *Reader) InodeByNumber(num uint32) (*Inode, error) {
	if num == 0 || uint32(num) > r.sb.InodeCnt {
		return nil, ErrIndexOutOfRange
	}

	if v, ok := r.inoCache.get(num); ok {
		return r.inodeAt(v.(inodeRef))
	}

	if r.sb.hasExport() {
		idx := num - 1
		if int(idx) >= len(r.exportTable) {
			return nil, ErrIndexOutOfRange
		}
		ref := r.exportTable[idx]
		r.inoCache.set(num, ref)
		return r.inodeAt(ref)
	}

	return nil, fmt.Errorf("%w: inode %d (image has no export table, and it has not been visited yet)", ErrFileNotFound, num)
}

func (r *Reader) cacheInodeNumber(num uint32, ref inodeRef) {
	r.inoCache.set(num, ref)
}
