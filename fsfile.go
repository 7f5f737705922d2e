package squashfs

import (
	"io"
	"io/fs"
	"path"
	"sort"
	"time"
)

// fileInfo implements fs.FileInfo over a decoded inode.
type fileInfo struct {
	name string
	ino  *Inode
}

var _ fs.FileInfo = (*fileInfo)(nil)

func (fi *fileInfo) Name() string      { return fi.name }
func (fi *fileInfo) Size() int64       { return int64(fi.ino.Size) }
func (fi *fileInfo) Mode() fs.FileMode { return fi.ino.Mode() }
func (fi *fileInfo) IsDir() bool       { return fi.ino.IsDir() }
func (fi *fileInfo) Sys() any          { return fi.ino }

// ModTime returns the inode's modification time. SquashFS stores this as
// a signed 32-bit unix timestamp, so it can't represent times past 2038.
func (fi *fileInfo) ModTime() time.Time {
	return time.Unix(int64(fi.ino.ModTime), 0)
}

// file implements fs.File (and io.Seeker, io.ReaderAt) over a regular
// file inode.
type file struct {
	*io.SectionReader
	name string
	ino  *Inode
}

var (
	_ fs.File     = (*file)(nil)
	_ io.ReaderAt = (*file)(nil)
)

func (f *file) Stat() (fs.FileInfo, error) {
	return &fileInfo{name: path.Base(f.name), ino: f.ino}, nil
}
func (f *file) Close() error { return nil }

// dirFile implements fs.ReadDirFile over a directory inode.
type dirFile struct {
	r       *Reader
	name    string
	ino     *Inode
	entries []*direntry
	pos     int
}

var _ fs.ReadDirFile = (*dirFile)(nil)

func (d *dirFile) Read(p []byte) (int, error) { return 0, ErrNotAFile }
func (d *dirFile) Close() error               { return nil }
func (d *dirFile) Stat() (fs.FileInfo, error) {
	return &fileInfo{name: path.Base(d.name), ino: d.ino}, nil
}

func (d *dirFile) ReadDir(n int) ([]fs.DirEntry, error) {
	if d.entries == nil {
		all, err := d.r.readDirAll(d.ino)
		if err != nil {
			return nil, err
		}
		sort.Slice(all, func(i, j int) bool { return all[i].name < all[j].name })
		d.entries = all
	}

	if n <= 0 {
		out := make([]fs.DirEntry, 0, len(d.entries)-d.pos)
		for ; d.pos < len(d.entries); d.pos++ {
			out = append(out, d.entries[d.pos])
		}
		return out, nil
	}

	if d.pos >= len(d.entries) {
		return nil, io.EOF
	}
	end := d.pos + n
	if end > len(d.entries) {
		end = len(d.entries)
	}
	out := make([]fs.DirEntry, 0, end-d.pos)
	for ; d.pos < end; d.pos++ {
		out = append(out, d.entries[d.pos])
	}
	return out, nil
}

// openInode wraps ino as an fs.File: an io.SectionReader over the inode's
// content for regular files, a stateful ReadDir cursor for directories.
func (r *Reader) openInode(name string, ino *Inode) (fs.File, error) {
	if ino.IsDir() {
		return &dirFile{r: r, name: name, ino: ino}, nil
	}
	if !ino.Type.IsRegular() {
		// devices, fifos and sockets still Stat fine; reading their
		// content isn't meaningful through an fs.File.
		return &openSpecialFile{name: name, ino: ino}, nil
	}

	fr, err := ino.newFileReader()
	if err != nil {
		return nil, err
	}
	return &file{SectionReader: io.NewSectionReader(fr, 0, int64(ino.Size)), name: name, ino: ino}, nil
}

// openSpecialFile backs fs.File for inodes with no byte stream of their
// own (devices, fifos, sockets): Stat works, Read doesn't.
type openSpecialFile struct {
	name string
	ino  *Inode
}

func (f *openSpecialFile) Stat() (fs.FileInfo, error) {
	return &fileInfo{name: path.Base(f.name), ino: f.ino}, nil
}
func (f *openSpecialFile) Read(p []byte) (int, error) { return 0, ErrNotAFile }
func (f *openSpecialFile) Close() error               { return nil }

// validPath reports whether name satisfies fs.FS's path contract.
func validPath(name string) bool {
	return fs.ValidPath(name)
}

// statInode resolves name to an inode with any trailing symlink followed,
// the way the fs.FS surfaces expect paths to behave.
func (r *Reader) statInode(name string) (*Inode, error) {
	ino, err := r.FindInode(name)
	if err != nil {
		return nil, err
	}
	return r.followLink(ino, 0)
}

// Open implements fs.FS.
func (r *Reader) Open(name string) (fs.File, error) {
	if !validPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	ino, err := r.statInode(name)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: mapNotFound(err)}
	}
	f, err := r.openInode(name, ino)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return f, nil
}

// Stat implements fs.StatFS.
func (r *Reader) Stat(name string) (fs.FileInfo, error) {
	if !validPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	ino, err := r.statInode(name)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: mapNotFound(err)}
	}
	return &fileInfo{name: path.Base(name), ino: ino}, nil
}

// ReadDir implements fs.ReadDirFS.
func (r *Reader) ReadDir(name string) ([]fs.DirEntry, error) {
	ino, err := r.statInode(name)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: mapNotFound(err)}
	}
	if !ino.IsDir() {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: ErrNotDirectory}
	}
	all, err := r.readDirAll(ino)
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].name < all[j].name })
	out := make([]fs.DirEntry, len(all))
	for i, e := range all {
		out[i] = e
	}
	return out, nil
}

// ReadFile implements fs.ReadFileFS.
func (r *Reader) ReadFile(name string) ([]byte, error) {
	ino, err := r.statInode(name)
	if err != nil {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: mapNotFound(err)}
	}
	if !ino.Type.IsRegular() {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: ErrNotAFile}
	}
	fr, err := ino.newFileReader()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, ino.Size)
	if _, err := io.ReadFull(io.NewSectionReader(fr, 0, int64(ino.Size)), buf); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}

// Lstat is like Stat but never follows a trailing symlink.
func (r *Reader) Lstat(name string) (fs.FileInfo, error) {
	dir, base := path.Split(path.Clean(name))
	parent := r.root
	if dir != "" && dir != "./" {
		var err error
		parent, err = r.FindInode(dir)
		if err != nil {
			return nil, &fs.PathError{Op: "lstat", Path: name, Err: mapNotFound(err)}
		}
	}
	if base == "." || base == "" {
		return &fileInfo{name: path.Base(name), ino: parent}, nil
	}
	entry, err := r.lookupChild(parent, base)
	if err != nil {
		return nil, &fs.PathError{Op: "lstat", Path: name, Err: mapNotFound(err)}
	}
	ino, err := r.inodeAt(entry.ref)
	if err != nil {
		return nil, err
	}
	ino.parent = parent
	ino.name = base
	return &fileInfo{name: base, ino: ino}, nil
}

// Sub implements fs.SubFS.
func (r *Reader) Sub(dir string) (fs.FS, error) {
	ino, err := r.statInode(dir)
	if err != nil {
		return nil, &fs.PathError{Op: "sub", Path: dir, Err: mapNotFound(err)}
	}
	if !ino.IsDir() {
		return nil, &fs.PathError{Op: "sub", Path: dir, Err: ErrNotDirectory}
	}
	return &subFS{r: r, root: ino}, nil
}

// subFS implements fs.FS rooted at an arbitrary directory inode.
type subFS struct {
	r    *Reader
	root *Inode
}

var _ fs.FS = (*subFS)(nil)

func (s *subFS) Open(name string) (fs.File, error) {
	if !validPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	ino, err := s.r.resolve(s.root, name, 0)
	if err == nil {
		ino, err = s.r.followLink(ino, 0)
	}
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: mapNotFound(err)}
	}
	return s.r.openInode(name, ino)
}

func mapNotFound(err error) error {
	if err == ErrFileNotFound {
		return fs.ErrNotExist
	}
	return err
}
