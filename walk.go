package squashfs

import (
	"io"
	"io/fs"
	"iter"
	"path"
	"strings"
)

// Get resolves a slash-separated path to its inode. Symlinks along the
// way are followed; a symlink in the final position is returned as the
// symlink itself, so its Readlink/LinkInode stay reachable.
func (r *Reader) Get(name string) (*Inode, error) {
	return r.FindInode(name)
}

// GetFrom resolves name relative to an already-resolved directory inode
// instead of the root.
func (r *Reader) GetFrom(dir *Inode, name string) (*Inode, error) {
	return r.resolve(dir, path.Clean(name), 0)
}

// InodeCount returns the number of inodes the image declares.
func (r *Reader) InodeCount() int {
	return int(r.sb.InodeCnt)
}

// IterInodes iterates over every inode in the image. With an export table
// present, inodes come out in inode-number order; otherwise the image is
// walked from the root and each inode is yielded the first time it is
// reached (hard links share one inode and appear once). Iteration stops
// early if the yield function returns false.
func (r *Reader) IterInodes() iter.Seq2[*Inode, error] {
	if r.sb.hasExport() {
		return func(yield func(*Inode, error) bool) {
			for num := uint32(1); num <= r.sb.InodeCnt; num++ {
				ino, err := r.InodeByNumber(num)
				if !yield(ino, err) {
					return
				}
			}
		}
	}
	return func(yield func(*Inode, error) bool) {
		seen := make(map[uint32]bool, r.sb.InodeCnt)
		var walk func(dir *Inode) bool
		walk = func(dir *Inode) bool {
			entries, err := r.readDirAll(dir)
			if err != nil {
				return yield(nil, err)
			}
			for _, e := range entries {
				ino, err := r.inodeAt(e.ref)
				if err != nil {
					if !yield(nil, err) {
						return false
					}
					continue
				}
				if seen[ino.Ino] {
					continue
				}
				seen[ino.Ino] = true
				ino.parent = dir
				ino.name = e.name
				if !yield(ino, nil) {
					return false
				}
				if ino.IsDir() {
					if !walk(ino) {
						return false
					}
				}
			}
			return true
		}
		seen[r.root.Ino] = true
		if !yield(r.root, nil) {
			return
		}
		walk(r.root)
	}
}

// Listdir returns a name -> inode mapping of a directory's children.
func (i *Inode) Listdir() (map[string]*Inode, error) {
	entries, err := i.r.readDirAll(i)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*Inode, len(entries))
	for _, e := range entries {
		child, err := i.r.inodeAt(e.ref)
		if err != nil {
			return nil, err
		}
		child.parent = i
		child.name = e.name
		out[e.name] = child
	}
	return out, nil
}

// Iterdir iterates a directory's children in on-disk order, which is the
// name-sorted order mksquashfs wrote them in. Unlike ReadDir it does not
// re-sort, and it materializes inodes lazily as the caller advances.
func (i *Inode) Iterdir() iter.Seq2[*Inode, error] {
	return func(yield func(*Inode, error) bool) {
		dr, err := i.r.dirReader(i)
		if err != nil {
			yield(nil, err)
			return
		}
		for {
			e, err := dr.next()
			if err != nil {
				if err != io.EOF {
					yield(nil, err)
				}
				return
			}
			child, err := i.r.inodeAt(e.Ref)
			if err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}
			child.parent = i
			child.name = e.Name
			if !yield(child, nil) {
				return
			}
		}
	}
}

// LinkInode resolves a symlink inode to the inode its target names.
// Targets beginning with "/" resolve from the image root; everything else
// resolves from the symlink's parent directory.
func (i *Inode) LinkInode() (*Inode, error) {
	target, err := i.Readlink()
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(target, "/") {
		return i.r.resolve(i.r.root, strings.TrimPrefix(target, "/"), 1)
	}
	return i.r.resolve(i.Parent(), target, 1)
}

// Open returns a seekable stream over a regular file inode's content. The
// returned file also implements io.Seeker and io.ReaderAt; its total
// length is the inode's Size.
func (i *Inode) Open() (fs.File, error) {
	fr, err := i.newFileReader()
	if err != nil {
		return nil, err
	}
	return &file{SectionReader: io.NewSectionReader(fr, 0, int64(i.Size)), name: i.name, ino: i}, nil
}
