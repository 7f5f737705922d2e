package squashfs

import (
	"path"
	"strings"
)

// maxSymlinkDepth bounds symlink resolution, matching a typical Linux
// ELOOP budget and guarding against cyclic links.
const maxSymlinkDepth = 40

// resolve walks name (a slash-separated path, fs.FS-style; a leading slash
// is ignored, and "" or "." names dir itself) from dir. A symlink met partway through the
// path is followed before the next segment is consumed; a symlink in the
// final position is returned unfollowed, like lstat. Callers wanting the
// target instead chain followLink (or Inode.LinkInode) on the result.
func (r *Reader) resolve(dir *Inode, name string, depth int) (*Inode, error) {
	if depth > maxSymlinkDepth {
		return nil, ErrTooManySymlinks
	}

	cur := dir
	name = strings.TrimPrefix(name, "/")
	if name == "" || name == "." {
		return cur, nil
	}

	for _, seg := range strings.Split(name, "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			cur = cur.Parent()
			continue
		}

		next, err := r.followLink(cur, depth)
		if err != nil {
			return nil, err
		}
		cur = next
		if !cur.IsDir() {
			return nil, ErrNotDirectory
		}

		entry, err := r.lookupChild(cur, seg)
		if err != nil {
			return nil, err
		}
		child, err := r.inodeAt(entry.ref)
		if err != nil {
			return nil, err
		}
		child.parent = cur
		child.name = entry.name
		cur = child
	}
	return cur, nil
}

// followLink chases symlinks until a non-symlink inode is reached,
// sharing the resolver's depth budget; non-symlinks pass through
// untouched. Targets beginning with "/" restart from the image root,
// everything else resolves from the symlink's parent directory.
func (r *Reader) followLink(i *Inode, depth int) (*Inode, error) {
	for i.IsSymlink() {
		depth++
		if depth > maxSymlinkDepth {
			return nil, ErrTooManySymlinks
		}
		base := i.Parent()
		target := i.SymTarget
		if strings.HasPrefix(target, "/") {
			base = r.root
			target = strings.TrimPrefix(target, "/")
		}
		next, err := r.resolve(base, target, depth)
		if err != nil {
			return nil, err
		}
		i = next
	}
	return i, nil
}

// FindInode resolves a slash-separated path to its inode, following
// intermediate symlinks. A path naming a symlink yields the symlink
// inode itself; LinkInode resolves it onward.
func (r *Reader) FindInode(name string) (*Inode, error) {
	return r.resolve(r.root, path.Clean(name), 0)
}

// LookupRelativeInode resolves one path segment under dir without
// following a trailing symlink target.
func (dir *Inode) LookupRelativeInode(r *Reader, name string) (*Inode, error) {
	e, err := r.lookupChild(dir, name)
	if err != nil {
		return nil, err
	}
	return r.inodeAt(e.ref)
}
