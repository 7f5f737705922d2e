package squashfs

import "io"

// fileReader implements io.ReaderAt over a regular file inode's content:
// its block list, optional trailing fragment, and sparse (hole) runs.
type fileReader struct {
	r   *Reader
	ino *Inode
}

var _ io.ReaderAt = (*fileReader)(nil)

func (i *Inode) newFileReader() (*fileReader, error) {
	if !i.Type.IsRegular() {
		return nil, ErrNotAFile
	}
	return &fileReader{r: i.r, ino: i}, nil
}

func (fr *fileReader) ReadAt(p []byte, off int64) (int, error) {
	ino := fr.ino
	if off < 0 {
		return 0, ErrShortRead
	}
	if uint64(off) >= ino.Size {
		return 0, io.EOF
	}
	if uint64(off)+uint64(len(p)) > ino.Size {
		p = p[:ino.Size-uint64(off)]
	}

	blockSize := uint64(fr.r.sb.BlockSize)
	block := int(uint64(off) / blockSize)
	inBlock := int(uint64(off) % blockSize)

	n := 0
	blockOff := uint64(0)
	for b := 0; b < block; b++ {
		blockOff += uint64(fr.ino.Blocks[b] &^ dataBlockCompressedFlag)
	}

	for n < len(p) {
		if block >= len(fr.ino.Blocks) {
			// remaining bytes live in the fragment tail.
			buf, err := fr.readFragment()
			if err != nil {
				return n, err
			}
			n += copyFrom(buf, inBlock, p[n:])
			return n, nil
		}

		raw := fr.ino.Blocks[block]
		var buf []byte
		if raw == 0 {
			buf = make([]byte, blockSize)
		} else {
			var err error
			buf, err = fr.r.readDataBlock(ino.blockStart+blockOff, raw)
			if err != nil {
				return n, err
			}
		}

		copied := copyFrom(buf, inBlock, p[n:])
		n += copied
		blockOff += uint64(raw &^ dataBlockCompressedFlag)
		block++
		inBlock = 0

		if n >= len(p) {
			return n, nil
		}
	}
	return n, nil
}

// readFragment returns the decompressed tail fragment this file shares,
// sliced to the bytes belonging to it.
func (fr *fileReader) readFragment() ([]byte, error) {
	ino := fr.ino
	if !ino.hasFragment() {
		return nil, io.EOF
	}
	frag, err := fr.r.fragment(ino.FragBlock)
	if err != nil {
		return nil, err
	}

	var buf []byte
	if frag.compressed() {
		raw := make([]byte, frag.length())
		if _, err := io.ReadFull(ioSectionReader(fr.r, int64(frag.Start), int64(frag.length())), raw); err != nil {
			return nil, err
		}
		buf, err = fr.r.sb.decompress(raw, int(fr.r.sb.BlockSize))
		if err != nil {
			return nil, err
		}
	} else {
		buf = make([]byte, frag.length())
		if _, err := io.ReadFull(ioSectionReader(fr.r, int64(frag.Start), int64(frag.length())), buf); err != nil {
			return nil, err
		}
	}

	start := int(ino.FragOffset)
	if start > len(buf) {
		return nil, ErrShortRead
	}
	tailSize := int(ino.Size % uint64(fr.r.sb.BlockSize))
	if tailSize == 0 {
		tailSize = len(buf) - start
	}
	end := start + tailSize
	if end > len(buf) {
		end = len(buf)
	}
	return buf[start:end], nil
}

func copyFrom(buf []byte, skip int, dst []byte) int {
	if skip >= len(buf) {
		return 0
	}
	return copy(dst, buf[skip:])
}

func ioSectionReader(r *Reader, off, n int64) io.Reader {
	return io.NewSectionReader(r.ra, off, n)
}
