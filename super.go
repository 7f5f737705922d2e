package squashfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"reflect"

	"github.com/sirupsen/logrus"
)

const squashfsMagic = 0x73717368

// Superblock is the 96-byte SquashFS 4.x header: on-disk layout, table
// locations and format flags.
type Superblock struct {
	order binary.ByteOrder
	log   *logrus.Logger

	Magic             uint32
	InodeCnt          uint32
	ModTime           int32
	BlockSize         uint32
	FragCount         uint32
	Comp              Compression
	BlockLog          uint16
	Flags             Flags
	IdCount           uint16
	VMajor            uint16
	VMinor            uint16
	RootInode         uint64
	BytesUsed         uint64
	IdTableStart      uint64
	XattrIdTableStart uint64
	InodeTableStart   uint64
	DirTableStart     uint64
	FragTableStart    uint64
	ExportTableStart  uint64
}

// noTable marks a table start field that the image doesn't use (e.g. no
// fragments, no xattrs).
const noTable = 0xffffffffffffffff

// SuperblockSize is the fixed on-disk size of the superblock header.
const SuperblockSize = 96

func superblockSize() int {
	return binarySize(reflect.TypeOf(Superblock{}))
}

// Bytes marshals the superblock back to its 96-byte on-disk form. Used by
// the package's test fixture builder; a normal reader never needs to call
// this.
func (s *Superblock) Bytes() []byte {
	order := s.order
	if order == nil {
		order = binary.LittleEndian
	}

	buf := &bytes.Buffer{}
	v := reflect.ValueOf(s).Elem()
	for i := 0; i < v.NumField(); i++ {
		name := v.Type().Field(i).Name
		if name[0] < 'A' || name[0] > 'Z' {
			continue
		}
		binary.Write(buf, order, v.Field(i).Interface())
	}
	return buf.Bytes()
}

func binarySize(t reflect.Type) int {
	sz := uintptr(0)
	for i := 0; i < t.NumField(); i++ {
		name := t.Field(i).Name
		if name[0] < 'A' || name[0] > 'Z' {
			continue
		}
		sz += t.Field(i).Type.Size()
	}
	return int(sz)
}

// unmarshalSuperblock decodes the fixed-layout superblock header. Unlike the
// inode and directory decoders, which read each field by hand, it walks the
// struct's exported fields by reflection, following the on-disk field order.
func unmarshalSuperblock(data []byte, log *logrus.Logger) (*Superblock, error) {
	if len(data) < 4 {
		return nil, ErrInvalidFile
	}

	s := &Superblock{log: log}
	switch binary.LittleEndian.Uint32(data[:4]) {
	case squashfsMagic:
		s.order = binary.LittleEndian
	default:
		return nil, ErrInvalidFile
	}

	v := reflect.ValueOf(s).Elem()
	r := bytes.NewReader(data)
	for i := 0; i < v.NumField(); i++ {
		name := v.Type().Field(i).Name
		if name[0] < 'A' || name[0] > 'Z' {
			continue
		}
		if err := binary.Read(r, s.order, v.Field(i).Addr().Interface()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSuper, err)
		}
	}

	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Superblock) validate() error {
	if s.Magic != squashfsMagic {
		return ErrInvalidFile
	}
	if s.VMajor != 4 {
		return ErrInvalidVersion
	}
	if s.BlockLog > 20 || s.BlockSize != 1<<s.BlockLog {
		return fmt.Errorf("%w: block_size %d inconsistent with block_log %d", ErrInvalidSuper, s.BlockSize, s.BlockLog)
	}
	if s.BlockSize < 4096 || s.BlockSize > 1<<20 {
		return fmt.Errorf("%w: block_size %d out of range", ErrInvalidSuper, s.BlockSize)
	}

	for name, off := range map[string]uint64{
		"inode table":    s.InodeTableStart,
		"dir table":      s.DirTableStart,
		"id table":       s.IdTableStart,
		"fragment table": s.FragTableStart,
		"xattr table":    s.XattrIdTableStart,
		"export table":   s.ExportTableStart,
	} {
		if off == noTable {
			continue
		}
		if off >= s.BytesUsed {
			return fmt.Errorf("%w: %s start 0x%x beyond bytes_used 0x%x", ErrInvalidSuper, name, off, s.BytesUsed)
		}
	}

	return nil
}

func (s *Superblock) hasFragments() bool {
	return !s.Flags.Has(NO_FRAGMENTS) && s.FragTableStart != noTable && s.FragCount > 0
}

func (s *Superblock) hasXattrs() bool {
	return s.XattrIdTableStart != noTable
}

func (s *Superblock) hasExport() bool {
	return s.ExportTableStart != noTable
}
