package squashfs

import "errors"

// Package-specific error variables that can be used with errors.Is() for error handling.
var (
	// ErrInvalidFile is returned when the file format is not recognized as SquashFS
	ErrInvalidFile = errors.New("invalid file, squashfs signature not found")

	// ErrInvalidSuper is returned when the superblock data is corrupted or invalid,
	// e.g. block_size/block_log mismatch or a table offset outside the image
	ErrInvalidSuper = errors.New("invalid squashfs superblock")

	// ErrInvalidVersion is returned when the SquashFS version is not 4.x
	// This library only supports the SquashFS 4.x on-disk format
	ErrInvalidVersion = errors.New("invalid file version, expected squashfs 4.x")

	// ErrNotDirectory is returned when attempting to perform directory operations on a non-directory
	ErrNotDirectory = errors.New("not a directory")

	// ErrNotAFile is returned when Open is called on an inode that isn't a regular file
	ErrNotAFile = errors.New("not a regular file")

	// ErrNotASymlink is returned when Readlink or LinkInode is called on a non-symlink inode
	ErrNotASymlink = errors.New("not a symlink")

	// ErrNotADevice is returned when DeviceNumbers is called on a non-device inode
	ErrNotADevice = errors.New("not a device inode")

	// ErrFileNotFound is returned when path resolution can't find a named entry
	ErrFileNotFound = errors.New("file not found")

	// ErrTooManySymlinks is returned when symlink resolution exceeds the maximum depth
	// This prevents infinite loops in symlink resolution
	ErrTooManySymlinks = errors.New("too many levels of symbolic links")

	// ErrIndexOutOfRange is returned when an inode number lookup falls outside [1, sb.inodes]
	ErrIndexOutOfRange = errors.New("inode number out of range")

	// ErrUnsupportedCompression is returned when the superblock names a compression id
	// this package cannot decode: one with no registered decompressor, or LZO, whose
	// registered stub always fails with this error
	ErrUnsupportedCompression = errors.New("unsupported compression algorithm")

	// ErrDecompressFailed is returned when a registered decompressor rejects its input
	ErrDecompressFailed = errors.New("failed to decompress block")

	// ErrShortRead is returned when the underlying byte source returns fewer bytes
	// than a structural read requires
	ErrShortRead = errors.New("short read from image")
)
