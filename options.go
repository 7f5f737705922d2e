package squashfs

import "github.com/sirupsen/logrus"

// Option configures a Reader at construction time.
type Option func(r *Reader) error

// WithLogger routes the reader's diagnostic logging through l instead of
// logrus's default standard logger.
func WithLogger(l *logrus.Logger) Option {
	return func(r *Reader) error {
		r.log = l
		return nil
	}
}

// WithCacheSize bounds the number of entries kept in each of the reader's
// caches (decompressed data blocks, decompressed metadata blocks, and
// resolved inode numbers). Pass 0 to disable caching entirely.
func WithCacheSize(n int) Option {
	return func(r *Reader) error {
		r.cacheSize = n
		return nil
	}
}
