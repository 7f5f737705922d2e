package squashfs

// LZO-id blocks (compression id 3) are not decodable by this library: no
// module in the dependency graph implements LZO1X, and squashfs-tools'
// variant (LZO1X-999) additionally needs the encoder's exact match-finder
// behavior reproduced to round-trip correctly. Images built with LZO
// surface ErrUnsupportedCompression instead of silently misreading data.
func init() {
	registerDecompressor(LZO, decompressLZO)
}

func decompressLZO(src []byte, outHint int) ([]byte, error) {
	return nil, ErrUnsupportedCompression
}
