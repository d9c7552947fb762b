package store

import "encoding/binary"

// inoKey encodes an inode number as a big-endian 8-byte bbolt key, so
// that bucket iteration order matches numeric order (used by the
// dirents-by-ino scan).
func inoKey(ino uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, ino)
	return b
}

func decodeIno(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// direntKey encodes the (parent_ino, name) lookup key.
func direntKey(parent uint64, name string) []byte {
	b := make([]byte, 8+len(name))
	binary.BigEndian.PutUint64(b, parent)
	copy(b[8:], name)
	return b
}

// direntPrefix returns the key prefix shared by all entries under parent,
// for bucket.Cursor prefix scans.
func direntPrefix(parent uint64) []byte {
	return inoKey(parent)
}

// direntByInoKey encodes the (parent_ino, child_ino) ordering key used
// for readdir's "strictly after offset" scan.
func direntByInoKey(parent, child uint64) []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[:8], parent)
	binary.BigEndian.PutUint64(b[8:], child)
	return b
}

func direntByInoPrefix(parent uint64) []byte {
	return inoKey(parent)
}
