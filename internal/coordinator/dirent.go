package coordinator

import (
	"encoding/binary"

	"github.com/horazont/dragonstash/internal/store"
)

// Linux d_type values (see <dirent.h>), used in the packed dirent's
// type field the kernel expects back from readdir.
const (
	dtUnknown = 0
	dtReg     = 8
	dtDir     = 4
	dtLnk     = 10
)

func direntType(k store.Kind) uint32 {
	switch k {
	case store.KindDirectory:
		return dtDir
	case store.KindSymlink:
		return dtLnk
	case store.KindRegular:
		return dtReg
	default:
		return dtUnknown
	}
}

const direntHeaderSize = 8 + 8 + 4 + 4 // ino + off + namelen + type
const direntAlignment = 8

// direntSize returns the packed size of an entry named name, padding
// included, so callers can check a size budget before appending.
func direntSize(name string) int {
	padLen := 0
	if r := len(name) % direntAlignment; r != 0 {
		padLen = direntAlignment - r
	}
	return direntHeaderSize + len(name) + padLen
}

// appendDirent packs one directory entry onto buf in the fuse_dirent
// wire layout (ino, off, namelen, type, name, padding), matching the
// byte layout jacobsa/fuse's fuseutil.WriteDirent produces. Callers
// must check direntSize against their remaining budget first.
func appendDirent(buf []byte, ino uint64, offset uint64, kind store.Kind, name string) []byte {
	header := make([]byte, direntHeaderSize)
	binary.LittleEndian.PutUint64(header[0:8], ino)
	binary.LittleEndian.PutUint64(header[8:16], offset)
	binary.LittleEndian.PutUint32(header[16:20], uint32(len(name)))
	binary.LittleEndian.PutUint32(header[20:24], direntType(kind))

	out := append(buf, header...)
	out = append(out, name...)
	if padLen := direntSize(name) - direntHeaderSize - len(name); padLen > 0 {
		out = append(out, make([]byte, padLen)...)
	}
	return out
}
