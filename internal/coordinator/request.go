// Package coordinator implements the filesystem coordinator described in
// spec.md section 4.4: the request-handling layer that decides, per
// operation, whether to serve from the metadata cache, from the
// backend, or to fail (kernel op in, cache/backend decision, reply out).
//
// The Request interface here is the push-style reply sink spec.md
// section 6 names explicitly, kept distinct from fuseops'
// mutate-and-return style so the decision protocol reads the same
// regardless of transport. fuseadapter.go is the thin translator
// between the two.
package coordinator

import (
	"time"

	"github.com/horazont/dragonstash/internal/store"
)

// Attr is the kernel-facing attribute view of an inode, translated from
// a store.InodeRecord (or, on a fresh backend read, a backend.Stat)
// before being handed to a reply.
type Attr struct {
	Ino   uint64
	Kind  store.Kind
	Mode  uint32
	Uid   uint32
	Gid   uint32
	Size  uint64
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}

// FileInfo is the opaque per-open file handle returned by reply_open,
// consulted only by subsequent read/release calls against the same fh.
type FileInfo struct {
	Fh      uint64
	Ino     uint64
	IsDir   bool
}

// Request is the kernel-facing reply sink spec.md section 6 describes:
// exactly one of its Reply* methods is called per request. Calling
// more than one, or none, is a caller bug; this package never checks
// for that itself, matching the "double-reply is a programming error"
// contract rather than defending against it.
type Request interface {
	ReplyEntry(attr Attr, timeout time.Duration)
	ReplyAttr(attr Attr, timeout time.Duration)
	ReplyOpen(info FileInfo)
	ReplyBuf(data []byte)
	ReplyError(errno Errno)
}
