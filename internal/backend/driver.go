// Package backend provides the connectivity-aware wrapper around the
// backend driver described in spec.md section 4.3. The driver itself
// (network transport, credentials) is an external collaborator — out of
// scope per spec.md section 1 — and is consumed here only through the
// Driver interface.
//
// Driver is a small, pre-bound interface the upper layers depend on,
// with the concrete implementation supplied by mount bootstrap.
package backend

import (
	"context"
	"syscall"
	"time"
)

// Errno is the backend's error vocabulary, matching spec.md section 6:
// ENOENT, EIO, ENOTDIR, EISDIR, EINVAL, ENOTSUP, EACCES, plus whatever
// else the concrete driver surfaces (passed through unless it is EIO,
// which the coordinator treats specially per spec.md section 7).
type Errno = syscall.Errno

// Stat is the backend's view of a single file's metadata, translated
// from whatever the concrete driver's native stat call returns.
type Stat struct {
	Mode  uint32 // permission bits plus S_IFMT type bits
	Uid   uint32
	Gid   uint32
	Size  uint64
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}

// DirEnt is one entry yielded by a Readdir iterator.
type DirEnt struct {
	Name string
	Stat Stat
}

// DirReader lazily yields directory entries. Next returns ok=false and
// err=nil at a clean end of the listing. If the listing fails partway,
// Next returns ok=false and a non-nil err; every entry returned before
// that remains valid, but per spec.md section 4.3 the listing as a
// whole must not be treated as complete (the coordinator must not mark
// the directory SYNCED in that case).
type DirReader interface {
	Next(ctx context.Context) (entry DirEnt, ok bool, err error)
	Close() error
}

// Handle identifies an open backend file for pread/release. Opaque to
// everything above the driver.
type Handle interface{}

// Driver is the network/credential-bearing backend implementation. A
// concrete driver is supplied by mount bootstrap (cmd); nothing in this
// module depends on a specific transport.
type Driver interface {
	// IsConnected reports whether the backend is currently reachable.
	// Must return promptly (no network I/O) — it is consulted eagerly
	// by the Adapter to avoid blocking on a doomed call.
	IsConnected(ctx context.Context) bool

	// Lstat never follows a terminal symlink.
	Lstat(ctx context.Context, path string) (Stat, error)

	// Readdir begins a directory listing. The returned iterator may be
	// read after this call returns without holding any store
	// transaction.
	Readdir(ctx context.Context, path string) (DirReader, error)

	Readlink(ctx context.Context, path string) (string, error)

	Open(ctx context.Context, path string) (Handle, error)
	Pread(ctx context.Context, h Handle, off int64, size int) ([]byte, error)
	Release(ctx context.Context, h Handle) error
}
