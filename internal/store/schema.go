// Package store implements the persistent, transactional inode store
// described by the design: a stable mapping from inode number to inode
// record, plus a directory-entry index, backed by a bbolt database.
package store

import "time"

// Kind is the type tag of an inode. It is immutable for the lifetime of
// the inode (see invariant 2: kind stability).
type Kind uint8

const (
	// KindRegular is a plain file.
	KindRegular Kind = 1
	// KindDirectory is a directory.
	KindDirectory Kind = 2
	// KindSymlink is a symbolic link.
	KindSymlink Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindRegular:
		return "regular"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// Flag is a per-inode boolean attribute, packed into InodeRecord.Flags.
type Flag uint32

const (
	// FlagSynced asserts that a directory's DirEntry set is authoritative
	// as of the most recent successful backend listing (invariant 5).
	FlagSynced Flag = 1 << iota
)

// RootIno is the well-known, always-present inode number of the mount
// root. It is created by Initialize if absent.
const RootIno uint64 = 1

// InvalidIno is a reserved sentinel, distinct from RootIno and from any
// inode number the allocator will ever hand out.
const InvalidIno uint64 = 0

// Timespec is the wire shape of a POSIX timestamp, matching spec.md's
// {sec:i64, nsec:u32}.
type Timespec struct {
	Sec  int64 `json:"sec"`
	Nsec uint32 `json:"nsec"`
}

// FromTime converts a time.Time to the wire Timespec.
func FromTime(t time.Time) Timespec {
	return Timespec{Sec: t.Unix(), Nsec: uint32(t.Nanosecond())}
}

// Time converts a wire Timespec back to a time.Time (UTC).
func (t Timespec) Time() time.Time {
	return time.Unix(t.Sec, int64(t.Nsec)).UTC()
}

// InodeRecord is the persisted representation of an inode, matching the
// wire shape in spec.md section 6.
type InodeRecord struct {
	Ino     uint64   `json:"ino"`
	Kind    Kind     `json:"kind"`
	Mode    uint32   `json:"mode"`
	Uid     uint32   `json:"uid"`
	Gid     uint32   `json:"gid"`
	Size    uint64   `json:"size"`
	Atime   Timespec `json:"atime"`
	Mtime   Timespec `json:"mtime"`
	Ctime   Timespec `json:"ctime"`
	Flags   uint32   `json:"flags"`
	LinkTarget string `json:"link_target,omitempty"`

	// Parent and Name back-reference the single DirEntry binding that
	// created this inode (InvalidIno/"" for RootIno, which has none per
	// invariant 3). Path reconstruction (spec.md section 4.4's "the path
	// for an ino is reconstructed by walking parent links") walks these
	// rather than following a pointer, sidestepping the parent/child
	// cyclic-reference issue (spec.md section 9).
	Parent uint64 `json:"parent"`
	Name   string `json:"name,omitempty"`
}

// HasFlag reports whether the given flag bit is set.
func (r *InodeRecord) HasFlag(f Flag) bool {
	return r.Flags&uint32(f) != 0
}

// SetFlag sets or clears the given flag bit.
func (r *InodeRecord) SetFlag(f Flag, v bool) {
	if v {
		r.Flags |= uint32(f)
	} else {
		r.Flags &^= uint32(f)
	}
}

// Attrs is the subset of InodeRecord fields a caller supplies when
// creating or refreshing an inode; Ino and Flags are store-managed.
type Attrs struct {
	Kind       Kind
	Mode       uint32
	Uid        uint32
	Gid        uint32
	Size       uint64
	Atime      time.Time
	Mtime      time.Time
	Ctime      time.Time
	LinkTarget string
}

// bucket names — the store's "keyspaces" from spec.md section 4.1.
const (
	bucketMeta         = "meta"
	bucketInodes       = "inodes"
	bucketDirents      = "dirents"      // key (parent_ino,name) -> child_ino, for lookup by name
	bucketDirentsByIno = "dirents_ino"  // key (parent_ino,child_ino) -> name, for ordered readdir scans

	keyNextIno       = "next_ino"
	keySchemaVersion = "schema_version"
)

// SchemaVersion is bumped whenever the on-disk layout changes
// incompatibly. Initialize refuses to open a store written by a
// different version (surfaced as CorruptStore).
const SchemaVersion uint32 = 1
