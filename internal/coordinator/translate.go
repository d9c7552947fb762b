package coordinator

import (
	"syscall"

	"github.com/horazont/dragonstash/internal/backend"
	"github.com/horazont/dragonstash/internal/store"
)

// kindFromMode extracts the inode kind from a backend-reported mode's
// type bits. Any bits this coordinator does not cache as a distinct
// Kind (sockets, fifos, devices) collapse to KindRegular: the cache
// only distinguishes what the rest of the design needs to (invariant
// 2's kind stability is about Reg/Dir/Link, not the full S_IFMT space).
func kindFromMode(mode uint32) store.Kind {
	switch mode & syscall.S_IFMT {
	case syscall.S_IFDIR:
		return store.KindDirectory
	case syscall.S_IFLNK:
		return store.KindSymlink
	default:
		return store.KindRegular
	}
}

// attrsFromStat converts a fresh backend.Stat into the store.Attrs
// Emplace/SetAttr expect.
func attrsFromStat(stat backend.Stat, linkTarget string) store.Attrs {
	return store.Attrs{
		Kind:       kindFromMode(stat.Mode),
		Mode:       stat.Mode,
		Uid:        stat.Uid,
		Gid:        stat.Gid,
		Size:       stat.Size,
		Atime:      stat.Atime,
		Mtime:      stat.Mtime,
		Ctime:      stat.Ctime,
		LinkTarget: linkTarget,
	}
}

// attrFromRecord converts a persisted InodeRecord into the kernel-facing
// Attr a reply carries.
func attrFromRecord(rec *store.InodeRecord) Attr {
	return Attr{
		Ino:   rec.Ino,
		Kind:  rec.Kind,
		Mode:  rec.Mode,
		Uid:   rec.Uid,
		Gid:   rec.Gid,
		Size:  rec.Size,
		Atime: rec.Atime.Time(),
		Mtime: rec.Mtime.Time(),
		Ctime: rec.Ctime.Time(),
	}
}

// childPath joins a parent's backend path with a child name. The root's
// own path is "", so its direct children are bare names rather than
// leading-slash paths; the backend driver is expected to treat an empty
// base path as its own root.
func childPath(parentPath, name string) string {
	if parentPath == "" {
		return name
	}
	return parentPath + "/" + name
}
