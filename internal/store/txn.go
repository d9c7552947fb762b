package store

import (
	"bytes"

	bolt "go.etcd.io/bbolt"
)

// RoTxn is a scoped read-only view of the store. Concurrent RoTxns may
// be outstanding; none of them block a writer from starting (bbolt's
// single-writer/multi-reader MVCC model gives us this for free).
//
// Callers must call Close exactly once when done with the transaction.
type RoTxn struct {
	tx *bolt.Tx
}

// Close releases the transaction. For a read-only transaction this is
// simply bbolt's Rollback (there is nothing to persist).
func (t *RoTxn) Close() error {
	return WrapIoError("ro_close", t.tx.Rollback())
}

func (t *RoTxn) inodes() *bolt.Bucket  { return t.tx.Bucket([]byte(bucketInodes)) }
func (t *RoTxn) dirents() *bolt.Bucket { return t.tx.Bucket([]byte(bucketDirents)) }
func (t *RoTxn) direntsByIno() *bolt.Bucket {
	return t.tx.Bucket([]byte(bucketDirentsByIno))
}

// GetAttr returns the inode record for ino, or ErrNotFound.
func (t *RoTxn) GetAttr(ino uint64) (*InodeRecord, error) {
	return decodeRecordFrom(t.inodes(), ino)
}

// Lookup resolves (parent, name) to a child inode number, or
// ErrNotFound if no such binding exists.
func (t *RoTxn) Lookup(parent uint64, name string) (uint64, error) {
	if err := ValidateName(name); err != nil {
		return InvalidIno, err
	}
	v := t.dirents().Get(direntKey(parent, name))
	if v == nil {
		return InvalidIno, ErrNotFound
	}
	return decodeIno(v), nil
}

// TestFlag reports whether the given flag is set on ino.
func (t *RoTxn) TestFlag(ino uint64, flag Flag) (bool, error) {
	rec, err := t.GetAttr(ino)
	if err != nil {
		return false, err
	}
	return rec.HasFlag(flag), nil
}

// Readlink returns the link target of a symlink inode, ErrNotALink if
// ino is not a symlink, or ErrNotFound.
func (t *RoTxn) Readlink(ino uint64) (string, error) {
	rec, err := t.GetAttr(ino)
	if err != nil {
		return "", err
	}
	if rec.Kind != KindSymlink {
		return "", ErrNotALink
	}
	return rec.LinkTarget, nil
}

// DirEntry is one (name, child inode, offset) tuple yielded by Readdir.
// Offset is the value a subsequent call should pass as startOffset to
// resume strictly after this entry.
type DirEntry struct {
	Name     string
	ChildIno uint64
	Offset   uint64
}

// DirIterator lazily yields the real (non-synthetic) entries of a
// directory, in increasing offset order, starting strictly after
// startOffset. It is valid only for the lifetime of the transaction
// that created it.
type DirIterator struct {
	cur     *bolt.Cursor
	parent  uint64
	next    uint64
	started bool
}

// Next advances the iterator. ok is false once the directory is
// exhausted; err is non-nil only on a store I/O failure.
func (it *DirIterator) Next() (entry DirEntry, ok bool, err error) {
	var k, v []byte
	if !it.started {
		it.started = true
		k, v = it.cur.Seek(direntByInoKey(it.parent, it.next))
	} else {
		k, v = it.cur.Next()
	}

	prefix := direntByInoPrefix(it.parent)
	if k == nil || !bytes.HasPrefix(k, prefix) {
		return DirEntry{}, false, nil
	}

	child := decodeIno(k[8:])
	entry = DirEntry{Name: string(v), ChildIno: child, Offset: child}
	it.next = child + 1
	return entry, true, nil
}

// Readdir returns a lazy iterator over parent's real directory entries,
// starting strictly after startOffset. Returns ErrNotFound if parent
// does not exist.
func (t *RoTxn) Readdir(parent uint64, startOffset uint64) (*DirIterator, error) {
	if _, err := t.GetAttr(parent); err != nil {
		return nil, err
	}
	// Guard against overflow at the top of the offset space: there is no
	// valid inode number above it, so the scan is simply empty.
	next := startOffset + 1
	if next < startOffset {
		next = startOffset
	}
	return &DirIterator{
		cur:    t.direntsByIno().Cursor(),
		parent: parent,
		next:   next,
	}, nil
}

// RwTxn is an exclusive read-write view of the store. Only one may be
// outstanding at a time; bbolt's writer lock enforces this.
type RwTxn struct {
	RoTxn
}

// Commit persists all writes made through this transaction atomically.
// Partial writes never become visible: either all of them land, or (on
// I/O failure) none do.
func (t *RwTxn) Commit() error {
	return WrapIoError("commit", t.tx.Commit())
}

// Abort discards all writes made through this transaction.
func (t *RwTxn) Abort() error {
	return WrapIoError("abort", t.tx.Rollback())
}

func (t *RwTxn) nextInodeBytes(meta *bolt.Bucket) (uint64, error) {
	v := meta.Get([]byte(keyNextIno))
	if v == nil {
		return 0, ErrCorruptStore
	}
	return decodeIno(v), nil
}

func (t *RwTxn) setNextInode(meta *bolt.Bucket, next uint64) error {
	return meta.Put([]byte(keyNextIno), inoKey(next))
}

// Emplace creates or updates the (parent, name) binding. If the binding
// already exists with the same Kind, the existing inode is reused and
// its attributes updated in place (idempotent on (parent, name, kind)).
// If Kind differs, the old inode's outgoing entries are removed
// recursively and a fresh inode is allocated (invariant 2: kind
// stability; old inode numbers are never reused).
func (t *RwTxn) Emplace(parent uint64, name string, attrs Attrs, now func() Timespec) (uint64, error) {
	if err := ValidateName(name); err != nil {
		return InvalidIno, err
	}
	if _, err := t.GetAttr(parent); err != nil {
		return InvalidIno, err
	}

	inodes := t.inodes()
	dirents := t.dirents()
	direntsByIno := t.direntsByIno()
	meta := t.tx.Bucket([]byte(bucketMeta))

	var existingIno uint64
	if v := dirents.Get(direntKey(parent, name)); v != nil {
		existingIno = decodeIno(v)
	}

	if existingIno != InvalidIno {
		existing, err := decodeRecordFrom(inodes, existingIno)
		if err != nil {
			return InvalidIno, err
		}
		if existing.Kind == attrs.Kind {
			applyAttrs(existing, attrs, now)
			enc, err := encodeRecord(existing)
			if err != nil {
				return InvalidIno, err
			}
			if err := inodes.Put(inoKey(existingIno), enc); err != nil {
				return InvalidIno, WrapIoError("emplace_update", err)
			}
			return existingIno, nil
		}

		// Kind mismatch: discard the old binding (and, if it was a
		// directory, everything beneath it) and fall through to allocate
		// a fresh inode.
		if err := t.removeInodeRecursive(existingIno); err != nil {
			return InvalidIno, err
		}
		if err := dirents.Delete(direntKey(parent, name)); err != nil {
			return InvalidIno, WrapIoError("emplace_delete_stale", err)
		}
		if err := direntsByIno.Delete(direntByInoKey(parent, existingIno)); err != nil {
			return InvalidIno, WrapIoError("emplace_delete_stale_ino", err)
		}
	}

	next, err := t.nextInodeBytes(meta)
	if err != nil {
		return InvalidIno, err
	}
	newIno := next
	if err := t.setNextInode(meta, next+1); err != nil {
		return InvalidIno, WrapIoError("emplace_alloc", err)
	}

	rec := &InodeRecord{Ino: newIno, Parent: parent, Name: name}
	applyAttrs(rec, attrs, now)
	enc, err := encodeRecord(rec)
	if err != nil {
		return InvalidIno, err
	}
	if err := inodes.Put(inoKey(newIno), enc); err != nil {
		return InvalidIno, WrapIoError("emplace_put", err)
	}
	if err := dirents.Put(direntKey(parent, name), inoKey(newIno)); err != nil {
		return InvalidIno, WrapIoError("emplace_dirent", err)
	}
	if err := direntsByIno.Put(direntByInoKey(parent, newIno), []byte(name)); err != nil {
		return InvalidIno, WrapIoError("emplace_dirent_ino", err)
	}

	return newIno, nil
}

func applyAttrs(rec *InodeRecord, attrs Attrs, now func() Timespec) {
	rec.Kind = attrs.Kind
	rec.Mode = attrs.Mode
	rec.Uid = attrs.Uid
	rec.Gid = attrs.Gid
	rec.Size = attrs.Size
	rec.Atime = FromTime(attrs.Atime)
	rec.Mtime = FromTime(attrs.Mtime)
	if attrs.Ctime.IsZero() {
		rec.Ctime = now()
	} else {
		rec.Ctime = FromTime(attrs.Ctime)
	}
	rec.LinkTarget = attrs.LinkTarget
}

// removeInodeRecursive deletes ino's own record and, if it is a
// directory, every entry beneath it (recursively). Used only when a
// kind mismatch forces re-creation of a binding; the inode number
// itself is retired, never reused (invariant on monotonic allocation).
func (t *RwTxn) removeInodeRecursive(ino uint64) error {
	inodes := t.inodes()
	rec, err := decodeRecordFrom(inodes, ino)
	if err != nil {
		if err == ErrNotFound {
			return nil
		}
		return err
	}

	if rec.Kind == KindDirectory {
		direntsByIno := t.direntsByIno()
		dirents := t.dirents()
		cur := direntsByIno.Cursor()
		prefix := direntByInoPrefix(ino)
		var children []struct {
			name  string
			child uint64
		}
		for k, v := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cur.Next() {
			children = append(children, struct {
				name  string
				child uint64
			}{name: string(v), child: decodeIno(k[8:])})
		}
		for _, c := range children {
			if err := t.removeInodeRecursive(c.child); err != nil {
				return err
			}
			if err := dirents.Delete(direntKey(ino, c.name)); err != nil {
				return WrapIoError("remove_recursive_dirent", err)
			}
			if err := direntsByIno.Delete(direntByInoKey(ino, c.child)); err != nil {
				return WrapIoError("remove_recursive_dirent_ino", err)
			}
		}
	}

	if err := inodes.Delete(inoKey(ino)); err != nil {
		return WrapIoError("remove_recursive_inode", err)
	}
	return nil
}

// SetAttr overwrites ino's stored attributes wholesale.
func (t *RwTxn) SetAttr(ino uint64, attrs Attrs, now func() Timespec) error {
	rec, err := t.GetAttr(ino)
	if err != nil {
		return err
	}
	if rec.Kind != attrs.Kind {
		return ErrCorruptStore
	}
	applyAttrs(rec, attrs, now)
	enc, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return WrapIoError("set_attr", t.inodes().Put(inoKey(ino), enc))
}

// SetFlag sets or clears a flag bit on ino.
func (t *RwTxn) SetFlag(ino uint64, flag Flag, value bool) error {
	rec, err := t.GetAttr(ino)
	if err != nil {
		return err
	}
	rec.SetFlag(flag, value)
	enc, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return WrapIoError("set_flag", t.inodes().Put(inoKey(ino), enc))
}

// RemoveEntry removes the (parent, name) binding, if present. The
// referenced inode's own record is left untouched (it may still be
// reachable under another name, or simply retired).
func (t *RwTxn) RemoveEntry(parent uint64, name string) error {
	v := t.dirents().Get(direntKey(parent, name))
	if v == nil {
		return nil
	}
	child := decodeIno(v)
	if err := t.dirents().Delete(direntKey(parent, name)); err != nil {
		return WrapIoError("remove_entry", err)
	}
	if err := t.direntsByIno().Delete(direntByInoKey(parent, child)); err != nil {
		return WrapIoError("remove_entry_ino", err)
	}
	return nil
}

// RemoveEntryIfAbsentUnderSynced reconciles parent's entry set against
// observedNames: entries whose name is in observedNames are kept,
// everything else is removed. Intended to be called only after a
// complete, successful backend directory listing (spec.md section 9's
// note on partial-readdir reconciliation) — a partial listing must not
// call this.
func (t *RwTxn) RemoveEntryIfAbsentUnderSynced(parent uint64, observedNames map[string]struct{}) error {
	direntsByIno := t.direntsByIno()
	dirents := t.dirents()
	cur := direntsByIno.Cursor()
	prefix := direntByInoPrefix(parent)

	type stale struct {
		name  string
		child uint64
	}
	var toRemove []stale
	for k, v := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cur.Next() {
		name := string(v)
		if _, keep := observedNames[name]; !keep {
			toRemove = append(toRemove, stale{name: name, child: decodeIno(k[8:])})
		}
	}

	for _, s := range toRemove {
		if err := dirents.Delete(direntKey(parent, s.name)); err != nil {
			return WrapIoError("reconcile_dirent", err)
		}
		if err := direntsByIno.Delete(direntByInoKey(parent, s.child)); err != nil {
			return WrapIoError("reconcile_dirent_ino", err)
		}
	}
	return nil
}
