package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time {
	return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
}

func fixedTimespec() Timespec {
	return FromTime(fixedNow())
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Initialize(t.TempDir(), 1000, 1000, fixedNow)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInitializeSeedsRoot(t *testing.T) {
	s := openTestStore(t)

	txn, err := s.BeginRO()
	require.NoError(t, err)
	defer txn.Close()

	rec, err := txn.GetAttr(RootIno)
	require.NoError(t, err)
	require.Equal(t, KindDirectory, rec.Kind)
	require.Equal(t, uint32(1000), rec.Uid)
	require.Equal(t, uint32(1000), rec.Gid)
}

func TestInitializeIsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Initialize(dir, 1, 1, fixedNow)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Initialize(dir, 1, 1, fixedNow)
	require.NoError(t, err)
	defer s2.Close()

	txn, err := s2.BeginRO()
	require.NoError(t, err)
	defer txn.Close()
	_, err = txn.GetAttr(RootIno)
	require.NoError(t, err)
}

func regularAttrs() Attrs {
	return Attrs{
		Kind:  KindRegular,
		Mode:  0o644,
		Uid:   1000,
		Gid:   1000,
		Size:  42,
		Atime: fixedNow(),
		Mtime: fixedNow(),
		Ctime: fixedNow(),
	}
}

func TestEmplaceCreatesAndIsIdempotent(t *testing.T) {
	s := openTestStore(t)

	txn, err := s.BeginRW()
	require.NoError(t, err)

	ino1, err := txn.Emplace(RootIno, "file.txt", regularAttrs(), fixedTimespec)
	require.NoError(t, err)
	require.NotEqual(t, InvalidIno, ino1)

	attrs2 := regularAttrs()
	attrs2.Size = 100
	ino2, err := txn.Emplace(RootIno, "file.txt", attrs2, fixedTimespec)
	require.NoError(t, err)
	require.Equal(t, ino1, ino2, "re-emplacing the same (parent, name, kind) must reuse the inode")

	rec, err := txn.GetAttr(ino1)
	require.NoError(t, err)
	require.Equal(t, uint64(100), rec.Size, "re-emplacing must refresh attributes in place")
	require.Equal(t, RootIno, rec.Parent)
	require.Equal(t, "file.txt", rec.Name)

	require.NoError(t, txn.Commit())
}

func TestEmplaceKindMismatchAllocatesFreshInode(t *testing.T) {
	s := openTestStore(t)

	txn, err := s.BeginRW()
	require.NoError(t, err)

	regIno, err := txn.Emplace(RootIno, "thing", regularAttrs(), fixedTimespec)
	require.NoError(t, err)

	dirAttrs := regularAttrs()
	dirAttrs.Kind = KindDirectory
	dirIno, err := txn.Emplace(RootIno, "thing", dirAttrs, fixedTimespec)
	require.NoError(t, err)

	require.NotEqual(t, regIno, dirIno, "a kind change must retire the old inode, never reuse it")

	_, err = txn.GetAttr(regIno)
	require.ErrorIs(t, err, ErrNotFound, "the retired inode's record must be gone")

	rec, err := txn.GetAttr(dirIno)
	require.NoError(t, err)
	require.Equal(t, KindDirectory, rec.Kind)

	require.NoError(t, txn.Commit())
}

func TestEmplaceRejectsInvalidName(t *testing.T) {
	s := openTestStore(t)
	txn, err := s.BeginRW()
	require.NoError(t, err)
	defer txn.Abort()

	_, err = txn.Emplace(RootIno, "..", regularAttrs(), fixedTimespec)
	require.ErrorIs(t, err, ErrInvalidName)
}

func TestPathReconstructsNestedDirectories(t *testing.T) {
	s := openTestStore(t)

	txn, err := s.BeginRW()
	require.NoError(t, err)

	dirAttrs := regularAttrs()
	dirAttrs.Kind = KindDirectory
	subIno, err := txn.Emplace(RootIno, "sub", dirAttrs, fixedTimespec)
	require.NoError(t, err)

	fileIno, err := txn.Emplace(subIno, "leaf.txt", regularAttrs(), fixedTimespec)
	require.NoError(t, err)

	require.NoError(t, txn.Commit())

	ro, err := s.BeginRO()
	require.NoError(t, err)
	defer ro.Close()

	rootPath, err := ro.Path(RootIno)
	require.NoError(t, err)
	require.Equal(t, "", rootPath)

	subPath, err := ro.Path(subIno)
	require.NoError(t, err)
	require.Equal(t, "sub", subPath)

	leafPath, err := ro.Path(fileIno)
	require.NoError(t, err)
	require.Equal(t, "sub/leaf.txt", leafPath)
}

func TestReaddirOrderingAndOffsets(t *testing.T) {
	s := openTestStore(t)

	txn, err := s.BeginRW()
	require.NoError(t, err)

	inoA, err := txn.Emplace(RootIno, "a", regularAttrs(), fixedTimespec)
	require.NoError(t, err)
	inoB, err := txn.Emplace(RootIno, "b", regularAttrs(), fixedTimespec)
	require.NoError(t, err)
	require.NoError(t, txn.Commit())

	ro, err := s.BeginRO()
	require.NoError(t, err)
	defer ro.Close()

	it, err := ro.Readdir(RootIno, 0)
	require.NoError(t, err)

	e1, ok, err := it.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", e1.Name)
	require.Equal(t, inoA, e1.ChildIno)

	e2, ok, err := it.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "b", e2.Name)
	require.Equal(t, inoB, e2.ChildIno)

	_, ok, err = it.Next()
	require.NoError(t, err)
	require.False(t, ok)

	it2, err := ro.Readdir(RootIno, e1.Offset)
	require.NoError(t, err)
	e2Again, ok, err := it2.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "b", e2Again.Name, "resuming strictly after a.Offset must skip a and yield b")
}

func TestRemoveEntryIfAbsentUnderSyncedReconciles(t *testing.T) {
	s := openTestStore(t)

	txn, err := s.BeginRW()
	require.NoError(t, err)
	_, err = txn.Emplace(RootIno, "keep", regularAttrs(), fixedTimespec)
	require.NoError(t, err)
	_, err = txn.Emplace(RootIno, "stale", regularAttrs(), fixedTimespec)
	require.NoError(t, err)
	require.NoError(t, txn.Commit())

	txn2, err := s.BeginRW()
	require.NoError(t, err)
	require.NoError(t, txn2.RemoveEntryIfAbsentUnderSynced(RootIno, map[string]struct{}{"keep": {}}))
	require.NoError(t, txn2.Commit())

	ro, err := s.BeginRO()
	require.NoError(t, err)
	defer ro.Close()

	_, err = ro.Lookup(RootIno, "keep")
	require.NoError(t, err)

	_, err = ro.Lookup(RootIno, "stale")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReadlinkRejectsNonSymlink(t *testing.T) {
	s := openTestStore(t)

	txn, err := s.BeginRW()
	require.NoError(t, err)
	ino, err := txn.Emplace(RootIno, "f", regularAttrs(), fixedTimespec)
	require.NoError(t, err)
	require.NoError(t, txn.Commit())

	ro, err := s.BeginRO()
	require.NoError(t, err)
	defer ro.Close()

	_, err = ro.Readlink(ino)
	require.ErrorIs(t, err, ErrNotALink)
}

func TestCompactPreservesData(t *testing.T) {
	s := openTestStore(t)

	txn, err := s.BeginRW()
	require.NoError(t, err)
	ino, err := txn.Emplace(RootIno, "survives", regularAttrs(), fixedTimespec)
	require.NoError(t, err)
	require.NoError(t, txn.Commit())

	require.NoError(t, s.Compact())

	ro, err := s.BeginRO()
	require.NoError(t, err)
	defer ro.Close()

	got, err := ro.Lookup(RootIno, "survives")
	require.NoError(t, err)
	require.Equal(t, ino, got)
}
