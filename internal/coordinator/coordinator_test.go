package coordinator

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/horazont/dragonstash/internal/backend"
	"github.com/horazont/dragonstash/internal/cache"
	"github.com/horazont/dragonstash/internal/store"
	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/require"
)

// fakeDriver is a minimal backend.Driver double whose connectivity and
// per-path responses are set up directly by each test.
type fakeDriver struct {
	connected bool
	stats     map[string]backend.Stat
	entries   map[string][]backend.DirEnt
	dirErr    error
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{stats: map[string]backend.Stat{}, entries: map[string][]backend.DirEnt{}}
}

func (d *fakeDriver) IsConnected(ctx context.Context) bool { return d.connected }

func (d *fakeDriver) Lstat(ctx context.Context, path string) (backend.Stat, error) {
	s, ok := d.stats[path]
	if !ok {
		return backend.Stat{}, syscall.ENOENT
	}
	return s, nil
}

func (d *fakeDriver) Readdir(ctx context.Context, path string) (backend.DirReader, error) {
	return &fakeDirReader{entries: d.entries[path], err: d.dirErr}, nil
}

func (d *fakeDriver) Readlink(ctx context.Context, path string) (string, error) {
	return "", syscall.ENOENT
}
func (d *fakeDriver) Open(ctx context.Context, path string) (backend.Handle, error) { return nil, nil }
func (d *fakeDriver) Pread(ctx context.Context, h backend.Handle, off int64, size int) ([]byte, error) {
	return nil, nil
}
func (d *fakeDriver) Release(ctx context.Context, h backend.Handle) error { return nil }

type fakeDirReader struct {
	entries []backend.DirEnt
	err     error
	i       int
}

func (r *fakeDirReader) Next(ctx context.Context) (backend.DirEnt, bool, error) {
	if r.i >= len(r.entries) {
		if r.err != nil {
			return backend.DirEnt{}, false, r.err
		}
		return backend.DirEnt{}, false, nil
	}
	e := r.entries[r.i]
	r.i++
	return e, true, nil
}
func (r *fakeDirReader) Close() error { return nil }

func fileAttrs(size uint64) backend.Stat {
	return backend.Stat{Mode: syscall.S_IFREG | 0o644, Size: size, Atime: time.Now(), Mtime: time.Now(), Ctime: time.Now()}
}

func dirAttrs() backend.Stat {
	return backend.Stat{Mode: syscall.S_IFDIR | 0o755, Atime: time.Now(), Mtime: time.Now(), Ctime: time.Now()}
}

func newTestCoordinator(t *testing.T, driver *fakeDriver) (*Coordinator, *cache.Cache) {
	t.Helper()
	c, err := cache.Open(t.TempDir(), 1000, 1000, timeutil.RealClock())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	// A one-nanosecond probe window makes every Connected call re-probe,
	// so a test that flips driver.connected is seen at once.
	adapter := backend.NewAdapter(driver, time.Nanosecond)
	co := New(c, adapter, timeutil.RealClock(), Config{
		EntryTimeout: time.Second,
		AttrTimeout:  time.Second,
	})
	return co, c
}

// recordingReply implements Request and records whichever call the
// coordinator made. It does not detect or reject a double reply.
type recordingReply struct {
	entry     *Attr
	attr      *Attr
	open      *FileInfo
	buf       []byte
	errno     Errno
	gotErrno  bool
	gotEntry  bool
	gotAttr   bool
	gotOpen   bool
	gotBuf    bool
}

func (r *recordingReply) ReplyEntry(attr Attr, timeout time.Duration) {
	r.entry = &attr
	r.gotEntry = true
}
func (r *recordingReply) ReplyAttr(attr Attr, timeout time.Duration) {
	r.attr = &attr
	r.gotAttr = true
}
func (r *recordingReply) ReplyOpen(info FileInfo) {
	r.open = &info
	r.gotOpen = true
}
func (r *recordingReply) ReplyBuf(data []byte) {
	r.buf = data
	r.gotBuf = true
}
func (r *recordingReply) ReplyError(errno Errno) {
	r.errno = errno
	r.gotErrno = true
}

func TestLookupConnectedSuccessCachesEntry(t *testing.T) {
	driver := newFakeDriver()
	driver.connected = true
	driver.stats["child"] = fileAttrs(10)

	co, c := newTestCoordinator(t, driver)

	rep := &recordingReply{}
	co.Lookup(context.Background(), rep, cache.RootIno, "child")
	require.True(t, rep.gotEntry)
	require.Equal(t, uint64(10), rep.entry.Size)

	err := c.WithRO(func(txn *store.RoTxn) error {
		ino, err := txn.Lookup(cache.RootIno, "child")
		require.NoError(t, err)
		require.Equal(t, rep.entry.Ino, ino)
		return nil
	})
	require.NoError(t, err)
}

func TestLookupMissReturnsENOENT(t *testing.T) {
	driver := newFakeDriver()
	driver.connected = true

	co, _ := newTestCoordinator(t, driver)

	rep := &recordingReply{}
	co.Lookup(context.Background(), rep, cache.RootIno, "missing")
	require.True(t, rep.gotErrno)
	require.Equal(t, syscall.ENOENT, rep.errno)
}

func TestLookupRejectsInvalidName(t *testing.T) {
	driver := newFakeDriver()
	co, _ := newTestCoordinator(t, driver)

	rep := &recordingReply{}
	co.Lookup(context.Background(), rep, cache.RootIno, "..")
	require.True(t, rep.gotErrno)
	require.Equal(t, syscall.EINVAL, rep.errno)
}

func TestLookupFallsBackToCacheWhenDisconnected(t *testing.T) {
	driver := newFakeDriver()
	driver.connected = true
	driver.stats["child"] = fileAttrs(5)

	co, _ := newTestCoordinator(t, driver)

	// First, a connected lookup populates the cache.
	warm := &recordingReply{}
	co.Lookup(context.Background(), warm, cache.RootIno, "child")
	require.True(t, warm.gotEntry)

	// Now the backend goes away; the same lookup must still succeed
	// from the cache.
	driver.connected = false
	rep := &recordingReply{}
	co.Lookup(context.Background(), rep, cache.RootIno, "child")
	require.True(t, rep.gotEntry)
	require.Equal(t, warm.entry.Ino, rep.entry.Ino)
}

func TestLookupDisconnectedAndUncachedReturnsEIO(t *testing.T) {
	driver := newFakeDriver()
	co, _ := newTestCoordinator(t, driver)

	rep := &recordingReply{}
	co.Lookup(context.Background(), rep, cache.RootIno, "never-seen")
	require.True(t, rep.gotErrno)
	require.Equal(t, syscall.EIO, rep.errno)
}

func TestGetAttrRefreshesFromBackendWhenConnected(t *testing.T) {
	driver := newFakeDriver()
	driver.connected = true
	driver.stats["child"] = fileAttrs(1)

	co, _ := newTestCoordinator(t, driver)

	warm := &recordingReply{}
	co.Lookup(context.Background(), warm, cache.RootIno, "child")
	require.True(t, warm.gotEntry)

	driver.stats["child"] = fileAttrs(99)
	rep := &recordingReply{}
	co.GetAttr(context.Background(), rep, warm.entry.Ino)
	require.True(t, rep.gotAttr)
	require.Equal(t, uint64(99), rep.attr.Size)
}

func TestGetAttrReallocatesOnKindChangeInsteadOfErroring(t *testing.T) {
	driver := newFakeDriver()
	driver.connected = true
	driver.stats["child"] = fileAttrs(1)

	co, _ := newTestCoordinator(t, driver)

	warm := &recordingReply{}
	co.Lookup(context.Background(), warm, cache.RootIno, "child")
	require.True(t, warm.gotEntry)
	require.Equal(t, store.KindRegular, warm.entry.Kind)
	oldIno := warm.entry.Ino

	// The backend now reports "child" as a directory: a kind change on
	// an existing binding. Per invariant 2 this must be handled
	// internally (old inode retired, fresh one allocated) and must
	// never surface as an error.
	driver.stats["child"] = dirAttrs()
	rep := &recordingReply{}
	co.GetAttr(context.Background(), rep, oldIno)
	require.False(t, rep.gotErrno, "a kind change on refresh must not be surfaced as an error")
	require.True(t, rep.gotAttr)
	require.Equal(t, store.KindDirectory, rep.attr.Kind)
	require.NotEqual(t, oldIno, rep.attr.Ino, "the old inode number must be retired, never reused")
}

func TestOpenDirSyncsAndReadDirListsSyncedEntries(t *testing.T) {
	driver := newFakeDriver()
	driver.connected = true
	driver.entries[""] = []backend.DirEnt{
		{Name: "one", Stat: fileAttrs(1)},
		{Name: "two", Stat: fileAttrs(2)},
	}

	co, c := newTestCoordinator(t, driver)

	openRep := &recordingReply{}
	co.OpenDir(context.Background(), openRep, cache.RootIno)
	require.True(t, openRep.gotOpen)

	err := c.WithRO(func(txn *store.RoTxn) error {
		synced, err := txn.TestFlag(cache.RootIno, store.FlagSynced)
		require.NoError(t, err)
		require.True(t, synced)
		return nil
	})
	require.NoError(t, err)

	readRep := &recordingReply{}
	co.ReadDir(context.Background(), readRep, cache.RootIno, 4096, 0)
	require.True(t, readRep.gotBuf)
	require.NotEmpty(t, readRep.buf)
	require.Equal(t, direntSize(".")+direntSize("..")+direntSize("one")+direntSize("two"), len(readRep.buf))
}

func TestReadDirDegradedModeReturnsEIOPastSyntheticEntries(t *testing.T) {
	driver := newFakeDriver()
	// never connected, never synced
	co, c := newTestCoordinator(t, driver)

	var booksIno uint64
	err := c.WithRW(func(txn *store.RwTxn) error {
		var err error
		booksIno, err = txn.Emplace(cache.RootIno, "books", store.Attrs{
			Kind: store.KindDirectory, Mode: 0o755,
			Atime: time.Now(), Mtime: time.Now(), Ctime: time.Now(),
		}, c.NowFunc())
		return err
	})
	require.NoError(t, err)

	// offset=RootIno is the spec's own worked example for this
	// scenario. RootIno is also books' parentOffset (its ".." resumes
	// at root), so this must not be mistaken for "resume at '..'" and
	// must not re-emit a stale ".." entry: books is not SYNCED and the
	// backend is unreachable, so the call must fail with EIO.
	rep := &recordingReply{}
	co.ReadDir(context.Background(), rep, booksIno, 4096, store.RootIno)
	require.True(t, rep.gotErrno)
	require.Equal(t, syscall.EIO, rep.errno)
}

func TestReadDirDoesNotDuplicateDotDotForTopLevelDirectory(t *testing.T) {
	driver := newFakeDriver()
	driver.connected = true
	driver.entries["books"] = []backend.DirEnt{
		{Name: "one.txt", Stat: fileAttrs(1)},
	}

	co, c := newTestCoordinator(t, driver)

	var booksIno uint64
	err := c.WithRW(func(txn *store.RwTxn) error {
		var err error
		booksIno, err = txn.Emplace(cache.RootIno, "books", store.Attrs{
			Kind: store.KindDirectory, Mode: 0o755,
			Atime: time.Now(), Mtime: time.Now(), Ctime: time.Now(),
		}, c.NowFunc())
		return err
	})
	require.NoError(t, err)

	openRep := &recordingReply{}
	co.OpenDir(context.Background(), openRep, booksIno)
	require.True(t, openRep.gotOpen)

	// First call from offset 0 yields ".", "..", then real entries.
	first := &recordingReply{}
	co.ReadDir(context.Background(), first, booksIno, 4096, 0)
	require.True(t, first.gotBuf)

	// Resuming at the exact offset attached to ".." (which, for a
	// directory directly under root, equals store.RootIno) must move
	// straight to real entries rather than re-emitting "..".
	second := &recordingReply{}
	co.ReadDir(context.Background(), second, booksIno, 4096, store.RootIno)
	require.True(t, second.gotBuf)
	require.Equal(t, direntSize("one.txt"), len(second.buf), "must contain exactly the one real entry, no re-emitted '..'")
}

func TestOpenRejectsDirectoryWithEISDIR(t *testing.T) {
	driver := newFakeDriver()
	co, _ := newTestCoordinator(t, driver)

	rep := &recordingReply{}
	co.Open(context.Background(), rep, cache.RootIno)
	require.True(t, rep.gotErrno)
	require.Equal(t, syscall.EISDIR, rep.errno)
}

func TestReadAlwaysReturnsENOTSUP(t *testing.T) {
	driver := newFakeDriver()
	co, _ := newTestCoordinator(t, driver)

	rep := &recordingReply{}
	co.Read(context.Background(), rep, cache.RootIno, FileInfo{}, 0, 10)
	require.True(t, rep.gotErrno)
	require.Equal(t, syscall.ENOTSUP, rep.errno)
}
