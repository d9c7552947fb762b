// Package cache implements the thin façade over the inode store
// described in spec.md section 4.2: it owns the store's backing file,
// enforces single-process exclusive access, and hands out the RO/RW
// transaction handles the coordinator uses.
//
// Wraps the lower-level store.Store behind a small struct holding no
// lock of its own: concurrent use is serialized by the store's own
// RO/RW transactions.
package cache

import (
	"os"
	"path/filepath"
	"time"

	"github.com/horazont/dragonstash/internal/store"
	"github.com/jacobsa/timeutil"
	"golang.org/x/sys/unix"
)

// SyncedFlag is re-exported so callers need not import internal/store
// just to test or set the SYNCED bit.
const SyncedFlag = store.FlagSynced

// RootIno is the well-known root inode number.
const RootIno = store.RootIno

// InvalidIno is the reserved sentinel inode number.
const InvalidIno = store.InvalidIno

// Cache is the single-process-owned handle to the persistent inode
// store. Concurrent processes opening the same directory is undefined
// behavior, per spec.md section 4.2; it is enforced here by bbolt's own
// advisory file lock (store.Initialize opens with a lock timeout, so a
// second process fails fast instead of hanging).
type Cache struct {
	store *store.Store
	clock timeutil.Clock
}

// Open opens or creates the store rooted at dir and guarantees that
// RootIno exists afterward.
func Open(dir string, uid, gid uint32, clock timeutil.Clock) (*Cache, error) {
	if clock == nil {
		clock = timeutil.RealClock()
	}
	s, err := store.Initialize(dir, uid, gid, clock.Now)
	if err != nil {
		return nil, err
	}
	return &Cache{store: s, clock: clock}, nil
}

// Close releases the underlying store file.
func (c *Cache) Close() error {
	return c.store.Close()
}

// BeginRO starts a read-only transaction scope.
func (c *Cache) BeginRO() (*store.RoTxn, error) {
	return c.store.BeginRO()
}

// BeginRW starts an exclusive read-write transaction scope.
func (c *Cache) BeginRW() (*store.RwTxn, error) {
	return c.store.BeginRW()
}

// Now returns the current time according to the cache's clock, for
// stamping inode attributes read from the backend.
func (c *Cache) Now() time.Time {
	return c.clock.Now()
}

// nowTimespec is the now() callback RwTxn methods expect: it produces a
// fresh Timespec lazily, only when a ctime actually needs to be
// defaulted.
func (c *Cache) nowTimespec() store.Timespec {
	return store.FromTime(c.clock.Now())
}

// WithRO runs fn against a fresh read-only transaction, always
// releasing it afterward regardless of how fn returns — the "scoped
// transaction, guaranteed release" pattern spec.md section 9 calls for.
func (c *Cache) WithRO(fn func(*store.RoTxn) error) error {
	txn, err := c.BeginRO()
	if err != nil {
		return err
	}
	defer txn.Close()
	return fn(txn)
}

// WithRW runs fn against a fresh read-write transaction. If fn returns
// nil, the transaction commits; otherwise, or if fn panics, it aborts.
// A panic is re-raised after the abort, matching "a RW transaction that
// panics aborts" in spec.md section 3.
func (c *Cache) WithRW(fn func(*store.RwTxn) error) (err error) {
	txn, err := c.BeginRW()
	if err != nil {
		return err
	}

	committed := false
	defer func() {
		if r := recover(); r != nil {
			_ = txn.Abort()
			panic(r)
		}
		if !committed {
			_ = txn.Abort()
		}
	}()

	if err = fn(txn); err != nil {
		return err
	}
	if err = txn.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// NowFunc exposes the store-facing Timespec-producing clock callback
// for packages (the coordinator) that call RwTxn methods directly
// through a *Cache-provided transaction.
func (c *Cache) NowFunc() func() store.Timespec {
	return c.nowTimespec
}

// EnsureExclusive is a narrow helper used by cmd/mount before opening
// the store. It returns nil if dir does not exist yet. Otherwise it
// takes a non-blocking unix.Flock on dir/.lock and releases it again
// at once, returning os.ErrExist if another holder currently has that
// file locked. It does not keep the lock, and nothing else in this
// package takes it, so a second process that has opened the same cache
// through Open is not detected here; that case is stopped by bbolt's
// own lock on the database file, which Open waits on for its one-second
// timeout before failing.
func EnsureExclusive(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if !info.IsDir() {
		return os.ErrInvalid
	}

	lockPath := filepath.Join(dir, ".lock")
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if err == unix.EWOULDBLOCK {
			return os.ErrExist
		}
		return err
	}
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
