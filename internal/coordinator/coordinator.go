package coordinator

import (
	"context"
	"syscall"
	"time"

	"github.com/horazont/dragonstash/internal/backend"
	"github.com/horazont/dragonstash/internal/cache"
	"github.com/horazont/dragonstash/internal/store"
	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"
	"github.com/pkg/errors"
)

// Config bundles the coordinator's tunables, bound from cfg.Config by
// mount bootstrap.
type Config struct {
	// EntryTimeout and AttrTimeout are handed back on every reply_entry
	// / reply_attr as the kernel's own cache validity window.
	EntryTimeout time.Duration
	AttrTimeout  time.Duration

	// NegativeTTL bounds how long a lookup miss is remembered in
	// memory to short-circuit repeat backend round-trips for the same
	// (parent, name). Zero disables it. See SPEC_FULL.md section 4 and
	// DESIGN.md for why this defaults to off.
	NegativeTTL time.Duration
}

// DefaultConfig is deliberately conservative: short timeouts, negative
// caching off.
func DefaultConfig() Config {
	return Config{
		EntryTimeout: time.Second,
		AttrTimeout:  time.Second,
		NegativeTTL:  0,
	}
}

// Coordinator is the filesystem request-handling layer of spec.md
// section 4.4. One Coordinator serves one mount: it holds the cache,
// the backend handle, and a clock, with one method per kernel op.
type Coordinator struct {
	cache   *cache.Cache
	backend *backend.Adapter
	clock   timeutil.Clock
	cfg     Config

	// negMu guards negative below. An InvariantMutex rather than a
	// plain sync.Mutex: cheap to use like any mutex, but panics if
	// checkInvariants ever observes a broken map when built with the
	// race detector / invariant checking enabled
	// (jacobsa/syncutil.NewInvariantMutex's contract).
	negMu    syncutil.InvariantMutex
	negative map[negKey]time.Time
}

// checkInvariants is run by the InvariantMutex right after Lock and
// right before Unlock, when invariant checking is enabled.
func (co *Coordinator) checkInvariants() {
	if co.negative == nil {
		panic("coordinator: negative map is nil")
	}
}

type negKey struct {
	parent uint64
	name   string
}

// New constructs a Coordinator over an already-open Cache and Backend
// Adapter. Both are assumed fully initialized (RootIno present,
// connectivity prober ready) by the caller (mount bootstrap).
func New(c *cache.Cache, b *backend.Adapter, clock timeutil.Clock, cfg Config) *Coordinator {
	if clock == nil {
		clock = timeutil.RealClock()
	}
	co := &Coordinator{
		cache:    c,
		backend:  b,
		clock:    clock,
		cfg:      cfg,
		negative: make(map[negKey]time.Time),
	}
	co.negMu = syncutil.NewInvariantMutex(co.checkInvariants)
	return co
}

func (co *Coordinator) recordNegative(parent uint64, name string) {
	if co.cfg.NegativeTTL <= 0 {
		return
	}
	co.negMu.Lock()
	defer co.negMu.Unlock()
	co.negative[negKey{parent, name}] = co.clock.Now().Add(co.cfg.NegativeTTL)
}

func (co *Coordinator) checkNegative(parent uint64, name string) bool {
	if co.cfg.NegativeTTL <= 0 {
		return false
	}
	co.negMu.Lock()
	defer co.negMu.Unlock()
	k := negKey{parent, name}
	exp, ok := co.negative[k]
	if !ok {
		return false
	}
	if co.clock.Now().After(exp) {
		delete(co.negative, k)
		return false
	}
	return true
}

func (co *Coordinator) clearNegative(parent uint64, name string) {
	if co.cfg.NegativeTTL <= 0 {
		return
	}
	co.negMu.Lock()
	defer co.negMu.Unlock()
	delete(co.negative, negKey{parent, name})
}

// pathOf reconstructs the backend path of an already-cached ino.
func (co *Coordinator) pathOf(ino uint64) (string, error) {
	var path string
	err := co.cache.WithRO(func(txn *store.RoTxn) error {
		p, err := txn.Path(ino)
		if err != nil {
			return err
		}
		path = p
		return nil
	})
	return path, err
}

// Lookup implements spec.md section 4.4's lookup decision protocol.
func (co *Coordinator) Lookup(ctx context.Context, req Request, parent uint64, name string) {
	if err := store.ValidateName(name); err != nil {
		req.ReplyError(syscall.EINVAL)
		return
	}

	if co.checkNegative(parent, name) {
		req.ReplyError(syscall.ENOENT)
		return
	}

	if !co.backend.Connected(ctx) {
		co.lookupFromCache(req, parent, name)
		return
	}

	parentPath, err := co.pathOf(parent)
	if err != nil {
		co.replyStoreErr(req, err)
		return
	}
	path := childPath(parentPath, name)

	stat, err := co.backend.Lstat(ctx, path)
	switch {
	case errors.Is(err, syscall.ENOENT):
		co.handleLookupMiss(req, parent, name)
		return
	case err != nil:
		if errors.Is(err, syscall.EIO) {
			co.lookupFromCache(req, parent, name)
			return
		}
		req.ReplyError(toBackendErrno(err))
		return
	}

	co.clearNegative(parent, name)

	var attr Attr
	err = co.cache.WithRW(func(txn *store.RwTxn) error {
		ino, err := txn.Emplace(parent, name, attrsFromStat(stat, ""), co.cache.NowFunc())
		if err != nil {
			return err
		}
		rec, err := txn.GetAttr(ino)
		if err != nil {
			return err
		}
		attr = attrFromRecord(rec)
		return nil
	})
	if err != nil {
		co.replyStoreErr(req, err)
		return
	}
	req.ReplyEntry(attr, co.cfg.EntryTimeout)
}

// handleLookupMiss applies the "non-existent on backend" branch of
// lookup: ENOENT to the caller, plus removing a stale binding if the
// parent is SYNCED (else the binding is left alone, per spec.md section
// 4.4: we cannot distinguish "deleted" from "unreachable" otherwise).
func (co *Coordinator) handleLookupMiss(req Request, parent uint64, name string) {
	co.recordNegative(parent, name)
	_ = co.cache.WithRW(func(txn *store.RwTxn) error {
		synced, err := txn.TestFlag(parent, store.FlagSynced)
		if err != nil {
			return err
		}
		if synced {
			return txn.RemoveEntry(parent, name)
		}
		return nil
	})
	req.ReplyError(syscall.ENOENT)
}

func (co *Coordinator) lookupFromCache(req Request, parent uint64, name string) {
	var attr Attr
	err := co.cache.WithRO(func(txn *store.RoTxn) error {
		ino, err := txn.Lookup(parent, name)
		if err != nil {
			return err
		}
		rec, err := txn.GetAttr(ino)
		if err != nil {
			return err
		}
		attr = attrFromRecord(rec)
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		req.ReplyError(syscall.EIO)
		return
	}
	if err != nil {
		co.replyStoreErr(req, err)
		return
	}
	req.ReplyEntry(attr, co.cfg.EntryTimeout)
}

// GetAttr implements the same decision protocol against lstat(path_of(ino)).
func (co *Coordinator) GetAttr(ctx context.Context, req Request, ino uint64) {
	if !co.backend.Connected(ctx) {
		co.getAttrFromCache(req, ino)
		return
	}

	path, err := co.pathOf(ino)
	if err != nil {
		co.replyStoreErr(req, err)
		return
	}

	stat, err := co.backend.Lstat(ctx, path)
	switch {
	case errors.Is(err, syscall.ENOENT):
		req.ReplyError(syscall.ENOENT)
		return
	case err != nil:
		if errors.Is(err, syscall.EIO) {
			co.getAttrFromCache(req, ino)
			return
		}
		req.ReplyError(toBackendErrno(err))
		return
	}

	var attr Attr
	err = co.cache.WithRW(func(txn *store.RwTxn) error {
		existing, err := txn.GetAttr(ino)
		if err != nil {
			return err
		}

		newAttrs := attrsFromStat(stat, "")
		resultIno := ino
		if existing.Kind == newAttrs.Kind {
			if err := txn.SetAttr(ino, newAttrs, co.cache.NowFunc()); err != nil {
				return err
			}
		} else {
			// The backend now reports a different kind for this path
			// than the one ino was allocated as. Route through Emplace,
			// the same reallocation Lookup uses on a kind change: the
			// old inode is retired and a fresh one takes over the
			// (parent, name) binding (invariant 2), instead of failing
			// the request.
			newIno, err := txn.Emplace(existing.Parent, existing.Name, newAttrs, co.cache.NowFunc())
			if err != nil {
				return err
			}
			resultIno = newIno
		}

		rec, err := txn.GetAttr(resultIno)
		if err != nil {
			return err
		}
		attr = attrFromRecord(rec)
		return nil
	})
	if err != nil {
		co.replyStoreErr(req, err)
		return
	}
	req.ReplyAttr(attr, co.cfg.AttrTimeout)
}

func (co *Coordinator) getAttrFromCache(req Request, ino uint64) {
	var attr Attr
	err := co.cache.WithRO(func(txn *store.RoTxn) error {
		rec, err := txn.GetAttr(ino)
		if err != nil {
			return err
		}
		attr = attrFromRecord(rec)
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		req.ReplyError(syscall.EIO)
		return
	}
	if err != nil {
		co.replyStoreErr(req, err)
		return
	}
	req.ReplyAttr(attr, co.cfg.AttrTimeout)
}

// Readlink implements spec.md section 4.4's readlink rule: cache
// preferred when present, else backend, else EIO.
func (co *Coordinator) Readlink(ctx context.Context, req Request, ino uint64) {
	var (
		target string
		cached bool
	)
	err := co.cache.WithRO(func(txn *store.RoTxn) error {
		t, err := txn.Readlink(ino)
		if err != nil {
			return err
		}
		target = t
		cached = true
		return nil
	})
	if cached {
		req.ReplyBuf([]byte(target))
		return
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		co.replyStoreErr(req, err)
		return
	}

	if !co.backend.Connected(ctx) {
		req.ReplyError(syscall.EIO)
		return
	}

	path, pathErr := co.pathOf(ino)
	if pathErr != nil {
		co.replyStoreErr(req, pathErr)
		return
	}
	t, err := co.backend.Readlink(ctx, path)
	if err != nil {
		req.ReplyError(toBackendErrno(err))
		return
	}
	req.ReplyBuf([]byte(t))
}

// replyStoreErr maps a store-layer error onto the caller's reply,
// treating anything not covered by toErrno's taxonomy as EIO.
func (co *Coordinator) replyStoreErr(req Request, err error) {
	req.ReplyError(toErrno(err))
}

// toBackendErrno extracts the syscall.Errno a backend driver returned,
// falling back to EIO for anything it did not express as one (spec.md
// section 7: "all other backend errnos are passed through").
func toBackendErrno(err error) Errno {
	var errno Errno
	if errors.As(err, &errno) {
		return errno
	}
	return syscall.EIO
}
