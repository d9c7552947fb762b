package coordinator

import (
	"context"
	"math"
	"sync/atomic"
	"syscall"

	"github.com/horazont/dragonstash/internal/store"
)

var fhCounter uint64

func nextFh() uint64 {
	return atomic.AddUint64(&fhCounter, 1)
}

// OpenDir implements spec.md section 4.4's opendir rule: on connect,
// stream the backend listing and reconcile the cache under SYNCED
// discipline; on disconnect, still succeed (the handle only gates
// readdir, not opendir).
func (co *Coordinator) OpenDir(ctx context.Context, req Request, ino uint64) {
	var rec *store.InodeRecord
	err := co.cache.WithRO(func(txn *store.RoTxn) error {
		r, err := txn.GetAttr(ino)
		if err != nil {
			return err
		}
		rec = r
		return nil
	})
	if err != nil {
		co.replyStoreErr(req, err)
		return
	}
	if rec.Kind != store.KindDirectory {
		req.ReplyError(syscall.ENOTDIR)
		return
	}

	if co.backend.Connected(ctx) {
		if err := co.syncDir(ctx, ino); err != nil {
			req.ReplyError(toBackendErrno(err))
			return
		}
	}

	req.ReplyOpen(FileInfo{Fh: nextFh(), Ino: ino, IsDir: true})
}

// syncDir performs the backend-call-first-then-apply pattern spec.md
// section 5 requires: no store transaction is held while the backend
// iterator is being drained.
func (co *Coordinator) syncDir(ctx context.Context, ino uint64) error {
	path, err := co.pathOf(ino)
	if err != nil {
		return err
	}

	reader, err := co.backend.Readdir(ctx, path)
	if err != nil {
		return err
	}
	defer reader.Close()

	type seen struct {
		name string
		stat store.Attrs
	}
	var entries []seen
	var iterErr error
	for {
		ent, ok, err := reader.Next(ctx)
		if err != nil {
			iterErr = err
			break
		}
		if !ok {
			break
		}
		entries = append(entries, seen{name: ent.Name, stat: attrsFromStat(ent.Stat, "")})
	}

	observed := make(map[string]struct{}, len(entries))
	applyErr := co.cache.WithRW(func(txn *store.RwTxn) error {
		for _, e := range entries {
			if _, err := txn.Emplace(ino, e.name, e.stat, co.cache.NowFunc()); err != nil {
				return err
			}
			observed[e.name] = struct{}{}
		}
		if iterErr == nil {
			if err := txn.RemoveEntryIfAbsentUnderSynced(ino, observed); err != nil {
				return err
			}
			if err := txn.SetFlag(ino, store.FlagSynced, true); err != nil {
				return err
			}
		}
		return nil
	})
	if applyErr != nil {
		return applyErr
	}
	return iterErr
}

// parentOffset is the sentinel ".." offset for ino: the root directory
// has no parent entry (invariant 3: ".." on root returns itself), so it
// uses its own ino; every other directory uses its InodeRecord.Parent.
func parentOffset(rec *store.InodeRecord) uint64 {
	if rec.Ino == store.RootIno {
		return store.RootIno
	}
	return rec.Parent
}

// dotOffset is the offset returned alongside "." that, passed back in,
// resumes at "..". It must never collide with a real entry's offset or
// with parentOffset's return value — and parentOffset can legitimately
// return RootIno (for the root directory, and for every directory
// directly under it), so a small constant like 1 is not safe: it is
// numerically identical to RootIno and would be re-parsed as "resume at
// '..'" instead of "resume past it". Reserving the top of the uint64
// space instead keeps it out of reach of both real inode numbers and
// parentOffset's output.
const dotOffset = math.MaxUint64

// ReadDir implements spec.md section 4.4's readdir rule, including the
// degraded-mode EIO rule and the synthetic "." / ".." entries.
func (co *Coordinator) ReadDir(ctx context.Context, req Request, ino uint64, size int, offset uint64) {
	var rec *store.InodeRecord
	var synced bool
	err := co.cache.WithRO(func(txn *store.RoTxn) error {
		r, err := txn.GetAttr(ino)
		if err != nil {
			return err
		}
		rec = r
		synced = r.HasFlag(store.FlagSynced)
		return nil
	})
	if err != nil {
		co.replyStoreErr(req, err)
		return
	}

	pOff := parentOffset(rec)
	buf := make([]byte, 0, size)

	if offset == 0 {
		if direntSize(".") > size {
			req.ReplyBuf(buf)
			return
		}
		buf = appendDirent(buf, rec.Ino, dotOffset, store.KindDirectory, ".")
		offset = dotOffset
	}
	if offset == dotOffset {
		if len(buf)+direntSize("..") > size {
			req.ReplyBuf(buf)
			return
		}
		buf = appendDirent(buf, pOff, pOff, store.KindDirectory, "..")
		offset = pOff
	}

	if !synced && !co.backend.Connected(ctx) {
		// Degraded-mode rule: an unsynced directory cannot claim a
		// complete listing while disconnected, once the request has
		// moved past the synthetic entries.
		if len(buf) == 0 {
			req.ReplyError(syscall.EIO)
		} else {
			req.ReplyBuf(buf)
		}
		return
	}

	txn, err := co.cache.BeginRO()
	if err != nil {
		co.replyStoreErr(req, err)
		return
	}
	defer txn.Close()

	it, err := txn.Readdir(ino, offset)
	if err != nil {
		co.replyStoreErr(req, err)
		return
	}
	for {
		ent, ok, iterErr := it.Next()
		if iterErr != nil {
			co.replyStoreErr(req, iterErr)
			return
		}
		if !ok {
			break
		}
		childRec, err := txn.GetAttr(ent.ChildIno)
		if err != nil {
			co.replyStoreErr(req, err)
			return
		}
		if len(buf)+direntSize(ent.Name) > size {
			break
		}
		buf = appendDirent(buf, ent.ChildIno, ent.Offset, childRec.Kind, ent.Name)
	}

	req.ReplyBuf(buf)
}
