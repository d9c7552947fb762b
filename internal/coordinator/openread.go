package coordinator

import (
	"context"
	"syscall"

	"github.com/horazont/dragonstash/internal/store"
)

// Open implements the metadata half of spec.md section 4.4's
// open/read/release note: the block-cache layer that actually serves
// file content is out of this core's scope, but permission checks and
// the file-handle's validity are still driven by the Inode Store, so
// Open still resolves and type-checks ino before handing back a handle.
func (co *Coordinator) Open(ctx context.Context, req Request, ino uint64) {
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
	if rec.Kind != store.KindRegular {
		req.ReplyError(syscall.EISDIR)
		return
	}
	req.ReplyOpen(FileInfo{Fh: nextFh(), Ino: ino, IsDir: false})
}

// Read always reports ENOTSUP: serving file content is the block-cache
// layer's job, which this repo's core does not implement (spec.md
// section 4.4 names open/read/release as out of this core's scope
// beyond metadata routing).
func (co *Coordinator) Read(ctx context.Context, req Request, ino uint64, fh FileInfo, offset int64, size int) {
	req.ReplyError(syscall.ENOTSUP)
}

// Release is a no-op at this layer: there is no block-cache handle
// state here to tear down, only the metadata already released when the
// kernel drops its own reference. It carries no reply because
// spec.md's release has nothing to hand back.
func (co *Coordinator) Release(ctx context.Context, fh FileInfo) error {
	return nil
}
