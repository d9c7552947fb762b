// Adapter between jacobsa/fuse's fuseops (the kernel-facing request
// framing spec.md section 1 names as an external collaborator) and this
// package's push-style Request interface. Implements fuseutil.FileSystem
// with one method per op, each resolving through the inode tree and
// writing its result back onto the op struct before returning.
//
// jacobsa/fuse ops are mutate-and-return (the op's own fields carry the
// result, and the method return value is the error), rather than a
// reply-sink callback; the small perOp adapters below bridge that style
// to Coordinator's Reply* calls without duplicating the decision
// protocol itself.
package coordinator

import (
	"context"
	"os"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
)

// FileSystem adapts a Coordinator to fuseutil.FileSystem so it can be
// passed directly to fuse.Mount.
type FileSystem struct {
	fuseutil.NotImplementedFileSystem
	co *Coordinator
}

// NewFileSystem wraps co for mounting.
func NewFileSystem(co *Coordinator) *FileSystem {
	return &FileSystem{co: co}
}

func modeFromAttr(a Attr) os.FileMode {
	m := os.FileMode(a.Mode &^ 0o170000)
	switch a.Kind {
	case 2: // store.KindDirectory, avoided importing store just for this tag
		m |= os.ModeDir
	case 3: // store.KindSymlink
		m |= os.ModeSymlink
	}
	return m
}

func inodeAttributesFromAttr(a Attr) fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Size:  a.Size,
		Nlink: 1,
		Mode:  modeFromAttr(a),
		Atime: a.Atime,
		Mtime: a.Mtime,
		Ctime: a.Ctime,
		Uid:   a.Uid,
		Gid:   a.Gid,
	}
}

// entryReply adapts a *fuseops.LookUpInodeOp / MkDirOp-shaped "Entry"
// field to Request. Only ReplyEntry and ReplyError are legal; anything
// else is the programming error spec.md section 6 warns about.
type entryReply struct {
	entry   *fuseops.ChildInodeEntry
	err     *error
}

func (r entryReply) ReplyEntry(attr Attr, timeout time.Duration) {
	*r.entry = fuseops.ChildInodeEntry{
		Child:                fuseops.InodeID(attr.Ino),
		Attributes:           inodeAttributesFromAttr(attr),
		AttributesExpiration: time.Now().Add(timeout),
		EntryExpiration:      time.Now().Add(timeout),
	}
}
func (r entryReply) ReplyAttr(Attr, time.Duration)     { panic("wrong reply for this op") }
func (r entryReply) ReplyOpen(FileInfo)                { panic("wrong reply for this op") }
func (r entryReply) ReplyBuf([]byte)                   { panic("wrong reply for this op") }
func (r entryReply) ReplyError(errno Errno)            { *r.err = errno }

type attrReply struct {
	attrs *fuseops.InodeAttributes
	exp   *time.Time
	err   *error
}

func (r attrReply) ReplyEntry(Attr, time.Duration) { panic("wrong reply for this op") }
func (r attrReply) ReplyAttr(attr Attr, timeout time.Duration) {
	*r.attrs = inodeAttributesFromAttr(attr)
	*r.exp = time.Now().Add(timeout)
}
func (r attrReply) ReplyOpen(FileInfo)     { panic("wrong reply for this op") }
func (r attrReply) ReplyBuf([]byte)        { panic("wrong reply for this op") }
func (r attrReply) ReplyError(errno Errno) { *r.err = errno }

type openReply struct {
	handle *fuseops.HandleID
	err    *error
}

func (r openReply) ReplyEntry(Attr, time.Duration) { panic("wrong reply for this op") }
func (r openReply) ReplyAttr(Attr, time.Duration)  { panic("wrong reply for this op") }
func (r openReply) ReplyOpen(info FileInfo)        { *r.handle = fuseops.HandleID(info.Fh) }
func (r openReply) ReplyBuf([]byte)                { panic("wrong reply for this op") }
func (r openReply) ReplyError(errno Errno)         { *r.err = errno }

type bufReply struct {
	data *[]byte
	err  *error
}

func (r bufReply) ReplyEntry(Attr, time.Duration) { panic("wrong reply for this op") }
func (r bufReply) ReplyAttr(Attr, time.Duration)  { panic("wrong reply for this op") }
func (r bufReply) ReplyOpen(FileInfo)             { panic("wrong reply for this op") }
func (r bufReply) ReplyBuf(data []byte)           { *r.data = data }
func (r bufReply) ReplyError(errno Errno)         { *r.err = errno }

func (fs *FileSystem) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	var err error
	fs.co.Lookup(ctx, entryReply{entry: &op.Entry, err: &err}, uint64(op.Parent), op.Name)
	return err
}

func (fs *FileSystem) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	var err error
	fs.co.GetAttr(ctx, attrReply{attrs: &op.Attributes, exp: &op.AttributesExpiration, err: &err}, uint64(op.Inode))
	return err
}

func (fs *FileSystem) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	// The cache never evicts on Forget: spec.md's inode lifecycle keeps
	// records until a kind mismatch retires them, independent of the
	// kernel's own dentry cache lifetime.
	return nil
}

func (fs *FileSystem) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	var err error
	fs.co.OpenDir(ctx, openReply{handle: &op.Handle, err: &err}, uint64(op.Inode))
	return err
}

func (fs *FileSystem) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	var err error
	fs.co.ReadDir(ctx, bufReply{data: &op.Data, err: &err}, uint64(op.Inode), op.Size, uint64(op.Offset))
	return err
}

func (fs *FileSystem) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	return fs.co.Release(ctx, FileInfo{Fh: uint64(op.Handle), IsDir: true})
}

func (fs *FileSystem) ReadSymlink(ctx context.Context, op *fuseops.ReadSymlinkOp) error {
	var err error
	var data []byte
	fs.co.Readlink(ctx, bufReply{data: &data, err: &err}, uint64(op.Inode))
	op.Target = string(data)
	return err
}

func (fs *FileSystem) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	var err error
	fs.co.Open(ctx, openReply{handle: &op.Handle, err: &err}, uint64(op.Inode))
	return err
}

func (fs *FileSystem) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	var err error
	fs.co.Read(ctx, bufReply{data: &op.Data, err: &err}, uint64(op.Inode), FileInfo{Fh: uint64(op.Handle)}, op.Offset, op.Size)
	return err
}

func (fs *FileSystem) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	return fs.co.Release(ctx, FileInfo{Fh: uint64(op.Handle)})
}
