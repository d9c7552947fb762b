package coordinator

import (
	"syscall"

	"github.com/horazont/dragonstash/internal/store"
	"github.com/pkg/errors"
)

// Errno is the vocabulary exposed to the kernel layer: ENOENT, EIO,
// ENOTDIR, EISDIR, EINVAL, ENOTSUP, EACCES, per spec.md section 6.
type Errno = syscall.Errno

// toErrno maps the internal error taxonomy (spec.md section 7) onto the
// errno the reply sink expects. CorruptStore is fatal at Initialize
// time; if it is returned by a later store call it fails only that
// request, with EIO.
func toErrno(err error) Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, store.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, store.ErrNotALink):
		return syscall.EINVAL
	case errors.Is(err, store.ErrInvalidName):
		return syscall.EINVAL
	case errors.Is(err, store.ErrReadOnly):
		return syscall.EROFS
	case errors.Is(err, store.ErrCorruptStore):
		// Should never reach a per-request reply; callers that can,
		// abort the mount before this point. If one slips through,
		// fail the single request rather than crash the process.
		return syscall.EIO
	default:
		var errno Errno
		if errors.As(err, &errno) {
			return errno
		}
		return syscall.EIO
	}
}
