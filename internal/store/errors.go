package store

import "github.com/pkg/errors"

// Sentinel errors for the store's internal taxonomy (spec.md section 7).
// The coordinator maps these to errno values; the store itself never
// knows about errno.
var (
	// ErrNotFound is returned when an inode or directory entry does not
	// exist.
	ErrNotFound = errors.New("store: no such inode or entry")

	// ErrCorruptStore is returned by Initialize when existing data
	// violates the store's structural invariants. Callers should treat
	// this as fatal.
	ErrCorruptStore = errors.New("store: corrupt or incompatible store")

	// ErrNotALink is returned by Readlink when the inode is not a
	// symlink.
	ErrNotALink = errors.New("store: inode is not a symlink")

	// ErrInvalidName is returned when a name fails the constraints in
	// spec.md section 6 (empty, too long, contains '/' or NUL, or is
	// "." or "..").
	ErrInvalidName = errors.New("store: invalid entry name")

	// ErrReadOnly is returned when a mutating method is called against
	// a read-only transaction.
	ErrReadOnly = errors.New("store: transaction is read-only")
)

// WrapIoError wraps an underlying I/O failure (bbolt, filesystem) so that
// callers can distinguish store-internal corruption from transient I/O
// failure. Mirrors the annotate-at-the-boundary style of
// rclone's backend/cache/storage_persistent.go (errors.Wrapf around bolt
// failures).
func WrapIoError(op string, err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, "store: %s", op)
}
