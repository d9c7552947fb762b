package backend

import (
	"context"
	"syscall"
)

// EIO is the errno the Adapter synthesizes when disconnected.
const EIO = syscall.EIO

// NullDriver is always disconnected. It exists so mount bootstrap and
// the coordinator's wiring can be exercised without a real network
// backend; every call except Release fails with EIO as if offline, and
// Release returns nil.
type NullDriver struct{}

func (NullDriver) IsConnected(ctx context.Context) bool { return false }

func (NullDriver) Lstat(ctx context.Context, path string) (Stat, error) {
	return Stat{}, EIO
}

func (NullDriver) Readdir(ctx context.Context, path string) (DirReader, error) {
	return nil, EIO
}

func (NullDriver) Readlink(ctx context.Context, path string) (string, error) {
	return "", EIO
}

func (NullDriver) Open(ctx context.Context, path string) (Handle, error) {
	return nil, EIO
}

func (NullDriver) Pread(ctx context.Context, h Handle, off int64, size int) ([]byte, error) {
	return nil, EIO
}

func (NullDriver) Release(ctx context.Context, h Handle) error {
	return nil
}
