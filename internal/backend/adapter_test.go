package backend

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	connected   atomic.Bool
	probeCalls  atomic.Int64
	lstatCalls  atomic.Int64
	lstatResult Stat
	lstatErr    error
}

func (d *fakeDriver) IsConnected(ctx context.Context) bool {
	d.probeCalls.Add(1)
	return d.connected.Load()
}

func (d *fakeDriver) Lstat(ctx context.Context, path string) (Stat, error) {
	d.lstatCalls.Add(1)
	return d.lstatResult, d.lstatErr
}

func (d *fakeDriver) Readdir(ctx context.Context, path string) (DirReader, error) {
	return nil, nil
}
func (d *fakeDriver) Readlink(ctx context.Context, path string) (string, error) { return "", nil }
func (d *fakeDriver) Open(ctx context.Context, path string) (Handle, error)     { return nil, nil }
func (d *fakeDriver) Pread(ctx context.Context, h Handle, off int64, size int) ([]byte, error) {
	return nil, nil
}
func (d *fakeDriver) Release(ctx context.Context, h Handle) error { return nil }

func TestAdapterReturnsEIOWhenDisconnected(t *testing.T) {
	d := &fakeDriver{}
	a := NewAdapter(d, time.Minute)

	require.False(t, a.Connected(context.Background()))

	_, err := a.Lstat(context.Background(), "some/path")
	require.ErrorIs(t, err, EIO)
	require.Equal(t, int64(0), d.lstatCalls.Load(), "a disconnected adapter must not call through to the driver")
}

func TestAdapterDelegatesWhenConnected(t *testing.T) {
	d := &fakeDriver{lstatResult: Stat{Size: 7}}
	d.connected.Store(true)
	a := NewAdapter(d, time.Minute)

	stat, err := a.Lstat(context.Background(), "some/path")
	require.NoError(t, err)
	require.Equal(t, uint64(7), stat.Size)
	require.Equal(t, int64(1), d.lstatCalls.Load())
}

func TestAdapterCachesProbeResult(t *testing.T) {
	d := &fakeDriver{}
	d.connected.Store(true)
	a := NewAdapter(d, time.Hour)

	require.True(t, a.Connected(context.Background()))
	require.True(t, a.Connected(context.Background()))
	require.True(t, a.Connected(context.Background()))

	require.Equal(t, int64(1), d.probeCalls.Load(), "repeated Connected calls within the cache window must not re-probe the driver")
}

func TestAdapterReprobesAfterWindowExpires(t *testing.T) {
	d := &fakeDriver{}
	d.connected.Store(true)
	a := NewAdapter(d, time.Millisecond)

	require.True(t, a.Connected(context.Background()))
	time.Sleep(5 * time.Millisecond)
	require.True(t, a.Connected(context.Background()))

	require.GreaterOrEqual(t, d.probeCalls.Load(), int64(2))
}

func TestAdapterDefaultsProbeWindow(t *testing.T) {
	a := NewAdapter(&fakeDriver{}, 0)
	require.Equal(t, DefaultProbeCacheFor, a.probeCacheFor)
}
