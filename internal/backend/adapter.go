package backend

import (
	"context"
	"sync"
	"time"
)

// DefaultProbeCacheFor is how long the Adapter trusts the driver's last
// IsConnected answer before asking again: a small TTL threaded from cfg
// down to the component that needs it, trading a little staleness for
// not hammering the probe on every single request during an outage
// burst.
const DefaultProbeCacheFor = time.Second

// Adapter wraps a Driver with the connectivity probe and error
// translation described in spec.md section 4.3. When the backend is
// disconnected, every operation synthesizes EIO locally without
// contacting the driver at all.
type Adapter struct {
	driver        Driver
	probeCacheFor time.Duration

	mu            sync.Mutex
	lastProbeAt   time.Time
	lastConnected bool
	probed        bool
}

// NewAdapter wraps driver. probeCacheFor <= 0 uses DefaultProbeCacheFor.
func NewAdapter(driver Driver, probeCacheFor time.Duration) *Adapter {
	if probeCacheFor <= 0 {
		probeCacheFor = DefaultProbeCacheFor
	}
	return &Adapter{driver: driver, probeCacheFor: probeCacheFor}
}

// Connected reports whether the backend is reachable, consulting the
// driver at most once per probeCacheFor window.
func (a *Adapter) Connected(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.probed && time.Since(a.lastProbeAt) < a.probeCacheFor {
		return a.lastConnected
	}

	a.lastConnected = a.driver.IsConnected(ctx)
	a.lastProbeAt = time.Now()
	a.probed = true
	return a.lastConnected
}

func (a *Adapter) Lstat(ctx context.Context, path string) (Stat, error) {
	if !a.Connected(ctx) {
		return Stat{}, EIO
	}
	return a.driver.Lstat(ctx, path)
}

func (a *Adapter) Readdir(ctx context.Context, path string) (DirReader, error) {
	if !a.Connected(ctx) {
		return nil, EIO
	}
	return a.driver.Readdir(ctx, path)
}

func (a *Adapter) Readlink(ctx context.Context, path string) (string, error) {
	if !a.Connected(ctx) {
		return "", EIO
	}
	return a.driver.Readlink(ctx, path)
}

func (a *Adapter) Open(ctx context.Context, path string) (Handle, error) {
	if !a.Connected(ctx) {
		return nil, EIO
	}
	return a.driver.Open(ctx, path)
}

func (a *Adapter) Pread(ctx context.Context, h Handle, off int64, size int) ([]byte, error) {
	if !a.Connected(ctx) {
		return nil, EIO
	}
	return a.driver.Pread(ctx, h, off, size)
}

func (a *Adapter) Release(ctx context.Context, h Handle) error {
	if !a.Connected(ctx) {
		return EIO
	}
	return a.driver.Release(ctx, h)
}
