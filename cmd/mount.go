// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/horazont/dragonstash/cfg"
	"github.com/horazont/dragonstash/internal/backend"
	"github.com/horazont/dragonstash/internal/cache"
	"github.com/horazont/dragonstash/internal/coordinator"
	"github.com/horazont/dragonstash/internal/logger"
	"github.com/horazont/dragonstash/internal/perms"
	"github.com/jacobsa/daemonize"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/timeutil"
	"github.com/kardianos/osext"
)

// runInBackground re-execs the current binary with --foreground forced
// on, via daemonize.Run, and blocks until that child has signaled its
// own mount outcome (success or failure) back to us.
func runInBackground(mountPoint string) error {
	path, err := osext.Executable()
	if err != nil {
		return fmt.Errorf("osext.Executable: %w", err)
	}

	// Re-run with --foreground forced on, and the already-resolved
	// mount point as the final argument (os.Args[len-1] may still be
	// relative).
	args := append([]string{"--foreground"}, os.Args[1:]...)
	args[len(args)-1] = mountPoint

	env := []string{fmt.Sprintf("PATH=%s", os.Getenv("PATH"))}

	if err := daemonize.Run(path, args, env, os.Stdout); err != nil {
		return fmt.Errorf("daemonize.Run: %w", err)
	}
	return nil
}

// mount opens the cache, constructs the backend adapter and
// coordinator, and blocks serving the mount until it is unmounted.
//
// When newConfig.Foreground is false, it re-execs itself in the
// background via runInBackground and returns once that child has
// mounted; the actual mount work below only ever runs in the
// foreground (possibly backgrounded) process, which signals its
// outcome back to the parent via daemonize.SignalOutcome before
// joining the fuse server.
func mount(ctx context.Context, newConfig *cfg.Config, mountPoint string) error {
	if !newConfig.Foreground {
		return runInBackground(mountPoint)
	}

	logger.SetOutput(newConfig.Log.File, newConfig.Log.MaxSizeMB, newConfig.Log.MaxBackups, newConfig.Log.MaxAgeDays)
	logger.SetVerbose(newConfig.Log.Verbose)
	log := logger.For("mount")

	// signalFailure reports a pre-mount error back to a daemonize
	// parent (if any) before returning it, so the parent never hangs
	// waiting on a child that gave up before calling fuse.Mount.
	signalFailure := func(err error) error {
		if sigErr := daemonize.SignalOutcome(err); sigErr != nil {
			log.Printf("daemonize.SignalOutcome: %v", sigErr)
		}
		return err
	}

	uid, gid, err := perms.MyUserAndGroup()
	if err != nil {
		return signalFailure(fmt.Errorf("MyUserAndGroup: %w", err))
	}

	if err := cache.EnsureExclusive(newConfig.CacheDir); err != nil {
		return signalFailure(fmt.Errorf("cache directory %q already in use: %w", newConfig.CacheDir, err))
	}

	c, err := cache.Open(newConfig.CacheDir, uid, gid, timeutil.RealClock())
	if err != nil {
		return signalFailure(fmt.Errorf("opening cache: %w", err))
	}

	driver, err := backend.New(newConfig.Backend.Kind, newConfig.Backend.Address)
	if err != nil {
		return signalFailure(fmt.Errorf("constructing backend driver: %w", err))
	}
	adapter := backend.NewAdapter(driver, newConfig.Backend.ProbeCacheFor)

	co := coordinator.New(c, adapter, timeutil.RealClock(), coordinator.Config{
		EntryTimeout: newConfig.Cache.EntryTimeout,
		AttrTimeout:  newConfig.Cache.AttrTimeout,
		NegativeTTL:  newConfig.Cache.NegativeTTL,
	})

	log.Printf("mounting %q at %q", newConfig.Backend.Address, mountPoint)

	fs := coordinator.NewFileSystem(co)
	mfs, err := fuse.Mount(mountPoint, fs, &fuse.MountConfig{
		FSName:  "dragonstash",
		Subtype: "dragonstash",
	})
	if err != nil {
		c.Close()
		return signalFailure(fmt.Errorf("fuse.Mount: %w", err))
	}

	log.Printf("mounted %q at %q", newConfig.Backend.Address, mountPoint)
	if sigErr := daemonize.SignalOutcome(nil); sigErr != nil {
		log.Printf("daemonize.SignalOutcome: %v", sigErr)
	}

	if err := mfs.Join(ctx); err != nil {
		c.Close()
		return fmt.Errorf("MountedFileSystem.Join: %w", err)
	}

	return c.Close()
}
