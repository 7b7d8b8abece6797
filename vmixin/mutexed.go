package vmixin

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/inodefs/corefs/logger"
	"github.com/inodefs/corefs/vbackend"
	"github.com/inodefs/corefs/verrno"
	"github.com/inodefs/corefs/vinode"
	"github.com/inodefs/corefs/vstore"
)

// DefaultWatchdog is how long a waiter holds out for a path lock
// (5 seconds) before giving up with EDEADLK.
const DefaultWatchdog = 5 * time.Second

// pathLock is a strict FIFO queue of waiters for one path. The lock is
// handed off by closing the next waiter's channel; it is never
// "signalled" more than once, so ordering can't be jumped even by a
// waiter that is asynchronously suspended.
type pathLock struct {
	mu      sync.Mutex
	locked  bool
	waiters []chan struct{}
}

// Mutexed wraps a vbackend.Backend, serializing all path-affecting
// operations on the same path. Operations on distinct
// paths proceed concurrently.
type Mutexed struct {
	inner    vbackend.Backend
	watchdog time.Duration

	mu    sync.Mutex
	locks map[string]*pathLock
}

var _ vbackend.Backend = (*Mutexed)(nil)

// NewMutexed wraps inner with the default watchdog timeout. Use
// WithWatchdog to override it.
func NewMutexed(inner vbackend.Backend) *Mutexed {
	return &Mutexed{inner: inner, watchdog: DefaultWatchdog, locks: make(map[string]*pathLock)}
}

// WithWatchdog returns m with its lock-wait timeout replaced.
func (m *Mutexed) WithWatchdog(d time.Duration) *Mutexed {
	m.watchdog = d
	return m
}

func (m *Mutexed) lockFor(path string) *pathLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	pl, ok := m.locks[path]
	if !ok {
		pl = &pathLock{}
		m.locks[path] = pl
	}
	return pl
}

// acquire blocks until path's lock is free or the watchdog fires. On
// success it returns a release func; the caller must call it exactly
// once.
func (m *Mutexed) acquire(path string) (func(), error) {
	pl := m.lockFor(path)

	pl.mu.Lock()
	if !pl.locked {
		pl.locked = true
		pl.mu.Unlock()
		return m.releaseFunc(pl), nil
	}
	wait := make(chan struct{})
	pl.waiters = append(pl.waiters, wait)
	pl.mu.Unlock()

	timer := time.NewTimer(m.watchdog)
	defer timer.Stop()
	select {
	case <-wait:
		return m.releaseFunc(pl), nil
	case <-timer.C:
		pl.mu.Lock()
		for i, w := range pl.waiters {
			if w == wait {
				pl.waiters = append(pl.waiters[:i], pl.waiters[i+1:]...)
				break
			}
		}
		pl.mu.Unlock()
		buf := make([]byte, 4096)
		n := runtime.Stack(buf, false)
		logger.Warnf("mutexed: lock on %q held past the %s watchdog, failing waiter with EDEADLK", path, m.watchdog)
		return nil, verrno.New(verrno.EDEADLK, "lock", path, fmt.Errorf("lock wait exceeded %s:\n%s", m.watchdog, buf[:n]))
	}
}

func (m *Mutexed) releaseFunc(pl *pathLock) func() {
	return func() {
		pl.mu.Lock()
		if len(pl.waiters) > 0 {
			next := pl.waiters[0]
			pl.waiters = pl.waiters[1:]
			pl.mu.Unlock()
			close(next)
			return
		}
		pl.locked = false
		pl.mu.Unlock()
	}
}

// tryAcquire acquires path's lock only if it is immediately free,
// failing EBUSY otherwise.
func (m *Mutexed) tryAcquire(path string) (func(), error) {
	pl := m.lockFor(path)
	pl.mu.Lock()
	if pl.locked {
		pl.mu.Unlock()
		return nil, verrno.New(verrno.EBUSY, "lock", path, nil)
	}
	pl.locked = true
	pl.mu.Unlock()
	return m.releaseFunc(pl), nil
}

// Do runs fn with path's lock held, waiting up to the watchdog
// timeout.
func (m *Mutexed) Do(path string, fn func() error) error {
	release, err := m.acquire(path)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// TryDo runs fn with path's lock held only if it was immediately
// available, else fails EBUSY without running fn.
func (m *Mutexed) TryDo(path string, fn func() error) error {
	release, err := m.tryAcquire(path)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// doTwo locks both paths, always in lexical order, to avoid deadlocks
// between concurrent operations that touch the same pair of paths in
// opposite orders (e.g. two renames crossing each other).
func (m *Mutexed) doTwo(a, b string, fn func() error) error {
	first, second := a, b
	if second < first {
		first, second = second, first
	}
	if first == second {
		return m.Do(first, fn)
	}
	return m.Do(first, func() error {
		return m.Do(second, fn)
	})
}

func (m *Mutexed) Stat(ctx context.Context, path string, followLink bool) (*vinode.Record, error) {
	return m.inner.Stat(ctx, path, followLink)
}

func (m *Mutexed) CreateFile(ctx context.Context, path string, opts vbackend.CreateOpts) (*vinode.Record, error) {
	var rec *vinode.Record
	err := m.Do(path, func() error {
		var e error
		rec, e = m.inner.CreateFile(ctx, path, opts)
		return e
	})
	return rec, err
}

func (m *Mutexed) Mkdir(ctx context.Context, path string, opts vbackend.CreateOpts) (*vinode.Record, error) {
	var rec *vinode.Record
	err := m.Do(path, func() error {
		var e error
		rec, e = m.inner.Mkdir(ctx, path, opts)
		return e
	})
	return rec, err
}

func (m *Mutexed) Symlink(ctx context.Context, path, target string, opts vbackend.CreateOpts) (*vinode.Record, error) {
	var rec *vinode.Record
	err := m.Do(path, func() error {
		var e error
		rec, e = m.inner.Symlink(ctx, path, target, opts)
		return e
	})
	return rec, err
}

func (m *Mutexed) Unlink(ctx context.Context, path string) error {
	return m.Do(path, func() error { return m.inner.Unlink(ctx, path) })
}

func (m *Mutexed) Rmdir(ctx context.Context, path string) error {
	return m.Do(path, func() error { return m.inner.Rmdir(ctx, path) })
}

func (m *Mutexed) Rename(ctx context.Context, oldPath, newPath string) error {
	return m.doTwo(oldPath, newPath, func() error { return m.inner.Rename(ctx, oldPath, newPath) })
}

func (m *Mutexed) Link(ctx context.Context, src, dst string) error {
	return m.doTwo(src, dst, func() error { return m.inner.Link(ctx, src, dst) })
}

func (m *Mutexed) ReadLink(ctx context.Context, path string) (string, error) {
	return m.inner.ReadLink(ctx, path)
}

func (m *Mutexed) Read(ctx context.Context, path string, buf []byte, offset int64) (int, error) {
	return m.inner.Read(ctx, path, buf, offset)
}

func (m *Mutexed) Write(ctx context.Context, path string, buf []byte, offset int64) (int, error) {
	var n int
	err := m.Do(path, func() error {
		var e error
		n, e = m.inner.Write(ctx, path, buf, offset)
		return e
	})
	return n, err
}

func (m *Mutexed) Truncate(ctx context.Context, path string, size int64) error {
	return m.Do(path, func() error { return m.inner.Truncate(ctx, path, size) })
}

func (m *Mutexed) Sync(ctx context.Context, path string, data []byte, stats *vinode.Record) error {
	return m.Do(path, func() error { return m.inner.Sync(ctx, path, data, stats) })
}

func (m *Mutexed) Touch(ctx context.Context, path string, fields vbackend.TouchFields) error {
	return m.Do(path, func() error { return m.inner.Touch(ctx, path, fields) })
}

func (m *Mutexed) Readdir(ctx context.Context, path string) ([]vbackend.Dirent, error) {
	return m.inner.Readdir(ctx, path)
}

func (m *Mutexed) GetXattr(ctx context.Context, path, name string) ([]byte, error) {
	return m.inner.GetXattr(ctx, path, name)
}

func (m *Mutexed) SetXattr(ctx context.Context, path, name string, value []byte) error {
	return m.Do(path, func() error { return m.inner.SetXattr(ctx, path, name, value) })
}

func (m *Mutexed) RemoveXattr(ctx context.Context, path, name string) error {
	return m.Do(path, func() error { return m.inner.RemoveXattr(ctx, path, name) })
}

func (m *Mutexed) ListXattr(ctx context.Context, path string) ([]string, error) {
	return m.inner.ListXattr(ctx, path)
}

func (m *Mutexed) Usage(ctx context.Context) (vstore.Usage, error) {
	return m.inner.Usage(ctx)
}
