package vfs

import (
	"sort"
	"sync"

	"github.com/inodefs/corefs/vbackend"
	"github.com/inodefs/corefs/verrno"
	"github.com/inodefs/corefs/vpath"
)

// mountTable resolves a normalized absolute path to the backend mounted
// at the longest matching prefix, translating the path to be relative
// to that mount's root. Grounded on gcsfuse's single-bucket fileSystem
// generalized to more than one backend.
type mountTable struct {
	mu     sync.RWMutex
	mounts map[string]vbackend.Backend
}

func newMountTable(root vbackend.Backend) *mountTable {
	return &mountTable{mounts: map[string]vbackend.Backend{"/": root}}
}

// Mount installs backend at point. point must not already carry a
// mount.
func (t *mountTable) Mount(point string, backend vbackend.Backend) error {
	point = vpath.Normalize(point)

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.mounts[point]; exists {
		return verrno.New(verrno.EINVAL, "mount", point, nil)
	}
	t.mounts[point] = backend
	return nil
}

// Unmount removes the mount at point. The root mount ("/") cannot be
// removed.
func (t *mountTable) Unmount(point string) error {
	point = vpath.Normalize(point)
	if point == "/" {
		return verrno.New(verrno.EINVAL, "unmount", point, nil)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.mounts[point]; !exists {
		return verrno.New(verrno.ENOENT, "unmount", point, nil)
	}
	delete(t.mounts, point)
	return nil
}

// Resolve finds the mount with the longest matching prefix for path
// and returns the backend plus the path translated relative to that
// mount's root.
func (t *mountTable) Resolve(path string) (vbackend.Backend, string) {
	path = vpath.Normalize(path)

	t.mu.RLock()
	defer t.mu.RUnlock()

	best := "/"
	for point := range t.mounts {
		if !vpath.HasPrefixPath(path, point) {
			continue
		}
		if len(point) > len(best) {
			best = point
		}
	}

	return t.mounts[best], vpath.RelativeTo(path, best)
}

// Mounts returns the currently installed mount points, sorted.
func (t *mountTable) Mounts() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.mounts))
	for point := range t.mounts {
		out = append(out, point)
	}
	sort.Strings(out)
	return out
}
