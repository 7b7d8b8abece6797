// Package overlay implements a copy-on-write composite backend: a
// read-only "readable" backend beneath a writable one, with a durable
// deletion log recording paths removed from the composite view. It is
// grounded on the same vbackend.Backend contract storefs.FS
// implements, so either side can be a StoreFS, a nested overlay, or
// any other backend.
package overlay

import (
	"context"
	"strings"
	"sync"

	"github.com/inodefs/corefs/vbackend"
	"github.com/inodefs/corefs/verrno"
	"github.com/inodefs/corefs/vinode"
	"github.com/inodefs/corefs/vmixin"
	"github.com/inodefs/corefs/vpath"
	"github.com/inodefs/corefs/vstore"
)

// DeletionLogPath is the well-known path, within the writable backend,
// that records paths hidden from the readable side.
const DeletionLogPath = "/.overlay-deleted"

// FS composes a read-only backend beneath a writable one.
type FS struct {
	readable vbackend.Backend
	writable vbackend.Backend

	logMu   sync.Mutex
	deleted map[string]bool
}

var _ vbackend.Backend = (*FS)(nil)

// New composes readable (read-only) under writable, replaying any
// existing deletion log from writable.
func New(ctx context.Context, readable, writable vbackend.Backend) (*FS, error) {
	fs := &FS{readable: readable, writable: writable, deleted: make(map[string]bool)}
	if err := fs.loadDeletionLog(ctx); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FS) loadDeletionLog(ctx context.Context) error {
	buf := make([]byte, 1<<20)
	n, err := fs.writable.Read(ctx, DeletionLogPath, buf, 0)
	if err != nil {
		if verrno.Of(err) == verrno.ENOENT {
			return nil
		}
		return err
	}
	for _, line := range strings.Split(string(buf[:n]), "\n") {
		if line == "" {
			continue
		}
		fs.deleted[line] = true
	}
	return nil
}

// persistDeletionLog truncates and rewrites the whole log on every
// mutation; the log is small relative to the tree it tombstones.
func (fs *FS) persistDeletionLog(ctx context.Context) error {
	fs.logMu.Lock()
	paths := make([]string, 0, len(fs.deleted))
	for p := range fs.deleted {
		paths = append(paths, p)
	}
	fs.logMu.Unlock()

	var b strings.Builder
	for _, p := range paths {
		b.WriteString(p)
		b.WriteByte('\n')
	}
	content := []byte(b.String())

	if _, err := fs.writable.Stat(ctx, DeletionLogPath, false); err != nil {
		if verrno.Of(err) != verrno.ENOENT {
			return err
		}
		if _, err := fs.writable.CreateFile(ctx, DeletionLogPath, vbackend.CreateOpts{Mode: vinode.S_IFREG | 0o600}); err != nil {
			return err
		}
	} else if err := fs.writable.Truncate(ctx, DeletionLogPath, 0); err != nil {
		return err
	}
	_, err := fs.writable.Write(ctx, DeletionLogPath, content, 0)
	return err
}

func (fs *FS) markDeleted(ctx context.Context, path string) error {
	fs.logMu.Lock()
	fs.deleted[path] = true
	fs.logMu.Unlock()
	return fs.persistDeletionLog(ctx)
}

func (fs *FS) unmarkDeleted(ctx context.Context, path string) error {
	fs.logMu.Lock()
	_, was := fs.deleted[path]
	delete(fs.deleted, path)
	fs.logMu.Unlock()
	if !was {
		return nil
	}
	return fs.persistDeletionLog(ctx)
}

func (fs *FS) isDeleted(path string) bool {
	fs.logMu.Lock()
	defer fs.logMu.Unlock()
	return fs.deleted[path]
}

// promote ensures path exists in the writable backend, copying it
// (and its ancestors, preserving their modes) from readable if needed.
func (fs *FS) promote(ctx context.Context, path string) error {
	if path == "/" {
		return fs.promoteDir(ctx, "/")
	}
	parent := vpath.Dirname(path)
	if parent != "/" {
		if err := fs.promote(ctx, parent); err != nil {
			return err
		}
	} else if err := fs.promoteDir(ctx, "/"); err != nil {
		return err
	}

	if _, err := fs.writable.Stat(ctx, path, false); err == nil {
		return nil // already promoted
	}

	rec, err := fs.readable.Stat(ctx, path, false)
	if err != nil {
		if verrno.Of(err) == verrno.ENOENT {
			return nil // doesn't exist on either side yet; caller is creating it fresh
		}
		return err
	}

	switch {
	case rec.Mode.IsDir():
		return fs.promoteDir(ctx, path)
	case rec.Mode.IsSymlink():
		target, err := fs.readable.ReadLink(ctx, path)
		if err != nil {
			return err
		}
		_, err = fs.writable.Symlink(ctx, path, target, vbackend.CreateOpts{Mode: rec.Mode, Uid: rec.Uid, Gid: rec.Gid})
		return err
	default:
		if _, err := fs.writable.CreateFile(ctx, path, vbackend.CreateOpts{Mode: rec.Mode, Uid: rec.Uid, Gid: rec.Gid}); err != nil {
			return err
		}
		buf := make([]byte, rec.Size)
		n, err := fs.readable.Read(ctx, path, buf, 0)
		if err != nil {
			return err
		}
		_, err = fs.writable.Write(ctx, path, buf[:n], 0)
		return err
	}
}

func (fs *FS) promoteDir(ctx context.Context, path string) error {
	if _, err := fs.writable.Stat(ctx, path, false); err == nil {
		return nil
	}
	mode := vinode.S_IFDIR | 0o755
	if rec, err := fs.readable.Stat(ctx, path, false); err == nil {
		mode = rec.Mode
	}
	parent := vpath.Dirname(path)
	if parent != path {
		if err := fs.promoteDir(ctx, parent); err != nil {
			return err
		}
	}
	_, err := fs.writable.Mkdir(ctx, path, vbackend.CreateOpts{Mode: mode})
	if err != nil && verrno.Of(err) != verrno.EEXIST {
		return err
	}
	return nil
}

func (fs *FS) Stat(ctx context.Context, path string, followLink bool) (*vinode.Record, error) {
	if rec, err := fs.writable.Stat(ctx, path, followLink); err == nil {
		return rec, nil
	} else if verrno.Of(err) != verrno.ENOENT {
		return nil, err
	}
	if fs.isDeleted(path) {
		return nil, verrno.New(verrno.ENOENT, "stat", path, nil)
	}
	return fs.readable.Stat(ctx, path, followLink)
}

func (fs *FS) CreateFile(ctx context.Context, path string, opts vbackend.CreateOpts) (*vinode.Record, error) {
	if err := fs.promote(ctx, vpath.Dirname(path)); err != nil {
		return nil, err
	}
	rec, err := fs.writable.CreateFile(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	if err := fs.unmarkDeleted(ctx, path); err != nil {
		return nil, err
	}
	return rec, nil
}

func (fs *FS) Mkdir(ctx context.Context, path string, opts vbackend.CreateOpts) (*vinode.Record, error) {
	if err := fs.promote(ctx, vpath.Dirname(path)); err != nil {
		return nil, err
	}
	rec, err := fs.writable.Mkdir(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	if err := fs.unmarkDeleted(ctx, path); err != nil {
		return nil, err
	}
	return rec, nil
}

func (fs *FS) Symlink(ctx context.Context, path, target string, opts vbackend.CreateOpts) (*vinode.Record, error) {
	if err := fs.promote(ctx, vpath.Dirname(path)); err != nil {
		return nil, err
	}
	rec, err := fs.writable.Symlink(ctx, path, target, opts)
	if err != nil {
		return nil, err
	}
	if err := fs.unmarkDeleted(ctx, path); err != nil {
		return nil, err
	}
	return rec, nil
}

func (fs *FS) Unlink(ctx context.Context, path string) error {
	if err := fs.promote(ctx, path); err != nil {
		return err
	}
	if _, err := fs.writable.Stat(ctx, path, false); err == nil {
		if err := fs.writable.Unlink(ctx, path); err != nil {
			return err
		}
	}
	return fs.markDeleted(ctx, path)
}

// Rmdir checks emptiness against the merged view, not just the
// writable copy: promoteDir only ever copies an empty shell, so a
// readable directory with children must still block removal even
// though its promoted counterpart in writable looks empty.
func (fs *FS) Rmdir(ctx context.Context, path string) error {
	entries, err := fs.Readdir(ctx, path)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return verrno.New(verrno.ENOTEMPTY, "rmdir", path, nil)
	}
	if err := fs.promote(ctx, path); err != nil {
		return err
	}
	if _, err := fs.writable.Stat(ctx, path, false); err == nil {
		if err := fs.writable.Rmdir(ctx, path); err != nil {
			return err
		}
	}
	return fs.markDeleted(ctx, path)
}

// Rename always promotes the source and the destination's parent
// directory and performs a copy+delete so
// that a rename crossing the overlay boundary works the same way as
// one entirely within writable.
func (fs *FS) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := fs.promote(ctx, oldPath); err != nil {
		return err
	}
	if err := fs.promote(ctx, vpath.Dirname(newPath)); err != nil {
		return err
	}
	if err := fs.writable.Rename(ctx, oldPath, newPath); err != nil {
		return err
	}
	if err := fs.unmarkDeleted(ctx, newPath); err != nil {
		return err
	}
	return fs.markDeleted(ctx, oldPath)
}

func (fs *FS) Link(ctx context.Context, src, dst string) error {
	if err := fs.promote(ctx, src); err != nil {
		return err
	}
	if err := fs.promote(ctx, vpath.Dirname(dst)); err != nil {
		return err
	}
	if err := fs.writable.Link(ctx, src, dst); err != nil {
		return err
	}
	return fs.unmarkDeleted(ctx, dst)
}

func (fs *FS) ReadLink(ctx context.Context, path string) (string, error) {
	if target, err := fs.writable.ReadLink(ctx, path); err == nil {
		return target, nil
	} else if verrno.Of(err) != verrno.ENOENT {
		return "", err
	}
	if fs.isDeleted(path) {
		return "", verrno.New(verrno.ENOENT, "readlink", path, nil)
	}
	return fs.readable.ReadLink(ctx, path)
}

func (fs *FS) Read(ctx context.Context, path string, buf []byte, offset int64) (int, error) {
	if _, err := fs.writable.Stat(ctx, path, true); err == nil {
		return fs.writable.Read(ctx, path, buf, offset)
	}
	if fs.isDeleted(path) {
		return 0, verrno.New(verrno.ENOENT, "read", path, nil)
	}
	return fs.readable.Read(ctx, path, buf, offset)
}

func (fs *FS) Write(ctx context.Context, path string, buf []byte, offset int64) (int, error) {
	if err := fs.promote(ctx, path); err != nil {
		return 0, err
	}
	return fs.writable.Write(ctx, path, buf, offset)
}

func (fs *FS) Truncate(ctx context.Context, path string, size int64) error {
	if err := fs.promote(ctx, path); err != nil {
		return err
	}
	return fs.writable.Truncate(ctx, path, size)
}

func (fs *FS) Sync(ctx context.Context, path string, data []byte, stats *vinode.Record) error {
	if err := fs.promote(ctx, path); err != nil {
		return err
	}
	return fs.writable.Sync(ctx, path, data, stats)
}

func (fs *FS) Touch(ctx context.Context, path string, fields vbackend.TouchFields) error {
	if err := fs.promote(ctx, path); err != nil {
		return err
	}
	return fs.writable.Touch(ctx, path, fields)
}

// Readdir merges writable and readable entries, filters deleted paths,
// and dedupes by name with writable winning.
func (fs *FS) Readdir(ctx context.Context, path string) ([]vbackend.Dirent, error) {
	seen := make(map[string]bool)
	var out []vbackend.Dirent

	wEntries, werr := fs.writable.Readdir(ctx, path)
	if werr != nil && verrno.Of(werr) != verrno.ENOENT {
		return nil, werr
	}
	for _, e := range wEntries {
		if e.Name == strings.TrimPrefix(DeletionLogPath, "/") && path == "/" {
			continue
		}
		seen[e.Name] = true
		out = append(out, e)
	}

	rEntries, rerr := fs.readable.Readdir(ctx, path)
	if rerr != nil && verrno.Of(rerr) != verrno.ENOENT {
		return nil, rerr
	}
	for _, e := range rEntries {
		if seen[e.Name] {
			continue
		}
		childPath := vpath.Join(path, e.Name)
		if fs.isDeleted(childPath) {
			continue
		}
		out = append(out, e)
	}

	if werr != nil && rerr != nil {
		return nil, verrno.New(verrno.ENOENT, "readdir", path, nil)
	}
	return out, nil
}

func (fs *FS) GetXattr(ctx context.Context, path, name string) ([]byte, error) {
	if v, err := fs.writable.GetXattr(ctx, path, name); err == nil {
		return v, nil
	} else if verrno.Of(err) != verrno.ENOTSUP {
		return nil, err
	}
	return fs.readable.GetXattr(ctx, path, name)
}

func (fs *FS) SetXattr(ctx context.Context, path, name string, value []byte) error {
	if err := fs.promote(ctx, path); err != nil {
		return err
	}
	return fs.writable.SetXattr(ctx, path, name, value)
}

func (fs *FS) RemoveXattr(ctx context.Context, path, name string) error {
	if err := fs.promote(ctx, path); err != nil {
		return err
	}
	return fs.writable.RemoveXattr(ctx, path, name)
}

func (fs *FS) ListXattr(ctx context.Context, path string) ([]string, error) {
	if names, err := fs.writable.ListXattr(ctx, path); err == nil {
		return names, nil
	}
	return fs.readable.ListXattr(ctx, path)
}

func (fs *FS) Usage(ctx context.Context) (vstore.Usage, error) {
	return fs.writable.Usage(ctx)
}

// WithMutexedWritable wraps writable in a vmixin.Mutexed before
// composing, so the deletion log's read-modify-write cycle never races
// with a concurrent promote from another caller.
func WithMutexedWritable(ctx context.Context, readable, writable vbackend.Backend) (*FS, error) {
	return New(ctx, readable, vmixin.NewMutexed(writable))
}
