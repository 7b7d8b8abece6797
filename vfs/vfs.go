// Package vfs ties the path algebra, backends, overlay, and watchers
// together into the emulated POSIX surface: a mount table, a tree of
// isolated contexts (root/pwd/credentials/descriptors), symlink
// resolution, permission checks, and open-file handles. Nothing here
// talks to a kernel or a real file descriptor table; it is the
// in-process VFS a host (a FUSE bridge, a test harness, a sandboxed
// interpreter) mounts real or synthetic backends into.
package vfs

import (
	"context"
	"strings"
	"sync"

	"github.com/inodefs/corefs/clock"
	"github.com/inodefs/corefs/vacl"
	"github.com/inodefs/corefs/vbackend"
	"github.com/inodefs/corefs/verrno"
	"github.com/inodefs/corefs/vinode"
	"github.com/inodefs/corefs/vpath"
	"github.com/inodefs/corefs/vstore"
	"github.com/inodefs/corefs/watch"
)

// maxSymlinkHops bounds symlink resolution the way Linux's
// MAXSYMLINKS does; exceeding it fails ELOOP.
const maxSymlinkHops = 40

// VFS owns every piece of state that would otherwise be a global
// mutable singleton: the mount table, the context arena, and the
// watch hub. A process normally creates one VFS and derives contexts
// from its Root().
type VFS struct {
	mounts *mountTable
	hub    *watch.Hub
	clk    clock.Clock

	ctxMu    sync.Mutex
	contexts []*contextNode
	rootCtx  ctxID

	// openFiles tracks, per inode, how many descriptors are open on
	// it, so an unlinked inode's content can outlive its last
	// directory entry until the last descriptor closes.
	openMu    sync.Mutex
	openFiles map[openKey]*openFile

	aclEnabled         bool
	accessCheckEnabled bool
}

// NewVFS returns a VFS with root mounted at "/", ACL evaluation and
// access checks both enabled, and a fresh root context running as
// root credentials.
func NewVFS(root vbackend.Backend, clk clock.Clock) *VFS {
	v := &VFS{
		mounts:             newMountTable(root),
		hub:                watch.NewHub(),
		clk:                clk,
		openFiles:          make(map[openKey]*openFile),
		aclEnabled:         true,
		accessCheckEnabled: true,
	}
	v.rootCtx = v.newContextNode("/", "/", RootCredentials, 0, false)
	return v
}

// Hub returns the watch hub events for every mutation are published
// on, so callers can install path/stat watchers.
func (v *VFS) Hub() *watch.Hub { return v.hub }

// Mount installs backend at point (an absolute path in the root
// context's namespace). Mounting at an already-occupied point fails
// EINVAL.
func (v *VFS) Mount(point string, backend vbackend.Backend) error {
	return v.mounts.Mount(point, backend)
}

// Unmount removes the mount at point.
func (v *VFS) Unmount(point string) error {
	return v.mounts.Unmount(point)
}

// SetACLEnabled toggles whether a system.posix_acl_access xattr
// governs access checks; when disabled, mode bits always apply.
func (v *VFS) SetACLEnabled(enabled bool) { v.aclEnabled = enabled }

// SetAccessCheckEnabled globally toggles permission enforcement, for
// test harnesses that want to run without POSIX/ACL checks.
func (v *VFS) SetAccessCheckEnabled(enabled bool) { v.accessCheckEnabled = enabled }

func (v *VFS) emit(op watch.Operation, virtualPath string) {
	v.hub.Emit(op, virtualPath)
}

// resolved is the outcome of walking a virtual path down to its
// backend-relative counterpart, following symlinks along the way.
type resolved struct {
	backend vbackend.Backend
	rel     string
	rec     *vinode.Record
	virtual string
}

// resolve walks virtualPath segment by segment from the VFS root,
// translating each prefix through the mount table and following any
// symlink encountered — at every intermediate component always, and
// at the final component only if followFinal is set (the lstat vs.
// stat distinction). Path resolution, not the backend, owns symlink
// following: storefs and overlay report a symlink's own record from
// Stat regardless of followLink, exactly as real filesystem drivers
// leave the policy to the VFS layer above them.
func (v *VFS) resolve(ctx context.Context, virtualPath string, followFinal bool) (resolved, error) {
	remaining := vpath.Segments(vpath.Normalize(virtualPath))
	cur := "/"
	hops := 0

	for {
		if len(remaining) == 0 {
			backend, rel := v.mounts.Resolve(cur)
			rec, err := backend.Stat(ctx, rel, false)
			if err != nil {
				return resolved{}, err
			}
			return resolved{backend: backend, rel: rel, rec: rec, virtual: cur}, nil
		}

		seg := remaining[0]
		remaining = remaining[1:]
		next := vpath.Join(cur, seg)
		isLast := len(remaining) == 0

		backend, rel := v.mounts.Resolve(next)
		rec, err := backend.Stat(ctx, rel, false)
		if err != nil {
			return resolved{}, err
		}

		if rec.Mode.IsSymlink() && (!isLast || followFinal) {
			hops++
			if hops > maxSymlinkHops {
				return resolved{}, verrno.New(verrno.ELOOP, "resolve", virtualPath, nil)
			}
			target, terr := backend.ReadLink(ctx, rel)
			if terr != nil {
				return resolved{}, terr
			}
			if strings.HasPrefix(target, "/") {
				remaining = append(vpath.Segments(target), remaining...)
			} else {
				remaining = append(vpath.Segments(vpath.Join(cur, target)), remaining...)
			}
			cur = "/"
			continue
		}

		if !isLast && !rec.Mode.IsDir() {
			return resolved{}, verrno.New(verrno.ENOTDIR, "resolve", virtualPath, nil)
		}
		cur = next
	}
}

func (v *VFS) resolveParent(ctx context.Context, virtualPath string) (resolved, string, error) {
	dir := vpath.Dirname(virtualPath)
	name := vpath.Basename(virtualPath)
	r, err := v.resolve(ctx, dir, true)
	if err != nil {
		return resolved{}, "", err
	}
	if !r.rec.Mode.IsDir() {
		return resolved{}, "", verrno.New(verrno.ENOTDIR, "resolve", virtualPath, nil)
	}
	return r, name, nil
}

// checkAccess runs the permission algorithm: POSIX owner/group/other
// by default, superseded entirely by a system.posix_acl_access ACL
// when one is present and ACL evaluation is enabled. Root (any zero id
// in the active credential set) and a disabled global access-check
// toggle both bypass the check.
func (v *VFS) checkAccess(c *Context, rec *vinode.Record, want vinode.FileMode) error {
	if !v.accessCheckEnabled {
		return nil
	}
	creds := c.Credentials()
	if creds.isRoot() {
		return nil
	}

	if v.aclEnabled {
		acl, ok, err := vacl.FromRecord(rec)
		if err != nil {
			return err
		}
		if ok {
			if !acl.Check(creds.Euid, creds.Egid, creds.Groups, rec.Uid, rec.Gid, want) {
				return verrno.New(verrno.EACCES, "access", "", nil)
			}
			return nil
		}
	}

	if !creds.checkPOSIX(rec.Mode, rec.Uid, rec.Gid, want) {
		return verrno.New(verrno.EACCES, "access", "", nil)
	}
	return nil
}

// Access runs the POSIX access(2)-style permission check against
// path's resolved target, without opening it.
func (c *Context) Access(ctx context.Context, path string, want vinode.FileMode) error {
	r, err := c.vfs.resolve(ctx, c.virtualPath(path), true)
	if err != nil {
		return err
	}
	return c.vfs.checkAccess(c, r.rec, want)
}

// Stat resolves path, following a trailing symlink.
func (c *Context) Stat(ctx context.Context, path string) (*vinode.Record, error) {
	r, err := c.vfs.resolve(ctx, c.virtualPath(path), true)
	if err != nil {
		return nil, err
	}
	return r.rec, nil
}

// Lstat resolves path without following a trailing symlink.
func (c *Context) Lstat(ctx context.Context, path string) (*vinode.Record, error) {
	r, err := c.vfs.resolve(ctx, c.virtualPath(path), false)
	if err != nil {
		return nil, err
	}
	return r.rec, nil
}

// ReadLink returns the raw target bytes of the symlink at path.
func (c *Context) ReadLink(ctx context.Context, path string) (string, error) {
	r, err := c.vfs.resolve(ctx, c.virtualPath(path), false)
	if err != nil {
		return "", err
	}
	if !r.rec.Mode.IsSymlink() {
		return "", verrno.New(verrno.EINVAL, "readlink", path, nil)
	}
	return r.backend.ReadLink(ctx, r.rel)
}

// Mkdir creates a directory at path with the given mode, requiring
// write+search permission on the parent directory.
func (c *Context) Mkdir(ctx context.Context, path string, mode vinode.FileMode) (*vinode.Record, error) {
	parent, name, err := c.vfs.resolveParent(ctx, c.virtualPath(path))
	if err != nil {
		return nil, err
	}
	if err := c.vfs.checkAccess(c, parent.rec, vinode.W_OK|vinode.X_OK); err != nil {
		return nil, err
	}
	creds := c.Credentials()
	rec, err := parent.backend.Mkdir(ctx, vpath.Join(parent.rel, name), vbackend.CreateOpts{
		Mode: vinode.S_IFDIR | mode.Perm(),
		Uid:  creds.Euid,
		Gid:  creds.Egid,
	})
	if err != nil {
		return nil, err
	}
	c.vfs.emit(watch.OpMkdir, c.virtualPath(path))
	return rec, nil
}

// MkdirAll creates path and every missing ancestor with mode,
// returning the context-relative path of the first directory it
// actually created, or "" if the whole chain already existed.
// Existing directories keep their modes.
func (c *Context) MkdirAll(ctx context.Context, path string, mode vinode.FileMode) (string, error) {
	full := vpath.Normalize(c.resolveAgainstPwd(path))
	rel := "/"
	first := ""
	for _, seg := range vpath.Segments(full) {
		rel = vpath.Join(rel, seg)
		rec, err := c.Stat(ctx, rel)
		if err == nil {
			if !rec.Mode.IsDir() {
				return "", verrno.New(verrno.ENOTDIR, "mkdir", rel, nil)
			}
			continue
		}
		if verrno.Of(err) != verrno.ENOENT {
			return "", err
		}
		if _, err := c.Mkdir(ctx, rel, mode); err != nil {
			if verrno.Of(err) == verrno.EEXIST {
				continue
			}
			return "", err
		}
		if first == "" {
			first = rel
		}
	}
	return first, nil
}

// CreateFile creates a regular file at path with the given mode.
func (c *Context) CreateFile(ctx context.Context, path string, mode vinode.FileMode) (*vinode.Record, error) {
	parent, name, err := c.vfs.resolveParent(ctx, c.virtualPath(path))
	if err != nil {
		return nil, err
	}
	if err := c.vfs.checkAccess(c, parent.rec, vinode.W_OK|vinode.X_OK); err != nil {
		return nil, err
	}
	creds := c.Credentials()
	rec, err := parent.backend.CreateFile(ctx, vpath.Join(parent.rel, name), vbackend.CreateOpts{
		Mode: vinode.S_IFREG | mode.Perm(),
		Uid:  creds.Euid,
		Gid:  creds.Egid,
	})
	if err != nil {
		return nil, err
	}
	c.vfs.emit(watch.OpCreateFile, c.virtualPath(path))
	return rec, nil
}

// Symlink creates a symlink at path pointing at target.
func (c *Context) Symlink(ctx context.Context, path, target string, mode vinode.FileMode) (*vinode.Record, error) {
	parent, name, err := c.vfs.resolveParent(ctx, c.virtualPath(path))
	if err != nil {
		return nil, err
	}
	if err := c.vfs.checkAccess(c, parent.rec, vinode.W_OK|vinode.X_OK); err != nil {
		return nil, err
	}
	creds := c.Credentials()
	rec, err := parent.backend.Symlink(ctx, vpath.Join(parent.rel, name), target, vbackend.CreateOpts{
		Mode: vinode.S_IFLNK | mode.Perm(),
		Uid:  creds.Euid,
		Gid:  creds.Egid,
	})
	if err != nil {
		return nil, err
	}
	c.vfs.emit(watch.OpCreateFile, c.virtualPath(path))
	return rec, nil
}

// Unlink removes the file at path.
func (c *Context) Unlink(ctx context.Context, path string) error {
	parent, name, err := c.vfs.resolveParent(ctx, c.virtualPath(path))
	if err != nil {
		return err
	}
	if err := c.vfs.checkAccess(c, parent.rec, vinode.W_OK|vinode.X_OK); err != nil {
		return err
	}
	target := vpath.Join(parent.rel, name)
	// When the last directory entry for a regular file is about to go
	// away, snapshot its content into any descriptor still open on it,
	// so reads through those handles keep working until they close.
	if rec, serr := parent.backend.Stat(ctx, target, false); serr == nil && rec.Mode.IsRegular() && rec.Nlink <= 1 {
		c.vfs.detachOpenFile(ctx, parent.backend, target, rec.Ino)
	}
	if err := parent.backend.Unlink(ctx, target); err != nil {
		return err
	}
	c.vfs.emit(watch.OpUnlink, c.virtualPath(path))
	return nil
}

// Rmdir removes the empty directory at path.
func (c *Context) Rmdir(ctx context.Context, path string) error {
	parent, name, err := c.vfs.resolveParent(ctx, c.virtualPath(path))
	if err != nil {
		return err
	}
	if err := c.vfs.checkAccess(c, parent.rec, vinode.W_OK|vinode.X_OK); err != nil {
		return err
	}
	if err := parent.backend.Rmdir(ctx, vpath.Join(parent.rel, name)); err != nil {
		return err
	}
	c.vfs.emit(watch.OpRmdir, c.virtualPath(path))
	return nil
}

// Rename moves oldPath to newPath. Both must resolve through the same
// backend; a rename that would cross mounts fails EXDEV.
func (c *Context) Rename(ctx context.Context, oldPath, newPath string) error {
	oldParent, oldName, err := c.vfs.resolveParent(ctx, c.virtualPath(oldPath))
	if err != nil {
		return err
	}
	newParent, newName, err := c.vfs.resolveParent(ctx, c.virtualPath(newPath))
	if err != nil {
		return err
	}
	if oldParent.backend != newParent.backend {
		return verrno.New(verrno.EXDEV, "rename", oldPath, nil)
	}
	if err := c.vfs.checkAccess(c, oldParent.rec, vinode.W_OK|vinode.X_OK); err != nil {
		return err
	}
	if err := c.vfs.checkAccess(c, newParent.rec, vinode.W_OK|vinode.X_OK); err != nil {
		return err
	}

	if err := oldParent.backend.Rename(ctx, vpath.Join(oldParent.rel, oldName), vpath.Join(newParent.rel, newName)); err != nil {
		return err
	}
	c.vfs.emit(watch.OpRename, c.virtualPath(oldPath))
	c.vfs.emit(watch.OpRename, c.virtualPath(newPath))
	return nil
}

// Link creates a hard link at dst pointing at src's inode.
func (c *Context) Link(ctx context.Context, src, dst string) error {
	srcParent, srcName, err := c.vfs.resolveParent(ctx, c.virtualPath(src))
	if err != nil {
		return err
	}
	dstParent, dstName, err := c.vfs.resolveParent(ctx, c.virtualPath(dst))
	if err != nil {
		return err
	}
	if srcParent.backend != dstParent.backend {
		return verrno.New(verrno.EXDEV, "link", src, nil)
	}
	if err := c.vfs.checkAccess(c, dstParent.rec, vinode.W_OK|vinode.X_OK); err != nil {
		return err
	}
	if err := srcParent.backend.Link(ctx, vpath.Join(srcParent.rel, srcName), vpath.Join(dstParent.rel, dstName)); err != nil {
		return err
	}
	c.vfs.emit(watch.OpCreateFile, c.virtualPath(dst))
	return nil
}

// Readdir lists path's entries. Entries named "." and ".." are never
// synthesized here; backends return only real children.
func (c *Context) Readdir(ctx context.Context, path string) ([]vbackend.Dirent, error) {
	r, err := c.vfs.resolve(ctx, c.virtualPath(path), true)
	if err != nil {
		return nil, err
	}
	if !r.rec.Mode.IsDir() {
		return nil, verrno.New(verrno.ENOTDIR, "readdir", path, nil)
	}
	if err := c.vfs.checkAccess(c, r.rec, vinode.R_OK|vinode.X_OK); err != nil {
		return nil, err
	}
	return r.backend.Readdir(ctx, r.rel)
}

// ReaddirRecursive lists path and every descendant, returning entries
// as paths relative to path.
func (c *Context) ReaddirRecursive(ctx context.Context, path string) ([]string, error) {
	var out []string
	var walk func(rel string) error
	walk = func(rel string) error {
		entries, err := c.Readdir(ctx, vpath.Join(path, rel))
		if err != nil {
			return err
		}
		for _, e := range entries {
			childRel := vpath.Join("/", rel, e.Name)
			out = append(out, childRel)
			if e.Type == vinode.DT_DIR {
				if err := walk(childRel); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk("/"); err != nil {
		return nil, err
	}
	return out, nil
}

// Chmod changes path's permission bits. Only the owner or root may.
func (c *Context) Chmod(ctx context.Context, path string, mode vinode.FileMode) error {
	r, err := c.vfs.resolve(ctx, c.virtualPath(path), true)
	if err != nil {
		return err
	}
	if err := c.requireOwner(r.rec); err != nil {
		return err
	}
	newMode := r.rec.Mode.Type() | mode.Perm()
	if err := r.backend.Touch(ctx, r.rel, vbackend.TouchFields{Mode: &newMode}); err != nil {
		return err
	}
	c.vfs.emit(watch.OpChmod, c.virtualPath(path))
	return nil
}

// Chown changes path's owning uid/gid. A negative value leaves the
// corresponding field unchanged. Only root may change the owning uid.
func (c *Context) Chown(ctx context.Context, path string, uid, gid int64) error {
	r, err := c.vfs.resolve(ctx, c.virtualPath(path), true)
	if err != nil {
		return err
	}
	creds := c.Credentials()
	if uid >= 0 && !creds.isRoot() {
		return verrno.New(verrno.EPERM, "chown", path, nil)
	}
	if err := c.requireOwner(r.rec); err != nil {
		return err
	}

	fields := vbackend.TouchFields{}
	if uid >= 0 {
		u := uint32(uid)
		fields.Uid = &u
	}
	if gid >= 0 {
		g := uint32(gid)
		fields.Gid = &g
	}
	if err := r.backend.Touch(ctx, r.rel, fields); err != nil {
		return err
	}
	c.vfs.emit(watch.OpChown, c.virtualPath(path))
	return nil
}

// Utimes updates path's atime/mtime, in milliseconds since the epoch.
// A negative value leaves the corresponding field unchanged.
func (c *Context) Utimes(ctx context.Context, path string, atimeMs, mtimeMs int64) error {
	r, err := c.vfs.resolve(ctx, c.virtualPath(path), true)
	if err != nil {
		return err
	}
	if err := c.vfs.checkAccess(c, r.rec, vinode.W_OK); err != nil {
		return err
	}

	fields := vbackend.TouchFields{}
	if atimeMs >= 0 {
		fields.AtimeMs = &atimeMs
	}
	if mtimeMs >= 0 {
		fields.MtimeMs = &mtimeMs
	}
	if err := r.backend.Touch(ctx, r.rel, fields); err != nil {
		return err
	}
	c.vfs.emit(watch.OpUtimes, c.virtualPath(path))
	return nil
}

func (c *Context) requireOwner(rec *vinode.Record) error {
	creds := c.Credentials()
	if creds.isRoot() || creds.Euid == rec.Uid {
		return nil
	}
	return verrno.New(verrno.EPERM, "chmod", "", nil)
}

// GetXattr, SetXattr, RemoveXattr, ListXattr pass through to the
// resolved backend; xattr access follows the same permission model as
// the owning file (read for Get/List, owner-or-root for Set/Remove).
func (c *Context) GetXattr(ctx context.Context, path, name string) ([]byte, error) {
	r, err := c.vfs.resolve(ctx, c.virtualPath(path), true)
	if err != nil {
		return nil, err
	}
	if err := c.vfs.checkAccess(c, r.rec, vinode.R_OK); err != nil {
		return nil, err
	}
	return r.backend.GetXattr(ctx, r.rel, name)
}

func (c *Context) SetXattr(ctx context.Context, path, name string, value []byte) error {
	r, err := c.vfs.resolve(ctx, c.virtualPath(path), true)
	if err != nil {
		return err
	}
	if err := c.requireOwner(r.rec); err != nil {
		return err
	}
	return r.backend.SetXattr(ctx, r.rel, name, value)
}

func (c *Context) RemoveXattr(ctx context.Context, path, name string) error {
	r, err := c.vfs.resolve(ctx, c.virtualPath(path), true)
	if err != nil {
		return err
	}
	if err := c.requireOwner(r.rec); err != nil {
		return err
	}
	return r.backend.RemoveXattr(ctx, r.rel, name)
}

func (c *Context) ListXattr(ctx context.Context, path string) ([]string, error) {
	r, err := c.vfs.resolve(ctx, c.virtualPath(path), true)
	if err != nil {
		return nil, err
	}
	if err := c.vfs.checkAccess(c, r.rec, vinode.R_OK); err != nil {
		return nil, err
	}
	return r.backend.ListXattr(ctx, r.rel)
}

// Statfs reports usage for the backend mounted at path.
func (c *Context) Statfs(ctx context.Context, path string) (vstore.Usage, error) {
	backend, _ := c.vfs.mounts.Resolve(c.virtualPath(path))
	return backend.Usage(ctx)
}
