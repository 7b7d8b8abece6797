// Package vbackend defines the path-addressed file system interface
// that both StoreFS (storefs.FS) and the copy-on-write overlay
// (overlay.FS) implement, and that the Mutexed mixin (vmixin.Mutexed)
// wraps. The VFS layer (package vfs) mounts values of this interface
// at mount points and dispatches normalized paths to them.
package vbackend

import (
	"context"

	"github.com/inodefs/corefs/vinode"
	"github.com/inodefs/corefs/vstore"
)

// CreateOpts carries the attributes a newly-minted inode should take,
// mirroring gcsfuse's fuseops.InodeAttributes passed into
// inode.NewDirInode/NewFileInode.
type CreateOpts struct {
	Mode vinode.FileMode
	Uid  uint32
	Gid  uint32
}

// TouchFields selects which metadata fields Touch should update; a nil
// pointer field means "leave unchanged".
type TouchFields struct {
	Mode        *vinode.FileMode
	Uid         *uint32
	Gid         *uint32
	AtimeMs     *int64
	MtimeMs     *int64
	CtimeMs     *int64
	BirthtimeMs *int64
}

// Dirent is one entry returned by Readdir.
type Dirent struct {
	Name string
	Ino  uint64
	Type vinode.DirType
}

// Backend is the path-addressed operation set a mounted file system
// backend must implement. All paths are pre-normalized, absolute, and
// relative to the backend's own root (the VFS layer has already
// stripped the mount prefix).
type Backend interface {
	// Stat resolves path to an inode record. lstat semantics (don't
	// follow a trailing symlink) are controlled by followLink.
	Stat(ctx context.Context, path string, followLink bool) (*vinode.Record, error)

	CreateFile(ctx context.Context, path string, opts CreateOpts) (*vinode.Record, error)
	Mkdir(ctx context.Context, path string, opts CreateOpts) (*vinode.Record, error)
	Symlink(ctx context.Context, path, target string, opts CreateOpts) (*vinode.Record, error)

	Unlink(ctx context.Context, path string) error
	Rmdir(ctx context.Context, path string) error
	Rename(ctx context.Context, oldPath, newPath string) error
	Link(ctx context.Context, src, dst string) error
	ReadLink(ctx context.Context, path string) (string, error)

	Read(ctx context.Context, path string, buf []byte, offset int64) (n int, err error)
	Write(ctx context.Context, path string, buf []byte, offset int64) (n int, err error)
	Truncate(ctx context.Context, path string, size int64) error

	Sync(ctx context.Context, path string, data []byte, stats *vinode.Record) error
	Touch(ctx context.Context, path string, fields TouchFields) error

	Readdir(ctx context.Context, path string) ([]Dirent, error)

	GetXattr(ctx context.Context, path, name string) ([]byte, error)
	SetXattr(ctx context.Context, path, name string, value []byte) error
	RemoveXattr(ctx context.Context, path, name string) error
	ListXattr(ctx context.Context, path string) ([]string, error)

	Usage(ctx context.Context) (vstore.Usage, error)
}
