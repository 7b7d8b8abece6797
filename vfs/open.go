package vfs

import (
	"context"

	"github.com/inodefs/corefs/verrno"
	"github.com/inodefs/corefs/vinode"
)

// Open resolves path and returns a Descriptor, honoring O_CREAT,
// O_EXCL, O_TRUNC, O_APPEND, and O_DIRECTORY the way open(2) does.
// O_EXCL|O_CREAT fails EEXIST if the file already exists; O_DIRECTORY
// fails ENOTDIR on anything but a directory; a bare O_TRUNC truncates
// an existing regular file to zero length on open.
func (c *Context) Open(ctx context.Context, path string, flags int, mode vinode.FileMode) (*Descriptor, error) {
	virtual := c.virtualPath(path)

	r, err := c.vfs.resolve(ctx, virtual, true)
	if err != nil {
		if verrno.Of(err) != verrno.ENOENT || flags&vinode.O_CREAT == 0 {
			return nil, err
		}
		if _, cerr := c.CreateFile(ctx, path, mode); cerr != nil {
			return nil, cerr
		}
		r, err = c.vfs.resolve(ctx, virtual, true)
		if err != nil {
			return nil, err
		}
	} else if flags&(vinode.O_CREAT|vinode.O_EXCL) == vinode.O_CREAT|vinode.O_EXCL {
		return nil, verrno.New(verrno.EEXIST, "open", path, nil)
	}

	if flags&vinode.O_DIRECTORY != 0 && !r.rec.Mode.IsDir() {
		return nil, verrno.New(verrno.ENOTDIR, "open", path, nil)
	}

	want := wantedAccess(flags)
	if want != 0 {
		if err := c.vfs.checkAccess(c, r.rec, want); err != nil {
			return nil, err
		}
	}

	if flags&vinode.O_TRUNC != 0 && r.rec.Mode.IsRegular() {
		if err := r.backend.Truncate(ctx, r.rel, 0); err != nil {
			return nil, err
		}
	}

	file := c.vfs.retainInode(r.backend, r.rec.Ino)

	c.vfs.ctxMu.Lock()
	n := c.vfs.contexts[c.id]
	fd := n.nextFD
	n.nextFD++
	d := &Descriptor{
		fd:          fd,
		vfs:         c.vfs,
		owner:       c.id,
		backend:     r.backend,
		path:        r.rel,
		virtualPath: virtual,
		flags:       flags,
		statsSnap:   r.rec,
		file:        file,
	}
	n.descriptors[fd] = d
	c.vfs.ctxMu.Unlock()

	return d, nil
}

// wantedAccess derives the R_OK/W_OK check Open should run from the
// open flags' access-mode bits.
func wantedAccess(flags int) vinode.FileMode {
	switch flags & accessModeMask {
	case vinode.O_WRONLY:
		return vinode.W_OK
	case vinode.O_RDWR:
		return vinode.R_OK | vinode.W_OK
	default:
		return vinode.R_OK
	}
}

// OpenFlagString opens path the way a flag string like "r"/"w+"/"a"
// would with a libc fopen call: see ParseFlagString for the grammar.
func (c *Context) OpenFlagString(ctx context.Context, path, flagString string, mode vinode.FileMode) (*Descriptor, error) {
	flags, err := ParseFlagString(flagString)
	if err != nil {
		return nil, err
	}
	return c.Open(ctx, path, flags, mode)
}
