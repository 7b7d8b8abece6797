package vfs

import (
	"context"
	"sync"

	"github.com/inodefs/corefs/vbackend"
	"github.com/inodefs/corefs/verrno"
	"github.com/inodefs/corefs/vinode"
	"github.com/inodefs/corefs/watch"
)

// openKey identifies an inode across every context's descriptor table:
// the backend it lives in plus its inode number.
type openKey struct {
	backend vbackend.Backend
	ino     uint64
}

// openFile is the shared state of all descriptors open on one inode.
// Its lookup count is incremented per Open and decremented per Close;
// at zero the entry leaves the VFS table, which is what finally frees
// an unlinked inode's detached content.
type openFile struct {
	lookups vinode.LookupCount

	mu  sync.Mutex
	det *detachedFile
}

// detachedFile is an unlinked inode's afterlife: a private copy of its
// content and metadata, shared by every descriptor still open on it.
type detachedFile struct {
	data []byte
	rec  *vinode.Record
}

// retainInode registers one more open descriptor on (backend, ino),
// creating the shared openFile on first open.
func (v *VFS) retainInode(backend vbackend.Backend, ino uint64) *openFile {
	key := openKey{backend: backend, ino: ino}
	v.openMu.Lock()
	defer v.openMu.Unlock()
	of, ok := v.openFiles[key]
	if !ok {
		of = &openFile{}
		of.lookups.Init(func() error {
			delete(v.openFiles, key)
			return nil
		})
		v.openFiles[key] = of
	}
	of.lookups.Inc()
	return of
}

func (v *VFS) releaseInode(of *openFile) {
	v.openMu.Lock()
	defer v.openMu.Unlock()
	_, _ = of.lookups.Dec(1)
}

// detachOpenFile snapshots (backend, rel)'s content and metadata into
// the shared openFile for ino, if any descriptor still has it open.
// Called just before the inode's final unlink commits.
func (v *VFS) detachOpenFile(ctx context.Context, backend vbackend.Backend, rel string, ino uint64) {
	v.openMu.Lock()
	of := v.openFiles[openKey{backend: backend, ino: ino}]
	v.openMu.Unlock()
	if of == nil {
		return
	}

	of.mu.Lock()
	defer of.mu.Unlock()
	if of.det != nil {
		return
	}
	rec, err := backend.Stat(ctx, rel, true)
	if err != nil {
		return
	}
	data := make([]byte, rec.Size)
	if rec.Size > 0 {
		if _, err := backend.Read(ctx, rel, data, 0); err != nil {
			return
		}
	}
	rec = rec.Clone()
	rec.Nlink = 0
	of.det = &detachedFile{data: data, rec: rec}
}

// Descriptor is open-file state returned by Context.Open: the backend
// and path it was opened against, the flags it was opened with, a
// current read/write position, and the stat snapshot taken at open
// time. Mirrors gcsfuse's per-handle fileHandle/dirHandle split,
// collapsed onto one type since this module's backends are not
// chunked.
type Descriptor struct {
	fd int

	mu sync.Mutex

	vfs         *VFS
	owner       ctxID
	backend     vbackend.Backend
	path        string // backend-relative, post mount resolution
	virtualPath string // as seen by the owning context, pre mount resolution
	flags       int
	position    int64
	statsSnap   *vinode.Record
	closed      bool

	file *openFile
}

// Fd returns the descriptor's numeric handle, stable for the lifetime
// of the open file.
func (d *Descriptor) Fd() int { return d.fd }

// Stat returns the stat snapshot taken when the descriptor was opened,
// or the live detached metadata once the file has been unlinked. Use
// Context.Stat for a live view of a linked file.
func (d *Descriptor) Stat() *vinode.Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.file.mu.Lock()
	defer d.file.mu.Unlock()
	if det := d.file.det; det != nil {
		return det.rec
	}
	return d.statsSnap
}

// Read reads up to len(buf) bytes starting at the descriptor's current
// position (or at pos, if non-negative, without moving the position).
// Reading past EOF returns 0 bytes and a nil error.
func (d *Descriptor) Read(ctx context.Context, buf []byte, pos int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, verrno.New(verrno.EBADF, "read", d.virtualPath, nil)
	}

	off := d.position
	if pos >= 0 {
		off = pos
	}

	var n int
	d.file.mu.Lock()
	if det := d.file.det; det != nil {
		if off < int64(len(det.data)) {
			n = copy(buf, det.data[off:])
		}
		det.rec.AtimeMs = d.vfs.clk.Now().UnixMilli()
		d.file.mu.Unlock()
	} else {
		d.file.mu.Unlock()
		var err error
		n, err = d.backend.Read(ctx, d.path, buf, off)
		if err != nil {
			return n, err
		}
	}
	if pos < 0 {
		d.position += int64(n)
	}
	return n, nil
}

// Write writes buf at the descriptor's current position (or at pos, if
// non-negative), honoring O_APPEND by forcing every write to the
// current end of file regardless of position.
func (d *Descriptor) Write(ctx context.Context, buf []byte, pos int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, verrno.New(verrno.EBADF, "write", d.virtualPath, nil)
	}

	off := d.position
	if pos >= 0 {
		off = pos
	}

	d.file.mu.Lock()
	if det := d.file.det; det != nil {
		if d.flags&vinode.O_APPEND != 0 {
			off = int64(len(det.data))
		}
		if end := off + int64(len(buf)); end > int64(len(det.data)) {
			grown := make([]byte, end)
			copy(grown, det.data)
			det.data = grown
		}
		n := copy(det.data[off:], buf)
		now := d.vfs.clk.Now().UnixMilli()
		det.rec.Size = uint64(len(det.data))
		det.rec.MtimeMs = now
		det.rec.CtimeMs = now
		d.file.mu.Unlock()
		if pos < 0 {
			d.position = off + int64(n)
		}
		return n, nil
	}
	d.file.mu.Unlock()

	if d.flags&vinode.O_APPEND != 0 {
		rec, err := d.backend.Stat(ctx, d.path, true)
		if err != nil {
			return 0, err
		}
		off = int64(rec.Size)
	}

	n, err := d.backend.Write(ctx, d.path, buf, off)
	if err != nil {
		return n, err
	}
	if pos < 0 {
		d.position = off + int64(n)
	}
	d.vfs.emit(watch.OpWrite, d.virtualPath)
	return n, nil
}

// Truncate resizes the open file to size bytes.
func (d *Descriptor) Truncate(ctx context.Context, size int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return verrno.New(verrno.EBADF, "truncate", d.virtualPath, nil)
	}

	d.file.mu.Lock()
	if det := d.file.det; det != nil {
		resized := make([]byte, size)
		copy(resized, det.data)
		det.data = resized
		now := d.vfs.clk.Now().UnixMilli()
		det.rec.Size = uint64(size)
		det.rec.MtimeMs = now
		det.rec.CtimeMs = now
		d.file.mu.Unlock()
		return nil
	}
	d.file.mu.Unlock()

	if err := d.backend.Truncate(ctx, d.path, size); err != nil {
		return err
	}
	d.vfs.emit(watch.OpWrite, d.virtualPath)
	return nil
}

// Sync flushes any buffered state for the open file to its backend.
func (d *Descriptor) Sync(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return verrno.New(verrno.EBADF, "fsync", d.virtualPath, nil)
	}
	d.file.mu.Lock()
	det := d.file.det
	d.file.mu.Unlock()
	if det != nil {
		return nil
	}
	return d.backend.Sync(ctx, d.path, nil, nil)
}

// Chmod changes the open file's permission bits.
func (d *Descriptor) Chmod(ctx context.Context, mode vinode.FileMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return verrno.New(verrno.EBADF, "chmod", d.virtualPath, nil)
	}

	d.file.mu.Lock()
	if det := d.file.det; det != nil {
		det.rec.Mode = det.rec.Mode&vinode.S_IFMT | mode.Perm()
		det.rec.CtimeMs = d.vfs.clk.Now().UnixMilli()
		d.file.mu.Unlock()
		return nil
	}
	d.file.mu.Unlock()

	newMode := d.statsSnap.Mode.Type() | mode.Perm()
	if err := d.backend.Touch(ctx, d.path, vbackend.TouchFields{Mode: &newMode}); err != nil {
		return err
	}
	d.vfs.emit(watch.OpChmod, d.virtualPath)
	return nil
}

// Chown changes the open file's owning uid/gid. A negative value
// leaves the corresponding field unchanged.
func (d *Descriptor) Chown(ctx context.Context, uid, gid int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return verrno.New(verrno.EBADF, "chown", d.virtualPath, nil)
	}

	d.file.mu.Lock()
	if det := d.file.det; det != nil {
		if uid >= 0 {
			det.rec.Uid = uint32(uid)
		}
		if gid >= 0 {
			det.rec.Gid = uint32(gid)
		}
		det.rec.CtimeMs = d.vfs.clk.Now().UnixMilli()
		d.file.mu.Unlock()
		return nil
	}
	d.file.mu.Unlock()

	fields := vbackend.TouchFields{}
	if uid >= 0 {
		u := uint32(uid)
		fields.Uid = &u
	}
	if gid >= 0 {
		g := uint32(gid)
		fields.Gid = &g
	}
	if err := d.backend.Touch(ctx, d.path, fields); err != nil {
		return err
	}
	d.vfs.emit(watch.OpChown, d.virtualPath)
	return nil
}

// Utimes updates the open file's atime/mtime, in milliseconds since
// the epoch. A negative value leaves the corresponding field unchanged.
func (d *Descriptor) Utimes(ctx context.Context, atimeMs, mtimeMs int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return verrno.New(verrno.EBADF, "utimes", d.virtualPath, nil)
	}

	d.file.mu.Lock()
	if det := d.file.det; det != nil {
		if atimeMs >= 0 {
			det.rec.AtimeMs = atimeMs
		}
		if mtimeMs >= 0 {
			det.rec.MtimeMs = mtimeMs
		}
		det.rec.CtimeMs = d.vfs.clk.Now().UnixMilli()
		d.file.mu.Unlock()
		return nil
	}
	d.file.mu.Unlock()

	fields := vbackend.TouchFields{}
	if atimeMs >= 0 {
		fields.AtimeMs = &atimeMs
	}
	if mtimeMs >= 0 {
		fields.MtimeMs = &mtimeMs
	}
	if err := d.backend.Touch(ctx, d.path, fields); err != nil {
		return err
	}
	d.vfs.emit(watch.OpUtimes, d.virtualPath)
	return nil
}

// Close releases the descriptor and drops its reference on the shared
// inode state. Closing an already-closed descriptor is a no-op.
func (d *Descriptor) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.vfs.ctxMu.Lock()
	delete(d.vfs.contexts[d.owner].descriptors, d.fd)
	d.vfs.ctxMu.Unlock()

	d.vfs.releaseInode(d.file)
}
