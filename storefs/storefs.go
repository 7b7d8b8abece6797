// Package storefs turns any vstore.Store into a full hierarchical file
// system, implementing vbackend.Backend. It owns the
// inode allocator, the root-inode bootstrap, and the directory-blob
// encoding; everything else is path resolution over those primitives,
// the same separation of concerns gcsfuse's fs/inode package draws
// between an inode table and path-based lookups, here collapsed onto a
// flat key-value store instead of a GCS bucket.
package storefs

import (
	"context"
	"math/rand/v2"
	"strings"

	"github.com/inodefs/corefs/clock"
	"github.com/inodefs/corefs/vbackend"
	"github.com/inodefs/corefs/verrno"
	"github.com/inodefs/corefs/vinode"
	"github.com/inodefs/corefs/vpath"
	"github.com/inodefs/corefs/vstore"
)

const rootIno uint64 = 0
const rootDataID uint64 = 1

// defaultIDBits is the width of the random inode ID space.
const defaultIDBits = 48

// FS is a vbackend.Backend layered over a vstore.Store. Every exported
// method begins its own transaction and commits or aborts it before
// returning, so calls are individually atomic; callers needing
// multi-call linearizability on one path should wrap an FS in
// vmixin.Mutexed.
type FS struct {
	store vstore.Store
	clock clock.Clock

	defaultDirMode  vinode.FileMode
	defaultFileMode vinode.FileMode

	idMask uint64
}

var _ vbackend.Backend = (*FS)(nil)

// New wraps store as a Backend, creating the root directory if the
// store is empty.
func New(store vstore.Store, clk clock.Clock) (*FS, error) {
	if clk == nil {
		clk = clock.RealClock{}
	}
	fs := &FS{
		store:           store,
		clock:           clk,
		defaultDirMode:  vinode.S_IFDIR | 0o755,
		defaultFileMode: vinode.S_IFREG | 0o644,
		idMask:          (uint64(1) << defaultIDBits) - 1,
	}
	if err := fs.checkRoot(); err != nil {
		return nil, err
	}
	return fs, nil
}

// checkRoot creates the root directory's inode and empty directory
// blob if this store has never been bootstrapped.
func (fs *FS) checkRoot() error {
	txn, err := fs.store.Begin()
	if err != nil {
		return err
	}
	_, ok, err := txn.Get(rootIno)
	if err != nil {
		_ = txn.Abort()
		return err
	}
	if ok {
		return txn.Abort()
	}

	now := fs.clock.Now().UnixMilli()
	root := vinode.New(rootIno, rootDataID, fs.defaultDirMode, 0, 0, now)
	root.Nlink = 2

	if err := txn.Set(rootIno, root.Marshal(), true); err != nil {
		_ = txn.Abort()
		return err
	}
	if err := txn.Set(rootDataID, newDirectory().marshal(), false); err != nil {
		_ = txn.Abort()
		return err
	}
	return txn.Commit()
}

// WithIDBits narrows or widens the random inode ID space. Must be
// called before the FS hands out any ids.
func (fs *FS) WithIDBits(bits int) *FS {
	if bits > 0 && bits <= 48 {
		fs.idMask = (uint64(1) << bits) - 1
	}
	return fs
}

// allocateID picks a random nonzero id within the configured width,
// absent from txn's current key space, retrying on collision.
func (fs *FS) allocateID(txn vstore.Txn) (uint64, error) {
	for {
		id := rand.Uint64() & fs.idMask
		if id == rootIno || id == rootDataID {
			continue
		}
		_, ok, err := txn.Get(id)
		if err != nil {
			return 0, err
		}
		if !ok {
			return id, nil
		}
	}
}

func getRecord(txn vstore.Txn, ino uint64) (*vinode.Record, error) {
	raw, ok, err := txn.Get(ino)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, verrno.New(verrno.ENOENT, "stat", "", nil)
	}
	return vinode.Unmarshal(raw)
}

func getDirectory(txn vstore.Txn, rec *vinode.Record) (*directory, error) {
	raw, ok, err := txn.Get(rec.Data)
	if err != nil {
		return nil, err
	}
	if !ok {
		return newDirectory(), nil
	}
	return unmarshalDirectory(raw)
}

func putRecord(txn vstore.Txn, rec *vinode.Record) error {
	return txn.Set(rec.Ino, rec.Marshal(), true)
}

func putDirectory(txn vstore.Txn, rec *vinode.Record, d *directory) error {
	return txn.Set(rec.Data, d.marshal(), false)
}

// resolve walks path from the root, returning the final record and,
// if path is not "/", its parent's record and the leaf name. It never
// follows symlinks: storefs stores symlink targets as regular data
// blobs and leaves resolution policy to the vfs layer, so the
// followLink argument of Stat is unused here and kept for interface
// symmetry with vbackend.Backend.
func resolve(txn vstore.Txn, path string) (rec *vinode.Record, parent *vinode.Record, name string, err error) {
	path = vpath.Normalize(path)
	if vpath.IsRoot(path) {
		rec, err = getRecord(txn, rootIno)
		return rec, nil, "", err
	}

	segs := vpath.Segments(path)
	cur, err := getRecord(txn, rootIno)
	if err != nil {
		return nil, nil, "", err
	}

	for i, seg := range segs {
		if !cur.Mode.IsDir() {
			return nil, nil, "", verrno.New(verrno.ENOTDIR, "lookup", path, nil)
		}
		dir, derr := getDirectory(txn, cur)
		if derr != nil {
			return nil, nil, "", derr
		}
		childIno, ok := dir.lookup(seg)
		if !ok {
			if i == len(segs)-1 {
				return nil, cur, seg, verrno.New(verrno.ENOENT, "lookup", path, nil)
			}
			return nil, nil, "", verrno.New(verrno.ENOENT, "lookup", path, nil)
		}
		child, cerr := getRecord(txn, childIno)
		if cerr != nil {
			return nil, nil, "", cerr
		}
		if i == len(segs)-1 {
			return child, cur, seg, nil
		}
		cur = child
	}
	return nil, nil, "", verrno.New(verrno.ENOENT, "lookup", path, nil)
}

func (fs *FS) Stat(ctx context.Context, path string, followLink bool) (*vinode.Record, error) {
	txn, err := fs.store.Begin()
	if err != nil {
		return nil, err
	}
	defer txn.Abort()

	rec, _, _, err := resolve(txn, path)
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

func (fs *FS) create(ctx context.Context, path string, opts vbackend.CreateOpts, mode vinode.FileMode, dirBlob bool) (*vinode.Record, error) {
	txn, err := fs.store.Begin()
	if err != nil {
		return nil, err
	}

	existing, parent, name, rerr := resolve(txn, path)
	if rerr == nil && existing != nil {
		_ = txn.Abort()
		return nil, verrno.New(verrno.EEXIST, "create", path, nil)
	}
	if parent == nil {
		_ = txn.Abort()
		return nil, verrno.New(verrno.ENOENT, "create", vpath.Dirname(path), nil)
	}
	if !parent.Mode.IsDir() {
		_ = txn.Abort()
		return nil, verrno.New(verrno.ENOTDIR, "create", vpath.Dirname(path), nil)
	}

	ino, err := fs.allocateID(txn)
	if err != nil {
		_ = txn.Abort()
		return nil, err
	}
	dataID, err := fs.allocateID(txn)
	if err != nil {
		_ = txn.Abort()
		return nil, err
	}

	now := fs.clock.Now().UnixMilli()
	rec := vinode.New(ino, dataID, mode, opts.Uid, opts.Gid, now)
	if dirBlob {
		rec.Nlink = 2
	}

	if err := putRecord(txn, rec); err != nil {
		_ = txn.Abort()
		return nil, err
	}
	var initial []byte
	if dirBlob {
		initial = newDirectory().marshal()
	}
	if err := txn.Set(dataID, initial, false); err != nil {
		_ = txn.Abort()
		return nil, err
	}

	pdir, err := getDirectory(txn, parent)
	if err != nil {
		_ = txn.Abort()
		return nil, err
	}
	pdir.add(name, ino)
	if err := putDirectory(txn, parent, pdir); err != nil {
		_ = txn.Abort()
		return nil, err
	}
	parent.MtimeMs = now
	parent.CtimeMs = now
	if dirBlob {
		parent.Nlink++
	}
	if err := putRecord(txn, parent); err != nil {
		_ = txn.Abort()
		return nil, err
	}

	if err := txn.Commit(); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

func (fs *FS) CreateFile(ctx context.Context, path string, opts vbackend.CreateOpts) (*vinode.Record, error) {
	perm := fs.defaultFileMode.Perm()
	if opts.Mode != 0 {
		perm = opts.Mode.Perm()
	}
	return fs.create(ctx, path, opts, vinode.S_IFREG|perm, false)
}

func (fs *FS) Mkdir(ctx context.Context, path string, opts vbackend.CreateOpts) (*vinode.Record, error) {
	perm := fs.defaultDirMode.Perm()
	if opts.Mode != 0 {
		perm = opts.Mode.Perm()
	}
	return fs.create(ctx, path, opts, vinode.S_IFDIR|perm, true)
}

func (fs *FS) Symlink(ctx context.Context, path, target string, opts vbackend.CreateOpts) (*vinode.Record, error) {
	txn, err := fs.store.Begin()
	if err != nil {
		return nil, err
	}
	existing, parent, name, rerr := resolve(txn, path)
	if rerr == nil && existing != nil {
		_ = txn.Abort()
		return nil, verrno.New(verrno.EEXIST, "symlink", path, nil)
	}
	if parent == nil {
		_ = txn.Abort()
		return nil, verrno.New(verrno.ENOENT, "symlink", vpath.Dirname(path), nil)
	}

	ino, err := fs.allocateID(txn)
	if err != nil {
		_ = txn.Abort()
		return nil, err
	}
	dataID, err := fs.allocateID(txn)
	if err != nil {
		_ = txn.Abort()
		return nil, err
	}

	now := fs.clock.Now().UnixMilli()
	rec := vinode.New(ino, dataID, vinode.S_IFLNK|0o777, opts.Uid, opts.Gid, now)
	rec.Size = uint64(len(target))

	if err := putRecord(txn, rec); err != nil {
		_ = txn.Abort()
		return nil, err
	}
	if err := txn.Set(dataID, []byte(target), false); err != nil {
		_ = txn.Abort()
		return nil, err
	}

	pdir, err := getDirectory(txn, parent)
	if err != nil {
		_ = txn.Abort()
		return nil, err
	}
	pdir.add(name, ino)
	if err := putDirectory(txn, parent, pdir); err != nil {
		_ = txn.Abort()
		return nil, err
	}
	parent.MtimeMs = now
	parent.CtimeMs = now
	if err := putRecord(txn, parent); err != nil {
		_ = txn.Abort()
		return nil, err
	}

	if err := txn.Commit(); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

func (fs *FS) ReadLink(ctx context.Context, path string) (string, error) {
	txn, err := fs.store.Begin()
	if err != nil {
		return "", err
	}
	defer txn.Abort()

	rec, _, _, err := resolve(txn, path)
	if err != nil {
		return "", err
	}
	if !rec.Mode.IsSymlink() {
		return "", verrno.New(verrno.EINVAL, "readlink", path, nil)
	}
	raw, ok, err := txn.Get(rec.Data)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return string(raw), nil
}

func (fs *FS) removeEntry(ctx context.Context, path string, wantDir bool) error {
	txn, err := fs.store.Begin()
	if err != nil {
		return err
	}

	rec, parent, name, rerr := resolve(txn, path)
	if rerr != nil {
		_ = txn.Abort()
		return rerr
	}
	if parent == nil {
		_ = txn.Abort()
		return verrno.New(verrno.EBUSY, "remove", path, nil) // attempt to remove root
	}
	if wantDir && !rec.Mode.IsDir() {
		_ = txn.Abort()
		return verrno.New(verrno.ENOTDIR, "rmdir", path, nil)
	}
	if !wantDir && rec.Mode.IsDir() {
		_ = txn.Abort()
		return verrno.New(verrno.EISDIR, "unlink", path, nil)
	}
	if wantDir {
		dir, derr := getDirectory(txn, rec)
		if derr != nil {
			_ = txn.Abort()
			return derr
		}
		if !dir.empty() {
			_ = txn.Abort()
			return verrno.New(verrno.ENOTEMPTY, "rmdir", path, nil)
		}
	}

	pdir, err := getDirectory(txn, parent)
	if err != nil {
		_ = txn.Abort()
		return err
	}
	pdir.remove(name)
	if err := putDirectory(txn, parent, pdir); err != nil {
		_ = txn.Abort()
		return err
	}

	now := fs.clock.Now().UnixMilli()
	parent.MtimeMs = now
	parent.CtimeMs = now
	if wantDir {
		parent.Nlink--
	}
	if err := putRecord(txn, parent); err != nil {
		_ = txn.Abort()
		return err
	}

	rec.Nlink--
	if rec.Nlink == 0 {
		if err := txn.Delete(rec.Ino); err != nil {
			_ = txn.Abort()
			return err
		}
		if err := txn.Delete(rec.Data); err != nil {
			_ = txn.Abort()
			return err
		}
	} else {
		if err := putRecord(txn, rec); err != nil {
			_ = txn.Abort()
			return err
		}
	}

	return txn.Commit()
}

func (fs *FS) Unlink(ctx context.Context, path string) error {
	return fs.removeEntry(ctx, path, false)
}

func (fs *FS) Rmdir(ctx context.Context, path string) error {
	return fs.removeEntry(ctx, path, true)
}

func (fs *FS) Rename(ctx context.Context, oldPath, newPath string) error {
	oldPath = vpath.Normalize(oldPath)
	newPath = vpath.Normalize(newPath)
	if newPath == oldPath {
		return nil
	}
	if strings.HasPrefix(newPath+"/", oldPath+"/") && oldPath != "/" {
		return verrno.NewDest(verrno.EBUSY, "rename", oldPath, newPath, nil)
	}

	txn, err := fs.store.Begin()
	if err != nil {
		return err
	}

	rec, oldParent, oldName, rerr := resolve(txn, oldPath)
	if rerr != nil {
		_ = txn.Abort()
		return rerr
	}
	if oldParent == nil {
		_ = txn.Abort()
		return verrno.New(verrno.EBUSY, "rename", oldPath, nil)
	}

	destExisting, newParent, newName, derr := resolve(txn, newPath)
	if derr != nil && verrno.Of(derr) != verrno.ENOENT {
		_ = txn.Abort()
		return derr
	}
	if newParent == nil {
		_ = txn.Abort()
		return verrno.New(verrno.ENOENT, "rename", vpath.Dirname(newPath), nil)
	}
	if !newParent.Mode.IsDir() {
		_ = txn.Abort()
		return verrno.New(verrno.ENOTDIR, "rename", vpath.Dirname(newPath), nil)
	}
	if destExisting != nil {
		if destExisting.Mode.IsDir() && !rec.Mode.IsDir() {
			_ = txn.Abort()
			return verrno.New(verrno.EISDIR, "rename", newPath, nil)
		}
		if !destExisting.Mode.IsDir() && rec.Mode.IsDir() {
			_ = txn.Abort()
			return verrno.New(verrno.ENOTDIR, "rename", newPath, nil)
		}
	}

	odir, err := getDirectory(txn, oldParent)
	if err != nil {
		_ = txn.Abort()
		return err
	}
	ndir := odir
	if newParent.Ino != oldParent.Ino {
		ndir, err = getDirectory(txn, newParent)
		if err != nil {
			_ = txn.Abort()
			return err
		}
	}

	ndir.add(newName, rec.Ino)
	if err := putDirectory(txn, newParent, ndir); err != nil {
		_ = txn.Abort()
		return err
	}
	odir.remove(oldName)
	if newParent.Ino != oldParent.Ino {
		if err := putDirectory(txn, oldParent, odir); err != nil {
			_ = txn.Abort()
			return err
		}
	}

	now := fs.clock.Now().UnixMilli()
	oldParent.MtimeMs, oldParent.CtimeMs = now, now
	newParent.MtimeMs, newParent.CtimeMs = now, now
	if err := putRecord(txn, oldParent); err != nil {
		_ = txn.Abort()
		return err
	}
	if newParent.Ino != oldParent.Ino {
		if err := putRecord(txn, newParent); err != nil {
			_ = txn.Abort()
			return err
		}
	}

	return txn.Commit()
}

func (fs *FS) Link(ctx context.Context, src, dst string) error {
	txn, err := fs.store.Begin()
	if err != nil {
		return err
	}

	rec, _, _, rerr := resolve(txn, src)
	if rerr != nil {
		_ = txn.Abort()
		return rerr
	}
	if rec.Mode.IsDir() {
		_ = txn.Abort()
		return verrno.New(verrno.EPERM, "link", src, nil)
	}

	existing, parent, name, derr := resolve(txn, dst)
	if derr == nil && existing != nil {
		_ = txn.Abort()
		return verrno.New(verrno.EEXIST, "link", dst, nil)
	}
	if parent == nil {
		_ = txn.Abort()
		return verrno.New(verrno.ENOENT, "link", vpath.Dirname(dst), nil)
	}

	pdir, err := getDirectory(txn, parent)
	if err != nil {
		_ = txn.Abort()
		return err
	}
	pdir.add(name, rec.Ino)
	if err := putDirectory(txn, parent, pdir); err != nil {
		_ = txn.Abort()
		return err
	}

	rec.Nlink++
	now := fs.clock.Now().UnixMilli()
	rec.CtimeMs = now
	parent.MtimeMs, parent.CtimeMs = now, now
	if err := putRecord(txn, rec); err != nil {
		_ = txn.Abort()
		return err
	}
	if err := putRecord(txn, parent); err != nil {
		_ = txn.Abort()
		return err
	}

	return txn.Commit()
}

func (fs *FS) Read(ctx context.Context, path string, buf []byte, offset int64) (int, error) {
	txn, err := fs.store.Begin()
	if err != nil {
		return 0, err
	}
	defer txn.Abort()

	rec, _, _, rerr := resolve(txn, path)
	if rerr != nil {
		return 0, rerr
	}
	if rec.Mode.IsDir() {
		return 0, verrno.New(verrno.EISDIR, "read", path, nil)
	}

	data, ok, err := txn.Get(rec.Data)
	if err != nil {
		return 0, err
	}
	if !ok || offset >= int64(len(data)) {
		return 0, nil
	}
	n := copy(buf, data[offset:])
	return n, nil
}

func (fs *FS) Write(ctx context.Context, path string, buf []byte, offset int64) (int, error) {
	txn, err := fs.store.Begin()
	if err != nil {
		return 0, err
	}

	rec, _, _, rerr := resolve(txn, path)
	if rerr != nil {
		_ = txn.Abort()
		return 0, rerr
	}
	if rec.Mode.IsDir() {
		_ = txn.Abort()
		return 0, verrno.New(verrno.EISDIR, "write", path, nil)
	}

	data, _, err := txn.Get(rec.Data)
	if err != nil {
		_ = txn.Abort()
		return 0, err
	}

	end := offset + int64(len(buf))
	if end > int64(len(data)) {
		grown := make([]byte, end)
		copy(grown, data)
		data = grown
	}
	copy(data[offset:end], buf)

	if err := txn.Set(rec.Data, data, false); err != nil {
		_ = txn.Abort()
		return 0, err
	}

	now := fs.clock.Now().UnixMilli()
	rec.Size = uint64(len(data))
	rec.MtimeMs = now
	rec.CtimeMs = now
	if err := putRecord(txn, rec); err != nil {
		_ = txn.Abort()
		return 0, err
	}

	if err := txn.Commit(); err != nil {
		return 0, err
	}
	return len(buf), nil
}

func (fs *FS) Truncate(ctx context.Context, path string, size int64) error {
	txn, err := fs.store.Begin()
	if err != nil {
		return err
	}

	rec, _, _, rerr := resolve(txn, path)
	if rerr != nil {
		_ = txn.Abort()
		return rerr
	}
	if rec.Mode.IsDir() {
		_ = txn.Abort()
		return verrno.New(verrno.EISDIR, "truncate", path, nil)
	}

	data, _, err := txn.Get(rec.Data)
	if err != nil {
		_ = txn.Abort()
		return err
	}
	resized := make([]byte, size)
	copy(resized, data)

	if err := txn.Set(rec.Data, resized, false); err != nil {
		_ = txn.Abort()
		return err
	}

	now := fs.clock.Now().UnixMilli()
	rec.Size = uint64(size)
	rec.MtimeMs = now
	rec.CtimeMs = now
	if err := putRecord(txn, rec); err != nil {
		_ = txn.Abort()
		return err
	}

	return txn.Commit()
}

// Sync commits externally-supplied bytes and metadata for an open
// handle in one transaction.
func (fs *FS) Sync(ctx context.Context, path string, data []byte, stats *vinode.Record) error {
	txn, err := fs.store.Begin()
	if err != nil {
		return err
	}

	rec, _, _, rerr := resolve(txn, path)
	if rerr != nil {
		_ = txn.Abort()
		return rerr
	}

	if data != nil {
		if err := txn.Set(rec.Data, data, false); err != nil {
			_ = txn.Abort()
			return err
		}
		rec.Size = uint64(len(data))
	}
	if stats != nil {
		rec.Mode = stats.Mode
		rec.Uid = stats.Uid
		rec.Gid = stats.Gid
		rec.AtimeMs = stats.AtimeMs
		rec.MtimeMs = stats.MtimeMs
		rec.CtimeMs = stats.CtimeMs
		rec.Attributes = stats.Attributes.Clone()
	}
	if err := putRecord(txn, rec); err != nil {
		_ = txn.Abort()
		return err
	}

	return txn.Commit()
}

func (fs *FS) Touch(ctx context.Context, path string, fields vbackend.TouchFields) error {
	txn, err := fs.store.Begin()
	if err != nil {
		return err
	}

	rec, _, _, rerr := resolve(txn, path)
	if rerr != nil {
		_ = txn.Abort()
		return rerr
	}

	if fields.Mode != nil {
		rec.Mode = *fields.Mode
	}
	if fields.Uid != nil {
		rec.Uid = *fields.Uid
	}
	if fields.Gid != nil {
		rec.Gid = *fields.Gid
	}
	if fields.AtimeMs != nil {
		rec.AtimeMs = *fields.AtimeMs
	}
	if fields.MtimeMs != nil {
		rec.MtimeMs = *fields.MtimeMs
	}
	if fields.CtimeMs != nil {
		rec.CtimeMs = *fields.CtimeMs
	}
	if fields.BirthtimeMs != nil {
		rec.BirthtimeMs = *fields.BirthtimeMs
	}
	if fields.CtimeMs == nil {
		rec.CtimeMs = fs.clock.Now().UnixMilli()
	}

	if err := putRecord(txn, rec); err != nil {
		_ = txn.Abort()
		return err
	}
	return txn.Commit()
}

func (fs *FS) Readdir(ctx context.Context, path string) ([]vbackend.Dirent, error) {
	txn, err := fs.store.Begin()
	if err != nil {
		return nil, err
	}
	defer txn.Abort()

	rec, _, _, rerr := resolve(txn, path)
	if rerr != nil {
		return nil, rerr
	}
	if !rec.Mode.IsDir() {
		return nil, verrno.New(verrno.ENOTDIR, "readdir", path, nil)
	}

	dir, derr := getDirectory(txn, rec)
	if derr != nil {
		return nil, derr
	}

	out := make([]vbackend.Dirent, 0, len(dir.entries))
	for _, e := range dir.entries {
		child, cerr := getRecord(txn, e.Ino)
		if cerr != nil {
			return nil, cerr
		}
		out = append(out, vbackend.Dirent{Name: e.Name, Ino: e.Ino, Type: vinode.DirentType(child.Mode)})
	}
	return out, nil
}

func (fs *FS) GetXattr(ctx context.Context, path, name string) ([]byte, error) {
	txn, err := fs.store.Begin()
	if err != nil {
		return nil, err
	}
	defer txn.Abort()

	rec, _, _, rerr := resolve(txn, path)
	if rerr != nil {
		return nil, rerr
	}
	v, ok := rec.Attributes.Get(name)
	if !ok {
		return nil, verrno.New(verrno.ENOTSUP, "getxattr", path, nil)
	}
	return v, nil
}

func (fs *FS) SetXattr(ctx context.Context, path, name string, value []byte) error {
	txn, err := fs.store.Begin()
	if err != nil {
		return err
	}

	rec, _, _, rerr := resolve(txn, path)
	if rerr != nil {
		_ = txn.Abort()
		return rerr
	}
	rec.Attributes.Set(name, value)
	rec.CtimeMs = fs.clock.Now().UnixMilli()
	if err := putRecord(txn, rec); err != nil {
		_ = txn.Abort()
		return err
	}
	return txn.Commit()
}

func (fs *FS) RemoveXattr(ctx context.Context, path, name string) error {
	txn, err := fs.store.Begin()
	if err != nil {
		return err
	}

	rec, _, _, rerr := resolve(txn, path)
	if rerr != nil {
		_ = txn.Abort()
		return rerr
	}
	if _, ok := rec.Attributes.Get(name); !ok {
		_ = txn.Abort()
		return verrno.New(verrno.ENOTSUP, "removexattr", path, nil)
	}
	rec.Attributes.Delete(name)
	rec.CtimeMs = fs.clock.Now().UnixMilli()
	if err := putRecord(txn, rec); err != nil {
		_ = txn.Abort()
		return err
	}
	return txn.Commit()
}

func (fs *FS) ListXattr(ctx context.Context, path string) ([]string, error) {
	txn, err := fs.store.Begin()
	if err != nil {
		return nil, err
	}
	defer txn.Abort()

	rec, _, _, rerr := resolve(txn, path)
	if rerr != nil {
		return nil, rerr
	}
	return rec.Attributes.Names(), nil
}

func (fs *FS) Usage(ctx context.Context) (vstore.Usage, error) {
	return fs.store.Usage()
}
