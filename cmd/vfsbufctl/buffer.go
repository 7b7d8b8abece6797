package main

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/inodefs/corefs/clock"
	"github.com/inodefs/corefs/storefs"
	"github.com/inodefs/corefs/vfs"
	"github.com/inodefs/corefs/vmixin"
	"github.com/inodefs/corefs/vstore/singlebuffer"
)

// image is an open buffer file plus the store/FS stack assembled over
// its bytes. Mutations happen purely in the in-memory buffer; flush
// writes the whole image back and fsyncs it.
type image struct {
	path string
	buf  []byte

	store *singlebuffer.Store
	vfs   *vfs.VFS
}

func loadImage(path string) (*image, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return assembleImage(path, buf)
}

func assembleImage(path string, buf []byte) (*image, error) {
	store, err := singlebuffer.Open(buf, clock.RealClock{})
	if err != nil {
		return nil, err
	}
	fs, err := storefs.New(store, clock.RealClock{})
	if err != nil {
		return nil, err
	}
	fs.WithIDBits(config.FileSystem.InodeIDBits)

	backend := vmixin.NewMutexed(fs).WithWatchdog(config.Locking.WatchdogTimeout)
	v := vfs.NewVFS(backend, clock.RealClock{})
	v.SetACLEnabled(config.FileSystem.EnforceAcls)
	v.SetAccessCheckEnabled(config.FileSystem.CheckAccess)

	return &image{path: path, buf: buf, store: store, vfs: v}, nil
}

// flush syncs the store and writes the buffer back to the image file,
// fsynced, so a crash right after vfsbufctl exits can't lose the edit.
func (img *image) flush() error {
	if err := img.store.Sync(); err != nil {
		return err
	}
	f, err := os.OpenFile(img.path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteAt(img.buf, 0); err != nil {
		return err
	}
	if err := unix.Fsync(int(f.Fd())); err != nil {
		return fmt.Errorf("fsync %s: %w", img.path, err)
	}
	return nil
}
