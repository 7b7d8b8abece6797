package vfs_test

import (
	"context"
	"testing"

	"github.com/inodefs/corefs/clock"
	"github.com/inodefs/corefs/storefs"
	"github.com/inodefs/corefs/verrno"
	"github.com/inodefs/corefs/vfs"
	"github.com/inodefs/corefs/vinode"
	"github.com/inodefs/corefs/vstore/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVFS(t *testing.T) *vfs.VFS {
	t.Helper()
	fs, err := storefs.New(memstore.New(), clock.RealClock{})
	require.NoError(t, err)
	return vfs.NewVFS(fs, clock.RealClock{})
}

func TestCreateAndReadRoundTrips(t *testing.T) {
	ctx := context.Background()
	v := newTestVFS(t)
	root := v.Root()

	d, err := root.Open(ctx, "/hello.txt", vinode.O_CREAT|vinode.O_RDWR, 0o644)
	require.NoError(t, err)
	defer d.Close()

	n, err := d.Write(ctx, []byte("hi there"), -1)
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	buf := make([]byte, 8)
	n, err = d.Read(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hi there", string(buf[:n]))
}

func TestOpenExclOnExistingFileFailsEEXIST(t *testing.T) {
	ctx := context.Background()
	v := newTestVFS(t)
	root := v.Root()

	_, err := root.CreateFile(ctx, "/f", 0o644)
	require.NoError(t, err)

	_, err = root.Open(ctx, "/f", vinode.O_CREAT|vinode.O_EXCL, 0o644)
	assert.ErrorIs(t, err, verrno.EEXIST)
}

func TestMkdirOnOccupiedNameFailsEEXIST(t *testing.T) {
	ctx := context.Background()
	v := newTestVFS(t)
	root := v.Root()

	_, err := root.Mkdir(ctx, "/d", 0o755)
	require.NoError(t, err)

	_, err = root.Mkdir(ctx, "/d", 0o755)
	assert.ErrorIs(t, err, verrno.EEXIST)
}

func TestSymlinkResolutionFollowsToTarget(t *testing.T) {
	ctx := context.Background()
	v := newTestVFS(t)
	root := v.Root()

	_, err := root.CreateFile(ctx, "/real", 0o644)
	require.NoError(t, err)
	_, err = root.Symlink(ctx, "/link", "/real", 0o777)
	require.NoError(t, err)

	statViaLink, err := root.Stat(ctx, "/link")
	require.NoError(t, err)
	assert.True(t, statViaLink.Mode.IsRegular())

	lstat, err := root.Lstat(ctx, "/link")
	require.NoError(t, err)
	assert.True(t, lstat.Mode.IsSymlink())
}

func TestSelfReferentialSymlinkFailsELOOP(t *testing.T) {
	ctx := context.Background()
	v := newTestVFS(t)
	root := v.Root()

	_, err := root.Symlink(ctx, "/loop", "/loop", 0o777)
	require.NoError(t, err)

	_, err = root.Stat(ctx, "/loop")
	assert.ErrorIs(t, err, verrno.ELOOP)
}

func TestPermissionDeniedForNonOwnerWithoutWriteBit(t *testing.T) {
	ctx := context.Background()
	v := newTestVFS(t)
	root := v.Root()
	require.NoError(t, root.Chmod(ctx, "/", 0o777))
	root.SetCredentials(vfs.Credentials{Uid: 100, Euid: 100, Gid: 100, Egid: 100})

	_, err := root.CreateFile(ctx, "/owned", 0o600)
	require.NoError(t, err)

	other := v.Root()
	other.SetCredentials(vfs.Credentials{Uid: 200, Euid: 200, Gid: 200, Egid: 200})
	_, err = other.Open(ctx, "/owned", vinode.O_RDWR, 0)
	assert.ErrorIs(t, err, verrno.EACCES)
}

func TestChrootClampsPathsToSubtree(t *testing.T) {
	ctx := context.Background()
	v := newTestVFS(t)
	root := v.Root()

	_, err := root.Mkdir(ctx, "/jail", 0o755)
	require.NoError(t, err)
	_, err = root.CreateFile(ctx, "/jail/inside.txt", 0o644)
	require.NoError(t, err)
	_, err = root.CreateFile(ctx, "/outside.txt", 0o644)
	require.NoError(t, err)

	jailed := root.Chroot("/jail")

	_, err = jailed.Stat(ctx, "/inside.txt")
	require.NoError(t, err)

	_, err = jailed.Stat(ctx, "/../outside.txt")
	assert.ErrorIs(t, err, verrno.ENOENT)
}

func TestParseFlagString(t *testing.T) {
	flags, err := vfs.ParseFlagString("r")
	require.NoError(t, err)
	assert.Equal(t, vinode.O_RDONLY, flags)

	flags, err = vfs.ParseFlagString("w+")
	require.NoError(t, err)
	assert.Equal(t, vinode.O_CREAT|vinode.O_TRUNC|vinode.O_RDWR, flags)

	_, err = vfs.ParseFlagString("zz")
	assert.ErrorIs(t, err, verrno.EINVAL)
}

func TestMountResolvesLongestPrefix(t *testing.T) {
	ctx := context.Background()
	v := newTestVFS(t)
	root := v.Root()

	_, err := root.Mkdir(ctx, "/mnt", 0o755)
	require.NoError(t, err)

	sub, err := storefs.New(memstore.New(), clock.RealClock{})
	require.NoError(t, err)
	require.NoError(t, v.Mount("/mnt/data", sub))

	_, err = root.CreateFile(ctx, "/mnt/data/file.txt", 0o644)
	require.NoError(t, err)

	_, err = root.Stat(ctx, "/mnt/data/file.txt")
	require.NoError(t, err)

	entries, err := root.Readdir(ctx, "/mnt/data")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
