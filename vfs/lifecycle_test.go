package vfs_test

import (
	"context"
	"testing"

	"github.com/inodefs/corefs/verrno"
	"github.com/inodefs/corefs/vinode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMkdirAllCreatesIntermediatesAndReturnsFirstCreated(t *testing.T) {
	ctx := context.Background()
	v := newTestVFS(t)
	root := v.Root()

	first, err := root.MkdirAll(ctx, "/a/b/c/d", 0o755)
	require.NoError(t, err)
	assert.Equal(t, "/a", first)

	for _, p := range []string{"/a", "/a/b", "/a/b/c", "/a/b/c/d"} {
		rec, err := root.Stat(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, vinode.S_IFDIR|vinode.FileMode(0o755), rec.Mode, p)
	}
}

func TestMkdirAllOnExistingChainIsANoOp(t *testing.T) {
	ctx := context.Background()
	v := newTestVFS(t)
	root := v.Root()

	_, err := root.MkdirAll(ctx, "/a/b/c/d", 0o755)
	require.NoError(t, err)

	first, err := root.MkdirAll(ctx, "/a/b/c/d", 0o700)
	require.NoError(t, err)
	assert.Equal(t, "", first)

	rec, err := root.Stat(ctx, "/a/b/c")
	require.NoError(t, err)
	assert.Equal(t, vinode.S_IFDIR|vinode.FileMode(0o755), rec.Mode, "existing modes must not change")
}

func TestMkdirAllThroughFileFailsENOTDIR(t *testing.T) {
	ctx := context.Background()
	v := newTestVFS(t)
	root := v.Root()

	_, err := root.CreateFile(ctx, "/f", 0o644)
	require.NoError(t, err)

	_, err = root.MkdirAll(ctx, "/f/sub", 0o755)
	assert.Equal(t, verrno.ENOTDIR, verrno.Of(err))
}

func TestUnlinkedFileStaysReadableThroughOpenDescriptor(t *testing.T) {
	ctx := context.Background()
	v := newTestVFS(t)
	root := v.Root()

	d, err := root.Open(ctx, "/f", vinode.O_CREAT|vinode.O_RDWR, 0o644)
	require.NoError(t, err)

	_, err = d.Write(ctx, []byte("survives unlink"), -1)
	require.NoError(t, err)

	require.NoError(t, root.Unlink(ctx, "/f"))

	entries, err := root.Readdir(ctx, "/")
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, "f", e.Name)
	}

	_, err = root.Stat(ctx, "/f")
	assert.Equal(t, verrno.ENOENT, verrno.Of(err))

	buf := make([]byte, 32)
	n, err := d.Read(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "survives unlink", string(buf[:n]))

	assert.Equal(t, uint32(0), d.Stat().Nlink)

	d.Close()
}

func TestWritesToUnlinkedFileStayInvisibleToTheNamespace(t *testing.T) {
	ctx := context.Background()
	v := newTestVFS(t)
	root := v.Root()

	d, err := root.Open(ctx, "/f", vinode.O_CREAT|vinode.O_RDWR, 0o644)
	require.NoError(t, err)
	defer d.Close()

	_, err = d.Write(ctx, []byte("abc"), -1)
	require.NoError(t, err)

	require.NoError(t, root.Unlink(ctx, "/f"))

	_, err = d.Write(ctx, []byte("def"), -1)
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, err := d.Read(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(buf[:n]))

	// The name is gone for everyone else; re-creating it starts fresh.
	d2, err := root.Open(ctx, "/f", vinode.O_CREAT|vinode.O_RDWR, 0o644)
	require.NoError(t, err)
	defer d2.Close()
	n, err = d2.Read(ctx, buf, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTwoDescriptorsOnUnlinkedFileShareTheDetachedContent(t *testing.T) {
	ctx := context.Background()
	v := newTestVFS(t)
	root := v.Root()

	d1, err := root.Open(ctx, "/f", vinode.O_CREAT|vinode.O_RDWR, 0o644)
	require.NoError(t, err)
	defer d1.Close()
	_, err = d1.Write(ctx, []byte("shared"), -1)
	require.NoError(t, err)

	d2, err := root.Open(ctx, "/f", vinode.O_RDWR, 0)
	require.NoError(t, err)
	defer d2.Close()

	require.NoError(t, root.Unlink(ctx, "/f"))

	_, err = d1.Write(ctx, []byte(" state"), -1)
	require.NoError(t, err)

	buf := make([]byte, 32)
	n, err := d2.Read(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "shared state", string(buf[:n]))
}
