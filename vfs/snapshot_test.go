package vfs_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodefs/corefs/clock"
	"github.com/inodefs/corefs/storefs"
	"github.com/inodefs/corefs/vfs"
	"github.com/inodefs/corefs/vinode"
	"github.com/inodefs/corefs/vstore/memstore"
	"github.com/inodefs/corefs/vstore/singlebuffer"
)

// Two stores over the same byte buffer are snapshots of each other:
// anything committed through one mount is observable, stat-identical,
// through the other.
func TestSingleBufferSnapshotStatsAreIdenticalAcrossMounts(t *testing.T) {
	ctx := context.Background()
	buf := make([]byte, 1<<20)

	rootFS, err := storefs.New(memstore.New(), clock.RealClock{})
	require.NoError(t, err)
	v := vfs.NewVFS(rootFS, clock.RealClock{})
	root := v.Root()

	s1, err := singlebuffer.Open(buf, clock.RealClock{})
	require.NoError(t, err)
	fs1, err := storefs.New(s1, clock.RealClock{})
	require.NoError(t, err)
	require.NoError(t, v.Mount("/m1", fs1))

	d, err := root.Open(ctx, "/m1/example", vinode.O_CREAT|vinode.O_RDWR, 0o644)
	require.NoError(t, err)
	content := []byte("abcdefghijklmnopqrstuvwxyz")
	n, err := d.Write(ctx, content, -1)
	require.NoError(t, err)
	require.Equal(t, 26, n)
	d.Close()

	s2, err := singlebuffer.Open(buf, clock.RealClock{})
	require.NoError(t, err)
	fs2, err := storefs.New(s2, clock.RealClock{})
	require.NoError(t, err)
	require.NoError(t, v.Mount("/m2", fs2))

	st1, err := root.Stat(ctx, "/m1/example")
	require.NoError(t, err)
	st2, err := root.Stat(ctx, "/m2/example")
	require.NoError(t, err)

	if diff := cmp.Diff(st1, st2, cmp.AllowUnexported(vinode.Attrs{})); diff != "" {
		t.Errorf("stat mismatch across snapshot mounts (-m1 +m2):\n%s", diff)
	}
	assert.Equal(t, uint64(26), st2.Size)
	assert.Equal(t, st1.Ino, st2.Ino)
}
