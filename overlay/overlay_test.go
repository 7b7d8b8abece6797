package overlay_test

import (
	"context"
	"testing"

	"github.com/inodefs/corefs/clock"
	"github.com/inodefs/corefs/overlay"
	"github.com/inodefs/corefs/storefs"
	"github.com/inodefs/corefs/vbackend"
	"github.com/inodefs/corefs/verrno"
	"github.com/inodefs/corefs/vstore/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLayers(t *testing.T) (readable, writable vbackend.Backend) {
	t.Helper()
	r, err := storefs.New(memstore.New(), clock.RealClock{})
	require.NoError(t, err)
	w, err := storefs.New(memstore.New(), clock.RealClock{})
	require.NoError(t, err)
	return r, w
}

func TestStatPrefersWritableOverReadable(t *testing.T) {
	ctx := context.Background()
	readable, writable := newLayers(t)

	_, err := readable.CreateFile(ctx, "/f", vbackend.CreateOpts{Mode: 0o100644})
	require.NoError(t, err)
	_, err = readable.Write(ctx, "/f", []byte("readable"), 0)
	require.NoError(t, err)

	fs, err := overlay.New(ctx, readable, writable)
	require.NoError(t, err)

	rec, err := fs.Stat(ctx, "/f", true)
	require.NoError(t, err)
	assert.Equal(t, uint64(len("readable")), rec.Size)

	buf := make([]byte, 64)
	n, err := fs.Write(ctx, "/f", []byte("WRITABLE"), 0)
	require.NoError(t, err)
	assert.Equal(t, len("WRITABLE"), n)

	n, err = fs.Read(ctx, "/f", buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "WRITABLE", string(buf[:n]))
}

func TestUnlinkOnReadableOnlyFileHidesItViaDeletionLog(t *testing.T) {
	ctx := context.Background()
	readable, writable := newLayers(t)

	_, err := readable.CreateFile(ctx, "/f", vbackend.CreateOpts{Mode: 0o100644})
	require.NoError(t, err)

	fs, err := overlay.New(ctx, readable, writable)
	require.NoError(t, err)

	require.NoError(t, fs.Unlink(ctx, "/f"))

	_, err = fs.Stat(ctx, "/f", true)
	assert.ErrorIs(t, err, verrno.ENOENT)

	fs2, err := overlay.New(ctx, readable, writable)
	require.NoError(t, err)
	_, err = fs2.Stat(ctx, "/f", true)
	assert.ErrorIs(t, err, verrno.ENOENT, "deletion must survive reconstruction from the persisted log")
}

func TestReaddirMergesAndDedupesWithWritablePreferred(t *testing.T) {
	ctx := context.Background()
	readable, writable := newLayers(t)

	_, err := readable.CreateFile(ctx, "/a", vbackend.CreateOpts{Mode: 0o100644})
	require.NoError(t, err)
	_, err = readable.CreateFile(ctx, "/b", vbackend.CreateOpts{Mode: 0o100644})
	require.NoError(t, err)

	fs, err := overlay.New(ctx, readable, writable)
	require.NoError(t, err)

	_, err = fs.CreateFile(ctx, "/c", vbackend.CreateOpts{Mode: 0o100644})
	require.NoError(t, err)
	require.NoError(t, fs.Unlink(ctx, "/b"))

	entries, err := fs.Readdir(ctx, "/")
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, e := range entries {
		names[e.Name] = true
	}
	assert.True(t, names["a"])
	assert.True(t, names["c"])
	assert.False(t, names["b"])
}

func TestWriteToReadableOnlyFilePromotesBeforeMutation(t *testing.T) {
	ctx := context.Background()
	readable, writable := newLayers(t)

	_, err := readable.CreateFile(ctx, "/dir/f", vbackend.CreateOpts{Mode: 0o100644})
	require.NoError(t, err)
	_, err = readable.Write(ctx, "/dir/f", []byte("base"), 0)
	require.NoError(t, err)

	fs, err := overlay.New(ctx, readable, writable)
	require.NoError(t, err)

	_, err = fs.Write(ctx, "/dir/f", []byte("!"), 4)
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, err := fs.Read(ctx, "/dir/f", buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "base!", string(buf[:n]))

	// readable must be untouched.
	rbuf := make([]byte, 16)
	rn, err := readable.Read(ctx, "/dir/f", rbuf, 0)
	require.NoError(t, err)
	assert.Equal(t, "base", string(rbuf[:rn]))
}


func TestRenameAcrossOverlayBoundaryCopiesAndLogsSource(t *testing.T) {
	ctx := context.Background()
	readable, writable := newLayers(t)

	_, err := readable.CreateFile(ctx, "/file", vbackend.CreateOpts{Mode: 0o100644})
	require.NoError(t, err)
	_, err = readable.Write(ctx, "/file", []byte("original bytes"), 0)
	require.NoError(t, err)

	fs, err := overlay.New(ctx, readable, writable)
	require.NoError(t, err)

	require.NoError(t, fs.Rename(ctx, "/file", "/file2"))

	// The destination now lives in the writable layer with the source's
	// content.
	rec, err := writable.Stat(ctx, "/file2", true)
	require.NoError(t, err)
	assert.Equal(t, uint64(len("original bytes")), rec.Size)

	buf := make([]byte, 64)
	n, err := fs.Read(ctx, "/file2", buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "original bytes", string(buf[:n]))

	// The source is hidden even though the readable layer still has it.
	_, err = fs.Stat(ctx, "/file", true)
	assert.Equal(t, verrno.ENOENT, verrno.Of(err))
	_, err = readable.Stat(ctx, "/file", true)
	assert.NoError(t, err)

	// And the deletion log records it durably.
	logBuf := make([]byte, 4096)
	n, err = writable.Read(ctx, overlay.DeletionLogPath, logBuf, 0)
	require.NoError(t, err)
	assert.Contains(t, string(logBuf[:n]), "/file\n")

	entries, err := fs.Readdir(ctx, "/")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Contains(t, names, "file2")
	assert.NotContains(t, names, "file")
}

func TestDeletionLogSurvivesRemount(t *testing.T) {
	ctx := context.Background()
	readable, writable := newLayers(t)

	_, err := readable.CreateFile(ctx, "/gone", vbackend.CreateOpts{Mode: 0o100644})
	require.NoError(t, err)

	fs, err := overlay.New(ctx, readable, writable)
	require.NoError(t, err)
	require.NoError(t, fs.Unlink(ctx, "/gone"))

	// A second overlay over the same layers replays the log.
	fs2, err := overlay.New(ctx, readable, writable)
	require.NoError(t, err)
	_, err = fs2.Stat(ctx, "/gone", true)
	assert.Equal(t, verrno.ENOENT, verrno.Of(err))
}
