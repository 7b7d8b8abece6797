package watch_test

import (
	"context"
	"testing"
	"time"

	"github.com/inodefs/corefs/clock"
	"github.com/inodefs/corefs/storefs"
	"github.com/inodefs/corefs/vbackend"
	"github.com/inodefs/corefs/vinode"
	"github.com/inodefs/corefs/vstore/memstore"
	"github.com/inodefs/corefs/watch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExactPathWatcherReceivesOwnEvent(t *testing.T) {
	hub := watch.NewHub()
	w := hub.Watch("/a/b", false)
	defer w.Close()

	hub.Emit(watch.OpWrite, "/a/b")

	select {
	case ev := <-w.Events():
		assert.Equal(t, watch.Change, ev.Type)
		assert.Equal(t, "", ev.Path)
	default:
		t.Fatal("expected an event")
	}
}

func TestNonRecursiveAncestorWatcherGetsImmediateChildName(t *testing.T) {
	hub := watch.NewHub()
	w := hub.Watch("/a", false)
	defer w.Close()

	hub.Emit(watch.OpCreateFile, "/a/b/c")

	select {
	case ev := <-w.Events():
		assert.Equal(t, watch.Rename, ev.Type)
		assert.Equal(t, "b", ev.Path)
	default:
		t.Fatal("expected an event")
	}
}

func TestRecursiveAncestorWatcherGetsFullRelativePath(t *testing.T) {
	hub := watch.NewHub()
	w := hub.Watch("/a", true)
	defer w.Close()

	hub.Emit(watch.OpCreateFile, "/a/b/c")

	select {
	case ev := <-w.Events():
		assert.Equal(t, watch.Rename, ev.Type)
		assert.Equal(t, "/b/c", ev.Path)
	default:
		t.Fatal("expected an event")
	}
}

func TestRootWatcherSeesEventsAtAnyDepth(t *testing.T) {
	hub := watch.NewHub()
	w := hub.Watch("/", true)
	defer w.Close()

	hub.Emit(watch.OpMkdir, "/x/y/z")

	select {
	case ev := <-w.Events():
		assert.Equal(t, watch.Rename, ev.Type)
		assert.Equal(t, "/x/y/z", ev.Path)
	default:
		t.Fatal("expected an event")
	}
}

func TestCloseStopsFurtherDelivery(t *testing.T) {
	hub := watch.NewHub()
	w := hub.Watch("/a", false)
	w.Close()

	hub.Emit(watch.OpUnlink, "/a/b")

	_, ok := <-w.Events()
	assert.False(t, ok)
}

func TestStatWatcherEmitsOnSizeChange(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFakeClock(time.Unix(0, 0))
	var backend vbackend.Backend
	fs, err := storefs.New(memstore.New(), clk)
	require.NoError(t, err)
	backend = fs

	_, err = backend.CreateFile(ctx, "/f", vbackend.CreateOpts{Mode: vinode.S_IFREG | 0o644})
	require.NoError(t, err)

	sw := watch.NewStatWatcher(ctx, backend, clk, "/f", time.Second)
	defer sw.Close()

	clk.Advance(time.Second)
	select {
	case <-sw.Events():
		t.Fatal("nothing changed since the baseline, shouldn't emit on first poll")
	case <-time.After(10 * time.Millisecond):
	}

	_, err = backend.Write(ctx, "/f", []byte("hello"), 0)
	require.NoError(t, err)

	clk.Advance(time.Second)
	select {
	case ev := <-sw.Events():
		assert.Equal(t, uint64(5), ev.Current.Size)
		assert.Equal(t, uint64(0), ev.Previous.Size)
	case <-time.After(time.Second):
		t.Fatal("expected a stat-change event")
	}
}
