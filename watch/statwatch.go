package watch

import (
	"context"
	"sync"
	"time"

	"github.com/inodefs/corefs/clock"
	"github.com/inodefs/corefs/vbackend"
	"github.com/inodefs/corefs/vinode"
)

// StatEvent carries the before/after snapshot a StatWatcher emits when
// a poll observes a change.
type StatEvent struct {
	Current  *vinode.Record
	Previous *vinode.Record
}

// StatWatcher polls a path's metadata at a fixed interval and reports
// size/mode/atime/mtime/ctime changes.
type StatWatcher struct {
	events chan StatEvent

	closeOnce sync.Once
	cancel    chan struct{}
	done      chan struct{}
}

// NewStatWatcher takes an initial stat baseline and starts polling path
// on backend every interval, using clk for scheduling so tests can
// drive it deterministically. The first tick's wait is registered with
// clk before NewStatWatcher returns, so a caller using a FakeClock can
// call Advance immediately without racing the watcher's goroutine
// startup. Polling stops when ctx is done or Close is called.
func NewStatWatcher(ctx context.Context, backend vbackend.Backend, clk clock.Clock, path string, interval time.Duration) *StatWatcher {
	w := &StatWatcher{
		events: make(chan StatEvent, 16),
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}

	prev, _ := backend.Stat(ctx, path, true)
	firstTick := clk.After(interval)
	go w.loop(ctx, backend, clk, path, interval, prev, firstTick)
	return w
}

func (w *StatWatcher) loop(ctx context.Context, backend vbackend.Backend, clk clock.Clock, path string, interval time.Duration, prev *vinode.Record, tick <-chan time.Time) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.cancel:
			return
		case <-tick:
		}

		cur, err := backend.Stat(ctx, path, true)
		if err != nil {
			// A transient backend fault doesn't end the watch; the next
			// tick tries again.
			tick = clk.After(interval)
			continue
		}
		if prev != nil && statChanged(prev, cur) {
			select {
			case w.events <- StatEvent{Current: cur, Previous: prev}:
			default:
			}
		}
		prev = cur
		tick = clk.After(interval)
	}
}

func statChanged(a, b *vinode.Record) bool {
	return a.Size != b.Size || a.Mode != b.Mode ||
		a.AtimeMs != b.AtimeMs || a.MtimeMs != b.MtimeMs || a.CtimeMs != b.CtimeMs
}

// Events returns the channel change snapshots are delivered on.
func (w *StatWatcher) Events() <-chan StatEvent { return w.events }

// Close stops polling and waits for the background goroutine to exit.
func (w *StatWatcher) Close() {
	w.closeOnce.Do(func() { close(w.cancel) })
	<-w.done
}
