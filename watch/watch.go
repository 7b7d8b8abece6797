// Package watch implements path watchers and stat watchers: the
// change-notification layer that sits above a vbackend.Backend.
// Operations are translated into rename/change events that bubble up
// to every watcher installed on an ancestor path, the way a directory
// handle registered with inotify(7) observes both direct children and
// (if recursive) the whole subtree beneath it.
package watch

import (
	"sync"

	"github.com/inodefs/corefs/vpath"
)

// EventType classifies a path-watcher event.
type EventType int

const (
	Rename EventType = iota
	Change
)

func (t EventType) String() string {
	if t == Rename {
		return "rename"
	}
	return "change"
}

// Operation identifies the backend call that produced an event.
type Operation int

const (
	OpMkdir Operation = iota
	OpCreateFile
	OpUnlink
	OpRmdir
	OpRename
	OpWrite
	OpUtimes
	OpChmod
	OpChown
)

func eventTypeFor(op Operation) EventType {
	switch op {
	case OpMkdir, OpCreateFile, OpUnlink, OpRmdir, OpRename:
		return Rename
	default:
		return Change
	}
}

// Event is delivered on a PathWatcher's channel. Path is empty for an
// event on the watcher's own installed path, the immediate child name
// for a non-recursive ancestor watcher, or the full path relative to
// the watcher's install path for a recursive one.
type Event struct {
	Type EventType
	Path string
}

// PathWatcher is a subscription installed on one path.
type PathWatcher struct {
	hub       *Hub
	path      string
	recursive bool

	mu     sync.Mutex
	closed bool
	events chan Event
}

// Events returns the channel events are delivered on. The channel is
// closed when the watcher is closed.
func (w *PathWatcher) Events() <-chan Event { return w.events }

// Path returns the path this watcher was installed on.
func (w *PathWatcher) Path() string { return w.path }

// Close unsubscribes the watcher. Safe to call more than once.
func (w *PathWatcher) Close() {
	w.hub.unsubscribe(w)
}

func (w *PathWatcher) send(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.events <- ev:
	default:
		// A slow subscriber drops events rather than blocking the
		// operation that produced them.
	}
}

// Hub is a registry of path watchers and the dispatcher that turns
// backend operations into events.
type Hub struct {
	mu       sync.Mutex
	watchers map[string][]*PathWatcher
}

// NewHub returns an empty watcher registry.
func NewHub() *Hub {
	return &Hub{watchers: make(map[string][]*PathWatcher)}
}

// Watch installs a watcher on path. The watcher receives events on
// path itself and on every descendant of path. If recursive, a
// descendant event carries its path relativized to the watcher's;
// otherwise it carries only the name of the immediate child of path
// that the event lies under.
func (h *Hub) Watch(path string, recursive bool) *PathWatcher {
	path = vpath.Normalize(path)
	w := &PathWatcher{hub: h, path: path, recursive: recursive, events: make(chan Event, 64)}

	h.mu.Lock()
	h.watchers[path] = append(h.watchers[path], w)
	h.mu.Unlock()
	return w
}

func (h *Hub) unsubscribe(w *PathWatcher) {
	h.mu.Lock()
	list := h.watchers[w.path]
	for i, ww := range list {
		if ww == w {
			h.watchers[w.path] = append(list[:i], list[i+1:]...)
			break
		}
	}
	h.mu.Unlock()

	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.events)
	}
	w.mu.Unlock()
}

// Emit notifies every watcher whose install path is path itself or an
// ancestor of it that op happened at path.
func (h *Hub) Emit(op Operation, path string) {
	path = vpath.Normalize(path)
	et := eventTypeFor(op)

	h.dispatch(path, et, "")

	for anc := vpath.Dirname(path); ; anc = vpath.Dirname(anc) {
		h.dispatchAncestor(anc, et, path)
		if anc == "/" {
			break
		}
	}
}

func (h *Hub) dispatch(path string, et EventType, rel string) {
	h.mu.Lock()
	ws := append([]*PathWatcher(nil), h.watchers[path]...)
	h.mu.Unlock()
	for _, w := range ws {
		w.send(Event{Type: et, Path: rel})
	}
}

func (h *Hub) dispatchAncestor(ancestor string, et EventType, eventPath string) {
	h.mu.Lock()
	ws := append([]*PathWatcher(nil), h.watchers[ancestor]...)
	h.mu.Unlock()

	for _, w := range ws {
		rel := immediateChild(ancestor, eventPath)
		if w.recursive {
			rel = vpath.RelativeTo(eventPath, ancestor)
		}
		w.send(Event{Type: et, Path: rel})
	}
}

func immediateChild(ancestor, path string) string {
	segs := vpath.Segments(vpath.RelativeTo(path, ancestor))
	if len(segs) == 0 {
		return ""
	}
	return segs[0]
}
