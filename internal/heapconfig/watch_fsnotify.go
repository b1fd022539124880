package heapconfig

import (
	"github.com/fsnotify/fsnotify"
)

// WatchOp mirrors the bitmask-translation shape of the teacher's
// internal/runtime/vfs/watch_fsnotify.go (FSNotifyWatcher): wrap
// fsnotify's own Op bitmask in a package-local type so callers never
// import fsnotify directly.
type WatchOp uint32

const (
	WatchOpCreate WatchOp = 1 << iota
	WatchOpWrite
	WatchOpRemove
	WatchOpRename
	WatchOpChmod
)

func translateOp(op fsnotify.Op) WatchOp {
	var out WatchOp
	if op&fsnotify.Create != 0 {
		out |= WatchOpCreate
	}
	if op&fsnotify.Write != 0 {
		out |= WatchOpWrite
	}
	if op&fsnotify.Remove != 0 {
		out |= WatchOpRemove
	}
	if op&fsnotify.Rename != 0 {
		out |= WatchOpRename
	}
	if op&fsnotify.Chmod != 0 {
		out |= WatchOpChmod
	}
	return out
}

// Event is the translated form of an fsnotify.Event.
type Event struct {
	Path string
	Op   WatchOp
}

// fsWatcher wraps fsnotify.Watcher and runs an event-loop goroutine that
// translates its Op bitmask, the same shape as the teacher's
// FSNotifyWatcher.
type fsWatcher struct {
	inner   *fsnotify.Watcher
	events  chan Event
	errors  chan error
}

func newFSWatcher(path string) (*fsWatcher, error) {
	inner, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := inner.Add(path); err != nil {
		inner.Close()
		return nil, err
	}
	w := &fsWatcher{
		inner:  inner,
		events: make(chan Event, 8),
		errors: make(chan error, 8),
	}
	go w.loop()
	return w, nil
}

func (w *fsWatcher) loop() {
	defer close(w.events)
	defer close(w.errors)
	for {
		select {
		case ev, ok := <-w.inner.Events:
			if !ok {
				return
			}
			w.events <- Event{Path: ev.Name, Op: translateOp(ev.Op)}
		case err, ok := <-w.inner.Errors:
			if !ok {
				return
			}
			w.errors <- err
		}
	}
}

func (w *fsWatcher) Events() <-chan Event { return w.events }
func (w *fsWatcher) Errors() <-chan error { return w.errors }
func (w *fsWatcher) Close() error         { return w.inner.Close() }
