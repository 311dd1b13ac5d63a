package watcher

import (
	"ensemble/internal/event"
)

// WatchToBus registers a watch that republishes debounced file changes on the
// shared bus, so reload consumers subscribe instead of holding callbacks.
func WatchToBus(w *Watcher, bus *event.Bus[Event], path string) (Handle, error) {
	return w.Watch(path, func(fileEvent Event) {
		bus.Publish(fileEvent)
	})
}
