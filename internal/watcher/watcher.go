package watcher

import (
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"ensemble/internal/logging"

	"github.com/fsnotify/fsnotify"
)

const (
	defaultDebounce   = 100 * time.Millisecond
	defaultMaxWatches = 100
)

var ErrMaxWatchesExceeded = errors.New("max watches exceeded")

const (
	EventTypeFileChanged = "file_changed"
	EventTypeWatchError  = "watch_error"
)

// Event represents a single debounced filesystem change.
type Event struct {
	EventType  string      `json:"type"`
	Path       string      `json:"path"`
	Op         fsnotify.Op `json:"-"`
	OccurredAt time.Time   `json:"timestamp"`
}

func (e Event) Type() string { return e.EventType }

// Options controls watcher behavior.
type Options struct {
	Logger     *logging.Logger
	Debounce   time.Duration
	MaxWatches int
}

// Handle releases the resources of a single registration.
type Handle interface {
	Close() error
}

// Watcher debounces fsnotify events and dispatches them to per-path callbacks.
type Watcher struct {
	watcher      *fsnotify.Watcher
	mutex        sync.Mutex
	callbacks    map[string][]callbackEntry
	pending      map[string]*pendingEvent
	debounce     time.Duration
	maxWatches   int
	active       int
	nextID       uint64
	done         chan struct{}
	closed       bool
	logger       *logging.Logger
	errorHandler func(error)
}

type callbackEntry struct {
	id       uint64
	callback func(Event)
}

type pendingEvent struct {
	timer *time.Timer
	event Event
}

func New(options Options) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	debounce := options.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	maxWatches := options.MaxWatches
	if maxWatches <= 0 {
		maxWatches = defaultMaxWatches
	}

	instance := &Watcher{
		watcher:    fsWatcher,
		callbacks:  make(map[string][]callbackEntry),
		pending:    make(map[string]*pendingEvent),
		debounce:   debounce,
		maxWatches: maxWatches,
		done:       make(chan struct{}),
		logger:     options.Logger,
	}
	go instance.run()
	return instance, nil
}

// Watch registers a callback for changes under path. Watching a directory
// reports changes to its direct entries.
func (w *Watcher) Watch(path string, callback func(Event)) (Handle, error) {
	if w == nil {
		return nil, errors.New("watcher is nil")
	}
	if path == "" {
		return nil, errors.New("path is required")
	}
	if callback == nil {
		return nil, errors.New("callback is required")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	w.mutex.Lock()
	if w.closed {
		w.mutex.Unlock()
		return nil, errors.New("watcher is closed")
	}
	if w.active >= w.maxWatches {
		w.mutex.Unlock()
		return nil, ErrMaxWatchesExceeded
	}
	w.nextID++
	id := w.nextID
	firstForPath := len(w.callbacks[absPath]) == 0
	w.callbacks[absPath] = append(w.callbacks[absPath], callbackEntry{id: id, callback: callback})
	w.active++
	active := w.active
	w.mutex.Unlock()

	if firstForPath {
		if err := w.watcher.Add(absPath); err != nil {
			w.release(absPath, id)
			return nil, err
		}
	}
	if w.logger != nil {
		w.logger.Debug("watch registered", map[string]string{
			"path":           absPath,
			"active_watches": strconv.Itoa(active),
		})
	}
	return watchHandle{watcher: w, path: absPath, id: id}, nil
}

// SetErrorHandler configures a callback for unrecoverable watcher failures.
func (w *Watcher) SetErrorHandler(handler func(error)) {
	if w == nil {
		return
	}
	w.mutex.Lock()
	w.errorHandler = handler
	w.mutex.Unlock()
}

func (w *Watcher) Close() error {
	if w == nil {
		return nil
	}
	w.mutex.Lock()
	if w.closed {
		w.mutex.Unlock()
		return nil
	}
	w.closed = true
	for path, entry := range w.pending {
		entry.timer.Stop()
		delete(w.pending, path)
	}
	w.mutex.Unlock()

	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case fsEvent, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.schedule(fsEvent)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.handleError(err)
		case <-w.done:
			return
		}
	}
}

// schedule coalesces bursts of events on the same path into one delivery.
func (w *Watcher) schedule(fsEvent fsnotify.Event) {
	event := Event{
		EventType:  EventTypeFileChanged,
		Path:       fsEvent.Name,
		Op:         fsEvent.Op,
		OccurredAt: time.Now().UTC(),
	}

	w.mutex.Lock()
	if w.closed {
		w.mutex.Unlock()
		return
	}
	if entry, ok := w.pending[fsEvent.Name]; ok {
		entry.event = event
		entry.timer.Reset(w.debounce)
		w.mutex.Unlock()
		return
	}
	entry := &pendingEvent{event: event}
	entry.timer = time.AfterFunc(w.debounce, func() {
		w.flush(fsEvent.Name)
	})
	w.pending[fsEvent.Name] = entry
	w.mutex.Unlock()
}

func (w *Watcher) flush(path string) {
	w.mutex.Lock()
	entry, ok := w.pending[path]
	if !ok {
		w.mutex.Unlock()
		return
	}
	delete(w.pending, path)

	// Directory watches get events for entries inside them; match both the
	// exact path and its parent directory.
	var callbacks []func(Event)
	for _, registered := range w.callbacks[path] {
		callbacks = append(callbacks, registered.callback)
	}
	parent := filepath.Dir(path)
	if parent != path {
		for _, registered := range w.callbacks[parent] {
			callbacks = append(callbacks, registered.callback)
		}
	}
	w.mutex.Unlock()

	for _, callback := range callbacks {
		callback(entry.event)
	}
}

func (w *Watcher) handleError(err error) {
	if err == nil {
		return
	}
	if w.logger != nil {
		w.logger.Warn("watcher error", map[string]string{
			"error": err.Error(),
		})
	}
	w.mutex.Lock()
	handler := w.errorHandler
	w.mutex.Unlock()
	if handler != nil {
		handler(err)
	}
}

func (w *Watcher) release(path string, id uint64) {
	w.mutex.Lock()
	entries := w.callbacks[path]
	for index, entry := range entries {
		if entry.id == id {
			w.callbacks[path] = append(entries[:index], entries[index+1:]...)
			w.active--
			break
		}
	}
	removeWatch := len(w.callbacks[path]) == 0
	if removeWatch {
		delete(w.callbacks, path)
	}
	closed := w.closed
	w.mutex.Unlock()

	if removeWatch && !closed {
		_ = w.watcher.Remove(path)
	}
}

type watchHandle struct {
	watcher *Watcher
	path    string
	id      uint64
}

func (h watchHandle) Close() error {
	h.watcher.release(h.path, h.id)
	return nil
}
