package files

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// WatchHub maintains one fsnotify watcher per distinct subscribed real
// directory, reference-counted across sessions, and fans out change
// events to subscribers.
//
// Grounded on internal/core/channel_state.go's ConnectServer/
// DisconnectServer reference-counted membership, generalized here from
// "session joined a logical server" to "session subscribed to a watched
// directory": the last unsubscribe for a path tears the watcher down,
// the way DisconnectServer clears voice state once the last membership
// referencing it drops.
type WatchHub struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	refs     map[string]int
	onChange func(path string, event fsnotify.Event)
	done     chan struct{}
}

// NewWatchHub starts the underlying fsnotify watcher and its dispatch
// goroutine. onChange is called for every event on a path with at least
// one active subscriber.
func NewWatchHub(onChange func(path string, event fsnotify.Event)) (*WatchHub, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	h := &WatchHub{
		watcher:  w,
		refs:     make(map[string]int),
		onChange: onChange,
		done:     make(chan struct{}),
	}
	go h.loop()
	return h, nil
}

func (h *WatchHub) loop() {
	for {
		select {
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			h.dispatch(event)
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("file watch error", "error", err)
		case <-h.done:
			return
		}
	}
}

func (h *WatchHub) dispatch(event fsnotify.Event) {
	path := event.Name
	h.mu.Lock()
	_, watched := h.refs[path]
	if !watched {
		path = filepath.Dir(event.Name)
		_, watched = h.refs[path]
	}
	h.mu.Unlock()
	if watched && h.onChange != nil {
		h.onChange(path, event)
	}
}

// Subscribe adds a reference on realDir, adding it to the underlying
// watcher on first subscription.
func (h *WatchHub) Subscribe(realDir string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.refs[realDir] == 0 {
		if err := h.watcher.Add(realDir); err != nil {
			return err
		}
	}
	h.refs[realDir]++
	return nil
}

// Unsubscribe drops a reference, removing the watch entirely once the
// count reaches zero.
func (h *WatchHub) Unsubscribe(realDir string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.refs[realDir] == 0 {
		return nil
	}
	h.refs[realDir]--
	if h.refs[realDir] == 0 {
		delete(h.refs, realDir)
		return h.watcher.Remove(realDir)
	}
	return nil
}

func (h *WatchHub) Close() error {
	close(h.done)
	return h.watcher.Close()
}
