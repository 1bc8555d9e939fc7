package records

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"retrace/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Invalidator is the slice of the source index the watcher needs to
// drop stale parses.
type Invalidator interface {
	Invalidate(module string)
}

// Watcher watches the configured source directories and invalidates
// cached record definitions (and the cached parse) of any module whose
// source file changes. Records stay lazily reloadable: the next Load
// re-reads the new source.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	store       *Store
	index       Invalidator
	dirs        []string
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	stats WatcherStats
}

// WatcherStats tracks watcher activity for debugging.
type WatcherStats struct {
	FilesChanged  int
	Invalidations int
	Errors        int
	LastEventPath string
	LastEventTime time.Time
}

// NewWatcher creates a watcher over dirs. Start must be called before
// events are processed.
func NewWatcher(dirs []string, store *Store, index Invalidator) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:     fw,
		store:       store,
		index:       index,
		dirs:        dirs,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond, // debounce rapid saves
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. Safe to call once.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	for _, d := range w.dirs {
		if err := w.watcher.Add(d); err != nil {
			logging.Get(logging.CategoryRecords).Warn("cannot watch %s: %v", d, err)
		}
	}
	w.running = true
	go w.loop()
	logging.Records("record watcher started over %d dir(s)", len(w.dirs))
	return nil
}

// Stop shuts the watcher down and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	w.watcher.Close()
}

// Stats returns a copy of the activity counters.
func (w *Watcher) Stats() WatcherStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

func (w *Watcher) loop() {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.handle(ev.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
			logging.Get(logging.CategoryRecords).Warn("watcher error: %v", err)
		}
	}
}

func (w *Watcher) handle(path string) {
	if !strings.HasSuffix(path, ".erl") {
		return
	}
	module := strings.TrimSuffix(filepath.Base(path), ".erl")

	w.mu.Lock()
	now := time.Now()
	if last, ok := w.debounceMap[path]; ok && now.Sub(last) < w.debounceDur {
		w.mu.Unlock()
		return
	}
	w.debounceMap[path] = now
	w.stats.FilesChanged++
	w.stats.LastEventPath = path
	w.stats.LastEventTime = now
	w.mu.Unlock()

	if w.index != nil {
		w.index.Invalidate(module)
	}
	n := w.store.ForgetModule(module)

	w.mu.Lock()
	w.stats.Invalidations += n
	w.mu.Unlock()
	if n > 0 {
		logging.Records("source of %s changed, dropped %d record definition(s)", module, n)
	}
}
