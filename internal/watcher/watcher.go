// Package watcher reports when files settle after a burst of writes.
//
// Files are watched through their parent directory so that files created
// after Start (a database's write-ahead log, say) are still seen.
package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a file must stay quiet before it is reported.
const DefaultDebounce = 100 * time.Millisecond

// Event reports a file that changed and then stayed quiet for the debounce
// interval.
type Event struct {
	Path      string
	Timestamp time.Time
}

// Watcher monitors a fixed set of files.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	paths     map[string]bool
	dirs      []string
	debounce  time.Duration

	// path -> time of the last write seen
	state   map[string]time.Time
	stateMu sync.Mutex

	events chan Event
	errors chan error

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New returns a watcher for paths. The files need not exist yet, but their
// directories must.
func New(paths []string, debounce time.Duration) (*Watcher, error) {
	if len(paths) == 0 {
		return nil, errors.New("watcher: no paths")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w := &Watcher{
		paths:    make(map[string]bool, len(paths)),
		debounce: debounce,
		state:    make(map[string]time.Time),
		events:   make(chan Event, 16),
		errors:   make(chan error, 10),
		done:     make(chan struct{}),
	}
	seen := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		w.paths[abs] = true
		dir := filepath.Dir(abs)
		if !seen[dir] {
			seen[dir] = true
			w.dirs = append(w.dirs, dir)
		}
	}
	return w, nil
}

// Events returns the channel of settled files. It is closed by Stop.
func (w *Watcher) Events() <-chan Event { return w.events }

// Errors returns the channel of watch errors. It is closed by Stop.
func (w *Watcher) Errors() <-chan error { return w.errors }

// Start begins watching.
func (w *Watcher) Start() error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, dir := range w.dirs {
		info, err := os.Stat(dir)
		if err != nil {
			fsWatcher.Close()
			return err
		}
		if !info.IsDir() {
			fsWatcher.Close()
			return &os.PathError{Op: "watch", Path: dir, Err: errors.New("not a directory")}
		}
		if err := fsWatcher.Add(dir); err != nil {
			fsWatcher.Close()
			return err
		}
	}
	w.fsWatcher = fsWatcher

	w.wg.Add(2)
	go w.eventLoop()
	go w.debounceLoop()
	return nil
}

// Stop shuts the watcher down. It is idempotent.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		w.wg.Wait()
		close(w.events)
		close(w.errors)
		if w.fsWatcher != nil {
			err = w.fsWatcher.Close()
		}
	})
	return err
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			path := filepath.Clean(event.Name)
			if !w.paths[path] {
				continue
			}
			w.stateMu.Lock()
			w.state[path] = time.Now()
			w.stateMu.Unlock()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

func (w *Watcher) debounceLoop() {
	defer w.wg.Done()

	tick := w.debounce / 2
	if tick < 5*time.Millisecond {
		tick = 5 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case now := <-ticker.C:
			w.flushStable(now)
		}
	}
}

// flushStable emits files that have been quiet for the debounce interval.
func (w *Watcher) flushStable(now time.Time) {
	threshold := now.Add(-w.debounce)

	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	for path, last := range w.state {
		if last.After(threshold) {
			continue
		}
		select {
		case w.events <- Event{Path: path, Timestamp: now}:
			delete(w.state, path)
		case <-w.done:
			return
		default:
			// channel full; retry on the next tick
		}
	}
}

// WatchedPaths returns the watched files.
func (w *Watcher) WatchedPaths() []string {
	out := make([]string, 0, len(w.paths))
	for p := range w.paths {
		out = append(out, p)
	}
	return out
}

// Pending returns the number of files changed but not yet reported.
func (w *Watcher) Pending() int {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	return len(w.state)
}
