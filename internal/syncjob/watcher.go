package syncjob

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rjeczalik/notify"
)

const (
	eventBufferSize        = 64
	defaultDebounceTimeout = 500 * time.Millisecond
)

// FilterCallback returns true for paths whose events should be dropped.
type FilterCallback func(path string) bool

// Watcher reports which projects of a workspace changed on disk. Bursts of
// events inside one project are collapsed into a single notification.
type Watcher struct {
	root      string
	rawEvents chan notify.EventInfo
	events    chan string
	done      chan struct{}
	wg        sync.WaitGroup

	pending         map[string]*time.Timer
	pendingMu       sync.Mutex
	debounceTimeout time.Duration

	filter   FilterCallback
	filterMu sync.RWMutex
}

func NewWatcher(root string) *Watcher {
	return &Watcher{
		root:            root,
		done:            make(chan struct{}),
		pending:         make(map[string]*time.Timer),
		debounceTimeout: defaultDebounceTimeout,
	}
}

func (w *Watcher) SetDebounceTimeout(timeout time.Duration) {
	w.debounceTimeout = timeout
}

// FilterPaths sets a callback that drops raw events before debouncing.
func (w *Watcher) FilterPaths(callback FilterCallback) {
	w.filterMu.Lock()
	defer w.filterMu.Unlock()
	w.filter = callback
}

func (w *Watcher) Start(ctx context.Context) error {
	slog.Info("watcher start", "dir", w.root)

	w.rawEvents = make(chan notify.EventInfo, eventBufferSize)
	w.events = make(chan string, eventBufferSize)

	recursivePath := filepath.Join(w.root, "...")
	if err := notify.Watch(recursivePath, w.rawEvents, notify.All); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.filterEvents(ctx)

	return nil
}

func (w *Watcher) Stop() {
	slog.Info("watcher stopping")

	close(w.done)
	if w.rawEvents != nil {
		notify.Stop(w.rawEvents)
	}
	w.wg.Wait()

	slog.Info("watcher stopped")
}

// Events delivers project names. The channel closes when the watcher stops.
func (w *Watcher) Events() <-chan string {
	return w.events
}

// project returns the project holding path, "" for paths outside any project.
func (w *Watcher) project(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	name := strings.SplitN(filepath.ToSlash(rel), "/", 2)[0]
	if strings.HasPrefix(name, ".") {
		return ""
	}
	return name
}

func (w *Watcher) filterEvents(ctx context.Context) {
	defer func() {
		w.pendingMu.Lock()
		for project, timer := range w.pending {
			timer.Stop()
			delete(w.pending, project)
		}
		w.pendingMu.Unlock()

		w.wg.Done()
		close(w.events)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.rawEvents:
			if !ok {
				return
			}

			w.filterMu.RLock()
			filter := w.filter
			w.filterMu.RUnlock()
			if filter != nil && filter(event.Path()) {
				continue
			}

			if project := w.project(event.Path()); project != "" {
				w.debounce(project)
			}
		}
	}
}

func (w *Watcher) debounce(project string) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	if timer, ok := w.pending[project]; ok {
		timer.Reset(w.debounceTimeout)
		return
	}
	w.pending[project] = time.AfterFunc(w.debounceTimeout, func() {
		w.flush(project)
	})
}

func (w *Watcher) flush(project string) {
	w.pendingMu.Lock()
	if _, ok := w.pending[project]; !ok {
		w.pendingMu.Unlock()
		return
	}
	delete(w.pending, project)

	// sent under the lock so filterEvents cannot close the channel meanwhile
	select {
	case w.events <- project:
		slog.Debug("watcher", "project", project)
	default:
		slog.Warn("watcher dropped", "reason", "channel full", "project", project)
	}
	w.pendingMu.Unlock()
}
