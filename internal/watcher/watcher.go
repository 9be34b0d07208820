// Package watcher observes the memory and task roots with fsnotify and
// turns raw filesystem events into change events on the bus. Bursts are
// debounced per path; the index is refreshed before subscribers hear about
// a change so they always read fresh state.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/bus"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/guard"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/store"
)

// DefaultDebounce collapses fsnotify bursts per path.
const DefaultDebounce = 100 * time.Millisecond

// Watcher bridges fsnotify to the change bus for both entity roots.
type Watcher struct {
	store    *store.Store
	broker   *bus.Broker
	logger   *slog.Logger
	fw       *fsnotify.Watcher
	debounce *guard.Coalescer

	mu      sync.Mutex
	lastOps map[string]fsnotify.Op

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a watcher over the store's roots. Call Start to begin
// watching and Close to stop.
func New(st *store.Store, broker *bus.Broker, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		store:    st,
		broker:   broker,
		logger:   logger,
		fw:       fw,
		debounce: guard.NewCoalescer(DefaultDebounce),
		lastOps:  make(map[string]fsnotify.Op),
	}

	for _, root := range []string{st.Roots().Memories, st.Roots().Tasks} {
		if err := w.watchTree(root); err != nil {
			_ = fw.Close()
			return nil, err
		}
	}
	return w, nil
}

// watchTree adds root and every directory below it. fsnotify is not
// recursive, so new project directories are added as they appear.
func (w *Watcher) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.fw.Add(path)
	})
}

// Start launches the event loop. It runs until ctx is cancelled or Close
// is called.
func (w *Watcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case event, ok := <-w.fw.Events:
				if !ok {
					return
				}
				w.handle(ctx, event)
			case err, ok := <-w.fw.Errors:
				if !ok {
					return
				}
				w.logger.Warn("watcher error", "error", err)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	path := event.Name

	// Temp files are write-in-progress; the rename onto the real name is
	// the event that matters.
	if strings.HasSuffix(path, guard.TempSuffix) {
		return
	}

	// A new project directory needs its own watch before files inside it
	// produce events.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			w.addDirWatch(ctx, path)
			return
		}
	}
	if !strings.HasSuffix(path, ".md") {
		return
	}

	w.mu.Lock()
	w.lastOps[path] = w.lastOps[path] | event.Op
	w.mu.Unlock()

	w.debounce.Schedule(path, func() {
		w.flush(ctx, path)
	})
}

// flush runs once per debounce window per path: refresh the index from
// disk, then tell subscribers.
func (w *Watcher) flush(ctx context.Context, path string) {
	w.mu.Lock()
	ops := w.lastOps[path]
	delete(w.lastOps, path)
	w.mu.Unlock()

	if err := w.store.ReindexFile(ctx, path); err != nil {
		w.logger.Warn("reindex after change failed", "file", path, "error", err)
	}

	_, statErr := os.Stat(path)
	action := bus.ActionChange
	switch {
	case os.IsNotExist(statErr):
		action = bus.ActionUnlink
	case ops&fsnotify.Create != 0:
		action = bus.ActionAdd
	}

	event := w.classify(path, action)
	w.broker.Publish(event)
	w.logger.Debug("change event", "type", event.Type, "action", action, "file", path)
}

// classify builds the bus event for a path: entity kind from the root it
// lives under, project from its directory, id from the index when it is
// unambiguous.
func (w *Watcher) classify(path string, action bus.Action) bus.Event {
	roots := w.store.Roots()

	eventType := bus.TypeMemoryChange
	project := ""
	if strings.HasPrefix(path, roots.Tasks+string(filepath.Separator)) {
		eventType = bus.TypeTaskChange
		project = relProject(roots.Tasks, path)
	} else {
		project = relProject(roots.Memories, path)
	}

	data := bus.Data{Action: action, File: path, Project: project}
	if id, ok := w.store.EntityAt(path); ok {
		data.ID = id
	}
	return bus.Event{Type: eventType, Data: data}
}

// addDirWatch registers a new directory, retrying with backoff: the
// directory may be renamed into place and not yet visible.
func (w *Watcher) addDirWatch(ctx context.Context, dir string) {
	if err := w.fw.Add(dir); err == nil {
		w.logger.Debug("watching new directory", "dir", dir)
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for _, delay := range []time.Duration{50 * time.Millisecond, 100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond} {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				if err := w.fw.Add(dir); err == nil {
					w.logger.Debug("watching new directory", "dir", dir, "after", delay)
					return
				}
			}
		}
		w.logger.Warn("could not watch new directory", "dir", dir)
	}()
}

// Close stops the loop, flushes pending debounced work, and releases the
// fsnotify handle.
func (w *Watcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	err := w.fw.Close()
	w.wg.Wait()
	w.debounce.Close()
	return err
}

func relProject(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return ""
	}
	if parts := strings.Split(filepath.ToSlash(rel), "/"); len(parts) > 1 {
		return parts[0]
	}
	return "default"
}
