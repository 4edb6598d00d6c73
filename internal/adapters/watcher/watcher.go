// Package watcher reloads GeoPackages when files in the package directory
// change.
package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event is a debounced change of one package file.
type Event struct {
	Path      string
	Operation Operation
}

// Operation represents the type of file operation.
type Operation int

// File operation types.
const (
	OpCreate Operation = iota
	OpModify
	OpDelete
)

// String returns the string representation of the operation.
func (o Operation) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Handler receives the events collected during one quiet period, ordered
// by path. Calls never overlap.
type Handler func(ctx context.Context, events []Event)

// Config holds watcher configuration.
type Config struct {
	Paths    []string
	Debounce time.Duration
}

// Watcher watches directories for GeoPackage file changes. Events for
// the same file are merged until no event arrived for the debounce
// duration.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	handler   Handler
	logger    *slog.Logger
	paths     []string
	debounce  time.Duration

	mu      sync.Mutex
	pending map[string]Operation
	timer   *time.Timer

	// serializes handler calls
	handlerMu sync.Mutex
	wg        sync.WaitGroup
}

// New creates a new file watcher.
func New(cfg Config, handler Handler, logger *slog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = 500 * time.Millisecond
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		handler:   handler,
		logger:    logger,
		paths:     cfg.Paths,
		debounce:  cfg.Debounce,
		pending:   make(map[string]Operation),
	}, nil
}

// Start watches the configured paths until ctx is done or Stop is
// called. Paths that cannot be watched are logged and skipped.
func (w *Watcher) Start(ctx context.Context) error {
	for _, path := range w.paths {
		if err := w.AddPath(path); err != nil {
			w.logger.Warn("failed to watch path", "path", path, "error", err)
		}
	}

	w.wg.Add(1)
	go w.eventLoop(ctx)
	return nil
}

// Stop stops the watcher and waits for a running handler.
func (w *Watcher) Stop() error {
	err := w.fsWatcher.Close()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	w.wg.Wait()
	return err
}

func (w *Watcher) eventLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.record(ctx, event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// record merges an fsnotify event into the pending set and restarts the
// quiet period.
func (w *Watcher) record(ctx context.Context, event fsnotify.Event) {
	if !isGeoPackageFile(event.Name) {
		return
	}
	w.logger.Debug("file event", "path", event.Name, "op", event.Op.String())

	op := fsnotifyOpToOperation(event.Op)

	w.mu.Lock()
	defer w.mu.Unlock()

	if existing, ok := w.pending[event.Name]; ok {
		op = mergeOperations(existing, op)
	}
	w.pending[event.Name] = op

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() { w.flush(ctx) })
}

// mergeOperations combines two operations on the same file. A delete
// wins, a recreated file counts as created.
func mergeOperations(existing, next Operation) Operation {
	switch {
	case next == OpDelete:
		return OpDelete
	case existing == OpDelete && next == OpCreate:
		return OpCreate
	case existing == OpDelete:
		return OpModify
	default:
		return existing
	}
}

func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	events := make([]Event, 0, len(w.pending))
	for path, op := range w.pending {
		events = append(events, Event{Path: path, Operation: op})
	}
	w.pending = make(map[string]Operation)
	w.mu.Unlock()

	if len(events) == 0 || ctx.Err() != nil {
		return
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })

	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()

	w.logger.Info("processing file events", "count", len(events))
	w.handler(ctx, events)
}

// fsnotifyOpToOperation converts fsnotify.Op to our Operation type. A
// renamed file is gone from its original location.
func fsnotifyOpToOperation(op fsnotify.Op) Operation {
	switch {
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return OpDelete
	case op.Has(fsnotify.Create):
		return OpCreate
	default:
		return OpModify
	}
}

func isGeoPackageFile(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".gpkg")
}

// AddPath adds a path to watch.
func (w *Watcher) AddPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.fsWatcher.Add(absPath); err != nil {
		return err
	}
	w.logger.Info("watching directory", "path", absPath)
	return nil
}
