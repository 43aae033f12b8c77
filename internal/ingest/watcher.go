package ingest

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Op is the kind of change observed in the corpus directory.
type Op int

const (
	OpCreated Op = iota
	OpModified
	OpRemoved
)

func (o Op) String() string {
	switch o {
	case OpCreated:
		return "created"
	case OpModified:
		return "modified"
	case OpRemoved:
		return "removed"
	}
	return "unknown"
}

// Event reports a change to a supported corpus file.
type Event struct {
	Path string
	Op   Op
}

// Watcher reports changes to supported files in a corpus directory. The
// index is never rebuilt from these events; they only mark it stale.
type Watcher struct {
	fs       *fsnotify.Watcher
	supports func(string) bool
	log      *slog.Logger
}

// NewWatcher creates a watcher filtered by the loader's extensions.
func NewWatcher(loader *Loader, log *slog.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{fs: w, supports: loader.Supports, log: log}, nil
}

// Watch starts monitoring dir. The returned channel closes when ctx is done
// or the watcher is closed.
func (w *Watcher) Watch(ctx context.Context, dir string) (<-chan Event, error) {
	if err := w.fs.Add(dir); err != nil {
		return nil, err
	}
	events := make(chan Event, 16)
	go func() {
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.fs.Events:
				if !ok {
					return
				}
				if !w.supports(ev.Name) {
					continue
				}
				var op Op
				switch {
				case ev.Has(fsnotify.Create):
					op = OpCreated
				case ev.Has(fsnotify.Write):
					op = OpModified
				case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
					op = OpRemoved
				default:
					continue
				}
				select {
				case events <- Event{Path: ev.Name, Op: op}:
				case <-ctx.Done():
					return
				}
			case err, ok := <-w.fs.Errors:
				if !ok {
					return
				}
				w.log.Warn("corpus watcher error", "error", err)
			}
		}
	}()
	return events, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fs.Close()
}
