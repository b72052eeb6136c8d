// Package watcher reports content changes to a fixed set of files.
// Bursts of filesystem events are debounced and a change is only reported
// when the bytes on disk differ from the last report.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

const DefaultDebounce = 100 * time.Millisecond

// Event is one observed change. Contents is nil for Removed.
type Event struct {
	Path     string
	Op       Op
	Contents []byte
}

type Options struct {
	Debounce time.Duration
	// Buffer is the capacity of the events channel.
	Buffer int
}

// Watcher watches the parent directories of its files, since editors
// often replace files instead of writing them in place.
type Watcher struct {
	fs     billy.Filesystem
	paths  map[string]bool
	opts   Options
	events chan Event
}

// New watches paths, which must be absolute. fs is used to read contents.
func New(fs billy.Filesystem, paths []string, opts Options) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 16
	}
	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		set[filepath.Clean(p)] = true
	}
	return &Watcher{fs: fs, paths: set, opts: opts, events: make(chan Event, opts.Buffer)}
}

// Events is closed when Run returns.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Run reports the initial state of every existing file as Created, then
// follows changes until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	dirs := map[string]bool{}
	for p := range w.paths {
		dirs[filepath.Dir(p)] = true
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			slog.Warn("cannot watch directory", "dir", dir, "err", err)
		}
	}

	c := newCache()
	ready := make(chan string, len(w.paths))
	deb := newDebouncer(w.opts.Debounce, func(path string) {
		select {
		case ready <- path:
		case <-ctx.Done():
		}
	})
	defer deb.Cancel()

	check := func(path string) bool {
		data, err := util.ReadFile(w.fs, path)
		op, changed := c.update(path, data, err == nil)
		if !changed {
			return true
		}
		ev := Event{Path: path, Op: op}
		if op != Removed {
			ev.Contents = data
		}
		slog.Debug("watched file changed", "path", path, "op", op)
		select {
		case w.events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for _, p := range slices.Sorted(maps.Keys(w.paths)) {
		if !check(p) {
			return nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if path := filepath.Clean(ev.Name); w.paths[path] {
				deb.Trigger(path)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watcher error", "err", err)
		case path := <-ready:
			if !check(path) {
				return nil
			}
		}
	}
}
