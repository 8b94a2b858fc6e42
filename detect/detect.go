// Package detect notices meeting applications starting and stopping by watching marker
// files they create while a call is in progress (lock files, call state files, sockets).
package detect

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

type EventKind int

const (
	AppDetected EventKind = iota + 1
	AppClosed
)

func (k EventKind) String() string {
	switch k {
	case AppDetected:
		return "app-detected"
	case AppClosed:
		return "app-closed"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind EventKind
	App  string
	Path string
	At   time.Time
}

// Marker names a file whose presence means App is in a meeting.
type Marker struct {
	App  string
	Path string
}

// ParseMarker parses "app=path". A bare path uses the file's base name as the app.
func ParseMarker(s string) (Marker, error) {
	app, path, ok := strings.Cut(s, "=")
	if !ok {
		path = app
		app = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	app, path = strings.TrimSpace(app), strings.TrimSpace(path)
	if path == "" || app == "" {
		return Marker{}, fmt.Errorf("invalid marker %q", s)
	}
	return Marker{App: app, Path: filepath.Clean(path)}, nil
}

// Watcher emits AppDetected when a marker appears and AppClosed when it goes away.
type Watcher struct {
	markers map[string]Marker // by clean path
	watcher *fsnotify.Watcher
	events  chan Event
	now     func() time.Time

	mu      sync.Mutex
	present map[string]bool
}

func New(markers []Marker) (*Watcher, error) {
	if len(markers) == 0 {
		return nil, fmt.Errorf("no markers to watch")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		markers: make(map[string]Marker, len(markers)),
		watcher: fw,
		events:  make(chan Event, 16),
		now:     time.Now,
		present: make(map[string]bool),
	}

	dirs := make(map[string]bool)
	for _, m := range markers {
		w.markers[m.Path] = m
		dirs[filepath.Dir(m.Path)] = true
	}
	for dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			fw.Close()
			return nil, fmt.Errorf("failed to create marker directory: %w", err)
		}
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		slog.Info("Watching for meeting apps", "path", dir)
	}

	return w, nil
}

// Events is closed when Run returns.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Run reports markers already present, then watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.events)
	defer w.watcher.Close()

	for path := range w.markers {
		if _, err := os.Stat(path); err == nil {
			w.set(ctx, path, true)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(ctx, event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("File watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleFSEvent(ctx context.Context, event fsnotify.Event) {
	path := filepath.Clean(event.Name)
	if _, ok := w.markers[path]; !ok {
		return
	}

	switch {
	case event.Has(fsnotify.Create):
		w.set(ctx, path, true)
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.set(ctx, path, false)
	}
}

// set records a marker's presence and emits an event when it changes.
func (w *Watcher) set(ctx context.Context, path string, present bool) {
	w.mu.Lock()
	changed := w.present[path] != present
	w.present[path] = present
	w.mu.Unlock()
	if !changed {
		return
	}

	m := w.markers[path]
	ev := Event{Kind: AppClosed, App: m.App, Path: path, At: w.now()}
	if present {
		ev.Kind = AppDetected
	}
	slog.Info("Meeting app state changed", "app", m.App, "event", ev.Kind)

	select {
	case w.events <- ev:
	case <-ctx.Done():
	}
}

// Active lists the apps whose markers are currently present.
func (w *Watcher) Active() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var apps []string
	for path, ok := range w.present {
		if ok {
			apps = append(apps, w.markers[path].App)
		}
	}
	return apps
}
