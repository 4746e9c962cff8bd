// Package watch turns filesystem events under a workspace root into
// debounced batches of workspace.Change values. Batches are ready to feed
// straight into an incremental rebuild: changed and created files carry only
// their FileID (the consumer re-reads and re-hashes content), removed and
// renamed-away files carry Removed.
package watch

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jward/understory/internal/workspace"
)

// Handler receives one deduplicated batch per debounce window. It runs on
// the watcher's goroutine; a slow handler delays the next batch but never
// loses events while the buffer has room.
type Handler func(changes []workspace.Change)

const (
	defaultDebounce = 250 * time.Millisecond
	defaultBuffer   = 256
)

// ignoreDirs matches the directories workspace discovery skips, so a watched
// tree and a discovered tree agree on which files exist.
var ignoreDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
}

// Watcher observes a directory tree recursively and reports Python file
// changes as workspace.Change batches.
type Watcher struct {
	root     string
	handler  Handler
	debounce time.Duration
	excludes []string
	log      *slog.Logger

	fsw     *fsnotify.Watcher
	pending chan workspace.Change
	done    chan struct{}

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period after the last event before a batch is
// delivered. Values below 1ms fall back to the default.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d >= time.Millisecond {
			w.debounce = d
		}
	}
}

// WithExcludes adds glob patterns matched against relative paths and path
// segments, mirroring workspace discovery excludes.
func WithExcludes(patterns ...string) Option {
	return func(w *Watcher) {
		w.excludes = append(w.excludes, patterns...)
	}
}

// WithLogger replaces the default discarding logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// New creates a watcher rooted at dir. The handler must be non-nil; it is
// invoked once per debounce window with every distinct file that changed.
func New(dir string, handler Handler, opts ...Option) (*Watcher, error) {
	if handler == nil {
		return nil, fmt.Errorf("watch: nil handler")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("watch: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch: root %s is not a directory", abs)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: init fsnotify: %w", err)
	}
	w := &Watcher{
		root:     abs,
		handler:  handler,
		debounce: defaultDebounce,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		fsw:      fsw,
		pending:  make(chan workspace.Change, defaultBuffer),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Root returns the absolute directory being watched.
func (w *Watcher) Root() string {
	return w.root
}

// Start registers the directory tree and begins delivering batches. It
// returns once watching is active; delivery continues until Stop is called
// or ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return fmt.Errorf("watch: already started")
	}
	w.started = true
	w.mu.Unlock()

	if err := w.addRecursive(w.root); err != nil {
		return fmt.Errorf("watch: register tree: %w", err)
	}
	go w.readEvents(ctx)
	go w.flushLoop(ctx)
	w.log.Info("watching", "root", w.root, "debounce", w.debounce)
	return nil
}

// Stop ends event delivery. A final partial batch is flushed to the handler
// before the flush loop exits. Stop is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.fsw.Close()
	})
}

// addRecursive registers dir and every non-ignored subdirectory.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.root && w.skipDir(p, d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("add %s: %w", p, err)
		}
		return nil
	})
}

// skipDir reports whether a directory is outside the watched set.
func (w *Watcher) skipDir(abs, name string) bool {
	if strings.HasPrefix(name, ".") || ignoreDirs[name] {
		return true
	}
	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return true
	}
	return w.excluded(filepath.ToSlash(rel))
}

// excluded matches a relative slash path against the configured patterns,
// both whole and per segment.
func (w *Watcher) excluded(rel string) bool {
	for _, pat := range w.excludes {
		if ok, _ := path.Match(pat, rel); ok {
			return true
		}
		for _, seg := range strings.Split(rel, "/") {
			if ok, _ := path.Match(pat, seg); ok {
				return true
			}
		}
	}
	return false
}

// readEvents drains fsnotify and forwards Python file changes to the
// debounce loop. New directories are registered as they appear.
func (w *Watcher) readEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "err", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if w.skipDir(event.Name, name) {
				return
			}
			if err := w.addRecursive(event.Name); err != nil {
				w.log.Warn("watch new directory", "path", event.Name, "err", err)
			}
			return
		}
	}
	if !strings.HasSuffix(name, ".py") {
		return
	}
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	if w.excluded(rel) {
		return
	}

	change := workspace.Change{ID: workspace.FileID(rel)}
	switch {
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		change.Removed = true
	case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
	default:
		return // chmod and friends
	}

	select {
	case w.pending <- change:
	default:
		w.log.Warn("event buffer full, dropping change", "file", rel)
	}
}

// flushLoop batches pending changes and invokes the handler once the
// debounce window closes. The timer restarts on every new event, so a burst
// of saves produces a single batch.
func (w *Watcher) flushLoop(ctx context.Context) {
	var batch []workspace.Change
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(batch) > 0 {
			deduped := dedupe(batch)
			w.log.Debug("flush", "changes", len(deduped))
			w.handler(deduped)
			batch = batch[:0]
		}
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			batch = drainInto(batch, w.pending)
			flush()
			return
		case <-w.done:
			batch = drainInto(batch, w.pending)
			flush()
			return
		case change := <-w.pending:
			batch = append(batch, change)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			flush()
		}
	}
}

// drainInto empties buffered events so the final flush covers everything
// observed before shutdown.
func drainInto(batch []workspace.Change, pending <-chan workspace.Change) []workspace.Change {
	for {
		select {
		case c := <-pending:
			batch = append(batch, c)
		default:
			return batch
		}
	}
}

// dedupe keeps the latest change per file, preserving first-seen order. A
// save followed by a delete within one window collapses to the delete.
func dedupe(changes []workspace.Change) []workspace.Change {
	seen := make(map[workspace.FileID]int, len(changes))
	out := make([]workspace.Change, 0, len(changes))
	for _, c := range changes {
		if i, ok := seen[c.ID]; ok {
			out[i] = c
			continue
		}
		seen[c.ID] = len(out)
		out = append(out, c)
	}
	return out
}
