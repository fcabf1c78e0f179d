package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is how long a watcher waits for further changes before
// reporting one.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reports changes to source documents.
//
// Files are watched through their parent directory so that editors which
// replace a file on save are still seen.
type Watcher struct {
	logger   zerolog.Logger
	debounce time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	files   map[string]bool // watched single files
	dirs    map[string]bool // watched directories, any source inside counts
	match   func(name string) bool
}

// NewWatcher creates a watcher. A zero debounce uses DefaultDebounce.
func NewWatcher(logger zerolog.Logger, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		logger:   logger.With().Str("component", "watcher").Logger(),
		debounce: debounce,
		files:    make(map[string]bool),
		dirs:     make(map[string]bool),
		match: func(name string) bool {
			_, err := DetectFormat(name)
			return err == nil
		},
	}
}

// WithMatcher replaces the test deciding which files inside a watched
// directory count as changes. The default accepts any detectable source.
func (w *Watcher) WithMatcher(match func(name string) bool) *Watcher {
	w.match = match
	return w
}

// Watch starts watching paths and calls onChange with the changed path
// after events settle. It returns once watching has started; the watcher
// stops when ctx is done.
func (w *Watcher) Watch(ctx context.Context, paths []string, onChange func(path string)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			_ = fw.Close()
			return fmt.Errorf("failed to resolve %s: %w", path, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			_ = fw.Close()
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}

		dir := abs
		if info.IsDir() {
			w.dirs[abs] = true
		} else {
			w.files[abs] = true
			dir = filepath.Dir(abs)
		}
		if err := fw.Add(dir); err != nil {
			_ = fw.Close()
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	w.mu.Lock()
	w.watcher = fw
	w.mu.Unlock()

	go w.processEvents(ctx, fw, onChange)

	w.logger.Info().Int("paths", len(paths)).Msg("Started watching sources")
	return nil
}

func (w *Watcher) processEvents(ctx context.Context, fw *fsnotify.Watcher, onChange func(string)) {
	var (
		timer   *time.Timer
		pending string
		pmu     sync.Mutex
	)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			_ = w.Stop()
			return

		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			target, relevant := w.relevant(event.Name)
			if !relevant {
				continue
			}

			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Source changed")

			pmu.Lock()
			pending = target
			pmu.Unlock()

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				if ctx.Err() != nil {
					return
				}
				pmu.Lock()
				path := pending
				pmu.Unlock()
				onChange(path)
			})

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// relevant reports whether an event on name concerns a watched source and
// returns the path to hand to the callback.
func (w *Watcher) relevant(name string) (string, bool) {
	abs, err := filepath.Abs(name)
	if err != nil {
		return "", false
	}
	if w.files[abs] {
		return abs, true
	}
	dir := filepath.Dir(abs)
	if w.dirs[dir] && w.match(abs) {
		return dir, true
	}
	return "", false
}

// Stop stops watching.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher == nil {
		return nil
	}
	err := w.watcher.Close()
	w.watcher = nil
	return err
}
