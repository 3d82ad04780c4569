// Package watcher produces filesystem change notifications for new files
// and directories appearing under a monitored root.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Event is one filesystem notification under the monitored root.
type Event struct {
	Path string
	Op   fsnotify.Op
}

// ErrRootLost is reported when the monitored root itself disappears. The
// session is over; the scheduler recreates the watcher on next start.
var ErrRootLost = errors.New("monitored root no longer watchable")

// Watcher emits create/rename events under root, recursively. It does not
// de-duplicate bursts; debouncing is the scheduler's responsibility.
type Watcher struct {
	root    string
	watcher *fsnotify.Watcher
	logger  zerolog.Logger

	Events chan Event
	Errors chan error
}

// New creates a watcher for root and registers every existing directory
// beneath it.
func New(root string, logger zerolog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		root:    root,
		watcher: fsw,
		logger:  logger,
		Events:  make(chan Event, 64),
		Errors:  make(chan error, 1),
	}

	if err := w.addRecursive(root); err != nil {
		fsw.Close()
		return nil, err
	}

	return w, nil
}

// Run pumps fsnotify events into the Events channel until ctx is cancelled
// or the root becomes unwatchable. It blocks; run it in its own goroutine.
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.Events)
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)

			if event.Op.Has(fsnotify.Remove) && filepath.Clean(event.Name) == filepath.Clean(w.root) {
				w.reportFatal(fmt.Errorf("%w: %s removed", ErrRootLost, w.root))
				return
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if _, statErr := os.Stat(w.root); statErr != nil {
				w.reportFatal(fmt.Errorf("%w: %v", ErrRootLost, statErr))
				return
			}
			w.logger.Warn().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) && !event.Op.Has(fsnotify.Write) {
		return
	}

	// New directories must be registered before their contents arrive.
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.logger.Warn().Err(err).Str("path", event.Name).Msg("Failed to watch new directory")
			}
		}
	}

	select {
	case w.Events <- Event{Path: event.Name, Op: event.Op}:
	default:
		// Bursts beyond the buffer are dropped; the polling loop still
		// catches anything missed here.
		w.logger.Debug().Str("path", event.Name).Msg("Dropped watcher event, buffer full")
	}
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("failed to walk %s: %w", path, err)
		}
		if !entry.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) reportFatal(err error) {
	select {
	case w.Errors <- err:
	default:
	}
}
