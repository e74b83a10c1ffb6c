package properties

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// Watcher reloads a File whenever it changes on disk. The file's directory is
// watched rather than the file itself, since the server replaces the file
// instead of writing into it.
type Watcher struct {
	// Reloaded receives a value after each reload attempt, with the error if
	// it failed. Sends are dropped if nobody is receiving.
	Reloaded chan error

	w    *fsnotify.Watcher
	file *File
}

// Watch starts watching the file. The watcher is stopped once the given
// context is canceled.
func Watch(ctx context.Context, file *File) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create watcher")
	}

	if err := watcher.Add(filepath.Dir(file.Path())); err != nil {
		watcher.Close()
		return nil, errors.Wrap(err, "failed to watch dir")
	}

	w := &Watcher{
		Reloaded: make(chan error, 1),
		w:        watcher,
		file:     file,
	}

	go w.watch(ctx)
	return w, nil
}

func (w *Watcher) watch(ctx context.Context) {
	defer w.w.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			w.report(errors.Wrap(err, "inotify error"))

		case evt, ok := <-w.w.Events:
			if !ok {
				return
			}
			if !isFileChange(evt, w.file.Path()) {
				continue
			}
			w.report(w.file.Reload())
		}
	}
}

func (w *Watcher) report(err error) {
	select {
	case w.Reloaded <- err:
	default:
	}
}

// isFileChange returns true if the event touches the file at path in a way
// that changes its contents.
func isFileChange(evt fsnotify.Event, path string) bool {
	if filepath.Clean(evt.Name) != filepath.Clean(path) {
		return false
	}

	const changes = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename
	return evt.Op&changes != 0
}
