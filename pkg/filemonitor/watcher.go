package filemonitor

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Watcher calls its update function for changes to a set of files.
type Watcher struct {
	notify     *fsnotify.Watcher
	files      map[string]struct{}
	logger     logrus.FieldLogger
	onUpdateFn func(logrus.FieldLogger, fsnotify.Event)
}

// NewWatch sets up monitoring of files. The parent directories are watched
// so that files replaced by rename, as most editors do, are still seen.
func NewWatch(logger logrus.FieldLogger, files []string, onUpdateFn func(logrus.FieldLogger, fsnotify.Event)) (*Watcher, error) {
	notify, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		notify:     notify,
		files:      map[string]struct{}{},
		logger:     logger,
		onUpdateFn: onUpdateFn,
	}
	dirs := map[string]struct{}{}
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			notify.Close()
			return nil, errors.Wrapf(err, "resolving %s", f)
		}
		w.files[abs] = struct{}{}
		dir := filepath.Dir(abs)
		if _, ok := dirs[dir]; ok {
			continue
		}
		dirs[dir] = struct{}{}
		if err := notify.Add(dir); err != nil {
			notify.Close()
			return nil, errors.Wrapf(err, "watching %s", dir)
		}
		logger.Debugf("monitoring path '%v'", dir)
	}
	return w, nil
}

// relevant reports whether the event changed the content of a watched file.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	_, ok := w.files[abs]
	return ok
}

// Run delivers events until ctx is done, then releases the watcher.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.notify.Close() // always returns nil for the error
			w.logger.Debug("terminating watcher")
			return
		case event, ok := <-w.notify.Events:
			if !ok {
				return
			}
			w.logger.Debugf("watcher got event: %v", event)
			if w.onUpdateFn != nil && w.relevant(event) {
				w.onUpdateFn(w.logger, event)
			}
		case err, ok := <-w.notify.Errors:
			if !ok {
				return
			}
			w.logger.Warnf("watcher got error: %v", err)
		}
	}
}
