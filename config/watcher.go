package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Watcher observes the config file for out-of-band edits and logs a
// warning when one is seen. It never reloads the running configuration:
// slot ownership and group topology are fixed at startup (spec.md §9),
// changed only by the admin command surface or a restart.
type Watcher struct {
	w      *fsnotify.Watcher
	path   string
	log    *logrus.Entry
	onEdit func(path string)
	done   chan struct{}
}

// NewWatcher arms an fsnotify watch on cfg's backing file. onEdit, if
// non-nil, is invoked (in the watcher's own goroutine) whenever the file
// is written or renamed out from under the proxy's own Rewrite path;
// Rewrite itself does not suppress these events, so an operator editing
// the file manually and the proxy rewriting it both surface identically
// here, matching the original's lack of any reload-vs-external-edit
// distinction.
func NewWatcher(cfg *Config, log *logrus.Entry, onEdit func(path string)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create fsnotify watcher")
	}
	if err := w.Add(cfg.path); err != nil {
		w.Close()
		return nil, errors.Wrapf(err, "watch %s", cfg.path)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Watcher{
		w:      w,
		path:   cfg.path,
		log:    log.WithField("component", "config.Watcher"),
		onEdit: onEdit,
		done:   make(chan struct{}),
	}, nil
}

// Run blocks, dispatching events until Close is called. Callers run it in
// its own goroutine.
func (w *Watcher) Run() {
	for {
		select {
		case ev, ok := <-w.w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Rename|fsnotify.Remove) != 0 {
				w.log.WithField("op", ev.Op.String()).Warn("config file changed on disk; the proxy does not auto-reload, restart to apply")
				if w.onEdit != nil {
					w.onEdit(w.path)
				}
			}
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("config watcher error")
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) Close() error {
	close(w.done)
	return w.w.Close()
}
