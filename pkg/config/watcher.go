package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"

	"github.com/poppobuilder/coordinator/pkg/log"
)

// Watcher watches a config file's path for changes and re-parses it on
// every write, delivering the fresh Config on Updates. This is the
// SIGHUP-equivalent reload path: editing the file in place and saving it
// has the same effect as sending the daemon a reload signal.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	updates chan Config
	errs    chan error
	stopCh  chan struct{}
}

// WatchFile opens an fsnotify watch on the file at path itself and starts
// the dispatch loop in the background. The watch follows that file: when an
// editor renames a new file over path, later changes to the new file are
// not seen.
func WatchFile(path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: new watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}

	w := &Watcher{
		path:    path,
		watcher: fw,
		updates: make(chan Config, 1),
		errs:    make(chan error, 1),
		stopCh:  make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	logger := log.WithComponent("config")
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				logger.Warn().Err(err).Msg("config reload failed, keeping previous configuration")
				select {
				case w.errs <- err:
				default:
				}
				continue
			}
			select {
			case w.updates <- cfg:
			default:
				// drop the stale pending update, keep only the latest
				select {
				case <-w.updates:
				default:
				}
				w.updates <- cfg
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Msg("config watcher error")
		case <-w.stopCh:
			return
		}
	}
}

// Updates returns the channel of successfully reloaded configurations.
func (w *Watcher) Updates() <-chan Config {
	return w.updates
}

// Errors returns the channel of reload failures (the previous config stays
// active when this fires).
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.stopCh)
	return w.watcher.Close()
}
