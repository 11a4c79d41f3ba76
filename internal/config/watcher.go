package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/statcode-ai/toolguard/internal/logger"
)

// Watcher hot-reloads the config file and republishes parsed configs.
// Reload failures keep the previous config and are logged.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	updates chan *Config
	stop    chan struct{}
	log     *logger.Logger
}

// NewWatcher starts watching the config file's directory. Watching the
// directory instead of the file survives editors that replace the file on
// save.
func NewWatcher(path string) (*Watcher, error) {
	if path == "" {
		path = DefaultPath()
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}

	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		_ = fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	w := &Watcher{
		path:    path,
		watcher: fsWatcher,
		updates: make(chan *Config, 1),
		stop:    make(chan struct{}),
		log:     logger.Global().WithPrefix("config"),
	}

	go w.watchLoop()
	return w, nil
}

// Updates delivers each successfully reloaded config.
func (w *Watcher) Updates() <-chan *Config {
	return w.updates
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.stop)
	return w.watcher.Close()
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.log.Warn("config reload failed, keeping previous config: %v", err)
				continue
			}
			w.log.Info("config reloaded from %s", w.path)
			select {
			case w.updates <- cfg:
			default:
				// Drop the stale pending update and queue the newest.
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
			w.log.Error("config watcher error: %v", err)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
		return false
	}
	return strings.EqualFold(filepath.Clean(event.Name), filepath.Clean(w.path))
}
