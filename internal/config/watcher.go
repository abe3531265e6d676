package config

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"intercessio/internal/logging"
)

// debounceWindow collapses the burst of fsnotify events a single editor
// save tends to produce (write, chmod, rename-into-place) into one reload.
const debounceWindow = 200 * time.Millisecond

// Watcher hot-reloads config.toml, re-applying it to a live Config
// whenever the file changes on disk. Grounded on the teacher's
// internal/config.Loader: an fsnotify.Watcher plus a debounce timer
// around the reload callback.
type Watcher struct {
	path     string
	onChange func(Config)
	log      *logging.Logger

	fsw   *fsnotify.Watcher
	mu    sync.Mutex
	timer *time.Timer
	done  chan struct{}
}

// NewWatcher starts watching path's directory (fsnotify watches
// directories, not bind-mounted single files reliably) and invokes
// onChange with the freshly loaded Config after each settled change.
func NewWatcher(path string, onChange func(Config), log *logging.Logger) (*Watcher, error) {
	if log == nil {
		log = logging.New(logging.DefaultConfig())
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := dirOf(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path: path, onChange: onChange, log: log.WithComponent("config-watcher"),
		fsw: fsw, done: make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", "error", err)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceWindow, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.Warn("config reload failed, keeping previous config", "error", err)
		return
	}
	w.log.Info("config reloaded")
	w.onChange(cfg)
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
