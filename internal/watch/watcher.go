// Package watch notifies callers when a single file changes on disk.
package watch

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"hostsupervisor/internal/logger"
)

// Default ops react to in-place rewrites and atomic replace-by-rename.
const Default = fsnotify.Write | fsnotify.Create

// FileWatcher watches the parent directory of one file and calls onChange
// for events on that file whose op intersects the mask.
type FileWatcher struct {
	path     string
	ops      fsnotify.Op
	watcher  *fsnotify.Watcher
	onChange func(fsnotify.Event)

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	stopped  chan struct{}
}

// New creates a watcher for path. A zero ops mask means Default.
func New(path string, ops fsnotify.Op, onChange func(fsnotify.Event)) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if ops == 0 {
		ops = Default
	}
	return &FileWatcher{
		path:     path,
		ops:      ops,
		watcher:  w,
		onChange: onChange,
		stopChan: make(chan struct{}),
		stopped:  make(chan struct{}),
	}, nil
}

// Path returns the watched file.
func (fw *FileWatcher) Path() string { return fw.path }

// Start begins delivering events. Calling it twice is a no-op.
func (fw *FileWatcher) Start() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.running {
		return nil
	}

	if err := fw.watcher.Add(filepath.Dir(fw.path)); err != nil {
		return err
	}
	fw.running = true

	log := logger.WithComponent("file-watcher")
	log.Debug().Str("path", fw.path).Msg("Started watching file")

	go fw.loop()
	return nil
}

// Stop ends the watch loop and waits for it to exit. onChange is not
// called after Stop returns.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return fw.watcher.Close()
	}
	fw.running = false
	fw.mu.Unlock()

	close(fw.stopChan)
	err := fw.watcher.Close()
	<-fw.stopped
	return err
}

// IsRunning reports whether the watch loop is active.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

func (fw *FileWatcher) loop() {
	defer close(fw.stopped)

	log := logger.WithComponent("file-watcher")
	filename := filepath.Base(fw.path)

	for {
		select {
		case <-fw.stopChan:
			log.Debug().Str("path", fw.path).Msg("File watcher stopped")
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if event.Name == "" || filepath.Base(event.Name) != filename {
				continue
			}
			if event.Op&fw.ops == 0 {
				continue
			}
			if fw.onChange != nil {
				fw.onChange(event)
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Str("path", fw.path).Msg("File watcher error")
		}
	}
}
