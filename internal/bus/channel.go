// Package bus implements the status channel: a file the host process
// rewrites with a JSON status object, watched and republished to typed
// subscribers.
package bus

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"hostsupervisor/internal/logger"
	"hostsupervisor/internal/watch"
)

// Channel watches one bus file.
type Channel struct {
	path  string
	chmod bool

	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	watcher *watch.FileWatcher
}

// Subscription receives decoded messages on C until Unsubscribe.
type Subscription struct {
	C  <-chan Message
	ch chan Message
	c  *Channel
}

// New creates a channel for path. With chmod set, Prepare makes the file
// world-writable.
func New(path string, chmod bool) *Channel {
	return &Channel{
		path:  path,
		chmod: chmod,
		subs:  make(map[*Subscription]struct{}),
	}
}

// Path returns the bus file.
func (c *Channel) Path() string { return c.path }

// Prepare creates the bus file if it does not exist.
func (c *Channel) Prepare() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if c.chmod {
		// umask strips the create mode
		return os.Chmod(c.path, 0666)
	}
	return nil
}

// Start arms the watcher. Only write notifications are acted on.
func (c *Channel) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watcher != nil {
		return nil
	}

	w, err := watch.New(c.path, fsnotify.Write, func(fsnotify.Event) { c.poll() })
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		w.Stop()
		return err
	}
	c.watcher = w
	return nil
}

// Stop disarms the watcher and closes every subscription.
func (c *Channel) Stop() error {
	c.mu.Lock()
	w := c.watcher
	c.watcher = nil
	c.mu.Unlock()

	var err error
	if w != nil {
		err = w.Stop()
	}

	c.mu.Lock()
	for s := range c.subs {
		delete(c.subs, s)
		close(s.ch)
	}
	c.mu.Unlock()
	return err
}

// Reset truncates the bus so a relaunch cannot observe a stale status.
func (c *Channel) Reset() error {
	return os.WriteFile(c.path, nil, 0666)
}

// Subscribe registers a lane with the given buffer. Messages that do not
// fit are dropped for that lane.
func (c *Channel) Subscribe(buffer int) *Subscription {
	ch := make(chan Message, buffer)
	s := &Subscription{C: ch, ch: ch, c: c}
	c.mu.Lock()
	c.subs[s] = struct{}{}
	c.mu.Unlock()
	return s
}

// Unsubscribe removes the lane and closes C. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if _, ok := s.c.subs[s]; ok {
		delete(s.c.subs, s)
		close(s.ch)
	}
}

func (c *Channel) poll() {
	raw, err := ReadWindow(c.path)
	if err != nil {
		log := logger.WithComponent("status-channel")
		log.Warn().Err(err).Str("path", c.path).Msg("Failed to read bus file")
		return
	}
	c.handle(raw)
}

func (c *Channel) handle(raw []byte) {
	log := logger.WithComponent("status-channel")

	msg, ok, err := Decode(raw)
	if err != nil {
		log.Error().Err(err).Msg("Failed to parse bus content")
		return
	}
	if !ok {
		return
	}
	log.Info().Interface("message", msg.Raw).Msg("Received message from host")
	c.publish(msg)
}

func (c *Channel) publish(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for s := range c.subs {
		select {
		case s.ch <- msg:
		default:
			log := logger.WithComponent("status-channel")
			log.Debug().Msg("Subscriber lane full, message dropped")
		}
	}
}
