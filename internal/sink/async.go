package sink

import (
	"sync"
)

// Async hands notifications to a background goroutine so a slow UI never
// stalls a download. Progress samples that do not fit in the queue are
// dropped; every other notification waits for room.
type Async struct {
	next   Sink
	queue  chan func()
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

// NewAsync wraps next with a queue of the given depth.
func NewAsync(next Sink, depth int) *Async {
	a := &Async{
		next:  next,
		queue: make(chan func(), depth),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for fn := range a.queue {
		fn()
	}
}

func (a *Async) send(fn func(), mustDeliver bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	if mustDeliver {
		a.queue <- fn
		return
	}
	select {
	case a.queue <- fn:
	default:
	}
}

func (a *Async) OnInstallLog(line string) {
	a.send(func() { a.next.OnInstallLog(line) }, true)
}

func (a *Async) OnPortAssigned(port uint16) {
	a.send(func() { a.next.OnPortAssigned(port) }, true)
}

func (a *Async) OnDownloadProgress(p Progress) {
	a.send(func() { ReportProgress(a.next, p) }, false)
}

func (a *Async) OnError(err error) {
	a.send(func() { ReportError(a.next, err) }, true)
}

// Close stops accepting notifications and delivers what is queued.
func (a *Async) Close() error {
	a.once.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()
		<-a.done
	})
	return nil
}
