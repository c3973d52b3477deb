// Package sink delivers supervisor notifications to whatever UI is
// attached: install log lines, download progress, the assigned port, and
// errors the user should see.
package sink

import (
	"sync"
)

// Sink is the minimum a collaborator must implement.
type Sink interface {
	OnInstallLog(line string)
	OnPortAssigned(port uint16)
}

// ProgressSink is implemented by sinks that render download progress.
type ProgressSink interface {
	OnDownloadProgress(p Progress)
}

// ErrorSink is implemented by sinks that surface failures to the user.
type ErrorSink interface {
	OnError(err error)
}

// Progress is one download progress sample.
type Progress struct {
	Name        string
	Downloaded  int64
	Total       int64 // -1 when the server sent no length
	BytesPerSec float64
}

// Percent returns completion in [0,100], or -1 when Total is unknown.
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return -1
	}
	return float64(p.Downloaded) * 100 / float64(p.Total)
}

// ReportProgress forwards p if s renders progress.
func ReportProgress(s Sink, p Progress) {
	if ps, ok := s.(ProgressSink); ok {
		ps.OnDownloadProgress(p)
	}
}

// ReportError forwards err if s surfaces errors.
func ReportError(s Sink, err error) {
	if es, ok := s.(ErrorSink); ok {
		es.OnError(err)
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) OnInstallLog(string)   {}
func (Nop) OnPortAssigned(uint16) {}

// Multi fans out to every sink in order.
type Multi []Sink

func (m Multi) OnInstallLog(line string) {
	for _, s := range m {
		s.OnInstallLog(line)
	}
}

func (m Multi) OnPortAssigned(port uint16) {
	for _, s := range m {
		s.OnPortAssigned(port)
	}
}

func (m Multi) OnDownloadProgress(p Progress) {
	for _, s := range m {
		ReportProgress(s, p)
	}
}

func (m Multi) OnError(err error) {
	for _, s := range m {
		ReportError(s, err)
	}
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu       sync.Mutex
	lines    []string
	ports    []uint16
	progress []Progress
	errs     []error
}

func (r *Recorder) OnInstallLog(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

func (r *Recorder) OnPortAssigned(port uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ports = append(r.ports, port)
}

func (r *Recorder) OnDownloadProgress(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, p)
}

func (r *Recorder) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

// Lines returns a copy of the recorded install log lines.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

// Ports returns a copy of the recorded ports.
func (r *Recorder) Ports() []uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint16(nil), r.ports...)
}

// Progress returns a copy of the recorded progress samples.
func (r *Recorder) Progress() []Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Progress(nil), r.progress...)
}

// Errors returns a copy of the recorded errors.
func (r *Recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}
