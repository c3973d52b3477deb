// Package procrun spawns child processes, tracks every live one, and tears
// them down with a soft terminate followed by a hard kill.
package procrun

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"hostsupervisor/internal/logger"
)

// StdioMode selects what the child's stdout and stderr are connected to.
type StdioMode int

const (
	// StdioPipe scans output line by line into Command.OnLine.
	StdioPipe StdioMode = iota
	// StdioInherit shares the supervisor's stdout and stderr.
	StdioInherit
	// StdioIgnore discards output.
	StdioIgnore
)

// Stream identifies which output a line came from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// LineFunc receives one line of child output. Stdout and stderr are
// scanned on separate goroutines, so it must be safe for concurrent use.
type LineFunc func(stream Stream, line string)

// Command describes a child process.
type Command struct {
	Path    string
	Args    []string
	Dir     string
	Env     []string // nil inherits the supervisor's environment
	Stdio   StdioMode
	Timeout time.Duration // Run only; zero means no deadline
	OnLine  LineFunc
}

// maxLine bounds a single scanned line.
const maxLine = 1 << 20

// Runner owns the live set of spawned processes.
type Runner struct {
	mu    sync.Mutex
	live  map[*Process]struct{}
	clock clock.Clock
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock replaces the wall clock used for timeouts and grace delays.
func WithClock(c clock.Clock) Option {
	return func(r *Runner) { r.clock = c }
}

// New creates a Runner with an empty live set.
func New(opts ...Option) *Runner {
	r := &Runner{
		live:  make(map[*Process]struct{}),
		clock: clock.New(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start spawns the command. The process is in the live set when Start
// returns and leaves it once it has exited and its output is drained.
func (r *Runner) Start(c Command) (*Process, error) {
	log := logger.WithComponent("process-runner")

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	setProcAttr(cmd)

	var pipes []io.ReadCloser
	switch c.Stdio {
	case StdioInherit:
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	case StdioPipe:
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, &SpawnError{Path: c.Path, Err: err}
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			stdout.Close()
			return nil, &SpawnError{Path: c.Path, Err: err}
		}
		pipes = []io.ReadCloser{stdout, stderr}
	}

	if err := cmd.Start(); err != nil {
		for _, p := range pipes {
			p.Close()
		}
		log.Error().Err(err).Str("path", c.Path).Msg("Failed to spawn process")
		return nil, &SpawnError{Path: c.Path, Err: err}
	}

	p := &Process{
		cmd:  cmd,
		path: c.Path,
		pid:  cmd.Process.Pid,
		done: make(chan struct{}),
	}
	r.add(p)

	log.Info().Int("pid", p.pid).Str("path", c.Path).Strs("args", c.Args).Msg("Process spawned")

	var drained sync.WaitGroup
	for i, pipe := range pipes {
		drained.Add(1)
		go func(stream Stream, rd io.Reader) {
			defer drained.Done()
			scan(rd, stream, c.OnLine)
		}(Stream(i), pipe)
	}

	go func() {
		// Wait closes the pipes, so every line must be read first.
		drained.Wait()
		err := cmd.Wait()
		p.finish(err)
		r.remove(p)
		log.Info().Int("pid", p.pid).Int("code", p.code).Str("path", c.Path).Msg("Process exited")
	}()

	return p, nil
}

func scan(rd io.Reader, stream Stream, fn LineFunc) {
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	for sc.Scan() {
		if fn != nil {
			fn(stream, sc.Text())
		}
	}
	// An over-long line stops the scanner; keep the pipe drained so the
	// child never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, rd)
}

// Run spawns the command and waits for it to exit, returning its exit
// code. A non-zero code is not an error. When Timeout elapses or ctx is
// done first, the process tree is killed and removed from the live set
// before Run returns.
func (r *Runner) Run(ctx context.Context, c Command) (int, error) {
	p, err := r.Start(c)
	if err != nil {
		return -1, err
	}

	var expired <-chan time.Time
	if c.Timeout > 0 {
		timer := r.clock.Timer(c.Timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-p.done:
		return p.code, p.err
	case <-expired:
		log := logger.WithComponent("process-runner")
		log.Warn().
			Int("pid", p.pid).Str("path", c.Path).Dur("timeout", c.Timeout).
			Msg("Process timed out, killing")
		p.Kill()
		r.remove(p)
		return -1, &TimeoutError{Path: c.Path, After: c.Timeout}
	case <-ctx.Done():
		p.Kill()
		r.remove(p)
		return -1, ctx.Err()
	}
}

// Live returns the number of tracked processes.
func (r *Runner) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// Cleanup soft-terminates every tracked process, waits up to grace for
// them to exit, hard-kills the survivors, and empties the live set.
func (r *Runner) Cleanup(grace time.Duration) {
	log := logger.WithComponent("process-runner")

	r.mu.Lock()
	procs := make([]*Process, 0, len(r.live))
	for p := range r.live {
		procs = append(procs, p)
	}
	r.live = make(map[*Process]struct{})
	r.mu.Unlock()

	if len(procs) == 0 {
		return
	}
	log.Info().Int("count", len(procs)).Msg("Terminating tracked processes")

	for _, p := range procs {
		if p.Alive() {
			p.Terminate()
		}
	}

	timer := r.clock.Timer(grace)
	defer timer.Stop()
	expired := false
	for _, p := range procs {
		if expired {
			break
		}
		select {
		case <-p.done:
		case <-timer.C:
			expired = true
		}
	}

	for _, p := range procs {
		if p.Alive() {
			log.Warn().Int("pid", p.pid).Str("path", p.path).Msg("Process ignored terminate, killing")
			p.Kill()
		}
	}
}

func (r *Runner) add(p *Process) {
	r.mu.Lock()
	r.live[p] = struct{}{}
	r.mu.Unlock()
}

func (r *Runner) remove(p *Process) {
	r.mu.Lock()
	delete(r.live, p)
	r.mu.Unlock()
}
