package procrun

import (
	"errors"
	"os"
	"os/exec"
	"sync/atomic"

	"github.com/shirou/gopsutil/v3/process"

	"hostsupervisor/internal/logger"
)

// Process is a spawned child. done is closed once it has exited.
type Process struct {
	cmd  *exec.Cmd
	path string
	pid  int
	done chan struct{}

	// set before done is closed
	code int
	err  error

	terminated atomic.Bool
	killed     atomic.Bool
}

func (p *Process) finish(err error) {
	p.code = -1
	if p.cmd.ProcessState != nil {
		p.code = p.cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		p.err = err
	}
	close(p.done)
}

// PID returns the OS process id.
func (p *Process) PID() int { return p.pid }

// Done is closed when the process has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// Wait blocks until exit and returns the exit code (-1 when killed by a
// signal).
func (p *Process) Wait() (int, error) {
	<-p.done
	return p.code, p.err
}

// Alive reports whether the process has not exited yet.
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Terminated reports whether a soft terminate was sent.
func (p *Process) Terminated() bool { return p.terminated.Load() }

// Killed reports whether a hard kill was sent.
func (p *Process) Killed() bool { return p.killed.Load() }

// Terminate asks the process to exit: SIGTERM on unix, CTRL_BREAK on
// Windows.
func (p *Process) Terminate() {
	if !p.Alive() {
		return
	}
	p.terminated.Store(true)
	if err := softTerminate(p.pid); err != nil {
		log := logger.WithComponent("process-runner")
		log.Debug().Err(err).Int("pid", p.pid).Msg("Soft terminate failed")
	}
}

// Kill force-kills the process and its descendants.
func (p *Process) Kill() {
	if !p.Alive() {
		return
	}
	p.killed.Store(true)

	// collect first: once the parent dies its children are reparented
	for _, d := range descendants(int32(p.pid)) {
		_ = d.Kill()
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		log := logger.WithComponent("process-runner")
		log.Warn().Err(err).Int("pid", p.pid).Msg("Kill failed")
	}
}

// descendants lists the process tree below pid, deepest first.
func descendants(pid int32) []*process.Process {
	parent, err := process.NewProcess(pid)
	if err != nil {
		return nil
	}
	kids, err := parent.Children()
	if err != nil {
		return nil
	}
	var out []*process.Process
	for _, k := range kids {
		out = append(out, descendants(k.Pid)...)
		out = append(out, k)
	}
	return out
}
