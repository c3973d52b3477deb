// Package supervisor runs the host service through its launch cycle:
// workspace initialization, runtime provisioning, dependency install,
// spawn, ready detection over the status bus, and shutdown.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"hostsupervisor/internal/bus"
	"hostsupervisor/internal/config"
	"hostsupervisor/internal/logger"
	"hostsupervisor/internal/platform"
	"hostsupervisor/internal/procrun"
	"hostsupervisor/internal/provision"
	"hostsupervisor/internal/sink"
)

// ReadyCallback runs once the host has announced its endpoint.
type ReadyCallback func(ctx context.Context, ip string, port uint16) error

// Initializer materializes config files before launch.
type Initializer interface {
	Init() ([]string, error)
}

// Installer brings host dependencies up to date.
type Installer interface {
	Install(ctx context.Context) error
}

// Provisioner keeps runtime bundles installed.
type Provisioner interface {
	EnsureAll(ctx context.Context, bundles []provision.Bundle) error
}

// Options wires a Supervisor. Config, Runner and Bus are required.
type Options struct {
	Config      *config.Config
	Strategy    platform.Strategy
	Runner      *procrun.Runner
	Bus         *bus.Channel
	Sink        sink.Sink
	Workspace   Initializer
	Installer   Installer
	Provisioner Provisioner
	Clock       clock.Clock
	Environ     func() []string
	GOARCH      string
}

// Supervisor owns one host process at a time.
type Supervisor struct {
	cfg         *config.Config
	strategy    platform.Strategy
	runner      *procrun.Runner
	bus         *bus.Channel
	sink        sink.Sink
	workspace   Initializer
	installer   Installer
	provisioner Provisioner
	clock       clock.Clock
	environ     func() []string
	goarch      string
	hostCommand func(cfg *config.Config, environ []string) platform.HostCommand

	mu        sync.Mutex
	state     State
	status    ServiceStatus
	callbacks []ReadyCallback
	launchID  string
	host      *procrun.Process
	ready     chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates an idle Supervisor.
func New(opts Options) *Supervisor {
	s := &Supervisor{
		cfg:         opts.Config,
		strategy:    opts.Strategy,
		runner:      opts.Runner,
		bus:         opts.Bus,
		sink:        opts.Sink,
		workspace:   opts.Workspace,
		installer:   opts.Installer,
		provisioner: opts.Provisioner,
		clock:       opts.Clock,
		environ:     opts.Environ,
		goarch:      opts.GOARCH,
		status:      ServiceStatus{IP: DefaultIP},
		ready:       make(chan struct{}),
	}
	if s.strategy.GOOS == "" {
		s.strategy = platform.Current()
	}
	if s.sink == nil {
		s.sink = sink.Nop{}
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.environ == nil {
		s.environ = os.Environ
	}
	if s.goarch == "" {
		s.goarch = runtime.GOARCH
	}
	s.hostCommand = s.strategy.HostCommand
	return s
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the live endpoint.
func (s *Supervisor) Status() ServiceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LaunchID identifies the current launch cycle in logs.
func (s *Supervisor) LaunchID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.launchID
}

// Ready is closed once the current launch has run its ready callbacks.
func (s *Supervisor) Ready() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// RegisterReadyCallback queues fn for the next ready event. Callbacks
// registered while one is firing wait for the following launch.
func (s *Supervisor) RegisterReadyCallback(fn ReadyCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, fn)
}

// ClearReadyCallbacks drops every queued callback.
func (s *Supervisor) ClearReadyCallbacks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = nil
}

func (s *Supervisor) logger() zerolog.Logger {
	l := logger.WithComponent("supervisor")
	if id := s.LaunchID(); id != "" {
		return l.With().Str("launch_id", id).Logger()
	}
	return l
}

// advance moves to next unless Shutdown has taken over.
func (s *Supervisor) advance(next State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == ShuttingDown || s.state == Stopped {
		return false
	}
	s.state = next
	return true
}

// Start runs the launch cycle up to spawning the host and returns once
// the host is running. Readiness is reported through Ready and the ready
// callbacks. ctx bounds the whole launch cycle.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Idle && s.state != Stopped {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	if s.cancel != nil {
		s.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.launchID = uuid.NewString()
	s.ready = make(chan struct{})
	s.status = ServiceStatus{IP: DefaultIP}
	s.host = nil
	s.state = Initializing
	s.mu.Unlock()

	log := s.logger()
	log.Info().Str("goos", s.strategy.GOOS).Bool("packaged", s.cfg.Packaged).Msg("Starting host service")

	if s.workspace != nil {
		if _, err := s.workspace.Init(); err != nil {
			log.Error().Err(err).Msg("Workspace initialization incomplete")
		}
	}

	if !s.advance(InstallingDeps) {
		return ErrShuttingDown
	}
	s.prepareDependencies(runCtx, log)

	if err := runCtx.Err(); err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state == ShuttingDown || s.state == Stopped {
			return ErrShuttingDown
		}
		log.Warn().Err(err).Msg("Launch cancelled before spawn")
		s.state = Stopped
		return err
	}
	if !s.advance(Starting) {
		return ErrShuttingDown
	}
	return s.spawn(runCtx, log)
}

// prepareDependencies provisions runtime bundles, then installs host
// dependencies. Failures are logged and do not stop the launch.
func (s *Supervisor) prepareDependencies(ctx context.Context, log zerolog.Logger) {
	if s.provisioner != nil {
		bundles := s.strategy.RuntimeBundles(s.cfg, s.goarch)
		if err := s.provisioner.EnsureAll(ctx, bundles); err != nil {
			log.Error().Err(err).Msg("Runtime provisioning failed")
			sink.ReportError(s.sink, err)
		}
	}

	if s.installer != nil {
		if err := s.installer.Install(ctx); err != nil {
			log.Error().Err(err).Msg("Dependency install failed")
			sink.ReportError(s.sink, err)
		}
	}
}

func (s *Supervisor) spawn(ctx context.Context, log zerolog.Logger) error {
	if err := s.bus.Prepare(); err != nil {
		s.fail(fmt.Errorf("prepare bus: %w", err))
		return err
	}
	if err := s.bus.Start(); err != nil {
		s.fail(fmt.Errorf("watch bus: %w", err))
		return err
	}
	// armed before spawn so the first announce cannot be missed
	sub := s.bus.Subscribe(4)

	hc := s.hostCommand(s.cfg, s.environ())
	c := procrun.Command{
		Path:  hc.Path,
		Args:  hc.Args,
		Dir:   hc.Dir,
		Env:   hc.Env,
		Stdio: procrun.StdioPipe,
	}
	if hc.Inherit {
		c.Stdio = procrun.StdioInherit
	} else {
		c.OnLine = procrun.LogLines("host")
	}

	proc, err := s.runner.Start(c)
	if err != nil {
		sub.Unsubscribe()
		s.fail(err)
		return err
	}
	log.Info().Int("pid", proc.PID()).Str("path", hc.Path).Str("bus", s.bus.Path()).Msg("Host spawned")

	s.mu.Lock()
	if s.state != Starting {
		s.mu.Unlock()
		sub.Unsubscribe()
		proc.Kill()
		return ErrShuttingDown
	}
	s.host = proc
	s.state = AwaitingReady
	s.mu.Unlock()

	s.wg.Add(1)
	go s.awaitReady(ctx, proc, sub)
	return nil
}

// fail ends a launch that never got a running host.
func (s *Supervisor) fail(err error) {
	log := s.logger()
	log.Error().Err(err).Msg("Host service failed to start")
	s.mu.Lock()
	if s.state != ShuttingDown {
		s.state = Stopped
	}
	s.mu.Unlock()
	sink.ReportError(s.sink, err)
}

func (s *Supervisor) awaitReady(ctx context.Context, proc *procrun.Process, sub *bus.Subscription) {
	defer s.wg.Done()
	defer sub.Unsubscribe()
	log := s.logger()

	var warn <-chan time.Time
	if d := s.cfg.Timeouts.ReadyWarning; d > 0 {
		t := s.clock.Timer(d)
		defer t.Stop()
		warn = t.C
	}

	for {
		select {
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			if msg.Port() == 0 {
				continue
			}
			sub.Unsubscribe()
			if !s.becomeReady(ctx, msg.Listen) {
				return
			}
			s.watchExit(ctx, proc, true)
			return
		case <-warn:
			warn = nil
			err := &NotReadyError{After: s.cfg.Timeouts.ReadyWarning}
			log.Warn().Err(err).Msg("Still waiting for host status")
			sink.ReportError(s.sink, err)
		case <-proc.Done():
			s.watchExit(ctx, proc, false)
			return
		case <-ctx.Done():
			return
		}
	}
}

// watchExit waits for the host to exit on its own and moves to Stopped.
func (s *Supervisor) watchExit(ctx context.Context, proc *procrun.Process, ready bool) {
	select {
	case <-proc.Done():
	case <-ctx.Done():
		return
	}

	code, _ := proc.Wait()
	log := s.logger()
	s.mu.Lock()
	if s.host != proc || s.state == ShuttingDown || s.state == Stopped {
		s.mu.Unlock()
		return
	}
	if err := s.bus.Reset(); err != nil {
		log.Warn().Err(err).Msg("Failed to reset status channel")
	}
	s.state = Stopped
	s.status = ServiceStatus{IP: DefaultIP}
	s.mu.Unlock()

	err := &HostExitError{Code: code, Ready: ready}
	log.Error().Err(err).Msg("Host service exited")
	sink.ReportError(s.sink, err)
}

// becomeReady records the endpoint, waits out the settle delay and fires
// the queued callbacks. It returns false if the launch was cancelled.
func (s *Supervisor) becomeReady(ctx context.Context, l *bus.Listen) bool {
	log := s.logger()

	ip := l.IP
	if ip == "" {
		ip = DefaultIP
	}
	s.mu.Lock()
	s.status = ServiceStatus{IP: ip, Port: l.Port}
	s.mu.Unlock()
	log.Info().Str("ip", ip).Uint16("port", l.Port).Msg("Host service listening")
	s.sink.OnPortAssigned(l.Port)

	// the host may announce twice while binding
	if d := s.cfg.Timeouts.Settle; d > 0 {
		t := s.clock.Timer(d)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return false
		}
	}

	s.mu.Lock()
	callbacks := s.callbacks
	s.callbacks = nil
	s.mu.Unlock()

	for i, fn := range callbacks {
		s.invoke(ctx, log, i, fn, ip, l.Port)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != AwaitingReady {
		return false
	}
	s.state = Ready
	close(s.ready)
	log.Info().Int("callbacks", len(callbacks)).Msg("Host service ready")
	return true
}

func (s *Supervisor) invoke(ctx context.Context, log zerolog.Logger, i int, fn ReadyCallback, ip string, port uint16) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Int("callback", i).Interface("panic", r).Msg("Ready callback panicked")
		}
	}()
	if err := fn(ctx, ip, port); err != nil {
		log.Error().Int("callback", i).Err(err).Msg("Ready callback failed")
	}
}

// Shutdown terminates the host and every other tracked process, then
// clears the bus. It is a no-op when nothing was started.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Idle || s.state == Stopped || s.state == ShuttingDown {
		s.mu.Unlock()
		return nil
	}
	s.state = ShuttingDown
	host := s.host
	cancel := s.cancel
	s.mu.Unlock()

	log := s.logger()
	log.Info().Msg("Shutting down host service")

	if cancel != nil {
		cancel()
	}

	grace := s.cfg.Timeouts.Grace
	if host != nil && host.Alive() {
		host.Terminate()
		t := s.clock.Timer(grace)
		select {
		case <-host.Done():
		case <-t.C:
		case <-ctx.Done():
		}
		t.Stop()
		if host.Alive() {
			log.Warn().Int("pid", host.PID()).Msg("Host ignored terminate, killing")
			host.Kill()
		}
	}
	s.runner.Cleanup(grace)
	s.wg.Wait()

	var err error
	if rerr := s.bus.Reset(); rerr != nil {
		err = fmt.Errorf("reset bus: %w", rerr)
		log.Warn().Err(rerr).Msg("Failed to reset bus")
	}

	s.mu.Lock()
	s.status = ServiceStatus{IP: DefaultIP}
	s.host = nil
	s.state = Stopped
	s.mu.Unlock()

	log.Info().Msg("Host service stopped")
	return err
}

// Close shuts down and stops watching the bus.
func (s *Supervisor) Close(ctx context.Context) error {
	err := s.Shutdown(ctx)
	if serr := s.bus.Stop(); err == nil {
		err = serr
	}
	return err
}
