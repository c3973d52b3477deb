//go:build windows

package service

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sys/windows/svc"

	"hostsupervisor/internal/logger"
)

// WindowsService implements the Windows service interface.
type WindowsService struct {
	runFunc RunFunc
	opts    Options
	cancel  context.CancelFunc
	mu      sync.Mutex
	stopped bool
}

// NewService creates a new platform-specific service.
func NewService(runFunc RunFunc, opts Options) Service {
	return &WindowsService{
		runFunc: runFunc,
		opts:    opts,
	}
}

// Run starts the service.
func (s *WindowsService) Run(ctx context.Context) error {
	if !s.IsService() {
		s.mu.Lock()
		ctx, s.cancel = context.WithCancel(ctx)
		s.mu.Unlock()
		return s.runFunc(ctx)
	}
	return svc.Run(Name, s)
}

// Stop requests the service to stop.
func (s *WindowsService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil && !s.stopped {
		s.stopped = true
		s.cancel()
	}
	return nil
}

// IsService returns true if running as a Windows service.
func (s *WindowsService) IsService() bool {
	isService, err := svc.IsWindowsService()
	if err != nil {
		return false
	}
	return isService
}

// Execute implements the svc.Handler interface.
func (s *WindowsService) Execute(args []string, r <-chan svc.ChangeRequest, changes chan<- svc.Status) (svcSpecificEC bool, exitCode uint32) {
	log := logger.WithComponent("windows-service")

	const accepted = svc.AcceptStop | svc.AcceptShutdown | svc.AcceptParamChange

	changes <- svc.Status{State: svc.StartPending}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- s.runFunc(ctx)
	}()

	changes <- svc.Status{State: svc.Running, Accepts: accepted}
	log.Info().Msg("Windows service started")

	for {
		select {
		case c := <-r:
			switch c.Cmd {
			case svc.Interrogate:
				changes <- c.CurrentStatus

			case svc.ParamChange:
				log.Info().Msg("Received parameter change, reloading")
				if s.opts.OnReload != nil {
					s.opts.OnReload()
				}
				changes <- c.CurrentStatus

			case svc.Stop, svc.Shutdown:
				log.Info().Msg("Received stop request from service control manager")
				changes <- svc.Status{State: svc.StopPending}
				s.Stop()

				select {
				case <-done:
				case <-time.After(s.opts.stopTimeout()):
					log.Warn().Msg("Timeout waiting for supervisor to stop")
				}

				changes <- svc.Status{State: svc.Stopped}
				return false, 0

			default:
				log.Warn().Int("cmd", int(c.Cmd)).Msg("Unexpected service control command")
			}

		case err := <-done:
			changes <- svc.Status{State: svc.Stopped}
			if err != nil {
				log.Error().Err(err).Msg("Supervisor exited with error")
				return true, 1
			}
			return false, 0
		}
	}
}
