//go:build !windows

package service

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"hostsupervisor/internal/logger"
)

// ErrStopTimeout is returned when RunFunc outlives Options.StopTimeout.
var ErrStopTimeout = errors.New("service: run function did not return before stop timeout")

// UnixService drives RunFunc from SIGINT/SIGTERM (stop) and SIGHUP (reload).
type UnixService struct {
	runFunc RunFunc
	opts    Options
	cancel  context.CancelFunc
	mu      sync.Mutex
	stopped bool
}

// NewService creates a new platform-specific service.
func NewService(runFunc RunFunc, opts Options) Service {
	return &UnixService{
		runFunc: runFunc,
		opts:    opts,
	}
}

// Run starts the service and handles signals for graceful shutdown.
func (s *UnixService) Run(ctx context.Context) error {
	log := logger.WithComponent("unix-service")

	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	done := make(chan error, 1)
	go func() {
		done <- s.runFunc(ctx)
	}()

	log.Info().Msg("Service started")

	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				log.Info().Msg("Received reload signal")
				if s.opts.OnReload != nil {
					s.opts.OnReload()
				}
				continue
			}

			log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
			s.Stop()
			return s.awaitStop(done, sigChan)

		case err := <-done:
			return err
		}
	}
}

func (s *UnixService) awaitStop(done <-chan error, sigChan <-chan os.Signal) error {
	log := logger.WithComponent("unix-service")
	timer := time.NewTimer(s.opts.stopTimeout())
	defer timer.Stop()

	for {
		select {
		case err := <-done:
			return err
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				continue
			}
			log.Warn().Str("signal", sig.String()).Msg("Received second signal, forcing exit")
			return nil
		case <-timer.C:
			log.Warn().Msg("Timeout waiting for supervisor to stop")
			return ErrStopTimeout
		}
	}
}

// Stop requests the service to stop.
func (s *UnixService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil && !s.stopped {
		s.stopped = true
		s.cancel()
	}
	return nil
}

// IsService reports whether stdin is detached from a terminal, which is
// how systemd and launchd start their units.
func (s *UnixService) IsService() bool {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) == 0
}
