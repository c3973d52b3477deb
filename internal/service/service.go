// Package service runs the supervisor under the host OS's service model:
// a signal loop on unix, the service control manager on Windows.
package service

import (
	"context"
	"time"
)

// Name is the service name registered with the OS.
const Name = "HostSupervisor"

// Service defines the interface for platform-specific service management.
type Service interface {
	// Run starts the service. It blocks until the service is stopped.
	Run(ctx context.Context) error

	// Stop requests the service to stop.
	Stop() error

	// IsService returns true if running as a system service.
	IsService() bool
}

// RunFunc is the supervisor's main loop. It must return once ctx is done.
type RunFunc func(ctx context.Context) error

// Options tune how the service reacts to the OS.
type Options struct {
	// StopTimeout bounds the wait for RunFunc after a stop request.
	StopTimeout time.Duration
	// OnReload is called on SIGHUP (unix) or a parameter-change request (Windows).
	OnReload func()
}

func (o Options) stopTimeout() time.Duration {
	if o.StopTimeout <= 0 {
		return 30 * time.Second
	}
	return o.StopTimeout
}
