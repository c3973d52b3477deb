package supervisor

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// State is a step of the launch cycle.
type State int

const (
	Idle State = iota
	Initializing
	InstallingDeps
	Starting
	AwaitingReady
	Ready
	ShuttingDown
	Stopped
)

var stateNames = [...]string{
	Idle:           "idle",
	Initializing:   "initializing",
	InstallingDeps: "installing_deps",
	Starting:       "starting",
	AwaitingReady:  "awaiting_ready",
	Ready:          "ready",
	ShuttingDown:   "shutting_down",
	Stopped:        "stopped",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// DefaultIP is reported until the host announces its address.
const DefaultIP = "localhost"

// ServiceStatus is the live endpoint of the host. Port is 0 until the
// first status message of a launch.
type ServiceStatus struct {
	IP   string `json:"ip"`
	Port uint16 `json:"port"`
}

// Endpoint returns ip:port.
func (s ServiceStatus) Endpoint() string {
	return net.JoinHostPort(s.IP, strconv.Itoa(int(s.Port)))
}

// ErrAlreadyRunning is returned by Start outside Idle or Stopped.
var ErrAlreadyRunning = errors.New("supervisor: already running")

// ErrShuttingDown is returned by Start when Shutdown interrupted it.
var ErrShuttingDown = errors.New("supervisor: shutting down")

// NotReadyError is surfaced once when the host has not announced a port
// after the ready warning delay. The supervisor keeps waiting.
type NotReadyError struct {
	After time.Duration
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("host service not ready after %s", e.After)
}

// HostExitError reports the host exiting on its own.
type HostExitError struct {
	Code int
	// Ready is true when the host had announced its port before exiting.
	Ready bool
}

func (e *HostExitError) Error() string {
	if e.Ready {
		return fmt.Sprintf("host service exited with code %d", e.Code)
	}
	return fmt.Sprintf("host service exited with code %d before it was ready", e.Code)
}
