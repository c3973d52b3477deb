//go:build windows

package service

import (
	"fmt"

	"golang.org/x/sys/windows/svc/eventlog"
)

// ReportStartupError writes a startup error to the Windows Event Log so
// Event Viewer shows it even when the logger never came up.
func ReportStartupError(err error) {
	_ = eventlog.InstallAsEventCreate(Name, eventlog.Error|eventlog.Warning|eventlog.Info)

	elog, openErr := eventlog.Open(Name)
	if openErr != nil {
		return
	}
	defer elog.Close()

	elog.Error(1, fmt.Sprintf("Failed to start: %v", err))
}
