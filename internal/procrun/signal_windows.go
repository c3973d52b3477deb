//go:build windows

package procrun

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// A new process group lets CTRL_BREAK reach the child without also
// hitting the supervisor.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
}

func softTerminate(pid int) error {
	return windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, uint32(pid))
}
