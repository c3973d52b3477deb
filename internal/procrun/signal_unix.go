//go:build !windows

package procrun

import (
	"os/exec"

	"golang.org/x/sys/unix"
)

func setProcAttr(cmd *exec.Cmd) {}

func softTerminate(pid int) error {
	return unix.Kill(pid, unix.SIGTERM)
}
