//go:build !windows

package child

import (
	"os"
	"syscall"
)

func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// Signals target the process group so interpreter children (e.g. a python
// server that forks workers) are reached too.

func terminateProcess(p *os.Process) error {
	return syscall.Kill(-p.Pid, syscall.SIGTERM)
}

func killProcess(p *os.Process) error {
	return syscall.Kill(-p.Pid, syscall.SIGKILL)
}
