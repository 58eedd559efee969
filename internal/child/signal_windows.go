//go:build windows

package child

import (
	"os"
	"syscall"
)

func sysProcAttr() *syscall.SysProcAttr { return nil }

// Windows has no SIGTERM delivery for unrelated processes; both phases of
// shutdown degrade to Kill.

func terminateProcess(p *os.Process) error { return p.Kill() }

func killProcess(p *os.Process) error { return p.Kill() }
