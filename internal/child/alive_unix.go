//go:build !windows

package child

import (
	"bytes"
	"os"
	"runtime"
	"strconv"
	"syscall"
)

// processAlive probes the process table with signal 0. A quickly-exiting
// child lingers as a zombie on Linux until it is reaped; treat that as dead.
func processAlive(pid int) bool {
	if runtime.GOOS == "linux" && isZombie(pid) {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

func isZombie(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}
