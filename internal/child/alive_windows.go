//go:build windows

package child

import "os"

// FindProcess opens a real handle on Windows, so it fails for a pid that no
// longer exists.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}
