package child

import (
	"io"
	"os/exec"
)

// Runner is the narrow surface the supervisor needs from an external
// process: start, terminate, wait, kill. Unit tests substitute a fake so the
// exit-code and grace-period policies can be exercised without spawning real
// binaries.
type Runner interface {
	// Start launches the process. Stdout/stderr must be wired to the given
	// writers before launch.
	Start(stdout, stderr io.Writer) error
	// Terminate requests cooperative shutdown (SIGTERM on unix).
	Terminate() error
	// Kill forcibly ends the process.
	Kill() error
	// Wait blocks until the process exits and returns its exit error.
	Wait() error
	// PID returns the process id, 0 before Start.
	PID() int
}

// execRunner runs a real OS process via os/exec. The child gets its own
// process group so signals reach the whole tree.
type execRunner struct {
	cmd *exec.Cmd
}

func newExecRunner(path string, args []string, env []string) Runner {
	// #nosec G204 -- path and args come from validated config
	cmd := exec.Command(path, args...)
	cmd.Env = env
	cmd.SysProcAttr = sysProcAttr()
	return &execRunner{cmd: cmd}
}

func (r *execRunner) Start(stdout, stderr io.Writer) error {
	r.cmd.Stdout = stdout
	r.cmd.Stderr = stderr
	return r.cmd.Start()
}

func (r *execRunner) Terminate() error {
	if r.cmd.Process == nil {
		return nil
	}
	return terminateProcess(r.cmd.Process)
}

func (r *execRunner) Kill() error {
	if r.cmd.Process == nil {
		return nil
	}
	return killProcess(r.cmd.Process)
}

func (r *execRunner) Wait() error { return r.cmd.Wait() }

func (r *execRunner) PID() int {
	if r.cmd.Process == nil {
		return 0
	}
	return r.cmd.Process.Pid
}
