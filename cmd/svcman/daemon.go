package main

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
)

// daemonize re-executes the current binary detached from the terminal and
// exits the parent. The child keeps every argument except the daemonization
// flags themselves.
func daemonize(pidFile string, logFile string) error {
	if os.Getppid() == 1 {
		// Already running detached.
		return nil
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	var newArgs []string
	skipNext := false
	for _, arg := range os.Args[1:] {
		if skipNext {
			skipNext = false
			continue
		}
		switch arg {
		case "--daemonize":
			continue
		case "--pidfile", "--logfile":
			skipNext = true
			continue
		}
		newArgs = append(newArgs, arg)
	}
	if pidFile != "" {
		newArgs = append(newArgs, "--pidfile", pidFile)
	}

	// #nosec 204
	cmd := exec.Command(executable, newArgs...)
	configureDaemonAttrs(cmd)
	cmd.Stdin = nil

	if logFile != "" {
		// #nosec 304
		logF, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		cmd.Stdout = logF
		cmd.Stderr = logF
	} else {
		cmd.Stdout = nil
		cmd.Stderr = nil
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon process: %w", err)
	}

	fmt.Printf("Daemon started with PID %d\n", cmd.Process.Pid)
	os.Exit(0)
	return nil
}

func writePidFile(pidFile string, pid int) error {
	// #nosec 302
	f, err := os.OpenFile(pidFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = f.WriteString(strconv.Itoa(pid))
	return err
}

func removePidFile(pidFile string) error {
	if pidFile == "" {
		return nil
	}
	return os.Remove(pidFile)
}
