package child

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/friendfinder/svcman/internal/config"
	"github.com/friendfinder/svcman/internal/env"
	"github.com/friendfinder/svcman/internal/journal"
	"github.com/friendfinder/svcman/internal/metrics"
)

// ErrEntryNotFound reports that the configured entry script does not exist.
var ErrEntryNotFound = errors.New("child entry script not found")

// Exit classifications. Codes 1 and 2 differ only in log wording; every
// non-zero code is fatal to the whole manager.
const (
	ClassGraceful    = "graceful"
	ClassCrashed     = "crashed"
	ClassConfigError = "config_error"
	ClassUnexpected  = "unexpected"
)

// Supervisor launches and owns the application server subprocess. It is the
// sole writer of the process handle; other components observe it only
// through Running/State.
type Supervisor struct {
	server config.ServerConfig
	db     config.DatabaseConfig
	log    *slog.Logger
	jnl    *journal.Journal
	state  stateVar
	pid    atomic.Int32

	// newRunner is injectable for tests.
	newRunner func(path string, args, environ []string) Runner
}

func New(server config.ServerConfig, db config.DatabaseConfig, log *slog.Logger, jnl *journal.Journal) *Supervisor {
	return &Supervisor{
		server:    server,
		db:        db,
		log:       log.With("component", "child"),
		jnl:       jnl,
		newRunner: newExecRunner,
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State { return s.state.get() }

// Running reports whether the child process is currently running.
func (s *Supervisor) Running() bool { return s.state.get() == StateRunning }

// Alive consults the OS process table rather than the lifecycle state, so it
// catches a child that died before Wait observed the exit.
func (s *Supervisor) Alive() bool {
	pid := int(s.pid.Load())
	if pid == 0 {
		return false
	}
	return processAlive(pid)
}

// Environ builds the child environment: the manager's own environment plus
// the derived contract (PORT and the DB_* variables are the only channel by
// which the child learns how to reach the database), plus config extras.
func (s *Supervisor) Environ() []string {
	e := env.New()
	e.Set("PORT", s.server.Port)
	e.Set("DB_HOST", s.db.Host)
	e.Set("DB_PORT", strconv.Itoa(s.db.Port))
	e.Set("DB_USER", s.db.User)
	e.Set("DB_PASSWORD", s.db.Password)
	e.Set("DB_NAME", s.db.DBName)
	return e.Merge(s.server.Env)
}

// Run spawns the child and blocks until it exits or ctx is cancelled.
// A non-nil return is fatal: the caller must tear the whole manager down.
// Graceful exit (code 0) and cancellation-initiated shutdown return nil.
func (s *Supervisor) Run(ctx context.Context) error {
	if _, err := os.Stat(s.server.EntryPath); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, s.server.EntryPath)
	}

	s.log.Info("starting application server",
		"python", s.server.PythonPath, "entry", s.server.EntryPath, "port", s.server.Port)

	runner := s.newRunner(s.server.PythonPath, []string{s.server.EntryPath}, s.Environ())
	stdout := newLineWriter(s.log, "stdout")
	stderr := newLineWriter(s.log, "stderr")
	if err := runner.Start(stdout, stderr); err != nil {
		return fmt.Errorf("failed to start application server: %w", err)
	}

	s.state.set(StateRunning)
	s.pid.Store(int32(runner.PID()))
	defer s.pid.Store(0)
	metrics.IncChildStart()
	metrics.SetChildRunning(true)
	defer metrics.SetChildRunning(false)
	s.recordEvent(journal.KindChildStart, fmt.Sprintf("pid=%d", runner.PID()))
	s.log.Info("application server started", "pid", runner.PID())

	waitErr := make(chan error, 1)
	go func() { waitErr <- runner.Wait() }()

	select {
	case err := <-waitErr:
		stdout.flush()
		stderr.flush()
		return s.handleExit(err)
	case <-ctx.Done():
		err := s.shutdown(runner, waitErr)
		stdout.flush()
		stderr.flush()
		return err
	}
}

// handleExit classifies a natural exit. Code 0 is graceful and does not
// escalate; the rest of the manager keeps running.
func (s *Supervisor) handleExit(err error) error {
	code := exitCode(err)
	class := classify(code)
	metrics.IncChildExit(class)
	s.recordEvent(journal.KindChildExit, fmt.Sprintf("code=%d class=%s", code, class))

	switch {
	case code == 0:
		s.state.set(StateGracefulExit)
		s.log.Info("application server shut down gracefully")
		return nil
	case code == 1:
		s.state.set(StateFatalExit)
		s.log.Error("application server crashed", "code", code)
	case code == 2:
		s.state.set(StateFatalExit)
		s.log.Error("application server configuration error", "code", code)
	default:
		s.state.set(StateFatalExit)
		s.log.Error("application server unexpected exit", "code", code, "error", err)
	}
	return fmt.Errorf("application server exited with code %d (%s)", code, class)
}

// shutdown is the two-phase cancellation path: request termination, wait up
// to the grace period, then force-kill. Bounded latency, no orphans.
func (s *Supervisor) shutdown(runner Runner, waitErr <-chan error) error {
	s.log.Info("shutting down application server", "grace", s.server.ShutdownGrace)
	if err := runner.Terminate(); err != nil {
		s.log.Warn("failed to signal application server", "error", err)
	}

	timer := time.NewTimer(s.server.ShutdownGrace)
	defer timer.Stop()
	select {
	case <-waitErr:
		s.state.set(StateGracefulExit)
		metrics.IncChildExit(ClassGraceful)
		s.recordEvent(journal.KindChildExit, "class=graceful reason=shutdown")
		s.log.Info("application server shut down gracefully")
	case <-timer.C:
		s.log.Warn("application server shutdown timeout, forcing kill")
		_ = runner.Kill()
		<-waitErr // reap
		s.state.set(StateForcedKill)
		metrics.IncChildExit("forced_kill")
		s.recordEvent(journal.KindChildExit, "class=forced_kill reason=shutdown_timeout")
	}
	return nil
}

func (s *Supervisor) recordEvent(kind, detail string) {
	if err := s.jnl.Record(context.Background(), kind, detail); err != nil {
		s.log.Warn("journal write failed", "kind", kind, "error", err)
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ec interface{ ExitCode() int }
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return -1
}

func classify(code int) string {
	switch code {
	case 0:
		return ClassGraceful
	case 1:
		return ClassCrashed
	case 2:
		return ClassConfigError
	default:
		return ClassUnexpected
	}
}
