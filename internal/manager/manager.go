package manager

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/friendfinder/svcman/internal/child"
	"github.com/friendfinder/svcman/internal/config"
	"github.com/friendfinder/svcman/internal/dbmon"
	"github.com/friendfinder/svcman/internal/health"
	"github.com/friendfinder/svcman/internal/journal"
)

// Manager wires the long-running components together: database monitor,
// child supervisor, liveness server and signal watcher all share one
// cancellation context and are joined through a WaitGroup before Run
// returns.
type Manager struct {
	cfg    *config.Config
	log    *slog.Logger
	jnl    *journal.Journal
	db     *dbmon.Monitor
	child  *child.Supervisor
	health *health.Server

	wg     sync.WaitGroup
	cancel context.CancelFunc

	failOnce sync.Once
	fatalErr error
}

func New(cfg *config.Config, log *slog.Logger) *Manager {
	m := &Manager{cfg: cfg, log: log}
	if cfg.Journal.Path != "" {
		jnl, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			// The journal is best-effort; run without it.
			log.Warn("failed to open journal, continuing without it", "path", cfg.Journal.Path, "error", err)
		} else {
			m.jnl = jnl
		}
	}
	m.db = dbmon.New(cfg.Database, log, m.jnl)
	m.child = child.New(cfg.Server, cfg.Database, log, m.jnl)
	m.health = health.New(cfg.Server, log, m.db, m.child)
	return m
}

// Run starts everything and blocks until all components have shut down.
// Database initialization is fully synchronous and must succeed before any
// component starts. The returned error is the first fatal condition, or nil
// for a signal-initiated graceful shutdown.
func (m *Manager) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	defer cancel()

	m.log.Info("starting service manager")
	if m.jnl != nil {
		if err := m.jnl.EnsureSchema(ctx); err != nil {
			m.log.Warn("journal schema setup failed", "error", err)
			m.jnl = nil
		}
	}
	m.record(ctx, journal.KindManagerStart, "")

	if err := m.db.Connect(ctx); err != nil {
		m.record(ctx, journal.KindShutdown, "reason=db_unreachable")
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	m.goComponent("database monitor", func() {
		m.db.Run(ctx)
	})
	m.goComponent("child supervisor", func() {
		if err := m.child.Run(ctx); err != nil {
			m.fail(err)
		}
	})
	m.goComponent("liveness server", func() {
		m.health.Run(ctx)
	})
	m.goComponent("signal watcher", func() {
		m.watchSignals(ctx)
	})

	m.log.Info("service manager started")
	m.wg.Wait()

	m.record(context.Background(), journal.KindShutdown, shutdownDetail(m.fatalErr))
	if err := m.jnl.Close(); err != nil {
		m.log.Warn("journal close failed", "error", err)
	}
	m.log.Info("all components have shut down")
	return m.fatalErr
}

// Shutdown triggers the shared cancellation signal. Idempotent.
func (m *Manager) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
}

// goComponent runs fn in a goroutine joined by Run. A panic inside any
// component is logged with the component's name and converted into global
// cancellation, so one failure tears the whole manager down instead of
// leaving it half-alive.
func (m *Manager) goComponent(name string, fn func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				m.log.Error("component panicked", "component", name, "panic", r)
				m.fail(fmt.Errorf("panic in %s: %v", name, r))
			}
		}()
		fn()
	}()
}

// fail records the first fatal error and triggers cancellation exactly once.
func (m *Manager) fail(err error) {
	m.failOnce.Do(func() {
		m.fatalErr = err
		m.log.Error("fatal failure, initiating shutdown", "error", err)
		m.cancel()
	})
}

// watchSignals blocks on OS termination signals. Interrupt and terminate
// both take the same graceful-shutdown path.
func (m *Manager) watchSignals(ctx context.Context) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(ch)

	select {
	case sig := <-ch:
		m.log.Info("shutdown signal received, initiating graceful shutdown", "signal", sig.String())
		m.cancel()
	case <-ctx.Done():
	}
}

func (m *Manager) record(ctx context.Context, kind, detail string) {
	if err := m.jnl.Record(ctx, kind, detail); err != nil {
		m.log.Warn("journal write failed", "kind", kind, "error", err)
	}
}

func shutdownDetail(err error) string {
	if err != nil {
		return "reason=" + err.Error()
	}
	return "reason=signal"
}
