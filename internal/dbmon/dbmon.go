package dbmon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/friendfinder/svcman/internal/config"
	"github.com/friendfinder/svcman/internal/journal"
	"github.com/friendfinder/svcman/internal/metrics"
)

// ErrUnreachable reports that the database could not be reached at startup.
var ErrUnreachable = errors.New("database unreachable")

// healthyTimeout bounds the ping issued on behalf of the liveness endpoint.
const healthyTimeout = 2 * time.Second

// Monitor owns the application database handle. The handle is held in an
// atomic pointer: the monitor replaces it wholesale on reconnect while the
// liveness endpoint reads it concurrently through DB().
type Monitor struct {
	cfg    config.DatabaseConfig
	log    *slog.Logger
	jnl    *journal.Journal
	handle atomic.Pointer[sql.DB]

	// Open opens the underlying handle; it defaults to the pgx driver and
	// is overridable in tests.
	Open func(dsn string) (*sql.DB, error)

	backoffUnit time.Duration
}

func New(cfg config.DatabaseConfig, log *slog.Logger, jnl *journal.Journal) *Monitor {
	return &Monitor{
		cfg:         cfg,
		log:         log.With("component", "dbmon"),
		jnl:         jnl,
		Open:        defaultOpen,
		backoffUnit: time.Second,
	}
}

func defaultOpen(dsn string) (*sql.DB, error) {
	return sql.Open("pgx", dsn)
}

// DB returns the current handle. May be nil before Connect succeeds.
func (m *Monitor) DB() *sql.DB {
	return m.handle.Load()
}

// Connect opens the handle and verifies it with a bounded ping. Failure is
// fatal to the whole manager: nothing else starts without a database.
func (m *Monitor) Connect(ctx context.Context) error {
	m.log.Info("connecting to database", "db", m.cfg.DBName, "host", m.cfg.Host)
	db, err := m.openAndPing(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	m.handle.Store(db)
	metrics.SetDBHealthy(true)
	m.log.Info("database connection established")
	return nil
}

func (m *Monitor) openAndPing(ctx context.Context) (*sql.DB, error) {
	db, err := m.Open(m.cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, m.cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}

// Healthy reports whether a short-timeout ping currently succeeds. Safe to
// call concurrently with Run swapping the handle.
func (m *Monitor) Healthy(ctx context.Context) bool {
	db := m.DB()
	if db == nil {
		return false
	}
	pctx, cancel := context.WithTimeout(ctx, healthyTimeout)
	defer cancel()
	return db.PingContext(pctx) == nil
}

// Run periodically verifies the connection until ctx is cancelled. A failed
// check triggers bounded reconnection; exhausted retries are logged and
// surfaced through Healthy only, never escalated to shutdown.
func (m *Monitor) Run(ctx context.Context) {
	m.log.Info("database monitor started", "interval", m.cfg.CheckInterval)
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.check(ctx)
		case <-ctx.Done():
			m.log.Info("database monitor shutting down")
			if db := m.handle.Swap(nil); db != nil {
				_ = db.Close()
				m.log.Info("database connection closed")
			}
			return
		}
	}
}

func (m *Monitor) check(ctx context.Context) {
	db := m.DB()
	if db != nil {
		pctx, cancel := context.WithTimeout(ctx, m.cfg.PingTimeout)
		err := db.PingContext(pctx)
		cancel()
		if err == nil {
			metrics.SetDBHealthy(true)
			return
		}
		m.log.Warn("database health check failed", "error", err)
	}
	metrics.SetDBHealthy(false)
	m.recordEvent(ctx, journal.KindDBUnhealthy, "")

	if err := m.reconnect(ctx); err != nil {
		m.log.Error("failed to reconnect to database", "error", err)
	}
}

// reconnect attempts up to MaxRetries reconnections with a linearly
// increasing backoff (attempt index times one backoff unit).
func (m *Monitor) reconnect(ctx context.Context) error {
	for attempt := 1; attempt <= m.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.IncDBReconnectAttempt()
		db, err := m.openAndPing(ctx)
		if err == nil {
			if old := m.handle.Swap(db); old != nil {
				_ = old.Close()
			}
			metrics.IncDBReconnect()
			metrics.SetDBHealthy(true)
			m.recordEvent(ctx, journal.KindDBReconnected, fmt.Sprintf("attempt=%d", attempt))
			m.log.Info("database reconnection successful", "attempt", attempt)
			return nil
		}
		m.log.Warn("reconnection attempt failed", "attempt", attempt, "error", err)
		if attempt < m.cfg.MaxRetries {
			if !sleepCtx(ctx, time.Duration(attempt)*m.backoffUnit) {
				return ctx.Err()
			}
		}
	}
	m.recordEvent(ctx, journal.KindDBRetriesExhausted, fmt.Sprintf("retries=%d", m.cfg.MaxRetries))
	return fmt.Errorf("failed to reconnect after %d attempts", m.cfg.MaxRetries)
}

func (m *Monitor) recordEvent(ctx context.Context, kind, detail string) {
	if err := m.jnl.Record(ctx, kind, detail); err != nil {
		m.log.Warn("journal write failed", "kind", kind, "error", err)
	}
}

// sleepCtx sleeps for d, returning false if ctx was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
