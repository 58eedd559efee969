package dbmon

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/friendfinder/svcman/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.DatabaseConfig {
	return config.DatabaseConfig{
		Host:          "localhost",
		Port:          5432,
		DBName:        "friendfinder",
		SSLMode:       "disable",
		CheckInterval: 10 * time.Millisecond,
		MaxRetries:    3,
		PingTimeout:   time.Second,
	}
}

// sqliteOpen stands in for the pgx opener; sqlite gives us a real,
// pingable *sql.DB without a postgres server.
func sqliteOpen(string) (*sql.DB, error) {
	return sql.Open("sqlite", ":memory:")
}

func newTestMonitor(t *testing.T, open func(string) (*sql.DB, error)) *Monitor {
	t.Helper()
	m := New(testConfig(), testLogger(), nil)
	m.Open = open
	m.backoffUnit = time.Millisecond
	return m
}

func TestConnectSuccess(t *testing.T) {
	m := newTestMonitor(t, sqliteOpen)
	require.NoError(t, m.Connect(context.Background()))
	defer func() { _ = m.DB().Close() }()

	assert.NotNil(t, m.DB())
	assert.True(t, m.Healthy(context.Background()))
}

func TestConnectUnreachable(t *testing.T) {
	m := newTestMonitor(t, func(string) (*sql.DB, error) {
		return nil, errors.New("connection refused")
	})
	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.Nil(t, m.DB())
	assert.False(t, m.Healthy(context.Background()))
}

func TestReconnectExhaustsExactlyMaxRetries(t *testing.T) {
	var attempts int
	m := newTestMonitor(t, func(string) (*sql.DB, error) {
		attempts++
		return nil, errors.New("still down")
	})

	// Seed a dead handle so the periodic check takes the reconnect path.
	dead, err := sqliteOpen("")
	require.NoError(t, err)
	require.NoError(t, dead.Close())
	m.handle.Store(dead)

	m.check(context.Background())

	assert.Equal(t, m.cfg.MaxRetries, attempts)
	// The manager keeps running; only Healthy flips.
	assert.False(t, m.Healthy(context.Background()))
}

func TestReconnectSwapsHandle(t *testing.T) {
	var attempts int
	m := newTestMonitor(t, func(dsn string) (*sql.DB, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("not yet")
		}
		return sqliteOpen(dsn)
	})

	dead, err := sqliteOpen("")
	require.NoError(t, err)
	require.NoError(t, dead.Close())
	m.handle.Store(dead)

	m.check(context.Background())

	assert.Equal(t, 3, attempts)
	require.NotNil(t, m.DB())
	defer func() { _ = m.DB().Close() }()
	assert.True(t, m.Healthy(context.Background()))
}

func TestReconnectStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var attempts int
	m := newTestMonitor(t, func(string) (*sql.DB, error) {
		attempts++
		cancel()
		return nil, errors.New("down")
	})
	m.backoffUnit = time.Minute // cancellation must win, not the timer

	err := m.reconnect(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRunClosesHandleOnCancel(t *testing.T) {
	m := newTestMonitor(t, sqliteOpen)
	require.NoError(t, m.Connect(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Nil(t, m.DB())
}

// Concurrent handle swaps and health reads must be race-free.
func TestConcurrentReconnectAndHealthy(t *testing.T) {
	m := newTestMonitor(t, sqliteOpen)
	require.NoError(t, m.Connect(context.Background()))

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				m.Healthy(ctx)
			}
		}()
	}
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = m.reconnect(ctx)
			}
		}()
	}
	wg.Wait()
	require.NotNil(t, m.DB())
	_ = m.DB().Close()
}
