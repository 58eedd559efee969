//go:build !windows

package manager

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/friendfinder/svcman/internal/config"
	"github.com/friendfinder/svcman/internal/dbmon"
)

func sqliteOpen(string) (*sql.DB, error) {
	return sql.Open("sqlite", ":memory:")
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func testConfig(t *testing.T, script string) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{
			Port:          "18080",
			PythonPath:    "/bin/sh",
			EntryPath:     script,
			HealthPort:    "0",
			ShutdownGrace: 200 * time.Millisecond,
			DrainTimeout:  time.Second,
			ReadTimeout:   time.Second,
			WriteTimeout:  time.Second,
			IdleTimeout:   time.Second,
		},
		Database: config.DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			DBName:        "friendfinder",
			CheckInterval: 50 * time.Millisecond,
			MaxRetries:    2,
			PingTimeout:   time.Second,
		},
		Journal: config.JournalConfig{Path: filepath.Join(t.TempDir(), "journal.db")},
	}
}

// runManager starts m.Run in the background and returns a channel carrying
// its result.
func runManager(ctx context.Context, m *Manager) <-chan error {
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	return done
}

func waitResult(t *testing.T, done <-chan error, within time.Duration) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(within):
		t.Fatal("manager did not finish in time")
		return nil
	}
}

func TestRunGracefulChildExitKeepsManagerAlive(t *testing.T) {
	script := writeScript(t, "exit 0")
	m := New(testConfig(t, script), testLogger())
	m.db.Open = sqliteOpen

	done := runManager(context.Background(), m)

	// The child exits immediately with code 0; that must not bring the
	// manager down.
	require.Eventually(t, func() bool { return !m.child.Running() }, 2*time.Second, 20*time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("manager exited after graceful child exit: %v", err)
	case <-time.After(300 * time.Millisecond):
	}

	// The liveness endpoint keeps answering, reporting the child as down.
	rec := httptest.NewRecorder()
	m.health.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"python_server":false`)
	assert.Contains(t, rec.Body.String(), `"database":true`)

	m.Shutdown()
	assert.NoError(t, waitResult(t, done, 3*time.Second))
}

func TestRunChildCrashIsFatal(t *testing.T) {
	script := writeScript(t, "exit 1")
	m := New(testConfig(t, script), testLogger())
	m.db.Open = sqliteOpen

	err := waitResult(t, runManager(context.Background(), m), 3*time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited with code 1")
}

func TestRunShutdownTerminatesSleepingChild(t *testing.T) {
	script := writeScript(t, "sleep 60")
	m := New(testConfig(t, script), testLogger())
	m.db.Open = sqliteOpen

	done := runManager(context.Background(), m)
	require.Eventually(t, m.child.Running, 2*time.Second, 20*time.Millisecond)

	start := time.Now()
	m.Shutdown()
	assert.NoError(t, waitResult(t, done, 3*time.Second))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRunMissingEntryIsFatal(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "nope.sh"))
	m := New(cfg, testLogger())
	m.db.Open = sqliteOpen

	err := waitResult(t, runManager(context.Background(), m), 3*time.Second)
	require.Error(t, err)
}

func TestRunDatabaseUnreachableAtStartup(t *testing.T) {
	script := writeScript(t, "sleep 60")
	m := New(testConfig(t, script), testLogger())
	m.db.Open = func(string) (*sql.DB, error) {
		return nil, fmt.Errorf("connection refused")
	}

	err := waitResult(t, runManager(context.Background(), m), 3*time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, dbmon.ErrUnreachable))
	assert.Contains(t, err.Error(), "failed to initialize database")
}
