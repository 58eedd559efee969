package journal

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Event kinds recorded by the manager.
const (
	KindManagerStart       = "manager_start"
	KindChildStart         = "child_start"
	KindChildExit          = "child_exit"
	KindDBUnhealthy        = "db_unhealthy"
	KindDBReconnected      = "db_reconnected"
	KindDBRetriesExhausted = "db_retries_exhausted"
	KindShutdown           = "shutdown"
)

// Event is one supervisor lifecycle event.
type Event struct {
	ID         int64     `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
	Kind       string    `json:"kind"`
	Detail     string    `json:"detail"`
}

// Journal persists supervisor events to a SQLite file (modernc.org/sqlite,
// CGO-free). Use ":memory:" for in-memory. A nil *Journal is a no-op so the
// journal can be disabled by config.
type Journal struct {
	db *sql.DB
}

// Open opens (or creates) the journal database at path.
func Open(path string) (*Journal, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty journal path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &Journal{db: d}, nil
}

func (j *Journal) EnsureSchema(ctx context.Context) error {
	if j == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS manager_events(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			occurred_at TIMESTAMP NOT NULL,
			kind TEXT NOT NULL,
			detail TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_manager_events_kind ON manager_events(kind);`,
	}
	for _, q := range stmts {
		if _, err := j.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// Record appends one event. Best-effort by contract: callers log failures
// and move on, a broken journal never takes the manager down.
func (j *Journal) Record(ctx context.Context, kind, detail string) error {
	if j == nil {
		return nil
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO manager_events(occurred_at, kind, detail) VALUES($1,$2,$3);`,
		time.Now().UTC(), kind, detail)
	return err
}

// Recent returns the most recent n events, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]Event, error) {
	if j == nil {
		return nil, nil
	}
	if n <= 0 {
		n = 50
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, occurred_at, kind, detail
		FROM manager_events
		ORDER BY id DESC
		LIMIT $1;`, n)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]Event, 0, n)
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.OccurredAt, &e.Kind, &e.Detail); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}
