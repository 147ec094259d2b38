// Package journal records one worker process's session in SQLite: its state
// transitions and the outcome of every test class it ran.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/testworker/internal/storage"
)

// Outcome values stored in unit_log.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// Session describes the worker a journal belongs to.
type Session struct {
	WorkerID    string
	DisplayName string
	Isolation   string
	ConfigHash  string
}

// Unit is one recorded test class.
type Unit struct {
	ClassName  string
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
	Outcome    string
	Error      string
}

type Journal struct {
	db        *sql.DB
	sessionID string
}

// Open opens the database at path and starts a new session row.
func Open(ctx context.Context, path string, s Session) (*Journal, error) {
	db, err := storage.OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	j, err := New(ctx, db, s)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// New starts a session on an already bootstrapped database.
func New(ctx context.Context, db *sql.DB, s Session) (*Journal, error) {
	if s.WorkerID == "" {
		return nil, fmt.Errorf("worker id is empty")
	}
	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var hash any
	if s.ConfigHash != "" {
		hash = s.ConfigHash
	}
	_, err := db.ExecContext(ctx, `
INSERT INTO worker_session(id, worker_id, display_name, isolation, config_hash, started_at)
VALUES(?, ?, ?, ?, ?, ?);
`, id, s.WorkerID, s.DisplayName, s.Isolation, hash, now)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return &Journal{db: db, sessionID: id}, nil
}

func (j *Journal) SessionID() string {
	return j.sessionID
}

// RecordState logs a lifecycle transition and keeps the session's final
// state current. Reaching Stopped ends the session.
func (j *Journal) RecordState(ctx context.Context, state string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT INTO state_log(session_id, state, at) VALUES(?, ?, ?);`, j.sessionID, state, now); err != nil {
		return fmt.Errorf("insert state: %w", err)
	}

	var ended any
	if state == "Stopped" {
		ended = now
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE worker_session
SET final_state = ?, ended_at = COALESCE(?, ended_at)
WHERE id = ?;
`, state, ended, j.sessionID); err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit state: %w", err)
	}
	return nil
}

// RecordUnit logs the outcome of one test class.
func (j *Journal) RecordUnit(ctx context.Context, class string, started, finished time.Time, outcome error) error {
	result := OutcomeOK
	var errText any
	if outcome != nil {
		result = OutcomeFailed
		errText = outcome.Error()
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO unit_log(session_id, class_name, started_at, finished_at, duration_ms, outcome, error)
VALUES(?, ?, ?, ?, ?, ?, ?);
`, j.sessionID, class,
		started.UTC().Format(time.RFC3339Nano),
		finished.UTC().Format(time.RFC3339Nano),
		finished.Sub(started).Milliseconds(),
		result, errText)
	if err != nil {
		return fmt.Errorf("insert unit: %w", err)
	}
	return nil
}

// Units returns the session's recorded units, oldest first.
func (j *Journal) Units(ctx context.Context) ([]Unit, error) {
	rows, err := j.db.QueryContext(ctx, `
SELECT class_name, started_at, finished_at, duration_ms, outcome, error
FROM unit_log
WHERE session_id = ?
ORDER BY id ASC;
`, j.sessionID)
	if err != nil {
		return nil, fmt.Errorf("query units: %w", err)
	}
	defer rows.Close()

	var out []Unit
	for rows.Next() {
		var (
			u                 Unit
			startedS, finishS string
			durationMS        int64
			errText           sql.NullString
		)
		if err := rows.Scan(&u.ClassName, &startedS, &finishS, &durationMS, &u.Outcome, &errText); err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		if u.StartedAt, err = time.Parse(time.RFC3339Nano, startedS); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if u.FinishedAt, err = time.Parse(time.RFC3339Nano, finishS); err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		u.Duration = time.Duration(durationMS) * time.Millisecond
		u.Error = errText.String
		out = append(out, u)
	}
	return out, rows.Err()
}

// FinalState returns the last recorded state and whether the session ended.
func (j *Journal) FinalState(ctx context.Context) (string, bool, error) {
	var state, ended sql.NullString
	err := j.db.QueryRowContext(ctx, `SELECT final_state, ended_at FROM worker_session WHERE id = ?;`, j.sessionID).Scan(&state, &ended)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, fmt.Errorf("session %s not found", j.sessionID)
	}
	if err != nil {
		return "", false, fmt.Errorf("query session: %w", err)
	}
	return state.String, ended.Valid, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}
