package db

import (
	"database/sql"
	"fmt"
)

func (db *Database) LogRun(run *PollRun) error {
	return db.withTx("logging poll run", func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			INSERT INTO poll_runs (run_id, started_at, events_seen, events_processed,
			                       actions_executed, errors, error_message, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, run.RunID, formatTime(run.StartedAt), run.EventsSeen, run.EventsProcessed,
			run.ActionsExecuted, run.Errors, run.ErrorMessage, run.DurationMs)
		if err != nil {
			return err
		}
		run.ID, err = res.LastInsertId()
		return err
	})
}

// GetLastRun returns nil, nil if no cycle has been logged yet.
func (db *Database) GetLastRun() (*PollRun, error) {
	var (
		run     PollRun
		started string
	)
	err := db.conn.QueryRow(`
		SELECT id, run_id, started_at, events_seen, events_processed,
		       actions_executed, errors, error_message, duration_ms
		FROM poll_runs ORDER BY id DESC LIMIT 1
	`).Scan(&run.ID, &run.RunID, &started, &run.EventsSeen, &run.EventsProcessed,
		&run.ActionsExecuted, &run.Errors, &run.ErrorMessage, &run.DurationMs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting last run: %w", err)
	}
	run.StartedAt = parseTime(started)
	return &run, nil
}

// GetBackoffState never returns nil; a fresh store has zero failures.
func (db *Database) GetBackoffState() (*BackoffState, error) {
	var (
		state       BackoffState
		lastFailure sql.NullString
	)
	err := db.conn.QueryRow(`
		SELECT consecutive_failures, last_failure_time FROM backoff_state WHERE id = 1
	`).Scan(&state.ConsecutiveFailures, &lastFailure)
	if err == sql.ErrNoRows {
		return &BackoffState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting backoff state: %w", err)
	}
	state.LastFailureTime = parseNullTime(lastFailure)
	return &state, nil
}

func (db *Database) SaveBackoffState(state *BackoffState) error {
	return db.withTx("saving backoff state", func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO backoff_state (id, consecutive_failures, last_failure_time)
			VALUES (1, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
			    consecutive_failures = excluded.consecutive_failures,
			    last_failure_time = excluded.last_failure_time
		`, state.ConsecutiveFailures, nullTimeString(state.LastFailureTime))
		return err
	})
}

func (db *Database) Stats() (*Stats, error) {
	var s Stats
	version, err := db.SchemaVersion()
	if err != nil {
		return nil, err
	}
	s.SchemaVersion = version

	counts := []struct {
		table string
		dest  *int
	}{
		{"processed_events", &s.ProcessedEvents},
		{"action_history", &s.Actions},
		{"threshold_fired", &s.Thresholds},
		{"audit_log", &s.AuditEntries},
		{"poll_runs", &s.PollRuns},
	}
	for _, c := range counts {
		if err := db.conn.QueryRow("SELECT COUNT(*) FROM " + c.table).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", c.table, err)
		}
	}
	return &s, nil
}
