package db

import (
	"database/sql"
	"fmt"
)

type migration struct {
	description string
	statements  []string
}

// migrations is keyed by schema version. Versions must be contiguous from 1.
var migrations = map[int]migration{
	1: {
		description: "initial schema",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS checkpoints (
			    id TEXT PRIMARY KEY,
			    last_event_timestamp TEXT,
			    last_poll_timestamp TEXT,
			    updated_at TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS processed_events (
			    event_id TEXT PRIMARY KEY,
			    event_type TEXT NOT NULL,
			    disposition TEXT NOT NULL,
			    processed_at TEXT NOT NULL,
			    ttl_expires_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_processed_events_ttl ON processed_events(ttl_expires_at)`,
			`CREATE TABLE IF NOT EXISTS action_history (
			    id INTEGER PRIMARY KEY AUTOINCREMENT,
			    event_id TEXT NOT NULL,
			    rule_id TEXT NOT NULL,
			    action_type TEXT NOT NULL,
			    result TEXT NOT NULL,
			    message TEXT,
			    executed_at TEXT NOT NULL,
			    UNIQUE(event_id, rule_id)
			)`,
			`CREATE TABLE IF NOT EXISTS audit_log (
			    id INTEGER PRIMARY KEY AUTOINCREMENT,
			    timestamp TEXT NOT NULL,
			    event_id TEXT,
			    event_type TEXT,
			    event_source TEXT,
			    rules_evaluated TEXT NOT NULL DEFAULT '[]',
			    actions_taken TEXT NOT NULL DEFAULT '[]',
			    disposition TEXT NOT NULL,
			    message TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log(timestamp)`,
		},
	},
	2: {
		description: "threshold markers",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS threshold_fired (
			    entity_id TEXT NOT NULL,
			    rule_id TEXT NOT NULL,
			    threshold TEXT NOT NULL,
			    fired_at TEXT NOT NULL,
			    PRIMARY KEY (entity_id, rule_id, threshold)
			)`,
		},
	},
	3: {
		description: "poll run log and cycle backoff",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS poll_runs (
			    id INTEGER PRIMARY KEY AUTOINCREMENT,
			    run_id TEXT NOT NULL,
			    started_at TEXT NOT NULL,
			    events_seen INTEGER NOT NULL,
			    events_processed INTEGER NOT NULL,
			    actions_executed INTEGER NOT NULL,
			    errors INTEGER NOT NULL,
			    error_message TEXT,
			    duration_ms INTEGER
			)`,
			`CREATE TABLE IF NOT EXISTS backoff_state (
			    id INTEGER PRIMARY KEY CHECK (id = 1),
			    consecutive_failures INTEGER DEFAULT 0,
			    last_failure_time TEXT
			)`,
		},
	},
}

func targetVersion(registry map[int]migration) int {
	target := 0
	for v := range registry {
		if v > target {
			target = v
		}
	}
	return target
}

func (db *Database) migrate(registry map[int]migration) error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
		    version INTEGER PRIMARY KEY,
		    description TEXT NOT NULL,
		    applied_at TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("creating schema_version: %w", err)
	}

	current, err := db.SchemaVersion()
	if err != nil {
		return err
	}

	for v := current + 1; v <= targetVersion(registry); v++ {
		m, ok := registry[v]
		if !ok {
			return fmt.Errorf("migration %d missing from registry", v)
		}

		err := db.withTx(fmt.Sprintf("applying migration %d", v), func(tx *sql.Tx) error {
			for _, stmt := range m.statements {
				if _, err := tx.Exec(stmt); err != nil {
					return err
				}
			}
			_, err := tx.Exec(`INSERT INTO schema_version (version, description, applied_at) VALUES (?, ?, ?)`,
				v, m.description, formatTime(db.now()))
			return err
		})
		if err != nil {
			return err
		}
		db.logger.Debug("applied migration", "version", v, "description", m.description)
	}
	return nil
}

func (db *Database) SchemaVersion() (int, error) {
	var v int
	if err := db.conn.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}
