package db

import (
	"database/sql"
	"fmt"
)

func (db *Database) IsProcessed(eventID string) (bool, error) {
	var n int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM processed_events WHERE event_id = ?`, eventID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking processed event %s: %w", eventID, err)
	}
	return n > 0, nil
}

// MarkProcessed records the event's disposition. Marking an already
// processed event refreshes its disposition and TTL.
func (db *Database) MarkProcessed(eventID, eventType string, disposition Disposition) error {
	now := db.now()
	return db.withTx("marking event processed", func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO processed_events (event_id, event_type, disposition, processed_at, ttl_expires_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(event_id) DO UPDATE SET
			    event_type = excluded.event_type,
			    disposition = excluded.disposition,
			    processed_at = excluded.processed_at,
			    ttl_expires_at = excluded.ttl_expires_at
		`, eventID, eventType, string(disposition), formatTime(now), formatTime(now.Add(db.retention)))
		return err
	})
}

// GetProcessedEvent returns nil, nil for an unknown event.
func (db *Database) GetProcessedEvent(eventID string) (*ProcessedEvent, error) {
	var (
		ev                 ProcessedEvent
		disposition        string
		processed, expires string
	)
	err := db.conn.QueryRow(`
		SELECT event_id, event_type, disposition, processed_at, ttl_expires_at
		FROM processed_events WHERE event_id = ?`, eventID).
		Scan(&ev.EventID, &ev.EventType, &disposition, &processed, &expires)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting processed event %s: %w", eventID, err)
	}
	ev.Disposition = Disposition(disposition)
	ev.ProcessedAt = parseTime(processed)
	ev.TTLExpiresAt = parseTime(expires)
	return &ev, nil
}

func (db *Database) HasActionExecuted(eventID, ruleID string) (bool, error) {
	var n int
	err := db.conn.QueryRow(`
		SELECT COUNT(*) FROM action_history WHERE event_id = ? AND rule_id = ?`,
		eventID, ruleID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking action history: %w", err)
	}
	return n > 0, nil
}

// RecordAction stores the result of running ruleID's action for eventID.
// Recording the same pair twice keeps a single row holding the latest result.
func (db *Database) RecordAction(eventID, ruleID, actionType string, result ResultStatus, message string) error {
	return db.withTx("recording action", func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO action_history (event_id, rule_id, action_type, result, message, executed_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(event_id, rule_id) DO UPDATE SET
			    action_type = excluded.action_type,
			    result = excluded.result,
			    message = excluded.message,
			    executed_at = excluded.executed_at
		`, eventID, ruleID, actionType, string(result), nullString(message), formatTime(db.now()))
		return err
	})
}

// GetAction returns nil, nil when the pair has no recorded action.
func (db *Database) GetAction(eventID, ruleID string) (*ActionRecord, error) {
	row := db.conn.QueryRow(`
		SELECT id, event_id, rule_id, action_type, result, message, executed_at
		FROM action_history WHERE event_id = ? AND rule_id = ?`, eventID, ruleID)
	rec, err := scanAction(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting action: %w", err)
	}
	return rec, nil
}

func scanAction(scan scanFunc) (*ActionRecord, error) {
	var (
		rec      ActionRecord
		result   string
		executed string
	)
	if err := scan(&rec.ID, &rec.EventID, &rec.RuleID, &rec.ActionType, &result, &rec.Message, &executed); err != nil {
		return nil, err
	}
	rec.Result = ResultStatus(result)
	rec.ExecutedAt = parseTime(executed)
	return &rec, nil
}

// CleanupExpired deletes processed events whose TTL has passed.
func (db *Database) CleanupExpired() (int64, error) {
	var removed int64
	err := db.withTx("cleaning up expired events", func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM processed_events WHERE ttl_expires_at < ?`, formatTime(db.now()))
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		db.logger.Info("removed expired processed events", "count", removed)
	}
	return removed, nil
}
