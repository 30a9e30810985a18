package db

import (
	"database/sql"
	"fmt"
)

func (db *Database) HasThresholdFired(entityID, ruleID, threshold string) (bool, error) {
	var n int
	err := db.conn.QueryRow(`
		SELECT COUNT(*) FROM threshold_fired
		WHERE entity_id = ? AND rule_id = ? AND threshold = ?`,
		entityID, ruleID, threshold).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking threshold marker: %w", err)
	}
	return n > 0, nil
}

func (db *Database) RecordThresholdFired(entityID, ruleID, threshold string) error {
	return db.withTx("recording threshold marker", func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO threshold_fired (entity_id, rule_id, threshold, fired_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(entity_id, rule_id, threshold) DO UPDATE SET fired_at = excluded.fired_at
		`, entityID, ruleID, threshold, formatTime(db.now()))
		return err
	})
}

// ClearThresholdFired re-arms a threshold. It reports whether a marker existed.
func (db *Database) ClearThresholdFired(entityID, ruleID, threshold string) (bool, error) {
	var removed int64
	err := db.withTx("clearing threshold marker", func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			DELETE FROM threshold_fired WHERE entity_id = ? AND rule_id = ? AND threshold = ?`,
			entityID, ruleID, threshold)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, err
	}
	return removed > 0, nil
}

func (db *Database) ThresholdsForEntity(entityID string) ([]*ThresholdFired, error) {
	rows, err := db.conn.Query(`
		SELECT entity_id, rule_id, threshold, fired_at
		FROM threshold_fired WHERE entity_id = ?
		ORDER BY rule_id, threshold`, entityID)
	if err != nil {
		return nil, fmt.Errorf("listing threshold markers: %w", err)
	}
	defer rows.Close()

	var out []*ThresholdFired
	for rows.Next() {
		var (
			tf    ThresholdFired
			fired string
		)
		if err := rows.Scan(&tf.EntityID, &tf.RuleID, &tf.Threshold, &fired); err != nil {
			return nil, fmt.Errorf("scanning threshold marker: %w", err)
		}
		tf.FiredAt = parseTime(fired)
		out = append(out, &tf)
	}
	return out, rows.Err()
}
