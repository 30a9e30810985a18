package db

import (
	"database/sql"
	"fmt"
)

// GetCheckpoint returns an empty checkpoint when none has been saved for id.
func (db *Database) GetCheckpoint(id string) (*Checkpoint, error) {
	var lastEvent, lastPoll, updated sql.NullString
	err := db.conn.QueryRow(`
		SELECT last_event_timestamp, last_poll_timestamp, updated_at
		FROM checkpoints WHERE id = ?`, id).Scan(&lastEvent, &lastPoll, &updated)
	if err == sql.ErrNoRows {
		return &Checkpoint{ID: id}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting checkpoint %s: %w", id, err)
	}
	return &Checkpoint{
		ID:                 id,
		LastEventTimestamp: parseNullTime(lastEvent),
		LastPollTimestamp:  parseNullTime(lastPoll),
		UpdatedAt:          parseNullTime(updated),
	}, nil
}

// SaveCheckpoint upserts cp. The stored event timestamp only ever moves
// forward, even if cp carries an older value.
func (db *Database) SaveCheckpoint(cp *Checkpoint) error {
	return db.withTx("saving checkpoint", func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO checkpoints (id, last_event_timestamp, last_poll_timestamp, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
			    last_event_timestamp = CASE
			        WHEN excluded.last_event_timestamp IS NULL THEN checkpoints.last_event_timestamp
			        WHEN checkpoints.last_event_timestamp IS NULL THEN excluded.last_event_timestamp
			        WHEN excluded.last_event_timestamp > checkpoints.last_event_timestamp THEN excluded.last_event_timestamp
			        ELSE checkpoints.last_event_timestamp
			    END,
			    last_poll_timestamp = COALESCE(excluded.last_poll_timestamp, checkpoints.last_poll_timestamp),
			    updated_at = excluded.updated_at
		`, cp.ID, nullTimeString(cp.LastEventTimestamp), nullTimeString(cp.LastPollTimestamp),
			formatTime(db.now()))
		return err
	})
}
