package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

const DefaultAuditLimit = 50

// WriteAuditEntry appends an entry and returns its id. A zero timestamp
// is replaced with the current time.
func (db *Database) WriteAuditEntry(entry *AuditEntry) (int64, error) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = db.now()
	}
	if entry.RulesEvaluated == nil {
		entry.RulesEvaluated = []RuleEvaluation{}
	}
	if entry.ActionsTaken == nil {
		entry.ActionsTaken = []ActionTaken{}
	}

	rules, err := json.Marshal(entry.RulesEvaluated)
	if err != nil {
		return 0, fmt.Errorf("encoding rules evaluated: %w", err)
	}
	actions, err := json.Marshal(entry.ActionsTaken)
	if err != nil {
		return 0, fmt.Errorf("encoding actions taken: %w", err)
	}

	var id int64
	err = db.withTx("writing audit entry", func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			INSERT INTO audit_log (timestamp, event_id, event_type, event_source,
			                       rules_evaluated, actions_taken, disposition, message)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, formatTime(entry.Timestamp), nullString(entry.EventID), nullString(entry.EventType),
			nullString(entry.EventSource), string(rules), string(actions),
			string(entry.Disposition), entry.Message)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}
	entry.ID = id
	return id, nil
}

// QueryAuditLog returns entries newest first.
func (db *Database) QueryAuditLog(q AuditQuery) ([]*AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if !q.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, formatTime(q.Since))
	}
	if !q.Until.IsZero() {
		where = append(where, "timestamp <= ?")
		args = append(args, formatTime(q.Until))
	}
	if q.RuleID != "" {
		where = append(where, "rules_evaluated LIKE ?")
		args = append(args, `%"rule_id":"`+q.RuleID+`"%`)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultAuditLimit
	}

	query := `SELECT id, timestamp, event_id, event_type, event_source,
	                 rules_evaluated, actions_taken, disposition, message
	          FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanAuditEntry(scan scanFunc) (*AuditEntry, error) {
	var (
		entry                      AuditEntry
		ts, disposition            string
		eventID, eventType, source sql.NullString
		rulesJSON, actionsJSON     string
	)
	if err := scan(&entry.ID, &ts, &eventID, &eventType, &source,
		&rulesJSON, &actionsJSON, &disposition, &entry.Message); err != nil {
		return nil, err
	}
	entry.Timestamp = parseTime(ts)
	entry.EventID = eventID.String
	entry.EventType = eventType.String
	entry.EventSource = source.String
	entry.Disposition = Disposition(disposition)
	if err := json.Unmarshal([]byte(rulesJSON), &entry.RulesEvaluated); err != nil {
		return nil, fmt.Errorf("decoding rules evaluated: %w", err)
	}
	if err := json.Unmarshal([]byte(actionsJSON), &entry.ActionsTaken); err != nil {
		return nil, fmt.Errorf("decoding actions taken: %w", err)
	}
	return &entry, nil
}
