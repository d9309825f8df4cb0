package logging

import (
	"database/sql"
	"fmt"
	"time"
)

// #region action
// Action categorizes a controller decision about one evaluation request.
type Action string

const (
	ActionAccept          Action = "accept"
	ActionEnforceReject   Action = "enforce_reject"
	ActionDuplicateReject Action = "duplicate_reject"
	ActionSimFailure      Action = "sim_failure"
	ActionStepTransition  Action = "step_transition"
)

// #endregion action

// #region decision-entry
// DecisionEntry is a single row in the decision_log table. The iteration is
// zero for decisions that never produced a record (guard and duplicate
// rejections).
type DecisionEntry struct {
	SessionKey string
	Iteration  int
	Action     Action
	Reason     string
	CreatedAt  time.Time
}

// #endregion decision-entry

// #region log-decision
// LogDecision writes a decision entry to the decision_log table.
func LogDecision(db *sql.DB, entry DecisionEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO decision_log (session_key, iteration, action, reason, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.SessionKey,
		nullIfZero(entry.Iteration),
		string(entry.Action),
		nullIfEmpty(entry.Reason),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}

// #endregion log-decision

// #region list
// Decisions returns the decision log for a session, oldest first.
func Decisions(db *sql.DB, sessionKey string) ([]DecisionEntry, error) {
	rows, err := db.Query(
		`SELECT session_key, iteration, action, reason, created_at
		 FROM decision_log WHERE session_key = ? ORDER BY id`, sessionKey,
	)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var entries []DecisionEntry
	for rows.Next() {
		var e DecisionEntry
		var iteration sql.NullInt64
		var reason sql.NullString
		var createdStr string
		var action string
		if err := rows.Scan(&e.SessionKey, &iteration, &action, &reason, &createdStr); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		e.Action = Action(action)
		if iteration.Valid {
			e.Iteration = int(iteration.Int64)
		}
		if reason.Valid {
			e.Reason = reason.String
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// #endregion list

// #region helpers
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

// #endregion helpers
