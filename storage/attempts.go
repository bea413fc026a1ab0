package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"markestedt/voicekey/inject"
	"markestedt/voicekey/platform"
)

// Attempt is one terminal injection outcome.
type Attempt struct {
	ID          int64              `json:"id"`
	SessionID   string             `json:"session_id"`
	Timestamp   time.Time          `json:"timestamp"`
	Text        string             `json:"text"`
	Status      inject.Status      `json:"status"`
	Reason      string             `json:"reason"`
	Strategies  []inject.Report    `json:"strategies"`
	Target      platform.AppHandle `json:"target"`
	InjectionMs int64              `json:"injection_ms"`
	Confidence  float64            `json:"confidence"`
	// Recoverable marks text that never reached the target.
	Recoverable bool `json:"recoverable"`
	Recovered   bool `json:"recovered"`
}

// AttemptFromOutcome builds the record for an injection outcome.
func AttemptFromOutcome(sessionID string, at time.Time, o inject.Outcome) *Attempt {
	return &Attempt{
		SessionID:   sessionID,
		Timestamp:   at,
		Text:        o.Text,
		Status:      o.Status,
		Reason:      o.Reason,
		Strategies:  o.Tried,
		Target:      o.Target,
		InjectionMs: o.Duration.Milliseconds(),
		Recoverable: o.Recoverable(),
	}
}

// SaveAttempt inserts a and sets its ID.
func (db *DB) SaveAttempt(a *Attempt) error {
	strategies, err := json.Marshal(a.Strategies)
	if err != nil {
		return fmt.Errorf("failed to encode strategies: %w", err)
	}
	if a.Strategies == nil {
		strategies = []byte("[]")
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}

	result, err := db.conn.Exec(`
		INSERT INTO injection_attempts (
			session_id, timestamp, text, status, reason, strategies,
			target_id, target_app, target_title, injection_ms, confidence,
			recoverable, recovered
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.SessionID, a.Timestamp.UTC(), a.Text, string(a.Status), a.Reason, string(strategies),
		a.Target.ID, a.Target.App, a.Target.Title, a.InjectionMs, a.Confidence,
		a.Recoverable, a.Recovered,
	)
	if err != nil {
		return fmt.Errorf("failed to save attempt: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	a.ID = id
	return nil
}

const attemptColumns = `
	id, session_id, timestamp, text, status, reason, strategies,
	target_id, target_app, target_title, injection_ms, confidence,
	recoverable, recovered`

// GetAttempts returns attempts newest first.
func (db *DB) GetAttempts(limit, offset int) ([]Attempt, error) {
	rows, err := db.conn.Query(`SELECT `+attemptColumns+`
		FROM injection_attempts
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	return scanAttempts(rows)
}

// PendingRecovery returns undelivered text the user has not yet recovered,
// newest first.
func (db *DB) PendingRecovery(limit int) ([]Attempt, error) {
	rows, err := db.conn.Query(`SELECT `+attemptColumns+`
		FROM injection_attempts
		WHERE recoverable = 1 AND recovered = 0
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recovery list: %w", err)
	}
	return scanAttempts(rows)
}

// MarkRecovered removes an attempt from the recovery list.
func (db *DB) MarkRecovered(id int64) error {
	result, err := db.conn.Exec(`UPDATE injection_attempts SET recovered = 1 WHERE id = ? AND recoverable = 1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark attempt recovered: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("recoverable attempt %d not found", id)
	}
	return nil
}

// DeleteAttempt deletes an attempt by ID
func (db *DB) DeleteAttempt(id int64) error {
	result, err := db.conn.Exec(`DELETE FROM injection_attempts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete attempt: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("attempt %d not found", id)
	}
	return nil
}

func scanAttempts(rows *sql.Rows) ([]Attempt, error) {
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var (
			a          Attempt
			status     string
			strategies string
		)
		if err := rows.Scan(
			&a.ID, &a.SessionID, &a.Timestamp, &a.Text, &status, &a.Reason, &strategies,
			&a.Target.ID, &a.Target.App, &a.Target.Title, &a.InjectionMs, &a.Confidence,
			&a.Recoverable, &a.Recovered,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		a.Status = inject.Status(status)
		if err := json.Unmarshal([]byte(strategies), &a.Strategies); err != nil {
			return nil, fmt.Errorf("failed to decode strategies: %w", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attempts: %w", err)
	}
	return attempts, nil
}
