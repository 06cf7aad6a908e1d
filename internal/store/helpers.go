package store

import (
	"database/sql"
	"fmt"

	"github.com/BTreeMap/PizzaPipe/internal/models"
)

// nullable maps "" to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// rowScanner is *sql.Row or *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// collect scans every row with scan and closes rows. The result is never nil.
func collect[T any](rows *sql.Rows, what string, scan func(rowScanner) (T, error)) ([]T, error) {
	defer rows.Close()
	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", what, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s rows: %w", what, err)
	}
	return out, nil
}

const userColumns = `id, phone_number, name, email, address, birthdate, created_at`

func scanUser(row rowScanner) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.PhoneNumber, &u.Name, &u.Email, &u.Address, &u.Birthdate, &u.CreatedAt)
	return u, err
}

const messageColumns = `id, phone_number, role, content, timestamp`

func scanMessage(row rowScanner) (models.ConversationMessage, error) {
	var m models.ConversationMessage
	err := row.Scan(&m.ID, &m.PhoneNumber, &m.Role, &m.Content, &m.Timestamp)
	return m, err
}

func scanString(row rowScanner) (string, error) {
	var s string
	err := row.Scan(&s)
	return s, err
}

const outboxColumns = `id, phone, kind, payload_json, status, attempts, next_attempt_at, dedupe_key, locked_at, last_error, created_at, updated_at`

func scanOutbox(row rowScanner) (OutboxMessage, error) {
	var (
		m                        OutboxMessage
		payload, key, lastErr    sql.NullString
		nextAttempt, lockedSince sql.NullTime
	)
	err := row.Scan(&m.ID, &m.Phone, &m.Kind, &payload, &m.Status, &m.Attempts,
		&nextAttempt, &key, &lockedSince, &lastErr, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return m, err
	}
	m.PayloadJSON, m.DedupeKey, m.LastError = payload.String, key.String, lastErr.String
	if nextAttempt.Valid {
		m.NextAttemptAt = &nextAttempt.Time
	}
	if lockedSince.Valid {
		m.LockedAt = &lockedSince.Time
	}
	return m, nil
}
