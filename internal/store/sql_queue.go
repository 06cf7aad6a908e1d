package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/PizzaPipe/internal/util"
)

// sqlDialect selects placeholder syntax and locking for the shared SQL queries.
type sqlDialect int

const (
	dialectSQLite sqlDialect = iota
	dialectPostgres
)

// rebind rewrites "?" placeholders to "$n" for Postgres.
func (d sqlDialect) rebind(query string) string {
	if d != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sqlQueue implements DedupRepo and OutboxRepo on the inbound_dedup and
// outbox_messages tables. SQLiteStore and PostgresStore embed it.
type sqlQueue struct {
	db      *sql.DB
	dialect sqlDialect
	name    string // store type used in log messages
}

func (q *sqlQueue) exec(query string, args ...any) (sql.Result, error) {
	return q.db.Exec(q.dialect.rebind(query), args...)
}

func (q *sqlQueue) IsDuplicate(messageID string) (bool, error) {
	var id string
	err := q.db.QueryRow(q.dialect.rebind(`SELECT message_id FROM inbound_dedup WHERE message_id = ?`), messageID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return true, nil
}

func (q *sqlQueue) RecordInbound(messageID, phone string) (bool, error) {
	result, err := q.exec(
		`INSERT INTO inbound_dedup (message_id, phone, received_at) VALUES (?, ?, ?) ON CONFLICT (message_id) DO NOTHING`,
		messageID, phone, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("record inbound %s failed: %w", messageID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dedup rows affected check failed: %w", err)
	}
	return n > 0, nil
}

func (q *sqlQueue) MarkProcessed(messageID string) error {
	if _, err := q.exec(`UPDATE inbound_dedup SET processed_at = ? WHERE message_id = ?`, time.Now(), messageID); err != nil {
		return fmt.Errorf("mark %s processed failed: %w", messageID, err)
	}
	return nil
}

func (q *sqlQueue) PurgeProcessed(before time.Time) (int, error) {
	result, err := q.exec(`DELETE FROM inbound_dedup WHERE processed_at IS NOT NULL AND processed_at < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("purge dedup records failed: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

func (q *sqlQueue) EnqueueOutboxMessage(phone, kind, payloadJSON, dedupeKey string) (string, error) {
	if dedupeKey != "" {
		var existingID string
		err := q.db.QueryRow(
			q.dialect.rebind(`SELECT id FROM outbox_messages WHERE dedupe_key = ? AND status NOT IN ('sent', 'canceled')`),
			dedupeKey,
		).Scan(&existingID)
		if err == nil {
			slog.Debug(q.name+".EnqueueOutboxMessage: reply already queued", "dedupe_key", dedupeKey, "id", existingID)
			return existingID, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("outbox dedupe check failed: %w", err)
		}
	}

	id := util.GenerateOutboxID()
	now := time.Now()
	_, err := q.exec(
		`INSERT INTO outbox_messages (id, phone, kind, payload_json, status, attempts, dedupe_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 'queued', 0, ?, ?, ?)`,
		id, phone, kind, payloadJSON, nullable(dedupeKey), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue %s for %s failed: %w", kind, phone, err)
	}
	slog.Debug(q.name+".EnqueueOutboxMessage: queued", "id", id, "phone", phone, "kind", kind)
	return id, nil
}

// ClaimDueOutboxMessages moves due messages to sending, oldest first. Postgres
// claims with SKIP LOCKED; SQLite serialises writers, so a transaction suffices.
func (q *sqlQueue) ClaimDueOutboxMessages(now time.Time, limit int) ([]OutboxMessage, error) {
	if q.dialect == dialectPostgres {
		rows, err := q.db.Query(q.dialect.rebind(
			`UPDATE outbox_messages SET status = 'sending', locked_at = ?, updated_at = ?
			 WHERE id IN (
			   SELECT id FROM outbox_messages WHERE status = 'queued' AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
			   ORDER BY created_at ASC LIMIT ?
			   FOR UPDATE SKIP LOCKED
			 )
			 RETURNING `+outboxColumns),
			now, now, now, limit,
		)
		if err != nil {
			return nil, fmt.Errorf("claim due outbox messages failed: %w", err)
		}
		msgs, err := collect(rows, "outbox", scanOutbox)
		if err != nil {
			return nil, err
		}
		sort.Slice(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
		return msgs, nil
	}

	tx, err := q.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin outbox claim failed: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(
		`SELECT `+outboxColumns+` FROM outbox_messages
		 WHERE status = 'queued' AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		 ORDER BY created_at ASC LIMIT ?`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due outbox messages failed: %w", err)
	}
	msgs, err := collect(rows, "outbox", scanOutbox)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		if _, err := tx.Exec(`UPDATE outbox_messages SET status = 'sending', locked_at = ?, updated_at = ? WHERE id = ?`, now, now, msgs[i].ID); err != nil {
			return nil, fmt.Errorf("mark outbox %s sending failed: %w", msgs[i].ID, err)
		}
		msgs[i].Status = OutboxStatusSending
		msgs[i].LockedAt = &now
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit outbox claim failed: %w", err)
	}
	return msgs, nil
}

func (q *sqlQueue) MarkOutboxMessageSent(id string) error {
	if _, err := q.exec(`UPDATE outbox_messages SET status = 'sent', updated_at = ? WHERE id = ?`, time.Now(), id); err != nil {
		return fmt.Errorf("mark outbox %s sent failed: %w", id, err)
	}
	return nil
}

func (q *sqlQueue) FailOutboxMessage(id string, errMsg string, nextAttemptAt time.Time) error {
	_, err := q.exec(
		`UPDATE outbox_messages SET status = 'queued', attempts = attempts + 1, last_error = ?, next_attempt_at = ?, locked_at = NULL, updated_at = ? WHERE id = ?`,
		errMsg, nextAttemptAt, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("record outbox %s failure failed: %w", id, err)
	}
	return nil
}

func (q *sqlQueue) RequeueStaleSendingMessages(staleBefore time.Time) (int, error) {
	result, err := q.exec(
		`UPDATE outbox_messages SET status = 'queued', locked_at = NULL, updated_at = ? WHERE status = 'sending' AND locked_at < ?`,
		time.Now(), staleBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale outbox messages failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info(q.name+".RequeueStaleSendingMessages: replies requeued", "count", n)
	}
	return int(n), nil
}
