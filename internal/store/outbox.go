package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/ncflow/internal/domain"
)

// OutboxEntry is a notification together with its delivery state.
type OutboxEntry struct {
	Notification domain.Notification       `json:"notification"`
	Status       domain.NotificationStatus `json:"status"`
	Attempts     int                       `json:"attempts"`
	LastError    string                    `json:"last_error,omitempty"`
	UpdatedAt    time.Time                 `json:"updated_at"`
}

// Enqueue writes a pending notification to the outbox.
// Returns inserted=false when a notification with the same id exists; the
// existing entry is left untouched.
func (s *Store) Enqueue(ctx context.Context, n domain.Notification) (inserted bool, err error) {
	payload, err := marshalNotification(n)
	if err != nil {
		return false, fmt.Errorf("enqueue notification: %w", err)
	}
	err = s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO notifications (id, type, record_id, payload, status, attempts, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 0, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, n.ID, string(n.Type), n.RecordID, payload, string(domain.NotificationPending),
			toMillis(n.CreatedAt), toMillis(n.CreatedAt))
		if err != nil {
			return fmt.Errorf("enqueue notification: %w", err)
		}
		affected, _ := res.RowsAffected()
		inserted = affected > 0
		return nil
	})
	return inserted, err
}

// MarkSent records a successful delivery attempt.
func (s *Store) MarkSent(ctx context.Context, id string, at time.Time) error {
	return s.markDelivery(ctx, id, domain.NotificationSent, "", at)
}

// MarkFailed records a failed delivery attempt.
func (s *Store) MarkFailed(ctx context.Context, id string, cause error, at time.Time) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.markDelivery(ctx, id, domain.NotificationFailed, msg, at)
}

func (s *Store) markDelivery(ctx context.Context, id string, status domain.NotificationStatus, lastError string, at time.Time) error {
	return s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE notifications
			SET status = ?, attempts = attempts + 1, last_error = ?, updated_at = ?
			WHERE id = ?
		`, string(status), lastError, toMillis(at), id)
		if err != nil {
			return fmt.Errorf("mark notification %s: %w", status, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("notification %s: %w", id, domain.ErrNotFound)
		}
		return nil
	})
}

// Undelivered returns pending and failed notifications with fewer than
// maxAttempts attempts, oldest first. maxAttempts <= 0 means no limit.
func (s *Store) Undelivered(ctx context.Context, maxAttempts int) ([]OutboxEntry, error) {
	query := `
		SELECT payload, status, attempts, last_error, updated_at
		FROM notifications
		WHERE status IN (?, ?)`
	args := []any{string(domain.NotificationPending), string(domain.NotificationFailed)}
	if maxAttempts > 0 {
		query += ` AND attempts < ?`
		args = append(args, maxAttempts)
	}
	query += ` ORDER BY created_at ASC, id COLLATE BINARY ASC`
	return s.queryOutbox(ctx, query, args...)
}

// OutboxFilter narrows Notifications. Zero values match everything.
type OutboxFilter struct {
	RecordID string
	Type     domain.NotificationType
	Status   domain.NotificationStatus
}

// Notifications returns outbox entries matching f, oldest first.
func (s *Store) Notifications(ctx context.Context, f OutboxFilter) ([]OutboxEntry, error) {
	query := `SELECT payload, status, attempts, last_error, updated_at FROM notifications WHERE 1 = 1`
	var args []any
	if f.RecordID != "" {
		query += ` AND record_id = ?`
		args = append(args, f.RecordID)
	}
	if f.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(f.Type))
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY created_at ASC, id COLLATE BINARY ASC`
	return s.queryOutbox(ctx, query, args...)
}

// GetNotification returns one outbox entry.
// Returns domain.ErrNotFound for an unknown id.
func (s *Store) GetNotification(ctx context.Context, id string) (OutboxEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT payload, status, attempts, last_error, updated_at FROM notifications WHERE id = ?
	`, id)
	e, err := scanOutbox(row)
	if errors.Is(err, sql.ErrNoRows) {
		return OutboxEntry{}, fmt.Errorf("notification %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return OutboxEntry{}, fmt.Errorf("get notification: %w", err)
	}
	return e, nil
}

func (s *Store) queryOutbox(ctx context.Context, query string, args ...any) ([]OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	entries := []OutboxEntry{}
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return entries, nil
}

func scanOutbox(row rowScanner) (OutboxEntry, error) {
	var (
		e               OutboxEntry
		payload, status string
		updatedAt       int64
	)
	if err := row.Scan(&payload, &status, &e.Attempts, &e.LastError, &updatedAt); err != nil {
		return OutboxEntry{}, err
	}
	n, err := unmarshalNotification(payload)
	if err != nil {
		return OutboxEntry{}, err
	}
	e.Notification = n
	e.Status = domain.NotificationStatus(status)
	e.UpdatedAt = fromMillis(updatedAt)
	return e, nil
}
