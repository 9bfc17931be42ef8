package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LockoutState is the last recorded lockout decision for a user.
type LockoutState struct {
	UserID       string    `json:"user_id"`
	Locked       bool      `json:"locked"`
	OverdueCount int       `json:"overdue_count"`
	ChangedAt    time.Time `json:"changed_at"`
}

// GetLockout returns the recorded state for userID. A user with no row is
// reported as unlocked with found=false.
func (s *Store) GetLockout(ctx context.Context, userID string) (state LockoutState, found bool, err error) {
	var (
		locked    int
		changedAt int64
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT locked, overdue_count, changed_at FROM lockouts WHERE user_id = ?
	`, userID).Scan(&locked, &state.OverdueCount, &changedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return LockoutState{UserID: userID}, false, nil
	}
	if err != nil {
		return LockoutState{}, false, fmt.Errorf("get lockout: %w", err)
	}
	state.UserID = userID
	state.Locked = locked != 0
	state.ChangedAt = fromMillis(changedAt)
	return state, true, nil
}

// PutLockout upserts the lockout decision for a user.
func (s *Store) PutLockout(ctx context.Context, st LockoutState) error {
	locked := 0
	if st.Locked {
		locked = 1
	}
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO lockouts (user_id, locked, overdue_count, changed_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				locked = excluded.locked,
				overdue_count = excluded.overdue_count,
				changed_at = excluded.changed_at
		`, st.UserID, locked, st.OverdueCount, toMillis(st.ChangedAt))
		if err != nil {
			return fmt.Errorf("put lockout: %w", err)
		}
		return nil
	})
}

// LockedUsers returns users whose last recorded decision was locked.
func (s *Store) LockedUsers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM lockouts WHERE locked = 1 ORDER BY user_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("locked users: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}
