package store

import (
	"context"
	"fmt"

	"github.com/roach88/ncflow/internal/domain"
)

// Append writes an audit entry. Uses ON CONFLICT(id) DO NOTHING, so
// appending the same entry twice is a no-op.
func (s *Store) Append(ctx context.Context, entry domain.ActivityEntry) error {
	detail, err := marshalDetail(entry.Detail)
	if err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO activity
			(id, record_id, tenant_id, seq, action, actor_id, from_status, from_step, to_status, to_step, comment, detail, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`,
			entry.ID, entry.RecordID, entry.TenantID, entry.Seq, string(entry.Action), entry.ActorID,
			string(entry.From.Status), int(entry.From.Step), string(entry.To.Status), int(entry.To.Step),
			entry.Comment, detail, toMillis(entry.Timestamp),
		)
		if err != nil {
			return fmt.Errorf("append activity: %w", err)
		}
		return nil
	})
}

// Activity returns the audit trail of a record ordered by seq.
// Returns an empty slice (not nil) when there is none.
func (s *Store) Activity(ctx context.Context, recordID string) ([]domain.ActivityEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, record_id, tenant_id, seq, action, actor_id, from_status, from_step,
		       to_status, to_step, comment, detail, timestamp
		FROM activity
		WHERE record_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, recordID)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()

	entries := []domain.ActivityEntry{}
	for rows.Next() {
		var (
			e                    domain.ActivityEntry
			action               string
			fromStatus, toStatus string
			fromStep, toStep     int
			detail               string
			ts                   int64
		)
		if err := rows.Scan(&e.ID, &e.RecordID, &e.TenantID, &e.Seq, &action, &e.ActorID,
			&fromStatus, &fromStep, &toStatus, &toStep, &e.Comment, &detail, &ts); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		e.Action = domain.EventAction(action)
		e.From = domain.State{Status: domain.Status(fromStatus), Step: domain.Step(fromStep)}
		e.To = domain.State{Status: domain.Status(toStatus), Step: domain.Step(toStep)}
		e.Timestamp = fromMillis(ts)
		if e.Detail, err = unmarshalDetail(detail); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity: %w", err)
	}
	return entries, nil
}

// ActivityIDs returns the set of audit entry ids recorded for a record.
func (s *Store) ActivityIDs(ctx context.Context, recordID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM activity WHERE record_id = ?`, recordID)
	if err != nil {
		return nil, fmt.Errorf("query activity ids: %w", err)
	}
	defer rows.Close()

	ids, err := scanStrings(rows)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}
