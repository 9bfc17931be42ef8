package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/ncflow/internal/domain"
)

const recordColumns = `id, tenant_id, title, description, status, step, severity,
	reporter_id, responsible_id, department_id, due_date, closed_at,
	created_at, updated_at, version,
	qa_comment, immediate_action, manager_comment, verifier_comment`

// CreateRecord inserts a new record with its history and submissions.
// rec.Version is set to 1. Returns domain.ErrDuplicate if the id exists.
func (s *Store) CreateRecord(ctx context.Context, rec *domain.Record) error {
	if !domain.ValidState(rec.Status, rec.Step) {
		return fmt.Errorf("create record %s: invalid state %s", rec.ID, rec.State())
	}
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("create record: begin tx: %w", err)
		}
		defer tx.Rollback() // No-op if committed

		res, err := tx.ExecContext(ctx, `
			INSERT INTO records (`+recordColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`,
			rec.ID, rec.TenantID, rec.Title, rec.Description,
			string(rec.Status), int(rec.Step), string(rec.Severity),
			rec.ReporterID, rec.ResponsibleID, rec.DepartmentID,
			toMillis(rec.DueDate), nullMillis(rec.ClosedAt),
			toMillis(rec.CreatedAt), toMillis(rec.UpdatedAt),
			rec.QAComment, rec.ImmediateAction, rec.ManagerComment, rec.VerifierComment,
		)
		if err != nil {
			return fmt.Errorf("create record: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("create record %s: %w", rec.ID, domain.ErrDuplicate)
		}

		if err := writeEvents(ctx, tx, rec); err != nil {
			return err
		}
		if err := writeSubmissions(ctx, tx, rec); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("create record: commit: %w", err)
		}
		rec.Version = 1
		return nil
	})
}

// CompareAndSwap replaces the stored record with rec if the stored version
// still equals expectedVersion. New history events and submission changes
// commit atomically with the record row. On success rec.Version is the new
// version.
//
// Returns domain.ErrVersionConflict when the version moved and
// domain.ErrNotFound when the record does not exist.
func (s *Store) CompareAndSwap(ctx context.Context, expectedVersion int64, rec *domain.Record) error {
	if !domain.ValidState(rec.Status, rec.Step) {
		return fmt.Errorf("compare and swap %s: invalid state %s", rec.ID, rec.State())
	}
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("compare and swap: begin tx: %w", err)
		}
		defer tx.Rollback() // No-op if committed

		res, err := tx.ExecContext(ctx, `
			UPDATE records SET
				tenant_id = ?, title = ?, description = ?, status = ?, step = ?, severity = ?,
				reporter_id = ?, responsible_id = ?, department_id = ?, due_date = ?, closed_at = ?,
				updated_at = ?, version = version + 1,
				qa_comment = ?, immediate_action = ?, manager_comment = ?, verifier_comment = ?
			WHERE id = ? AND version = ?
		`,
			rec.TenantID, rec.Title, rec.Description,
			string(rec.Status), int(rec.Step), string(rec.Severity),
			rec.ReporterID, rec.ResponsibleID, rec.DepartmentID,
			toMillis(rec.DueDate), nullMillis(rec.ClosedAt),
			toMillis(rec.UpdatedAt),
			rec.QAComment, rec.ImmediateAction, rec.ManagerComment, rec.VerifierComment,
			rec.ID, expectedVersion,
		)
		if err != nil {
			return fmt.Errorf("compare and swap: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var exists int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM records WHERE id = ?`, rec.ID).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("record %s: %w", rec.ID, domain.ErrNotFound)
			}
			if err != nil {
				return fmt.Errorf("compare and swap: %w", err)
			}
			return fmt.Errorf("record %s at version %d: %w", rec.ID, expectedVersion, domain.ErrVersionConflict)
		}

		if err := writeEvents(ctx, tx, rec); err != nil {
			return err
		}
		if err := writeSubmissions(ctx, tx, rec); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("compare and swap: commit: %w", err)
		}
		rec.Version = expectedVersion + 1
		return nil
	})
}

// writeEvents appends history events. Existing (record_id, seq) rows are
// left untouched; history is append-only.
func writeEvents(ctx context.Context, tx *sql.Tx, rec *domain.Record) error {
	for _, ev := range rec.History {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO events
			(record_id, seq, action, actor_id, timestamp, comment, from_status, from_step, to_status, to_step)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(record_id, seq) DO NOTHING
		`,
			rec.ID, ev.Seq, string(ev.Action), ev.ActorID, toMillis(ev.Timestamp), ev.Comment,
			string(ev.From.Status), int(ev.From.Step), string(ev.To.Status), int(ev.To.Step),
		)
		if err != nil {
			return fmt.Errorf("write event %s#%d: %w", rec.ID, ev.Seq, err)
		}
	}
	return nil
}

// writeSubmissions inserts new submissions and records supersession of old
// ones. Submission content is never rewritten.
func writeSubmissions(ctx context.Context, tx *sql.Tx, rec *domain.Record) error {
	for _, sub := range rec.Submissions {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO submissions
			(id, record_id, round, immediate_action, root_cause, corrective_action, preventive_action,
			 target_completion_date, submitter_id, submitted_at, superseded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET superseded_at = excluded.superseded_at
		`,
			sub.ID, rec.ID, sub.Round, sub.ImmediateAction, sub.RootCause, sub.CorrectiveAction,
			sub.PreventiveAction, toMillis(sub.TargetCompletionDate), sub.SubmitterID,
			toMillis(sub.SubmittedAt), nullMillis(sub.SupersededAt),
		)
		if err != nil {
			return fmt.Errorf("write submission %s: %w", sub.ID, err)
		}
	}
	return nil
}

// GetRecord loads a record with its full history and submissions.
// Returns domain.ErrNotFound for an unknown id.
func (s *Store) GetRecord(ctx context.Context, id string) (*domain.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	if err := s.loadChildren(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// RecordFilter narrows ListRecords. Zero values match everything.
type RecordFilter struct {
	TenantID      string
	ResponsibleID string
	ActiveOnly    bool
}

// ListRecords returns matching records with history, ordered by creation
// time then id.
func (s *Store) ListRecords(ctx context.Context, f RecordFilter) ([]*domain.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE 1 = 1`
	var args []any
	if f.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, f.TenantID)
	}
	if f.ResponsibleID != "" {
		query += ` AND responsible_id = ?`
		args = append(args, f.ResponsibleID)
	}
	if f.ActiveOnly {
		query += ` AND status NOT IN (?, ?)`
		args = append(args, string(domain.StatusClosed), string(domain.StatusRejected))
	}
	query += ` ORDER BY created_at ASC, id COLLATE BINARY ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	var recs []*domain.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("list records: %w", err)
		}
		recs = append(recs, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	// Children are loaded after the cursor closes; the pool has one connection.
	for _, rec := range recs {
		if err := s.loadChildren(ctx, rec); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

// CountOverdue counts active records assigned to userID with a due date
// before cutoff.
func (s *Store) CountOverdue(ctx context.Context, userID string, cutoff time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM records
		WHERE responsible_id = ? AND due_date < ? AND status NOT IN (?, ?)
	`, userID, toMillis(cutoff), string(domain.StatusClosed), string(domain.StatusRejected)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count overdue: %w", err)
	}
	return n, nil
}

// ResponsibleUsers returns the distinct users assigned to active records.
func (s *Store) ResponsibleUsers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT responsible_id FROM records
		WHERE responsible_id != '' AND status NOT IN (?, ?)
		ORDER BY responsible_id COLLATE BINARY ASC
	`, string(domain.StatusClosed), string(domain.StatusRejected))
	if err != nil {
		return nil, fmt.Errorf("responsible users: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.Record, error) {
	var (
		rec                           domain.Record
		status, severity              string
		step                          int
		dueDate, createdAt, updatedAt int64
		closedAt                      sql.NullInt64
	)
	err := row.Scan(
		&rec.ID, &rec.TenantID, &rec.Title, &rec.Description, &status, &step, &severity,
		&rec.ReporterID, &rec.ResponsibleID, &rec.DepartmentID, &dueDate, &closedAt,
		&createdAt, &updatedAt, &rec.Version,
		&rec.QAComment, &rec.ImmediateAction, &rec.ManagerComment, &rec.VerifierComment,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = domain.Status(status)
	rec.Step = domain.Step(step)
	rec.Severity = domain.Severity(severity)
	rec.DueDate = fromMillis(dueDate)
	rec.ClosedAt = timePtr(closedAt)
	rec.CreatedAt = fromMillis(createdAt)
	rec.UpdatedAt = fromMillis(updatedAt)
	return &rec, nil
}

func (s *Store) loadChildren(ctx context.Context, rec *domain.Record) error {
	history, err := s.readEvents(ctx, rec.ID)
	if err != nil {
		return err
	}
	rec.History = history

	subs, err := s.readSubmissions(ctx, rec.ID)
	if err != nil {
		return err
	}
	rec.Submissions = subs
	return nil
}

func (s *Store) readEvents(ctx context.Context, recordID string) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, action, actor_id, timestamp, comment, from_status, from_step, to_status, to_step
		FROM events
		WHERE record_id = ?
		ORDER BY seq ASC
	`, recordID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		var (
			ev                   domain.Event
			action               string
			ts                   int64
			fromStatus, toStatus string
			fromStep, toStep     int
		)
		if err := rows.Scan(&ev.Seq, &action, &ev.ActorID, &ts, &ev.Comment, &fromStatus, &fromStep, &toStatus, &toStep); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Action = domain.EventAction(action)
		ev.Timestamp = fromMillis(ts)
		ev.From = domain.State{Status: domain.Status(fromStatus), Step: domain.Step(fromStep)}
		ev.To = domain.State{Status: domain.Status(toStatus), Step: domain.Step(toStep)}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func (s *Store) readSubmissions(ctx context.Context, recordID string) ([]domain.Submission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, round, immediate_action, root_cause, corrective_action, preventive_action,
		       target_completion_date, submitter_id, submitted_at, superseded_at
		FROM submissions
		WHERE record_id = ?
		ORDER BY round ASC
	`, recordID)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	var subs []domain.Submission
	for rows.Next() {
		var (
			sub                 domain.Submission
			target, submittedAt int64
			supersededAt        sql.NullInt64
		)
		if err := rows.Scan(&sub.ID, &sub.Round, &sub.ImmediateAction, &sub.RootCause, &sub.CorrectiveAction,
			&sub.PreventiveAction, &target, &sub.SubmitterID, &submittedAt, &supersededAt); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		sub.RecordID = recordID
		sub.TargetCompletionDate = fromMillis(target)
		sub.SubmittedAt = fromMillis(submittedAt)
		sub.SupersededAt = timePtr(supersededAt)
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return subs, nil
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate: %w", err)
	}
	return out, nil
}
