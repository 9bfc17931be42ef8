package policy

import (
	"fmt"
	"time"

	"github.com/roach88/ncflow/internal/domain"
)

// ComputeDueDate maps a severity to its target remediation date using the
// default offsets: critical is due on the reference date, major seven days
// later, minor thirty days later.
func ComputeDueDate(sev domain.Severity, reference time.Time) (time.Time, error) {
	return DefaultSettings().DueDate(sev, reference)
}

// DueDate maps a severity to its target remediation date using s's offsets.
// The result is a calendar date: midnight in the reference's location.
func (s Settings) DueDate(sev domain.Severity, reference time.Time) (time.Time, error) {
	if !sev.Valid() {
		return time.Time{}, fmt.Errorf("invalid severity %q", sev)
	}
	days, ok := s.DueDateOffsets[sev]
	if !ok {
		return time.Time{}, fmt.Errorf("no due date offset for severity %q", sev)
	}
	return StartOfDay(reference).AddDate(0, 0, days), nil
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// IsOverdue reports whether rec is still active and its due date lies
// before the start of now's day.
func IsOverdue(rec *domain.Record, now time.Time) bool {
	if rec.Status.Terminal() || rec.DueDate.IsZero() {
		return false
	}
	return rec.DueDate.Before(OverdueCutoff(now))
}

// OverdueCutoff is the instant before which a due date counts as overdue.
func OverdueCutoff(now time.Time) time.Time {
	return StartOfDay(now.UTC())
}

// DueSoon reports whether an active record falls due within leadDays of now
// without being overdue yet.
func DueSoon(rec *domain.Record, now time.Time, leadDays int) bool {
	if rec.Status.Terminal() || rec.DueDate.IsZero() || IsOverdue(rec, now) {
		return false
	}
	horizon := OverdueCutoff(now).AddDate(0, 0, leadDays)
	return !rec.DueDate.After(horizon)
}
