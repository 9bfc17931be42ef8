package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ncflow/internal/domain"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestComputeDueDate(t *testing.T) {
	ref := date(2024, 1, 1)
	tests := []struct {
		sev  domain.Severity
		want time.Time
	}{
		{domain.SeverityMinor, date(2024, 1, 31)},
		{domain.SeverityMajor, date(2024, 1, 8)},
		{domain.SeverityCritical, date(2024, 1, 1)},
	}
	for _, tt := range tests {
		t.Run(string(tt.sev), func(t *testing.T) {
			got, err := ComputeDueDate(tt.sev, ref)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}

func TestComputeDueDate_TruncatesTimeOfDay(t *testing.T) {
	got, err := ComputeDueDate(domain.SeverityMajor, time.Date(2024, 2, 25, 17, 45, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, date(2024, 3, 3), got)
}

func TestComputeDueDate_InvalidSeverity(t *testing.T) {
	_, err := ComputeDueDate(domain.Severity("cosmetic"), date(2024, 1, 1))
	assert.Error(t, err)
}

func TestSettings_CustomOffsets(t *testing.T) {
	s := DefaultSettings()
	s.DueDateOffsets[domain.SeverityMinor] = 14
	require.NoError(t, s.Validate())

	got, err := s.DueDate(domain.SeverityMinor, date(2024, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, date(2024, 1, 15), got)

	// DefaultSettings hands out a fresh map each time.
	assert.Equal(t, 30, DefaultSettings().DueDateOffsets[domain.SeverityMinor])
}

func TestSettings_Validate(t *testing.T) {
	s := DefaultSettings()
	s.DeclineThreshold = 0
	assert.Error(t, s.Validate())

	s = DefaultSettings()
	delete(s.DueDateOffsets, domain.SeverityMajor)
	assert.Error(t, s.Validate())

	s = DefaultSettings()
	s.ReminderLeadDays = -1
	assert.Error(t, s.Validate())
}

func TestIsOverdue(t *testing.T) {
	now := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	rec := &domain.Record{Status: domain.StatusInProgress, Step: domain.StepInvestigation}

	rec.DueDate = date(2024, 1, 31)
	assert.True(t, IsOverdue(rec, now))

	rec.DueDate = date(2024, 2, 1)
	assert.False(t, IsOverdue(rec, now), "due today is not overdue")

	rec.DueDate = date(2024, 1, 1)
	rec.Status, rec.Step = domain.StatusClosed, domain.StepFinalApproval
	assert.False(t, IsOverdue(rec, now), "terminal records are never overdue")
}

func TestDueSoon(t *testing.T) {
	now := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	rec := &domain.Record{Status: domain.StatusInProgress, Step: domain.StepInvestigation}

	rec.DueDate = date(2024, 2, 2)
	assert.True(t, DueSoon(rec, now, 1))

	rec.DueDate = date(2024, 2, 3)
	assert.False(t, DueSoon(rec, now, 1))

	rec.DueDate = date(2024, 1, 30)
	assert.False(t, DueSoon(rec, now, 1), "overdue records get overdue notices instead")
}

func declined(seq int64) domain.Event {
	return domain.Event{Seq: seq, Action: domain.EventManagerDeclined}
}

func TestEscalation_Evaluate(t *testing.T) {
	e := DefaultSettings().Escalation()
	history := []domain.Event{
		{Seq: 1, Action: domain.EventCreated},
		{Seq: 2, Action: domain.EventClassified},
	}

	st := e.Evaluate(history)
	assert.Equal(t, 0, st.DeclineCount)
	assert.False(t, st.Escalated)

	seq := int64(3)
	for i := 1; i <= 5; i++ {
		history = append(history,
			domain.Event{Seq: seq, Action: domain.EventRemediationSubmitted},
			declined(seq+1))
		seq += 2

		st = e.Evaluate(history)
		assert.Equal(t, i, st.DeclineCount)
		assert.Equal(t, i >= 3, st.Escalated, "after %d declines", i)
		if i >= 3 {
			assert.Equal(t, int64(8), st.CrossedAt, "crossing point never moves")
		}
	}

	// Later non-decline events never revert the flag.
	history = append(history, domain.Event{Seq: seq, Action: domain.EventManagerApproved})
	assert.True(t, e.Evaluate(history).Escalated)
}

func TestEscalation_JustEscalated(t *testing.T) {
	e := Escalation{Threshold: 2}
	one := []domain.Event{declined(1)}
	two := append(append([]domain.Event(nil), one...), declined(2))
	three := append(append([]domain.Event(nil), two...), declined(3))

	assert.False(t, e.JustEscalated(nil, one))
	assert.True(t, e.JustEscalated(one, two))
	assert.False(t, e.JustEscalated(two, three))
}

func TestLockout_Decide(t *testing.T) {
	l := DefaultSettings().Lockout()
	worker := domain.Actor{ID: "u1", Roles: []domain.Role{domain.RoleResponsiblePerson}}
	boss := domain.Actor{ID: "u2", Roles: []domain.Role{domain.RoleAdmin, domain.RoleResponsiblePerson}}

	for n := 0; n <= 7; n++ {
		assert.Equal(t, n >= 5, l.Decide(worker, n), "count %d", n)
		assert.False(t, l.Decide(boss, n), "admins are never locked")
	}
}

func TestOverdueCount(t *testing.T) {
	now := date(2024, 3, 1)
	var recs []*domain.Record
	for i := 0; i < 5; i++ {
		recs = append(recs, &domain.Record{
			Status:        domain.StatusInProgress,
			Step:          domain.StepInvestigation,
			ResponsibleID: "u1",
			DueDate:       date(2024, 2, 1),
		})
	}
	recs = append(recs, &domain.Record{Status: domain.StatusInProgress, Step: domain.StepInvestigation, ResponsibleID: "u2", DueDate: date(2024, 2, 1)})

	assert.Equal(t, 5, OverdueCount("u1", recs, now))
	assert.True(t, DefaultSettings().Lockout().Decide(domain.Actor{ID: "u1"}, OverdueCount("u1", recs, now)))

	recs[0].Status, recs[0].Step = domain.StatusClosed, domain.StepFinalApproval
	assert.Equal(t, 4, OverdueCount("u1", recs, now))
	assert.False(t, DefaultSettings().Lockout().Decide(domain.Actor{ID: "u1"}, OverdueCount("u1", recs, now)))
}

func TestAllowedWhileLocked(t *testing.T) {
	assert.True(t, AllowedWhileLocked(OpSignOut))
	assert.True(t, AllowedWhileLocked(OpAuthenticate))
	assert.False(t, AllowedWhileLocked("transition"))
}
