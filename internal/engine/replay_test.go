package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ncflow/internal/domain"
	"github.com/roach88/ncflow/internal/policy"
)

func TestVerify_ReproducesStoredState(t *testing.T) {
	f := newFixture(t)
	rec := f.toReview(t)
	f.do(t, "mgr", rec.ID, domain.ActionDecline, Payload{Comment: "Redo"})
	f.do(t, "rp", rec.ID, domain.ActionSubmitRemediation, remediation())
	f.do(t, "mgr", rec.ID, domain.ActionApprove, Payload{})
	f.do(t, "ver", rec.ID, domain.ActionVerifyApprove, Payload{})

	report, err := f.engine.Verify(context.Background(), as("admin"), rec.ID)
	require.NoError(t, err)
	assert.True(t, report.OK, "problems: %v", report.Problems)
	assert.Equal(t, 7, report.Events)
	assert.Equal(t, stateOf(domain.StatusClosed, domain.StepFinalApproval), report.Folded)
	assert.Equal(t, report.Stored, report.Folded)
	assert.Equal(t, 1, report.DeclineCount)
	assert.False(t, report.Escalated)
}

func TestVerify_AcceptsOverrides(t *testing.T) {
	f := newFixture(t)
	rec := f.toVerification(t)
	f.do(t, "ver", rec.ID, domain.ActionVerifyReject, Payload{Comment: "Recurred"})
	target := stateOf(domain.StatusPendingReview, domain.StepFinalApproval)
	f.do(t, "admin", rec.ID, domain.ActionAdminOverride, Payload{Comment: "Re-review", Target: &target})
	f.do(t, "mgr", rec.ID, domain.ActionApprove, Payload{})

	report, err := f.engine.Verify(context.Background(), as("admin"), rec.ID)
	require.NoError(t, err)
	assert.True(t, report.OK, "problems: %v", report.Problems)
	assert.Equal(t, domain.StatusClosed, report.Folded.Status)
}

func TestReplay_DetectsTampering(t *testing.T) {
	f := newFixture(t)
	rec := f.toVerification(t)

	tests := []struct {
		name    string
		tamper  func(r *domain.Record)
		problem string
	}{
		{
			name:    "status edited without an event",
			tamper:  func(r *domain.Record) { r.Status, r.Step = domain.StatusClosed, domain.StepFinalApproval },
			problem: "history ends in pending_verification/5 but the record is in closed/6",
		},
		{
			name:    "event skips the table",
			tamper:  func(r *domain.Record) { r.History[2].To = stateOf(domain.StatusPendingVerification, domain.StepVerification) },
			problem: "event 3: remediation_submitted from in_progress/2 leads to pending_review/4, not pending_verification/5",
		},
		{
			name:    "gap in sequence",
			tamper:  func(r *domain.Record) { r.History[1].Seq = 7 },
			problem: "event 2 has seq 7",
		},
		{
			name: "closed-at on open record",
			tamper: func(r *domain.Record) {
				at := r.CreatedAt
				r.ClosedAt = &at
			},
			problem: "pending_verification record has a closed-at time",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := rec.Clone()
			tt.tamper(r)
			report := Replay(r, policy.DefaultSettings())
			assert.False(t, report.OK)
			assert.Contains(t, report.Problems, tt.problem)
		})
	}
}

func TestReplay_CountsDeclines(t *testing.T) {
	f := newFixture(t)
	rec := f.toReview(t)
	for i := 0; i < 3; i++ {
		f.do(t, "mgr", rec.ID, domain.ActionDecline, Payload{Comment: "No"})
		f.do(t, "rp", rec.ID, domain.ActionSubmitRemediation, remediation())
	}

	report := Replay(f.reload(t, rec.ID), policy.DefaultSettings())
	assert.True(t, report.OK, "problems: %v", report.Problems)
	assert.Equal(t, 3, report.DeclineCount)
	assert.True(t, report.Escalated)
}

func TestRules_CoverEveryNonTerminalState(t *testing.T) {
	for _, r := range Rules() {
		assert.True(t, domain.ValidState(r.From.Status, r.From.Step), "from %s", r.From)
		assert.True(t, domain.ValidState(r.To.Status, r.To.Step), "to %s", r.To)
		assert.False(t, r.From.Status.Terminal(), "row leaves terminal %s", r.From)
	}

	_, ok := LookupRule(stateOf(domain.StatusPendingReview, domain.StepFinalApproval), domain.ActionApprove)
	assert.True(t, ok)
	rule, _ := LookupRule(stateOf(domain.StatusPendingReview, domain.StepFinalApproval), domain.ActionApprove)
	assert.Equal(t, stateOf(domain.StatusClosed, domain.StepFinalApproval), rule.To)

	_, ok = LookupRule(stateOf(domain.StatusClosed, domain.StepFinalApproval), domain.ActionDecline)
	assert.False(t, ok)
}
