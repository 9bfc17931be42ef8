package engine

import (
	"context"
	"fmt"

	"github.com/roach88/ncflow/internal/domain"
	"github.com/roach88/ncflow/internal/policy"
)

// ReplayReport is the result of folding a record's history.
type ReplayReport struct {
	RecordID     string       `json:"record_id"`
	OK           bool         `json:"ok"`
	Events       int          `json:"events"`
	Folded       domain.State `json:"folded"`
	Stored       domain.State `json:"stored"`
	DeclineCount int          `json:"decline_count"`
	Escalated    bool         `json:"escalated"`
	Problems     []string     `json:"problems,omitempty"`
}

// Replay folds rec's history through the transition table, starting from
// open/1, and reports whether it reproduces the stored state.
//
// Every event must be numbered 1..n, start where the previous event ended,
// and end where its table row says. Admin overrides may end in any valid
// state.
func Replay(rec *domain.Record, settings policy.Settings) ReplayReport {
	open := domain.State{Status: domain.StatusOpen, Step: domain.StepClassification}
	report := ReplayReport{
		RecordID: rec.ID,
		Events:   len(rec.History),
		Stored:   rec.State(),
	}
	problem := func(format string, args ...any) {
		report.Problems = append(report.Problems, fmt.Sprintf(format, args...))
	}

	state := open
	for i, ev := range rec.History {
		if want := int64(i + 1); ev.Seq != want {
			problem("event %d has seq %d", want, ev.Seq)
		}
		if i == 0 {
			if ev.Action != domain.EventCreated || ev.To != open {
				problem("history must start with %s into %s, got %s into %s", domain.EventCreated, open, ev.Action, ev.To)
			}
			continue
		}
		if ev.From != state {
			problem("event %d starts in %s but the record was in %s", ev.Seq, ev.From, state)
		}
		switch ev.Action {
		case domain.EventCreated:
			problem("event %d repeats %s", ev.Seq, domain.EventCreated)
		case domain.EventAdminOverride:
			if !domain.ValidState(ev.To.Status, ev.To.Step) {
				problem("event %d overrides into %s, which is not a workflow state", ev.Seq, ev.To)
			}
		default:
			rule, ok := ruleForEvent(state, ev.Action)
			if !ok {
				problem("event %d: no %s transition from %s", ev.Seq, ev.Action, state)
			} else if rule.To != ev.To {
				problem("event %d: %s from %s leads to %s, not %s", ev.Seq, ev.Action, state, rule.To, ev.To)
			}
		}
		state = ev.To
	}

	report.Folded = state
	if len(rec.History) == 0 {
		problem("history is empty")
	}
	if state != report.Stored {
		problem("history ends in %s but the record is in %s", state, report.Stored)
	}
	if rec.Status == domain.StatusClosed && rec.ClosedAt == nil {
		problem("closed record has no closed-at time")
	}
	if rec.Status != domain.StatusClosed && rec.ClosedAt != nil {
		problem("%s record has a closed-at time", rec.Status)
	}

	esc := settings.Escalation().EvaluateRecord(rec)
	report.DeclineCount = esc.DeclineCount
	report.Escalated = esc.Escalated
	report.OK = len(report.Problems) == 0
	return report
}

// Verify loads record id and replays its history.
func (e *Engine) Verify(ctx context.Context, rc RequestContext, id string) (ReplayReport, error) {
	rec, err := e.Get(ctx, rc, id)
	if err != nil {
		return ReplayReport{}, err
	}
	return Replay(rec, e.settings), nil
}

// Escalation reports the decline count and escalation flag of record id.
func (e *Engine) Escalation(ctx context.Context, rc RequestContext, id string) (policy.EscalationState, error) {
	rec, err := e.Get(ctx, rc, id)
	if err != nil {
		return policy.EscalationState{}, err
	}
	return e.settings.Escalation().EvaluateRecord(rec), nil
}
