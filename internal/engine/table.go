package engine

import (
	"github.com/roach88/ncflow/internal/domain"
	"github.com/roach88/ncflow/internal/policy"
)

// Rule is one row of the transition table.
type Rule struct {
	From     domain.State
	Action   domain.Action
	Requires policy.Capability
	To       domain.State
	Event    domain.EventAction
}

func st(status domain.Status, step domain.Step) domain.State {
	return domain.State{Status: status, Step: step}
}

var (
	stateOpen         = st(domain.StatusOpen, domain.StepClassification)
	stateInvestigate  = st(domain.StatusInProgress, domain.StepInvestigation)
	stateRework       = st(domain.StatusInProgress, domain.StepRework)
	stateReview       = st(domain.StatusPendingReview, domain.StepReview)
	stateFinalReview  = st(domain.StatusPendingReview, domain.StepFinalApproval)
	stateVerification = st(domain.StatusPendingVerification, domain.StepVerification)
	stateClosed       = st(domain.StatusClosed, domain.StepFinalApproval)
	stateRejected     = st(domain.StatusRejected, domain.StepVerification)
)

// transitionTable is the complete set of non-override transitions.
// admin_override is handled separately: it has no fixed target.
var transitionTable = []Rule{
	{stateOpen, domain.ActionClassify, policy.QACapability, stateInvestigate, domain.EventClassified},

	{stateInvestigate, domain.ActionSubmitRemediation, policy.ResponsiblePersonCapability, stateReview, domain.EventRemediationSubmitted},
	{stateRework, domain.ActionSubmitRemediation, policy.ResponsiblePersonCapability, stateReview, domain.EventRemediationSubmitted},

	{stateReview, domain.ActionApprove, policy.ManagerCapability, stateVerification, domain.EventManagerApproved},
	{stateFinalReview, domain.ActionApprove, policy.ManagerCapability, stateClosed, domain.EventManagerApproved},

	{stateReview, domain.ActionDecline, policy.ManagerCapability, stateRework, domain.EventManagerDeclined},
	{stateFinalReview, domain.ActionDecline, policy.ManagerCapability, stateRework, domain.EventManagerDeclined},

	{stateVerification, domain.ActionVerifyApprove, policy.VerifierCapability, stateClosed, domain.EventVerified},
	{stateVerification, domain.ActionVerifyReject, policy.VerifierCapability, stateRejected, domain.EventVerificationRejected},
}

// Rules returns a copy of the transition table.
func Rules() []Rule {
	return append([]Rule(nil), transitionTable...)
}

// LookupRule returns the row for (from, action).
func LookupRule(from domain.State, action domain.Action) (Rule, bool) {
	for _, r := range transitionTable {
		if r.From == from && r.Action == action {
			return r, true
		}
	}
	return Rule{}, false
}

// ruleForEvent finds the row that produced an event, used by Replay.
func ruleForEvent(from domain.State, ev domain.EventAction) (Rule, bool) {
	for _, r := range transitionTable {
		if r.From == from && r.Event == ev {
			return r, true
		}
	}
	return Rule{}, false
}

// AvailableActions lists the actions a could take on rec right now, in
// table order. Admin override is included for admins.
func AvailableActions(a domain.Actor, rec *domain.Record) []domain.Action {
	var out []domain.Action
	if !rec.Status.Terminal() {
		seen := make(map[domain.Action]bool)
		for _, r := range transitionTable {
			if r.From == rec.State() && !seen[r.Action] && r.Requires.Allows(a, rec) {
				seen[r.Action] = true
				out = append(out, r.Action)
			}
		}
	}
	if policy.CanOverride(a) {
		out = append(out, domain.ActionAdminOverride)
	}
	return out
}
