package policy

import "github.com/roach88/ncflow/internal/domain"

// Escalation derives decline counts and the escalation flag from history.
type Escalation struct {
	Threshold int
}

// EscalationState is the result of folding a record's history.
type EscalationState struct {
	DeclineCount int  `json:"decline_count"`
	Escalated    bool `json:"escalated"`

	// CrossedAt is the seq of the decline event that reached the threshold,
	// or 0 when the record never escalated.
	CrossedAt int64 `json:"crossed_at,omitempty"`
}

// Evaluate folds history. Escalated is monotonic: once the threshold is
// reached it stays true however many events follow.
func (e Escalation) Evaluate(history []domain.Event) EscalationState {
	threshold := e.Threshold
	if threshold < 1 {
		threshold = DefaultDeclineThreshold
	}
	var st EscalationState
	for _, ev := range history {
		if ev.Action != domain.EventManagerDeclined {
			continue
		}
		st.DeclineCount++
		if !st.Escalated && st.DeclineCount >= threshold {
			st.Escalated = true
			st.CrossedAt = ev.Seq
		}
	}
	return st
}

// EvaluateRecord is Evaluate over rec.History.
func (e Escalation) EvaluateRecord(rec *domain.Record) EscalationState {
	return e.Evaluate(rec.History)
}

// JustEscalated reports whether appending the events after before flipped
// the flag from false to true.
func (e Escalation) JustEscalated(before, after []domain.Event) bool {
	return !e.Evaluate(before).Escalated && e.Evaluate(after).Escalated
}
