package policy

import (
	"fmt"
	"sort"

	"github.com/roach88/ncflow/internal/domain"
)

// FieldAccess is the editability of one field for one actor.
type FieldAccess struct {
	Editable bool   `json:"editable"`
	Reason   string `json:"reason,omitempty"`
}

// FieldPolicy maps every record field to its access for one actor.
type FieldPolicy map[domain.Field]FieldAccess

// Editable reports whether f may be modified.
func (p FieldPolicy) Editable(f domain.Field) bool {
	return p[f].Editable
}

// Reason returns why f is locked, or "" when it is editable.
func (p FieldPolicy) Reason(f domain.Field) string {
	return p[f].Reason
}

// EditableFields returns the unlocked fields in display order.
func (p FieldPolicy) EditableFields() []domain.Field {
	var out []domain.Field
	for _, f := range domain.Fields {
		if p[f].Editable {
			out = append(out, f)
		}
	}
	return out
}

// stage describes which single role may edit which fields in a (status, step).
type stage struct {
	name      string
	whom      string
	fields    []domain.Field
	unlocking func(a domain.Actor, rec *domain.Record) bool
}

var (
	classificationStage = stage{
		name:      "classification",
		whom:      "QA",
		fields:    []domain.Field{domain.FieldSeverity, domain.FieldDueDate, domain.FieldResponsiblePerson, domain.FieldQAComment},
		unlocking: func(a domain.Actor, _ *domain.Record) bool { return a.HasRole(domain.RoleQA) },
	}
	remediationFields = []domain.Field{
		domain.FieldImmediateAction,
		domain.FieldRootCause,
		domain.FieldCorrectiveAction,
		domain.FieldPreventiveAction,
		domain.FieldCompletionDate,
	}
	investigationStage = stage{
		name:      "investigation",
		whom:      "the responsible person",
		fields:    remediationFields,
		unlocking: isResponsible,
	}
	reworkStage = stage{
		name:      "rework",
		whom:      "the responsible person",
		fields:    remediationFields,
		unlocking: isResponsible,
	}
	reviewStage = stage{
		name:      "review",
		whom:      "the department manager",
		fields:    []domain.Field{domain.FieldManagerComment},
		unlocking: isReviewingManager,
	}
	verificationStage = stage{
		name:   "verification",
		whom:   "a verifier or QA",
		fields: []domain.Field{domain.FieldVerifierComment},
		unlocking: func(a domain.Actor, _ *domain.Record) bool {
			return a.HasRole(domain.RoleVerifier) || a.HasRole(domain.RoleQA)
		},
	}
)

func isResponsible(a domain.Actor, rec *domain.Record) bool {
	return domain.RelationshipOf(a, rec).IsResponsiblePerson
}

func isReviewingManager(a domain.Actor, rec *domain.Record) bool {
	return a.HasRole(domain.RoleManager) && (IsElevatedManager(a) || domain.RelationshipOf(a, rec).IsDepartmentManager)
}

// stageFor returns the active stage for rec, or false when nothing can be
// unlocked (terminal or unknown states).
func stageFor(rec *domain.Record) (stage, bool) {
	switch {
	case rec.Status == domain.StatusOpen && rec.Step == domain.StepClassification:
		return classificationStage, true
	case rec.Status == domain.StatusInProgress && rec.Step == domain.StepInvestigation:
		return investigationStage, true
	case rec.Status == domain.StatusInProgress && rec.Step == domain.StepRework:
		return reworkStage, true
	case rec.Status == domain.StatusPendingReview:
		return reviewStage, true
	case rec.Status == domain.StatusPendingVerification:
		return verificationStage, true
	}
	return stage{}, false
}

// EditableFields computes the field authorization matrix for a on rec.
//
// The default is deny-all. Admins unlock every field unconditionally. For
// every other actor, only the whitelist of the active stage is unlocked, and
// only for the role that stage belongs to. Terminal records unlock nothing.
func EditableFields(a domain.Actor, rec *domain.Record) FieldPolicy {
	p := make(FieldPolicy, len(domain.Fields))

	if a.IsAdmin() {
		for _, f := range domain.Fields {
			p[f] = FieldAccess{Editable: true}
		}
		return p
	}

	if rec.Status.Terminal() {
		reason := fmt.Sprintf("Record is %s; only an administrator can modify it", rec.Status)
		for _, f := range domain.Fields {
			p[f] = FieldAccess{Reason: reason}
		}
		return p
	}

	st, ok := stageFor(rec)
	if !ok {
		for _, f := range domain.Fields {
			p[f] = FieldAccess{Reason: fmt.Sprintf("Record state %s does not allow changes", rec.State())}
		}
		return p
	}

	whitelisted := make(map[domain.Field]bool, len(st.fields))
	for _, f := range st.fields {
		whitelisted[f] = true
	}
	unlocked := st.unlocking(a, rec)

	for _, f := range domain.Fields {
		switch {
		case whitelisted[f] && unlocked:
			p[f] = FieldAccess{Editable: true}
		case whitelisted[f]:
			p[f] = FieldAccess{Reason: fmt.Sprintf("Only %s can modify %s during the %s step", st.whom, f.Label(), st.name)}
		default:
			p[f] = FieldAccess{Reason: fmt.Sprintf("%s cannot be modified during the %s step", f.Label(), st.name)}
		}
	}
	return p
}

// Locked returns the fields in fs that p does not unlock, sorted.
func (p FieldPolicy) Locked(fs ...domain.Field) []domain.Field {
	var out []domain.Field
	for _, f := range fs {
		if !p[f].Editable {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
