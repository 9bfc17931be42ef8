package engine

import (
	"time"

	"github.com/roach88/ncflow/internal/domain"
)

// RequestContext identifies who is calling and on behalf of which tenant.
// It is passed explicitly to every engine operation.
type RequestContext struct {
	ActorID   string
	Tenant    string
	RequestID string
}

// Payload carries the inputs of a transition. Only the fields an action
// uses are read; any field set is checked against the field matrix.
type Payload struct {
	// ExpectedVersion, when non-zero, must equal the stored version.
	ExpectedVersion int64 `json:"expected_version,omitempty"`

	// Comment is the transition comment stored on the history event.
	Comment string `json:"comment,omitempty"`

	Severity      domain.Severity `json:"severity,omitempty"`
	DueDate       *time.Time      `json:"due_date,omitempty"`
	ResponsibleID string          `json:"responsible_id,omitempty"`
	QAComment     string          `json:"qa_comment,omitempty"`

	ImmediateAction      string     `json:"immediate_action,omitempty"`
	RootCause            string     `json:"root_cause,omitempty"`
	CorrectiveAction     string     `json:"corrective_action,omitempty"`
	PreventiveAction     string     `json:"preventive_action,omitempty"`
	TargetCompletionDate *time.Time `json:"target_completion_date,omitempty"`

	ManagerComment  string `json:"manager_comment,omitempty"`
	VerifierComment string `json:"verifier_comment,omitempty"`

	Title        string `json:"title,omitempty"`
	Description  string `json:"description,omitempty"`
	DepartmentID string `json:"department_id,omitempty"`

	// Target is the requested state of an admin override.
	Target *domain.State `json:"target,omitempty"`
}

// touchedFields lists the record fields p sets.
func (p Payload) touchedFields() []domain.Field {
	var fs []domain.Field
	add := func(set bool, f domain.Field) {
		if set {
			fs = append(fs, f)
		}
	}
	add(p.Title != "", domain.FieldTitle)
	add(p.Description != "", domain.FieldDescription)
	add(p.DepartmentID != "", domain.FieldDepartment)
	add(p.Severity != "", domain.FieldSeverity)
	add(p.DueDate != nil, domain.FieldDueDate)
	add(p.ResponsibleID != "", domain.FieldResponsiblePerson)
	add(p.QAComment != "", domain.FieldQAComment)
	add(p.ImmediateAction != "", domain.FieldImmediateAction)
	add(p.RootCause != "", domain.FieldRootCause)
	add(p.CorrectiveAction != "", domain.FieldCorrectiveAction)
	add(p.PreventiveAction != "", domain.FieldPreventiveAction)
	add(p.TargetCompletionDate != nil, domain.FieldCompletionDate)
	add(p.ManagerComment != "", domain.FieldManagerComment)
	add(p.VerifierComment != "", domain.FieldVerifierComment)
	return fs
}

// NewRecord is the input of Create.
type NewRecord struct {
	Title        string          `json:"title"`
	Description  string          `json:"description,omitempty"`
	DepartmentID string          `json:"department_id"`
	Severity     domain.Severity `json:"severity,omitempty"`
}
