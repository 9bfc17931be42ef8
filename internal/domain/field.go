package domain

// Field names an editable attribute of a record.
type Field string

const (
	FieldTitle             Field = "title"
	FieldDescription       Field = "description"
	FieldDepartment        Field = "department"
	FieldSeverity          Field = "severity"
	FieldDueDate           Field = "due_date"
	FieldResponsiblePerson Field = "responsible_person"
	FieldQAComment         Field = "qa_comment"
	FieldImmediateAction   Field = "immediate_action"
	FieldRootCause         Field = "root_cause"
	FieldCorrectiveAction  Field = "corrective_action"
	FieldPreventiveAction  Field = "preventive_action"
	FieldCompletionDate    Field = "completion_date"
	FieldManagerComment    Field = "manager_comment"
	FieldVerifierComment   Field = "verifier_comment"
)

// Fields lists every record field in display order.
var Fields = []Field{
	FieldTitle,
	FieldDescription,
	FieldDepartment,
	FieldSeverity,
	FieldDueDate,
	FieldResponsiblePerson,
	FieldQAComment,
	FieldImmediateAction,
	FieldRootCause,
	FieldCorrectiveAction,
	FieldPreventiveAction,
	FieldCompletionDate,
	FieldManagerComment,
	FieldVerifierComment,
}

var fieldLabels = map[Field]string{
	FieldTitle:             "Title",
	FieldDescription:       "Description",
	FieldDepartment:        "Department",
	FieldSeverity:          "Severity",
	FieldDueDate:           "Due date",
	FieldResponsiblePerson: "Responsible person",
	FieldQAComment:         "QA comment",
	FieldImmediateAction:   "Immediate action",
	FieldRootCause:         "Root cause",
	FieldCorrectiveAction:  "Corrective action",
	FieldPreventiveAction:  "Preventive action",
	FieldCompletionDate:    "Completion date",
	FieldManagerComment:    "Manager comment",
	FieldVerifierComment:   "Verifier comment",
}

// Label returns the human-readable field name.
func (f Field) Label() string {
	if l, ok := fieldLabels[f]; ok {
		return l
	}
	return string(f)
}

// Valid reports whether f is a known field.
func (f Field) Valid() bool {
	_, ok := fieldLabels[f]
	return ok
}
