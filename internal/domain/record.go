package domain

import "time"

// Record is a non-conformance record.
//
// Status and Step always form a pair accepted by ValidState. History is
// append-only and ordered by Seq. Version is bumped by the store on every
// successful compare-and-swap.
type Record struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenant_id,omitempty"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Status        Status     `json:"status"`
	Step          Step       `json:"step"`
	Severity      Severity   `json:"severity"`
	ReporterID    string     `json:"reporter_id"`
	ResponsibleID string     `json:"responsible_id,omitempty"`
	DepartmentID  string     `json:"department_id"`
	DueDate       time.Time  `json:"due_date"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	Version       int64      `json:"version"`

	QAComment       string `json:"qa_comment,omitempty"`
	ImmediateAction string `json:"immediate_action,omitempty"`
	ManagerComment  string `json:"manager_comment,omitempty"`
	VerifierComment string `json:"verifier_comment,omitempty"`

	History     []Event      `json:"history"`
	Submissions []Submission `json:"submissions,omitempty"`
}

// State returns the record's (status, step) pair.
func (r *Record) State() State {
	return State{Status: r.Status, Step: r.Step}
}

// Clone returns a deep copy so callers can mutate without aliasing the original.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.ClosedAt != nil {
		t := *r.ClosedAt
		c.ClosedAt = &t
	}
	c.History = append([]Event(nil), r.History...)
	c.Submissions = make([]Submission, len(r.Submissions))
	for i, s := range r.Submissions {
		c.Submissions[i] = s.clone()
	}
	if r.Submissions == nil {
		c.Submissions = nil
	}
	return &c
}

// NextSeq returns the sequence number for the next history event.
func (r *Record) NextSeq() int64 {
	if len(r.History) == 0 {
		return 1
	}
	return r.History[len(r.History)-1].Seq + 1
}

// ActiveSubmission returns the submission that has not been superseded, if any.
func (r *Record) ActiveSubmission() *Submission {
	for i := len(r.Submissions) - 1; i >= 0; i-- {
		if r.Submissions[i].SupersededAt == nil {
			return &r.Submissions[i]
		}
	}
	return nil
}

// Summary returns the fields notifications carry.
func (r *Record) Summary() RecordSummary {
	return RecordSummary{
		ID:           r.ID,
		Title:        r.Title,
		Status:       r.Status,
		Step:         r.Step,
		Severity:     r.Severity,
		DepartmentID: r.DepartmentID,
		DueDate:      r.DueDate,
	}
}

// RecordSummary is a read-only snapshot of a record used in notifications.
type RecordSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Status       Status    `json:"status"`
	Step         Step      `json:"step"`
	Severity     Severity  `json:"severity"`
	DepartmentID string    `json:"department_id"`
	DueDate      time.Time `json:"due_date"`
}

// Submission is one corrective-action submission. A record has at most one
// active submission; older ones are superseded, never deleted.
type Submission struct {
	ID                   string     `json:"id"`
	RecordID             string     `json:"record_id"`
	Round                int        `json:"round"`
	ImmediateAction      string     `json:"immediate_action,omitempty"`
	RootCause            string     `json:"root_cause"`
	CorrectiveAction     string     `json:"corrective_action"`
	PreventiveAction     string     `json:"preventive_action"`
	TargetCompletionDate time.Time  `json:"target_completion_date"`
	SubmitterID          string     `json:"submitter_id"`
	SubmittedAt          time.Time  `json:"submitted_at"`
	SupersededAt         *time.Time `json:"superseded_at,omitempty"`
}

func (s Submission) clone() Submission {
	if s.SupersededAt != nil {
		t := *s.SupersededAt
		s.SupersededAt = &t
	}
	return s
}
