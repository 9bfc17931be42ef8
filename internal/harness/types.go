package harness

// Trace event kinds.
const (
	KindStep   = "step"
	KindNotify = "notify"
)

// TraceEvent is one entry of a scenario trace: either a flow step and its
// outcome, or a notification delivered while the step ran.
type TraceEvent struct {
	Seq  int64  `json:"seq"`
	Kind string `json:"kind"`

	// Step fields.
	Op      string         `json:"op,omitempty"`
	Actor   string         `json:"actor,omitempty"`
	Record  string         `json:"record,omitempty"`
	Action  string         `json:"action,omitempty"`
	Outcome string         `json:"outcome,omitempty"`
	State   string         `json:"state,omitempty"`
	Detail  map[string]any `json:"detail,omitempty"`

	// Notification fields. Record above holds the record alias.
	Notification string   `json:"notification,omitempty"`
	Recipients   []string `json:"recipients,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace contains every step and delivered notification in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failed expectations and assertions.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Records maps record aliases to the ids the engine assigned.
	Records map[string]string `json:"records,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Errors:  []string{},
		Records: make(map[string]string),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// addEvent appends ev with the next sequence number.
func (r *Result) addEvent(ev TraceEvent) {
	ev.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, ev)
}
