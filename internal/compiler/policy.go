package compiler

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/ncflow/internal/domain"
	"github.com/roach88/ncflow/internal/policy"
)

//go:embed schema.cue
var schemaSource string

// CompileFile reads and compiles a CUE policy document.
func CompileFile(path string) (policy.Settings, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return policy.Settings{}, fmt.Errorf("read policy file: %w", err)
	}
	return CompileSource(path, src)
}

// CompileSource compiles a CUE policy document. name is used in error
// positions.
//
// The document is unified with the closed #Policy schema, so unknown fields
// and out-of-range values are rejected. Fields the document leaves out take
// the schema defaults.
func CompileSource(name string, src []byte) (policy.Settings, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return policy.Settings{}, fmt.Errorf("compile policy schema: %w", err)
	}

	doc := ctx.CompileBytes(src, cue.Filename(name))
	if err := doc.Err(); err != nil {
		return policy.Settings{}, formatCUEError(err)
	}

	return CompilePolicy(schema.LookupPath(cue.ParsePath("#Policy")).Unify(doc))
}

// CompilePolicy converts a value already unified with #Policy into Settings.
func CompilePolicy(v cue.Value) (policy.Settings, error) {
	if err := v.Validate(); err != nil {
		return policy.Settings{}, formatCUEError(err)
	}

	s := policy.Settings{DueDateOffsets: make(map[domain.Severity]int, len(domain.Severities))}

	var err error
	if s.DeclineThreshold, err = lookupInt(v, "escalation.decline_threshold"); err != nil {
		return policy.Settings{}, err
	}
	if s.OverdueThreshold, err = lookupInt(v, "lockout.overdue_threshold"); err != nil {
		return policy.Settings{}, err
	}
	if s.ReminderLeadDays, err = lookupInt(v, "reminders.lead_days"); err != nil {
		return policy.Settings{}, err
	}
	for _, sev := range domain.Severities {
		days, err := lookupInt(v, "due_date."+string(sev))
		if err != nil {
			return policy.Settings{}, err
		}
		s.DueDateOffsets[sev] = days
	}

	if err := s.Validate(); err != nil {
		return policy.Settings{}, &CompileError{Field: "policy", Message: err.Error(), Pos: v.Pos()}
	}
	return s, nil
}

// lookupInt resolves path to a concrete integer, falling back to the
// schema default.
func lookupInt(v cue.Value, path string) (int, error) {
	field := v.LookupPath(cue.ParsePath(path))
	if !field.Exists() {
		return 0, &CompileError{Field: path, Message: "field is missing", Pos: v.Pos()}
	}
	if def, ok := field.Default(); ok {
		field = def
	}
	n, err := field.Int64()
	if err != nil {
		return 0, &CompileError{Field: path, Message: "must be a concrete integer", Pos: field.Pos()}
	}
	return int(n), nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
