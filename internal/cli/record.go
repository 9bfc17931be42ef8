package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/ncflow/internal/domain"
	"github.com/roach88/ncflow/internal/engine"
	"github.com/roach88/ncflow/internal/policy"
)

// Gate operation names. Every command acting as --as is gated; only
// sign-out and authentication pass while the caller is locked.
const (
	opCreate     = "create"
	opTransition = "transition"
	opShow       = "show"
	opFields     = "fields"
	opVerify     = "verify"
	opLocked     = "locked"
)

// CreateOptions holds flags for the create command.
type CreateOptions struct {
	*RootOptions
	Title       string
	Description string
	Department  string
	Severity    string
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CreateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Report a new non-conformance",
		Long: `Report a new non-conformance record.

The record starts in open/1 awaiting classification. Its due date is
derived from the severity (minor when omitted) and every QA user is
notified.

Examples:
  ncflow create --as op-1 --title "Scratched housing" --department assembly
  ncflow create --as op-1 --title "Seal leak" --department paint --severity major`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts.RootOptions, func(ctx context.Context, app *App) error {
				if err := app.Gate(ctx, opCreate); err != nil {
					return err
				}
				rec, err := app.Engine.Create(ctx, app.Request(), engine.NewRecord{
					Title:        opts.Title,
					Description:  opts.Description,
					DepartmentID: opts.Department,
					Severity:     domain.Severity(opts.Severity),
				})
				if err != nil {
					return app.Out.EngineError(err)
				}
				return app.Out.Render(rec, func(w io.Writer) {
					fmt.Fprintf(w, "Created %s (%s, due %s)\n", rec.ID, rec.State(), rec.DueDate.Format(time.DateOnly))
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.Title, "title", "", "short title (required)")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Department, "department", "", "department id (required)")
	cmd.Flags().StringVar(&opts.Severity, "severity", "", "critical, major or minor")
	return cmd
}

// TransitionOptions holds the payload flags of the transition command.
type TransitionOptions struct {
	*RootOptions
	ExpectedVersion      int64
	Comment              string
	Severity             string
	DueDate              string
	Responsible          string
	QAComment            string
	ImmediateAction      string
	RootCause            string
	CorrectiveAction     string
	PreventiveAction     string
	TargetCompletionDate string
	ManagerComment       string
	VerifierComment      string
	Title                string
	Description          string
	Department           string
	Target               string
}

// NewTransitionCommand creates the transition command.
func NewTransitionCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TransitionOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "transition <id> <action>",
		Short: "Apply a workflow action to a record",
		Long: `Apply a workflow action to a record.

Actions: classify, submit_remediation, approve, decline, verify_approve,
verify_reject, admin_override.

Every flag that sets a record field is checked against the field matrix
for the acting user. Dates are YYYY-MM-DD; --target is status/step.

Examples:
  ncflow transition nc-1 classify --as qa-1 --severity major --responsible rp-1
  ncflow transition nc-1 submit_remediation --as rp-1 --root-cause "..." \
      --corrective-action "..." --preventive-action "..." --target-date 2024-02-01
  ncflow transition nc-1 decline --as mgr-1 --comment "Root cause is incomplete"
  ncflow transition nc-1 admin_override --as admin --target pending_review/6 --comment "Final round"`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			action := domain.Action(args[1])
			if !action.Valid() {
				return NewExitError(ExitCommandError, fmt.Sprintf("unknown action %q", args[1]))
			}
			payload, err := opts.payload()
			if err != nil {
				return err
			}
			return withApp(cmd, opts.RootOptions, func(ctx context.Context, app *App) error {
				if err := app.Gate(ctx, opTransition); err != nil {
					return err
				}
				rec, err := app.Engine.Transition(ctx, app.Request(), args[0], action, payload)
				if err != nil {
					return app.Out.EngineError(err)
				}
				return app.Out.Render(rec, func(w io.Writer) {
					fmt.Fprintf(w, "%s %s: now %s (version %d)\n", rec.ID, action, rec.State(), rec.Version)
				})
			})
		},
	}

	f := cmd.Flags()
	f.Int64Var(&opts.ExpectedVersion, "expected-version", 0, "fail unless the record is at this version")
	f.StringVar(&opts.Comment, "comment", "", "transition comment")
	f.StringVar(&opts.Severity, "severity", "", "severity (classify)")
	f.StringVar(&opts.DueDate, "due-date", "", "explicit due date, YYYY-MM-DD")
	f.StringVar(&opts.Responsible, "responsible", "", "responsible person (classify)")
	f.StringVar(&opts.QAComment, "qa-comment", "", "QA comment")
	f.StringVar(&opts.ImmediateAction, "immediate-action", "", "immediate action")
	f.StringVar(&opts.RootCause, "root-cause", "", "root cause (submit_remediation)")
	f.StringVar(&opts.CorrectiveAction, "corrective-action", "", "corrective action (submit_remediation)")
	f.StringVar(&opts.PreventiveAction, "preventive-action", "", "preventive action (submit_remediation)")
	f.StringVar(&opts.TargetCompletionDate, "target-date", "", "target completion date, YYYY-MM-DD")
	f.StringVar(&opts.ManagerComment, "manager-comment", "", "manager comment")
	f.StringVar(&opts.VerifierComment, "verifier-comment", "", "verifier comment")
	f.StringVar(&opts.Title, "title", "", "title")
	f.StringVar(&opts.Description, "description", "", "description")
	f.StringVar(&opts.Department, "department", "", "department id")
	f.StringVar(&opts.Target, "target", "", "override target, status/step (admin_override)")
	return cmd
}

// payload converts the flags into an engine payload.
func (o *TransitionOptions) payload() (engine.Payload, error) {
	p := engine.Payload{
		ExpectedVersion:  o.ExpectedVersion,
		Comment:          o.Comment,
		Severity:         domain.Severity(o.Severity),
		ResponsibleID:    o.Responsible,
		QAComment:        o.QAComment,
		ImmediateAction:  o.ImmediateAction,
		RootCause:        o.RootCause,
		CorrectiveAction: o.CorrectiveAction,
		PreventiveAction: o.PreventiveAction,
		ManagerComment:   o.ManagerComment,
		VerifierComment:  o.VerifierComment,
		Title:            o.Title,
		Description:      o.Description,
		DepartmentID:     o.Department,
	}
	var err error
	if p.DueDate, err = parseDateFlag("--due-date", o.DueDate); err != nil {
		return p, err
	}
	if p.TargetCompletionDate, err = parseDateFlag("--target-date", o.TargetCompletionDate); err != nil {
		return p, err
	}
	if o.Target != "" {
		target, err := domain.ParseState(o.Target)
		if err != nil {
			return p, WrapExitError(ExitCommandError, "invalid --target", err)
		}
		p.Target = &target
	}
	return p, nil
}

func parseDateFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid "+name+": expected YYYY-MM-DD", err)
	}
	return &t, nil
}

// ShowResult is the data returned by show.
type ShowResult struct {
	Record     *domain.Record         `json:"record"`
	Actions    []domain.Action        `json:"actions"`
	Escalation policy.EscalationState `json:"escalation"`
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a record, its history and the caller's actions",
		Example: `  ncflow show nc-1 --as qa-1
  ncflow show nc-1 --as mgr-1 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, app *App) error {
				if err := app.Gate(ctx, opShow); err != nil {
					return err
				}
				rc := app.Request()
				rec, err := app.Engine.Get(ctx, rc, args[0])
				if err != nil {
					return app.Out.EngineError(err)
				}
				actions, err := app.Engine.Actions(ctx, rc, args[0])
				if err != nil {
					return app.Out.EngineError(err)
				}
				if actions == nil {
					actions = []domain.Action{}
				}
				result := ShowResult{
					Record:     rec,
					Actions:    actions,
					Escalation: app.Engine.Settings().Escalation().EvaluateRecord(rec),
				}
				return app.Out.Render(result, func(w io.Writer) { writeRecord(w, result) })
			})
		},
	}
}

func writeRecord(w io.Writer, r ShowResult) {
	rec := r.Record
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Record %s\t%s\n", rec.ID, rec.Title)
	fmt.Fprintf(tw, "  State:\t%s\n", rec.State())
	fmt.Fprintf(tw, "  Severity:\t%s\n", rec.Severity)
	fmt.Fprintf(tw, "  Department:\t%s\n", rec.DepartmentID)
	fmt.Fprintf(tw, "  Reporter:\t%s\n", rec.ReporterID)
	fmt.Fprintf(tw, "  Responsible:\t%s\n", orDash(rec.ResponsibleID))
	fmt.Fprintf(tw, "  Due:\t%s\n", rec.DueDate.Format(time.DateOnly))
	if rec.ClosedAt != nil {
		fmt.Fprintf(tw, "  Closed:\t%s\n", rec.ClosedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(tw, "  Version:\t%d\n", rec.Version)
	fmt.Fprintf(tw, "  Declines:\t%d", r.Escalation.DeclineCount)
	if r.Escalation.Escalated {
		fmt.Fprint(tw, " (escalated)")
	}
	fmt.Fprintln(tw)
	tw.Flush()

	fmt.Fprintln(w, "\nHistory:")
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, ev := range rec.History {
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\t%s -> %s", ev.Seq, ev.Timestamp.Format("2006-01-02 15:04"), ev.Action, ev.ActorID, ev.From, ev.To)
		if ev.Comment != "" {
			fmt.Fprintf(tw, "\t%q", ev.Comment)
		}
		fmt.Fprintln(tw)
	}
	tw.Flush()

	if len(r.Actions) == 0 {
		fmt.Fprintln(w, "\nNo actions available.")
		return
	}
	names := make([]string, len(r.Actions))
	for i, a := range r.Actions {
		names[i] = string(a)
	}
	fmt.Fprintf(w, "\nAvailable actions: %s\n", strings.Join(names, ", "))
}

// FieldRow is one entry of the fields command output.
type FieldRow struct {
	Field    domain.Field `json:"field"`
	Label    string       `json:"label"`
	Editable bool         `json:"editable"`
	Reason   string       `json:"reason,omitempty"`
}

// NewFieldsCommand creates the fields command.
func NewFieldsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "fields <id>",
		Short:         "Show which fields the caller may edit",
		Example:       "  ncflow fields nc-1 --as rp-1",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, app *App) error {
				if err := app.Gate(ctx, opFields); err != nil {
					return err
				}
				fp, err := app.Engine.EditableFields(ctx, app.Request(), args[0])
				if err != nil {
					return app.Out.EngineError(err)
				}
				rows := make([]FieldRow, 0, len(domain.Fields))
				for _, f := range domain.Fields {
					rows = append(rows, FieldRow{Field: f, Label: f.Label(), Editable: fp.Editable(f), Reason: fp.Reason(f)})
				}
				return app.Out.Render(rows, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "FIELD\tEDITABLE\tREASON")
					for _, r := range rows {
						editable := "no"
						if r.Editable {
							editable = "yes"
						}
						fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Field, editable, r.Reason)
					}
					tw.Flush()
				})
			})
		},
	}
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <id>",
		Short: "Replay a record's history and compare it with the stored state",
		Long: `Replay a record's history through the transition table from open/1
and check that it reproduces the stored state.

Exit codes:
  0 - History replays to the stored state
  1 - Replay mismatch, or the record cannot be read
  2 - Command error`,
		Example:       "  ncflow verify nc-1 --as qa-1",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, app *App) error {
				if err := app.Gate(ctx, opVerify); err != nil {
					return err
				}
				report, err := app.Engine.Verify(ctx, app.Request(), args[0])
				if err != nil {
					return app.Out.EngineError(err)
				}
				if !report.OK {
					app.Logger.Warn("replay mismatch", "record_id", report.RecordID, "problems", len(report.Problems))
					if err := app.Out.Error("REPLAY_MISMATCH", fmt.Sprintf("history of %s does not replay to %s", report.RecordID, report.Stored), report); err != nil {
						return err
					}
					if app.Out.Format != "json" {
						for _, p := range report.Problems {
							fmt.Fprintf(app.Out.Writer, "  %s\n", p)
						}
					}
					return &ExitError{Code: ExitFailure, Message: "replay mismatch", Reported: true}
				}
				return app.Out.Render(report, func(w io.Writer) {
					fmt.Fprintf(w, "✓ %s: %d events replay to %s (declines %d)\n", report.RecordID, report.Events, report.Folded, report.DeclineCount)
				})
			})
		},
	}
}
