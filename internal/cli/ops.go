package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/ncflow/internal/domain"
	"github.com/roach88/ncflow/internal/engine"
)

// NewLockedCommand creates the locked command.
func NewLockedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "locked <user>",
		Short: "Report whether a user is locked out by overdue records",
		Long: `Report whether a user is locked out by overdue records.

The decision is computed from live data: the user is locked when the
number of overdue, non-closed records they are responsible for reaches
the overdue threshold. Administrators are never locked.

Any user may check their own status. Checking someone else's with --as
is gated like every other operation.`,
		Example:       "  ncflow locked rp-1",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, app *App) error {
				if rootOpts.As != "" && rootOpts.As != args[0] {
					if err := app.Gate(ctx, opLocked); err != nil {
						return err
					}
				}
				st, err := app.Engine.LockStatus(ctx, args[0])
				if err != nil {
					return app.Out.EngineError(err)
				}
				return app.Out.Render(st, func(w io.Writer) {
					switch {
					case st.Exempt:
						fmt.Fprintf(w, "%s is not locked (administrator, %d overdue)\n", st.UserID, st.OverdueCount)
					case st.Locked:
						fmt.Fprintf(w, "%s is locked: %d overdue records (limit %d)\n", st.UserID, st.OverdueCount, st.Threshold)
					default:
						fmt.Fprintf(w, "%s is not locked: %d overdue records (limit %d)\n", st.UserID, st.OverdueCount, st.Threshold)
					}
				})
			})
		},
	}
}

// DueDateOptions holds flags for the due-date command.
type DueDateOptions struct {
	*RootOptions
	From string
}

// DueDateResult is the data returned by due-date.
type DueDateResult struct {
	Severity  domain.Severity `json:"severity"`
	Reference string          `json:"reference"`
	DueDate   string          `json:"due_date"`
}

// NewDueDateCommand creates the due-date command.
func NewDueDateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DueDateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "due-date <severity>",
		Short: "Compute the due date for a severity",
		Long: `Compute the due date a record of the given severity gets under the
active policy.

Examples:
  ncflow due-date major
  ncflow due-date critical --from 2024-03-01`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := time.Now().UTC()
			if opts.From != "" {
				from, err := parseDateFlag("--from", opts.From)
				if err != nil {
					return err
				}
				ref = *from
			}
			return withApp(cmd, opts.RootOptions, func(ctx context.Context, app *App) error {
				sev := domain.Severity(args[0])
				due, err := app.Engine.ComputeDueDate(sev, ref)
				if err != nil {
					return app.Out.EngineError(err)
				}
				result := DueDateResult{
					Severity:  sev,
					Reference: ref.Format(time.DateOnly),
					DueDate:   due.Format(time.DateOnly),
				}
				return app.Out.Render(result, func(w io.Writer) {
					fmt.Fprintln(w, result.DueDate)
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "", "reference date, YYYY-MM-DD (default today)")
	return cmd
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run the scheduled maintenance pass",
		Long: `Run the scheduled maintenance pass.

Retries undelivered notifications, repairs missing activity entries,
issues escalation notices that were never sent, sends due-soon reminders
and overdue notices, and records lockout changes. Safe to re-run: a
second run on the same day sends nothing new.

Intended to be invoked by an external scheduler, e.g. daily from cron.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, app *App) error {
				res, err := app.Engine.RunScheduledSweep(ctx)
				if err != nil {
					return app.Out.EngineError(err)
				}
				return app.Out.Render(res, func(w io.Writer) { writeSweep(w, res) })
			})
		},
	}
}

func writeSweep(w io.Writer, res engine.SweepResult) {
	fmt.Fprintln(w, "Sweep complete:")
	fmt.Fprintf(w, "  reminders sent:         %d\n", res.RemindersSent)
	fmt.Fprintf(w, "  escalations triggered:  %d\n", res.EscalationsTriggered)
	fmt.Fprintf(w, "  lockouts triggered:     %d\n", res.LockoutsTriggered)
	fmt.Fprintf(w, "  notifications retried:  %d\n", res.NotificationsRetried)
	fmt.Fprintf(w, "  activity repaired:      %d\n", res.ActivityRepaired)
	if res.DeliveryFailures > 0 {
		fmt.Fprintf(w, "  delivery failures:      %d (retried next sweep)\n", res.DeliveryFailures)
	}
}
