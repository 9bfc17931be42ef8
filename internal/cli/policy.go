package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/ncflow/internal/compiler"
	"github.com/roach88/ncflow/internal/domain"
	"github.com/roach88/ncflow/internal/policy"
)

// NewPolicyCommand creates the policy command group.
func NewPolicyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and check CUE policy documents",
	}
	cmd.AddCommand(newPolicyShowCommand(rootOpts))
	cmd.AddCommand(newPolicyCheckCommand(rootOpts))
	return cmd
}

func newPolicyShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective policy settings",
		Long: `Show the effective policy settings: the document named by policy.file
in the configuration, or the built-in defaults.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			settings, err := loadSettings(cfg)
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Render(settings, func(w io.Writer) { writeSettings(w, settings) })
		},
	}
}

func newPolicyCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check <file>",
		Short: "Validate a CUE policy document",
		Long: `Validate a CUE policy document against the policy schema.

Exit codes:
  0 - Document is valid
  1 - Document is invalid
  2 - Command error`,
		Example:       "  ncflow policy check policy.cue",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			settings, err := compiler.CompileFile(args[0])
			if err != nil {
				if writeErr := out.Error("INVALID_POLICY", err.Error(), map[string]string{"file": args[0]}); writeErr != nil {
					return writeErr
				}
				return &ExitError{Code: ExitFailure, Message: "invalid policy", Err: err, Reported: true}
			}
			return out.Render(settings, func(w io.Writer) {
				fmt.Fprintf(w, "✓ %s is valid\n", args[0])
				writeSettings(w, settings)
			})
		},
	}
}

func writeSettings(w io.Writer, s policy.Settings) {
	fmt.Fprintf(w, "decline threshold:   %d\n", s.DeclineThreshold)
	fmt.Fprintf(w, "overdue threshold:   %d\n", s.OverdueThreshold)
	fmt.Fprintf(w, "reminder lead days:  %d\n", s.ReminderLeadDays)
	fmt.Fprintln(w, "due date offsets:")
	for _, sev := range domain.Severities {
		fmt.Fprintf(w, "  %-8s +%d days\n", sev, s.DueDateOffsets[sev])
	}
}
