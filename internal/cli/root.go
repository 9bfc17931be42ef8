package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/roach88/ncflow/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string
	As         string // acting user

	// Viper carries --db and --tenant together with the config file and
	// NCFLOW_* environment.
	Viper *viper.Viper
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the ncflow CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{Viper: config.NewViper()}

	cmd := &cobra.Command{
		Use:   "ncflow",
		Short: "ncflow - non-conformance workflow engine",
		Long: `ncflow tracks non-conformance records from report to closure.

Records move through classification, remediation, manager review and
verification. Every change is checked against the transition table, the
caller's capabilities and the field matrix, and is kept in an append-only
history.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.ConfigFile, "config", "", "config file (yaml or toml)")
	flags.StringVar(&opts.As, "as", "", "user performing the operation")
	flags.String("db", "", "path to SQLite database (default ncflow.db)")
	flags.String("tenant", "", "tenant the request is made under")
	_ = opts.Viper.BindPFlag(config.KeyDatabasePath, flags.Lookup("db"))
	_ = opts.Viper.BindPFlag(config.KeyTenant, flags.Lookup("tenant"))

	// Add subcommands
	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewActorCommand(opts))
	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewTransitionCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewFieldsCommand(opts))
	cmd.AddCommand(NewLockedCommand(opts))
	cmd.AddCommand(NewDueDateCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewPolicyCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
