package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/ncflow/internal/domain"
	"github.com/roach88/ncflow/internal/harness"
)

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions
	ActorsFile string
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the database and optionally seed actors",
		Long: `Create the database schema at --db and optionally seed the actor
directory from a YAML file.

The actors file is a list of entries:

  - id: qa-1
    name: Quinn
    roles: [qa]
  - id: mgr-1
    roles: [manager]
    department: assembly

Examples:
  ncflow init --db ncflow.db
  ncflow init --actors actors.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts.RootOptions, func(ctx context.Context, app *App) error {
				return runInit(ctx, app, opts)
			})
		},
	}

	cmd.Flags().StringVar(&opts.ActorsFile, "actors", "", "YAML file of actors to seed")
	return cmd
}

// InitResult is the data returned by init.
type InitResult struct {
	Database string `json:"database"`
	Actors   int    `json:"actors_seeded"`
}

func runInit(ctx context.Context, app *App, opts *InitOptions) error {
	result := InitResult{Database: app.Config.DatabasePath}

	if opts.ActorsFile != "" {
		actors, err := loadActors(opts.ActorsFile)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load actors", err)
		}
		for _, a := range actors {
			if err := app.Store.PutActor(ctx, a); err != nil {
				return WrapExitError(ExitCommandError, "failed to store actor "+a.ID, err)
			}
			app.Logger.Debug("seeded actor", "actor", a.ID)
		}
		result.Actors = len(actors)
	}

	return app.Out.Render(result, func(w io.Writer) {
		fmt.Fprintf(w, "Initialized %s", result.Database)
		if result.Actors > 0 {
			fmt.Fprintf(w, " with %d actors", result.Actors)
		}
		fmt.Fprintln(w)
	})
}

// loadActors reads an actors file in the scenario actor format.
func loadActors(path string) ([]domain.Actor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var defs []harness.ActorDef
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&defs); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	seen := make(map[string]bool, len(defs))
	actors := make([]domain.Actor, 0, len(defs))
	for i, def := range defs {
		if def.ID == "" {
			return nil, fmt.Errorf("actors[%d]: id is required", i)
		}
		if seen[def.ID] {
			return nil, fmt.Errorf("actors[%d]: duplicate id %q", i, def.ID)
		}
		seen[def.ID] = true
		roles, err := domain.ParseRoles(strings.Join(def.Roles, ","))
		if err != nil {
			return nil, fmt.Errorf("actors[%d]: %w", i, err)
		}
		actors = append(actors, domain.Actor{ID: def.ID, Name: def.Name, Roles: roles, DepartmentID: def.Department})
	}
	return actors, nil
}

// ActorOptions holds flags for actor add.
type ActorOptions struct {
	*RootOptions
	Name       string
	Roles      string
	Department string
}

// NewActorCommand creates the actor command group.
func NewActorCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actor",
		Short: "Manage the actor directory",
	}
	cmd.AddCommand(newActorAddCommand(rootOpts))
	cmd.AddCommand(newActorListCommand(rootOpts))
	return cmd
}

func newActorAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ActorOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Add or replace an actor",
		Long: `Add or replace an actor in the directory.

Roles: admin, qa, manager, responsible_person, verifier, viewer
("worker" is accepted for viewer).

Examples:
  ncflow actor add qa-1 --roles qa --name "Quinn"
  ncflow actor add mgr-1 --roles manager,verifier --department assembly`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			roles, err := domain.ParseRoles(opts.Roles)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --roles", err)
			}
			if len(roles) == 0 {
				return NewExitError(ExitCommandError, "--roles is required")
			}
			actor := domain.Actor{ID: args[0], Name: opts.Name, Roles: roles, DepartmentID: opts.Department}

			return withApp(cmd, opts.RootOptions, func(ctx context.Context, app *App) error {
				if err := app.Store.PutActor(ctx, actor); err != nil {
					return WrapExitError(ExitCommandError, "failed to store actor", err)
				}
				return app.Out.Render(actor, func(w io.Writer) {
					fmt.Fprintf(w, "Added %s (%s)\n", actor.ID, joinRoles(actor.Roles))
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().StringVar(&opts.Roles, "roles", "", "comma-separated roles")
	cmd.Flags().StringVar(&opts.Department, "department", "", "department id")
	return cmd
}

func newActorListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List actors",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, app *App) error {
				actors, err := app.Store.ListActors(ctx)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to list actors", err)
				}
				if actors == nil {
					actors = []domain.Actor{}
				}
				return app.Out.Render(actors, func(w io.Writer) {
					if len(actors) == 0 {
						fmt.Fprintln(w, "No actors.")
						return
					}
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tNAME\tROLES\tDEPARTMENT")
					for _, a := range actors {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.ID, orDash(a.Name), joinRoles(a.Roles), orDash(a.DepartmentID))
					}
					tw.Flush()
				})
			})
		},
	}
}

func joinRoles(roles []domain.Role) string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return strings.Join(names, ",")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
