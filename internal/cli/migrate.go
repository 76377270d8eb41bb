package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// MigrateOptions holds flags for the migrate commands.
type MigrateOptions struct {
	*RootOptions
	All bool
}

// NewMigrateCommand creates the migrate command group.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, revert or inspect migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration in dependency order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrateUp(opts, cmd)
		},
	})

	down := &cobra.Command{
		Use:   "down [migration-id...]",
		Short: "Revert migrations and everything that depends on them",
		Long: `Revert the named migrations. Applied migrations that depend on them are
reverted first. Use --all to revert every applied migration, which removes
change capture and the whole Action history.

Examples:
  actiongraph migrate down catalog
  actiongraph migrate down --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrateDown(opts, args, cmd)
		},
	}
	down.Flags().BoolVar(&opts.All, "all", false, "revert every applied migration")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List migrations in application order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrateStatus(opts, cmd)
		},
	})

	return cmd
}

func migrateUp(opts *MigrateOptions, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	applied, err := a.migrations.Up(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, "migrate up failed", err)
	}
	return opts.formatter(cmd).Success(map[string]any{"applied": nonNil(applied)}, func(w io.Writer) {
		listMigrations(w, "Applied", applied)
	})
}

func migrateDown(opts *MigrateOptions, ids []string, cmd *cobra.Command) error {
	switch {
	case len(ids) == 0 && !opts.All:
		return NewExitError(ExitCommandError, "name the migrations to revert or pass --all")
	case len(ids) > 0 && opts.All:
		return NewExitError(ExitCommandError, "--all takes no migration ids")
	}

	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	reverted, err := a.migrations.Down(cmd.Context(), ids...)
	if err != nil {
		return WrapExitError(ExitFailure, "migrate down failed", err)
	}
	return opts.formatter(cmd).Success(map[string]any{"reverted": nonNil(reverted)}, func(w io.Writer) {
		listMigrations(w, "Reverted", reverted)
	})
}

func migrateStatus(opts *MigrateOptions, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	status, err := a.migrations.Status(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, "migrate status failed", err)
	}
	return opts.formatter(cmd).Success(status, func(w io.Writer) {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tAPPLIED AT\tDEPENDS ON")
		for _, s := range status {
			state := "pending"
			if s.Applied {
				state = "applied"
			}
			appliedAt := s.AppliedAt
			if appliedAt == "" {
				appliedAt = "-"
			}
			deps := strings.Join(s.DependsOn, ",")
			if deps == "" {
				deps = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, state, appliedAt, deps)
		}
		tw.Flush()
	})
}

func listMigrations(w io.Writer, verb string, ids []string) {
	if len(ids) == 0 {
		fmt.Fprintln(w, "Nothing to do.")
		return
	}
	for _, id := range ids {
		fmt.Fprintf(w, "%s %s\n", verb, id)
	}
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
