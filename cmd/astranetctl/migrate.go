package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/astranet/astranetctl/internal/migrate"
)

var flagMigrationsDir string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage schema migrations",
}

// engineFor honors --dir, falling back to the state tree's migrations
// directory.
func engineFor(a *app) *migrate.Engine {
	if flagMigrationsDir == "" {
		return a.migrator
	}
	querier := migrate.NewPGQuerier(a.store, a.layout)
	return migrate.NewEngine(a.logger, a.runner, querier, a.store, a.layout, a.binary, flagMigrationsDir)
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		if err := engineFor(a).MigrateAll(cmd.Context()); err != nil {
			return err
		}
		version, err := engineFor(a).CurrentVersion(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Schema is at version %d\n", version)
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		current, err := engineFor(a).CurrentVersion(ctx)
		if err != nil {
			return err
		}
		pending, err := engineFor(a).Pending(ctx)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Current version: %d\n", current)
		if len(pending) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No pending migrations")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pending (%d):\n", len(pending))
		for _, m := range pending {
			fmt.Fprintf(cmd.OutOrStdout(), "  %3d  %s\n", m.Version, filepath.Base(m.Path))
		}
		return nil
	},
}

var migrateCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a new migration file",
	Long: `Create a stub migration with the next free version number. The stub
records its own version in the tracking table; add schema statements above
that insert.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		path, err := engineFor(a).Create(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
		return nil
	},
}

func init() {
	migrateCmd.PersistentFlags().StringVar(&flagMigrationsDir, "dir", "", "Migrations directory (default <home>/migrations)")
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
	migrateCmd.AddCommand(migrateCreateCmd)
}
