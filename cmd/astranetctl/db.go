package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/astranet/astranetctl/internal/db"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the database node",
}

var dbStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the database process",
	Long: `Start the database in secure mode, joining the configured cluster
nodes. With --first-node the process starts without waiting for peers and
the cluster can be initialized afterwards.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		firstNode, _ := cmd.Flags().GetBool("first-node")
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		if err := a.db.Start(cmd.Context(), firstNode); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Database started")
		return nil
	},
}

var dbStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the database process",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		if err := a.db.Stop(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Database stopped")
		return nil
	},
}

var dbInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the cluster (first node only, idempotent)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		if err := a.db.InitCluster(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Cluster initialized")
		return nil
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database process status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		handle := a.db.Handle(ctx)
		if handle.Running {
			fmt.Fprintf(cmd.OutOrStdout(), "Database: running (pid %d, sql port %d)\n", handle.PID, handle.Port)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "Database: stopped")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Join addresses: %s\n", strings.Join(db.JoinAddresses(a.cfg), ", "))

		if version, err := a.db.Version(ctx); err == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Binary: %s\n", version)
		}
		return nil
	},
}

var dbCreateDBCmd = &cobra.Command{
	Use:   "create-db",
	Short: "Create the application database and run migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		if err := a.db.CreateDatabase(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Database %s ready\n", a.cfg.DatabaseName)
		return nil
	},
}

var dbDropDBCmd = &cobra.Command{
	Use:   "drop-db",
	Short: "Drop the application database and all its data",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		if !yes {
			return fmt.Errorf("dropping %s destroys all its data; re-run with --yes to confirm", a.cfg.DatabaseName)
		}
		if err := a.db.DropDatabase(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Database %s dropped\n", a.cfg.DatabaseName)
		return nil
	},
}

var dbCreateUserCmd = &cobra.Command{
	Use:   "create-user",
	Short: "Create the web application database user",
	Long: `Create (or recreate) the admin web user from the configured
credentials and write them to the credentials file for the backend.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		if err := a.db.CreateWebUser(cmd.Context(), a.cfg.AdminUser, a.cfg.AdminPassword); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "User %s created, credentials written to %s\n",
			a.cfg.AdminUser, a.layout.CredentialsFile())
		return nil
	},
}

func init() {
	dbStartCmd.Flags().Bool("first-node", false, "Start as the cluster's first node")
	dbDropDBCmd.Flags().Bool("yes", false, "Confirm the destructive operation")

	dbCmd.AddCommand(dbStartCmd)
	dbCmd.AddCommand(dbStopCmd)
	dbCmd.AddCommand(dbInitCmd)
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbCreateDBCmd)
	dbCmd.AddCommand(dbDropDBCmd)
	dbCmd.AddCommand(dbCreateUserCmd)
}
