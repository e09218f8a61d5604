package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/astranet/astranetctl/internal/install"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install required tooling",
}

var installCockroachCmd = &cobra.Command{
	Use:   "cockroach",
	Short: "Download and install the database binary",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		if install.Installed(cmd.Context(), a.runner) {
			fmt.Fprintf(cmd.OutOrStdout(), "Already installed at %s\n", a.binary)
			return nil
		}
		return a.installer.InstallCockroach(cmd.Context())
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove all data, certificates, logs and the database binary",
	Long: `Remove everything this tool created on the host: the data store,
certificates, logs, PID files, credentials and the database binary. The
database must be stopped first. This cannot be undone.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		if !yes {
			return fmt.Errorf("purging removes all data under %s; re-run with --yes to confirm", a.layout.Root)
		}
		if running, pid := a.db.Running(cmd.Context()); running {
			return fmt.Errorf("database is still running (pid %d), stop it first", pid)
		}
		return a.installer.Purge(cmd.Context(), a.layout)
	},
}

func init() {
	installCmd.AddCommand(installCockroachCmd)
	purgeCmd.Flags().Bool("yes", false, "Confirm the destructive operation")
}
