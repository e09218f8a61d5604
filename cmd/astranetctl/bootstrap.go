package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/astranet/astranetctl/internal/bootstrap"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Bootstrap a node from a plan file",
}

var bootstrapApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a bootstrap plan",
	Long: `Apply a declarative plan: persist the configuration, establish the
certificate set (creating a CA on the first node, fetching it from a peer
otherwise), start the database and initialize the cluster. Stages run in
order and the first failure aborts the run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		planPath, _ := cmd.Flags().GetString("file")

		plan, err := bootstrap.LoadPlan(planPath)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}

		runner := bootstrap.NewRunner(a.logger, a.store, a.certs, a.db)
		if err := runner.Apply(cmd.Context(), plan); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Bootstrap complete")
		return nil
	},
}

func init() {
	bootstrapApplyCmd.Flags().StringP("file", "f", "bootstrap.yaml", "Plan file to apply")
	bootstrapCmd.AddCommand(bootstrapApplyCmd)
}
