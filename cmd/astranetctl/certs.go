package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/astranet/astranetctl/internal/certs"
	"github.com/astranet/astranetctl/internal/system"
)

var certsCmd = &cobra.Command{
	Use:   "certs",
	Short: "Manage cluster certificates",
}

var certsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the certificate bootstrap state",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Certificate state: %s\n", a.certs.State())
		fmt.Fprintf(cmd.OutOrStdout(), "Certificates directory: %s\n", a.layout.CertsDir())
		return nil
	},
}

var certsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create the CA and issue node and client certificates",
	Long: `Advance the certificate set as far as possible from its current
state: create a CA if none exists, then the node certificate, then the
client certificate. With --force the CA is regenerated, which invalidates
every certificate previously issued from it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		caOnly, _ := cmd.Flags().GetBool("ca-only")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		state := a.certs.State()
		if state == certs.NoCerts || force {
			if err := a.certs.CreateCA(ctx, force); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "CA created")
			state = a.certs.State()
		}
		if caOnly {
			return nil
		}
		if state == certs.HasCA {
			if err := a.certs.IssueNodeCert(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Node certificate issued")
			state = a.certs.State()
		}
		if state == certs.HasNodeCert {
			if err := a.certs.IssueClientCert(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Client certificate issued")
			state = a.certs.State()
		}
		if state == certs.HasClientCert {
			fmt.Fprintln(cmd.OutOrStdout(), "Certificate set is complete")
		}
		return nil
	},
}

var certsFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch the CA certificate from a cluster peer",
	Long: `Download ca.crt from the CA distribution server of each configured
cluster node in order, keeping the first success. Use this on joining
nodes instead of creating a new authority.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		if err := a.certs.FetchCAFromPeers(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "CA certificate fetched")
		return nil
	},
}

var caServerCmd = &cobra.Command{
	Use:   "ca-server",
	Short: "Run the CA certificate distribution server",
}

var caServerRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Serve the CA certificate in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		return a.caServer.Run(cmd.Context())
	},
}

var caServerProvisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Obtain the server's TLS transport certificate",
	Long: `Request a Let's Encrypt certificate for the configured domain through
certbot's standalone HTTP-01 flow. The domain must resolve to this host
and the CA server port must be reachable from the internet.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		if err := a.certs.ProvisionTransportCert(cmd.Context(), a.layout.LetsEncryptDir()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Transport certificate provisioned")
		return nil
	},
}

var caServerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the CA server in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		return a.caServer.Start(cmd.Context())
	},
}

var caServerStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background CA server",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		if err := a.caServer.Stop(cmd.Context()); err != nil {
			if errors.Is(err, system.ErrNotRunning) {
				fmt.Fprintln(cmd.OutOrStdout(), "CA server is not running")
				return nil
			}
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "CA server stopped")
		return nil
	},
}

func init() {
	certsCreateCmd.Flags().Bool("force", false, "Regenerate the CA even if one exists")
	certsCreateCmd.Flags().Bool("ca-only", false, "Stop after creating the CA")

	certsCmd.AddCommand(certsStatusCmd)
	certsCmd.AddCommand(certsCreateCmd)
	certsCmd.AddCommand(certsFetchCmd)

	caServerCmd.AddCommand(caServerRunCmd)
	caServerCmd.AddCommand(caServerProvisionCmd)
	caServerCmd.AddCommand(caServerStartCmd)
	caServerCmd.AddCommand(caServerStopCmd)
}
