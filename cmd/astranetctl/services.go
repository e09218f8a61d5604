package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var servicesCmd = &cobra.Command{
	Use:   "services",
	Short: "Manage the application backend and dashboard",
}

var servicesStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show service status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		handles := a.services.Status(ctx)
		handles = append(handles, a.db.Handle(ctx))
		for _, h := range handles {
			if h.Running {
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s running (pid %d, port %d)\n", h.Kind, h.PID, h.Port)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s stopped (port %d)\n", h.Kind, h.Port)
			}
		}
		return nil
	},
}

var servicesStartCmd = &cobra.Command{
	Use:   "start [backend|dashboard]",
	Short: "Start application services",
	Long:  `Start the named service, or both when no argument is given.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		which := ""
		if len(args) == 1 {
			which = args[0]
		}
		switch which {
		case "backend":
			return a.services.StartBackend(ctx)
		case "dashboard":
			return a.services.StartDashboard(ctx)
		case "":
			if err := a.services.StartBackend(ctx); err != nil {
				return err
			}
			return a.services.StartDashboard(ctx)
		default:
			return fmt.Errorf("unknown service %q, expected backend or dashboard", which)
		}
	},
}

var servicesStopCmd = &cobra.Command{
	Use:   "stop [backend|dashboard]",
	Short: "Stop application services",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		which := ""
		if len(args) == 1 {
			which = args[0]
		}
		switch which {
		case "backend":
			return a.services.StopBackend(ctx)
		case "dashboard":
			return a.services.StopDashboard(ctx)
		case "":
			if err := a.services.StopBackend(ctx); err != nil {
				return err
			}
			return a.services.StopDashboard(ctx)
		default:
			return fmt.Errorf("unknown service %q, expected backend or dashboard", which)
		}
	},
}

var servicesBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Compile the backend in release mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		return a.services.CompileBackend(cmd.Context(), cmd.OutOrStdout())
	},
}

func init() {
	servicesCmd.AddCommand(servicesStatusCmd)
	servicesCmd.AddCommand(servicesStartCmd)
	servicesCmd.AddCommand(servicesStopCmd)
	servicesCmd.AddCommand(servicesBuildCmd)
}
