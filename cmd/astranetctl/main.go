package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/astranet/astranetctl/internal/appsvc"
	"github.com/astranet/astranetctl/internal/certs"
	"github.com/astranet/astranetctl/internal/config"
	"github.com/astranet/astranetctl/internal/db"
	"github.com/astranet/astranetctl/internal/install"
	"github.com/astranet/astranetctl/internal/logging"
	"github.com/astranet/astranetctl/internal/migrate"
	"github.com/astranet/astranetctl/internal/system"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	flagLogLevel string
	flagHome     string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "astranetctl",
	Short: "Astranet cluster control tool",
	Long: `astranetctl bootstraps and operates an Astranet node: CockroachDB
cluster membership, certificate lifecycle, schema migrations, and the
application services that run alongside the database.

State lives under ~/.astranet by default.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"astranetctl version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flagHome, "home", "", "State directory (default ~/.astranet)")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(certsCmd)
	rootCmd.AddCommand(caServerCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(servicesCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(bootstrapCmd)
	rootCmd.AddCommand(purgeCmd)
}

// app wires the concrete components for one command invocation.
type app struct {
	logger     zerolog.Logger
	layout     config.Layout
	store      *config.Store
	runner     system.Runner
	supervisor *system.Supervisor
	cfg        config.ClusterConfig
	binary     string

	certs     *certs.Manager
	caServer  *certs.CAServer
	migrator  *migrate.Engine
	db        *db.Controller
	services  *appsvc.Manager
	installer *install.Installer
}

func newApp(ctx context.Context) (*app, error) {
	logger := logging.NewLogger(flagLogLevel)

	layout := config.DefaultLayout()
	if flagHome != "" {
		layout = config.Layout{Root: flagHome}
	}

	store := config.NewStore(layout.ConfigPath())
	cfg, err := store.Load()
	if err != nil {
		return nil, err
	}

	runner := system.ExecRunner{}
	supervisor := system.NewSupervisor(logger, runner)
	binary := install.BinaryPath(ctx, runner)

	certMgr := certs.NewManager(logger, runner, store, layout.CertsDir(), binary)
	caServer := certs.NewCAServer(logger, layout, cfg.CAServerPort, supervisor)
	querier := migrate.NewPGQuerier(store, layout)
	migrator := migrate.NewEngine(logger, runner, querier, store, layout, binary, layout.MigrationsDir())
	controller := db.NewController(logger, runner, supervisor, store, layout, binary, caServer, migrator)

	projectRoot, err := os.Getwd()
	if err != nil {
		projectRoot = "."
	}
	services := appsvc.NewManager(logger, supervisor, projectRoot, layout.LogsDir())

	return &app{
		logger:     logger,
		layout:     layout,
		store:      store,
		runner:     runner,
		supervisor: supervisor,
		cfg:        cfg,
		binary:     binary,
		certs:      certMgr,
		caServer:   caServer,
		migrator:   migrator,
		db:         controller,
		services:   services,
		installer:  install.NewInstaller(logger, runner),
	}, nil
}
