package db

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/astranet/astranetctl/internal/config"
	"github.com/astranet/astranetctl/internal/system"
)

// startPattern is the literal command-line substring used to discover and
// kill the database process. It must match the exact subcommand used to
// start the server so unrelated processes (including the search itself) are
// never targeted.
const startPattern = "cockroach start"

// StopFailedError means the graceful-then-forced stop escalation ran out and
// the process is still detectable.
type StopFailedError struct {
	PID int
}

func (e *StopFailedError) Error() string {
	return fmt.Sprintf("database process %d still running after SIGKILL; stop it manually with: pkill -9 -f '%s'", e.PID, startPattern)
}

// Migrator applies pending schema migrations after database creation.
type Migrator interface {
	MigrateAll(ctx context.Context) error
}

// CAStarter launches the CA distribution server in the background.
type CAStarter interface {
	Start(ctx context.Context) error
}

// Controller starts, stops and initializes the database process with join
// addresses derived from the cluster configuration.
type Controller struct {
	logger     zerolog.Logger
	runner     system.Runner
	supervisor *system.Supervisor
	store      *config.Store
	layout     config.Layout
	binary     string

	caServer CAStarter
	migrator Migrator

	// execSQL runs an admin statement over the SQL port; replaced in tests.
	execSQL func(ctx context.Context, sql string) error
	// startDetached launches the server process; replaced in tests.
	startDetached func(name string, args []string, logPath string) (int, error)
	// primaryIP overrides detection in tests.
	primaryIP func() string

	startupWait time.Duration
	stopGrace   time.Duration
}

func NewController(logger zerolog.Logger, runner system.Runner, supervisor *system.Supervisor,
	store *config.Store, layout config.Layout, binary string, caServer CAStarter, migrator Migrator) *Controller {

	c := &Controller{
		logger:      logger.With().Str("component", "db").Logger(),
		runner:      runner,
		supervisor:  supervisor,
		store:       store,
		layout:      layout,
		binary:      binary,
		caServer:    caServer,
		migrator:    migrator,
		primaryIP:     system.PrimaryIP,
		startDetached: system.StartDetached,
		startupWait:   3 * time.Second,
		stopGrace:     2 * time.Second,
	}
	c.execSQL = c.pgxExec
	return c
}

// JoinAddresses derives the join list: this node's domain:sqlPort first,
// then the configured cluster nodes in their persisted order.
func JoinAddresses(cfg config.ClusterConfig) []string {
	join := make([]string, 0, len(cfg.ClusterNodes)+1)
	join = append(join, fmt.Sprintf("%s:%d", cfg.Domain, cfg.SQLPort))
	join = append(join, cfg.ClusterNodes...)
	return join
}

// Running reports whether the database process is up, re-checking that the
// discovered PID still exists.
func (c *Controller) Running(ctx context.Context) (bool, int) {
	pid, found := c.supervisor.FindProcess(ctx, startPattern)
	return found, pid
}

// Handle returns the database service handle for status display.
func (c *Controller) Handle(ctx context.Context) system.ServiceHandle {
	cfg, _ := c.store.Load()
	running, pid := c.Running(ctx)
	return system.ServiceHandle{Kind: system.ServiceDatabase, PID: pid, Port: cfg.SQLPort, Running: running}
}

// Start launches the database process detached from the terminal with
// derived listen, advertise and http addresses, then waits a bounded
// interval for it to come up. On success the CA distribution server is
// started as a non-fatal side effect. Starting an already-running database
// is treated as success.
func (c *Controller) Start(ctx context.Context, isFirstNode bool) error {
	if running, pid := c.Running(ctx); running {
		c.logger.Info().Int("pid", pid).Msg("database already running")
		return nil
	}

	cfg, err := c.store.Load()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(c.layout.StoreDir(), 0755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	hostIP := c.primaryIP()
	joinString := strings.Join(JoinAddresses(cfg), ",")

	args := []string{
		"start",
		"--certs-dir=" + c.layout.CertsDir(),
		"--store=" + c.layout.StoreDir(),
		fmt.Sprintf("--listen-addr=0.0.0.0:%d", cfg.SQLPort),
		fmt.Sprintf("--advertise-addr=%s:%d", hostIP, cfg.SQLPort),
		fmt.Sprintf("--http-addr=0.0.0.0:%d", cfg.HTTPPort),
		"--join=" + joinString,
	}

	c.logger.Info().
		Bool("first_node", isFirstNode).
		Str("advertise", fmt.Sprintf("%s:%d", hostIP, cfg.SQLPort)).
		Str("join", joinString).
		Str("log", c.layout.CockroachLog()).
		Msg("starting database")

	if _, err := c.startDetached(c.binary, args, c.layout.CockroachLog()); err != nil {
		return fmt.Errorf("start database: %w", err)
	}

	// Single bounded check after a fixed settle interval; no open-ended loop.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.startupWait):
	}
	running, pid := c.Running(ctx)
	if !running {
		return fmt.Errorf("database did not start, check %s", c.layout.CockroachLog())
	}
	c.logger.Info().Int("pid", pid).Int("http_port", cfg.HTTPPort).Msg("database running")

	if c.caServer != nil {
		if err := c.caServer.Start(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("CA server did not start (non-critical)")
		}
	}
	return nil
}

// Stop terminates the database process: SIGTERM, a fixed grace interval,
// then an unconditional SIGKILL against the same literal command pattern.
// Stopping an already-stopped database is treated as success.
func (c *Controller) Stop(ctx context.Context) error {
	running, pid := c.Running(ctx)
	if !running {
		c.logger.Info().Msg("database already stopped")
		return nil
	}

	c.logger.Info().Int("pid", pid).Msg("stopping database")
	if !c.supervisor.KillProcess(ctx, pid, false) {
		c.logger.Warn().Int("pid", pid).Msg("SIGTERM delivery failed")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.stopGrace):
	}
	if running, _ := c.Running(ctx); !running {
		c.logger.Info().Msg("database stopped")
		return nil
	}

	c.logger.Warn().Msg("escalating to SIGKILL")
	c.supervisor.KillPattern(ctx, startPattern, true)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Second):
	}
	if running, pid := c.Running(ctx); running {
		return &StopFailedError{PID: pid}
	}
	c.logger.Info().Msg("database stopped after escalation")
	return nil
}

// InitCluster performs the one-time cluster initialization. The operation
// is idempotent: the tool reporting an already-initialized cluster counts
// as success. On first successful initialization the default database is
// created as a chained, independently-failable step.
func (c *Controller) InitCluster(ctx context.Context) error {
	cfg, err := c.store.Load()
	if err != nil {
		return err
	}

	c.logger.Info().Int("sql_port", cfg.SQLPort).Msg("initializing cluster")
	_, stderr, err := c.runner.Run(ctx, c.binary, "init",
		"--certs-dir="+c.layout.CertsDir(),
		fmt.Sprintf("--host=localhost:%d", cfg.SQLPort),
	)
	if err != nil {
		// Detection by stderr substring is fragile across tool versions but
		// the tool offers no structured status for this.
		if strings.Contains(stderr, "cluster has already been initialized") {
			c.logger.Info().Msg("cluster was already initialized")
			return nil
		}
		return fmt.Errorf("init cluster: %w", err)
	}

	c.logger.Info().Msg("cluster initialized")
	if err := c.CreateDatabase(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("default database creation failed (non-critical)")
	}
	return nil
}

// CreateDatabase creates the configured database if absent and applies any
// pending schema migrations.
func (c *Controller) CreateDatabase(ctx context.Context) error {
	cfg, err := c.store.Load()
	if err != nil {
		return err
	}

	c.logger.Info().Str("database", cfg.DatabaseName).Msg("creating database")
	if err := c.execSQL(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", quoteIdent(cfg.DatabaseName))); err != nil {
		return fmt.Errorf("create database %s: %w", cfg.DatabaseName, err)
	}

	if c.migrator != nil {
		return c.migrator.MigrateAll(ctx)
	}
	return nil
}

// DropDatabase removes the configured database and everything in it.
// Confirmation is the CLI layer's responsibility.
func (c *Controller) DropDatabase(ctx context.Context) error {
	cfg, err := c.store.Load()
	if err != nil {
		return err
	}

	c.logger.Info().Str("database", cfg.DatabaseName).Msg("dropping database")
	if err := c.execSQL(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS %s CASCADE", quoteIdent(cfg.DatabaseName))); err != nil {
		return fmt.Errorf("drop database %s: %w", cfg.DatabaseName, err)
	}
	return nil
}

// Version returns the first line of the database binary's version output.
func (c *Controller) Version(ctx context.Context) (string, error) {
	stdout, _, err := c.runner.Run(ctx, c.binary, "version")
	if err != nil {
		return "", fmt.Errorf("database version: %w", err)
	}
	first, _, _ := strings.Cut(stdout, "\n")
	return strings.TrimSpace(first), nil
}
