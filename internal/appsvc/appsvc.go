// Package appsvc manages the application backend and dashboard processes
// that run alongside the database on the same host.
package appsvc

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/astranet/astranetctl/internal/system"
)

const (
	BackendPort   = 3000
	DashboardPort = 5173
)

// Manager starts and stops the compiled backend binary and the dashboard
// dev server. Liveness is determined purely by port ownership: a service is
// running iff its port is bound.
type Manager struct {
	logger      zerolog.Logger
	supervisor  *system.Supervisor
	projectRoot string
	logsDir     string

	// startDetached and now are replaced in tests.
	startDetached func(name string, args []string, logPath string) (int, error)
	now           func() time.Time

	startupWait time.Duration
}

func NewManager(logger zerolog.Logger, supervisor *system.Supervisor, projectRoot, logsDir string) *Manager {
	return &Manager{
		logger:        logger.With().Str("component", "appsvc").Logger(),
		supervisor:    supervisor,
		projectRoot:   projectRoot,
		logsDir:       logsDir,
		startDetached: system.StartDetached,
		now:           time.Now,
		startupWait:   2 * time.Second,
	}
}

// Status probes both service ports and returns their handles.
func (m *Manager) Status(ctx context.Context) []system.ServiceHandle {
	handles := make([]system.ServiceHandle, 0, 2)
	for _, svc := range []struct {
		kind system.ServiceKind
		port int
	}{
		{system.ServiceBackend, BackendPort},
		{system.ServiceDashboard, DashboardPort},
	} {
		running, pid := m.supervisor.IsPortInUse(ctx, svc.port)
		handles = append(handles, system.ServiceHandle{Kind: svc.kind, PID: pid, Port: svc.port, Running: running})
	}
	return handles
}

func (m *Manager) backendBinary() string {
	return filepath.Join(m.projectRoot, "target", "release", "astranet")
}

func (m *Manager) logPath(name string) string {
	return filepath.Join(m.logsDir, fmt.Sprintf("%s_%s.log", name, m.now().Format("20060102_150405")))
}

// StartBackend launches the backend binary detached and waits for its port.
// An already-running backend is success.
func (m *Manager) StartBackend(ctx context.Context) error {
	if running, pid := m.supervisor.IsPortInUse(ctx, BackendPort); running {
		m.logger.Info().Int("pid", pid).Msg("backend already running")
		return nil
	}

	bin := m.backendBinary()
	if _, err := os.Stat(bin); err != nil {
		return fmt.Errorf("backend binary %s not found, build it first", bin)
	}

	logPath := m.logPath("backend")
	m.logger.Info().Str("log", logPath).Msg("starting backend")
	if _, err := m.startDetached(bin, []string{"--api-port", fmt.Sprint(BackendPort)}, logPath); err != nil {
		return fmt.Errorf("start backend: %w", err)
	}

	if !m.supervisor.WaitForPort(ctx, BackendPort, 2, m.startupWait) {
		return fmt.Errorf("backend did not bind port %d, see %s", BackendPort, logPath)
	}
	m.logger.Info().Int("port", BackendPort).Msg("backend running")
	return nil
}

// StopBackend kills the port owner. An already-stopped backend is success.
func (m *Manager) StopBackend(ctx context.Context) error {
	return m.stopPort(ctx, "backend", BackendPort)
}

// StartDashboard launches the dashboard dev server detached.
func (m *Manager) StartDashboard(ctx context.Context) error {
	if running, pid := m.supervisor.IsPortInUse(ctx, DashboardPort); running {
		m.logger.Info().Int("pid", pid).Msg("dashboard already running")
		return nil
	}

	dashDir := filepath.Join(m.projectRoot, "dashboard")
	if _, err := os.Stat(filepath.Join(dashDir, "package.json")); err != nil {
		return fmt.Errorf("dashboard not found under %s", dashDir)
	}

	logPath := m.logPath("dashboard")
	m.logger.Info().Str("log", logPath).Msg("starting dashboard")
	if _, err := m.startDetached("npm", []string{"--prefix", dashDir, "run", "dev", "--", "--host"}, logPath); err != nil {
		return fmt.Errorf("start dashboard: %w", err)
	}

	if !m.supervisor.WaitForPort(ctx, DashboardPort, 3, m.startupWait) {
		return fmt.Errorf("dashboard did not bind port %d, see %s", DashboardPort, logPath)
	}
	m.logger.Info().Int("port", DashboardPort).Msg("dashboard running")
	return nil
}

// StopDashboard kills the port owner.
func (m *Manager) StopDashboard(ctx context.Context) error {
	return m.stopPort(ctx, "dashboard", DashboardPort)
}

func (m *Manager) stopPort(ctx context.Context, name string, port int) error {
	running, pid := m.supervisor.IsPortInUse(ctx, port)
	if !running {
		m.logger.Info().Str("service", name).Msg("already stopped")
		return nil
	}
	m.logger.Info().Str("service", name).Int("pid", pid).Msg("stopping")
	if !m.supervisor.KillProcess(ctx, pid, false) {
		return fmt.Errorf("stop %s: failed to signal pid %d", name, pid)
	}
	return nil
}

// CompileBackend builds the backend release binary, streaming build output
// through a PTY so cargo keeps its progress display.
func (m *Manager) CompileBackend(ctx context.Context, out io.Writer) error {
	m.logger.Info().Str("dir", m.projectRoot).Msg("building backend")
	if err := system.StreamCommand(ctx, out, m.projectRoot, "cargo", "build", "--release"); err != nil {
		return fmt.Errorf("build backend: %w", err)
	}
	return nil
}
