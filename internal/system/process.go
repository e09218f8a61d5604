package system

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Supervisor provides port liveness checks and process signalling for the
// managers that start and stop background services.
type Supervisor struct {
	logger zerolog.Logger
	runner Runner
}

func NewSupervisor(logger zerolog.Logger, runner Runner) *Supervisor {
	return &Supervisor{
		logger: logger.With().Str("component", "supervisor").Logger(),
		runner: runner,
	}
}

// IsPortInUse performs a single lookup and returns the first process
// listening on the port, if any.
func (s *Supervisor) IsPortInUse(ctx context.Context, port int) (bool, int) {
	stdout, _, err := s.runner.Run(ctx, "lsof", "-t", "-i", fmt.Sprintf(":%d", port))
	if err != nil {
		return false, 0
	}
	first, _, _ := strings.Cut(strings.TrimSpace(stdout), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil {
		return false, 0
	}
	return true, pid
}

// FindProcess returns the first PID whose command line contains the literal
// pattern. The pattern must match the exact subcommand used to start the
// target so unrelated processes are never picked up.
func (s *Supervisor) FindProcess(ctx context.Context, pattern string) (int, bool) {
	stdout, _, err := s.runner.Run(ctx, "pgrep", "-f", pattern)
	if err != nil {
		return 0, false
	}
	first, _, _ := strings.Cut(strings.TrimSpace(stdout), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil {
		return 0, false
	}
	// pgrep can report a process that exited between lookup and use.
	if _, _, err := s.runner.Run(ctx, "ps", "-p", strconv.Itoa(pid)); err != nil {
		return 0, false
	}
	return pid, true
}

// KillProcess sends SIGTERM, or SIGKILL when force is set. The return value
// reports whether the kill command succeeded, not that the process died.
func (s *Supervisor) KillProcess(ctx context.Context, pid int, force bool) bool {
	sig := "-15"
	if force {
		sig = "-9"
	}
	_, _, err := s.runner.Run(ctx, "kill", sig, strconv.Itoa(pid))
	return err == nil
}

// KillPattern signals every process whose command line contains the literal
// pattern.
func (s *Supervisor) KillPattern(ctx context.Context, pattern string, force bool) bool {
	args := []string{"-f", pattern}
	if force {
		args = []string{"-9", "-f", pattern}
	}
	_, _, err := s.runner.Run(ctx, "pkill", args...)
	return err == nil
}

// WaitForPort polls until the port is bound or the attempt budget runs out.
// It never blocks unboundedly.
func (s *Supervisor) WaitForPort(ctx context.Context, port, attempts int, interval time.Duration) bool {
	for i := 0; i < attempts; i++ {
		if inUse, _ := s.IsPortInUse(ctx, port); inUse {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(interval):
		}
	}
	inUse, _ := s.IsPortInUse(ctx, port)
	return inUse
}

// StartDetached launches a command in its own session with stdout and
// stderr redirected to logPath, so it survives the CLI exiting.
func StartDetached(name string, args []string, logPath string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return 0, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return 0, fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(name, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", name, err)
	}
	pid := cmd.Process.Pid

	// Detach: the child belongs to its own session now.
	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("release %s: %w", name, err)
	}
	return pid, nil
}

// PrimaryIP returns the address of the interface used for outbound traffic.
func PrimaryIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
