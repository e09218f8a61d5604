package appsvc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astranet/astranetctl/internal/system"
)

// portRunner answers lsof lookups from a set of bound ports.
type portRunner struct {
	bound map[string]string // lsof port arg -> pid
	kills []string
}

func (p *portRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	switch name {
	case "lsof":
		if pid, ok := p.bound[args[len(args)-1]]; ok {
			return pid + "\n", "", nil
		}
		return "", "", &system.ExternalToolError{Cmd: "lsof", ExitCode: 1}
	case "kill":
		p.kills = append(p.kills, args[len(args)-1])
		return "", "", nil
	}
	return "", "", nil
}

func newTestManager(t *testing.T) (*Manager, *portRunner) {
	t.Helper()
	root := t.TempDir()
	runner := &portRunner{bound: map[string]string{}}
	sup := system.NewSupervisor(zerolog.Nop(), runner)

	mgr := NewManager(zerolog.Nop(), sup, root, filepath.Join(root, "logs"))
	mgr.startupWait = time.Millisecond
	return mgr, runner
}

func TestManager_Status(t *testing.T) {
	mgr, runner := newTestManager(t)
	runner.bound[":3000"] = "111"

	handles := mgr.Status(context.Background())
	require.Len(t, handles, 2)

	assert.Equal(t, system.ServiceBackend, handles[0].Kind)
	assert.True(t, handles[0].Running)
	assert.Equal(t, 111, handles[0].PID)

	assert.Equal(t, system.ServiceDashboard, handles[1].Kind)
	assert.False(t, handles[1].Running)
}

func TestManager_StartBackend_MissingBinary(t *testing.T) {
	mgr, _ := newTestManager(t)

	err := mgr.StartBackend(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build it first")
}

func TestManager_StartBackend_AlreadyRunning(t *testing.T) {
	mgr, runner := newTestManager(t)
	runner.bound[":3000"] = "111"

	assert.NoError(t, mgr.StartBackend(context.Background()))
}

func TestManager_StartBackend_ObservesPort(t *testing.T) {
	mgr, runner := newTestManager(t)

	bin := mgr.backendBinary()
	require.NoError(t, os.MkdirAll(filepath.Dir(bin), 0755))
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0755))

	mgr.startDetached = func(name string, args []string, logPath string) (int, error) {
		runner.bound[":3000"] = "222"
		return 222, nil
	}

	require.NoError(t, mgr.StartBackend(context.Background()))
}

func TestManager_StopBackend(t *testing.T) {
	mgr, runner := newTestManager(t)
	runner.bound[":3000"] = "111"

	require.NoError(t, mgr.StopBackend(context.Background()))
	assert.Equal(t, []string{"111"}, runner.kills)
}

func TestManager_StopBackend_AlreadyStopped(t *testing.T) {
	mgr, runner := newTestManager(t)

	require.NoError(t, mgr.StopBackend(context.Background()))
	assert.Empty(t, runner.kills)
}

func TestManager_LogPathTimestamped(t *testing.T) {
	mgr, _ := newTestManager(t)
	mgr.now = func() time.Time { return time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC) }

	assert.Equal(t, "backend_20260314_150926.log", filepath.Base(mgr.logPath("backend")))
}
