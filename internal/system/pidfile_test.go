package system

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "ca_server.pid")

	require.NoError(t, WritePIDFile(path, 4242))

	pid, err := ReadPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)

	require.NoError(t, RemovePIDFile(path))
	_, err = ReadPIDFile(path)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestReadPIDFile_Missing(t *testing.T) {
	_, err := ReadPIDFile(filepath.Join(t.TempDir(), "missing.pid"))
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestReadPIDFile_Garbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pid")
	require.NoError(t, os.WriteFile(path, []byte("not a pid"), 0644))

	_, err := ReadPIDFile(path)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotRunning)
}

func TestRemovePIDFile_Absent(t *testing.T) {
	assert.NoError(t, RemovePIDFile(filepath.Join(t.TempDir(), "absent.pid")))
}
