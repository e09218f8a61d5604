package migrate

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astranet/astranetctl/internal/config"
	"github.com/astranet/astranetctl/internal/system"
)

type fakeQuerier struct {
	version int
	err     error
}

func (f *fakeQuerier) CurrentVersion(ctx context.Context) (int, error) {
	return f.version, f.err
}

// fakeRunner simulates the sql subcommand, failing for staging files whose
// content contains failMarker.
type fakeRunner struct {
	failMarker string
	applied    []string
	stagings   []string
	contents   []string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	var staging string
	for i, a := range args {
		if a == "-f" && i+1 < len(args) {
			staging = args[i+1]
		}
	}
	f.stagings = append(f.stagings, staging)

	content, err := os.ReadFile(staging)
	if err != nil {
		return "", "", &system.ExternalToolError{Cmd: "cockroach sql", ExitCode: 1, Stderr: "no staging file"}
	}
	f.contents = append(f.contents, string(content))
	if f.failMarker != "" && strings.Contains(string(content), f.failMarker) {
		return "", "syntax error", &system.ExternalToolError{Cmd: "cockroach sql", ExitCode: 1, Stderr: "syntax error"}
	}
	f.applied = append(f.applied, staging)
	return "", "", nil
}

type testEngine struct {
	*Engine
	querier *fakeQuerier
	runner  *fakeRunner
	dir     string
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	layout := config.Layout{Root: t.TempDir()}
	store := config.NewStore(layout.ConfigPath())
	require.NoError(t, store.Save(map[string]any{
		"sql_port": 26257, "database_name": "astranetdb",
	}))

	dir := filepath.Join(layout.Root, "migrations")
	require.NoError(t, os.MkdirAll(dir, 0755))

	querier := &fakeQuerier{}
	runner := &fakeRunner{}
	eng := NewEngine(zerolog.Nop(), runner, querier, store, layout, "cockroach", dir)
	return &testEngine{Engine: eng, querier: querier, runner: runner, dir: dir}
}

func (te *testEngine) write(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(te.dir, name), []byte(content), 0644))
}

func versions(ms []Migration) []int {
	out := make([]int, len(ms))
	for i, m := range ms {
		out[i] = m.Version
	}
	return out
}

func TestEngine_Pending_FiltersAndSorts(t *testing.T) {
	te := newTestEngine(t)
	// Written out of order on purpose; discovery must sort by version.
	te.write(t, "003_indexes.sql", "-- three")
	te.write(t, "001_init.sql", "-- one")
	te.write(t, "002_users.sql", "-- two")

	te.querier.version = 1
	pending, err := te.Pending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, versions(pending))
}

func TestEngine_Pending_SkipsBadNames(t *testing.T) {
	te := newTestEngine(t)
	te.write(t, "001_init.sql", "-- one")
	te.write(t, "002_users.sql", "-- two")
	te.write(t, "bad_name.sql", "-- not a migration")
	te.write(t, "notes.txt", "-- not sql")

	pending, err := te.Pending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, versions(pending))
}

func TestEngine_Pending_EmptyDir(t *testing.T) {
	te := newTestEngine(t)
	pending, err := te.Pending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestEngine_Pending_MissingDirNotFatal(t *testing.T) {
	te := newTestEngine(t)
	te.Engine.dir = filepath.Join(te.dir, "does-not-exist")

	pending, err := te.Pending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestEngine_Apply_StagesWithUseAndCleansUp(t *testing.T) {
	te := newTestEngine(t)
	te.write(t, "001_init.sql", "CREATE TABLE t (id INT);")

	require.NoError(t, te.Apply(context.Background(), Migration{Version: 1, Path: filepath.Join(te.dir, "001_init.sql")}))

	require.Len(t, te.runner.stagings, 1)
	assert.True(t, strings.HasPrefix(te.runner.contents[0], "USE astranetdb;\n"), "staged file targets the configured database")

	_, err := os.Stat(te.runner.stagings[0])
	assert.True(t, os.IsNotExist(err), "staging file removed on success")
}

func TestEngine_Apply_CleansUpOnFailure(t *testing.T) {
	te := newTestEngine(t)
	te.write(t, "001_init.sql", "BROKEN SQL")
	te.runner.failMarker = "BROKEN"

	err := te.Apply(context.Background(), Migration{Version: 1, Path: filepath.Join(te.dir, "001_init.sql")})
	require.Error(t, err)

	require.Len(t, te.runner.stagings, 1)
	_, statErr := os.Stat(te.runner.stagings[0])
	assert.True(t, os.IsNotExist(statErr), "staging file removed on failure too")
}

func TestEngine_MigrateAll_FailFast(t *testing.T) {
	te := newTestEngine(t)
	te.write(t, "001_init.sql", "-- fine")
	te.write(t, "002_users.sql", "BROKEN")
	te.write(t, "003_indexes.sql", "-- never reached")
	te.runner.failMarker = "BROKEN"

	err := te.MigrateAll(context.Background())
	require.Error(t, err)

	var halted *HaltedError
	require.ErrorAs(t, err, &halted)
	assert.Equal(t, 2, halted.Version, "error names the halting version")

	// Migration 1 applied, 2 failed, 3 never attempted.
	require.Len(t, te.runner.applied, 1)
	assert.Len(t, te.runner.stagings, 2, "no skip-ahead past the failure")
}

func TestEngine_MigrateAll_NothingPending(t *testing.T) {
	te := newTestEngine(t)
	te.write(t, "001_init.sql", "-- one")
	te.querier.version = 1

	require.NoError(t, te.MigrateAll(context.Background()))
	assert.Empty(t, te.runner.stagings)
}

func TestEngine_Create_NoCollisionWithAuthoredFiles(t *testing.T) {
	te := newTestEngine(t)
	// Tracking table says 1 but files 001..003 are already authored.
	te.querier.version = 1
	te.write(t, "001_init.sql", "")
	te.write(t, "002_users.sql", "")
	te.write(t, "003_indexes.sql", "")

	path, err := te.Create(context.Background(), "add_sessions")
	require.NoError(t, err)
	assert.Equal(t, "004_add_sessions.sql", filepath.Base(path))
}

func TestEngine_Create_FromCurrentVersion(t *testing.T) {
	te := newTestEngine(t)
	te.querier.version = 7

	path, err := te.Create(context.Background(), "later")
	require.NoError(t, err)
	assert.Equal(t, "008_later.sql", filepath.Base(path))
}

func TestEngine_Create_StubRecordsItself(t *testing.T) {
	te := newTestEngine(t)

	path, err := te.Create(context.Background(), "first")
	require.NoError(t, err)

	content, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Contains(t, string(content), "INSERT INTO schema_migrations (version, name)")
	assert.Contains(t, string(content), "VALUES (1, '001_first')")
}

func TestEngine_Create_QuerierUnavailable(t *testing.T) {
	te := newTestEngine(t)
	te.querier.err = assert.AnError
	te.write(t, "002_users.sql", "")

	path, err := te.Create(context.Background(), "offline")
	require.NoError(t, err, "authoring must work while the database is down")
	assert.Equal(t, "003_offline.sql", filepath.Base(path))
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name    string
		version int
		ok      bool
	}{
		{"001_init.sql", 1, true},
		{"042_answer.sql", 42, true},
		{"bad_name.sql", 0, false},
		{"nounderscore.sql", 0, false},
		{"_leading.sql", 0, false},
	}
	for _, tc := range tests {
		v, ok := parseVersion(tc.name)
		assert.Equal(t, tc.ok, ok, tc.name)
		if tc.ok {
			assert.Equal(t, tc.version, v, tc.name)
		}
	}
}
