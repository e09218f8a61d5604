package migrate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/astranet/astranetctl/internal/config"
	"github.com/astranet/astranetctl/internal/system"
)

// Migration is a discovered schema migration file. Versions come from the
// three-digit filename prefix (001_init.sql).
type Migration struct {
	Version int
	Path    string
}

// HaltedError reports the first failing migration in a batch. Migrations
// after the failing version are left pending for a re-run once the file is
// fixed; partial effects of the failed file are not rolled back.
type HaltedError struct {
	Version int
	Err     error
}

func (e *HaltedError) Error() string {
	return fmt.Sprintf("migrations halted at version %d: %v", e.Version, e.Err)
}

func (e *HaltedError) Unwrap() error { return e.Err }

// VersionQuerier reports the highest applied schema version.
type VersionQuerier interface {
	// CurrentVersion returns max(version) from the tracking table, or 0
	// when the table is empty or absent.
	CurrentVersion(ctx context.Context) (int, error)
}

// Engine discovers and applies versioned SQL migrations in strictly
// ascending order. Each migration file records its own version in the
// tracking table; the engine never writes bookkeeping rows itself.
type Engine struct {
	logger  zerolog.Logger
	runner  system.Runner
	querier VersionQuerier
	store   *config.Store
	layout  config.Layout
	binary  string
	dir     string
}

func NewEngine(logger zerolog.Logger, runner system.Runner, querier VersionQuerier,
	store *config.Store, layout config.Layout, binary, dir string) *Engine {
	return &Engine{
		logger:  logger.With().Str("component", "migrate").Logger(),
		runner:  runner,
		querier: querier,
		store:   store,
		layout:  layout,
		binary:  binary,
		dir:     dir,
	}
}

// CurrentVersion returns the highest applied schema version.
func (e *Engine) CurrentVersion(ctx context.Context) (int, error) {
	return e.querier.CurrentVersion(ctx)
}

// Pending lists migrations with a version strictly greater than the current
// one, sorted ascending regardless of filesystem iteration order. Files
// without a valid numeric prefix are skipped with a warning, never fatally.
func (e *Engine) Pending(ctx context.Context) ([]Migration, error) {
	current, err := e.querier.CurrentVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("current schema version: %w", err)
	}
	e.logger.Debug().Int("current", current).Msg("scanning for pending migrations")

	all, err := e.scan()
	if err != nil {
		return nil, err
	}

	var pending []Migration
	for _, m := range all {
		if m.Version > current {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

// scan returns every valid migration file in the directory, ascending.
func (e *Engine) scan() ([]Migration, error) {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		if os.IsNotExist(err) {
			e.logger.Warn().Str("dir", e.dir).Msg("migrations directory does not exist")
			return nil, nil
		}
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var found []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		version, ok := parseVersion(name)
		if !ok {
			e.logger.Warn().Str("file", name).Msg("ignoring migration file without numeric version prefix")
			continue
		}
		found = append(found, Migration{Version: version, Path: filepath.Join(e.dir, name)})
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Version < found[j].Version })
	return found, nil
}

// parseVersion extracts the numeric prefix before the first underscore.
func parseVersion(name string) (int, bool) {
	stem := strings.TrimSuffix(name, ".sql")
	prefix, _, ok := strings.Cut(stem, "_")
	if !ok {
		return 0, false
	}
	version, err := strconv.Atoi(prefix)
	if err != nil || version < 0 {
		return 0, false
	}
	return version, true
}

// Apply executes one migration file against the configured database. The
// statements are staged into a uniquely named temp file (prefixed with a
// USE statement) which is removed on every exit path.
func (e *Engine) Apply(ctx context.Context, m Migration) error {
	cfg, err := e.store.Load()
	if err != nil {
		return err
	}

	content, err := os.ReadFile(m.Path)
	if err != nil {
		return fmt.Errorf("read migration %d: %w", m.Version, err)
	}

	if err := os.MkdirAll(e.layout.Root, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	staging := filepath.Join(e.layout.Root, fmt.Sprintf("migration_%d_%s.sql", m.Version, uuid.NewString()))
	staged := fmt.Sprintf("USE %s;\n%s", cfg.DatabaseName, content)
	if err := os.WriteFile(staging, []byte(staged), 0644); err != nil {
		return fmt.Errorf("stage migration %d: %w", m.Version, err)
	}
	defer os.Remove(staging)

	e.logger.Info().Int("version", m.Version).Str("file", filepath.Base(m.Path)).Msg("applying migration")
	_, _, err = e.runner.Run(ctx, e.binary, "sql",
		"--certs-dir="+e.layout.CertsDir(),
		fmt.Sprintf("--host=localhost:%d", cfg.SQLPort),
		"-f", staging,
	)
	if err != nil {
		return fmt.Errorf("apply migration %d: %w", m.Version, err)
	}
	return nil
}

// MigrateAll applies every pending migration in ascending order, stopping
// at the first failure.
func (e *Engine) MigrateAll(ctx context.Context) error {
	pending, err := e.Pending(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		e.logger.Info().Msg("schema up to date, no pending migrations")
		return nil
	}

	e.logger.Info().Int("count", len(pending)).Msg("applying pending migrations")
	for _, m := range pending {
		if err := e.Apply(ctx, m); err != nil {
			return &HaltedError{Version: m.Version, Err: err}
		}
	}
	e.logger.Info().Msg("all migrations applied")
	return nil
}

// Create writes a templated migration stub. The next version is
// max(current+1, highest authored file+1) so a new file never collides with
// an authored-but-unapplied migration.
func (e *Engine) Create(ctx context.Context, name string) (string, error) {
	next := 1
	if current, err := e.querier.CurrentVersion(ctx); err == nil {
		next = current + 1
	} else {
		e.logger.Warn().Err(err).Msg("schema version unavailable, numbering from authored files only")
	}

	all, err := e.scan()
	if err != nil {
		return "", err
	}
	if len(all) > 0 {
		if highest := all[len(all)-1].Version; highest+1 > next {
			next = highest + 1
		}
	}

	if err := os.MkdirAll(e.dir, 0755); err != nil {
		return "", fmt.Errorf("create migrations dir: %w", err)
	}

	filename := fmt.Sprintf("%03d_%s.sql", next, name)
	path := filepath.Join(e.dir, filename)
	stub := fmt.Sprintf(`-- Migration %03d: %s

-- Add schema changes here.

-- Record this migration; the engine does not write tracking rows itself.
INSERT INTO schema_migrations (version, name)
VALUES (%d, '%03d_%s')
ON CONFLICT (version) DO NOTHING;
`, next, strings.ReplaceAll(name, "_", " "), next, next, name)

	if err := os.WriteFile(path, []byte(stub), 0644); err != nil {
		return "", fmt.Errorf("write migration stub: %w", err)
	}
	e.logger.Info().Str("file", path).Msg("migration created")
	return path, nil
}
