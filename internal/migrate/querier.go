package migrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/astranet/astranetctl/internal/config"
	"github.com/astranet/astranetctl/internal/db"
)

// Postgres error codes for a missing relation or database.
const (
	undefinedTable    = "42P01"
	undefinedDatabase = "3D000"
)

// PGQuerier reads the applied schema version from the tracking table over
// the SQL port.
type PGQuerier struct {
	store  *config.Store
	layout config.Layout
}

func NewPGQuerier(store *config.Store, layout config.Layout) *PGQuerier {
	return &PGQuerier{store: store, layout: layout}
}

// CurrentVersion queries max(version) from <db>.schema_migrations. An
// absent tracking table or database means no migrations have been applied
// yet, reported as version 0.
func (q *PGQuerier) CurrentVersion(ctx context.Context) (int, error) {
	cfg, err := q.store.Load()
	if err != nil {
		return 0, err
	}

	conn, err := pgx.Connect(ctx, db.AdminURL(cfg, q.layout.CertsDir()))
	if err != nil {
		return 0, fmt.Errorf("connect for schema version: %w", err)
	}
	defer conn.Close(ctx)

	var version int
	query := fmt.Sprintf("SELECT COALESCE(MAX(version), 0) FROM %s.schema_migrations", cfg.DatabaseName)
	if err := conn.QueryRow(ctx, query).Scan(&version); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && (pgErr.Code == undefinedTable || pgErr.Code == undefinedDatabase) {
			return 0, nil
		}
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return version, nil
}
