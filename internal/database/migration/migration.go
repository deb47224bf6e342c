// Package migration creates the entity store schema on first start.
package migration

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

type migrationStep struct {
	Name string
	SQL  string
}

// sentinelQuery reports whether the schema is already in place.
const sentinelQuery = "SELECT to_regclass('public.entities') IS NOT NULL"

var steps = []migrationStep{
	{
		Name: "create_table_entities",
		SQL: `CREATE TABLE IF NOT EXISTS entities (
  collection TEXT        NOT NULL,
  key        TEXT        NOT NULL,
  data       JSONB       NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (collection, key)
);`,
	},
	{
		Name: "create_index_entities_data",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_entities_data ON entities USING GIN (data jsonb_path_ops);`,
	},
	{
		Name: "create_index_entities_key_prefix",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_entities_key_prefix ON entities (collection, key text_pattern_ops);`,
	},
	{
		Name: "create_index_entities_updated_at",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_entities_updated_at ON entities (collection, updated_at DESC);`,
	},
}

// EnsureMigrated creates the entities table and its indexes unless the table
// already exists.
func EnsureMigrated(ctx context.Context, db *sql.DB, logger *slog.Logger, dbHost string) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "database", "db_host", dbHost)
	start := time.Now()

	logger.InfoContext(ctx, "db migration check")

	var exists bool
	if err := db.QueryRowContext(ctx, sentinelQuery).Scan(&exists); err != nil {
		logger.ErrorContext(ctx, "db migration failed",
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return fmt.Errorf("check sentinel table: %w", err)
	}
	if exists {
		logger.InfoContext(ctx, "schema already exists, skipping migration",
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil
	}

	for _, step := range steps {
		stepStart := time.Now()
		if _, err := db.ExecContext(ctx, step.SQL); err != nil {
			logger.ErrorContext(ctx, "db migration failed",
				"migration_step", step.Name,
				"error", err,
				"step_duration_ms", time.Since(stepStart).Milliseconds(),
			)
			return fmt.Errorf("migration step %s failed: %w", step.Name, err)
		}
		logger.InfoContext(ctx, "db migration step",
			"migration_step", step.Name,
			"step_duration_ms", time.Since(stepStart).Milliseconds(),
		)
	}

	logger.InfoContext(ctx, "db migration complete",
		"steps", len(steps),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
