package driver

import (
	"context"
	"fmt"
	"strings"

	"github.com/youssefsiam38/sessionpg/storage"
)

const createMigrationsTable = `
	CREATE TABLE IF NOT EXISTS sessionpg_schema_migrations (
		version     INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

// Migrate applies every migration newer than the recorded schema version.
// Each migration runs in its own transaction together with its bookkeeping row.
//
// Statements are issued without bind parameters so the same runner works
// against PostgreSQL and SQLite.
func Migrate(ctx context.Context, exec Executor, migrations []storage.Migration) error {
	if _, err := exec.Exec(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var current int
	if err := exec.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM sessionpg_schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		err := InTx(ctx, exec, func(ctx context.Context, tx ExecutorTx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return err
			}
			record := fmt.Sprintf(
				"INSERT INTO sessionpg_schema_migrations (version, description) VALUES (%d, '%s')",
				m.Version, strings.ReplaceAll(m.Description, "'", "''"),
			)
			_, err := tx.Exec(ctx, record)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to apply migration %d (%s): %w", m.Version, m.Description, err)
		}
	}

	return nil
}
