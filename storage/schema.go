package storage

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
)

var (
	//go:embed migrations/postgres/*.sql
	postgresMigrationsFS embed.FS

	//go:embed migrations/sqlite/*.sql
	sqliteMigrationsFS embed.FS
)

// Migration is one versioned schema change.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// PostgresMigrations returns the PostgreSQL schema migrations in version order.
func PostgresMigrations() ([]Migration, error) {
	return LoadMigrations(postgresMigrationsFS, "migrations/postgres")
}

// SQLiteMigrations returns the SQLite schema migrations in version order.
func SQLiteMigrations() ([]Migration, error) {
	return LoadMigrations(sqliteMigrationsFS, "migrations/sqlite")
}

// LoadMigrations reads NNNN_description.sql files from dir and returns them
// sorted by version. Duplicate versions are rejected.
func LoadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	seen := make(map[int]string, len(entries))
	migrations := make([]Migration, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		parts := strings.SplitN(strings.TrimSuffix(entry.Name(), ".sql"), "_", 2)
		if len(parts) < 2 {
			return nil, fmt.Errorf("invalid migration filename %q: want NNNN_description.sql", entry.Name())
		}

		version, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("invalid migration version in %q: %w", entry.Name(), err)
		}
		if prev, ok := seen[version]; ok {
			return nil, fmt.Errorf("duplicate migration version %d: %s and %s", version, prev, entry.Name())
		}
		seen[version] = entry.Name()

		body, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", entry.Name(), err)
		}

		migrations = append(migrations, Migration{
			Version:     version,
			Description: parts[1],
			SQL:         string(body),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}
