package storage

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"m/0002_add_index.sql": {Data: []byte("CREATE INDEX x ON t (a);")},
		"m/0001_init.sql":      {Data: []byte("CREATE TABLE t (a INT);")},
		"m/README.md":          {Data: []byte("ignored")},
	}

	migrations, err := LoadMigrations(fsys, "m")
	if err != nil {
		t.Fatalf("LoadMigrations failed: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("len(migrations) = %d, want 2", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[0].Description != "init" {
		t.Errorf("migrations[0] = %d %q, want 1 \"init\"", migrations[0].Version, migrations[0].Description)
	}
	if migrations[1].Version != 2 || migrations[1].Description != "add_index" {
		t.Errorf("migrations[1] = %d %q, want 2 \"add_index\"", migrations[1].Version, migrations[1].Description)
	}
}

func TestLoadMigrations_Invalid(t *testing.T) {
	tests := []struct {
		name string
		fsys fstest.MapFS
	}{
		{
			name: "missing description",
			fsys: fstest.MapFS{"m/0001.sql": {Data: []byte("SELECT 1;")}},
		},
		{
			name: "non-numeric version",
			fsys: fstest.MapFS{"m/abc_init.sql": {Data: []byte("SELECT 1;")}},
		},
		{
			name: "duplicate version",
			fsys: fstest.MapFS{
				"m/0001_a.sql": {Data: []byte("SELECT 1;")},
				"m/1_b.sql":    {Data: []byte("SELECT 1;")},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadMigrations(tt.fsys, "m"); err == nil {
				t.Error("LoadMigrations succeeded, want error")
			}
		})
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	loaders := map[string]func() ([]Migration, error){
		"postgres": PostgresMigrations,
		"sqlite":   SQLiteMigrations,
	}

	for name, load := range loaders {
		t.Run(name, func(t *testing.T) {
			migrations, err := load()
			if err != nil {
				t.Fatalf("load failed: %v", err)
			}
			if len(migrations) == 0 {
				t.Fatal("no migrations embedded")
			}
			for _, table := range []string{"sessionpg_sessions", "sessionpg_messages", "sessionpg_compaction_events"} {
				if !strings.Contains(migrations[0].SQL, table) {
					t.Errorf("initial migration does not create %s", table)
				}
			}
			last := migrations[len(migrations)-1]
			if last.Version != 2 || !strings.Contains(last.SQL, "sessionpg_leader") {
				t.Errorf("latest migration = %d %q, want 2 creating sessionpg_leader", last.Version, last.Description)
			}
		})
	}
}

func TestRoleStrings(t *testing.T) {
	got := RoleStrings(nil)
	if len(got) != 0 {
		t.Errorf("RoleStrings(nil) = %v, want empty", got)
	}
}
