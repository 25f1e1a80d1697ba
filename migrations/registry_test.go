package migrations

import (
	"context"
	"database/sql"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"

	metasync "github.com/goliatone/go-metasync"
	_ "github.com/mattn/go-sqlite3"
)

func TestFilesystems_ReturnsPostgresAndSQLite(t *testing.T) {
	filesystems, err := Filesystems()
	if err != nil {
		t.Fatalf("filesystems: %v", err)
	}
	if len(filesystems) != 2 {
		t.Fatalf("expected 2 filesystems, got %d", len(filesystems))
	}

	var postgresFound bool
	var sqliteFound bool
	for _, entry := range filesystems {
		matches, globErr := fs.Glob(entry.FS, "*.up.sql")
		if globErr != nil {
			t.Fatalf("glob %s: %v", entry.Dialect, globErr)
		}
		if len(matches) == 0 {
			t.Fatalf("expected %s migration files, got none", entry.Dialect)
		}
		switch entry.Dialect {
		case DialectPostgres:
			postgresFound = true
		case DialectSQLite:
			sqliteFound = true
		}
	}

	if !postgresFound {
		t.Fatalf("expected postgres filesystem")
	}
	if !sqliteFound {
		t.Fatalf("expected sqlite filesystem")
	}
}

func TestRegister_UsesValidationTargets(t *testing.T) {
	var calls []string
	_, err := Register(context.Background(), func(_ context.Context, dialect string, _ string, _ fs.FS) error {
		calls = append(calls, dialect)
		return nil
	}, WithValidationTargets(DialectSQLite))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if len(calls) != 1 {
		t.Fatalf("expected 1 registration call, got %d", len(calls))
	}
	if calls[0] != DialectSQLite {
		t.Fatalf("expected sqlite registration, got %q", calls[0])
	}
}

func TestRegister_DefaultSourceLabel(t *testing.T) {
	var labels []string
	_, err := Register(context.Background(), func(_ context.Context, _ string, label string, _ fs.FS) error {
		labels = append(labels, label)
		return nil
	}, WithValidationTargets(DialectSQLite))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(labels) != 1 || labels[0] != "go-metasync" {
		t.Fatalf("expected go-metasync source label, got %#v", labels)
	}
}

func TestRegister_OverridesSourceLabel(t *testing.T) {
	var labels []string
	reg, err := Register(context.Background(), func(_ context.Context, _ string, label string, _ fs.FS) error {
		labels = append(labels, label)
		return nil
	}, WithValidationTargets(DialectSQLite), WithDialectSourceLabel("  tenant-sync  "))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if reg.SourceLabel != "tenant-sync" {
		t.Fatalf("expected trimmed override label, got %q", reg.SourceLabel)
	}
	if len(labels) != 1 || labels[0] != "tenant-sync" {
		t.Fatalf("expected override label passed to register fn, got %#v", labels)
	}
}

func TestSchemaMigrationPairs_ExistForBothDialects(t *testing.T) {
	root := metasync.GetCoreMigrationsFS()
	paths := []string{
		"data/sql/migrations/20250601000001_create_sync_schema.up.sql",
		"data/sql/migrations/20250601000001_create_sync_schema.down.sql",
		"data/sql/migrations/20250601000002_create_run_tracking.up.sql",
		"data/sql/migrations/20250601000002_create_run_tracking.down.sql",
		"data/sql/migrations/sqlite/20250601000001_create_sync_schema.up.sql",
		"data/sql/migrations/sqlite/20250601000001_create_sync_schema.down.sql",
		"data/sql/migrations/sqlite/20250601000002_create_run_tracking.up.sql",
		"data/sql/migrations/sqlite/20250601000002_create_run_tracking.down.sql",
	}
	for _, migrationPath := range paths {
		content, err := fs.ReadFile(root, migrationPath)
		if err != nil {
			t.Fatalf("read migration %s: %v", migrationPath, err)
		}
		if strings.TrimSpace(string(content)) == "" {
			t.Fatalf("expected migration %s to have SQL content", migrationPath)
		}
	}
}

func TestSQLiteSyncSchemaMigration_ApplyAndRollback(t *testing.T) {
	db, err := sql.Open("sqlite3", "file:migrations-sync-schema?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	defer func() { _ = db.Close() }()

	root := metasync.GetCoreMigrationsFS()
	sqliteMigrations, err := fs.Sub(root, "data/sql/migrations/sqlite")
	if err != nil {
		t.Fatalf("resolve sqlite migrations: %v", err)
	}

	ups := []string{
		"20250601000001_create_sync_schema.up.sql",
		"20250601000002_create_run_tracking.up.sql",
	}
	for _, migration := range ups {
		if err := execSQLMigration(context.Background(), db, sqliteMigrations, migration); err != nil {
			t.Fatalf("apply migration %s: %v", migration, err)
		}
	}

	requiredTables := []string{
		"metasync_objects",
		"metasync_metaverse_objects",
		"metasync_metaverse_attribute_index",
		"metasync_sync_rules",
		"metasync_pending_exports",
		"metasync_deferred_references",
		"metasync_import_watermarks",
		"metasync_runs",
		"metasync_activity_entries",
	}
	for _, tableName := range requiredTables {
		var count int
		if err := db.QueryRowContext(
			context.Background(),
			`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`,
			tableName,
		).Scan(&count); err != nil {
			t.Fatalf("query sqlite_master for %s: %v", tableName, err)
		}
		if count != 1 {
			t.Fatalf("expected table %s to exist after up migration", tableName)
		}
	}

	insertObject := `
		INSERT INTO metasync_objects
			(id, system_id, object_type, external_id, metaverse_id, status, attributes, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := db.ExecContext(
		context.Background(),
		insertObject,
		"cso_1", "hr", "user", "emp-1", "", "connected", "[]", 1,
		"2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z",
	); err != nil {
		t.Fatalf("insert object: %v", err)
	}
	if _, err := db.ExecContext(
		context.Background(),
		insertObject,
		"cso_2", "hr", "user", "emp-1", "", "connected", "[]", 1,
		"2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z",
	); err == nil {
		t.Fatalf("expected duplicate external id to violate unique index")
	}

	insertExport := `
		INSERT INTO metasync_pending_exports
			(id, object_id, system_id, change_type, status, attribute_changes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := db.ExecContext(
		context.Background(),
		insertExport,
		"exp_1", "cso_1", "hr", "update", "pending", "[]",
		"2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z",
	); err != nil {
		t.Fatalf("insert pending export: %v", err)
	}
	if _, err := db.ExecContext(
		context.Background(),
		insertExport,
		"exp_2", "cso_1", "hr", "update", "pending", "[]",
		"2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z",
	); err == nil {
		t.Fatalf("expected second export for the same object to violate unique index")
	}

	downs := []string{
		"20250601000002_create_run_tracking.down.sql",
		"20250601000001_create_sync_schema.down.sql",
	}
	for _, migration := range downs {
		if err := execSQLMigration(context.Background(), db, sqliteMigrations, migration); err != nil {
			t.Fatalf("apply down migration %s: %v", migration, err)
		}
	}

	var count int
	if err := db.QueryRowContext(
		context.Background(),
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name LIKE 'metasync_%'`,
	).Scan(&count); err != nil {
		t.Fatalf("query sqlite_master after down migrations: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected all tables dropped after down migrations, %d remain", count)
	}
}

func execSQLMigration(ctx context.Context, db *sql.DB, fsys fs.FS, filename string) error {
	content, err := fs.ReadFile(fsys, filepath.Clean(filename))
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, string(content))
	return err
}
