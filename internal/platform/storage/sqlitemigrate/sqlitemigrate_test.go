package sqlitemigrate

import (
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "migrate.db")
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return sqlDB
}

func TestApplyRunsMigrationsInOrder(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/0002_add_column.sql": {Data: []byte("ALTER TABLE things ADD COLUMN note TEXT;")},
		"migrations/0001_create.sql":     {Data: []byte("CREATE TABLE things (id INTEGER PRIMARY KEY);")},
	}
	sqlDB := openTestDB(t)

	if err := Apply(sqlDB, fsys, "migrations"); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	if _, err := sqlDB.Exec("INSERT INTO things (id, note) VALUES (1, 'ok')"); err != nil {
		t.Fatalf("expected both migrations applied: %v", err)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/0001_create.sql": {Data: []byte("CREATE TABLE things (id INTEGER PRIMARY KEY);")},
	}
	sqlDB := openTestDB(t)

	if err := Apply(sqlDB, fsys, "migrations"); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := Apply(sqlDB, fsys, "migrations"); err != nil {
		t.Fatalf("second apply: %v", err)
	}

	var count int
	if err := sqlDB.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("count applied migrations: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 recorded migration, got %d", count)
	}
}

func TestApplySkipsEmptyFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/0001_create.sql": {Data: []byte("CREATE TABLE things (id INTEGER PRIMARY KEY);")},
		"migrations/0002_empty.sql":  {Data: []byte("   \n")},
	}
	sqlDB := openTestDB(t)

	if err := Apply(sqlDB, fsys, "migrations"); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
}

func TestApplyRequiresDB(t *testing.T) {
	if err := Apply(nil, fstest.MapFS{}, "migrations"); err == nil {
		t.Fatal("expected error for nil db")
	}
}
