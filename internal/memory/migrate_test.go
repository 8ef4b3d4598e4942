package memory

import (
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestRunMigrations_FreshDB(t *testing.T) {
	db := testDB(t)

	if err := RunMigrations(db, testLogger()); err != nil {
		t.Fatalf("RunMigrations failed: %v", err)
	}

	version, err := GetSchemaVersion(db)
	if err != nil {
		t.Fatal(err)
	}
	if version != schemaVersion {
		t.Errorf("expected schema version %d, got %d", schemaVersion, version)
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := testDB(t)
	logger := testLogger()

	if err := RunMigrations(db, logger); err != nil {
		t.Fatalf("first migration failed: %v", err)
	}
	if err := RunMigrations(db, logger); err != nil {
		t.Fatalf("second migration (idempotent) failed: %v", err)
	}
}

func TestRunMigrations_UpgradeWithExistingColumn(t *testing.T) {
	db := testDB(t)

	// A v1 database where the v2 column was already added by hand.
	if _, err := db.Exec(`CREATE TABLE dispatches (
		id INTEGER PRIMARY KEY AUTOINCREMENT, request_id TEXT NOT NULL DEFAULT '', tool TEXT NOT NULL,
		status TEXT NOT NULL, kind TEXT NOT NULL DEFAULT '', error TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0, created_at INTEGER NOT NULL, source TEXT NOT NULL DEFAULT '')`); err != nil {
		t.Fatal(err)
	}

	if err := RunMigrations(db, testLogger()); err != nil {
		t.Fatalf("upgrade failed: %v", err)
	}
	if v, _ := GetSchemaVersion(db); v != schemaVersion {
		t.Fatalf("expected version %d, got %d", schemaVersion, v)
	}
}

func TestRunMigrations_CreatesExpectedObjects(t *testing.T) {
	db := testDB(t)
	if err := RunMigrations(db, testLogger()); err != nil {
		t.Fatal(err)
	}

	for _, obj := range []struct{ typ, name string }{
		{"table", "dispatches"},
		{"table", "schema_version"},
		{"index", "idx_dispatches_time"},
		{"index", "idx_dispatches_tool"},
	} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type=? AND name=?", obj.typ, obj.name).Scan(&name)
		if err != nil {
			t.Errorf("%s %q not found: %v", obj.typ, obj.name, err)
		}
	}
}

func TestGetSchemaVersion_NoTable(t *testing.T) {
	db := testDB(t)
	version, err := GetSchemaVersion(db)
	if err != nil {
		t.Fatal(err)
	}
	if version != 0 {
		t.Errorf("expected version 0 for empty db, got %d", version)
	}
}

func TestSplitSQL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int
	}{
		{"empty", "", 0},
		{"single", "CREATE TABLE t (id INT)", 1},
		{"multiple", "CREATE TABLE t1 (id INT); CREATE TABLE t2 (id INT)", 2},
		{"trailing semicolon", "CREATE TABLE t (id INT);", 1},
		{"whitespace", "  CREATE TABLE t (id INT)  ;  ", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := splitSQL(tt.input)
			if len(result) != tt.expected {
				t.Errorf("expected %d statements, got %d: %v", tt.expected, len(result), result)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("hello", 10); got != "hello" {
		t.Errorf("expected 'hello', got %q", got)
	}
	if got := truncate("hello world", 5); got != "hello..." {
		t.Errorf("expected 'hello...', got %q", got)
	}
}
