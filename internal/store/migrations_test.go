package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

// buildV1Database creates a database file with the original first-release
// schema: no document card fields, no numeric organization codes, no kind
// codes, no user email.
func buildV1Database(t *testing.T, path string) {
	t.Helper()

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	schema := []string{
		`CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			login TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			full_name TEXT,
			position TEXT,
			department TEXT,
			role TEXT NOT NULL DEFAULT 'user'
		)`,
		`CREATE TABLE organizations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			code TEXT,
			name TEXT,
			department TEXT
		)`,
		`CREATE TABLE class_codes_kd (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			code TEXT UNIQUE NOT NULL,
			description TEXT
		)`,
		`CREATE TABLE class_codes_td (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			code TEXT UNIQUE NOT NULL,
			description TEXT
		)`,
		`CREATE TABLE documents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			file_name TEXT UNIQUE,
			file_path TEXT,
			type TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			created_by TEXT NOT NULL,
			uploaded_by INTEGER NOT NULL,
			position TEXT,
			department TEXT
		)`,
		`CREATE TABLE design_documents (
			id INTEGER PRIMARY KEY,
			org_id INTEGER NOT NULL,
			kd_class_code_id INTEGER NOT NULL,
			prni INTEGER NOT NULL,
			designation TEXT UNIQUE NOT NULL,
			org_code_str TEXT,
			class_code_str TEXT
		)`,
		`CREATE TABLE tech_documents (
			id INTEGER PRIMARY KEY,
			org_id INTEGER NOT NULL,
			td_class_code_id INTEGER NOT NULL,
			prn INTEGER NOT NULL,
			designation TEXT UNIQUE NOT NULL,
			org_code_str TEXT,
			class_code_str TEXT
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("Failed to create v1 schema: %v", err)
		}
	}

	_, err = db.Exec(`
		INSERT INTO documents (file_name, file_path, type, created_at, created_by, uploaded_by)
		VALUES ('старый.pdf', 'uploaded_files/1_старый.pdf', 'DD', '2024-01-15 10:30:00', 'Иванов И.И.', 1)
	`)
	if err != nil {
		t.Fatalf("Failed to insert v1 document: %v", err)
	}
}

func TestInferSchemaVersion(t *testing.T) {
	dir := t.TempDir()

	emptyPath := filepath.Join(dir, "empty.db")
	db, err := sql.Open("sqlite3", emptyPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if v := GetSchemaVersion(db); v != 0 {
		t.Errorf("Expected version 0 for empty database, got %d", v)
	}
	db.Close()

	v1Path := filepath.Join(dir, "v1.db")
	buildV1Database(t, v1Path)
	db, err = sql.Open("sqlite3", v1Path)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	if v := GetSchemaVersion(db); v != 1 {
		t.Errorf("Expected version 1, got %d", v)
	}
}

func TestRunAllMigrationsFromV1(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "registry.db")
	buildV1Database(t, dbPath)

	result, err := RunAllMigrations(dbPath, CurrentSchemaVersion, zap.NewNop())
	if err != nil {
		t.Fatalf("RunAllMigrations failed: %v", err)
	}

	if result.FromVersion != 1 {
		t.Errorf("Expected from version 1, got %d", result.FromVersion)
	}
	if result.ToVersion != CurrentSchemaVersion {
		t.Errorf("Expected to version %d, got %d", CurrentSchemaVersion, result.ToVersion)
	}
	if result.MigrationsRun != 4 {
		t.Errorf("Expected 4 migrations, got %d", result.MigrationsRun)
	}
	if result.RowsBackfilled != 1 {
		t.Errorf("Expected 1 backfilled row, got %d", result.RowsBackfilled)
	}

	if result.BackupPath == "" {
		t.Fatal("Expected a backup path")
	}
	if !strings.Contains(result.BackupPath, ".backup_") {
		t.Errorf("Expected timestamped backup name, got %q", result.BackupPath)
	}
	if _, err := os.Stat(result.BackupPath); err != nil {
		t.Errorf("Expected backup file on disk: %v", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("Failed to reopen database: %v", err)
	}
	defer db.Close()

	if v := GetSchemaVersion(db); v != CurrentSchemaVersion {
		t.Errorf("Expected recorded version %d, got %d", CurrentSchemaVersion, v)
	}

	for _, c := range []struct{ table, column string }{
		{"documents", "developed_by"},
		{"documents", "checked"},
		{"documents", "last_update"},
		{"organizations", "code_okpo"},
		{"organizations", "num_code_okpo"},
		{"design_documents", "doc_kind_code"},
		{"users", "email"},
	} {
		if !columnExists(db, c.table, c.column) {
			t.Errorf("Expected column %s.%s after migration", c.table, c.column)
		}
	}
	if columnExists(db, "organizations", "department") {
		t.Error("Expected organizations.department dropped")
	}

	var created, updated string
	err = db.QueryRow("SELECT created_at, last_update FROM documents WHERE id = 1").Scan(&created, &updated)
	if err != nil {
		t.Fatalf("Failed to read migrated document: %v", err)
	}
	if updated != created {
		t.Errorf("Expected last_update backfilled from created_at, got %q vs %q", updated, created)
	}
}

func TestRunAllMigrationsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "registry.db")
	buildV1Database(t, dbPath)

	if _, err := RunAllMigrations(dbPath, CurrentSchemaVersion, zap.NewNop()); err != nil {
		t.Fatalf("First RunAllMigrations failed: %v", err)
	}

	result, err := RunAllMigrations(dbPath, CurrentSchemaVersion, zap.NewNop())
	if err != nil {
		t.Fatalf("Second RunAllMigrations failed: %v", err)
	}
	if result.MigrationsRun != 0 {
		t.Errorf("Expected no migrations on second run, got %d", result.MigrationsRun)
	}
	if result.BackupPath != "" {
		t.Errorf("Expected no backup on up-to-date database, got %q", result.BackupPath)
	}
}

func TestCheckMigrationNeeded(t *testing.T) {
	dir := t.TempDir()

	// Missing database needs no migration
	needed, version, err := CheckMigrationNeeded(filepath.Join(dir, "missing.db"))
	if err != nil {
		t.Fatalf("CheckMigrationNeeded failed: %v", err)
	}
	if needed || version != 0 {
		t.Errorf("Expected (false, 0) for missing file, got (%v, %d)", needed, version)
	}

	dbPath := filepath.Join(dir, "registry.db")
	buildV1Database(t, dbPath)

	needed, version, err = CheckMigrationNeeded(dbPath)
	if err != nil {
		t.Fatalf("CheckMigrationNeeded failed: %v", err)
	}
	if !needed || version != 1 {
		t.Errorf("Expected (true, 1) for v1 database, got (%v, %d)", needed, version)
	}

	if _, err := MigrateDatabase(dbPath, zap.NewNop()); err != nil {
		t.Fatalf("MigrateDatabase failed: %v", err)
	}

	needed, version, err = CheckMigrationNeeded(dbPath)
	if err != nil {
		t.Fatalf("CheckMigrationNeeded failed: %v", err)
	}
	if needed || version != CurrentSchemaVersion {
		t.Errorf("Expected (false, %d) after migration, got (%v, %d)", CurrentSchemaVersion, needed, version)
	}
}

func TestBackupAndRestore(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "registry.db")

	if err := os.WriteFile(dbPath, []byte("original"), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	backupPath, err := CreateBackup(dbPath)
	if err != nil {
		t.Fatalf("CreateBackup failed: %v", err)
	}

	if err := os.WriteFile(dbPath, []byte("corrupted"), 0o644); err != nil {
		t.Fatalf("Failed to overwrite file: %v", err)
	}

	if err := RestoreBackup(dbPath, backupPath); err != nil {
		t.Fatalf("RestoreBackup failed: %v", err)
	}

	data, err := os.ReadFile(dbPath)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if string(data) != "original" {
		t.Errorf("Expected restored content, got %q", data)
	}
}

func TestOpenMigratesOldDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "registry.db")
	buildV1Database(t, dbPath)

	s, err := Open(dbPath, nil)
	if err != nil {
		t.Fatalf("Failed to open v1 database: %v", err)
	}
	defer s.Close()

	doc, err := s.GetDocument(1)
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if doc.FileName != "старый.pdf" {
		t.Errorf("Expected v1 row readable, got file name %q", doc.FileName)
	}
	if doc.Checked {
		t.Error("Expected migrated row unchecked")
	}
	if doc.LastUpdate.IsZero() {
		t.Error("Expected last_update backfilled on open")
	}
	if !doc.LastUpdate.Equal(doc.CreatedAt) {
		t.Errorf("Expected last_update equal to created_at, got %v vs %v", doc.LastUpdate, doc.CreatedAt)
	}
}
