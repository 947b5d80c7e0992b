// This file implements a versioned schema migration system that safely
// upgrades registry databases created by older releases, with a file backup
// taken before any change.
package store

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
)

// Schema versions:
// v1: Initial tables (users, organizations, class codes, documents)
// v2: Document card fields (developed_by, doc_name, checked, last_update)
// v3: Organization numeric codes (code_okpo, num_code, num_code_okpo), department dropped
// v4: Design document kind code (doc_kind_code)
// v5: User email and index on documents.last_update
const CurrentSchemaVersion = 5

// MigrationResult holds the result of a migration operation.
type MigrationResult struct {
	FromVersion    int
	ToVersion      int
	MigrationsRun  int
	BackupPath     string
	RowsBackfilled int
	Duration       time.Duration
	Warnings       []string
}

// Migration defines a database schema migration.
type Migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations lists all column additions across the schema history.
// These handle cases where tables exist but are missing newer columns.
var pendingMigrations = []Migration{
	// Document card fields (v2)
	{"documents", "developed_by", "TEXT"},
	{"documents", "doc_name", "TEXT"},
	{"documents", "checked", "INTEGER NOT NULL DEFAULT 0"},
	{"documents", "last_update", "DATETIME"},
	// Organization numeric code fields (v3)
	{"organizations", "code_okpo", "INTEGER NOT NULL DEFAULT 0"},
	{"organizations", "num_code", "INTEGER"},
	{"organizations", "num_code_okpo", "INTEGER"},
	// Design document kind code (v4)
	{"design_documents", "doc_kind_code", "TEXT"},
	// User contact field (v5)
	{"users", "email", "TEXT"},
}

// RunMigrations applies schema migrations for existing databases.
func RunMigrations(db *sql.DB, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}

	appliedCount := 0
	skippedCount := 0

	for _, m := range pendingMigrations {
		// If the table doesn't exist in this DB, skip quietly.
		if !tableExists(db, m.Table) {
			skippedCount++
			continue
		}

		if !columnExists(db, m.Table, m.Column) {
			query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)

			if _, err := db.Exec(query); err != nil {
				log.Warn("Migration failed (may already exist)",
					zap.String("table", m.Table),
					zap.String("column", m.Column),
					zap.Error(err))
				// Don't fail on migration errors - column may already exist in a different form
				skippedCount++
			} else {
				log.Info("Migration applied",
					zap.String("table", m.Table),
					zap.String("column", m.Column))
				appliedCount++
			}
		} else {
			skippedCount++
		}
	}

	log.Debug("Schema migrations complete",
		zap.Int("applied", appliedCount),
		zap.Int("skipped", skippedCount))
	return nil
}

// columnExists checks if a column exists in a table using PRAGMA table_info.
func columnExists(db *sql.DB, table, column string) bool {
	query := fmt.Sprintf("PRAGMA table_info(%s)", table)
	rows, err := db.Query(query)
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

// tableExists checks if a table exists in the database.
func tableExists(db *sql.DB, table string) bool {
	var count int
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?"
	if err := db.QueryRow(query, table).Scan(&count); err != nil {
		return false
	}
	return count > 0
}

// GetSchemaVersion returns the current schema version of a database.
// If no version table exists, it infers the version from table structure.
func GetSchemaVersion(db *sql.DB) int {
	// First, check if schema_versions table exists
	if tableExists(db, "schema_versions") {
		var version int
		query := "SELECT version FROM schema_versions ORDER BY applied_at DESC LIMIT 1"
		if err := db.QueryRow(query).Scan(&version); err == nil {
			return version
		}
	}

	// Infer version from table structure
	return inferSchemaVersion(db)
}

// inferSchemaVersion determines schema version by examining table structure.
func inferSchemaVersion(db *sql.DB) int {
	if !tableExists(db, "documents") {
		return 0
	}

	// Check for v5: users.email column
	if columnExists(db, "users", "email") {
		return 5
	}

	// Check for v4: doc_kind_code column
	if columnExists(db, "design_documents", "doc_kind_code") {
		return 4
	}

	// Check for v3: organization numeric code columns
	if columnExists(db, "organizations", "code_okpo") {
		return 3
	}

	// Check for v2: document card columns
	if columnExists(db, "documents", "developed_by") {
		return 2
	}

	// v1: Basic tables
	return 1
}

// SetSchemaVersion records a new schema version in the database.
func SetSchemaVersion(db *sql.DB, version int) error {
	createTable := `
		CREATE TABLE IF NOT EXISTS schema_versions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			version INTEGER NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			description TEXT
		)
	`
	if _, err := db.Exec(createTable); err != nil {
		return fmt.Errorf("failed to create schema_versions table: %w", err)
	}

	desc := fmt.Sprintf("Migrated to schema version %d", version)
	_, err := db.Exec(
		"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
		version, desc,
	)
	if err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	return nil
}

// MigrateV1ToV2 adds the document card columns and backfills last_update.
func MigrateV1ToV2(db *sql.DB, log *zap.Logger) error {
	log.Info("Migrating v1 -> v2: document card fields")

	adds := []Migration{
		{"documents", "developed_by", "TEXT"},
		{"documents", "doc_name", "TEXT"},
		{"documents", "checked", "INTEGER NOT NULL DEFAULT 0"},
		{"documents", "last_update", "DATETIME"},
	}
	for _, m := range adds {
		if columnExists(db, m.Table, m.Column) {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to add %s.%s: %w", m.Table, m.Column, err)
		}
	}

	if _, err := db.Exec("UPDATE documents SET last_update = created_at WHERE last_update IS NULL"); err != nil {
		return fmt.Errorf("failed to backfill last_update: %w", err)
	}

	return nil
}

// MigrateV2ToV3 adds the organization numeric code columns and drops the
// obsolete department column.
func MigrateV2ToV3(db *sql.DB, log *zap.Logger) error {
	log.Info("Migrating v2 -> v3: organization numeric codes")

	adds := []Migration{
		{"organizations", "code_okpo", "INTEGER NOT NULL DEFAULT 0"},
		{"organizations", "num_code", "INTEGER"},
		{"organizations", "num_code_okpo", "INTEGER"},
	}
	for _, m := range adds {
		if columnExists(db, m.Table, m.Column) {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to add %s.%s: %w", m.Table, m.Column, err)
		}
	}

	if columnExists(db, "organizations", "department") {
		if _, err := db.Exec("ALTER TABLE organizations DROP COLUMN department"); err != nil {
			// DROP COLUMN needs SQLite 3.35+; a stray department column is harmless
			log.Warn("Failed to drop organizations.department", zap.Error(err))
		}
	}

	return nil
}

// MigrateV3ToV4 adds the design document kind code column.
func MigrateV3ToV4(db *sql.DB, log *zap.Logger) error {
	log.Info("Migrating v3 -> v4: design document kind code")

	if columnExists(db, "design_documents", "doc_kind_code") {
		return nil
	}

	if _, err := db.Exec("ALTER TABLE design_documents ADD COLUMN doc_kind_code TEXT"); err != nil {
		return fmt.Errorf("failed to add doc_kind_code column: %w", err)
	}

	return nil
}

// MigrateV4ToV5 adds users.email and the documents.last_update index.
func MigrateV4ToV5(db *sql.DB, log *zap.Logger) error {
	log.Info("Migrating v4 -> v5: user email and last_update index")

	if !columnExists(db, "users", "email") {
		if _, err := db.Exec("ALTER TABLE users ADD COLUMN email TEXT"); err != nil {
			return fmt.Errorf("failed to add email column: %w", err)
		}
	}

	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS ix_documents_last_update ON documents(last_update)"); err != nil {
		log.Warn("Failed to create last_update index", zap.Error(err))
	}

	return nil
}

// BackfillLastUpdate copies created_at into last_update for all document
// rows missing it, returning the number of rows updated.
func BackfillLastUpdate(db *sql.DB) (int, error) {
	if !columnExists(db, "documents", "last_update") {
		return 0, nil
	}

	res, err := db.Exec("UPDATE documents SET last_update = created_at WHERE last_update IS NULL")
	if err != nil {
		return 0, fmt.Errorf("failed to backfill last_update: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

// CreateBackup creates a backup copy of the database file.
func CreateBackup(dbPath string) (string, error) {
	timestamp := time.Now().Format("20060102_150405")
	backupPath := dbPath + fmt.Sprintf(".backup_%s", timestamp)

	src, err := os.Open(dbPath)
	if err != nil {
		return "", fmt.Errorf("failed to open source database: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(backupPath)
	if err != nil {
		return "", fmt.Errorf("failed to create backup file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("failed to copy database to backup: %w", err)
	}

	if err := dst.Sync(); err != nil {
		return "", fmt.Errorf("failed to sync backup to disk: %w", err)
	}

	return backupPath, nil
}

// RestoreBackup restores a database from a backup file.
func RestoreBackup(dbPath, backupPath string) error {
	src, err := os.Open(backupPath)
	if err != nil {
		return fmt.Errorf("failed to open backup file: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(dbPath)
	if err != nil {
		return fmt.Errorf("failed to create database file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to restore from backup: %w", err)
	}

	if err := dst.Sync(); err != nil {
		return fmt.Errorf("failed to sync restored database: %w", err)
	}

	return nil
}

// RunAllMigrations runs all necessary migrations to bring the database to
// the target version. A backup is taken first and restored on failure.
func RunAllMigrations(dbPath string, targetVersion int, log *zap.Logger) (*MigrationResult, error) {
	if log == nil {
		log = zap.NewNop()
	}

	startTime := time.Now()
	result := &MigrationResult{
		Warnings: make([]string, 0),
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	currentVersion := GetSchemaVersion(db)
	result.FromVersion = currentVersion
	result.ToVersion = targetVersion

	log.Info("Database schema versions",
		zap.Int("current", currentVersion),
		zap.Int("target", targetVersion))

	if currentVersion >= targetVersion {
		result.Duration = time.Since(startTime)
		return result, nil
	}

	// Create backup before migration
	backupPath, err := CreateBackup(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create backup: %w", err)
	}
	result.BackupPath = backupPath
	log.Info("Pre-migration backup created", zap.String("backup", backupPath))

	migrationSuccess := false
	defer func() {
		if !migrationSuccess {
			log.Warn("Migration failed, restoring from backup")
			if restoreErr := RestoreBackup(dbPath, backupPath); restoreErr != nil {
				log.Error("Failed to restore backup after migration failure", zap.Error(restoreErr))
			}
		}
	}()

	// Run migrations sequentially
	for v := currentVersion; v < targetVersion; v++ {
		nextVersion := v + 1

		var migrationErr error
		switch nextVersion {
		case 2:
			migrationErr = MigrateV1ToV2(db, log)
		case 3:
			migrationErr = MigrateV2ToV3(db, log)
		case 4:
			migrationErr = MigrateV3ToV4(db, log)
		case 5:
			migrationErr = MigrateV4ToV5(db, log)
		default:
			migrationErr = fmt.Errorf("unknown migration: v%d -> v%d", v, nextVersion)
		}

		if migrationErr != nil {
			return nil, fmt.Errorf("migration v%d -> v%d failed: %w", v, nextVersion, migrationErr)
		}

		result.MigrationsRun++
	}

	migrationSuccess = true

	// Record schema version
	if err := SetSchemaVersion(db, targetVersion); err != nil {
		log.Warn("Failed to record schema version", zap.Error(err))
		result.Warnings = append(result.Warnings, fmt.Sprintf("Failed to record schema version: %v", err))
	}

	// Backfill last_update if we crossed the v2 boundary
	if targetVersion >= 2 && currentVersion < 2 {
		rows, err := BackfillLastUpdate(db)
		if err != nil {
			log.Warn("last_update backfill had issues", zap.Error(err))
			result.Warnings = append(result.Warnings, fmt.Sprintf("last_update backfill had issues: %v", err))
		}
		result.RowsBackfilled = rows
	}

	result.Duration = time.Since(startTime)
	log.Info("Migration complete",
		zap.Int("from", currentVersion),
		zap.Int("to", targetVersion),
		zap.Duration("duration", result.Duration),
		zap.Int("migrations", result.MigrationsRun))

	return result, nil
}

// MigrateDatabase is the main entry point for migrating a registry database.
func MigrateDatabase(dbPath string, log *zap.Logger) (*MigrationResult, error) {
	return RunAllMigrations(dbPath, CurrentSchemaVersion, log)
}

// CheckMigrationNeeded returns true if the database needs migration.
func CheckMigrationNeeded(dbPath string) (bool, int, error) {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return false, 0, nil
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return false, 0, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	currentVersion := GetSchemaVersion(db)
	return currentVersion < CurrentSchemaVersion, currentVersion, nil
}
