// Package store persists the document registry in SQLite: users,
// organizations, classifier codes and the documents themselves.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	_ "github.com/mattn/go-sqlite3"
)

// Sentinel errors for the registry. Handlers map these to HTTP statuses at
// the boundary; everything else is a server error.
var (
	// ErrNotFound reports a missing row.
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a uniqueness violation (login, designation,
	// registration number, organization code reuse across code forms).
	ErrConflict = errors.New("conflict")
	// ErrInvalid reports input that fails validation.
	ErrInvalid = errors.New("invalid")
)

// Store provides access to the registry database.
//
// The database runs in WAL mode with a single connection; the mutex
// serializes multi-statement operations such as number allocation.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
	log    *zap.Logger
}

// Open initializes the SQLite database at the given path, creating the
// schema and applying any pending migrations.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	logger.Info("Opening registry database", zap.String("path", path))

	// Ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logger.Debug("Failed to set sqlite busy_timeout", zap.Error(err))
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logger.Debug("Failed to set sqlite journal_mode=WAL", zap.Error(err))
	}
	// PRAGMA synchronous=NORMAL provides a large write speedup with WAL mode.
	// Safe because WAL already provides crash recovery.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logger.Debug("Failed to set sqlite synchronous=NORMAL", zap.Error(err))
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logger.Debug("Failed to set sqlite foreign_keys=ON", zap.Error(err))
	}

	s := &Store{db: db, dbPath: path, log: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	// Backfill last_update on rows that predate the column
	if err := s.backfillLastUpdate(); err != nil {
		logger.Warn("last_update backfill had issues", zap.Error(err))
	}

	logger.Info("Registry database ready", zap.String("path", path))
	return s, nil
}

// initialize creates the required tables and applies migrations for
// databases created by older releases.
func (s *Store) initialize() error {
	usersTable := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		login TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		full_name TEXT,
		position TEXT,
		department TEXT,
		role TEXT NOT NULL DEFAULT 'user',
		email TEXT
	);
	`

	organizationsTable := `
	CREATE TABLE IF NOT EXISTS organizations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT,
		name TEXT,
		code_okpo INTEGER NOT NULL DEFAULT 0,
		num_code INTEGER,
		num_code_okpo INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_organizations_code ON organizations(code);
	CREATE INDEX IF NOT EXISTS idx_organizations_num_code ON organizations(num_code);
	CREATE INDEX IF NOT EXISTS idx_organizations_num_code_okpo ON organizations(num_code_okpo);
	`

	classCodesKDTable := `
	CREATE TABLE IF NOT EXISTS class_codes_kd (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL UNIQUE,
		description TEXT
	);
	`

	classCodesTDTable := `
	CREATE TABLE IF NOT EXISTS class_codes_td (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL UNIQUE,
		description TEXT
	);
	`

	// Base document rows; design_documents and tech_documents extend this
	// table one-to-one, sharing the id.
	documentsTable := `
	CREATE TABLE IF NOT EXISTS documents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_name TEXT UNIQUE,
		file_path TEXT,
		type TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_update DATETIME DEFAULT CURRENT_TIMESTAMP,
		created_by TEXT NOT NULL,
		developed_by TEXT,
		uploaded_by INTEGER NOT NULL REFERENCES users(id),
		position TEXT,
		department TEXT,
		doc_name TEXT,
		checked INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_documents_type ON documents(type);
	`

	designDocumentsTable := `
	CREATE TABLE IF NOT EXISTS design_documents (
		id INTEGER PRIMARY KEY REFERENCES documents(id) ON DELETE CASCADE,
		org_id INTEGER NOT NULL REFERENCES organizations(id),
		kd_class_code_id INTEGER NOT NULL REFERENCES class_codes_kd(id),
		prni INTEGER NOT NULL,
		designation TEXT NOT NULL UNIQUE,
		org_code_str TEXT,
		class_code_str TEXT,
		doc_kind_code TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_design_documents_org_code ON design_documents(org_code_str);
	CREATE INDEX IF NOT EXISTS idx_design_documents_class_code ON design_documents(class_code_str);
	CREATE INDEX IF NOT EXISTS idx_design_documents_alloc ON design_documents(org_id, kd_class_code_id);
	`

	techDocumentsTable := `
	CREATE TABLE IF NOT EXISTS tech_documents (
		id INTEGER PRIMARY KEY REFERENCES documents(id) ON DELETE CASCADE,
		org_id INTEGER NOT NULL REFERENCES organizations(id),
		td_class_code_id INTEGER NOT NULL REFERENCES class_codes_td(id),
		prn INTEGER NOT NULL,
		designation TEXT NOT NULL UNIQUE,
		org_code_str TEXT,
		class_code_str TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_tech_documents_org_code ON tech_documents(org_code_str);
	CREATE INDEX IF NOT EXISTS idx_tech_documents_class_code ON tech_documents(class_code_str);
	CREATE INDEX IF NOT EXISTS idx_tech_documents_alloc ON tech_documents(org_id, td_class_code_id);
	`

	for _, table := range []string{
		usersTable,
		organizationsTable,
		classCodesKDTable,
		classCodesTDTable,
		documentsTable,
		designDocumentsTable,
		techDocumentsTable,
	} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	// Run schema migrations for databases created by older releases
	if err := RunMigrations(s.db, s.log); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// This index depends on a migrated column
	lastUpdateIndex := `CREATE INDEX IF NOT EXISTS ix_documents_last_update ON documents(last_update)`
	if _, err := s.db.Exec(lastUpdateIndex); err != nil {
		// Non-fatal: the index improves listing but isn't required
		s.log.Warn("Failed to create last_update index", zap.Error(err))
	}

	return nil
}

// backfillLastUpdate copies created_at into last_update for rows written
// before the column existed.
func (s *Store) backfillLastUpdate() error {
	_, err := BackfillLastUpdate(s.db)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.log.Info("Closing registry database")
	return s.db.Close()
}

// DB returns the underlying SQL database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive.
func (s *Store) Ping() error {
	return s.db.Ping()
}

// Stats returns row counts per table.
func (s *Store) Stats() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int64)
	tables := []string{"users", "organizations", "class_codes_kd", "class_codes_td", "documents", "design_documents", "tech_documents"}

	for _, table := range tables {
		var count int64
		err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count)
		if err != nil {
			s.log.Debug("Table count failed", zap.String("table", table), zap.Error(err))
			continue
		}
		stats[table] = count
	}

	return stats, nil
}

// nullString converts an empty string to NULL for nullable columns.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullInt64 converts a nil pointer to NULL for nullable integer columns.
func nullInt64(n *int64) any {
	if n == nil {
		return nil
	}
	return *n
}
