package store

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestOpenCreatesSchema(t *testing.T) {
	s, err := Open(":memory:", nil)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer s.Close()

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}

	for _, table := range []string{"users", "organizations", "class_codes_kd", "class_codes_td", "documents", "design_documents", "tech_documents"} {
		count, ok := stats[table]
		if !ok {
			t.Errorf("Expected table %s in stats", table)
			continue
		}
		if count != 0 {
			t.Errorf("Expected empty table %s, got %d rows", table, count)
		}
	}
}

func TestOpenCreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "nested", "registry.db")

	s, err := Open(dbPath, nil)
	if err != nil {
		t.Fatalf("Failed to open store at %s: %v", dbPath, err)
	}
	defer s.Close()

	if err := s.Ping(); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestFreshDatabaseIsCurrentVersion(t *testing.T) {
	s, err := Open(":memory:", nil)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer s.Close()

	if v := GetSchemaVersion(s.DB()); v != CurrentSchemaVersion {
		t.Errorf("Expected schema version %d, got %d", CurrentSchemaVersion, v)
	}
}

func TestStatsCountsRows(t *testing.T) {
	s, err := Open(":memory:", nil)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer s.Close()

	if _, err := s.CreateUser(User{Login: "petrov", PasswordHash: "x"}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats["users"] != 1 {
		t.Errorf("Expected 1 user, got %d", stats["users"])
	}
}

func TestSentinelErrorsAreDistinct(t *testing.T) {
	if errors.Is(ErrNotFound, ErrConflict) || errors.Is(ErrConflict, ErrInvalid) {
		t.Error("Sentinel errors must not match each other")
	}
}
