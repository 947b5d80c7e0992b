package store

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/anyvol/archiveDB/internal/designation"
)

// ClassCode is a classifier entry, six digits for design documents and
// seven for technological ones.
type ClassCode struct {
	ID          int64
	Code        string
	Description string
}

// classTable returns the table holding class codes of the given kind.
func classTable(kd bool) string {
	if kd {
		return "class_codes_kd"
	}
	return "class_codes_td"
}

// GetOrCreateClassCode finds a class code by its digits, creating it with a
// placeholder description on first use. kd selects the design (6 digit) or
// technological (7 digit) classifier. Returns ErrInvalid for malformed codes.
func (s *Store) GetOrCreateClassCode(code string, kd bool) (int64, error) {
	if err := designation.ValidateClassCode(code, kd); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	table := classTable(kd)

	var id int64
	err := s.db.QueryRow(fmt.Sprintf("SELECT id FROM %s WHERE code = ?", table), code).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to look up class code: %w", err)
	}

	kind := "КД"
	if !kd {
		kind = "ТД"
	}
	desc := fmt.Sprintf("Класс %s %s", kind, code)

	res, err := s.db.Exec(
		fmt.Sprintf("INSERT INTO %s (code, description) VALUES (?, ?)", table),
		code, desc,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert class code: %w", err)
	}

	id, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get class code id: %w", err)
	}

	s.log.Info("Class code created",
		zap.Int64("id", id),
		zap.String("code", code),
		zap.Bool("kd", kd))
	return id, nil
}

// GetClassCode retrieves a class code by id. Returns ErrNotFound if missing.
func (s *Store) GetClassCode(id int64, kd bool) (*ClassCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c ClassCode
	err := s.db.QueryRow(
		fmt.Sprintf("SELECT id, code, COALESCE(description, '') FROM %s WHERE id = ?", classTable(kd)),
		id,
	).Scan(&c.ID, &c.Code, &c.Description)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan class code: %w", err)
	}
	return &c, nil
}
