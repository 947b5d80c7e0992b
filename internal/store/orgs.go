package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/anyvol/archiveDB/internal/designation"
)

// Organization is a developer organization from the designation catalog.
// Exactly one of Code (4 Cyrillic letters), NumCode (generic 8-digit code)
// or NumCodeOKPO (8-digit OKPO code) is set.
type Organization struct {
	ID          int64
	Code        string
	Name        string
	CodeOKPO    bool
	NumCode     *int64
	NumCodeOKPO *int64
}

// DesignationCode returns the code to substitute into a designation string.
func (o *Organization) DesignationCode() string {
	switch {
	case o.Code != "":
		return o.Code
	case o.CodeOKPO && o.NumCodeOKPO != nil:
		return fmt.Sprintf("%08d", *o.NumCodeOKPO)
	case o.NumCode != nil:
		return fmt.Sprintf("%08d", *o.NumCode)
	}
	return ""
}

// GetOrCreateOrg finds an organization by code, creating it on first use.
// For a new organization the given name is used when non-empty, otherwise a
// placeholder derived from the code. Returns ErrInvalid for malformed codes
// or names and ErrConflict when the numeric code is already registered in
// the other form (OKPO vs generic).
func (s *Store) GetOrCreateOrg(orgCode string, okpo bool, orgName string) (int64, error) {
	form, err := designation.ValidateOrgCode(orgCode, okpo)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	orgName = strings.TrimSpace(orgName)
	if utf8.RuneCountInString(orgName) > 255 {
		return 0, fmt.Errorf("%w: organization name must not exceed 255 characters", ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if okpo {
		num, _ := strconv.ParseInt(orgCode, 10, 64)

		var id int64
		var isOKPO int
		err := s.db.QueryRow("SELECT id, code_okpo FROM organizations WHERE num_code_okpo = ?", num).Scan(&id, &isOKPO)
		if err == nil {
			if isOKPO == 0 {
				return 0, fmt.Errorf("%w: numeric code already registered as generic, not OKPO", ErrConflict)
			}
			return id, nil
		}
		if err != sql.ErrNoRows {
			return 0, fmt.Errorf("failed to look up organization: %w", err)
		}

		name := orgName
		if name == "" {
			name = fmt.Sprintf("Организация с ОКПО %s", orgCode)
		}
		return s.insertOrg(Organization{Name: name, CodeOKPO: true, NumCodeOKPO: &num})
	}

	if form == designation.OrgCodeLetters {
		var id int64
		err := s.db.QueryRow("SELECT id FROM organizations WHERE code = ?", orgCode).Scan(&id)
		if err == nil {
			return id, nil
		}
		if err != sql.ErrNoRows {
			return 0, fmt.Errorf("failed to look up organization: %w", err)
		}

		name := orgName
		if name == "" {
			name = fmt.Sprintf("Организация с кодом %s", orgCode)
		}
		return s.insertOrg(Organization{Code: orgCode, Name: name})
	}

	num, _ := strconv.ParseInt(orgCode, 10, 64)

	var id int64
	var isOKPO int
	err = s.db.QueryRow("SELECT id, code_okpo FROM organizations WHERE num_code = ?", num).Scan(&id, &isOKPO)
	if err == nil {
		if isOKPO != 0 {
			return 0, fmt.Errorf("%w: numeric code already registered as OKPO", ErrConflict)
		}
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to look up organization: %w", err)
	}

	name := orgName
	if name == "" {
		name = fmt.Sprintf("Организация с кодом %s", orgCode)
	}
	return s.insertOrg(Organization{Name: name, NumCode: &num})
}

// insertOrg inserts a new organization row. Caller holds s.mu.
func (s *Store) insertOrg(o Organization) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO organizations (code, name, code_okpo, num_code, num_code_okpo)
		VALUES (?, ?, ?, ?, ?)
	`, nullString(o.Code), o.Name, boolToInt(o.CodeOKPO), nullInt64(o.NumCode), nullInt64(o.NumCodeOKPO))
	if err != nil {
		return 0, fmt.Errorf("failed to insert organization: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get organization id: %w", err)
	}

	s.log.Info("Organization created",
		zap.Int64("id", id),
		zap.String("name", o.Name))
	return id, nil
}

// GetOrg retrieves an organization by id. Returns ErrNotFound if missing.
func (s *Store) GetOrg(id int64) (*Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, COALESCE(code, ''), name, code_okpo, num_code, num_code_okpo
		FROM organizations WHERE id = ?
	`, id)
	return scanOrg(row)
}

// CheckOrg reports whether an organization with the given code exists, and
// its name if so. Malformed codes report non-existence rather than an error,
// so the web form can probe codes as the user types.
func (s *Store) CheckOrg(orgCode string, okpo bool) (bool, string, error) {
	form, err := designation.ValidateOrgCode(orgCode, okpo)
	if err != nil {
		return false, "", nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var query string
	var arg any
	switch {
	case okpo:
		num, _ := strconv.ParseInt(orgCode, 10, 64)
		query = "SELECT name FROM organizations WHERE num_code_okpo = ?"
		arg = num
	case form == designation.OrgCodeLetters:
		query = "SELECT name FROM organizations WHERE code = ?"
		arg = orgCode
	default:
		num, _ := strconv.ParseInt(orgCode, 10, 64)
		query = "SELECT name FROM organizations WHERE num_code = ?"
		arg = num
	}

	var name string
	err = s.db.QueryRow(query, arg).Scan(&name)
	if err == sql.ErrNoRows {
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("failed to check organization: %w", err)
	}
	return true, name, nil
}

// scanOrg scans a single organization row.
func scanOrg(row *sql.Row) (*Organization, error) {
	var o Organization
	var okpo int
	var numCode, numCodeOKPO sql.NullInt64
	err := row.Scan(&o.ID, &o.Code, &o.Name, &okpo, &numCode, &numCodeOKPO)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan organization: %w", err)
	}
	o.CodeOKPO = okpo != 0
	if numCode.Valid {
		o.NumCode = &numCode.Int64
	}
	if numCodeOKPO.Valid {
		o.NumCodeOKPO = &numCodeOKPO.Int64
	}
	return &o, nil
}

// boolToInt converts a bool to the 0/1 form SQLite stores.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
