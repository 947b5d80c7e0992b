package store

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/anyvol/archiveDB/internal/designation"
)

// Document types.
const (
	DocTypeDesign = "DD"
	DocTypeTech   = "TD"
)

// Document is the base registry card shared by design and technological
// documents. FileName and FilePath are empty until a file is uploaded.
type Document struct {
	ID          int64
	FileName    string
	FilePath    string
	Type        string
	CreatedAt   time.Time
	LastUpdate  time.Time
	CreatedBy   string
	DevelopedBy string
	UploadedBy  int64
	Position    string
	Department  string
	DocName     string
	Checked     bool
}

// DesignDocument extends a Document with the design document designation.
// PRNI is the registration sequence number within (org, class code).
type DesignDocument struct {
	ID           int64
	OrgID        int64
	ClassCodeID  int64
	PRNI         int
	Designation  string
	OrgCodeStr   string
	ClassCodeStr string
	DocKindCode  string
}

// TechDocument extends a Document with the technological document
// designation. PRN is the registration sequence number within (org, class
// code).
type TechDocument struct {
	ID           int64
	OrgID        int64
	ClassCodeID  int64
	PRN          int
	Designation  string
	OrgCodeStr   string
	ClassCodeStr string
}

// DocumentListItem is a registry card joined with its designation for the
// web listing.
type DocumentListItem struct {
	Document
	Designation string
}

// CreateDocument inserts a bare registry card with no designation attached.
// Used when the designation is assigned outside the impersonal system.
func (s *Store) CreateDocument(doc Document) (int64, error) {
	if doc.Type != DocTypeDesign && doc.Type != DocTypeTech {
		return 0, fmt.Errorf("%w: unknown document type %q", ErrInvalid, doc.Type)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := insertBaseDocument(s.db, doc)
	if err != nil {
		return 0, err
	}

	s.log.Info("Document created",
		zap.Int64("id", id),
		zap.String("type", doc.Type))
	return id, nil
}

// execer covers *sql.DB and *sql.Tx for the insert helpers.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
	Query(query string, args ...any) (*sql.Rows, error)
}

func insertBaseDocument(e execer, doc Document) (int64, error) {
	res, err := e.Exec(`
		INSERT INTO documents (file_name, file_path, type, created_by, developed_by,
		                       uploaded_by, position, department, doc_name, checked)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, nullString(doc.FileName), nullString(doc.FilePath), doc.Type, doc.CreatedBy,
		nullString(doc.DevelopedBy), doc.UploadedBy, nullString(doc.Position),
		nullString(doc.Department), nullString(doc.DocName), boolToInt(doc.Checked))
	if err != nil {
		return 0, fmt.Errorf("failed to insert document: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get document id: %w", err)
	}
	return id, nil
}

// CreateDesignDocument inserts a registry card together with its design
// document designation in one transaction.
//
// When dd.PRNI is zero the smallest free registration number within
// (org, class code) is allocated, filling gaps left by deleted documents.
// A manually supplied PRNI must be free or ErrConflict is returned.
// When dd.Designation is empty it is composed from dd.OrgCodeStr,
// dd.ClassCodeStr, the registration number and dd.DocKindCode. A duplicate
// designation returns ErrConflict.
func (s *Store) CreateDesignDocument(doc Document, dd DesignDocument) (int64, string, error) {
	doc.Type = DocTypeDesign

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if dd.PRNI <= 0 {
		next, err := nextFreeNumber(tx, "design_documents", "prni", "kd_class_code_id", dd.OrgID, dd.ClassCodeID)
		if err != nil {
			return 0, "", err
		}
		dd.PRNI = next
	} else if dd.Designation == "" {
		used, err := numberInUse(tx, "design_documents", "prni", "kd_class_code_id", dd.OrgID, dd.ClassCodeID, dd.PRNI)
		if err != nil {
			return 0, "", err
		}
		if used {
			return 0, "", fmt.Errorf("%w: registration number already in use", ErrConflict)
		}
	}

	if dd.Designation == "" {
		dd.Designation = designation.Format(dd.OrgCodeStr, dd.ClassCodeStr, dd.PRNI, dd.DocKindCode)
	}

	if err := checkDesignationFree(tx, "design_documents", dd.Designation, 0); err != nil {
		return 0, "", err
	}

	id, err := insertBaseDocument(tx, doc)
	if err != nil {
		return 0, "", err
	}

	_, err = tx.Exec(`
		INSERT INTO design_documents (id, org_id, kd_class_code_id, prni, designation,
		                              org_code_str, class_code_str, doc_kind_code)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id, dd.OrgID, dd.ClassCodeID, dd.PRNI, dd.Designation,
		nullString(dd.OrgCodeStr), nullString(dd.ClassCodeStr), nullString(dd.DocKindCode))
	if err != nil {
		return 0, "", fmt.Errorf("failed to insert design document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, "", fmt.Errorf("failed to commit: %w", err)
	}

	s.log.Info("Design document created",
		zap.Int64("id", id),
		zap.String("designation", dd.Designation),
		zap.Int("prni", dd.PRNI))
	return id, dd.Designation, nil
}

// CreateTechDocument inserts a registry card together with its
// technological document designation in one transaction. Same allocation
// and conflict rules as CreateDesignDocument; technological designations
// carry no kind code.
func (s *Store) CreateTechDocument(doc Document, td TechDocument) (int64, string, error) {
	doc.Type = DocTypeTech

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if td.PRN <= 0 {
		next, err := nextFreeNumber(tx, "tech_documents", "prn", "td_class_code_id", td.OrgID, td.ClassCodeID)
		if err != nil {
			return 0, "", err
		}
		td.PRN = next
	} else if td.Designation == "" {
		used, err := numberInUse(tx, "tech_documents", "prn", "td_class_code_id", td.OrgID, td.ClassCodeID, td.PRN)
		if err != nil {
			return 0, "", err
		}
		if used {
			return 0, "", fmt.Errorf("%w: registration number already in use", ErrConflict)
		}
	}

	if td.Designation == "" {
		td.Designation = designation.Format(td.OrgCodeStr, td.ClassCodeStr, td.PRN, "")
	}

	if err := checkDesignationFree(tx, "tech_documents", td.Designation, 0); err != nil {
		return 0, "", err
	}

	id, err := insertBaseDocument(tx, doc)
	if err != nil {
		return 0, "", err
	}

	_, err = tx.Exec(`
		INSERT INTO tech_documents (id, org_id, td_class_code_id, prn, designation,
		                            org_code_str, class_code_str)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, td.OrgID, td.ClassCodeID, td.PRN, td.Designation,
		nullString(td.OrgCodeStr), nullString(td.ClassCodeStr))
	if err != nil {
		return 0, "", fmt.Errorf("failed to insert tech document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, "", fmt.Errorf("failed to commit: %w", err)
	}

	s.log.Info("Tech document created",
		zap.Int64("id", id),
		zap.String("designation", td.Designation),
		zap.Int("prn", td.PRN))
	return id, td.Designation, nil
}

// nextFreeNumber finds the smallest positive registration number not used
// within (org, class code), filling gaps in the sequence.
func nextFreeNumber(e execer, table, numCol, classCol string, orgID, classID int64) (int, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE org_id = ? AND %s = ?", numCol, table, classCol)
	rows, err := e.Query(query, orgID, classID)
	if err != nil {
		return 0, fmt.Errorf("failed to load registration numbers: %w", err)
	}
	defer rows.Close()

	used := make(map[int]bool)
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			continue
		}
		used[n] = true
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to load registration numbers: %w", err)
	}

	next := 1
	for used[next] {
		next++
	}
	return next, nil
}

// numberInUse reports whether a registration number is taken within
// (org, class code).
func numberInUse(e execer, table, numCol, classCol string, orgID, classID int64, n int) (bool, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE org_id = ? AND %s = ? AND %s = ?", table, classCol, numCol)
	var count int
	if err := e.QueryRow(query, orgID, classID, n).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check registration number: %w", err)
	}
	return count > 0, nil
}

// checkDesignationFree returns ErrConflict if the designation is already
// registered in the given table, excluding the row with id exceptID.
func checkDesignationFree(e execer, table string, des string, exceptID int64) error {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE designation = ? AND id != ?", table)
	var count int
	if err := e.QueryRow(query, des, exceptID).Scan(&count); err != nil {
		return fmt.Errorf("failed to check designation: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: designation %s already exists", ErrConflict, des)
	}
	return nil
}

const documentColumns = `id, COALESCE(file_name, ''), COALESCE(file_path, ''), type,
	COALESCE(created_at, ''), COALESCE(last_update, ''), created_by,
	COALESCE(developed_by, ''), uploaded_by, COALESCE(position, ''),
	COALESCE(department, ''), COALESCE(doc_name, ''), checked`

// GetDocument retrieves a registry card by id. Returns ErrNotFound if
// missing.
func (s *Store) GetDocument(id int64) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow("SELECT "+documentColumns+" FROM documents WHERE id = ?", id)
	return scanDocument(row)
}

// ListDocuments returns registry cards ordered by id, optionally filtered
// by type, with offset/limit paging.
func (s *Store) ListDocuments(offset, limit int, docType string) ([]*Document, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + documentColumns + " FROM documents"
	args := []any{}
	if docType != "" {
		query += " WHERE type = ?"
		args = append(args, docType)
	}
	query += " ORDER BY id LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocumentRows(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// ListDocumentsDetailed returns all registry cards joined with their
// designations, newest first, for the web listing.
func (s *Store) ListDocumentsDetailed() ([]*DocumentListItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT d.id, COALESCE(d.file_name, ''), COALESCE(d.file_path, ''), d.type,
		       COALESCE(d.created_at, ''), COALESCE(d.last_update, ''), d.created_by,
		       COALESCE(d.developed_by, ''), d.uploaded_by, COALESCE(d.position, ''),
		       COALESCE(d.department, ''), COALESCE(d.doc_name, ''), d.checked,
		       COALESCE(dd.designation, td.designation, '')
		FROM documents d
		LEFT JOIN design_documents dd ON dd.id = d.id
		LEFT JOIN tech_documents td ON td.id = d.id
		ORDER BY d.created_at DESC, d.id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var items []*DocumentListItem
	for rows.Next() {
		var item DocumentListItem
		var createdAt, lastUpdate string
		var checked int
		err := rows.Scan(&item.ID, &item.FileName, &item.FilePath, &item.Type,
			&createdAt, &lastUpdate, &item.CreatedBy, &item.DevelopedBy,
			&item.UploadedBy, &item.Position, &item.Department, &item.DocName,
			&checked, &item.Designation)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		item.Checked = checked != 0
		item.CreatedAt = parseTimestamp(createdAt)
		item.LastUpdate = parseTimestamp(lastUpdate)
		items = append(items, &item)
	}
	return items, rows.Err()
}

// GetDesignDocument retrieves the designation record for a design document.
func (s *Store) GetDesignDocument(id int64) (*DesignDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var dd DesignDocument
	err := s.db.QueryRow(`
		SELECT id, org_id, kd_class_code_id, prni, designation,
		       COALESCE(org_code_str, ''), COALESCE(class_code_str, ''), COALESCE(doc_kind_code, '')
		FROM design_documents WHERE id = ?
	`, id).Scan(&dd.ID, &dd.OrgID, &dd.ClassCodeID, &dd.PRNI, &dd.Designation,
		&dd.OrgCodeStr, &dd.ClassCodeStr, &dd.DocKindCode)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan design document: %w", err)
	}
	return &dd, nil
}

// UpdateDesignDocument replaces the designation fields of a design
// document. Returns ErrNotFound if missing and ErrConflict if the new
// designation belongs to another document.
func (s *Store) UpdateDesignDocument(id int64, dd DesignDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkDesignationFree(s.db, "design_documents", dd.Designation, id); err != nil {
		return err
	}

	res, err := s.db.Exec(`
		UPDATE design_documents SET org_id = ?, kd_class_code_id = ?, prni = ?, designation = ?
		WHERE id = ?
	`, dd.OrgID, dd.ClassCodeID, dd.PRNI, dd.Designation, id)
	if err != nil {
		return fmt.Errorf("failed to update design document: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetTechDocument retrieves the designation record for a tech document.
func (s *Store) GetTechDocument(id int64) (*TechDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var td TechDocument
	err := s.db.QueryRow(`
		SELECT id, org_id, td_class_code_id, prn, designation,
		       COALESCE(org_code_str, ''), COALESCE(class_code_str, '')
		FROM tech_documents WHERE id = ?
	`, id).Scan(&td.ID, &td.OrgID, &td.ClassCodeID, &td.PRN, &td.Designation,
		&td.OrgCodeStr, &td.ClassCodeStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan tech document: %w", err)
	}
	return &td, nil
}

// UpdateTechDocument replaces the designation fields of a tech document.
// Returns ErrNotFound if missing and ErrConflict if the new designation
// belongs to another document.
func (s *Store) UpdateTechDocument(id int64, td TechDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkDesignationFree(s.db, "tech_documents", td.Designation, id); err != nil {
		return err
	}

	res, err := s.db.Exec(`
		UPDATE tech_documents SET org_id = ?, td_class_code_id = ?, prn = ?, designation = ?
		WHERE id = ?
	`, td.OrgID, td.ClassCodeID, td.PRN, td.Designation, id)
	if err != nil {
		return fmt.Errorf("failed to update tech document: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDocumentFile records the uploaded file for a registry card and bumps
// last_update. Returns ErrNotFound if the card is missing and ErrConflict
// if another card already holds a file with this name.
func (s *Store) SetDocumentFile(id int64, fileName, filePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM documents WHERE file_name = ? AND id != ?", fileName, id).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check file name: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: a file named %s is already registered", ErrConflict, fileName)
	}

	res, err := s.db.Exec(`
		UPDATE documents SET file_name = ?, file_path = ?, last_update = CURRENT_TIMESTAMP
		WHERE id = ?
	`, fileName, filePath, id)
	if err != nil {
		return fmt.Errorf("failed to set document file: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	s.log.Info("Document file recorded",
		zap.Int64("id", id),
		zap.String("file", fileName))
	return nil
}

// DeleteDocument removes a registry card and its designation record,
// returning the deleted card so the caller can remove the stored file.
func (s *Store) DeleteDocument(id int64) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow("SELECT "+documentColumns+" FROM documents WHERE id = ?", id)
	doc, err := scanDocument(row)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec("DELETE FROM design_documents WHERE id = ?", id); err != nil {
		return nil, fmt.Errorf("failed to delete design document: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM tech_documents WHERE id = ?", id); err != nil {
		return nil, fmt.Errorf("failed to delete tech document: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM documents WHERE id = ?", id); err != nil {
		return nil, fmt.Errorf("failed to delete document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	s.log.Info("Document deleted", zap.Int64("id", id))
	return doc, nil
}

// scanDocument scans a single registry card row.
func scanDocument(row *sql.Row) (*Document, error) {
	var doc Document
	var createdAt, lastUpdate string
	var checked int
	err := row.Scan(&doc.ID, &doc.FileName, &doc.FilePath, &doc.Type,
		&createdAt, &lastUpdate, &doc.CreatedBy, &doc.DevelopedBy,
		&doc.UploadedBy, &doc.Position, &doc.Department, &doc.DocName, &checked)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}
	doc.Checked = checked != 0
	doc.CreatedAt = parseTimestamp(createdAt)
	doc.LastUpdate = parseTimestamp(lastUpdate)
	return &doc, nil
}

// scanDocumentRows scans a registry card from a rows cursor.
func scanDocumentRows(rows *sql.Rows) (*Document, error) {
	var doc Document
	var createdAt, lastUpdate string
	var checked int
	err := rows.Scan(&doc.ID, &doc.FileName, &doc.FilePath, &doc.Type,
		&createdAt, &lastUpdate, &doc.CreatedBy, &doc.DevelopedBy,
		&doc.UploadedBy, &doc.Position, &doc.Department, &doc.DocName, &checked)
	if err != nil {
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}
	doc.Checked = checked != 0
	doc.CreatedAt = parseTimestamp(createdAt)
	doc.LastUpdate = parseTimestamp(lastUpdate)
	return &doc, nil
}

// parseTimestamp parses the SQLite datetime format, returning the zero
// time for empty or malformed values.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
