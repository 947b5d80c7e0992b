package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/anyvol/archiveDB/internal/logging"
	"github.com/anyvol/archiveDB/internal/store"
)

// documentResponse is the JSON view of a registry card.
type documentResponse struct {
	ID          int64  `json:"id"`
	FileName    string `json:"file_name"`
	FilePath    string `json:"file_path"`
	Type        string `json:"type"`
	CreatedAt   string `json:"created_at"`
	LastUpdate  string `json:"last_update"`
	CreatedBy   string `json:"created_by"`
	DevelopedBy string `json:"developed_by"`
	UploadedBy  int64  `json:"uploaded_by"`
	Position    string `json:"position"`
	Department  string `json:"department"`
	DocName     string `json:"doc_name"`
	Checked     bool   `json:"checked"`
}

func toDocumentResponse(d *store.Document) documentResponse {
	fmtTime := func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format(time.RFC3339)
	}
	return documentResponse{
		ID:          d.ID,
		FileName:    d.FileName,
		FilePath:    d.FilePath,
		Type:        d.Type,
		CreatedAt:   fmtTime(d.CreatedAt),
		LastUpdate:  fmtTime(d.LastUpdate),
		CreatedBy:   d.CreatedBy,
		DevelopedBy: d.DevelopedBy,
		UploadedBy:  d.UploadedBy,
		Position:    d.Position,
		Department:  d.Department,
		DocName:     d.DocName,
		Checked:     d.Checked,
	}
}

type designDocRequest struct {
	OrgID       int64  `json:"org_id"`
	ClassCodeID int64  `json:"kd_class_code_id"`
	PRNI        int    `json:"prni"`
	Designation string `json:"designation"`
}

type designDocResponse struct {
	ID          int64  `json:"id"`
	OrgID       int64  `json:"org_id"`
	ClassCodeID int64  `json:"kd_class_code_id"`
	PRNI        int    `json:"prni"`
	Designation string `json:"designation"`
}

type techDocRequest struct {
	OrgID       int64  `json:"org_id"`
	ClassCodeID int64  `json:"td_class_code_id"`
	PRN         int    `json:"prn"`
	Designation string `json:"designation"`
}

type techDocResponse struct {
	ID          int64  `json:"id"`
	OrgID       int64  `json:"org_id"`
	ClassCodeID int64  `json:"td_class_code_id"`
	PRN         int    `json:"prn"`
	Designation string `json:"designation"`
}

// handleAPIListDocuments pages through registry cards, optionally filtered
// by type.
func (s *Server) handleAPIListDocuments(w http.ResponseWriter, r *http.Request, _ *store.User) {
	skip := queryInt(r, "skip", 0)
	limit := queryInt(r, "limit", 10)
	docType := r.URL.Query().Get("type")

	docs, err := s.store.ListDocuments(skip, limit, docType)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	resp := make([]documentResponse, 0, len(docs))
	for _, d := range docs {
		resp = append(resp, toDocumentResponse(d))
	}
	writeJSON(w, http.StatusOK, resp)
}

// checkReferences verifies the org and class code ids a designation request
// points at.
func (s *Server) checkReferences(w http.ResponseWriter, orgID, classID int64, kd bool) bool {
	if _, err := s.store.GetOrg(orgID); err != nil {
		writeError(w, http.StatusBadRequest, "Unknown organization")
		return false
	}
	if _, err := s.store.GetClassCode(classID, kd); err != nil {
		writeError(w, http.StatusBadRequest, "Unknown class code")
		return false
	}
	return true
}

// handleAPICreateDesign registers a design document under a caller-supplied
// designation.
func (s *Server) handleAPICreateDesign(w http.ResponseWriter, r *http.Request, user *store.User) {
	var req designDocRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Designation == "" {
		writeError(w, http.StatusBadRequest, "Designation is required")
		return
	}
	if !s.checkReferences(w, req.OrgID, req.ClassCodeID, true) {
		return
	}

	doc := store.Document{
		CreatedBy:  user.Login,
		UploadedBy: user.ID,
		Position:   user.Position,
		Department: user.Department,
	}
	id, _, err := s.store.CreateDesignDocument(doc, store.DesignDocument{
		OrgID:       req.OrgID,
		ClassCodeID: req.ClassCodeID,
		PRNI:        req.PRNI,
		Designation: req.Designation,
	})
	if errors.Is(err, store.ErrConflict) {
		writeError(w, http.StatusBadRequest, "Design Document with this designation already exists.")
		return
	}
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.metrics.documentCount.WithLabelValues(store.DocTypeDesign).Inc()
	s.audit.DocumentEvent(logging.AuditDocCreate, user.Login, id, req.Designation)
	writeJSON(w, http.StatusCreated, designDocResponse{
		ID:          id,
		OrgID:       req.OrgID,
		ClassCodeID: req.ClassCodeID,
		PRNI:        req.PRNI,
		Designation: req.Designation,
	})
}

func (s *Server) handleAPIGetDesign(w http.ResponseWriter, r *http.Request, _ *store.User) {
	dd, err := s.store.GetDesignDocument(pathID(r))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Design Document not found")
		return
	}
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, designDocResponse{
		ID:          dd.ID,
		OrgID:       dd.OrgID,
		ClassCodeID: dd.ClassCodeID,
		PRNI:        dd.PRNI,
		Designation: dd.Designation,
	})
}

func (s *Server) handleAPIUpdateDesign(w http.ResponseWriter, r *http.Request, user *store.User) {
	var req designDocRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !s.checkReferences(w, req.OrgID, req.ClassCodeID, true) {
		return
	}

	id := pathID(r)
	err := s.store.UpdateDesignDocument(id, store.DesignDocument{
		OrgID:       req.OrgID,
		ClassCodeID: req.ClassCodeID,
		PRNI:        req.PRNI,
		Designation: req.Designation,
	})
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Design Document not found")
		return
	}
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.audit.DocumentEvent(logging.AuditDocUpdate, user.Login, id, req.Designation)
	writeJSON(w, http.StatusOK, designDocResponse{
		ID:          id,
		OrgID:       req.OrgID,
		ClassCodeID: req.ClassCodeID,
		PRNI:        req.PRNI,
		Designation: req.Designation,
	})
}

// handleAPICreateTech registers a technological document under a
// caller-supplied designation.
func (s *Server) handleAPICreateTech(w http.ResponseWriter, r *http.Request, user *store.User) {
	var req techDocRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Designation == "" {
		writeError(w, http.StatusBadRequest, "Designation is required")
		return
	}
	if !s.checkReferences(w, req.OrgID, req.ClassCodeID, false) {
		return
	}

	doc := store.Document{
		CreatedBy:  user.Login,
		UploadedBy: user.ID,
		Position:   user.Position,
		Department: user.Department,
	}
	id, _, err := s.store.CreateTechDocument(doc, store.TechDocument{
		OrgID:       req.OrgID,
		ClassCodeID: req.ClassCodeID,
		PRN:         req.PRN,
		Designation: req.Designation,
	})
	if errors.Is(err, store.ErrConflict) {
		writeError(w, http.StatusBadRequest, "Tech Document with this designation already exists.")
		return
	}
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.metrics.documentCount.WithLabelValues(store.DocTypeTech).Inc()
	s.audit.DocumentEvent(logging.AuditDocCreate, user.Login, id, req.Designation)
	writeJSON(w, http.StatusCreated, techDocResponse{
		ID:          id,
		OrgID:       req.OrgID,
		ClassCodeID: req.ClassCodeID,
		PRN:         req.PRN,
		Designation: req.Designation,
	})
}

func (s *Server) handleAPIGetTech(w http.ResponseWriter, r *http.Request, _ *store.User) {
	td, err := s.store.GetTechDocument(pathID(r))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Tech Document not found")
		return
	}
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, techDocResponse{
		ID:          td.ID,
		OrgID:       td.OrgID,
		ClassCodeID: td.ClassCodeID,
		PRN:         td.PRN,
		Designation: td.Designation,
	})
}

func (s *Server) handleAPIUpdateTech(w http.ResponseWriter, r *http.Request, user *store.User) {
	var req techDocRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !s.checkReferences(w, req.OrgID, req.ClassCodeID, false) {
		return
	}

	id := pathID(r)
	err := s.store.UpdateTechDocument(id, store.TechDocument{
		OrgID:       req.OrgID,
		ClassCodeID: req.ClassCodeID,
		PRN:         req.PRN,
		Designation: req.Designation,
	})
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Tech Document not found")
		return
	}
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.audit.DocumentEvent(logging.AuditDocUpdate, user.Login, id, req.Designation)
	writeJSON(w, http.StatusOK, techDocResponse{
		ID:          id,
		OrgID:       req.OrgID,
		ClassCodeID: req.ClassCodeID,
		PRN:         req.PRN,
		Designation: req.Designation,
	})
}

// handleAPIDeleteDocument removes a card of either type along with its
// stored file.
func (s *Server) handleAPIDeleteDocument(w http.ResponseWriter, r *http.Request, user *store.User) {
	doc, err := s.store.DeleteDocument(pathID(r))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Document not found")
		return
	}
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if err := s.files.Remove(doc.FilePath); err != nil {
		s.log.Warn("Failed to remove stored file",
			zap.Int64("doc_id", doc.ID),
			zap.Error(err))
	}

	s.log.Info("Document deleted via API",
		zap.Int64("doc_id", doc.ID),
		zap.String("login", user.Login))
	s.audit.DocumentEvent(logging.AuditDocDelete, user.Login, doc.ID, doc.Type)
	w.WriteHeader(http.StatusNoContent)
}

// handleAPIUpload attaches a file to a card. Unlike the browser flow the
// registry keeps the client's original file name.
func (s *Server) handleAPIUpload(w http.ResponseWriter, r *http.Request, user *store.User) {
	id := pathID(r)
	if _, err := s.store.GetDocument(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Document not found")
			return
		}
		s.writeStoreError(w, err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "A file is required")
		return
	}
	defer file.Close()

	path, err := s.files.Save(id, header.Filename, file)
	if err != nil {
		s.log.Error("File save failed", zap.Int64("doc_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to store file")
		return
	}

	if err := s.store.SetDocumentFile(id, header.Filename, path); err != nil {
		s.files.Remove(path)
		s.writeStoreError(w, err)
		return
	}
	s.audit.DocumentEvent(logging.AuditFileUpload, user.Login, id, header.Filename)
	writeJSON(w, http.StatusOK, map[string]string{"filename": header.Filename})
}

// handleAPIDownload streams the stored file. API clients exchange PDFs.
func (s *Server) handleAPIDownload(w http.ResponseWriter, r *http.Request, user *store.User) {
	doc, err := s.store.GetDocument(pathID(r))
	if err != nil || doc.FilePath == "" {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	if _, err := os.Stat(doc.FilePath); err != nil {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}

	s.audit.DocumentEvent(logging.AuditFileDownload, user.Login, doc.ID, doc.FileName)
	w.Header().Set("Content-Disposition", `attachment; filename="`+doc.FileName+`"`)
	w.Header().Set("Content-Type", "application/pdf")
	http.ServeFile(w, r, doc.FilePath)
}
