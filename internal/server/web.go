package server

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/anyvol/archiveDB/internal/auth"
	"github.com/anyvol/archiveDB/internal/designation"
	"github.com/anyvol/archiveDB/internal/filestore"
	"github.com/anyvol/archiveDB/internal/logging"
	"github.com/anyvol/archiveDB/internal/store"
)

// setSessionCookie stores the token as "Bearer <jwt>" so the value can be
// pasted into an Authorization header unchanged.
func setSessionCookie(w http.ResponseWriter, token string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "Bearer " + token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

type loginPageData struct {
	Error   bool
	Success bool
}

// handleLoginPage renders the login form. An already authenticated browser
// is sent straight to the registry; a stale cookie is dropped.
func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(auth.CookieName); err == nil && c.Value != "" {
		if _, err := s.currentUser(r); err == nil {
			http.Redirect(w, r, "/documents", http.StatusSeeOther)
			return
		}
		clearSessionCookie(w)
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	s.renderTemplate(w, "login.html", loginPageData{
		Error:   r.URL.Query().Get("error") == "true",
		Success: r.URL.Query().Get("success") == "true",
	})
}

// handleLogin checks the form credentials and starts a browser session.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, "/login?error=true", http.StatusSeeOther)
		return
	}
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	user, err := s.store.GetUserByLogin(username)
	if username == "" || password == "" || err != nil || !auth.VerifyPassword(password, user.PasswordHash) {
		s.log.Warn("Failed login attempt", zap.String("login", username))
		s.audit.UserEvent(logging.AuditUserLogin, username, false)
		http.Redirect(w, r, "/login?error=true", http.StatusSeeOther)
		return
	}

	token, err := s.tokens.Create(user.Login)
	if err != nil {
		s.log.Error("Token creation failed", zap.Error(err))
		http.Redirect(w, r, "/login?error=true", http.StatusSeeOther)
		return
	}

	setSessionCookie(w, token, s.tokens.TTL())
	s.log.Info("User authenticated", zap.String("login", user.Login))
	s.audit.UserEvent(logging.AuditUserLogin, user.Login, true)
	http.Redirect(w, r, "/documents", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if user, err := s.currentUser(r); err == nil {
		s.audit.UserEvent(logging.AuditUserLogout, user.Login, true)
	}
	clearSessionCookie(w)
	s.log.Info("User logged out")
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

type registerPageData struct {
	Error bool
}

func (s *Server) handleRegisterPage(w http.ResponseWriter, r *http.Request) {
	s.renderTemplate(w, "register.html", registerPageData{
		Error: r.URL.Query().Get("error") == "true",
	})
}

// handleRegister creates an account from the registration form and sends
// the browser back to the login page.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	fail := func() {
		http.Redirect(w, r, "/register?error=true", http.StatusSeeOther)
	}

	if err := r.ParseForm(); err != nil {
		fail()
		return
	}
	login := r.PostFormValue("login")
	password := r.PostFormValue("password")
	fullName := r.PostFormValue("full_name")
	role := r.PostFormValue("role")
	if role == "" {
		role = store.RoleUser
	}
	if login == "" || password == "" || fullName == "" {
		fail()
		return
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		s.log.Error("Password hashing failed", zap.Error(err))
		fail()
		return
	}

	_, err = s.store.CreateUser(store.User{
		Login:        login,
		PasswordHash: hash,
		FullName:     fullName,
		Position:     r.PostFormValue("position"),
		Department:   r.PostFormValue("department"),
		Role:         role,
	})
	if err != nil {
		s.log.Warn("Registration failed", zap.String("login", login), zap.Error(err))
		fail()
		return
	}

	s.audit.UserEvent(logging.AuditUserRegister, login, true)
	http.Redirect(w, r, "/login?success=true", http.StatusSeeOther)
}

type documentsPageData struct {
	User      *store.User
	Documents []*store.DocumentListItem
}

func (s *Server) handleDocumentsPage(w http.ResponseWriter, r *http.Request) {
	user, ok := s.webUser(w, r)
	if !ok {
		return
	}

	docs, err := s.store.ListDocumentsDetailed()
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.renderTemplate(w, "documents.html", documentsPageData{User: user, Documents: docs})
}

// handleDocumentCreate registers a new card from the form. With the
// impersonal designation method the designation is composed and the
// registration number allocated; otherwise only the base card is written.
func (s *Server) handleDocumentCreate(w http.ResponseWriter, r *http.Request) {
	user, ok := s.webUser(w, r)
	if !ok {
		return
	}

	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "Malformed form data")
		return
	}

	docType := r.PostFormValue("doc_type")
	if docType != store.DocTypeDesign && docType != store.DocTypeTech {
		writeError(w, http.StatusBadRequest, "Invalid document type")
		return
	}

	developedBy := r.PostFormValue("developed_by")
	if developedBy == "" {
		writeError(w, http.StatusBadRequest, "Developer name is required")
		return
	}

	doc := store.Document{
		Type:        docType,
		DocName:     r.PostFormValue("doc_name"),
		DevelopedBy: developedBy,
		CreatedBy:   user.FullName,
		UploadedBy:  user.ID,
		Position:    user.Position,
		Department:  user.Department,
	}

	if r.PostFormValue("designation_method") != "impersonal" {
		id, err := s.store.CreateDocument(doc)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		s.metrics.documentCount.WithLabelValues(docType).Inc()
		s.audit.DocumentEvent(logging.AuditDocCreate, user.Login, id, "")
		http.Redirect(w, r, "/documents/"+strconv.FormatInt(id, 10)+"/upload", http.StatusSeeOther)
		return
	}

	orgCode := r.PostFormValue("org_code")
	classCode := r.PostFormValue("class_code")
	if orgCode == "" || classCode == "" {
		writeError(w, http.StatusBadRequest, "Organization code and classification code are required")
		return
	}
	isOKPO := r.PostFormValue("is_okpo") == "true"

	orgID, err := s.store.GetOrCreateOrg(orgCode, isOKPO, r.PostFormValue("org_name"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	kd := docType == store.DocTypeDesign
	classID, err := s.store.GetOrCreateClassCode(classCode, kd)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	regNumber := 0
	if v := r.PostFormValue("reg_number"); v != "" {
		regNumber, err = strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Registration number must be a number")
			return
		}
		if regNumber < 1 {
			writeError(w, http.StatusBadRequest, "Registration number must be positive")
			return
		}
	}

	var (
		id  int64
		des string
	)
	if kd {
		kindCode := r.PostFormValue("doc_kind_code")
		if err := designation.ValidateKindCode(kindCode); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		id, des, err = s.store.CreateDesignDocument(doc, store.DesignDocument{
			OrgID:        orgID,
			ClassCodeID:  classID,
			PRNI:         regNumber,
			OrgCodeStr:   orgCode,
			ClassCodeStr: classCode,
			DocKindCode:  kindCode,
		})
	} else {
		id, des, err = s.store.CreateTechDocument(doc, store.TechDocument{
			OrgID:        orgID,
			ClassCodeID:  classID,
			PRN:          regNumber,
			OrgCodeStr:   orgCode,
			ClassCodeStr: classCode,
		})
	}
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.metrics.documentCount.WithLabelValues(docType).Inc()
	s.audit.DocumentEvent(logging.AuditDocCreate, user.Login, id, des)
	http.Redirect(w, r, "/documents/"+strconv.FormatInt(id, 10)+"/upload", http.StatusSeeOther)
}

type uploadPageData struct {
	DocID       int64
	Designation string
}

func (s *Server) handleUploadPage(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.webUser(w, r); !ok {
		return
	}

	id := pathID(r)
	if _, err := s.store.GetDocument(id); err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.renderTemplate(w, "upload.html", uploadPageData{
		DocID:       id,
		Designation: s.lookupDesignation(id),
	})
}

// lookupDesignation returns the designation attached to a card, or "" for
// cards outside the impersonal system.
func (s *Server) lookupDesignation(id int64) string {
	if dd, err := s.store.GetDesignDocument(id); err == nil {
		return dd.Designation
	}
	if td, err := s.store.GetTechDocument(id); err == nil {
		return td.Designation
	}
	return ""
}

// handleUpload stores the file for a card. Only the user who created the
// card may attach its file.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	user, ok := s.webUser(w, r)
	if !ok {
		return
	}

	id := pathID(r)
	doc, err := s.store.GetDocument(id)
	if err != nil || doc.UploadedBy != user.ID {
		writeError(w, http.StatusNotFound, "Document not found or access denied")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil || header.Size == 0 {
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

	displayName := filestore.DisplayName(header.Filename, id)
	if err := s.store.SetDocumentFile(id, displayName, path); err != nil {
		s.files.Remove(path)
		s.writeStoreError(w, err)
		return
	}

	s.log.Info("File uploaded",
		zap.Int64("doc_id", id),
		zap.String("login", user.Login))
	s.audit.DocumentEvent(logging.AuditFileUpload, user.Login, id, displayName)
	http.Redirect(w, r, "/documents", http.StatusSeeOther)
}

// handleDownload streams the stored file back to the browser.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

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
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeFile(w, r, doc.FilePath)
}

// handleDelete removes a card, its designation and its file. Admin only.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	user, ok := s.webUser(w, r)
	if !ok {
		return
	}
	if !user.IsAdmin() {
		writeError(w, http.StatusForbidden, "Admin access required")
		return
	}

	doc, err := s.store.DeleteDocument(pathID(r))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if err := s.files.Remove(doc.FilePath); err != nil {
		s.log.Warn("Failed to remove stored file",
			zap.Int64("doc_id", doc.ID),
			zap.Error(err))
	}

	s.log.Info("Document deleted",
		zap.Int64("doc_id", doc.ID),
		zap.String("login", user.Login))
	s.audit.DocumentEvent(logging.AuditDocDelete, user.Login, doc.ID, doc.Type)
	http.Redirect(w, r, "/documents", http.StatusSeeOther)
}

type checkOrgResponse struct {
	Exists bool   `json:"exists"`
	Name   string `json:"name,omitempty"`
}

// handleCheckOrg lets the create form probe organization codes as the user
// types. No auth: it reveals only whether a code is registered.
func (s *Server) handleCheckOrg(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "Malformed form data")
		return
	}

	exists, name, err := s.store.CheckOrg(
		r.PostFormValue("org_code"),
		r.PostFormValue("is_okpo_str") == "true",
	)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, checkOrgResponse{Exists: exists, Name: name})
}

// pathID extracts the numeric id route variable. The router's pattern
// guarantees it parses.
func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}
