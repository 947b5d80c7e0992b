package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/anyvol/archiveDB/internal/auth"
	"github.com/anyvol/archiveDB/internal/logging"
	"github.com/anyvol/archiveDB/internal/store"
)

// tokenResponse is the login/register reply.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// userRequest is the register/update body.
type userRequest struct {
	Login      string `json:"login"`
	Password   string `json:"password"`
	FullName   string `json:"full_name"`
	Position   string `json:"position"`
	Department string `json:"department"`
	Role       string `json:"role"`
}

// userResponse is the public view of an account. The password hash never
// leaves the store.
type userResponse struct {
	ID         int64  `json:"id"`
	Login      string `json:"login"`
	FullName   string `json:"full_name"`
	Position   string `json:"position"`
	Department string `json:"department"`
	Role       string `json:"role"`
}

func toUserResponse(u *store.User) userResponse {
	return userResponse{
		ID:         u.ID,
		Login:      u.Login,
		FullName:   u.FullName,
		Position:   u.Position,
		Department: u.Department,
		Role:       u.Role,
	}
}

// handleAPIRegister creates an account and immediately issues a token.
func (s *Server) handleAPIRegister(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Login == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Login and password are required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.log.Error("Password hashing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	_, err = s.store.CreateUser(store.User{
		Login:        req.Login,
		PasswordHash: hash,
		FullName:     req.FullName,
		Position:     req.Position,
		Department:   req.Department,
		Role:         req.Role,
	})
	if errors.Is(err, store.ErrConflict) {
		writeError(w, http.StatusBadRequest, "Login already registered")
		return
	}
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	token, err := s.tokens.Create(req.Login)
	if err != nil {
		s.log.Error("Token creation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	s.audit.UserEvent(logging.AuditUserRegister, req.Login, true)
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

// handleAPILogin implements the password flow: form-encoded username and
// password in, bearer token out.
func (s *Server) handleAPILogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "Malformed form data")
		return
	}
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	user, err := s.store.GetUserByLogin(username)
	if username == "" || password == "" || err != nil || !auth.VerifyPassword(password, user.PasswordHash) {
		s.log.Warn("Failed API login attempt", zap.String("login", username))
		s.audit.UserEvent(logging.AuditUserLogin, username, false)
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, http.StatusUnauthorized, "Incorrect login or password")
		return
	}

	token, err := s.tokens.Create(user.Login)
	if err != nil {
		s.log.Error("Token creation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	s.audit.UserEvent(logging.AuditUserLogin, user.Login, true)
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

func (s *Server) handleAPIMe(w http.ResponseWriter, r *http.Request, user *store.User) {
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// handleAPIListUsers pages through accounts.
func (s *Server) handleAPIListUsers(w http.ResponseWriter, r *http.Request) {
	skip := queryInt(r, "skip", 0)
	limit := queryInt(r, "limit", 10)

	users, err := s.store.ListUsers(skip, limit)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	resp := make([]userResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, toUserResponse(u))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAPIUpdateUser replaces an account's profile fields. The password is
// not changed through this endpoint.
func (s *Server) handleAPIUpdateUser(w http.ResponseWriter, r *http.Request, admin *store.User) {
	var req userRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id := pathID(r)
	err := s.store.UpdateUser(id, store.User{
		Login:      req.Login,
		FullName:   req.FullName,
		Position:   req.Position,
		Department: req.Department,
		Role:       req.Role,
	})
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	user, err := s.store.GetUserByID(id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.audit.AdminEvent(logging.AuditUserUpdate, admin.Login, user.Login)
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (s *Server) handleAPIDeleteUser(w http.ResponseWriter, r *http.Request, admin *store.User) {
	id := pathID(r)
	target, err := s.store.GetUserByID(id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	if err := s.store.DeleteUser(id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.audit.AdminEvent(logging.AuditUserDelete, admin.Login, target.Login)
	w.WriteHeader(http.StatusNoContent)
}
