package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/anyvol/archiveDB/internal/auth"
	"github.com/anyvol/archiveDB/internal/store"
)

// statusRecorder captures the response code for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestLogger tags every request with an id and logs it on completion.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set("X-Request-ID", reqID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		s.log.Info("Request handled",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

// currentUser resolves the request's token to a user record.
func (s *Server) currentUser(r *http.Request) (*store.User, error) {
	token := auth.TokenFromRequest(r)
	if token == "" {
		return nil, auth.ErrInvalidToken
	}
	login, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByLogin(login)
	if err != nil {
		return nil, auth.ErrInvalidToken
	}
	return user, nil
}

// authedHandler is an HTTP handler that additionally receives the
// authenticated user.
type authedHandler func(w http.ResponseWriter, r *http.Request, user *store.User)

// requireUser rejects unauthenticated API requests with 401.
func (s *Server) requireUser(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.currentUser(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		next(w, r, user)
	}
}

// requireAdmin additionally rejects non-admin users with 403.
func (s *Server) requireAdmin(next authedHandler) http.HandlerFunc {
	return s.requireUser(func(w http.ResponseWriter, r *http.Request, user *store.User) {
		if !user.IsAdmin() {
			writeError(w, http.StatusForbidden, "Admin access required")
			return
		}
		next(w, r, user)
	})
}

// webUser resolves the session for browser pages. Without a cookie the
// browser is sent to the login page; with a broken one the request fails
// with 401 like any other bad credential.
func (s *Server) webUser(w http.ResponseWriter, r *http.Request) (*store.User, bool) {
	if c, err := r.Cookie(auth.CookieName); err != nil || c.Value == "" {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return nil, false
	}
	user, err := s.currentUser(r)
	if err != nil {
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, http.StatusUnauthorized, "Could not validate credentials")
		return nil, false
	}
	return user, true
}

// storeErrorStatus maps store sentinel errors to HTTP statuses.
func storeErrorStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrInvalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeStoreError answers with the mapped status and the error text, hiding
// internals behind a generic message for unexpected failures.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	status := storeErrorStatus(err)
	if status == http.StatusInternalServerError {
		s.log.Error("Store operation failed", zap.Error(err))
		writeError(w, status, "Internal server error")
		return
	}
	writeError(w, status, err.Error())
}
