// Package server exposes the document registry over HTTP: server-rendered
// pages for the browser flow and a JSON API for other clients.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/anyvol/archiveDB/internal/auth"
	"github.com/anyvol/archiveDB/internal/config"
	"github.com/anyvol/archiveDB/internal/filestore"
	"github.com/anyvol/archiveDB/internal/logging"
	"github.com/anyvol/archiveDB/internal/store"
)

// Server wires the registry store, the file store and the token issuer into
// an HTTP handler tree.
type Server struct {
	cfg     *config.Config
	store   *store.Store
	files   *filestore.Store
	tokens  *auth.TokenIssuer
	log     *zap.Logger
	audit   *logging.AuditLog
	metrics *metrics
	router  *mux.Router
}

// New assembles a server from its parts. A nil logger is replaced with a
// no-op one. The audit trail is opened only when configured; a failure to
// open it is logged and the server runs without one.
func New(cfg *config.Config, st *store.Store, files *filestore.Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	var audit *logging.AuditLog
	if cfg.Logging.AuditDir != "" {
		a, err := logging.OpenAudit(cfg.Logging.AuditDir)
		if err != nil {
			logger.Warn("Audit trail unavailable", zap.Error(err))
		} else {
			audit = a
			logger.Info("Audit trail enabled", zap.String("path", a.Path()))
		}
	}

	s := &Server{
		cfg:     cfg,
		store:   st,
		files:   files,
		tokens:  auth.NewTokenIssuer(cfg.Auth.SecretKey, cfg.GetTokenTTL()),
		log:     logger,
		audit:   audit,
		metrics: newMetrics(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := mux.NewRouter()

	// Browser pages
	r.HandleFunc("/", s.handleIndex).Methods("GET")
	r.HandleFunc("/login", s.handleLoginPage).Methods("GET")
	r.HandleFunc("/login", s.handleLogin).Methods("POST")
	r.HandleFunc("/logout", s.handleLogout).Methods("GET")
	r.HandleFunc("/register", s.handleRegisterPage).Methods("GET")
	r.HandleFunc("/register", s.handleRegister).Methods("POST")
	r.HandleFunc("/documents", s.handleDocumentsPage).Methods("GET")
	r.HandleFunc("/documents/create", s.handleDocumentCreate).Methods("POST")
	r.HandleFunc("/documents/{id:[0-9]+}/upload", s.handleUploadPage).Methods("GET")
	r.HandleFunc("/documents/{id:[0-9]+}/upload", s.handleUpload).Methods("POST")
	r.HandleFunc("/documents/{id:[0-9]+}/download", s.handleDownload).Methods("GET")
	r.HandleFunc("/documents/{id:[0-9]+}/delete", s.handleDelete).Methods("POST")
	r.HandleFunc("/api/check_org", s.handleCheckOrg).Methods("POST")

	// User API
	users := r.PathPrefix("/users").Subrouter()
	users.HandleFunc("/register", s.handleAPIRegister).Methods("POST")
	users.HandleFunc("/login", s.handleAPILogin).Methods("POST")
	users.HandleFunc("/me", s.requireUser(s.handleAPIMe)).Methods("GET")
	users.HandleFunc("/", s.handleAPIListUsers).Methods("GET")
	users.HandleFunc("/{id:[0-9]+}", s.requireAdmin(s.handleAPIUpdateUser)).Methods("PUT")
	users.HandleFunc("/{id:[0-9]+}", s.requireAdmin(s.handleAPIDeleteUser)).Methods("DELETE")

	// Document API
	docs := r.PathPrefix("/docs").Subrouter()
	docs.HandleFunc("/documents/", s.requireUser(s.handleAPIListDocuments)).Methods("GET")
	docs.HandleFunc("/documents/{id:[0-9]+}", s.requireUser(s.handleAPIDeleteDocument)).Methods("DELETE")
	docs.HandleFunc("/documents/{id:[0-9]+}/upload", s.requireUser(s.handleAPIUpload)).Methods("POST")
	docs.HandleFunc("/documents/{id:[0-9]+}/download", s.requireUser(s.handleAPIDownload)).Methods("GET")
	docs.HandleFunc("/design-documents/", s.requireUser(s.handleAPICreateDesign)).Methods("POST")
	docs.HandleFunc("/design-documents/{id:[0-9]+}", s.requireUser(s.handleAPIGetDesign)).Methods("GET")
	docs.HandleFunc("/design-documents/{id:[0-9]+}", s.requireUser(s.handleAPIUpdateDesign)).Methods("PUT")
	docs.HandleFunc("/tech-documents/", s.requireUser(s.handleAPICreateTech)).Methods("POST")
	docs.HandleFunc("/tech-documents/{id:[0-9]+}", s.requireUser(s.handleAPIGetTech)).Methods("GET")
	docs.HandleFunc("/tech-documents/{id:[0-9]+}", s.requireUser(s.handleAPIUpdateTech)).Methods("PUT")

	// Operational endpoints
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.Handle("/metrics", s.metrics.handler()).Methods("GET")

	s.router = r
}

// Handler returns the full middleware chain: request ids and logging, then
// metrics, then routing.
func (s *Server) Handler() http.Handler {
	return s.metrics.instrument(s.requestLogger(s.router))
}

// Run serves HTTP until the context is cancelled, then drains connections
// within the configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	defer s.audit.Close()

	srv := &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.GetReadTimeout(),
		WriteTimeout: s.cfg.GetWriteTimeout(),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
		defer cancel()
		s.log.Info("Shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// handleIndex sends the browser to the registry page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/documents", http.StatusSeeOther)
}

// handleHealth reports liveness of the process and the database.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		s.log.Error("Health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes v as a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the {"detail": ...} shape the API
// clients expect.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// queryInt reads an integer query parameter, falling back to def when the
// parameter is absent or malformed.
func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
