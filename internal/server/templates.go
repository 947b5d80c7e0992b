package server

import (
	"embed"
	"html/template"
	"net/http"

	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// renderTemplate executes a page template. Render failures are logged and
// answered with a bare 500 since the page is already half-written otherwise.
func (s *Server) renderTemplate(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplates.ExecuteTemplate(w, name, data); err != nil {
		s.log.Error("Template render failed",
			zap.String("template", name),
			zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
