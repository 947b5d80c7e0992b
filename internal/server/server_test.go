package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"

	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/anyvol/archiveDB/internal/auth"
	"github.com/anyvol/archiveDB/internal/config"
	"github.com/anyvol/archiveDB/internal/filestore"
	"github.com/anyvol/archiveDB/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// newTestServer builds a server over an in-memory registry and a throwaway
// upload directory.
func newTestServer(t *testing.T) *Server {
	t.Helper()

	st, err := store.Open(":memory:", nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	files, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("filestore.New failed: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Storage.UploadDir = files.Dir()

	return New(cfg, st, files, zap.NewNop())
}

func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

// registerAPIUser creates an account through the JSON API and returns its
// bearer token.
func registerAPIUser(t *testing.T, s *Server, login, password, role string) string {
	t.Helper()

	body := fmt.Sprintf(`{"login":%q,"password":%q,"full_name":"Пользователь %s","role":%q}`,
		login, password, login, role)
	req := httptest.NewRequest(http.MethodPost, "/users/register", strings.NewReader(body))
	rec := do(s, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("register %s returned %d: %s", login, rec.Code, rec.Body.String())
	}

	var tok tokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &tok); err != nil {
		t.Fatalf("decode token response: %v", err)
	}
	if tok.AccessToken == "" {
		t.Fatalf("register %s returned an empty token", login)
	}
	return tok.AccessToken
}

// loginSession performs a browser login and returns the session cookie.
func loginSession(t *testing.T, s *Server, login, password string) *http.Cookie {
	t.Helper()

	form := url.Values{"username": {login}, "password": {password}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := do(s, req)
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/documents" {
		t.Fatalf("login %s: got %d -> %q", login, rec.Code, rec.Header().Get("Location"))
	}

	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.CookieName {
			return c
		}
	}
	t.Fatal("login did not set a session cookie")
	return nil
}

func TestIndexRedirectsToDocuments(t *testing.T) {
	s := newTestServer(t)

	rec := do(s, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("Expected 303, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/documents" {
		t.Errorf("Expected redirect to /documents, got %q", loc)
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)

	rec := do(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("Expected ok status, got %s", rec.Body.String())
	}
}

func TestHealthzDegradedWhenStoreClosed(t *testing.T) {
	s := newTestServer(t)
	s.store.Close()

	rec := do(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d", rec.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(t)

	rec := do(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("Expected X-Request-ID header on response")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	// Drive one instrumented request so the request counter has a sample.
	do(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec := do(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{
		"archivedb_http_requests_in_flight",
		"archivedb_http_requests_total",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("Metrics output missing %s", name)
		}
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	s := newTestServer(t)

	rec := do(s, httptest.NewRequest(http.MethodGet, "/no/such/path", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestAuditTrailWritten(t *testing.T) {
	st, err := store.Open(":memory:", nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	files, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("filestore.New failed: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Storage.UploadDir = files.Dir()
	cfg.Logging.AuditDir = t.TempDir()

	s := New(cfg, st, files, zap.NewNop())
	t.Cleanup(func() { s.audit.Close() })
	if s.audit == nil {
		t.Fatal("Expected the audit trail to be enabled")
	}

	registerAPIUser(t, s, "ivanov", "secret123", "")
	loginSession(t, s, "ivanov", "secret123")

	form := url.Values{"username": {"ivanov"}, "password": {"wrong"}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	do(s, req)

	data, err := os.ReadFile(s.audit.Path())
	if err != nil {
		t.Fatalf("reading audit trail failed: %v", err)
	}
	trail := string(data)
	for _, want := range []string{"user_register", "user_login"} {
		if !strings.Contains(trail, want) {
			t.Errorf("Audit trail missing %s event:\n%s", want, trail)
		}
	}
	if !strings.Contains(trail, `"success":false`) {
		t.Error("Audit trail should record the failed login")
	}
}
