package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("secret123")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if hash == "secret123" {
		t.Fatal("Expected hashed password, got plaintext")
	}

	if !VerifyPassword("secret123", hash) {
		t.Error("Expected correct password to verify")
	}
	if VerifyPassword("wrong", hash) {
		t.Error("Expected wrong password to fail")
	}
	if VerifyPassword("secret123", "not-a-hash") {
		t.Error("Expected malformed hash to fail")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	ti := NewTokenIssuer("test-secret", time.Hour)

	token, err := ti.Create("ivanov")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	login, err := ti.Parse(token)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if login != "ivanov" {
		t.Errorf("Expected login ivanov, got %q", login)
	}
}

func TestTokenExpired(t *testing.T) {
	ti := NewTokenIssuer("test-secret", -time.Minute)

	token, err := ti.Create("ivanov")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := ti.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestTokenWrongSecret(t *testing.T) {
	token, err := NewTokenIssuer("secret-a", time.Hour).Create("ivanov")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := NewTokenIssuer("secret-b", time.Hour).Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken for wrong secret, got %v", err)
	}
}

func TestParseGarbage(t *testing.T) {
	ti := NewTokenIssuer("test-secret", time.Hour)
	if _, err := ti.Parse("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
}

func TestStripBearer(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain token", "abc.def.ghi", "abc.def.ghi"},
		{"bearer prefix", "Bearer abc.def.ghi", "abc.def.ghi"},
		{"extra whitespace", "Bearer  abc.def.ghi ", "abc.def.ghi"},
		{"quoted cookie leftovers", `"Bearer abc.def.ghi"`, `abc.def.ghi"`},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripBearer(tt.input); got != tt.want {
				t.Errorf("StripBearer(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTokenFromRequest(t *testing.T) {
	// Header takes precedence
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer header-token")
	r.AddCookie(&http.Cookie{Name: CookieName, Value: "Bearer cookie-token"})
	if got := TokenFromRequest(r); got != "header-token" {
		t.Errorf("Expected header token, got %q", got)
	}

	// Cookie fallback
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: CookieName, Value: "Bearer cookie-token"})
	if got := TokenFromRequest(r); got != "cookie-token" {
		t.Errorf("Expected cookie token, got %q", got)
	}

	// Neither
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	if got := TokenFromRequest(r); got != "" {
		t.Errorf("Expected empty token, got %q", got)
	}
}
