// Package auth handles password hashing and the JWT session tokens used by
// both the browser flow (cookie) and the JSON API (Authorization header).
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// CookieName is the browser session cookie. Its value is "Bearer <token>"
// so the same string works when pasted into an Authorization header.
const CookieName = "access_token"

// ErrInvalidToken reports a token that failed verification, expired, or
// carries no subject.
var ErrInvalidToken = errors.New("invalid token")

// HashPassword hashes a password with bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether a password matches its bcrypt hash.
func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// TokenIssuer creates and verifies HS256 session tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer returns an issuer signing with the given secret. Tokens
// expire after ttl.
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}
}

// TTL returns the token lifetime.
func (ti *TokenIssuer) TTL() time.Duration {
	return ti.ttl
}

// Create issues a token whose subject is the user's login.
func (ti *TokenIssuer) Create(login string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   login,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ti.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ti.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies a token and returns the login it was issued for.
func (ti *TokenIssuer) Parse(tokenStr string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return ti.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: no subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// StripBearer removes a "Bearer " prefix wherever it appears in the value
// and trims whitespace. Cookie values arrive as "Bearer <token>", headers
// vary by client.
func StripBearer(token string) string {
	if i := strings.LastIndex(token, "Bearer "); i >= 0 {
		token = token[i+len("Bearer "):]
	}
	return strings.TrimSpace(token)
}

// TokenFromRequest extracts the raw token from the Authorization header or,
// failing that, the session cookie. Returns "" when neither carries one.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return StripBearer(h)
	}
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return StripBearer(c.Value)
	}
	return ""
}
