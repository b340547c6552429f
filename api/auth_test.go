package api

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var testSecret = []byte("test-secret")

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestEmailFromAuthHeaderHS256(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{
		"email": "alice@x.io",
		"aud":   "api://aud",
		"iss":   "https://issuer/",
		"exp":   time.Now().Add(5 * time.Minute).Unix(),
		"nbf":   time.Now().Add(-time.Minute).Unix(),
	})

	v := NewLocalVerifier(testSecret)
	email, err := v.EmailFromAuthHeader("Bearer " + token)
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if email != "alice@x.io" {
		t.Fatalf("unexpected email: %s", email)
	}
}

func TestEmailFromAuthHeaderMissing(t *testing.T) {
	v := NewLocalVerifier(testSecret)
	if _, err := v.EmailFromAuthHeader(""); err == nil || err.Error() != "missing authorization header" {
		t.Fatalf("expected missing header error, got %v", err)
	}
}

func TestEmailFromAuthHeaderBadScheme(t *testing.T) {
	v := NewLocalVerifier(testSecret)
	if _, err := v.EmailFromAuthHeader("Basic abc"); err == nil || err.Error() != "bad auth header" {
		t.Fatalf("expected bad auth header error, got %v", err)
	}
}

func TestEmailFromAuthHeaderManyPeriods(t *testing.T) {
	v := NewLocalVerifier(testSecret)
	header := "Bearer " + strings.Repeat(".", 1000)
	if _, err := v.EmailFromAuthHeader(header); err == nil || err.Error() != "bad auth header" {
		t.Fatalf("expected bad auth header error, got %v", err)
	}
}

func TestEmailFromAuthHeaderExpired(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{
		"email": "alice@x.io",
		"exp":   time.Now().Add(-10 * time.Minute).Unix(),
	})
	v := NewLocalVerifier(testSecret)
	if _, err := v.EmailFromAuthHeader("Bearer " + token); err == nil {
		t.Fatalf("expected error for expired token")
	}
}

func TestEmailFromAuthHeaderWrongSecret(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{
		"email": "alice@x.io",
		"exp":   time.Now().Add(5 * time.Minute).Unix(),
	})
	v := NewLocalVerifier([]byte("other-secret"))
	if _, err := v.EmailFromAuthHeader("Bearer " + token); err == nil {
		t.Fatalf("expected signature verification failure")
	}
}

func TestEmailFromAuthHeaderMissingEmailClaim(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{
		"sub": "user-123",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
	})
	v := NewLocalVerifier(testSecret)
	if _, err := v.EmailFromAuthHeader("Bearer " + token); err == nil {
		t.Fatalf("expected error for missing email claim")
	}
}
