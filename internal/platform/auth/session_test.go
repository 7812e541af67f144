package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ---------- Helper ----------

func signed(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestParseSession_Subject(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	tok := signed(t, SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "patient-1", ExpiresAt: jwt.NewNumericDate(exp)},
		Role:             "patient",
	})

	s, err := ParseSession("Bearer " + tok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.PatientID != "patient-1" || s.Role != "patient" {
		t.Errorf("unexpected session %+v", s)
	}
	if !s.ExpiresAt.Equal(exp) {
		t.Errorf("expected expiry %v, got %v", exp, s.ExpiresAt)
	}
	if s.Authorization() != "Bearer "+tok {
		t.Errorf("unexpected authorization header %q", s.Authorization())
	}
}

func TestParseSession_FallbackClaims(t *testing.T) {
	s, err := ParseSession(signed(t, jwt.MapClaims{"userId": "u-7"}))
	if err != nil || s.PatientID != "u-7" {
		t.Fatalf("expected userId fallback, got %+v, %v", s, err)
	}
	s, err = ParseSession(signed(t, jwt.MapClaims{"id": "i-3"}))
	if err != nil || s.PatientID != "i-3" {
		t.Fatalf("expected id fallback, got %+v, %v", s, err)
	}
}

func TestParseSession_Errors(t *testing.T) {
	if _, err := ParseSession("  "); !errors.Is(err, ErrEmptyToken) {
		t.Errorf("expected ErrEmptyToken, got %v", err)
	}
	if _, err := ParseSession(signed(t, jwt.MapClaims{"role": "patient"})); !errors.Is(err, ErrNoSubject) {
		t.Errorf("expected ErrNoSubject, got %v", err)
	}
	if _, err := ParseSession("not.a.jwt"); err == nil {
		t.Error("expected malformed token to fail")
	}
}

func TestSession_Expired(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	s := &Session{ExpiresAt: now}
	if !s.Expired(now) {
		t.Error("expected token to be expired at its exp")
	}
	if s.Expired(now.Add(-time.Second)) {
		t.Error("expected token to be valid before exp")
	}
	if (&Session{}).Expired(now) {
		t.Error("expected token without exp never to expire")
	}
}
