package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrEmptyToken = errors.New("access token is empty")
	ErrNoSubject  = errors.New("access token carries no patient id")
)

// SessionClaims are the claims the clinic backend puts in patient tokens.
type SessionClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"userId,omitempty"`
	AltID  string `json:"id,omitempty"`
	Role   string `json:"role,omitempty"`
	Name   string `json:"name,omitempty"`
}

// Session is the patient's bearer token plus the identity read from it. The
// signature is not verified here: the backend verifies every request, and the
// client only needs the id to recognise its own slot locks.
type Session struct {
	Token     string
	PatientID string
	Role      string
	Name      string
	ExpiresAt time.Time
}

// ParseSession decodes token without verifying its signature. The patient id
// is taken from sub, then userId, then id.
func ParseSession(token string) (*Session, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return nil, ErrEmptyToken
	}

	claims := &SessionClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}

	id := claims.Subject
	if id == "" {
		id = claims.UserID
	}
	if id == "" {
		id = claims.AltID
	}
	if id == "" {
		return nil, ErrNoSubject
	}

	s := &Session{Token: token, PatientID: id, Role: claims.Role, Name: claims.Name}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}

// Expired reports whether the token has expired at now. Tokens without exp
// never expire client-side.
func (s *Session) Expired(now time.Time) bool {
	if s == nil || s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

// Authorization returns the Authorization header value.
func (s *Session) Authorization() string {
	if s == nil || s.Token == "" {
		return ""
	}
	return "Bearer " + s.Token
}
