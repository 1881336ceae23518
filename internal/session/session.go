// Package session keeps the bearer token and operator profile for the
// lifetime of the process.
package session

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jwalitptl/patient-flow/internal/model"
)

type Session struct {
	mu    sync.RWMutex
	token string
	user  *model.User
	now   func() time.Time
}

func New(token string, user *model.User) *Session {
	s := &Session{now: time.Now}
	s.Set(token, user)
	return s
}

// Set stores a new credential, replacing the previous one.
func (s *Session) Set(token string, user *model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	if user != nil {
		u := *user
		s.user = &u
	} else {
		s.user = nil
	}
}

// Clear forgets the credential.
func (s *Session) Clear() {
	s.Set("", nil)
}

// Token returns the bearer token, or "" when there is none or it has
// expired. Tokens that are not JWTs are passed through as opaque.
func (s *Session) Token() string {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	if token == "" || expired(token, s.now()) {
		return ""
	}
	return token
}

func (s *Session) Valid() bool {
	return s.Token() != ""
}

func (s *Session) User() (model.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return model.User{}, false
	}
	return *s.user, true
}

// The desk never holds the signing key; only the exp claim is read.
func expired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !now.Before(exp.Time)
}
