package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/patient-flow/internal/model"
)

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "nurse-1",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestSession_OpaqueToken(t *testing.T) {
	s := New("abc123", &model.User{ID: "1", Name: "Ana"})
	assert.Equal(t, "abc123", s.Token())
	assert.True(t, s.Valid())

	u, ok := s.User()
	require.True(t, ok)
	assert.Equal(t, "Ana", u.Name)
}

func TestSession_JWTExpiry(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	s := New(signed(t, now.Add(time.Hour)), nil)
	s.now = func() time.Time { return now }
	assert.True(t, s.Valid())

	s.now = func() time.Time { return now.Add(2 * time.Hour) }
	assert.False(t, s.Valid())
	assert.Empty(t, s.Token())
}

func TestSession_Clear(t *testing.T) {
	s := New("abc", &model.User{ID: "1"})
	s.Clear()
	assert.False(t, s.Valid())
	_, ok := s.User()
	assert.False(t, ok)
}

func TestSession_UserIsCopied(t *testing.T) {
	u := &model.User{ID: "1", Name: "Ana"}
	s := New("abc", u)
	u.Name = "changed"
	got, _ := s.User()
	assert.Equal(t, "Ana", got.Name)
}
