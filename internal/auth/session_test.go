package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecochat/models"
)

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestFromToken_ReadsClaims(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"memberId":     17,
		"name":         "Green Walker",
		"profileImage": "https://cdn.example.com/p/17.png",
		"exp":          time.Now().Add(time.Hour).Unix(),
	})

	s, err := FromToken(token)
	require.NoError(t, err)

	id := s.Identity()
	assert.Equal(t, int64(17), id.MemberID)
	assert.Equal(t, "Green Walker", id.Name)
	assert.Equal(t, "https://cdn.example.com/p/17.png", id.ProfileImage)
	assert.Equal(t, token, s.Token())
	assert.False(t, s.ExpiresAt().IsZero())
}

func TestFromToken_FallsBackToSubject(t *testing.T) {
	s, err := FromToken(signToken(t, jwt.MapClaims{"sub": "99", "nickname": "leaf"}))
	require.NoError(t, err)
	assert.Equal(t, int64(99), s.MemberID())
	assert.Equal(t, "leaf", s.Identity().Name)
}

func TestFromToken_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"no member id", signToken(t, jwt.MapClaims{"name": "x"})},
		{"expired", signToken(t, jwt.MapClaims{"memberId": 1, "exp": time.Now().Add(-time.Minute).Unix()})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromToken(tt.token)
			require.Error(t, err)
			assert.Equal(t, models.CodeUnauthorized, models.ErrorCode(err))
		})
	}
}

func TestApplyProfileUpdate(t *testing.T) {
	s, err := FromToken(signToken(t, jwt.MapClaims{"memberId": 5, "name": "old"}))
	require.NoError(t, err)

	name := "new"
	assert.False(t, s.ApplyProfileUpdate(models.UserEvent{MemberID: 6, Name: &name}))
	assert.Equal(t, "old", s.Identity().Name)

	assert.True(t, s.ApplyProfileUpdate(models.UserEvent{MemberID: 5, Name: &name}))
	assert.Equal(t, "new", s.Identity().Name)

	assert.False(t, s.ApplyProfileUpdate(models.UserEvent{Name: &name}))
}
