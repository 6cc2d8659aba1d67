// Package auth holds the signed-in identity derived from the access token.
package auth

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"ecochat/models"
)

// Session is the signed-in member and the bearer token used for REST and STOMP.
// The token is issued and verified by the backend; the client only reads its claims.
type Session struct {
	mu        sync.RWMutex
	identity  models.Identity
	token     string
	expiresAt time.Time
}

// FromToken builds a Session from an access token's claims.
func FromToken(token string) (*Session, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, models.NewUnauthorizedError("malformed access token")
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, models.NewUnauthorizedError("malformed access token claims")
	}

	memberID := int64Claim(claims, "memberId")
	if memberID == 0 {
		memberID = int64Claim(claims, "sub")
	}
	if memberID == 0 {
		return nil, models.NewUnauthorizedError("access token carries no member id")
	}

	s := &Session{
		token: token,
		identity: models.Identity{
			MemberID:     memberID,
			Name:         stringClaim(claims, "name", "nickname"),
			ProfileImage: stringClaim(claims, "profileImage", "picture"),
		},
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		s.expiresAt = exp.Time
		if time.Now().After(exp.Time) {
			return nil, models.NewUnauthorizedError("access token expired")
		}
	}
	return s, nil
}

// Identity returns a copy of the signed-in member.
func (s *Session) Identity() models.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// MemberID is shorthand for Identity().MemberID.
func (s *Session) MemberID() int64 {
	return s.Identity().MemberID
}

// Token returns the bearer token.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// ExpiresAt is zero when the token carries no exp claim.
func (s *Session) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

// ApplyProfileUpdate patches the display attributes carried by a PROFILE_UPDATE event.
// Events for other members are ignored.
func (s *Session) ApplyProfileUpdate(ev models.UserEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.MemberID != 0 && ev.MemberID != s.identity.MemberID {
		return false
	}
	changed := false
	if ev.Name != nil && *ev.Name != s.identity.Name {
		s.identity.Name = *ev.Name
		changed = true
	}
	if ev.ProfileImage != nil && *ev.ProfileImage != s.identity.ProfileImage {
		s.identity.ProfileImage = *ev.ProfileImage
		changed = true
	}
	return changed
}

func int64Claim(claims jwt.MapClaims, key string) int64 {
	switch v := claims[key].(type) {
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

func stringClaim(claims jwt.MapClaims, keys ...string) string {
	for _, key := range keys {
		if v, ok := claims[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
