package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokensFromGrant resolves the expiry of a grant: explicit timestamp, then
// expires_in, then the access token's exp claim, then the default lifetime.
// A grant without a refresh token keeps fallbackRefresh.
func (m *Manager) tokensFromGrant(g *Grant, fallbackRefresh string) *Tokens {
	t := &Tokens{
		AccessToken:  g.AccessToken,
		RefreshToken: g.RefreshToken,
		ExpiresAt:    g.ExpiresAt,
	}
	if t.RefreshToken == "" {
		t.RefreshToken = fallbackRefresh
	}

	switch {
	case !t.ExpiresAt.IsZero():
	case g.ExpiresIn > 0:
		t.ExpiresAt = m.now().Add(g.ExpiresIn)
	default:
		if exp, ok := jwtExpiry(g.AccessToken); ok {
			t.ExpiresAt = exp
		} else {
			t.ExpiresAt = m.now().Add(m.defaultLifetime)
		}
	}
	t.ExpiresAt = t.ExpiresAt.UTC().Truncate(time.Millisecond)
	return t
}

// jwtExpiry reads the exp claim without verifying the signature; the server
// remains the authority on validity.
func jwtExpiry(token string) (time.Time, bool) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
