package mockapi

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	errInvalidToken   = errors.New("invalid or expired token")
	errInvalidRefresh = errors.New("invalid or expired refresh token")
)

// accessClaims is the payload of an issued access token.
type accessClaims struct {
	Email       string   `json:"email"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// tokenGrant is the login and refresh response body.
type tokenGrant struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
}

type refreshEntry struct {
	email     string
	expiresAt time.Time
}

// issuer signs access tokens and tracks refresh tokens and revocations.
type issuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time

	mu      sync.Mutex
	refresh map[string]refreshEntry
	revoked map[string]time.Time
}

func newIssuer(secret []byte, accessTTL, refreshTTL time.Duration, now func() time.Time) *issuer {
	return &issuer{
		secret:     secret,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        now,
		refresh:    make(map[string]refreshEntry),
		revoked:    make(map[string]time.Time),
	}
}

func (i *issuer) issue(acct *Account) (tokenGrant, error) {
	now := i.now().Truncate(time.Second)
	exp := now.Add(i.accessTTL)

	claims := accessClaims{
		Email:       acct.Email,
		Role:        acct.Role,
		Permissions: acct.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   acct.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return tokenGrant{}, err
	}

	refreshToken := uuid.NewString()
	i.mu.Lock()
	i.refresh[refreshToken] = refreshEntry{email: normalizeEmail(acct.Email), expiresAt: now.Add(i.refreshTTL)}
	i.mu.Unlock()

	return tokenGrant{
		AccessToken:  signed,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(i.accessTTL / time.Second),
		ExpiresAt:    exp.UnixMilli(),
	}, nil
}

// consume invalidates a refresh token and returns the email it was issued to.
// Every refresh token is single use.
func (i *issuer) consume(refreshToken string) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	entry, ok := i.refresh[refreshToken]
	if !ok {
		return "", errInvalidRefresh
	}
	delete(i.refresh, refreshToken)
	if !i.now().Before(entry.expiresAt) {
		return "", errInvalidRefresh
	}
	return entry.email, nil
}

func (i *issuer) verify(raw string) (*accessClaims, error) {
	claims := &accessClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, errInvalidToken
	}

	i.mu.Lock()
	_, revoked := i.revoked[claims.ID]
	i.mu.Unlock()
	if revoked {
		return nil, errInvalidToken
	}
	return claims, nil
}

// revoke invalidates an access token and, when given, a refresh token.
// Expired revocations are pruned on the way.
func (i *issuer) revoke(claims *accessClaims, refreshToken string) {
	now := i.now()
	i.mu.Lock()
	defer i.mu.Unlock()
	for id, exp := range i.revoked {
		if !now.Before(exp) {
			delete(i.revoked, id)
		}
	}
	if claims != nil && claims.ExpiresAt != nil {
		i.revoked[claims.ID] = claims.ExpiresAt.Time
	}
	if refreshToken != "" {
		delete(i.refresh, refreshToken)
	}
}
