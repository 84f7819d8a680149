package api

import (
	"context"
	nethttp "net/http"
	"time"

	"github.com/gaborage/twinclient/auth"
)

// Backend session routes.
const (
	PathLogin   = "/auth/login"
	PathRefresh = "/auth/refresh"
	PathMe      = "/auth/me"
	PathLogout  = "/auth/logout"
)

// AuthBackend implements auth.Backend over a Client. The Client must not carry
// a bearer interceptor backed by the same session manager.
type AuthBackend struct {
	client *Client
}

var _ auth.Backend = (*AuthBackend)(nil)

// NewAuthBackend creates an AuthBackend.
func NewAuthBackend(c *Client) *AuthBackend {
	return &AuthBackend{client: c}
}

// grantPayload is the camelCased token response. ExpiresIn is seconds and
// ExpiresAt epoch milliseconds; either may be absent.
type grantPayload struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	ExpiresAt    int64  `json:"expiresAt"`
}

func (p grantPayload) grant() *auth.Grant {
	g := &auth.Grant{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		ExpiresIn:    time.Duration(p.ExpiresIn) * time.Second,
	}
	if p.ExpiresAt > 0 {
		g.ExpiresAt = time.UnixMilli(p.ExpiresAt).UTC()
	}
	return g
}

// Login exchanges credentials for tokens. It is never retried so a rejected
// password or a rate limit is reported at once.
func (b *AuthBackend) Login(ctx context.Context, creds auth.Credentials) (*auth.Grant, error) {
	var out grantPayload
	if _, err := b.client.Request(ctx, nethttp.MethodPost, PathLogin, creds, &out,
		Anonymous(), Endpoint("login"), MaxRetries(0)); err != nil {
		return nil, err
	}
	return out.grant(), nil
}

// Refresh exchanges a refresh token for new tokens under the retry policy.
func (b *AuthBackend) Refresh(ctx context.Context, refreshToken string) (*auth.Grant, error) {
	var out grantPayload
	in := map[string]string{"refreshToken": refreshToken}
	if _, err := b.client.Request(ctx, nethttp.MethodPost, PathRefresh, in, &out,
		Anonymous(), Endpoint("refreshToken")); err != nil {
		return nil, err
	}
	return out.grant(), nil
}

// CurrentUser fetches the profile of the token's owner.
func (b *AuthBackend) CurrentUser(ctx context.Context, accessToken string) (*auth.User, error) {
	var out auth.User
	if _, err := b.client.Request(ctx, nethttp.MethodGet, PathMe, nil, &out,
		Header("Authorization", "Bearer "+accessToken), Endpoint("getCurrentUser")); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout revokes the session server-side. It is attempted once.
func (b *AuthBackend) Logout(ctx context.Context, tokens auth.Tokens) error {
	in := map[string]string{"refreshToken": tokens.RefreshToken}
	_, err := b.client.Request(ctx, nethttp.MethodPost, PathLogout, in, nil,
		Header("Authorization", "Bearer "+tokens.AccessToken), Endpoint("logout"), MaxRetries(0))
	return err
}
