// Package auth owns the client session: it persists tokens and the user
// profile, refreshes access tokens before they expire, coalesces concurrent
// refreshes into one backend call, and notifies observers when the session
// ends.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"time"
)

var (
	// ErrNoTokens is returned when an operation needs a session and none exists.
	ErrNoTokens = errors.New("auth: no tokens")

	// ErrSessionExpired is returned when a refresh failed and the session was cleared.
	ErrSessionExpired = errors.New("auth: session expired")

	errNoRefreshToken = errors.New("session holds no refresh token")
)

// User-visible state messages.
const (
	MsgSessionExpired     = "Session expired"
	MsgUserInfoFailed     = "Could not retrieve user information"
	MsgInvalidCredentials = "Invalid email or password"
	MsgConnectionFailed   = "Unable to connect to the server. Please check your connection."
	MsgTooManyAttempts    = "Too many login attempts. Please try again later."
	MsgMissingCredentials = "Please enter a valid email and password"
)

// Role is the user's clinical role.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleClinician  Role = "clinician"
	RoleResearcher Role = "researcher"
)

// User is the authenticated user's profile.
type User struct {
	ID          string   `json:"id" cbor:"1,keyasint"`
	Username    string   `json:"username" cbor:"2,keyasint"`
	Email       string   `json:"email" cbor:"3,keyasint"`
	Role        Role     `json:"role" cbor:"4,keyasint"`
	Permissions []string `json:"permissions" cbor:"5,keyasint"`
}

func (u *User) clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Permissions = slices.Clone(u.Permissions)
	return &c
}

// Tokens is the persisted token pair. On the wire and in storage ExpiresAt is
// epoch milliseconds.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

type tokensJSON struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    int64  `json:"expiresAt"`
}

// MarshalJSON encodes ExpiresAt as epoch milliseconds.
func (t Tokens) MarshalJSON() ([]byte, error) {
	return json.Marshal(tokensJSON{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    t.ExpiresAt.UnixMilli(),
	})
}

// UnmarshalJSON decodes ExpiresAt from epoch milliseconds.
func (t *Tokens) UnmarshalJSON(data []byte) error {
	var raw tokensJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.AccessToken = raw.AccessToken
	t.RefreshToken = raw.RefreshToken
	t.ExpiresAt = time.UnixMilli(raw.ExpiresAt).UTC()
	return nil
}

func (t *Tokens) clone() *Tokens {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Credentials are validated before any network call.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Grant is what the backend returns from login and refresh. When ExpiresAt is
// zero the manager derives it from ExpiresIn, then the JWT exp claim.
type Grant struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	ExpiresIn    time.Duration
}

// Backend performs the remote session calls.
type Backend interface {
	Login(ctx context.Context, creds Credentials) (*Grant, error)
	Refresh(ctx context.Context, refreshToken string) (*Grant, error)
	CurrentUser(ctx context.Context, accessToken string) (*User, error)
	Logout(ctx context.Context, tokens Tokens) error
}

// AuthState is the outcome of Initialize, Login, and Logout.
type AuthState struct {
	IsAuthenticated bool
	User            *User
	Tokens          *Tokens
	Error           string
}

// State is the session lifecycle position.
type State int

const (
	StateNoTokens State = iota
	StateValid
	StateExpiringSoon
	StateRefreshing
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateNoTokens:
		return "no_tokens"
	case StateValid:
		return "valid"
	case StateExpiringSoon:
		return "expiring_soon"
	case StateRefreshing:
		return "refreshing"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}
