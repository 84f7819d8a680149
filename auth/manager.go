package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"github.com/gaborage/twinclient/apierror"
	"github.com/gaborage/twinclient/cache"
	"github.com/gaborage/twinclient/internal/tracking"
	"github.com/gaborage/twinclient/logger"
)

const (
	// DefaultRefreshBuffer is how long before expiry a token counts as expiring soon.
	DefaultRefreshBuffer = 5 * time.Minute

	// DefaultTokenLifetime applies when a grant carries no expiry information.
	DefaultTokenLifetime = time.Hour

	DefaultTokensKey = "twin.auth.tokens"
	DefaultUserKey   = "twin.auth.user"

	refreshKey = "refresh"
)

// Scheduler runs fn once after d and returns a function that cancels it.
type Scheduler func(d time.Duration, fn func()) (stop func() bool)

func afterFunc(d time.Duration, fn func()) func() bool {
	return time.AfterFunc(d, fn).Stop
}

// Manager is the session manager. Construct it with NewManager and share the
// pointer; it is safe for concurrent use.
type Manager struct {
	store    cache.Store
	backend  Backend
	logger   logger.Logger
	validate *validator.Validate

	now             func() time.Time
	schedule        Scheduler
	buffer          time.Duration
	defaultLifetime time.Duration
	tokensKey       string
	userKey         string

	mu         sync.RWMutex
	tokens     *Tokens
	user       *User
	generation uint64
	stopTimer  func() bool
	closed     bool

	// persistMu orders store writes against deletePersisted.
	persistMu sync.Mutex

	refreshing atomic.Bool
	group      singleflight.Group
	observers  observers
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithRefreshBuffer sets the window before expiry in which tokens are refreshed.
func WithRefreshBuffer(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.buffer = d
		}
	}
}

// WithDefaultTokenLifetime sets the fallback lifetime for grants without expiry.
func WithDefaultTokenLifetime(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.defaultLifetime = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithScheduler replaces time.AfterFunc for background refresh.
func WithScheduler(s Scheduler) Option {
	return func(m *Manager) {
		if s != nil {
			m.schedule = s
		}
	}
}

// WithStorageKeys overrides the keys tokens and the user profile are stored under.
func WithStorageKeys(tokensKey, userKey string) Option {
	return func(m *Manager) {
		if tokensKey != "" {
			m.tokensKey = tokensKey
		}
		if userKey != "" {
			m.userKey = userKey
		}
	}
}

// NewManager loads any persisted session from store and, when tokens exist,
// schedules their background refresh.
func NewManager(ctx context.Context, store cache.Store, backend Backend, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if backend == nil {
		return nil, errors.New("auth: backend is required")
	}

	m := &Manager{
		store:           store,
		backend:         backend,
		logger:          logger.Nop(),
		validate:        validator.New(validator.WithRequiredStructEnabled()),
		now:             time.Now,
		schedule:        afterFunc,
		buffer:          DefaultRefreshBuffer,
		defaultLifetime: DefaultTokenLifetime,
		tokensKey:       DefaultTokensKey,
		userKey:         DefaultUserKey,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.load(ctx)

	m.mu.Lock()
	if m.tokens != nil {
		m.scheduleLocked()
	}
	m.mu.Unlock()

	return m, nil
}

func (m *Manager) load(ctx context.Context) {
	raw, err := m.store.Get(ctx, m.tokensKey)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			m.logger.Warn().Err(err).Msg("Failed to load persisted tokens")
		}
		return
	}
	var tokens Tokens
	if err := json.Unmarshal(raw, &tokens); err != nil || tokens.AccessToken == "" {
		m.logger.Warn().Err(err).Msg("Discarding unreadable persisted tokens")
		m.deletePersisted(ctx)
		return
	}
	m.tokens = &tokens

	rawUser, err := m.store.Get(ctx, m.userKey)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			m.logger.Warn().Err(err).Msg("Failed to load cached user")
		}
		return
	}
	user, err := cache.Unmarshal[User](rawUser)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Discarding unreadable cached user")
		return
	}
	m.user = &user
}

// Subscribe registers fn for session events and returns a function that
// unregisters it.
func (m *Manager) Subscribe(fn Observer) func() {
	return m.observers.add(fn)
}

// Tokens returns a copy of the current tokens, or nil.
func (m *Manager) Tokens() *Tokens {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokens.clone()
}

func (m *Manager) snapshot() (*Tokens, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokens.clone(), m.generation
}

// CurrentUser returns a copy of the cached user, or nil.
func (m *Manager) CurrentUser() *User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user.clone()
}

// IsAuthenticated reports whether unexpired tokens and a user are held.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokens != nil && m.user != nil && m.now().Before(m.tokens.ExpiresAt)
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	tokens := m.tokens.clone()
	m.mu.RUnlock()

	switch {
	case tokens == nil:
		return StateNoTokens
	case m.refreshing.Load():
		return StateRefreshing
	case m.isExpired(tokens):
		return StateExpired
	case m.isExpiringSoon(tokens):
		return StateExpiringSoon
	default:
		return StateValid
	}
}

func (m *Manager) isExpired(t *Tokens) bool {
	return !m.now().Before(t.ExpiresAt)
}

func (m *Manager) isExpiringSoon(t *Tokens) bool {
	return !m.now().Add(m.buffer).Before(t.ExpiresAt)
}

// Initialize restores the session at startup, refreshing expiring tokens and
// fetching the current user.
func (m *Manager) Initialize(ctx context.Context) AuthState {
	tokens, generation := m.snapshot()
	if tokens == nil {
		return AuthState{}
	}

	if m.isExpiringSoon(tokens) {
		refreshed, err := m.refreshShared(ctx, false)
		if err != nil {
			return AuthState{Error: MsgSessionExpired}
		}
		tokens = refreshed
	}

	user, err := m.backend.CurrentUser(ctx, tokens.AccessToken)
	if err != nil {
		if apierror.IsType(err, apierror.TokenRevoked) {
			m.logger.Info().Err(err).Msg("Stored session rejected by server")
			m.endSession(ctx, EventSessionExpired)
			return AuthState{Error: MsgSessionExpired}
		}
		if cached := m.CurrentUser(); cached != nil {
			m.logger.Warn().Err(err).Msg("Using cached user after profile fetch failed")
			return AuthState{IsAuthenticated: true, User: cached, Tokens: tokens}
		}
		m.logger.Warn().Err(err).Msg("Failed to fetch current user")
		return AuthState{Tokens: tokens, Error: MsgUserInfoFailed}
	}

	if !m.setUser(ctx, generation, user) {
		return AuthState{Error: MsgSessionExpired}
	}
	return AuthState{IsAuthenticated: true, User: user.clone(), Tokens: tokens}
}

// EnsureValidToken returns an access token that is not expiring soon,
// refreshing first when needed. It implements http.TokenSource.
func (m *Manager) EnsureValidToken(ctx context.Context) (string, error) {
	tokens := m.Tokens()
	if tokens == nil {
		return "", ErrNoTokens
	}
	if !m.isExpiringSoon(tokens) {
		return tokens.AccessToken, nil
	}

	refreshed, err := m.refreshShared(ctx, false)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// RefreshTokenSilently exchanges the refresh token for new tokens. Concurrent
// callers share one backend call. On failure the session is cleared,
// EventSessionExpired is emitted, and the error wraps ErrSessionExpired.
//
// The shared refresh is detached from ctx; a caller whose ctx ends stops
// waiting without cancelling the refresh for the others.
func (m *Manager) RefreshTokenSilently(ctx context.Context) (*Tokens, error) {
	return m.refreshShared(ctx, true)
}

// refreshShared joins or starts the shared refresh. Without force, tokens
// that are no longer expiring soon when the refresh starts are returned as is.
func (m *Manager) refreshShared(ctx context.Context, force bool) (*Tokens, error) {
	detached := context.WithoutCancel(ctx)
	ch := m.group.DoChan(refreshKey, func() (any, error) {
		return m.refresh(detached, force)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Tokens).clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) refresh(ctx context.Context, force bool) (*Tokens, error) {
	current, generation := m.snapshot()
	if current == nil {
		return nil, ErrNoTokens
	}
	if !force && !m.isExpiringSoon(current) {
		return current, nil
	}

	var grant *Grant
	err := errNoRefreshToken
	if current.RefreshToken != "" {
		m.refreshing.Store(true)
		defer m.refreshing.Store(false)

		start := time.Now()
		grant, err = m.backend.Refresh(ctx, current.RefreshToken)
		tracking.RecordRefresh(ctx, time.Since(start), err)

		if err == nil && (grant == nil || grant.AccessToken == "") {
			err = errors.New("refresh response carried no access token")
		}
	}
	if err != nil {
		m.logger.Warn().Err(err).Msg("Token refresh failed, ending session")
		if m.clearIf(ctx, generation) {
			m.observers.emit(EventSessionExpired)
		}
		return nil, fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}

	tokens := m.tokensFromGrant(grant, current.RefreshToken)

	m.mu.Lock()
	if m.generation != generation {
		// logged out or logged in again while the call was in flight
		m.mu.Unlock()
		return nil, ErrSessionExpired
	}
	m.tokens = tokens
	m.scheduleLocked()
	m.mu.Unlock()

	m.persistTokens(ctx, generation, tokens)
	m.logger.Debug().Str("expires_at", tokens.ExpiresAt.Format(time.RFC3339)).Msg("Tokens refreshed")
	m.observers.emit(EventTokensRefreshed)
	return tokens.clone(), nil
}

// Login validates credentials, acquires tokens, and fetches the user. When the
// user cannot be fetched the new tokens are discarded.
func (m *Manager) Login(ctx context.Context, email, password string) AuthState {
	creds := Credentials{Email: email, Password: password}
	if err := m.validate.Struct(creds); err != nil {
		return AuthState{Error: MsgMissingCredentials}
	}

	grant, err := m.backend.Login(ctx, creds)
	if err == nil && (grant == nil || grant.AccessToken == "") {
		err = errors.New("login response carried no access token")
	}
	if err != nil {
		m.logger.Info().Err(err).Msg("Login failed")
		return AuthState{Error: loginErrorMessage(err)}
	}

	tokens := m.tokensFromGrant(grant, "")
	m.mu.Lock()
	m.generation++
	generation := m.generation
	m.tokens = tokens
	m.user = nil
	m.scheduleLocked()
	m.mu.Unlock()
	m.persistTokens(ctx, generation, tokens)

	user, err := m.backend.CurrentUser(ctx, tokens.AccessToken)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Login succeeded but user fetch failed, rolling back")
		m.clearIf(ctx, generation)
		return AuthState{Error: MsgUserInfoFailed}
	}

	if !m.setUser(ctx, generation, user) {
		// logged out while the profile was being fetched
		return AuthState{Error: MsgSessionExpired}
	}
	m.observers.emit(EventLoggedIn)
	return AuthState{IsAuthenticated: true, User: user.clone(), Tokens: tokens.clone()}
}

func loginErrorMessage(err error) string {
	switch {
	case apierror.IsType(err, apierror.Network), apierror.IsType(err, apierror.Timeout):
		return MsgConnectionFailed
	case apierror.IsType(err, apierror.RateLimit):
		return MsgTooManyAttempts
	default:
		return MsgInvalidCredentials
	}
}

// Logout invalidates the session remotely on a best-effort basis and always
// clears local state. EventLogoutComplete is emitted afterwards.
func (m *Manager) Logout(ctx context.Context) AuthState {
	if tokens := m.Tokens(); tokens != nil {
		if err := m.backend.Logout(ctx, *tokens); err != nil {
			m.logger.Warn().Err(err).Msg("Remote logout failed, clearing local session")
		}
	}
	m.clear(ctx)
	m.observers.emit(EventLogoutComplete)
	return AuthState{}
}

// HasPermission answers from the cached user. Expired sessions have no
// permissions; sessions expiring soon trigger a background refresh.
func (m *Manager) HasPermission(permission string) bool {
	m.mu.RLock()
	tokens := m.tokens.clone()
	user := m.user.clone()
	m.mu.RUnlock()

	if tokens == nil || m.isExpired(tokens) {
		return false
	}
	if m.isExpiringSoon(tokens) {
		go m.backgroundRefresh()
	}
	return user != nil && slices.Contains(user.Permissions, permission)
}

// HandleUnauthorized ends the session after the server rejected an
// authenticated call.
func (m *Manager) HandleUnauthorized(ctx context.Context) {
	if m.Tokens() == nil {
		return
	}
	m.logger.Info().Msg("Server rejected session credentials")
	m.endSession(ctx, EventSessionExpired)
}

// Close stops background refresh. The persisted session is left intact.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.stopLocked()
}

func (m *Manager) endSession(ctx context.Context, e Event) {
	m.clear(ctx)
	m.observers.emit(e)
}

// clearIf clears the session only when no login or logout happened since
// generation was observed.
func (m *Manager) clearIf(ctx context.Context, generation uint64) bool {
	m.mu.Lock()
	if m.generation != generation {
		m.mu.Unlock()
		return false
	}
	m.generation++
	m.tokens = nil
	m.user = nil
	m.stopLocked()
	m.mu.Unlock()

	m.deletePersisted(ctx)
	return true
}

func (m *Manager) clear(ctx context.Context) {
	m.mu.Lock()
	m.generation++
	m.tokens = nil
	m.user = nil
	m.stopLocked()
	m.mu.Unlock()

	m.deletePersisted(ctx)
}

func (m *Manager) deletePersisted(ctx context.Context) {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	if err := m.store.Delete(ctx, m.tokensKey); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to delete persisted tokens")
	}
	if err := m.store.Delete(ctx, m.userKey); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to delete cached user")
	}
}

func (m *Manager) persistTokens(ctx context.Context, generation uint64, tokens *Tokens) {
	data, err := json.Marshal(tokens)
	if err == nil {
		err = m.persist(ctx, generation, m.tokensKey, data)
	}
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to persist tokens")
	}
}

// setUser caches user for the session identified by generation. It reports
// false when that session has already ended.
func (m *Manager) setUser(ctx context.Context, generation uint64, user *User) bool {
	m.mu.Lock()
	if m.generation != generation {
		m.mu.Unlock()
		return false
	}
	m.user = user.clone()
	m.mu.Unlock()

	data, err := cache.Marshal(*user)
	if err == nil {
		err = m.persist(ctx, generation, m.userKey, data)
	}
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to cache user")
	}
	return true
}

// persist writes data unless the session changed since generation. Holding
// persistMu across the check and the write keeps a concurrent clear from
// being undone by a late write.
func (m *Manager) persist(ctx context.Context, generation uint64, key string, data []byte) error {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.RLock()
	current := m.generation == generation
	m.mu.RUnlock()
	if !current {
		return nil
	}
	return m.store.Set(ctx, key, data, 0)
}

// scheduleLocked replaces the background refresh timer. Callers hold m.mu.
func (m *Manager) scheduleLocked() {
	m.stopLocked()
	if m.closed || m.tokens == nil {
		return
	}
	delay := m.tokens.ExpiresAt.Add(-m.buffer).Sub(m.now())
	if delay < 0 {
		delay = 0
	}
	m.stopTimer = m.schedule(delay, m.backgroundRefresh)
}

func (m *Manager) stopLocked() {
	if m.stopTimer != nil {
		m.stopTimer()
		m.stopTimer = nil
	}
}

func (m *Manager) backgroundRefresh() {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return
	}
	if _, err := m.refreshShared(context.Background(), false); err != nil && !errors.Is(err, ErrNoTokens) {
		m.logger.Debug().Err(err).Msg("Background token refresh failed")
	}
}
