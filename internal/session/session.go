// Package session owns the authentication token and user profile: it
// persists them in the workspace database, restores them at startup, and
// clears everything on logout or a detected authorization failure.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"flowdeck/internal/apierr"
	"flowdeck/internal/domain"
	"flowdeck/internal/gateway"
	"flowdeck/internal/log"
	"flowdeck/internal/repo"
)

const (
	fallbackLogin    = "Login failed"
	fallbackRegister = "Registration failed"
	fallbackProfile  = "Could not load user profile"
)

// Manager holds the session state. Authenticated() is true exactly when a
// token is held; the profile may lag behind the token while a fetch is in
// flight.
type Manager struct {
	mu      sync.Mutex
	token   string
	user    *domain.UserProfile
	loading bool
	lastErr string
	cleared []func(context.Context)

	repo     repo.Repo
	identity *gateway.Gateway
	logger   *slog.Logger
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// New creates a manager over the persisted session store. Call UseIdentity
// before any remote operation.
func New(r repo.Repo) *Manager {
	return &Manager{
		repo:   r,
		logger: log.WithComponent("session"),
	}
}

// UseIdentity wires the identity-service gateway. Separate from New because
// the gateway needs the manager as its token source.
func (m *Manager) UseIdentity(gw *gateway.Gateway) {
	m.identity = gw
}

// Token implements gateway.TokenSource.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Authenticated reports whether a token is held.
func (m *Manager) Authenticated() bool {
	return m.Token() != ""
}

// CurrentUser returns the fetched profile, nil while unknown.
func (m *Manager) CurrentUser() *domain.UserProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return nil
	}
	u := *m.user
	return &u
}

// Loading is advisory state for callers that render progress; it is not a
// lock.
func (m *Manager) Loading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loading
}

// LastError returns the message recorded by the most recent failed operation.
func (m *Manager) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// OnCleared registers a hook run synchronously whenever the session
// transitions to anonymous. Reserved for the coordinator.
func (m *Manager) OnCleared(fn func(context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared = append(m.cleared, fn)
}

// Restore loads the persisted token and profile. Missing or unreadable data
// leaves the session anonymous; restore never fails.
func (m *Manager) Restore(ctx context.Context) {
	rec, err := m.repo.LoadSession(ctx)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			m.logger.Warn("could not restore session", "error", err)
		}
		return
	}
	m.mu.Lock()
	m.token = rec.AccessToken
	m.user = rec.User
	m.mu.Unlock()
}

// Login exchanges credentials for a token, persists it, and fetches the
// profile. On any failure the whole session is cleared and an auth error is
// returned whose message comes from the server body when available.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	m.begin()
	defer m.endLoading()
	var resp loginResponse
	err := m.identity.Do(ctx, http.MethodPost, "auth/login", loginRequest{Email: email, Password: password}, &resp, fallbackLogin)
	if err != nil {
		m.clearAll(ctx)
		msg := apierr.MessageOf(err)
		m.recordError(msg)
		return apierr.Wrap(apierr.KindAuth, "login", msg, err)
	}
	// The persisted write lands before the in-memory token becomes
	// authoritative.
	if err := m.repo.SaveToken(ctx, resp.AccessToken); err != nil {
		m.clearAll(ctx)
		m.recordError(err.Error())
		return fmt.Errorf("persist token: %w", err)
	}
	m.mu.Lock()
	m.token = resp.AccessToken
	m.mu.Unlock()
	if _, err := m.FetchUser(ctx); err != nil {
		return err
	}
	return nil
}

// FetchUser loads the profile for the held token. A no-op when anonymous. A
// failed fetch is treated as an invalid session: everything is cleared, not
// just the profile.
func (m *Manager) FetchUser(ctx context.Context) (domain.UserProfile, error) {
	if m.Token() == "" {
		return domain.UserProfile{}, nil
	}
	var u domain.UserProfile
	err := m.identity.Do(ctx, http.MethodGet, "users/me", nil, &u, fallbackProfile)
	if err != nil {
		m.clearAll(ctx)
		m.recordError(apierr.MessageOf(err))
		return domain.UserProfile{}, err
	}
	if err := m.repo.SaveUser(ctx, u); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// Session row vanished underneath us: invalidated concurrently.
			return domain.UserProfile{}, nil
		}
		m.recordError(err.Error())
		return domain.UserProfile{}, fmt.Errorf("persist profile: %w", err)
	}
	m.mu.Lock()
	m.user = &u
	m.mu.Unlock()
	return u, nil
}

// Register creates an account. It never mutates session state; there is no
// auto-login.
func (m *Manager) Register(ctx context.Context, username, email, password string) (domain.UserProfile, error) {
	var u domain.UserProfile
	err := m.identity.Do(ctx, http.MethodPost, "auth/register", registerRequest{Username: username, Email: email, Password: password}, &u, fallbackRegister)
	if err != nil {
		m.recordError(apierr.MessageOf(err))
		return domain.UserProfile{}, err
	}
	return u, nil
}

// Logout clears the token, profile, and persisted storage, then runs the
// cleared-hooks. Dependent caches are empty before Logout returns.
func (m *Manager) Logout(ctx context.Context) error {
	persistErr := m.clearAll(ctx)
	if persistErr != nil {
		return fmt.Errorf("clear persisted session: %w", persistErr)
	}
	return nil
}

// HandleAuthFailure is the gateway's invalidation callback.
func (m *Manager) HandleAuthFailure(ctx context.Context) {
	m.logger.Warn("session invalidated by authorization failure")
	_ = m.Logout(ctx)
}

// TokenExpiry peeks at the token's exp claim without verifying the
// signature. Zero when anonymous or when the token carries no expiry.
func (m *Manager) TokenExpiry() time.Time {
	token := m.Token()
	if token == "" {
		return time.Time{}
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// clearAll wipes persisted state first, then memory, then notifies the
// cleared-hooks when this was an actual transition to anonymous.
func (m *Manager) clearAll(ctx context.Context) error {
	persistErr := m.repo.ClearSession(ctx)
	m.mu.Lock()
	had := m.token != "" || m.user != nil
	m.token = ""
	m.user = nil
	hooks := append(([]func(context.Context))(nil), m.cleared...)
	m.mu.Unlock()
	if had {
		for _, fn := range hooks {
			fn(ctx)
		}
	}
	return persistErr
}

func (m *Manager) begin() {
	m.mu.Lock()
	m.loading = true
	m.lastErr = ""
	m.mu.Unlock()
}

func (m *Manager) endLoading() {
	m.mu.Lock()
	m.loading = false
	m.mu.Unlock()
}

func (m *Manager) recordError(msg string) {
	m.mu.Lock()
	m.lastErr = msg
	m.mu.Unlock()
}
