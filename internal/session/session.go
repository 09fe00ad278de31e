// Package session owns the bearer token of the signed-in employee. It
// never re-authenticates; an auth failure anywhere ends the session and
// tells every registered collaborator to drop its state.
package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/nhle/hrnotify/internal/credential"
	"github.com/nhle/hrnotify/internal/hrms"
)

const tokenKey = "session-token"

var (
	// ErrInvalidToken rejects tokens that are not parseable JWTs.
	ErrInvalidToken = errors.New("session: invalid token")
	// ErrExpired rejects tokens whose exp claim has passed.
	ErrExpired = errors.New("session: token expired")
	// ErrLoggedOut is passed to invalidation hooks on an explicit logout.
	ErrLoggedOut = errors.New("session: logged out")
)

// Secrets persists the token between runs. credential.Vault implements it.
type Secrets interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// Claims are the fields read from the token. The signature is not
// checked; the backend does that on every call.
type Claims struct {
	EmployeeID int64
	Subject    string
	ExpiresAt  time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithNow replaces the time source used for expiry checks.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager holds the current token and fans out invalidation.
type Manager struct {
	secrets Secrets
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.RWMutex
	token  string
	claims Claims

	hookMu sync.Mutex
	hooks  []func(reason error)
}

// New creates a signed-out Manager.
func New(secrets Secrets, opts ...Option) *Manager {
	m := &Manager{
		secrets: secrets,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnInvalidate registers fn to run whenever the session ends.
func (m *Manager) OnInvalidate(fn func(reason error)) {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.hooks = append(m.hooks, fn)
}

// Restore loads a previously saved token. A missing or expired token
// leaves the manager signed out without error.
func (m *Manager) Restore() (bool, error) {
	token, err := m.secrets.Get(tokenKey)
	if errors.Is(err, credential.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	claims, err := m.parse(token)
	if err != nil {
		m.logger.Info("discarding saved token", zap.Error(err))
		_ = m.secrets.Delete(tokenKey)
		return false, nil
	}

	m.mu.Lock()
	m.token = token
	m.claims = claims
	m.mu.Unlock()
	return true, nil
}

// Login validates and stores token.
func (m *Manager) Login(token string) (Claims, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	claims, err := m.parse(token)
	if err != nil {
		return Claims{}, err
	}

	// Any previous session ends first, expired or not, so state scoped to
	// it is dropped before the new account is visible.
	if m.Held() {
		if err := m.end(ErrLoggedOut); err != nil {
			m.logger.Warn("removing previous token", zap.Error(err))
		}
	}

	if err := m.secrets.Set(tokenKey, token); err != nil {
		return Claims{}, fmt.Errorf("saving session token: %w", err)
	}

	m.mu.Lock()
	m.token = token
	m.claims = claims
	m.mu.Unlock()

	m.logger.Info("signed in", zap.Int64("employee_id", claims.EmployeeID))
	return claims, nil
}

// Logout ends the session explicitly.
func (m *Manager) Logout() error {
	return m.end(ErrLoggedOut)
}

// Invalidate ends the session because of reason, typically an AuthError.
func (m *Manager) Invalidate(reason error) {
	if err := m.end(reason); err != nil {
		m.logger.Warn("removing saved token", zap.Error(err))
	}
}

// Check ends the session when err is an AuthError and returns err as-is.
// A token that already expired locally still counts as a session to end.
func (m *Manager) Check(err error) error {
	if err != nil && hrms.IsAuthError(err) && m.Held() {
		m.Invalidate(err)
	}
	return err
}

func (m *Manager) end(reason error) error {
	m.mu.Lock()
	had := m.token != ""
	m.token = ""
	m.claims = Claims{}
	m.mu.Unlock()

	err := m.secrets.Delete(tokenKey)

	if had {
		m.logger.Info("session ended", zap.Error(reason))
		m.hookMu.Lock()
		hooks := append([]func(error){}, m.hooks...)
		m.hookMu.Unlock()
		for _, fn := range hooks {
			fn(reason)
		}
	}
	return err
}

// Token returns the bearer token, or "" when signed out or expired.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token == "" || m.expiredLocked() {
		return ""
	}
	return m.token
}

// Held reports whether a token is stored, even one past its exp claim.
func (m *Manager) Held() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token != ""
}

// Expired reports whether a token is held but its exp claim has passed.
func (m *Manager) Expired() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token != "" && m.expiredLocked()
}

// Authenticated reports whether a non-expired token is held.
func (m *Manager) Authenticated() bool {
	return m.Token() != ""
}

// Claims returns the claims of the current token.
func (m *Manager) Claims() Claims {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.claims
}

// EmployeeID returns the signed-in employee, or 0.
func (m *Manager) EmployeeID() int64 {
	return m.Claims().EmployeeID
}

// Account is the key scoping local state to the signed-in employee.
func (m *Manager) Account() string {
	c := m.Claims()
	if c.EmployeeID != 0 {
		return strconv.FormatInt(c.EmployeeID, 10)
	}
	return c.Subject
}

func (m *Manager) expiredLocked() bool {
	return !m.claims.ExpiresAt.IsZero() && !m.now().Before(m.claims.ExpiresAt)
}

func (m *Manager) parse(token string) (Claims, error) {
	if token == "" {
		return Claims{}, ErrInvalidToken
	}

	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, mc); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var claims Claims
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	claims.Subject, _ = mc.GetSubject()
	claims.EmployeeID = employeeID(mc)

	if !claims.ExpiresAt.IsZero() && !m.now().Before(claims.ExpiresAt) {
		return Claims{}, ErrExpired
	}
	return claims, nil
}

// employeeID reads empId, falling back to a numeric subject.
func employeeID(mc jwt.MapClaims) int64 {
	switch v := mc["empId"].(type) {
	case float64:
		return int64(v)
	case string:
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			return id
		}
	}
	if sub, err := mc.GetSubject(); err == nil {
		if id, err := strconv.ParseInt(sub, 10, 64); err == nil {
			return id
		}
	}
	return 0
}
