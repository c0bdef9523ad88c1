package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"spinsync/internal/core"
)

// StorageKey is the key the session blob is persisted under.
const StorageKey = "spotify_session"

// refreshSkew is how close to expiry an access token is refreshed.
const refreshSkew = 30 * time.Second

// Session is the signed-in user and their tokens.
type Session struct {
	User   *core.User      `json:"user,omitempty"`
	Tokens core.AuthTokens `json:"tokens"`
}

// Refresher trades a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, tokens core.AuthTokens) (core.AuthTokens, error)
}

// KV is the persistence the manager needs.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Manager owns the single session. It implements core.TokenProvider.
type Manager struct {
	store     KV
	refresher Refresher
	logger    *zap.Logger
	now       func() time.Time

	mutex   sync.Mutex
	session *Session
}

func NewManager(store KV, refresher Refresher, logger *zap.Logger) *Manager {
	return &Manager{
		store:     store,
		refresher: refresher,
		logger:    logger,
		now:       time.Now,
	}
}

// Load restores the persisted session, if any. A corrupt blob is dropped.
func (m *Manager) Load(ctx context.Context) (*Session, error) {
	data, ok, err := m.store.Get(ctx, StorageKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		m.logger.Warn("Discarding unreadable session", zap.Error(err))
		if err := m.store.Delete(ctx, StorageKey); err != nil {
			return nil, fmt.Errorf("failed to drop session: %w", err)
		}
		return nil, nil
	}

	m.mutex.Lock()
	m.session = &s
	m.mutex.Unlock()

	m.logger.Debug("Restored session", zap.Bool("hasUser", s.User != nil))
	return copySession(&s), nil
}

// Current returns a copy of the in-memory session, or nil when signed out.
func (m *Manager) Current() *Session {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return copySession(m.session)
}

// Login replaces the session and persists it.
func (m *Manager) Login(ctx context.Context, tokens core.AuthTokens, user *core.User) error {
	if tokens.AccessToken == "" {
		return core.NewError(core.KindUnauthenticated, "login", "empty access token")
	}

	s := &Session{User: user, Tokens: tokens}
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if err := m.persist(ctx, s); err != nil {
		return err
	}
	m.session = s
	m.logger.Info("Signed in")
	return nil
}

// UpdateUser attaches the account profile to the current session.
func (m *Manager) UpdateUser(ctx context.Context, user core.User) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.session == nil {
		return core.ErrUnauthenticated
	}
	next := copySession(m.session)
	next.User = &user
	if err := m.persist(ctx, next); err != nil {
		return err
	}
	m.session = next
	return nil
}

// Logout forgets the session in memory and on disk.
func (m *Manager) Logout(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.session = nil
	if err := m.store.Delete(ctx, StorageKey); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	m.logger.Info("Signed out")
	return nil
}

// AccessToken returns a usable bearer token, refreshing it first when it is about to expire.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.session == nil || m.session.Tokens.AccessToken == "" {
		return "", core.ErrUnauthenticated
	}
	if !m.session.Tokens.Expired(m.now(), refreshSkew) {
		return m.session.Tokens.AccessToken, nil
	}

	if m.refresher == nil || m.session.Tokens.RefreshToken == "" {
		return "", core.NewError(core.KindUnauthenticated, "session", "access token expired")
	}

	m.logger.Debug("Refreshing access token", zap.Time("expiresAt", m.session.Tokens.ExpiresAt))
	tokens, err := m.refresher.Refresh(ctx, m.session.Tokens)
	if err != nil {
		if core.KindOf(err) == core.KindTransient {
			return "", err
		}
		return "", &core.Error{Kind: core.KindUnauthenticated, Op: "session", Message: "token refresh failed", Err: err}
	}

	next := copySession(m.session)
	next.Tokens = tokens
	if err := m.persist(ctx, next); err != nil {
		m.logger.Warn("Failed to persist refreshed token", zap.Error(err))
	}
	m.session = next
	return tokens.AccessToken, nil
}

func (m *Manager) persist(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := m.store.Put(ctx, StorageKey, data); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func copySession(s *Session) *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.User != nil {
		u := *s.User
		c.User = &u
	}
	return &c
}
