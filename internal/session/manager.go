package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"SignalRelay/internal/domain/models"
	"SignalRelay/pkg/cache"
	xhttp "SignalRelay/pkg/http"
	applogger "SignalRelay/pkg/logger"
)

// tokenStorageKey is the fixed name the bearer token is persisted under.
const tokenStorageKey = "auth_token"

// ExpiredHandler is notified when the remote rejects the held credential.
type ExpiredHandler func()

// Manager owns the authentication token lifecycle: acquisition via
// login, persistence, attachment to outbound requests, and invalidation
// when the remote rejects it. At most one token is held at a time.
type Manager struct {
	client  *xhttp.Client
	baseURL string
	store   cache.Service
	logger  *applogger.Logger

	mu      sync.RWMutex
	token   string
	user    models.User
	expired map[int]ExpiredHandler
	nextID  int
}

// ManagerOption configures Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *applogger.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a session manager. A token previously persisted in
// the store is restored so a restart does not force a re-login.
func NewManager(client *xhttp.Client, baseURL string, store cache.Service, opts ...ManagerOption) *Manager {
	m := &Manager{
		client:  client,
		baseURL: baseURL,
		store:   store,
		expired: make(map[int]ExpiredHandler),
	}
	for _, opt := range opts {
		opt(m)
	}

	if store != nil {
		var tok string
		if err := store.Get(context.Background(), tokenStorageKey, &tok); err == nil && tok != "" {
			m.token = tok
		}
	}
	return m
}

// Login authenticates against the remote API and persists the returned
// token. A rejected credential yields AuthError(InvalidCredentials); an
// unreachable remote yields AuthError(NetworkFailure).
func (m *Manager) Login(ctx context.Context, username, password string) (*models.User, error) {
	resp, err := m.client.SendRequest(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    m.baseURL + "/api/auth/login",
		Body:   &models.LoginRequest{Username: username, Password: password},
	})
	if err != nil {
		return nil, xhttp.NewAuthError(xhttp.KindNetworkFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, xhttp.NewAuthError(xhttp.KindInvalidCredentials, fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, xhttp.NewAuthError(xhttp.KindNetworkFailure, fmt.Errorf("status %d", resp.StatusCode))
	}

	var env models.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, xhttp.NewAuthError(xhttp.KindNetworkFailure, fmt.Errorf("decode envelope: %w", err))
	}
	if !env.Success {
		return nil, xhttp.NewAuthError(xhttp.KindInvalidCredentials, fmt.Errorf("remote: %s", env.Error))
	}

	var lr models.LoginResponse
	if err := json.Unmarshal(env.Data, &lr); err != nil {
		return nil, xhttp.NewAuthError(xhttp.KindNetworkFailure, fmt.Errorf("decode login data: %w", err))
	}
	if err := xhttp.ValidateStruct(&lr); err != nil {
		return nil, xhttp.NewAuthError(xhttp.KindNetworkFailure, fmt.Errorf("login shape: %w", err))
	}

	m.mu.Lock()
	m.token = lr.Token
	m.user = lr.User
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Set(ctx, tokenStorageKey, lr.Token, 0); err != nil && m.logger != nil {
			m.logger.Warn("token persist failed", applogger.Error(err))
		}
	}

	user := lr.User
	return &user, nil
}

// AttachAuth adds the bearer token to an outbound request when one is
// held; otherwise the request passes through unmodified. Never blocks.
func (m *Manager) AttachAuth(req *http.Request) {
	m.mu.RLock()
	tok := m.token
	m.mu.RUnlock()

	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
}

// Authenticated reports whether a token is currently held.
func (m *Manager) Authenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token != ""
}

// User returns the identity from the last successful login.
func (m *Manager) User() models.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user
}

// Invalidate clears the held token. Idempotent.
func (m *Manager) Invalidate(ctx context.Context) {
	m.mu.Lock()
	m.token = ""
	m.user = models.User{}
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Delete(ctx, tokenStorageKey); err != nil && m.logger != nil {
			m.logger.Warn("token delete failed", applogger.Error(err))
		}
	}
}

// OnAuthFailure is invoked by the REST Gateway when a response indicates
// the credential was rejected. It clears the bad token and notifies
// session-expired observers so the consumer can redirect to re-auth.
func (m *Manager) OnAuthFailure(ctx context.Context) {
	m.Invalidate(ctx)

	m.mu.RLock()
	handlers := make([]ExpiredHandler, 0, len(m.expired))
	for _, h := range m.expired {
		handlers = append(handlers, h)
	}
	m.mu.RUnlock()

	// Notify outside the lock to avoid deadlocks.
	for _, h := range handlers {
		h()
	}
}

// OnSessionExpired registers an observer and returns its unsubscribe
// function. Multiple observers may coexist.
func (m *Manager) OnSessionExpired(h ExpiredHandler) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.expired[id] = h
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.expired, id)
		m.mu.Unlock()
	}
}
