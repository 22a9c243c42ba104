// Package auth provides OAuth2 client-credentials token management.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sdesani/mcp-server-collection/internal/output"
)

// maxErrorBodyBytes caps how much of an upstream error body is echoed in messages.
const maxErrorBodyBytes = 512

// Credential holds the client identity used for the client-credentials grant.
// It is supplied once at construction and never mutated.
type Credential struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// Origin returns the scheme://host portion of the token endpoint,
// used as the key for persisted tokens.
func (c Credential) Origin() string {
	u, err := url.Parse(c.TokenURL)
	if err != nil || u.Host == "" {
		return c.TokenURL
	}
	return u.Scheme + "://" + u.Host
}

// Token is a cached bearer token.
type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	Scopes      []string  `json:"scopes,omitempty"`
}

// Manager supplies valid bearer tokens, fetching or refreshing on demand.
// It is safe for concurrent use; at most one refresh is in flight at a time.
type Manager struct {
	cred       Credential
	httpClient *http.Client
	store      *Store
	margin     time.Duration
	now        func() time.Time

	mu    sync.RWMutex
	token *Token
}

// Option is a functional option for configuring Manager.
type Option func(*Manager)

// WithSafetyMargin sets the window before actual expiry in which the
// cached token is treated as stale.
func WithSafetyMargin(d time.Duration) Option {
	return func(m *Manager) { m.margin = d }
}

// WithStore enables persisting tokens across process restarts.
func WithStore(s *Store) Option {
	return func(m *Manager) { m.store = s }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a token manager for the given credential.
// If a store is configured, the in-memory cache is warmed from it;
// an expired or unreadable stored token is ignored.
func NewManager(cred Credential, httpClient *http.Client, opts ...Option) *Manager {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	m := &Manager{
		cred:       cred,
		httpClient: httpClient,
		margin:     5 * time.Minute,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.store != nil {
		if tok, err := m.store.Load(cred.Origin()); err == nil && m.tokenUsable(tok) {
			m.token = tok
		}
	}

	return m
}

// Token returns a valid bearer token, performing a client-credentials
// exchange when the cache is empty or within the safety margin of expiry.
//
// Failures are never retried here: an AuthenticationError (auth_failed)
// means the credentials or the token endpoint response were bad, and a
// NetworkError (network) means the endpoint was unreachable. The caller
// decides retry policy. A failed exchange leaves any previously cached
// token in place.
func (m *Manager) Token(ctx context.Context) (Token, error) {
	// Fast path: valid cached token under read lock.
	m.mu.RLock()
	if m.tokenUsable(m.token) {
		tok := *m.token
		m.mu.RUnlock()
		return tok, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check: another caller may have refreshed while we waited.
	if m.tokenUsable(m.token) {
		return *m.token, nil
	}

	return m.refreshLocked(ctx)
}

// Invalidate forces a refresh on the next Token call if the cached token
// still matches stale. An upstream 401 on a request that carried stale
// calls this; if another caller already replaced the token, the newer
// token is kept and no extra exchange happens.
func (m *Manager) Invalidate(stale string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != nil && m.token.AccessToken == stale {
		m.token = nil
	}
}

// Refresh discards the cache and performs an exchange unconditionally.
// Used by auth verify to validate configured credentials.
func (m *Manager) Refresh(ctx context.Context) (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshLocked(ctx)
}

// Cached returns the cached token without triggering an exchange.
// The second return is false when no usable token is cached.
func (m *Manager) Cached() (Token, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.tokenUsable(m.token) {
		return Token{}, false
	}
	return *m.token, true
}

// tokenUsable reports whether tok is more than the safety margin from expiry.
// Callers must hold at least the read lock when tok aliases m.token.
func (m *Manager) tokenUsable(tok *Token) bool {
	if tok == nil || tok.AccessToken == "" {
		return false
	}
	return tok.ExpiresAt.After(m.now().Add(m.margin))
}

// refreshLocked performs the client-credentials exchange. Caller holds the
// write lock. On failure the previously cached token is left untouched.
func (m *Manager) refreshLocked(ctx context.Context) (Token, error) {
	if m.cred.ClientID == "" || m.cred.ClientSecret == "" {
		return Token{}, output.ErrValidationHint(
			"FHIR client credentials not configured",
			"Set --client-id and --client-secret or FHIR_CLIENT_ID / FHIR_CLIENT_SECRET",
		)
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", m.cred.ClientID)
	form.Set("client_secret", m.cred.ClientSecret)
	form.Set("scope", strings.Join(m.cred.Scopes, " "))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cred.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return Token{}, output.ErrNetwork(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return Token{}, output.ErrAuth(
			fmt.Sprintf("Token request failed: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
		Scope       string `json:"scope"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return Token{}, output.ErrAuthCause("Malformed token response", err)
	}
	if tokenResp.AccessToken == "" {
		return Token{}, output.ErrAuth("Malformed token response: missing access_token")
	}
	if tokenResp.ExpiresIn <= 0 {
		return Token{}, output.ErrAuth("Malformed token response: missing expires_in")
	}

	scopes := strings.Fields(tokenResp.Scope)
	if len(scopes) == 0 {
		scopes = m.cred.Scopes
	}

	tok := &Token{
		AccessToken: tokenResp.AccessToken,
		ExpiresAt:   m.now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second),
		Scopes:      scopes,
	}
	m.token = tok

	if m.store != nil {
		_ = m.store.Save(m.cred.Origin(), tok) // Best-effort persistence
	}

	return *tok, nil
}
