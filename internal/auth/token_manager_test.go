package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdesani/mcp-server-collection/internal/output"
)

// tokenEndpoint is a fake authorization server counting exchanges.
type tokenEndpoint struct {
	calls    atomic.Int64
	status   int
	body     string
	delay    time.Duration
	lastForm map[string]string
	mu       sync.Mutex
}

func (e *tokenEndpoint) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e.calls.Add(1)
		if e.delay > 0 {
			time.Sleep(e.delay)
		}
		_ = r.ParseForm()
		e.mu.Lock()
		e.lastForm = map[string]string{
			"grant_type":    r.PostFormValue("grant_type"),
			"client_id":     r.PostFormValue("client_id"),
			"client_secret": r.PostFormValue("client_secret"),
			"scope":         r.PostFormValue("scope"),
		}
		e.mu.Unlock()

		status := e.status
		if status == 0 {
			status = http.StatusOK
		}
		body := e.body
		if body == "" {
			body = `{"access_token":"tok-1","token_type":"Bearer","expires_in":3600,"scope":"system/Patient.rs"}`
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func newTestManager(t *testing.T, e *tokenEndpoint, opts ...Option) *Manager {
	t.Helper()
	srv := httptest.NewServer(e.handler())
	t.Cleanup(srv.Close)

	cred := Credential{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenURL:     srv.URL + "/token",
		Scopes:       []string{"system/Patient.rs", "system/Observation.rs"},
	}
	return NewManager(cred, srv.Client(), opts...)
}

func TestTokenFirstCall(t *testing.T) {
	endpoint := &tokenEndpoint{}
	m := newTestManager(t, endpoint)

	tok, err := m.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "tok-1", tok.AccessToken)
	assert.True(t, tok.ExpiresAt.After(time.Now()), "token should not be expired")
	assert.Equal(t, []string{"system/Patient.rs"}, tok.Scopes)
	assert.Equal(t, int64(1), endpoint.calls.Load())

	endpoint.mu.Lock()
	form := endpoint.lastForm
	endpoint.mu.Unlock()
	assert.Equal(t, "client_credentials", form["grant_type"])
	assert.Equal(t, "client-id", form["client_id"])
	assert.Equal(t, "client-secret", form["client_secret"])
	assert.Equal(t, "system/Patient.rs system/Observation.rs", form["scope"])
}

func TestTokenCachedWithinMargin(t *testing.T) {
	endpoint := &tokenEndpoint{}
	m := newTestManager(t, endpoint)

	tok1, err := m.Token(context.Background())
	require.NoError(t, err)

	tok2, err := m.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, tok1.AccessToken, tok2.AccessToken)
	assert.Equal(t, tok1.ExpiresAt, tok2.ExpiresAt)
	assert.Equal(t, int64(1), endpoint.calls.Load(), "second call must not hit the endpoint")
}

func TestTokenRefreshOnExpiry(t *testing.T) {
	endpoint := &tokenEndpoint{}

	now := time.Now()
	clock := &now
	var mu sync.Mutex
	m := newTestManager(t, endpoint, WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return *clock
	}))

	_, err := m.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), endpoint.calls.Load())

	// Advance the clock past expiry minus the margin.
	mu.Lock()
	*clock = now.Add(2 * time.Hour)
	mu.Unlock()

	endpoint.body = `{"access_token":"tok-2","token_type":"Bearer","expires_in":3600}`
	tok, err := m.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "tok-2", tok.AccessToken)
	assert.Equal(t, int64(2), endpoint.calls.Load(), "exactly one refresh call expected")
}

func TestTokenWithinSafetyMarginRefreshes(t *testing.T) {
	endpoint := &tokenEndpoint{}

	now := time.Now()
	clock := &now
	var mu sync.Mutex
	m := newTestManager(t, endpoint,
		WithSafetyMargin(5*time.Minute),
		WithClock(func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return *clock
		}))

	_, err := m.Token(context.Background())
	require.NoError(t, err)

	// 56 minutes in: token still live for 4 more minutes, but inside the margin.
	mu.Lock()
	*clock = now.Add(56 * time.Minute)
	mu.Unlock()

	_, err = m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), endpoint.calls.Load())
}

func TestConcurrentCallersSingleFlight(t *testing.T) {
	endpoint := &tokenEndpoint{delay: 50 * time.Millisecond}
	m := newTestManager(t, endpoint)

	const callers = 16
	tokens := make([]string, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := m.Token(context.Background())
			tokens[i] = tok.AccessToken
			errs[i] = err
		}()
	}
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, tokens[0], tokens[i], "all concurrent callers must observe the same token")
	}
	assert.Equal(t, int64(1), endpoint.calls.Load(), "only one exchange may be in flight")
}

func TestUnauthorizedKeepsCachedToken(t *testing.T) {
	endpoint := &tokenEndpoint{}

	now := time.Now()
	clock := &now
	var mu sync.Mutex
	m := newTestManager(t, endpoint, WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return *clock
	}))

	tok, err := m.Token(context.Background())
	require.NoError(t, err)

	// Expire the cache, then make the endpoint reject the exchange.
	mu.Lock()
	*clock = now.Add(2 * time.Hour)
	mu.Unlock()
	endpoint.status = http.StatusUnauthorized
	endpoint.body = `{"error":"invalid_client"}`

	_, err = m.Token(context.Background())
	require.Error(t, err)
	assert.True(t, output.IsAuth(err), "expected auth_failed, got %v", err)

	// The stale token is still cached, not cleared.
	m.mu.RLock()
	cached := m.token
	m.mu.RUnlock()
	require.NotNil(t, cached)
	assert.Equal(t, tok.AccessToken, cached.AccessToken)
}

func TestMissingExpiresIn(t *testing.T) {
	endpoint := &tokenEndpoint{body: `{"access_token":"tok-1","token_type":"Bearer"}`}
	m := newTestManager(t, endpoint)

	_, err := m.Token(context.Background())
	require.Error(t, err)
	assert.True(t, output.IsAuth(err))
	assert.Contains(t, err.Error(), "expires_in")
}

func TestMissingAccessToken(t *testing.T) {
	endpoint := &tokenEndpoint{body: `{"expires_in":3600}`}
	m := newTestManager(t, endpoint)

	_, err := m.Token(context.Background())
	require.Error(t, err)
	assert.True(t, output.IsAuth(err))
	assert.Contains(t, err.Error(), "access_token")
}

func TestMalformedJSONResponse(t *testing.T) {
	endpoint := &tokenEndpoint{body: `not json`}
	m := newTestManager(t, endpoint)

	_, err := m.Token(context.Background())
	require.Error(t, err)
	assert.True(t, output.IsAuth(err))
}

func TestNetworkErrorDistinctFromAuth(t *testing.T) {
	cred := Credential{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		// Closed port: connection refused.
		TokenURL: "http://127.0.0.1:1/token",
		Scopes:   []string{"system/Patient.rs"},
	}
	m := NewManager(cred, &http.Client{Timeout: time.Second})

	_, err := m.Token(context.Background())
	require.Error(t, err)
	assert.True(t, output.IsNetwork(err), "expected network error, got %v", err)
	assert.False(t, output.IsAuth(err))
}

func TestMissingCredentials(t *testing.T) {
	m := NewManager(Credential{TokenURL: "http://127.0.0.1:1/token"}, nil)

	_, err := m.Token(context.Background())
	require.Error(t, err)
	assert.Equal(t, output.CodeValidation, output.AsError(err).Code)
}

func TestInvalidate(t *testing.T) {
	endpoint := &tokenEndpoint{}
	m := newTestManager(t, endpoint)

	tok, err := m.Token(context.Background())
	require.NoError(t, err)

	// Invalidating with a token that no longer matches is a no-op.
	m.Invalidate("some-other-token")
	_, ok := m.Cached()
	assert.True(t, ok)

	// Invalidating the current token clears the cache; next call re-fetches.
	m.Invalidate(tok.AccessToken)
	_, ok = m.Cached()
	assert.False(t, ok)

	_, err = m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), endpoint.calls.Load())
}

func TestRefreshForcesExchange(t *testing.T) {
	endpoint := &tokenEndpoint{}
	m := newTestManager(t, endpoint)

	_, err := m.Token(context.Background())
	require.NoError(t, err)

	_, err = m.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), endpoint.calls.Load())
}

func TestStoreWarmAndPersist(t *testing.T) {
	endpoint := &tokenEndpoint{}
	srv := httptest.NewServer(endpoint.handler())
	defer srv.Close()

	cred := Credential{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenURL:     srv.URL + "/token",
		Scopes:       []string{"system/Patient.rs"},
	}
	store := &Store{useKeyring: false, fallbackDir: t.TempDir()}

	m := NewManager(cred, srv.Client(), WithStore(store))
	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), endpoint.calls.Load())

	// A second manager with the same store starts warm: no exchange needed.
	m2 := NewManager(cred, srv.Client(), WithStore(store))
	tok2, err := m2.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tok.AccessToken, tok2.AccessToken)
	assert.Equal(t, int64(1), endpoint.calls.Load())
}

func TestCredentialOrigin(t *testing.T) {
	c := Credential{TokenURL: "https://authorization.cerner.com/tenants/abc/token"}
	assert.Equal(t, "https://authorization.cerner.com", c.Origin())

	c = Credential{TokenURL: "not a url"}
	assert.Equal(t, "not a url", c.Origin())
}
