package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStoreDisabled(t *testing.T) {
	store := NewStore(t.TempDir(), true)
	assert.False(t, store.UsingKeyring())
}

func TestNewStoreEnvDisabled(t *testing.T) {
	t.Setenv("MCP_NO_KEYRING", "1")
	store := NewStore(t.TempDir(), false)
	assert.False(t, store.UsingKeyring())
}

func TestStoreFileRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	store := &Store{useKeyring: false, fallbackDir: tmpDir}

	origin := "https://authorization.example.com"
	tok := &Token{
		AccessToken: "test-token",
		ExpiresAt:   time.Now().Add(time.Hour).Truncate(time.Second),
		Scopes:      []string{"system/Patient.rs"},
	}

	require.NoError(t, store.Save(origin, tok))

	// File created with restrictive permissions.
	info, err := os.Stat(filepath.Join(tmpDir, "tokens.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := store.Load(origin)
	require.NoError(t, err)
	assert.Equal(t, tok.AccessToken, loaded.AccessToken)
	assert.True(t, tok.ExpiresAt.Equal(loaded.ExpiresAt))
	assert.Equal(t, tok.Scopes, loaded.Scopes)
}

func TestStoreMultipleOrigins(t *testing.T) {
	store := &Store{useKeyring: false, fallbackDir: t.TempDir()}

	require.NoError(t, store.Save("https://a.example.com", &Token{AccessToken: "tok-a", ExpiresAt: time.Now().Add(time.Hour)}))
	require.NoError(t, store.Save("https://b.example.com", &Token{AccessToken: "tok-b", ExpiresAt: time.Now().Add(time.Hour)}))

	a, err := store.Load("https://a.example.com")
	require.NoError(t, err)
	assert.Equal(t, "tok-a", a.AccessToken)

	b, err := store.Load("https://b.example.com")
	require.NoError(t, err)
	assert.Equal(t, "tok-b", b.AccessToken)
}

func TestStoreDelete(t *testing.T) {
	store := &Store{useKeyring: false, fallbackDir: t.TempDir()}

	origin := "https://delete.example.com"
	require.NoError(t, store.Save(origin, &Token{AccessToken: "gone", ExpiresAt: time.Now().Add(time.Hour)}))
	require.NoError(t, store.Delete(origin))

	_, err := store.Load(origin)
	assert.Error(t, err)
}

func TestStoreLoadMissing(t *testing.T) {
	store := &Store{useKeyring: false, fallbackDir: t.TempDir()}

	_, err := store.Load("https://nonexistent.example.com")
	assert.Error(t, err)
}

func TestKeyFunction(t *testing.T) {
	assert.Equal(t, "mcp-collection::https://authorization.cerner.com",
		key("https://authorization.cerner.com"))
}
