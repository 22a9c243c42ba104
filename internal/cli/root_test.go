package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdesani/mcp-server-collection/internal/version"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

func TestRootHasServeCommands(t *testing.T) {
	cmd := NewRootCmd()

	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	for _, want := range []string{"npi", "fhir", "auth", "version"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "mcp-collection version")
	assert.Contains(t, out, version.Version)
}

func TestUnknownCommandFails(t *testing.T) {
	_, err := runCommand(t, "does-not-exist")
	require.Error(t, err)
}

func TestAuthStatusNoCredentials(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("MCP_NO_KEYRING", "1")
	t.Setenv("FHIR_CLIENT_ID", "")
	t.Setenv("FHIR_CLIENT_SECRET", "")

	out, err := runCommand(t, "auth", "status")
	require.NoError(t, err)

	var env struct {
		Success bool `json:"success"`
		Data    struct {
			ClientIDConfigured bool `json:"client_id_configured"`
			SecretConfigured   bool `json:"client_secret_configured"`
			Keyring            bool `json:"keyring"`
			TokenCached        bool `json:"token_cached"`
		} `json:"data"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &env))

	assert.True(t, env.Success)
	assert.False(t, env.Data.ClientIDConfigured)
	assert.False(t, env.Data.SecretConfigured)
	assert.False(t, env.Data.Keyring)
	assert.False(t, env.Data.TokenCached)
	assert.Equal(t, "No token cached", env.Message)
}

func TestAuthClear(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("MCP_NO_KEYRING", "1")

	out, err := runCommand(t, "auth", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Cached token removed")
}

func TestAuthVerifyMissingCredentialsFails(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("MCP_NO_KEYRING", "1")
	t.Setenv("FHIR_CLIENT_ID", "")
	t.Setenv("FHIR_CLIENT_SECRET", "")

	_, err := runCommand(t, "auth", "verify")
	require.Error(t, err)
}
