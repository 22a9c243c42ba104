package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets all config env vars for the duration of a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"FHIR_BASE_URL", "FHIR_TENANT_ID", "FHIR_TOKEN_URL",
		"FHIR_CLIENT_ID", "FHIR_CLIENT_SECRET", "FHIR_SCOPE",
		"NPI_BASE_URL", "MCP_NO_KEYRING", "XDG_CONFIG_HOME",
	} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DefaultFHIRBaseURL, cfg.FHIRBaseURL)
	assert.Equal(t, DefaultTenantID, cfg.TenantID)
	assert.Equal(t, DefaultTokenURL, cfg.TokenURL)
	assert.Equal(t, DefaultNPIBaseURL, cfg.NPIBaseURL)
	assert.Equal(t, DefaultScopes, cfg.Scopes)
	assert.Equal(t, DefaultSafetyMarginSeconds, cfg.SafetyMarginSeconds)
	assert.Empty(t, cfg.ClientID)
	assert.Empty(t, cfg.ClientSecret)
}

func TestLoadPrecedence(t *testing.T) {
	clearEnv(t)
	tmpDir := t.TempDir()

	cfgPath := filepath.Join(tmpDir, "config.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{
		"fhir_base_url": "https://file.example.com/r4",
		"tenant_id": "file-tenant",
		"client_id": "file-client"
	}`), 0600))

	t.Setenv("FHIR_TENANT_ID", "env-tenant")

	cfg, err := Load(FlagOverrides{
		ConfigPath: cfgPath,
		ClientID:   "flag-client",
	})
	require.NoError(t, err)

	// File value survives when nothing overrides it.
	assert.Equal(t, "https://file.example.com/r4", cfg.FHIRBaseURL)
	assert.Equal(t, string(SourceFile), cfg.Sources["fhir_base_url"])

	// Env beats file.
	assert.Equal(t, "env-tenant", cfg.TenantID)
	assert.Equal(t, string(SourceEnv), cfg.Sources["tenant_id"])

	// Flag beats both.
	assert.Equal(t, "flag-client", cfg.ClientID)
	assert.Equal(t, string(SourceFlag), cfg.Sources["client_id"])
}

func TestLoadYAMLConfig(t *testing.T) {
	clearEnv(t)
	tmpDir := t.TempDir()

	cfgPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
fhir_base_url: https://yaml.example.com/r4
scopes:
  - system/Patient.rs
  - system/Observation.rs
safety_margin_seconds: 60
no_keyring: true
`), 0600))

	cfg, err := Load(FlagOverrides{ConfigPath: cfgPath})
	require.NoError(t, err)

	assert.Equal(t, "https://yaml.example.com/r4", cfg.FHIRBaseURL)
	assert.Equal(t, []string{"system/Patient.rs", "system/Observation.rs"}, cfg.Scopes)
	assert.Equal(t, 60, cfg.SafetyMarginSeconds)
	assert.True(t, cfg.NoKeyring)
}

func TestLoadMalformedConfig(t *testing.T) {
	clearEnv(t)
	tmpDir := t.TempDir()

	cfgPath := filepath.Join(tmpDir, "config.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{not json`), 0600))

	_, err := Load(FlagOverrides{ConfigPath: cfgPath})
	assert.Error(t, err)
}

func TestLoadMissingExplicitConfig(t *testing.T) {
	clearEnv(t)

	_, err := Load(FlagOverrides{ConfigPath: "/nonexistent/config.json"})
	assert.Error(t, err)
}

func TestLoadFromEnvScopes(t *testing.T) {
	clearEnv(t)
	t.Setenv("FHIR_SCOPE", "system/Patient.rs system/Condition.rs")

	cfg := Default()
	LoadFromEnv(cfg)

	assert.Equal(t, []string{"system/Patient.rs", "system/Condition.rs"}, cfg.Scopes)
	assert.Equal(t, string(SourceEnv), cfg.Sources["scopes"])
}

func TestFindConfigFile(t *testing.T) {
	clearEnv(t)
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	// No file: defaults only.
	cfg, err := Load(FlagOverrides{})
	require.NoError(t, err)
	assert.Equal(t, DefaultFHIRBaseURL, cfg.FHIRBaseURL)

	// Global YAML config is picked up.
	dir := filepath.Join(tmpDir, "mcp-collection")
	require.NoError(t, os.MkdirAll(dir, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"),
		[]byte("tenant_id: global-tenant\n"), 0600))

	cfg, err = Load(FlagOverrides{})
	require.NoError(t, err)
	assert.Equal(t, "global-tenant", cfg.TenantID)
}

func TestNormalizeBaseURL(t *testing.T) {
	assert.Equal(t, "https://example.com", NormalizeBaseURL("https://example.com/"))
	assert.Equal(t, "https://example.com", NormalizeBaseURL("https://example.com"))
}

func TestSecretNotSerialized(t *testing.T) {
	cfg := Default()
	cfg.ClientSecret = "super-secret"

	// The json tag on ClientSecret is "-" so a marshaled Config never leaks it.
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "super-secret")
}
