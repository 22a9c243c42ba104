// Package config provides layered configuration loading.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults mirroring the hosted sandbox endpoints.
const (
	DefaultFHIRBaseURL = "https://fhir-ehr.cerner.com/r4"
	DefaultTenantID    = "ec2458f2-1e24-41c8-b71b-0e701af7583d"
	DefaultTokenURL    = "https://authorization.cerner.com/tenants/ec2458f2-1e24-41c8-b71b-0e701af7583d/hosts/fhir-ehr.cerner.com/protocols/oauth2/profiles/smart-v1/token"
	DefaultNPIBaseURL  = "https://npiregistry.cms.hhs.gov/api/"

	// DefaultSafetyMarginSeconds is how long before actual expiry a cached
	// bearer token is treated as stale and refreshed.
	DefaultSafetyMarginSeconds = 300
)

// DefaultScopes is the fixed scope set requested on every token exchange.
var DefaultScopes = []string{
	"system/Patient.rs",
	"system/Observation.rs",
	"system/Condition.rs",
	"system/MedicationRequest.rs",
}

// Config holds the resolved configuration.
type Config struct {
	// FHIR settings
	FHIRBaseURL  string   `json:"fhir_base_url"`
	TenantID     string   `json:"tenant_id"`
	TokenURL     string   `json:"token_url"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"-"`
	Scopes       []string `json:"scopes"`

	// NPI settings
	NPIBaseURL string `json:"npi_base_url"`

	// Token cache settings
	SafetyMarginSeconds int  `json:"safety_margin_seconds"`
	NoKeyring           bool `json:"no_keyring"`

	// Sources tracks where each value came from (for debugging).
	// Secret values are never recorded here, only their origin.
	Sources map[string]string `json:"-"`
}

// Source indicates where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceFile    Source = "file"
	SourceEnv     Source = "env"
	SourceFlag    Source = "flag"
)

// FlagOverrides holds command-line flag values.
type FlagOverrides struct {
	ConfigPath   string
	FHIRBaseURL  string
	TenantID     string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	NPIBaseURL   string
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		FHIRBaseURL:         DefaultFHIRBaseURL,
		TenantID:            DefaultTenantID,
		TokenURL:            DefaultTokenURL,
		Scopes:              append([]string(nil), DefaultScopes...),
		NPIBaseURL:          DefaultNPIBaseURL,
		SafetyMarginSeconds: DefaultSafetyMarginSeconds,
		Sources:             make(map[string]string),
	}
}

// Load loads configuration from all sources with proper precedence.
// Precedence: flags > env > file > defaults.
func Load(overrides FlagOverrides) (*Config, error) {
	cfg := Default()

	path := overrides.ConfigPath
	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, err
		}
	}

	LoadFromEnv(cfg)
	ApplyOverrides(cfg, overrides)

	return cfg, nil
}

// findConfigFile returns the first global config file that exists.
func findConfigFile() string {
	dir := GlobalConfigDir()
	for _, name := range []string{"config.json", "config.yaml", "config.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path is from trusted config locations
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}

	var fileCfg map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fileCfg)
	default:
		err = json.Unmarshal(data, &fileCfg)
	}
	if err != nil {
		return fmt.Errorf("malformed config at %s: %w", path, err)
	}

	setString := func(key string, dst *string) {
		if v, ok := fileCfg[key].(string); ok && v != "" {
			*dst = v
			cfg.Sources[key] = string(SourceFile)
		}
	}

	setString("fhir_base_url", &cfg.FHIRBaseURL)
	setString("tenant_id", &cfg.TenantID)
	setString("token_url", &cfg.TokenURL)
	setString("client_id", &cfg.ClientID)
	setString("client_secret", &cfg.ClientSecret)
	setString("npi_base_url", &cfg.NPIBaseURL)

	if scopes := toStringSlice(fileCfg["scopes"]); len(scopes) > 0 {
		cfg.Scopes = scopes
		cfg.Sources["scopes"] = string(SourceFile)
	}
	if v, ok := toInt(fileCfg["safety_margin_seconds"]); ok && v > 0 {
		cfg.SafetyMarginSeconds = v
		cfg.Sources["safety_margin_seconds"] = string(SourceFile)
	}
	if v, ok := fileCfg["no_keyring"].(bool); ok {
		cfg.NoKeyring = v
		cfg.Sources["no_keyring"] = string(SourceFile)
	}

	return nil
}

// toStringSlice extracts a string slice from a decoded JSON/YAML value.
func toStringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok || s == "" {
			return nil
		}
		out = append(out, s)
	}
	return out
}

// toInt extracts an int from a decoded JSON (float64) or YAML (int) value.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	case int:
		return n, true
	}
	return 0, false
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv(cfg *Config) {
	setEnv := func(name, key string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
			cfg.Sources[key] = string(SourceEnv)
		}
	}

	setEnv("FHIR_BASE_URL", "fhir_base_url", &cfg.FHIRBaseURL)
	setEnv("FHIR_TENANT_ID", "tenant_id", &cfg.TenantID)
	setEnv("FHIR_TOKEN_URL", "token_url", &cfg.TokenURL)
	setEnv("FHIR_CLIENT_ID", "client_id", &cfg.ClientID)
	setEnv("FHIR_CLIENT_SECRET", "client_secret", &cfg.ClientSecret)
	setEnv("NPI_BASE_URL", "npi_base_url", &cfg.NPIBaseURL)

	if v := os.Getenv("FHIR_SCOPE"); v != "" {
		if scopes := strings.Fields(v); len(scopes) > 0 {
			cfg.Scopes = scopes
			cfg.Sources["scopes"] = string(SourceEnv)
		}
	}
	if v := os.Getenv("MCP_NO_KEYRING"); v != "" {
		cfg.NoKeyring = true
		cfg.Sources["no_keyring"] = string(SourceEnv)
	}
}

// ApplyOverrides applies non-empty flag overrides to cfg.
func ApplyOverrides(cfg *Config, o FlagOverrides) {
	if o.FHIRBaseURL != "" {
		cfg.FHIRBaseURL = o.FHIRBaseURL
		cfg.Sources["fhir_base_url"] = string(SourceFlag)
	}
	if o.TenantID != "" {
		cfg.TenantID = o.TenantID
		cfg.Sources["tenant_id"] = string(SourceFlag)
	}
	if o.TokenURL != "" {
		cfg.TokenURL = o.TokenURL
		cfg.Sources["token_url"] = string(SourceFlag)
	}
	if o.ClientID != "" {
		cfg.ClientID = o.ClientID
		cfg.Sources["client_id"] = string(SourceFlag)
	}
	if o.ClientSecret != "" {
		cfg.ClientSecret = o.ClientSecret
		cfg.Sources["client_secret"] = string(SourceFlag)
	}
	if len(o.Scopes) > 0 {
		cfg.Scopes = o.Scopes
		cfg.Sources["scopes"] = string(SourceFlag)
	}
	if o.NPIBaseURL != "" {
		cfg.NPIBaseURL = o.NPIBaseURL
		cfg.Sources["npi_base_url"] = string(SourceFlag)
	}
}

// GlobalConfigDir returns the global config directory path.
func GlobalConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "mcp-collection")
}

// NormalizeBaseURL ensures consistent URL format (no trailing slash).
func NormalizeBaseURL(url string) string {
	return strings.TrimSuffix(url, "/")
}
