package cli

import (
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/sdesani/mcp-server-collection/internal/api"
	"github.com/sdesani/mcp-server-collection/internal/auth"
	"github.com/sdesani/mcp-server-collection/internal/config"
	"github.com/sdesani/mcp-server-collection/internal/fhir"
	"github.com/sdesani/mcp-server-collection/internal/tools"
)

// fhirAccept asks Cerner for FHIR-flavored JSON.
const fhirAccept = "application/fhir+json"

type fhirFlags struct {
	BaseURL      string
	TenantID     string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

func (f fhirFlags) overrides() config.FlagOverrides {
	return config.FlagOverrides{
		FHIRBaseURL:  f.BaseURL,
		TenantID:     f.TenantID,
		TokenURL:     f.TokenURL,
		ClientID:     f.ClientID,
		ClientSecret: f.ClientSecret,
		Scopes:       f.Scopes,
	}
}

func newFHIRCmd(flags *globalFlags) *cobra.Command {
	var ff fhirFlags

	cmd := &cobra.Command{
		Use:   "fhir",
		Short: "Serve the Cerner FHIR R4 tools over stdio",
		Long: "Starts an MCP server on stdin/stdout exposing patient and clinical " +
			"data tools backed by an Oracle Cerner FHIR R4 API. Requires OAuth2 " +
			"client credentials (system account).",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags, ff.overrides())
			if err != nil {
				return err
			}

			manager := newTokenManager(cfg)
			httpClient := api.New(api.Options{
				Tokens: manager,
				Accept: fhirAccept,
				Logger: slog.Default(),
			})
			client := fhir.NewClient(cfg.FHIRBaseURL, cfg.TenantID, httpClient)

			slog.Debug("starting FHIR MCP server",
				"base_url", cfg.FHIRBaseURL,
				"tenant_id", cfg.TenantID,
				"keyring", tokenStore(cfg).UsingKeyring(),
			)
			return server.ServeStdio(tools.NewFHIRServer(client))
		},
	}

	addFHIRFlags(cmd, &ff)

	return cmd
}

func addFHIRFlags(cmd *cobra.Command, ff *fhirFlags) {
	cmd.Flags().StringVar(&ff.BaseURL, "base-url", "", "FHIR API base URL")
	cmd.Flags().StringVar(&ff.TenantID, "tenant-id", "", "Cerner tenant ID")
	cmd.Flags().StringVar(&ff.TokenURL, "token-url", "", "OAuth2 token endpoint URL")
	cmd.Flags().StringVar(&ff.ClientID, "client-id", "", "OAuth2 client ID")
	cmd.Flags().StringVar(&ff.ClientSecret, "client-secret", "", "OAuth2 client secret")
	cmd.Flags().StringSliceVar(&ff.Scopes, "scope", nil, "OAuth2 scope (repeatable)")
}

// tokenStore builds the persistent token store from config.
func tokenStore(cfg *config.Config) *auth.Store {
	return auth.NewStore(config.GlobalConfigDir(), cfg.NoKeyring)
}

// newTokenManager builds the OAuth2 token manager from config.
func newTokenManager(cfg *config.Config) *auth.Manager {
	cred := auth.Credential{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	return auth.NewManager(cred, nil,
		auth.WithSafetyMargin(time.Duration(cfg.SafetyMarginSeconds)*time.Second),
		auth.WithStore(tokenStore(cfg)),
	)
}
