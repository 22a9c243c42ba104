package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sdesani/mcp-server-collection/internal/auth"
	"github.com/sdesani/mcp-server-collection/internal/output"
)

func newAuthCmd(flags *globalFlags) *cobra.Command {
	var ff fhirFlags

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Inspect and manage FHIR OAuth2 tokens",
	}

	cmd.PersistentFlags().StringVar(&ff.TokenURL, "token-url", "", "OAuth2 token endpoint URL")
	cmd.PersistentFlags().StringVar(&ff.ClientID, "client-id", "", "OAuth2 client ID")
	cmd.PersistentFlags().StringVar(&ff.ClientSecret, "client-secret", "", "OAuth2 client secret")
	cmd.PersistentFlags().StringSliceVar(&ff.Scopes, "scope", nil, "OAuth2 scope (repeatable)")

	cmd.AddCommand(newAuthStatusCmd(flags, &ff))
	cmd.AddCommand(newAuthVerifyCmd(flags, &ff))
	cmd.AddCommand(newAuthClearCmd(flags, &ff))

	return cmd
}

// authStatus is the data payload of `auth status`.
type authStatus struct {
	ClientIDConfigured bool   `json:"client_id_configured"`
	SecretConfigured   bool   `json:"client_secret_configured"`
	TokenURL           string `json:"token_url"`
	Keyring            bool   `json:"keyring"`
	TokenCached        bool   `json:"token_cached"`
	TokenExpiresAt     string `json:"token_expires_at,omitempty"`
	TokenExpired       bool   `json:"token_expired,omitempty"`
}

func newAuthStatusCmd(flags *globalFlags, ff *fhirFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show credential and cached token state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags, ff.overrides())
			if err != nil {
				return err
			}

			store := tokenStore(cfg)
			cred := auth.Credential{
				ClientID:     cfg.ClientID,
				ClientSecret: cfg.ClientSecret,
				TokenURL:     cfg.TokenURL,
			}

			status := authStatus{
				ClientIDConfigured: cfg.ClientID != "",
				SecretConfigured:   cfg.ClientSecret != "",
				TokenURL:           cfg.TokenURL,
				Keyring:            store.UsingKeyring(),
			}

			if tok, err := store.Load(cred.Origin()); err == nil && tok != nil {
				status.TokenCached = true
				status.TokenExpiresAt = tok.ExpiresAt.Format(time.RFC3339)
				status.TokenExpired = tok.ExpiresAt.Before(time.Now())
			}

			msg := "No token cached"
			if status.TokenCached && !status.TokenExpired {
				msg = "Token cached and valid"
			} else if status.TokenCached {
				msg = "Token cached but expired"
			}

			return printResult(cmd, output.OK(status, msg))
		},
	}
}

func newAuthVerifyCmd(flags *globalFlags, ff *fhirFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Request a fresh token to verify credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags, ff.overrides())
			if err != nil {
				return err
			}

			manager := newTokenManager(cfg)
			tok, err := manager.Refresh(cmd.Context())
			if err != nil {
				return err
			}

			data := map[string]any{
				"expires_at": tok.ExpiresAt.Format(time.RFC3339),
				"scopes":     tok.Scopes,
			}
			return printResult(cmd, output.OK(data, "Credentials verified; token acquired"))
		},
	}
}

func newAuthClearCmd(flags *globalFlags, ff *fhirFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the cached token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags, ff.overrides())
			if err != nil {
				return err
			}

			cred := auth.Credential{TokenURL: cfg.TokenURL}
			if err := tokenStore(cfg).Delete(cred.Origin()); err != nil {
				return err
			}
			return printResult(cmd, output.OK(nil, "Cached token removed"))
		},
	}
}

func printResult(cmd *cobra.Command, res *output.Result) error {
	s, err := res.JSON()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), s)
	return nil
}
