package cli

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/sdesani/mcp-server-collection/internal/api"
	"github.com/sdesani/mcp-server-collection/internal/config"
	"github.com/sdesani/mcp-server-collection/internal/npi"
	"github.com/sdesani/mcp-server-collection/internal/tools"
)

func newNPICmd(flags *globalFlags) *cobra.Command {
	var baseURL string

	cmd := &cobra.Command{
		Use:   "npi",
		Short: "Serve the NPI Registry tools over stdio",
		Long: "Starts an MCP server on stdin/stdout exposing NPPES NPI Registry " +
			"search tools. The registry is public; no credentials are needed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags, config.FlagOverrides{NPIBaseURL: baseURL})
			if err != nil {
				return err
			}

			httpClient := api.New(api.Options{Logger: slog.Default()})
			client := npi.NewClient(cfg.NPIBaseURL, httpClient)

			slog.Debug("starting NPI MCP server", "base_url", cfg.NPIBaseURL)
			return server.ServeStdio(tools.NewNPIServer(client))
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "", "NPI Registry API base URL")

	return cmd
}
