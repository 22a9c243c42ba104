// Package cli wires the MCP servers and auth helpers into a cobra command tree.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sdesani/mcp-server-collection/internal/config"
	"github.com/sdesani/mcp-server-collection/internal/output"
	"github.com/sdesani/mcp-server-collection/internal/version"
)

type globalFlags struct {
	ConfigPath string
	Verbose    int
}

// NewRootCmd creates the root cobra command.
func NewRootCmd() *cobra.Command {
	var flags globalFlags

	cmd := &cobra.Command{
		Use:           "mcp-collection",
		Short:         "MCP servers for healthcare provider and patient data",
		Long: "mcp-collection serves Model Context Protocol tools over stdio:\n" +
			"the public NPPES NPI Registry and an Oracle Cerner FHIR R4 API.",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(flags.Verbose)
		},
	}

	cmd.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "Path to config file (JSON or YAML)")
	cmd.PersistentFlags().CountVarP(&flags.Verbose, "verbose", "v", "Verbose logging (-v for debug)")

	cmd.AddCommand(newNPICmd(&flags))
	cmd.AddCommand(newFHIRCmd(&flags))
	cmd.AddCommand(newAuthCmd(&flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setupLogging routes logs to stderr. Stdout carries the MCP stream and must
// stay clean.
func setupLogging(verbose int) {
	level := slog.LevelWarn
	if verbose > 0 {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

// Execute runs the root command and exits with a code derived from the error.
func Execute() {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		apiErr := output.AsError(err)
		fmt.Fprintln(os.Stderr, "Error: "+apiErr.Message)
		if apiErr.Hint != "" {
			fmt.Fprintln(os.Stderr, "Hint: "+apiErr.Hint)
		}
		os.Exit(apiErr.ExitCode())
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Full())
		},
	}
}

// loadConfig resolves configuration for a command, layering its flag
// overrides on top of env and file values.
func loadConfig(flags *globalFlags, overrides config.FlagOverrides) (*config.Config, error) {
	overrides.ConfigPath = flags.ConfigPath
	return config.Load(overrides)
}
