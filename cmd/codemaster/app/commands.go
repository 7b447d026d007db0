// Package app provides the entry point for the codemaster command-line
// application.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/codemaster-ai/codemaster/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "codemaster",
	DisableAutoGenTag: true,
	Short:             "Codemaster is a streamable HTTP gateway for agentic coding workflows",
	Long: `Codemaster exposes the codemaster workflow tool over the MCP Streamable HTTP
transport. Clients establish a session on first contact, drive the workflow
through tool calls on POST /mcp, and receive server-initiated frames on a
resumable GET event stream.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
}

// NewRootCmd creates a new root command for the Codemaster CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Failed to bind debug flag: %v", err)
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}
